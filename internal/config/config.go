package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Credentials for the two external collaborators. Scoped to one batch
// run: the coordinator receives a Config at run start and never reads
// shared global state.
type Credentials struct {
	AssemblyAIKey string `envconfig:"ASSEMBLYAI_API_KEY"`
	LLMGatewayURL string `envconfig:"LLM_GATEWAY_URL"`
	LLMAPIKey     string `envconfig:"LLM_API_KEY"`
	LLMModel      string `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
}

// Attribution knobs for the speaker-attribution window.
type Attribution struct {
	WindowUtterances int   `envconfig:"ATTRIBUTION_WINDOW_UTTERANCES" default:"8" validate:"min=1"`
	WindowMS         int64 `envconfig:"ATTRIBUTION_WINDOW_MS" default:"120000" validate:"min=1000"`
}

// Weights are the classification rubric's sub-score weights. They must
// sum to 100 so the score lands on the 0-100 scale.
type Weights struct {
	Sentiment         float64 `envconfig:"WEIGHT_SENTIMENT" default:"30" validate:"min=0"`
	Conversion        float64 `envconfig:"WEIGHT_CONVERSION" default:"35" validate:"min=0"`
	Recommendations   float64 `envconfig:"WEIGHT_RECOMMENDATIONS" default:"15" validate:"min=0"`
	ObjectionHandling float64 `envconfig:"WEIGHT_OBJECTIONS" default:"20" validate:"min=0"`
}

func (w Weights) Total() float64 {
	return w.Sentiment + w.Conversion + w.Recommendations + w.ObjectionHandling
}

// Aggregation holds the vendor-rollup policy values.
type Aggregation struct {
	TopK                       int     `envconfig:"AGG_TOP_K" default:"5" validate:"min=1"`
	PositiveSentimentThreshold float64 `envconfig:"AGG_POSITIVE_SENTIMENT_THRESHOLD" default:"0.25" validate:"gte=-1,lte=1"`
	LowConversionRate          float64 `envconfig:"AGG_LOW_CONVERSION_RATE" default:"0.2" validate:"gte=0,lte=1"`
	LowPositiveSentimentRate   float64 `envconfig:"AGG_LOW_POSITIVE_SENTIMENT_RATE" default:"0.6" validate:"gte=0,lte=1"`
	LowQualityShare            float64 `envconfig:"AGG_LOW_QUALITY_SHARE" default:"0.5" validate:"gte=0,lte=1"`
}

// Config is the full per-run configuration.
type Config struct {
	Credentials Credentials
	Attribution Attribution
	Weights     Weights
	Aggregation Aggregation

	MaxConcurrency   int           `envconfig:"MAX_CONCURRENCY" default:"3" validate:"min=1,max=64"`
	ExtractRetries   int           `envconfig:"EXTRACT_RETRIES" default:"2" validate:"min=0,max=10"`
	HTTPTimeout      time.Duration `envconfig:"HTTP_TIMEOUT" default:"25s"`
	TranscribeWait   time.Duration `envconfig:"TRANSCRIBE_WAIT" default:"10m"`
	DegradedScoreCap float64       `envconfig:"DEGRADED_SCORE_CAP" default:"84" validate:"gte=0,lt=85"`
}

var validate = validator.New()

// FromEnv loads a Config from the environment, applying defaults.
func FromEnv() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Default returns the built-in policy values without touching the
// environment. Used by tests and as the base for per-request overrides.
func Default() Config {
	return Config{
		Credentials: Credentials{LLMModel: "gpt-4o-mini"},
		Attribution: Attribution{WindowUtterances: 8, WindowMS: 120000},
		Weights: Weights{
			Sentiment:         30,
			Conversion:        35,
			Recommendations:   15,
			ObjectionHandling: 20,
		},
		Aggregation: Aggregation{
			TopK:                       5,
			PositiveSentimentThreshold: 0.25,
			LowConversionRate:          0.2,
			LowPositiveSentimentRate:   0.6,
			LowQualityShare:            0.5,
		},
		MaxConcurrency:   3,
		ExtractRetries:   2,
		HTTPTimeout:      25 * time.Second,
		TranscribeWait:   10 * time.Minute,
		DegradedScoreCap: 84,
	}
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if t := c.Weights.Total(); t < 99.5 || t > 100.5 {
		return fmt.Errorf("invalid config: rubric weights sum to %.1f, want 100", t)
	}
	return nil
}
