package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"sales-insights-go/internal/config"
	"sales-insights-go/internal/logger"
	"sales-insights-go/internal/types"
)

// Client talks to the reasoning collaborator (an OpenAI-compatible
// chat-completions gateway) and turns one transcript into an
// InsightRecord.
type Client struct {
	gatewayURL string
	apiKey     string
	model      string
	retries    int
	httpClient *http.Client
	log        *logrus.Entry
}

func New(creds config.Credentials, timeout time.Duration, retries int) *Client {
	return &Client{
		gatewayURL: creds.LLMGatewayURL,
		apiKey:     creds.LLMAPIKey,
		model:      creds.LLMModel,
		retries:    retries,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger.New().WithField("component", "extractor"),
	}
}

// insightPayload is the JSON shape the gateway is instructed to return.
// Validation here is the structural contract: a payload that fails it is
// malformed, regardless of how plausible its text reads.
type insightPayload struct {
	Summary           string   `json:"summary" validate:"required"`
	Objections        []string `json:"objections"`
	ObjectionsHandled bool     `json:"objections_handled"`
	ProductsMentioned []string `json:"products_mentioned"`
	Strengths         []string `json:"strengths"`
	ImprovementAreas  []string `json:"improvement_areas"`
	Recommendations   []string `json:"recommendations"`
	SentimentScore    float64  `json:"sentiment_score" validate:"gte=-1,lte=1"`
	Conversion        string   `json:"conversion" validate:"required,oneof=converted not_converted ambiguous"`
}

var validate = validator.New()

const repairInstruction = `

YOUR PREVIOUS ANSWER WAS NOT VALID. Return ONLY the JSON object, no prose,
no markdown fences, every key present, sentiment_score between -1 and 1,
conversion exactly one of: converted, not_converted, ambiguous.`

// Extract produces an InsightRecord for the call. A malformed payload
// gets exactly one stricter re-request; if that is still invalid the
// record degrades to neutral defaults instead of being dropped. Only
// transport-level failures (after retries) surface as an error.
func (c *Client) Extract(ctx context.Context, t types.Transcript, vendor types.Attribution) (types.InsightRecord, error) {
	log := c.log.WithField("call_id", t.CallID)

	if os.Getenv("USE_MOCK_LLM") == "true" {
		log.Info("mock LLM mode ON - returning deterministic insight record")
		return mockRecord(t.CallID, vendor), nil
	}

	if c.gatewayURL == "" || c.apiKey == "" {
		return types.InsightRecord{}, fmt.Errorf("llm gateway not configured")
	}

	prompt := buildPrompt(t, vendor)

	content, err := c.complete(ctx, prompt)
	if err != nil {
		return types.InsightRecord{}, fmt.Errorf("llm extract failed: %w", err)
	}

	first, firstMissing, firstErr := parsePayload(content)
	payload, missing, perr := first, firstMissing, firstErr
	if perr != nil || len(missing) > 0 {
		log.WithField("missing", missing).WithError(perr).
			Warn("incomplete insight payload, re-requesting with strict instruction")
		content, err = c.complete(ctx, prompt+repairInstruction)
		if err == nil {
			payload, missing, perr = parsePayload(content)
		} else {
			payload, missing, perr = first, firstMissing, firstErr
		}
	}
	if perr != nil {
		// Nothing usable came back: neutral defaults, never dropped.
		log.Warn("repair attempt failed, emitting degraded record")
		return types.NeutralInsightRecord(t.CallID, vendor), nil
	}

	rec := payload.toRecord(t.CallID, vendor)
	if len(missing) > 0 {
		// Salvageable payload with absent fields: keep what validated,
		// fill the gaps with empties and mark the record degraded.
		log.WithField("missing", missing).Warn("accepting partial payload as degraded")
		rec.Confidence = types.ConfidenceDegraded
	}
	log.WithFields(logrus.Fields{
		"sentiment":  rec.SentimentScore,
		"conversion": rec.Conversion,
	}).Info("insight record extracted")
	return rec, nil
}

// complete runs one chat-completions request with exponential backoff.
// 4xx responses are permanent; 5xx and transport errors retry up to the
// configured bound.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0.0,
	}
	data, _ := json.Marshal(reqBody)

	var content string
	var lastErr error

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", c.gatewayURL, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			return err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("llm server error: status=%d", resp.StatusCode)
			return lastErr
		}
		if resp.StatusCode >= 400 {
			lastErr = fmt.Errorf("llm client error: status=%d body=%s", resp.StatusCode, truncate(string(body), 200))
			return backoff.Permanent(lastErr)
		}

		if inner := extractContentFromChoices(body); inner != "" {
			content = inner
			return nil
		}
		// Some gateways return the JSON document directly.
		if raw := extractJSON(string(body)); raw != "" {
			content = raw
			return nil
		}
		lastErr = fmt.Errorf("no content in LLM response")
		return lastErr
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.retries)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if lastErr != nil {
			return "", lastErr
		}
		return "", err
	}
	return content, nil
}

// expectedKeys is the structural contract with the reasoning service:
// a non-degraded payload carries every one of these.
var expectedKeys = []string{
	"summary", "objections", "objections_handled", "products_mentioned",
	"strengths", "improvement_areas", "recommendations",
	"sentiment_score", "conversion",
}

// parsePayload decodes and validates one LLM answer. The error return
// means the payload is unusable; a non-empty missing list means the
// payload validated but lacks fields, so it is only acceptable as
// degraded.
func parsePayload(content string) (insightPayload, []string, error) {
	raw := extractJSON(content)
	if raw == "" {
		return insightPayload{}, nil, fmt.Errorf("no JSON object in LLM output")
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return insightPayload{}, nil, fmt.Errorf("decode insight payload: %w", err)
	}
	var missing []string
	for _, k := range expectedKeys {
		if _, ok := keys[k]; !ok {
			missing = append(missing, k)
		}
	}

	var p insightPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return insightPayload{}, nil, fmt.Errorf("decode insight payload: %w", err)
	}
	if _, ok := keys["conversion"]; !ok {
		p.Conversion = string(types.Ambiguous)
	}
	// A payload without a usable summary, or with out-of-range values,
	// is unusable outright; absent list fields are merely degrading.
	if err := validate.Struct(p); err != nil {
		return insightPayload{}, nil, fmt.Errorf("invalid insight payload: %w", err)
	}
	return p, missing, nil
}

func (p insightPayload) toRecord(callID string, vendor types.Attribution) types.InsightRecord {
	return types.InsightRecord{
		CallID:            callID,
		Vendor:            vendor,
		Summary:           strings.TrimSpace(p.Summary),
		Objections:        orEmpty(p.Objections),
		ObjectionsHandled: p.ObjectionsHandled,
		ProductsMentioned: orEmpty(p.ProductsMentioned),
		Strengths:         orEmpty(p.Strengths),
		ImprovementAreas:  orEmpty(p.ImprovementAreas),
		Recommendations:   orEmpty(p.Recommendations),
		SentimentScore:    p.SentimentScore,
		Conversion:        types.ConversionSignal(p.Conversion),
		Confidence:        types.ConfidenceFull,
	}
}

// Downstream aggregation iterates these without nil checks.
func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func mockRecord(callID string, vendor types.Attribution) types.InsightRecord {
	return types.InsightRecord{
		CallID:            callID,
		Vendor:            vendor,
		Summary:           "Customer compared plans and agreed to a follow-up demo next week.",
		Objections:        []string{"price too high", "needs manager approval"},
		ObjectionsHandled: true,
		ProductsMentioned: []string{"fiber 500", "business voice"},
		Strengths:         []string{"active listening", "clear pricing breakdown"},
		ImprovementAreas:  []string{"did not ask about budget"},
		Recommendations:   []string{"send proposal within 24h", "schedule demo"},
		SentimentScore:    0.4,
		Conversion:        types.Ambiguous,
		Confidence:        types.ConfidenceFull,
	}
}
