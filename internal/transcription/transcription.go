package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"sales-insights-go/internal/logger"
	"sales-insights-go/internal/types"
)

const defaultBaseURL = "https://api.assemblyai.com"

// Client drives the AssemblyAI transcription collaborator for one audio
// file at a time: upload, submit with speaker labels, poll until done.
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	maxWait      time.Duration
	log          *logrus.Entry
}

func NewClient(apiKey string, timeout, maxWait time.Duration) *Client {
	base := os.Getenv("ASSEMBLYAI_BASE_URL")
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		apiKey:       apiKey,
		baseURL:      base,
		httpClient:   &http.Client{Timeout: timeout},
		pollInterval: 2 * time.Second,
		maxWait:      maxWait,
		log:          logger.New().WithField("component", "transcription"),
	}
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type submitRequest struct {
	AudioURL      string `json:"audio_url"`
	SpeakerLabels bool   `json:"speaker_labels"`
}

type jobResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"` // queued, processing, completed, error
	Text          string `json:"text"`
	AudioDuration int64  `json:"audio_duration"` // seconds
	Error         string `json:"error"`
	Utterances    []struct {
		Speaker string `json:"speaker"`
		Start   int64  `json:"start"`
		End     int64  `json:"end"`
		Text    string `json:"text"`
	} `json:"utterances"`
}

// Transcribe runs the full flow for one local audio file. Supports mock
// mode via env USE_MOCK_TRANSCRIBE=true for offline demos.
func (c *Client) Transcribe(ctx context.Context, callID, audioPath string) (types.Transcript, error) {
	if os.Getenv("USE_MOCK_TRANSCRIBE") == "true" {
		return mockTranscript(callID, audioPath), nil
	}
	if c.apiKey == "" {
		return types.Transcript{}, errors.New("assemblyai api key not set")
	}
	log := c.log.WithField("call_id", callID)

	audioURL, err := c.upload(ctx, audioPath)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("upload audio: %w", err)
	}
	log.Info("audio uploaded, submitting transcription job")

	jobID, err := c.submit(ctx, audioURL)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("submit transcription: %w", err)
	}

	job, err := c.poll(ctx, jobID)
	if err != nil {
		return types.Transcript{}, err
	}
	log.WithField("job_id", jobID).Info("transcription completed")

	t := types.Transcript{
		CallID:          callID,
		SourceFile:      audioPath,
		AudioDurationMS: job.AudioDuration * 1000,
		Text:            job.Text,
		Utterances:      make([]types.Utterance, 0, len(job.Utterances)),
	}
	for _, u := range job.Utterances {
		t.Utterances = append(t.Utterances, types.Utterance{
			Speaker: u.Speaker,
			StartMS: u.Start,
			EndMS:   u.End,
			Text:    u.Text,
		})
	}
	return t, nil
}

func (c *Client) upload(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v2/upload", f)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	var out uploadResponse
	if err := c.doOnce(req, &out); err != nil {
		return "", err
	}
	if out.UploadURL == "" {
		return "", errors.New("empty upload_url in response")
	}
	return out.UploadURL, nil
}

func (c *Client) submit(ctx context.Context, audioURL string) (string, error) {
	body, _ := json.Marshal(submitRequest{AudioURL: audioURL, SpeakerLabels: true})

	var out jobResponse
	err := c.doJSON(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v2/transcript", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, &out)
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("no job id in transcript response")
	}
	return out.ID, nil
}

func (c *Client) poll(ctx context.Context, jobID string) (jobResponse, error) {
	deadline := time.Now().Add(c.maxWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return jobResponse{}, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		var s jobResponse
		err := c.doJSON(ctx, func() (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/v2/transcript/"+jobID, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", c.apiKey)
			return req, nil
		}, &s)
		if err != nil {
			c.log.WithError(err).Warn("transcription status poll failed")
			continue
		}

		switch s.Status {
		case "completed":
			return s, nil
		case "error":
			return jobResponse{}, fmt.Errorf("transcription failed: %s", s.Error)
		}
	}
	return jobResponse{}, fmt.Errorf("transcription timeout after %s", c.maxWait)
}

// doJSON retries a request with exponential backoff; the factory rebuilds
// the request each attempt so bodies are re-readable.
func (c *Client) doJSON(ctx context.Context, build func() (*http.Request, error), target any) error {
	var lastErr error
	op := func() error {
		req, err := build()
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := c.doOnce(req, target); err != nil {
			lastErr = err
			return err
		}
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 15 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}

func (c *Client) doOnce(req *http.Request, target any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("assemblyai server error %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("assemblyai status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("json decode error: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func mockTranscript(callID, audioPath string) types.Transcript {
	return types.Transcript{
		CallID:          callID,
		SourceFile:      audioPath,
		AudioDurationMS: 95000,
		Text:            "Good morning, this is Ana from the commercial team. Hi Ana. I wanted to talk about the fiber plans for your office.",
		Utterances: []types.Utterance{
			{Speaker: "A", StartMS: 0, EndMS: 5200, Text: "Good morning, this is Ana from the commercial team."},
			{Speaker: "B", StartMS: 5400, EndMS: 6800, Text: "Hi Ana."},
			{Speaker: "A", StartMS: 7000, EndMS: 12500, Text: "I wanted to talk about the fiber plans for your office."},
		},
	}
}
