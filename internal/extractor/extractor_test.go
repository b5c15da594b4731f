package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"sales-insights-go/internal/config"
	"sales-insights-go/internal/types"
)

const validPayload = `{
	"summary": "Customer agreed to a demo next week.",
	"objections": ["price too high"],
	"objections_handled": true,
	"products_mentioned": ["fiber 500"],
	"strengths": ["clear pricing breakdown"],
	"improvement_areas": ["did not ask about budget"],
	"recommendations": ["send proposal within 24h"],
	"sentiment_score": 0.6,
	"conversion": "converted"
}`

func chatResponse(content string) string {
	msg, _ := json.Marshal(content)
	return fmt.Sprintf(`{"choices":[{"message":{"content":%s}}]}`, msg)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	t.Setenv("USE_MOCK_LLM", "")
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	creds := config.Credentials{LLMGatewayURL: srv.URL, LLMAPIKey: "test-key", LLMModel: "test-model"}
	return New(creds, 5*time.Second, 1), srv
}

func sampleTranscript() types.Transcript {
	return types.Transcript{
		CallID: "c1",
		Utterances: []types.Utterance{
			{Speaker: "A", StartMS: 0, EndMS: 4000, Text: "Good morning, this is Ana from the commercial team."},
			{Speaker: "B", StartMS: 4200, EndMS: 9000, Text: "Hi, I wanted to ask about the fiber plans."},
		},
	}
}

func TestExtractHappyPath(t *testing.T) {
	var requests atomic.Int64
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header: got %q", got)
		}
		fmt.Fprint(w, chatResponse(validPayload))
	})

	rec, err := c.Extract(context.Background(), sampleTranscript(), types.AttributedTo("Ana"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if requests.Load() != 1 {
		t.Errorf("requests: got %d, want 1", requests.Load())
	}
	if rec.Confidence != types.ConfidenceFull {
		t.Errorf("confidence: got %v, want full", rec.Confidence)
	}
	if rec.Conversion != types.Converted || rec.SentimentScore != 0.6 {
		t.Errorf("record: got conversion=%v sentiment=%v", rec.Conversion, rec.SentimentScore)
	}
	if rec.CallID != "c1" || rec.Vendor.Vendor != "Ana" {
		t.Errorf("identity: got call=%q vendor=%+v", rec.CallID, rec.Vendor)
	}
}

func TestExtractSalvagesPartialPayload(t *testing.T) {
	// Both answers lack the objections key: one repair attempt, then the
	// payload is accepted as degraded with the gap filled.
	partial := `{
		"summary": "Customer asked for pricing details.",
		"objections_handled": true,
		"products_mentioned": [],
		"strengths": ["good rapport"],
		"improvement_areas": [],
		"recommendations": ["follow up tomorrow"],
		"sentiment_score": 0.3,
		"conversion": "ambiguous"
	}`
	var requests atomic.Int64
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, chatResponse(partial))
	})

	rec, err := c.Extract(context.Background(), sampleTranscript(), types.AttributedTo("Ana"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if requests.Load() != 2 {
		t.Errorf("requests: got %d, want 2 (original plus repair)", requests.Load())
	}
	if rec.Confidence != types.ConfidenceDegraded {
		t.Errorf("confidence: got %v, want degraded", rec.Confidence)
	}
	if rec.Objections == nil || len(rec.Objections) != 0 {
		t.Errorf("objections must be present and empty: %#v", rec.Objections)
	}
	if rec.Summary != "Customer asked for pricing details." {
		t.Errorf("validated fields must survive: summary=%q", rec.Summary)
	}
}

func TestExtractRepairRecovers(t *testing.T) {
	var requests atomic.Int64
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			fmt.Fprint(w, chatResponse("Sure! Here is my analysis of the call in plain text."))
			return
		}
		fmt.Fprint(w, chatResponse("```json\n"+validPayload+"\n```"))
	})

	rec, err := c.Extract(context.Background(), sampleTranscript(), types.AttributedTo("Ana"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if requests.Load() != 2 {
		t.Errorf("requests: got %d, want 2", requests.Load())
	}
	if rec.Confidence != types.ConfidenceFull {
		t.Errorf("confidence after successful repair: got %v", rec.Confidence)
	}
}

func TestExtractFallsBackToNeutralRecord(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatResponse("no json here either"))
	})

	rec, err := c.Extract(context.Background(), sampleTranscript(), types.UnknownVendor())
	if err != nil {
		t.Fatalf("unusable payload must degrade, not error: %v", err)
	}
	if rec.Confidence != types.ConfidenceDegraded {
		t.Errorf("confidence: got %v, want degraded", rec.Confidence)
	}
	if rec.Conversion != types.Ambiguous || rec.SentimentScore != 0 {
		t.Errorf("neutral defaults expected: %+v", rec)
	}
	if rec.CallID != "c1" {
		t.Errorf("call id: got %q", rec.CallID)
	}
}

func TestExtractOutOfRangeSentimentDegrades(t *testing.T) {
	bad := `{
		"summary": "ok",
		"objections": [],
		"objections_handled": true,
		"products_mentioned": [],
		"strengths": [],
		"improvement_areas": [],
		"recommendations": [],
		"sentiment_score": 4.2,
		"conversion": "converted"
	}`
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatResponse(bad))
	})

	rec, err := c.Extract(context.Background(), sampleTranscript(), types.AttributedTo("Ana"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if rec.Confidence != types.ConfidenceDegraded || rec.SentimentScore != 0 {
		t.Errorf("invalid sentiment must fall back to neutral: %+v", rec)
	}
}

func TestExtractClientErrorIsPermanent(t *testing.T) {
	var requests atomic.Int64
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "bad api key", http.StatusUnauthorized)
	})

	_, err := c.Extract(context.Background(), sampleTranscript(), types.AttributedTo("Ana"))
	if err == nil {
		t.Fatal("expected error on 401")
	}
	if requests.Load() != 1 {
		t.Errorf("4xx must not retry: got %d requests", requests.Load())
	}
}

func TestExtractServerErrorRetries(t *testing.T) {
	var requests atomic.Int64
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := c.Extract(context.Background(), sampleTranscript(), types.AttributedTo("Ana"))
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	// retries=1 means two attempts per completion call
	if requests.Load() != 2 {
		t.Errorf("requests: got %d, want 2", requests.Load())
	}
}

func TestExtractServerErrorThenSuccess(t *testing.T) {
	var requests atomic.Int64
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, chatResponse(validPayload))
	})

	rec, err := c.Extract(context.Background(), sampleTranscript(), types.AttributedTo("Ana"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if rec.Confidence != types.ConfidenceFull {
		t.Errorf("confidence: got %v, want full", rec.Confidence)
	}
}

func TestExtractUnconfiguredGateway(t *testing.T) {
	t.Setenv("USE_MOCK_LLM", "")
	c := New(config.Credentials{}, time.Second, 0)
	if _, err := c.Extract(context.Background(), sampleTranscript(), types.UnknownVendor()); err == nil {
		t.Fatal("expected error with no gateway configured")
	}
}

func TestExtractMockMode(t *testing.T) {
	t.Setenv("USE_MOCK_LLM", "true")
	c := New(config.Credentials{}, time.Second, 0)
	rec, err := c.Extract(context.Background(), sampleTranscript(), types.AttributedTo("Ana"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if rec.Summary == "" || rec.Confidence != types.ConfidenceFull {
		t.Errorf("mock record: %+v", rec)
	}
}
