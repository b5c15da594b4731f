package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func writeAudioFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "call.wav")
	if err := os.WriteFile(path, []byte("RIFF fake audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestServer(t *testing.T, polls *atomic.Int64, pollsUntilDone int64, finalStatus string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/upload", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "test-key" {
			t.Errorf("upload authorization: got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.example/audio/abc"})
	})
	mux.HandleFunc("POST /v2/transcript", func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode submit request: %v", err)
		}
		if !req.SpeakerLabels {
			t.Error("speaker_labels must be requested")
		}
		if req.AudioURL != "https://cdn.example/audio/abc" {
			t.Errorf("audio_url: got %q", req.AudioURL)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "queued"})
	})
	mux.HandleFunc("GET /v2/transcript/job-1", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < pollsUntilDone {
			json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "processing"})
			return
		}
		if finalStatus == "error" {
			json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "error", "error": "audio unreadable"})
			return
		}
		fmt.Fprint(w, `{
			"id": "job-1",
			"status": "completed",
			"text": "Good morning, this is Ana. Hello.",
			"audio_duration": 95,
			"utterances": [
				{"speaker": "A", "start": 0, "end": 4000, "text": "Good morning, this is Ana."},
				{"speaker": "B", "start": 4200, "end": 6000, "text": "Hello."}
			]
		}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestTranscriber(t *testing.T, srvURL string) *Client {
	t.Helper()
	t.Setenv("USE_MOCK_TRANSCRIBE", "")
	t.Setenv("ASSEMBLYAI_BASE_URL", srvURL)
	c := NewClient("test-key", 5*time.Second, 10*time.Second)
	c.pollInterval = 5 * time.Millisecond
	return c
}

func TestTranscribeFullFlow(t *testing.T) {
	var polls atomic.Int64
	srv := newTestServer(t, &polls, 3, "completed")
	c := newTestTranscriber(t, srv.URL)

	tr, err := c.Transcribe(context.Background(), "c1", writeAudioFixture(t))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.CallID != "c1" {
		t.Errorf("call id: got %q", tr.CallID)
	}
	if tr.AudioDurationMS != 95000 {
		t.Errorf("duration: got %d, want 95000", tr.AudioDurationMS)
	}
	if len(tr.Utterances) != 2 {
		t.Fatalf("utterances: got %d, want 2", len(tr.Utterances))
	}
	if u := tr.Utterances[0]; u.Speaker != "A" || u.StartMS != 0 || u.EndMS != 4000 {
		t.Errorf("first utterance: %+v", u)
	}
	if polls.Load() < 3 {
		t.Errorf("polls: got %d, want at least 3", polls.Load())
	}
}

func TestTranscribeJobError(t *testing.T) {
	var polls atomic.Int64
	srv := newTestServer(t, &polls, 1, "error")
	c := newTestTranscriber(t, srv.URL)

	_, err := c.Transcribe(context.Background(), "c1", writeAudioFixture(t))
	if err == nil {
		t.Fatal("expected error for failed job")
	}
}

func TestTranscribeCancellation(t *testing.T) {
	var polls atomic.Int64
	srv := newTestServer(t, &polls, 1000, "completed") // never completes
	c := newTestTranscriber(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Transcribe(ctx, "c1", writeAudioFixture(t))
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	var polls atomic.Int64
	srv := newTestServer(t, &polls, 1, "completed")
	c := newTestTranscriber(t, srv.URL)

	_, err := c.Transcribe(context.Background(), "c1", filepath.Join(t.TempDir(), "missing.wav"))
	if err == nil {
		t.Fatal("expected error for missing audio file")
	}
}

func TestTranscribeMissingKey(t *testing.T) {
	t.Setenv("USE_MOCK_TRANSCRIBE", "")
	c := NewClient("", time.Second, time.Second)
	if _, err := c.Transcribe(context.Background(), "c1", "/tmp/nope.wav"); err == nil {
		t.Fatal("expected error with no api key")
	}
}

func TestTranscribeMockMode(t *testing.T) {
	t.Setenv("USE_MOCK_TRANSCRIBE", "true")
	c := NewClient("", time.Second, time.Second)
	tr, err := c.Transcribe(context.Background(), "c1", "/tmp/demo.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.CallID != "c1" || len(tr.Utterances) == 0 {
		t.Errorf("mock transcript: %+v", tr)
	}
}
