package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"sales-insights-go/internal/batch"
	"sales-insights-go/internal/config"
	"sales-insights-go/internal/extractor"
	"sales-insights-go/internal/logger"
	"sales-insights-go/internal/report"
	"sales-insights-go/internal/transcription"
	"sales-insights-go/internal/types"
)

var allowedAudioExt = map[string]bool{
	".wav": true, ".mp3": true, ".m4a": true, ".flac": true, ".ogg": true, ".aac": true,
}

type runEntry struct {
	ID        string          `json:"run_id"`
	Status    string          `json:"status"` // running, done, failed, cancelled
	Completed int             `json:"completed"`
	Total     int             `json:"total"`
	Error     string          `json:"error,omitempty"`
	Result    *types.BatchRun `json:"result,omitempty"`

	cancel context.CancelFunc
}

type runRegistry struct {
	mu   sync.Mutex
	runs map[string]*runEntry
}

func newRunRegistry() *runRegistry {
	return &runRegistry{runs: map[string]*runEntry{}}
}

func (r *runRegistry) put(e *runEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[e.ID] = e
}

// snapshot returns a value copy for readers: entries keep mutating on
// the run goroutine, so handlers must never hold a live pointer.
func (r *runRegistry) snapshot(id string) (runEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runs[id]
	if !ok {
		return runEntry{}, false
	}
	return *e, true
}

func (r *runRegistry) cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runs[id]
	if !ok {
		return false
	}
	e.cancel()
	return true
}

func (r *runRegistry) update(id string, fn func(*runEntry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.runs[id]; ok {
		fn(e)
	}
}

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.WithField("service", "sales-insights-go").Info("starting service")

	baseCfg, err := config.FromEnv()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	registry := newRunRegistry()
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.New().WithRequest(r).Info("health check")
		fmt.Fprint(w, "ok")
	})

	mux.HandleFunc("POST /runs", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "start-run")
		reqLog.Info("batch run requested")

		if err := r.ParseMultipartForm(500 << 20); err != nil {
			http.Error(w, "invalid multipart form", http.StatusBadRequest)
			return
		}
		files := r.MultipartForm.File["audio_files"]
		if len(files) == 0 {
			http.Error(w, "no audio files uploaded", http.StatusBadRequest)
			return
		}

		// Per-run credentials: form values override the env copy, and
		// the resulting config is scoped to this run only.
		cfg := baseCfg
		if k := r.FormValue("assemblyai_key"); k != "" {
			cfg.Credentials.AssemblyAIKey = k
		}
		if k := r.FormValue("llm_api_key"); k != "" {
			cfg.Credentials.LLMAPIKey = k
		}
		if u := r.FormValue("llm_gateway_url"); u != "" {
			cfg.Credentials.LLMGatewayURL = u
		}

		inputs, err := saveUploads(files)
		if err != nil {
			reqLog.WithError(err).Warn("upload rejected")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		runCtx, cancel := context.WithCancel(context.Background())
		entry := &runEntry{
			ID:     uuid.New().String(),
			Status: "running",
			Total:  len(inputs),
			cancel: cancel,
		}
		registry.put(entry)

		go executeRun(runCtx, cfg, registry, entry.ID, inputs)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"run_id": entry.ID})
	})

	mux.HandleFunc("GET /runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		entry, ok := registry.snapshot(r.PathValue("id"))
		if !ok {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.Encode(entry)
	})

	mux.HandleFunc("DELETE /runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !registry.cancel(id) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		logger.New().WithRequest(r).WithField("run_id", id).Info("run cancellation requested")
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("GET /runs/{id}/report.xlsx", func(w http.ResponseWriter, r *http.Request) {
		entry, ok := registry.snapshot(r.PathValue("id"))
		if !ok {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		if entry.Result == nil {
			http.Error(w, "run not finished", http.StatusConflict)
			return
		}
		path := filepath.Join(os.TempDir(), "sales-report-"+entry.ID+".xlsx")
		if err := report.Write(*entry.Result, path); err != nil {
			logger.New().WithRequest(r).WithError(err).Error("report rendering failed")
			http.Error(w, "report rendering failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="sales-report.xlsx"`)
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		http.ServeFile(w, r, path)
	})

	addr := fmt.Sprintf(":%s", envOr("PORT", "8080"))
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	log.WithField("addr", addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server terminated")
	}
}

func executeRun(ctx context.Context, cfg config.Config, registry *runRegistry, runID string, inputs []batch.CallInput) {
	log := logger.New().WithRun(runID)

	transcriber := transcription.NewClient(cfg.Credentials.AssemblyAIKey, cfg.HTTPTimeout, cfg.TranscribeWait)
	llm := extractor.New(cfg.Credentials, cfg.HTTPTimeout, cfg.ExtractRetries)
	coord := batch.NewCoordinator(cfg, transcriber, llm)
	coord.Progress = func(completed, total int) {
		registry.update(runID, func(e *runEntry) {
			e.Completed = completed
		})
	}

	run, err := coord.Run(ctx, inputs)

	for _, in := range inputs {
		os.Remove(in.AudioPath)
	}

	registry.update(runID, func(e *runEntry) {
		switch {
		case err != nil:
			e.Status = "failed"
			e.Error = err.Error()
		case ctx.Err() != nil:
			e.Status = "cancelled"
			e.Result = &run
		default:
			e.Status = "done"
			e.Result = &run
		}
	})
	if err != nil {
		log.WithError(err).Error("batch run failed")
		return
	}
	log.WithField("succeeded", len(run.Succeeded)).WithField("failed", len(run.Failed)).Info("batch run finished")
}

func saveUploads(files []*multipart.FileHeader) ([]batch.CallInput, error) {
	inputs := make([]batch.CallInput, 0, len(files))
	for _, fh := range files {
		ext := strings.ToLower(filepath.Ext(fh.Filename))
		if !allowedAudioExt[ext] {
			return nil, fmt.Errorf("unsupported audio format: %s", fh.Filename)
		}
		src, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload %s: %w", fh.Filename, err)
		}
		callID := uuid.New().String()
		dstPath := filepath.Join(os.TempDir(), callID+ext)
		dst, err := os.Create(dstPath)
		if err != nil {
			src.Close()
			return nil, fmt.Errorf("save upload %s: %w", fh.Filename, err)
		}
		_, err = io.Copy(dst, src)
		src.Close()
		dst.Close()
		if err != nil {
			return nil, fmt.Errorf("save upload %s: %w", fh.Filename, err)
		}
		inputs = append(inputs, batch.CallInput{CallID: callID, AudioPath: dstPath})
	}
	return inputs, nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
