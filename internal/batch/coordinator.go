package batch

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"sales-insights-go/internal/aggregator"
	"sales-insights-go/internal/attribution"
	"sales-insights-go/internal/classifier"
	"sales-insights-go/internal/config"
	"sales-insights-go/internal/logger"
	"sales-insights-go/internal/types"
)

// Transcriber is the transcription collaborator boundary.
type Transcriber interface {
	Transcribe(ctx context.Context, callID, audioPath string) (types.Transcript, error)
}

// Extractor is the reasoning collaborator boundary.
type Extractor interface {
	Extract(ctx context.Context, t types.Transcript, vendor types.Attribution) (types.InsightRecord, error)
}

// CallInput references one raw call to process.
type CallInput struct {
	CallID    string `json:"call_id"`
	AudioPath string `json:"audio_path"`
}

// State is a call's position in its pipeline. Every call ends in
// StateDone or StateFailed; no other terminal state exists.
type State string

const (
	StatePending      State = "pending"
	StateTranscribing State = "transcribing"
	StateAttributing  State = "attributing"
	StateExtracting   State = "extracting"
	StateClassifying  State = "classifying"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Coordinator drives the batch pipeline: transcription, attribution,
// extraction and classification per call under bounded concurrency,
// then aggregation once every call is terminal. One call's failure
// never halts the rest.
type Coordinator struct {
	cfg         config.Config
	transcriber Transcriber
	extractor   Extractor
	log         *logrus.Entry

	// Progress, when set, is invoked after each call reaches a terminal
	// state with the number of terminal calls and the batch size.
	Progress func(completed, total int)
}

func NewCoordinator(cfg config.Config, tr Transcriber, ex Extractor) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		transcriber: tr,
		extractor:   ex,
		log:         logger.New().WithField("component", "batch"),
	}
}

// task carries one call through the state machine. Each task is owned
// by exactly one worker; only the collector is shared.
type task struct {
	input CallInput
	state State
}

// collector is the only concurrently mutated structure besides the
// pool itself: append-only, synchronized.
type collector struct {
	mu        sync.Mutex
	succeeded []types.ClassifiedCall
	failed    []types.CallFailure
}

func (r *collector) succeed(c types.ClassifiedCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.succeeded = append(r.succeeded, c)
}

func (r *collector) fail(f types.CallFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, f)
}

func (r *collector) terminal() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.succeeded) + len(r.failed)
}

// Run executes the whole batch and returns a BatchRun accounting for
// every input exactly once. Cancelling ctx stops scheduling new work;
// affected calls are reported as failed with kind "cancelled", never
// left in an ambiguous state.
func (c *Coordinator) Run(ctx context.Context, inputs []CallInput) (types.BatchRun, error) {
	if err := c.cfg.Validate(); err != nil {
		return types.BatchRun{}, err
	}
	if len(inputs) == 0 {
		return types.BatchRun{}, errors.New("empty batch")
	}

	runID := uuid.New().String()
	log := c.log.WithField("run_id", runID)
	log.WithField("requested", len(inputs)).Info("batch run starting")

	tasks := make([]*task, len(inputs))
	for i, in := range inputs {
		if in.CallID == "" {
			in.CallID = uuid.New().String()
		}
		tasks[i] = &task{input: in, state: StatePending}
	}

	results := &collector{}
	workers := newPool(c.cfg.MaxConcurrency)
	for _, t := range tasks {
		t := t
		workers.Submit(func() {
			c.process(ctx, t, results)
			if c.Progress != nil {
				c.Progress(results.terminal(), len(tasks))
			}
		})
	}
	workers.Wait()

	// Aggregation only runs here, after every call is Done or Failed;
	// no partial aggregate is ever published.
	vendors, ranking, team := aggregator.Aggregate(results.succeeded, results.failed, c.cfg.Aggregation)

	run := types.BatchRun{
		RunID:          runID,
		RequestedCount: len(inputs),
		Succeeded:      results.succeeded,
		Failed:         results.failed,
		Vendors:        vendors,
		TeamRanking:    ranking,
		Team:           team,
	}
	if run.Succeeded == nil {
		run.Succeeded = []types.ClassifiedCall{}
	}
	if run.Failed == nil {
		run.Failed = []types.CallFailure{}
	}
	if run.Vendors == nil {
		run.Vendors = []types.VendorAggregate{}
	}

	log.WithFields(logrus.Fields{
		"succeeded": len(run.Succeeded),
		"failed":    len(run.Failed),
		"vendors":   len(run.Vendors),
	}).Info("batch run complete")
	return run, nil
}

// process advances one call through the state machine. All error paths
// resolve to a recorded failure; nothing propagates past the coordinator.
func (c *Coordinator) process(ctx context.Context, t *task, results *collector) {
	callID := t.input.CallID
	log := c.log.WithField("call_id", callID)

	if ctx.Err() != nil {
		c.failTask(t, results, callID, types.FailureCancelled, "run cancelled before processing")
		return
	}

	t.state = StateTranscribing
	transcript, err := c.transcriber.Transcribe(ctx, callID, t.input.AudioPath)
	if err != nil {
		if ctx.Err() != nil {
			c.failTask(t, results, callID, types.FailureCancelled, "run cancelled during transcription")
			return
		}
		log.WithError(err).Warn("transcription failed")
		c.failTask(t, results, callID, types.FailureTranscription, err.Error())
		return
	}

	t.state = StateAttributing
	vendor := attribution.Attribute(transcript, c.cfg.Attribution)
	if !vendor.Known {
		log.Info("speaker attribution ambiguous, bucketing as unknown")
	}

	t.state = StateExtracting
	record, err := c.extractor.Extract(ctx, transcript, vendor)
	if err != nil {
		if ctx.Err() != nil {
			c.failTask(t, results, callID, types.FailureCancelled, "run cancelled during extraction")
			return
		}
		log.WithError(err).Warn("extraction failed after retries")
		c.failTask(t, results, callID, types.FailureExtractionFatal, err.Error())
		return
	}

	t.state = StateClassifying
	classified := classifier.Classify(record, c.cfg.Weights, c.cfg.DegradedScoreCap)

	t.state = StateDone
	results.succeed(classified)
	log.WithFields(logrus.Fields{
		"grade":      classified.Grade,
		"score":      classified.Score,
		"vendor":     vendor.BucketID(),
		"confidence": record.Confidence,
	}).Info("call classified")
}

func (c *Coordinator) failTask(t *task, results *collector, callID string, kind types.FailureKind, msg string) {
	t.state = StateFailed
	results.fail(types.CallFailure{CallID: callID, Kind: kind, Message: msg})
}
