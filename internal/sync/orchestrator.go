// Package sync drains pending cache rows to the remote backend. One
// pass runs at a time process-wide; within a pass, records are
// submitted strictly sequentially, oldest first, so backend ordering
// assumptions (minute sequencing within a match) hold.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fieldrec/pitchside/internal/domain"
	"github.com/fieldrec/pitchside/internal/metrics"
)

// Store is the slice of the cache store the orchestrator needs.
type Store interface {
	UnsyncedEvents(ctx context.Context) ([]domain.CachedEvent, error)
	UnsyncedAudio(ctx context.Context) ([]domain.CachedAudio, error)
	MarkEventSynced(ctx context.Context, id int64) error
	MarkAudioSynced(ctx context.Context, id int64) error
	Stats(ctx context.Context) (domain.CacheStats, error)
}

// Submitter submits raw transcripts to the backend.
type Submitter interface {
	SubmitRawEvent(ctx context.Context, matchID int64, rawText string) (*domain.ServerEvent, error)
}

// Transcriber converts a recorded clip to text.
type Transcriber interface {
	Transcribe(ctx context.Context, filePath string) (string, error)
}

// Result reports one full drain attempt. Success is true iff Errors
// is empty; a partial failure leaves the failing records pending for
// the next pass.
type Result struct {
	Success      bool     `json:"success"`
	SyncedEvents int      `json:"synced_events"`
	SyncedAudio  int      `json:"synced_audio"`
	Errors       []string `json:"errors"`
}

// PendingEvent is the advisory, display-facing rendering of one
// pending record. Audio rows are transcribed eagerly for display;
// AudioPath is set for entries rendered from a pending clip.
type PendingEvent struct {
	LocalID   int64               `json:"id"`
	MatchID   int64               `json:"match_id"`
	RawText   string              `json:"raw_text"`
	Payload   domain.EventPayload `json:"parsed_payload"`
	AudioPath string              `json:"audio_file_path,omitempty"`
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics attaches prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// Orchestrator drains pending cache rows through the submission and
// transcription clients.
type Orchestrator struct {
	store       Store
	submitter   Submitter
	transcriber Transcriber
	logger      *slog.Logger
	metrics     *metrics.Metrics

	// running is the engine's single mutual-exclusion point: set and
	// cleared atomically around each pass. It tracks orchestration
	// concurrency, not data completeness.
	running atomic.Bool
}

// New creates an orchestrator over the given store and clients.
func New(store Store, submitter Submitter, transcriber Transcriber, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		submitter:   submitter,
		transcriber: transcriber,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RetrySync runs one full drain pass over all pending events and
// audio. It fails immediately with ErrSyncRunning when a pass is
// already in flight; calls are neither queued nor coalesced.
//
// One record's failure never aborts the pass: the error is recorded
// per record and the drain continues. The running flag is cleared on
// every exit path.
func (o *Orchestrator) RetrySync(ctx context.Context) (*Result, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, domain.ErrSyncRunning
	}
	defer o.running.Store(false)

	start := time.Now()
	defer func() { o.metrics.ObservePass(time.Since(start)) }()

	result := &Result{Success: true, Errors: []string{}}

	events, err := o.store.UnsyncedEvents(ctx)
	if err != nil {
		result.Success = false
		result.Errors = append(result.Errors, fmt.Sprintf("load unsynced events: %v", err))
		return result, nil
	}
	audio, err := o.store.UnsyncedAudio(ctx)
	if err != nil {
		result.Success = false
		result.Errors = append(result.Errors, fmt.Sprintf("load unsynced audio: %v", err))
		return result, nil
	}

	o.logger.Info("sync pass started",
		slog.Int("pending_events", len(events)),
		slog.Int("pending_audio", len(audio)))

	for _, ev := range events {
		if err := o.syncOneEvent(ctx, ev); err != nil {
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("event %d: %v", ev.LocalID, err))
			o.metrics.SyncFailed("event")
			o.logger.Warn("event sync failed",
				slog.Int64("local_id", ev.LocalID), slog.String("error", err.Error()))
			continue
		}
		result.SyncedEvents++
		o.metrics.EventSynced()
	}

	for _, clip := range audio {
		if err := o.syncOneAudio(ctx, clip); err != nil {
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("audio %d: %v", clip.LocalID, err))
			o.metrics.SyncFailed("audio")
			o.logger.Warn("audio sync failed",
				slog.Int64("local_id", clip.LocalID), slog.String("error", err.Error()))
			continue
		}
		result.SyncedAudio++
		o.metrics.AudioSynced()
	}

	o.refreshPendingGauges(ctx)
	o.logger.Info("sync pass completed",
		slog.Int("synced_events", result.SyncedEvents),
		slog.Int("synced_audio", result.SyncedAudio),
		slog.Int("failures", len(result.Errors)))

	return result, nil
}

func (o *Orchestrator) syncOneEvent(ctx context.Context, ev domain.CachedEvent) error {
	if _, err := o.submitter.SubmitRawEvent(ctx, ev.MatchID, ev.RawText); err != nil {
		return err
	}
	if err := o.store.MarkEventSynced(ctx, ev.LocalID); err != nil {
		return fmt.Errorf("submitted but not marked synced: %w", err)
	}
	return nil
}

func (o *Orchestrator) syncOneAudio(ctx context.Context, clip domain.CachedAudio) error {
	transcript, err := o.transcriber.Transcribe(ctx, clip.FilePath)
	if err != nil {
		return err
	}
	if _, err := o.submitter.SubmitRawEvent(ctx, clip.MatchID, transcript); err != nil {
		return err
	}
	if err := o.store.MarkAudioSynced(ctx, clip.LocalID); err != nil {
		return fmt.Errorf("submitted but not marked synced: %w", err)
	}
	return nil
}

// SyncEvent force-syncs one pending event record.
func (o *Orchestrator) SyncEvent(ctx context.Context, id int64) error {
	events, err := o.store.UnsyncedEvents(ctx)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if ev.LocalID == id {
			return o.syncOneEvent(ctx, ev)
		}
	}
	return &domain.CacheError{Kind: domain.CacheNotFound, Op: "sync event"}
}

// SyncAudio force-syncs one pending audio record.
func (o *Orchestrator) SyncAudio(ctx context.Context, id int64) error {
	clips, err := o.store.UnsyncedAudio(ctx)
	if err != nil {
		return err
	}
	for _, clip := range clips {
		if clip.LocalID == id {
			return o.syncOneAudio(ctx, clip)
		}
	}
	return &domain.CacheError{Kind: domain.CacheNotFound, Op: "sync audio"}
}

// PendingEvents returns all pending records rendered for display.
// Pending audio is transcribed eagerly; a clip whose transcription
// fails is logged and omitted rather than surfaced as an error. This
// path is advisory, not the durability path.
func (o *Orchestrator) PendingEvents(ctx context.Context) ([]PendingEvent, error) {
	events, err := o.store.UnsyncedEvents(ctx)
	if err != nil {
		return nil, err
	}
	audio, err := o.store.UnsyncedAudio(ctx)
	if err != nil {
		return nil, err
	}

	pending := make([]PendingEvent, 0, len(events)+len(audio))
	for _, ev := range events {
		pending = append(pending, PendingEvent{
			LocalID: ev.LocalID,
			MatchID: ev.MatchID,
			RawText: ev.RawText,
			Payload: ev.Payload,
		})
	}

	for _, clip := range audio {
		transcript, err := o.transcriber.Transcribe(ctx, clip.FilePath)
		if err != nil {
			o.logger.Warn("skipping pending clip, transcription failed",
				slog.Int64("local_id", clip.LocalID), slog.String("error", err.Error()))
			continue
		}
		pending = append(pending, PendingEvent{
			LocalID:   clip.LocalID,
			MatchID:   clip.MatchID,
			RawText:   transcript,
			Payload:   domain.ProvisionalPayload(transcript, ""),
			AudioPath: clip.FilePath,
		})
	}

	return pending, nil
}

// Stats reports outstanding sync work and whether a pass is running.
func (o *Orchestrator) Stats(ctx context.Context) (domain.SyncStats, error) {
	cacheStats, err := o.store.Stats(ctx)
	if err != nil {
		return domain.SyncStats{}, err
	}
	o.metrics.SetPending(cacheStats.PendingEvents, cacheStats.PendingAudio)
	return domain.SyncStats{
		PendingEvents: cacheStats.PendingEvents,
		PendingAudio:  cacheStats.PendingAudio,
		Syncing:       o.running.Load(),
	}, nil
}

// Syncing reports whether a pass is currently running.
func (o *Orchestrator) Syncing() bool {
	return o.running.Load()
}

func (o *Orchestrator) refreshPendingGauges(ctx context.Context) {
	stats, err := o.store.Stats(ctx)
	if err != nil {
		return
	}
	o.metrics.SetPending(stats.PendingEvents, stats.PendingAudio)
}
