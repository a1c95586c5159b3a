// Package capture runs the record-transcribe-cache-submit flow for a
// single match session. The controller owns a working view of events
// for display while the cache remains the durability source of truth.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/fieldrec/pitchside/internal/domain"
	"github.com/fieldrec/pitchside/internal/metrics"
)

// Recorder starts and stops an audio capture. Stop returns an opaque
// reference to the recorded clip (typically a file path).
type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (string, error)
}

// Store is the slice of the cache the controller needs.
type Store interface {
	SaveEvent(ctx context.Context, matchID int64, rawText string, payload domain.EventPayload, synced bool, captureKey string) (int64, error)
	SaveAudio(ctx context.Context, matchID int64, filePath string, synced bool) (int64, error)
	MarkEventSynced(ctx context.Context, id int64) error
	MarkAudioSynced(ctx context.Context, id int64) error
	EventsForMatch(ctx context.Context, matchID int64) ([]domain.CachedEvent, error)
	Stats(ctx context.Context) (domain.CacheStats, error)
}

// Submitter is the backend surface the controller uses: one immediate
// submission per capture, plus remote deletion on undo.
type Submitter interface {
	SubmitRawEvent(ctx context.Context, matchID int64, rawText string) (*domain.ServerEvent, error)
	DeleteEvent(ctx context.Context, id int64) error
}

// Transcriber converts a recorded clip to text.
type Transcriber interface {
	Transcribe(ctx context.Context, filePath string) (string, error)
}

// ViewState describes how settled a view entry is.
type ViewState string

const (
	// ViewTranscribing is the placeholder shown while the clip is at
	// the transcription service.
	ViewTranscribing ViewState = "transcribing"
	// ViewProvisional is a locally cached transcript awaiting sync.
	ViewProvisional ViewState = "provisional"
	// ViewConfirmed carries the server's record.
	ViewConfirmed ViewState = "confirmed"
)

// ViewEvent is one entry in the session's working view.
type ViewEvent struct {
	TempID  domain.TemporaryID  `json:"temp_id,omitempty"`
	State   ViewState           `json:"state"`
	RawText string              `json:"raw_text,omitempty"`
	Server  *domain.ServerEvent `json:"server,omitempty"`
}

// CaptureResult reports one completed capture: the transcript, the
// local row ids, whether the immediate submission landed, and the
// sync backlog after the attempt.
type CaptureResult struct {
	Transcript   string              `json:"transcript"`
	EventID      int64               `json:"event_id"`
	AudioID      int64               `json:"audio_id"`
	Submitted    bool                `json:"submitted"`
	Server       *domain.ServerEvent `json:"server,omitempty"`
	TempID       domain.TemporaryID  `json:"temp_id,omitempty"`
	SubmitError  string              `json:"submit_error,omitempty"`
	PendingStats domain.SyncStats    `json:"pending_stats"`
}

// UndoResult reports an undo: the removed entry and, when a remote
// delete was attempted, whether it went through.
type UndoResult struct {
	Removed       ViewEvent `json:"removed"`
	RemoteDeleted bool      `json:"remote_deleted"`
	RemoteError   string    `json:"remote_error,omitempty"`
}

// Option configures the controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics attaches prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// Controller drives capture sessions for one match. A single capture
// may be live at a time; the view is guarded by mu and safe for
// concurrent readers.
type Controller struct {
	matchID     int64
	recorder    Recorder
	store       Store
	submitter   Submitter
	transcriber Transcriber
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu        sync.Mutex
	recording bool
	view      []ViewEvent
}

// NewController creates a controller bound to matchID.
func NewController(matchID int64, recorder Recorder, store Store, submitter Submitter, transcriber Transcriber, opts ...Option) *Controller {
	c := &Controller{
		matchID:     matchID,
		recorder:    recorder,
		store:       store,
		submitter:   submitter,
		transcriber: transcriber,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartRecording begins a capture. A live session makes this fail
// with ErrCaptureActive; recorder failures propagate unchanged so
// the caller sees the underlying cause (device permissions, busy
// hardware).
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.recording {
		c.mu.Unlock()
		return domain.ErrCaptureActive
	}
	c.recording = true
	c.mu.Unlock()

	if err := c.recorder.Start(ctx); err != nil {
		c.mu.Lock()
		c.recording = false
		c.mu.Unlock()
		return err
	}
	c.logger.Info("recording started", slog.Int64("match_id", c.matchID))
	return nil
}

// StopAndProcess ends the live capture and runs the full flow: stop
// the recorder, transcribe, persist Pending rows, then attempt one
// immediate submission. A transcription failure propagates and
// persists nothing. A submission failure is absorbed: the rows stay
// Pending for the orchestrator and the capture still succeeds.
func (c *Controller) StopAndProcess(ctx context.Context) (*CaptureResult, error) {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return nil, domain.ErrNoActiveCapture
	}
	c.recording = false
	c.mu.Unlock()

	clipPath, err := c.recorder.Stop(ctx)
	if err != nil {
		return nil, fmt.Errorf("stop recorder: %w", err)
	}

	tempID := domain.NewTemporaryID()
	c.appendView(ViewEvent{TempID: tempID, State: ViewTranscribing})

	transcript, err := c.transcriber.Transcribe(ctx, clipPath)
	if err != nil {
		c.removeViewByTempID(tempID)
		return nil, err
	}

	captureKey := uuid.NewString()
	eventID, err := c.store.SaveEvent(ctx, c.matchID, transcript,
		domain.ProvisionalPayload(transcript, tempID), false, captureKey)
	if err != nil {
		c.removeViewByTempID(tempID)
		return nil, err
	}
	audioID, err := c.store.SaveAudio(ctx, c.matchID, clipPath, false)
	if err != nil {
		c.removeViewByTempID(tempID)
		return nil, err
	}

	result := &CaptureResult{
		Transcript: transcript,
		EventID:    eventID,
		AudioID:    audioID,
		TempID:     tempID,
	}

	server, err := c.submitter.SubmitRawEvent(ctx, c.matchID, transcript)
	if err != nil {
		// Soft failure: the Pending rows are the safety net.
		c.logger.Warn("immediate submit failed, event cached for sync",
			slog.Int64("match_id", c.matchID),
			slog.Int64("event_id", eventID),
			slog.String("error", err.Error()))
		result.SubmitError = err.Error()
		c.resolveViewProvisional(tempID, transcript)
	} else {
		if err := c.confirm(ctx, eventID, audioID, captureKey, transcript, server); err != nil {
			// Submitted but local bookkeeping failed. The upsert key
			// makes a later retry converge on the same row.
			c.logger.Error("submitted but local confirm failed",
				slog.Int64("event_id", eventID), slog.String("error", err.Error()))
			result.SubmitError = err.Error()
			c.resolveViewProvisional(tempID, transcript)
		} else {
			result.Submitted = true
			result.Server = server
			c.resolveViewConfirmed(tempID, server)
		}
	}

	if stats, err := c.syncStats(ctx); err == nil {
		result.PendingStats = stats
	}
	c.metrics.CaptureCompleted()
	c.logger.Info("capture processed",
		slog.Int64("match_id", c.matchID),
		slog.Int64("event_id", eventID),
		slog.Bool("submitted", result.Submitted))
	return result, nil
}

func (c *Controller) confirm(ctx context.Context, eventID, audioID int64, captureKey, transcript string, server *domain.ServerEvent) error {
	if _, err := c.store.SaveEvent(ctx, c.matchID, transcript,
		domain.ConfirmedPayload(server), true, captureKey); err != nil {
		return err
	}
	if err := c.store.MarkEventSynced(ctx, eventID); err != nil && !domain.IsNotFound(err) {
		return err
	}
	return c.store.MarkAudioSynced(ctx, audioID)
}

// UndoLast removes the most recent view entry. A server-confirmed
// entry also gets a best-effort remote delete; its failure is
// reported in the result, never rolled back locally. Cache rows are
// untouched either way.
func (c *Controller) UndoLast(ctx context.Context) (*UndoResult, error) {
	c.mu.Lock()
	if len(c.view) == 0 {
		c.mu.Unlock()
		return nil, domain.ErrNothingToUndo
	}
	last := c.view[len(c.view)-1]
	c.view = c.view[:len(c.view)-1]
	c.mu.Unlock()

	result := &UndoResult{Removed: last}
	if last.State == ViewConfirmed && last.Server != nil {
		if err := c.submitter.DeleteEvent(ctx, last.Server.RemoteID); err != nil {
			c.logger.Warn("remote delete failed during undo",
				slog.Int64("remote_id", last.Server.RemoteID),
				slog.String("error", err.Error()))
			result.RemoteError = err.Error()
		} else {
			result.RemoteDeleted = true
		}
	}
	return result, nil
}

// Events returns a snapshot of the working view.
func (c *Controller) Events() []ViewEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ViewEvent, len(c.view))
	copy(out, c.view)
	return out
}

// LoadCachedEvents seeds the view from the match's cache history,
// replacing whatever the view holds. Synced rows with a confirmed
// payload surface as confirmed entries; everything else is
// provisional.
func (c *Controller) LoadCachedEvents(ctx context.Context) error {
	events, err := c.store.EventsForMatch(ctx, c.matchID)
	if err != nil {
		return err
	}

	view := make([]ViewEvent, 0, len(events))
	for _, ev := range events {
		if ev.Payload.Confirmed != nil {
			view = append(view, ViewEvent{
				State:   ViewConfirmed,
				RawText: ev.RawText,
				Server:  ev.Payload.Confirmed,
			})
			continue
		}
		view = append(view, ViewEvent{
			TempID:  domain.TemporaryID(ev.Payload.TempID),
			State:   ViewProvisional,
			RawText: ev.RawText,
		})
	}

	c.mu.Lock()
	c.view = view
	c.mu.Unlock()
	return nil
}

// Recording reports whether a capture is live.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// Stats returns the sync backlog as seen through the cache.
func (c *Controller) Stats(ctx context.Context) (domain.SyncStats, error) {
	return c.syncStats(ctx)
}

func (c *Controller) syncStats(ctx context.Context) (domain.SyncStats, error) {
	stats, err := c.store.Stats(ctx)
	if err != nil {
		return domain.SyncStats{}, err
	}
	return domain.SyncStats{
		PendingEvents: stats.PendingEvents,
		PendingAudio:  stats.PendingAudio,
	}, nil
}

func (c *Controller) appendView(ev ViewEvent) {
	c.mu.Lock()
	c.view = append(c.view, ev)
	c.mu.Unlock()
}

func (c *Controller) removeViewByTempID(tempID domain.TemporaryID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, ev := range c.view {
		if ev.TempID == tempID {
			c.view = append(c.view[:i], c.view[i+1:]...)
			return
		}
	}
}

func (c *Controller) resolveViewProvisional(tempID domain.TemporaryID, transcript string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, ev := range c.view {
		if ev.TempID == tempID {
			c.view[i].State = ViewProvisional
			c.view[i].RawText = transcript
			return
		}
	}
}

func (c *Controller) resolveViewConfirmed(tempID domain.TemporaryID, server *domain.ServerEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, ev := range c.view {
		if ev.TempID == tempID {
			c.view[i].State = ViewConfirmed
			c.view[i].RawText = server.RawText
			c.view[i].Server = server
			c.view[i].TempID = ""
			return
		}
	}
}
