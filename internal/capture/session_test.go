package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/fieldrec/pitchside/internal/cache"
	"github.com/fieldrec/pitchside/internal/domain"
	syncengine "github.com/fieldrec/pitchside/internal/sync"
)

var memdbSeq atomic.Int64

func newTestStore(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.Open(fmt.Sprintf("file:capturetest%d?mode=memory&cache=shared", memdbSeq.Add(1)))
	if err != nil {
		t.Fatalf("cache.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRecorder struct {
	startErr error
	stopErr  error
	clipPath string
	started  int
	stopped  int
}

func (f *fakeRecorder) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	return nil
}

func (f *fakeRecorder) Stop(ctx context.Context) (string, error) {
	if f.stopErr != nil {
		return "", f.stopErr
	}
	f.stopped++
	return f.clipPath, nil
}

type fakeSubmitter struct {
	submitErr error
	deleteErr error
	submitted []string
	deleted   []int64
	nextID    int64
	eventType string
}

func (f *fakeSubmitter) SubmitRawEvent(ctx context.Context, matchID int64, rawText string) (*domain.ServerEvent, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, rawText)
	f.nextID++
	eventType := f.eventType
	if eventType == "" {
		eventType = "goal"
	}
	return &domain.ServerEvent{
		RemoteID:  f.nextID,
		MatchID:   matchID,
		EventType: eventType,
		Minute:    23,
		RawText:   rawText,
	}, nil
}

func (f *fakeSubmitter) DeleteEvent(ctx context.Context, id int64) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeTranscriber struct {
	transcript string
	err        error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, filePath string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.transcript, nil
}

const goalTranscript = "Goal, number seven, minute twenty three"

func newTestController(t *testing.T, store *cache.Store, recorder *fakeRecorder, submitter *fakeSubmitter, transcriber *fakeTranscriber) *Controller {
	t.Helper()
	return NewController(42, recorder, store, submitter, transcriber, WithLogger(quietLogger()))
}

func captureOnce(t *testing.T, c *Controller) *CaptureResult {
	t.Helper()
	ctx := context.Background()
	if err := c.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	result, err := c.StopAndProcess(ctx)
	if err != nil {
		t.Fatalf("StopAndProcess() error = %v", err)
	}
	return result
}

func TestStopAndProcess_ImmediateSubmitSucceeds(t *testing.T) {
	store := newTestStore(t)
	recorder := &fakeRecorder{clipPath: "/clips/goal.m4a"}
	submitter := &fakeSubmitter{}
	transcriber := &fakeTranscriber{transcript: goalTranscript}
	c := newTestController(t, store, recorder, submitter, transcriber)

	result := captureOnce(t, c)

	if !result.Submitted {
		t.Fatal("Submitted = false")
	}
	if result.Transcript != goalTranscript {
		t.Errorf("Transcript = %q", result.Transcript)
	}
	if result.Server == nil || result.Server.EventType != "goal" {
		t.Errorf("Server = %+v", result.Server)
	}
	if result.PendingStats.PendingEvents != 0 || result.PendingStats.PendingAudio != 0 {
		t.Errorf("PendingStats = %+v, want nothing pending", result.PendingStats)
	}

	// Exactly one synced row carrying the server payload.
	events, err := store.EventsForMatch(context.Background(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("cached events = %d rows, want 1", len(events))
	}
	if !events[0].Synced {
		t.Error("cached row not synced")
	}
	if events[0].Payload.Confirmed == nil || events[0].Payload.EventType != "goal" {
		t.Errorf("cached payload = %+v", events[0].Payload)
	}

	view := c.Events()
	if len(view) != 1 || view[0].State != ViewConfirmed || view[0].Server == nil {
		t.Errorf("view = %+v", view)
	}
	if view[0].TempID != "" {
		t.Errorf("confirmed view entry still carries temp id %q", view[0].TempID)
	}
}

func TestStopAndProcess_NetworkFailureLeavesPending(t *testing.T) {
	store := newTestStore(t)
	recorder := &fakeRecorder{clipPath: "/clips/goal.m4a"}
	submitter := &fakeSubmitter{
		submitErr: &domain.SubmissionError{Kind: domain.SubmissionNetwork, Err: errors.New("no route to host")},
	}
	transcriber := &fakeTranscriber{transcript: goalTranscript}
	c := newTestController(t, store, recorder, submitter, transcriber)

	result := captureOnce(t, c)

	if result.Submitted {
		t.Fatal("Submitted = true with failing backend")
	}
	if result.SubmitError == "" {
		t.Error("SubmitError empty")
	}
	if result.PendingStats.PendingEvents != 1 || result.PendingStats.PendingAudio != 1 {
		t.Errorf("PendingStats = %+v, want 1 event and 1 clip pending", result.PendingStats)
	}

	view := c.Events()
	if len(view) != 1 || view[0].State != ViewProvisional {
		t.Errorf("view = %+v, want one provisional entry", view)
	}
	if view[0].TempID == "" {
		t.Error("provisional entry lost its temp id")
	}

	// A later sync pass drains both rows.
	submitter.submitErr = nil
	o := syncengine.New(store, submitter, transcriber, syncengine.WithLogger(quietLogger()))
	pass, err := o.RetrySync(context.Background())
	if err != nil {
		t.Fatalf("RetrySync() error = %v", err)
	}
	if !pass.Success || pass.SyncedEvents != 1 || pass.SyncedAudio != 1 {
		t.Errorf("RetrySync() = %+v, want full drain", pass)
	}

	stats, err := c.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.PendingEvents != 0 || stats.PendingAudio != 0 {
		t.Errorf("Stats() = %+v after drain", stats)
	}
}

func TestStopAndProcess_TranscriptionFailurePersistsNothing(t *testing.T) {
	store := newTestStore(t)
	recorder := &fakeRecorder{clipPath: "/clips/silence.m4a"}
	transcriber := &fakeTranscriber{err: &domain.TranscriptionError{Kind: domain.TranscriptionTimeout}}
	c := newTestController(t, store, recorder, &fakeSubmitter{}, transcriber)

	ctx := context.Background()
	if err := c.StartRecording(ctx); err != nil {
		t.Fatal(err)
	}
	_, err := c.StopAndProcess(ctx)
	var terr *domain.TranscriptionError
	if !errors.As(err, &terr) {
		t.Fatalf("StopAndProcess() error = %v, want TranscriptionError", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalEvents != 0 || stats.TotalAudio != 0 {
		t.Errorf("Stats() = %+v, rows persisted after transcription failure", stats)
	}
	if len(c.Events()) != 0 {
		t.Errorf("view = %+v, placeholder not removed", c.Events())
	}
}

func TestStartRecording_SecondCallConflicts(t *testing.T) {
	store := newTestStore(t)
	recorder := &fakeRecorder{clipPath: "/clips/a.m4a"}
	c := newTestController(t, store, recorder, &fakeSubmitter{}, &fakeTranscriber{transcript: "Kickoff"})

	ctx := context.Background()
	if err := c.StartRecording(ctx); err != nil {
		t.Fatal(err)
	}
	if !c.Recording() {
		t.Error("Recording() = false while live")
	}
	if err := c.StartRecording(ctx); !errors.Is(err, domain.ErrCaptureActive) {
		t.Errorf("second StartRecording() error = %v, want ErrCaptureActive", err)
	}
	if recorder.started != 1 {
		t.Errorf("recorder started %d times", recorder.started)
	}
}

func TestStartRecording_RecorderErrorPropagates(t *testing.T) {
	store := newTestStore(t)
	permErr := errors.New("microphone permission denied")
	recorder := &fakeRecorder{startErr: permErr}
	c := newTestController(t, store, recorder, &fakeSubmitter{}, &fakeTranscriber{})

	if err := c.StartRecording(context.Background()); !errors.Is(err, permErr) {
		t.Errorf("StartRecording() error = %v, want recorder error unchanged", err)
	}
	if c.Recording() {
		t.Error("Recording() = true after failed start")
	}
	// The failed start must not poison the next one.
	recorder.startErr = nil
	if err := c.StartRecording(context.Background()); err != nil {
		t.Errorf("StartRecording() after recovery error = %v", err)
	}
}

func TestStopAndProcess_NoActiveCapture(t *testing.T) {
	store := newTestStore(t)
	c := newTestController(t, store, &fakeRecorder{}, &fakeSubmitter{}, &fakeTranscriber{})

	if _, err := c.StopAndProcess(context.Background()); !errors.Is(err, domain.ErrNoActiveCapture) {
		t.Errorf("StopAndProcess() error = %v, want ErrNoActiveCapture", err)
	}
}

func TestUndoLast_ConfirmedEntryDeletesRemote(t *testing.T) {
	store := newTestStore(t)
	recorder := &fakeRecorder{clipPath: "/clips/goal.m4a"}
	submitter := &fakeSubmitter{}
	c := newTestController(t, store, recorder, submitter, &fakeTranscriber{transcript: goalTranscript})

	captureOnce(t, c)

	result, err := c.UndoLast(context.Background())
	if err != nil {
		t.Fatalf("UndoLast() error = %v", err)
	}
	if !result.RemoteDeleted {
		t.Error("RemoteDeleted = false")
	}
	if len(submitter.deleted) != 1 || submitter.deleted[0] != 1 {
		t.Errorf("deleted remote ids = %v", submitter.deleted)
	}
	if len(c.Events()) != 0 {
		t.Errorf("view = %+v after undo", c.Events())
	}

	// Undo is view-only: the cache row survives.
	events, err := store.EventsForMatch(context.Background(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Errorf("cached events = %d rows after undo, want 1", len(events))
	}
}

func TestUndoLast_RemoteDeleteFailureIsReported(t *testing.T) {
	store := newTestStore(t)
	recorder := &fakeRecorder{clipPath: "/clips/goal.m4a"}
	submitter := &fakeSubmitter{}
	c := newTestController(t, store, recorder, submitter, &fakeTranscriber{transcript: goalTranscript})

	captureOnce(t, c)
	submitter.deleteErr = &domain.SubmissionError{Kind: domain.SubmissionNetwork, Err: errors.New("offline")}

	result, err := c.UndoLast(context.Background())
	if err != nil {
		t.Fatalf("UndoLast() error = %v", err)
	}
	if result.RemoteDeleted {
		t.Error("RemoteDeleted = true despite failing backend")
	}
	if result.RemoteError == "" {
		t.Error("RemoteError empty")
	}
	// Local removal sticks regardless.
	if len(c.Events()) != 0 {
		t.Errorf("view = %+v, local removal rolled back", c.Events())
	}
}

func TestUndoLast_Empty(t *testing.T) {
	store := newTestStore(t)
	c := newTestController(t, store, &fakeRecorder{}, &fakeSubmitter{}, &fakeTranscriber{})

	if _, err := c.UndoLast(context.Background()); !errors.Is(err, domain.ErrNothingToUndo) {
		t.Errorf("UndoLast() error = %v, want ErrNothingToUndo", err)
	}
}

func TestUndoLast_ProvisionalEntrySkipsRemote(t *testing.T) {
	store := newTestStore(t)
	recorder := &fakeRecorder{clipPath: "/clips/goal.m4a"}
	submitter := &fakeSubmitter{
		submitErr: &domain.SubmissionError{Kind: domain.SubmissionNetwork, Err: errors.New("offline")},
	}
	c := newTestController(t, store, recorder, submitter, &fakeTranscriber{transcript: goalTranscript})

	captureOnce(t, c)

	result, err := c.UndoLast(context.Background())
	if err != nil {
		t.Fatalf("UndoLast() error = %v", err)
	}
	if result.RemoteDeleted || len(submitter.deleted) != 0 {
		t.Errorf("remote delete attempted for provisional entry: %+v", result)
	}
}

func TestLoadCachedEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tempID := domain.NewTemporaryID()
	if _, err := store.SaveEvent(ctx, 42, "Yellow card number four",
		domain.ProvisionalPayload("Yellow card number four", tempID), false, ""); err != nil {
		t.Fatal(err)
	}
	server := &domain.ServerEvent{RemoteID: 9, MatchID: 42, EventType: "goal", RawText: goalTranscript}
	if _, err := store.SaveEvent(ctx, 42, goalTranscript,
		domain.ConfirmedPayload(server), true, ""); err != nil {
		t.Fatal(err)
	}
	// Another match's rows must not leak into the view.
	if _, err := store.SaveEvent(ctx, 99, "Other match",
		domain.ProvisionalPayload("Other match", ""), false, ""); err != nil {
		t.Fatal(err)
	}

	c := newTestController(t, store, &fakeRecorder{}, &fakeSubmitter{}, &fakeTranscriber{})
	if err := c.LoadCachedEvents(ctx); err != nil {
		t.Fatalf("LoadCachedEvents() error = %v", err)
	}

	view := c.Events()
	if len(view) != 2 {
		t.Fatalf("view = %d entries, want 2", len(view))
	}
	if view[0].State != ViewProvisional || view[0].TempID != tempID {
		t.Errorf("view[0] = %+v", view[0])
	}
	if view[1].State != ViewConfirmed || view[1].Server == nil || view[1].Server.RemoteID != 9 {
		t.Errorf("view[1] = %+v", view[1])
	}
}
