// Package domain holds the data model shared by the capture, cache,
// and sync layers, plus the error taxonomy they report.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// SyncState mirrors the synced flag persisted with every cached row.
// A row transitions Pending -> Synced at most once and never back.
type SyncState bool

const (
	Pending SyncState = false
	Synced  SyncState = true
)

// EventPayload is the parsed form of a cached event. It is a tagged
// value: either a provisional transcript-only payload produced on the
// device, or the structured event the backend confirmed. Confirmed is
// nil for provisional payloads.
type EventPayload struct {
	EventType string       `json:"event_type"`
	RawText   string       `json:"raw_text,omitempty"`
	TempID    string       `json:"temp_id,omitempty"`
	Confirmed *ServerEvent `json:"confirmed,omitempty"`
}

// ProvisionalPayload builds the payload cached before the backend has
// parsed the transcript.
func ProvisionalPayload(rawText string, tempID TemporaryID) EventPayload {
	return EventPayload{
		EventType: "transcribed_audio",
		RawText:   rawText,
		TempID:    string(tempID),
	}
}

// ConfirmedPayload builds the payload cached once the backend has
// accepted and parsed the event.
func ConfirmedPayload(ev *ServerEvent) EventPayload {
	return EventPayload{
		EventType: ev.EventType,
		RawText:   ev.RawText,
		Confirmed: ev,
	}
}

// Provisional reports whether the payload is still transcript-only.
func (p EventPayload) Provisional() bool {
	return p.Confirmed == nil
}

// CachedEvent is a locally persisted snapshot of one captured event.
// LocalID is assigned by the cache store and is distinct from any
// remote identifier; it never changes for the lifetime of the row.
type CachedEvent struct {
	LocalID    int64        `json:"id"`
	MatchID    int64        `json:"match_id"`
	RawText    string       `json:"raw_text"`
	Payload    EventPayload `json:"parsed_payload"`
	Synced     bool         `json:"synced"`
	CaptureKey string       `json:"capture_key,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// CachedAudio is a locally persisted reference to one recorded clip.
type CachedAudio struct {
	LocalID   int64     `json:"id"`
	MatchID   int64     `json:"match_id"`
	FilePath  string    `json:"file_path"`
	Synced    bool      `json:"synced"`
	CreatedAt time.Time `json:"created_at"`
}

// ServerEvent is the backend's parsed event. It is authoritative;
// local copies are snapshots, never a second source of truth.
type ServerEvent struct {
	RemoteID    int64          `json:"id"`
	MatchID     int64          `json:"match_id"`
	Minute      int            `json:"minute"`
	EventType   string         `json:"event_type"`
	TeamContext string         `json:"team_context"`
	PlayerID    *int64         `json:"player_id,omitempty"`
	RawText     string         `json:"raw_text,omitempty"`
	Meta        map[string]any `json:"meta_json,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Match is the backend's match record together with its events.
type Match struct {
	ID           int64         `json:"id"`
	TeamID       int64         `json:"team_id"`
	OpponentName string        `json:"opponent_name"`
	KickoffAt    time.Time     `json:"kickoff_at"`
	Competition  string        `json:"competition,omitempty"`
	Venue        string        `json:"venue,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	Events       []ServerEvent `json:"events"`
}

// EventUpdate carries the fields a caller may change on a remote
// event. Nil fields are left untouched.
type EventUpdate struct {
	Minute   *int   `json:"minute,omitempty"`
	PlayerID *int64 `json:"player_id,omitempty"`
}

// PlayerStats is the backend's per-player aggregate.
type PlayerStats struct {
	PlayerID         int64   `json:"player_id"`
	PlayerName       string  `json:"player_name"`
	Goals            int     `json:"goals"`
	Assists          int     `json:"assists"`
	Tackles          int     `json:"tackles"`
	PassesCompleted  int     `json:"passes_completed"`
	PassesAttempted  int     `json:"passes_attempted"`
	PassAccuracy     float64 `json:"pass_accuracy"`
	MinutesPlayed    int     `json:"minutes_played"`
	MatchesPlayed    int     `json:"matches_played"`
	YellowCards      int     `json:"yellow_cards"`
	RedCards         int     `json:"red_cards"`
	ShotsOnTarget    int     `json:"shots_on_target"`
	ShotsTotal       int     `json:"shots_total"`
	ShotAccuracy     float64 `json:"shot_accuracy"`
	DuelsWon         int     `json:"duels_won"`
	DuelsTotal       int     `json:"duels_total"`
	DuelWinRate      float64 `json:"duel_win_rate"`
}

// Transcription is the full response from the speech-to-text service.
type Transcription struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence,omitempty"`
	Duration   float64 `json:"duration,omitempty"`
}

// TemporaryID is a client-minted placeholder identifier shown to the
// presentation layer before a server-assigned id exists. It is valid
// only until reconciliation or session end and carries no persistence
// guarantee of its own; durability lives in CachedEvent.
type TemporaryID string

// NewTemporaryID mints a fresh temporary identifier.
func NewTemporaryID() TemporaryID {
	return TemporaryID("temp_" + uuid.New().String())
}

// SyncStats is a read-only view of outstanding sync work.
type SyncStats struct {
	PendingEvents int  `json:"pending_events"`
	PendingAudio  int  `json:"pending_audio"`
	Syncing       bool `json:"syncing"`
}

// CacheStats summarizes both cache tables.
type CacheStats struct {
	TotalEvents   int `json:"total_events"`
	PendingEvents int `json:"pending_events"`
	TotalAudio    int `json:"total_audio"`
	PendingAudio  int `json:"pending_audio"`
}
