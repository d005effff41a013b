package store

import (
	"time"

	"github.com/Mentra-Community/recorder-service/internal/transcript"
)

// Status is the recording lifecycle state
type Status string

const (
	StatusInitializing Status = "INITIALIZING"
	StatusRecording    Status = "RECORDING"
	StatusStopping     Status = "STOPPING"
	StatusCompleted    Status = "COMPLETED"
	StatusError        Status = "ERROR"
)

// Active reports whether the status counts against the one-active-recording
// -per-user limit.
func (s Status) Active() bool {
	switch s {
	case StatusInitializing, StatusRecording, StatusStopping:
		return true
	}
	return false
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Recording is the persisted record of one capture. The database row is the
// single source of truth for status; in-memory session state is only a
// routing cache.
type Recording struct {
	ID     string `gorm:"primaryKey;size:36" json:"id"`
	UserID string `gorm:"size:128;not null;index:idx_recordings_user_created,priority:1" json:"userId"`
	Title  string `gorm:"size:256" json:"title"`
	Status Status `gorm:"size:16;not null" json:"status"`

	// ActiveUser mirrors UserID while Status is in the active set and is
	// NULL on terminal states. The unique index turns start into an
	// atomic reservation: a second active insert for the same user fails
	// at the database, not in a check-then-write race.
	ActiveUser *string `gorm:"size:128;uniqueIndex:uq_recordings_active_user" json:"-"`

	Transcript       string             `json:"transcript"`
	TranscriptChunks []transcript.Chunk `gorm:"serializer:json" json:"transcriptChunks"`
	CurrentInterim   string             `json:"currentInterim,omitempty"`

	DurationSeconds float64 `json:"duration"`

	StorageInitialized bool   `json:"storageInitialized"`
	FileURL            string `json:"fileUrl,omitempty"`
	SizeBytes          int64  `json:"size,omitempty"`

	ErrorMessage string `json:"error,omitempty"`

	CreatedAt time.Time `gorm:"index:idx_recordings_user_created,priority:2" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
