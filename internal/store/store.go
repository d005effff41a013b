package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Mentra-Community/recorder-service/internal/transcript"
)

var (
	// ErrNotFound is returned when no recording exists for the given id.
	ErrNotFound = errors.New("recording not found")

	// ErrActiveExists is returned when creating an active recording for a
	// user who already holds the active-recording reservation.
	ErrActiveExists = errors.New("user already has an active recording")
)

// Store persists recordings through GORM on sqlite or postgres.
type Store struct {
	db *gorm.DB
}

// Open connects to the database, migrates the schema and returns a Store.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&Recording{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Create inserts a new recording. For active statuses the ActiveUser column
// is set so the unique index enforces one active recording per user; a
// conflicting insert returns ErrActiveExists.
func (s *Store) Create(ctx context.Context, rec *Recording) error {
	if rec.Status.Active() {
		user := rec.UserID
		rec.ActiveUser = &user
	}

	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("user %s: %w", rec.UserID, ErrActiveExists)
		}
		return fmt.Errorf("failed to create recording: %w", err)
	}
	return nil
}

// Get returns the recording with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Recording, error) {
	var rec Recording
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("recording %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load recording %s: %w", id, err)
	}
	return &rec, nil
}

// ListByUser returns all recordings owned by the user, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Recording, error) {
	var recs []Recording
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings for %s: %w", userID, err)
	}
	return recs, nil
}

// FindActive returns the user's recording in an active state, or nil when
// there is none.
func (s *Store) FindActive(ctx context.Context, userID string) (*Recording, error) {
	var rec Recording
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID,
			[]Status{StatusInitializing, StatusRecording, StatusStopping}).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active recording for %s: %w", userID, err)
	}
	return &rec, nil
}

// FindStuckBefore returns the user's active-state recordings created before
// the cutoff, used to sweep rows left behind by a prior process lifetime.
func (s *Store) FindStuckBefore(ctx context.Context, userID string, cutoff time.Time) ([]Recording, error) {
	var recs []Recording
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status IN ? AND created_at < ?", userID,
			[]Status{StatusInitializing, StatusRecording, StatusStopping}, cutoff).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find stuck recordings for %s: %w", userID, err)
	}
	return recs, nil
}

func (s *Store) update(ctx context.Context, id string, fields map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&Recording{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update recording %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("recording %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetStatus transitions the recording to a non-terminal status.
func (s *Store) SetStatus(ctx context.Context, id string, status Status) error {
	return s.update(ctx, id, map[string]interface{}{"status": status})
}

// SetStorageInitialized records that a streaming upload exists for the
// recording.
func (s *Store) SetStorageInitialized(ctx context.Context, id string, initialized bool) error {
	return s.update(ctx, id, map[string]interface{}{"storage_initialized": initialized})
}

// UpdateTranscript persists the recomputed transcript projection, the chunk
// list and the cleared interim after a final chunk.
func (s *Store) UpdateTranscript(ctx context.Context, id, text string, chunks []transcript.Chunk, interim string) error {
	return s.update(ctx, id, map[string]interface{}{
		"transcript":        text,
		"transcript_chunks": chunks,
		"current_interim":   interim,
	})
}

// UpdateInterim persists only the raw pending interim; the display string is
// always recomputed, never stored.
func (s *Store) UpdateInterim(ctx context.Context, id, interim string) error {
	return s.update(ctx, id, map[string]interface{}{"current_interim": interim})
}

// UpdateDuration refreshes the opportunistic duration value.
func (s *Store) UpdateDuration(ctx context.Context, id string, seconds float64) error {
	return s.update(ctx, id, map[string]interface{}{"duration_seconds": seconds})
}

// Complete transitions the recording to COMPLETED, releasing the active
// reservation and recording the finalized object.
func (s *Store) Complete(ctx context.Context, id, fileURL string, size int64, seconds float64) error {
	return s.update(ctx, id, map[string]interface{}{
		"status":           StatusCompleted,
		"active_user":      nil,
		"file_url":         fileURL,
		"size_bytes":       size,
		"duration_seconds": seconds,
		"current_interim":  "",
	})
}

// SetError transitions the recording to ERROR with the failure message,
// releasing the active reservation.
func (s *Store) SetError(ctx context.Context, id, message string) error {
	return s.update(ctx, id, map[string]interface{}{
		"status":        StatusError,
		"active_user":   nil,
		"error_message": message,
	})
}

// SetFileURL records the finalized object reference without changing status,
// used by the best-effort finalize during stale cleanup.
func (s *Store) SetFileURL(ctx context.Context, id, fileURL string) error {
	return s.update(ctx, id, map[string]interface{}{"file_url": fileURL})
}

// Rename updates the human label.
func (s *Store) Rename(ctx context.Context, id, title string) error {
	return s.update(ctx, id, map[string]interface{}{"title": title})
}

// Delete removes the recording row.
func (s *Store) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&Recording{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete recording %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("recording %s: %w", id, ErrNotFound)
	}
	return nil
}
