package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mentra-Community/recorder-service/internal/audio"
	"github.com/Mentra-Community/recorder-service/internal/metrics"
	"github.com/Mentra-Community/recorder-service/internal/realtime"
	"github.com/Mentra-Community/recorder-service/internal/storage"
	"github.com/Mentra-Community/recorder-service/internal/store"
	"github.com/Mentra-Community/recorder-service/internal/transcript"
)

// Notifier delivers realtime events to a user's connected clients.
// Delivery is best effort; lifecycle decisions never depend on it.
type Notifier interface {
	BroadcastToUser(userID string, ev realtime.Event) error
}

// SessionChecker reports whether a user has a connected device session.
type SessionChecker interface {
	Connected(userID string) bool
}

// Config tunes the lifecycle.
type Config struct {
	// Assembler is applied to every new recording's WAV assembler.
	Assembler audio.AssemblerConfig

	// RequireDevice rejects API-initiated starts when the user has no
	// connected device session. Voice-initiated starts skip the check
	// since the command itself proves the session is up.
	RequireDevice bool
}

// StartOptions control a single Start call.
type StartOptions struct {
	Title          string
	VoiceInitiated bool
}

// activeRecording is the in-memory side of one in-flight recording. The
// database row is authoritative for status; this struct only routes audio
// and transcript callbacks. All field access happens under mu, which also
// serializes stop against late callbacks.
type activeRecording struct {
	mu sync.Mutex

	id        string
	userID    string
	asm       *audio.Assembler
	acc       *transcript.Accumulator
	createdAt time.Time
	stopping  bool
}

// Lifecycle owns the recording state machine: start, live audio and
// transcript ingestion, stop, stale cleanup and the owner-checked CRUD
// surface.
type Lifecycle struct {
	logger   *slog.Logger
	store    *store.Store
	sink     storage.Sink
	notifier Notifier
	sessions SessionChecker
	metrics  *metrics.Metrics
	cfg      Config

	mu           sync.Mutex
	active       map[string]*activeRecording
	activeByUser map[string]string
}

// NewLifecycle wires the lifecycle. notifier, sessions and m may be nil.
func NewLifecycle(logger *slog.Logger, st *store.Store, sink storage.Sink, notifier Notifier, sessions SessionChecker, m *metrics.Metrics, cfg Config) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		logger:       logger,
		store:        st,
		sink:         sink,
		notifier:     notifier,
		sessions:     sessions,
		metrics:      m,
		cfg:          cfg,
		active:       make(map[string]*activeRecording),
		activeByUser: make(map[string]string),
	}
}

func (l *Lifecycle) notify(userID string, ev realtime.Event) {
	if l.notifier == nil {
		return
	}
	if err := l.notifier.BroadcastToUser(userID, ev); err != nil {
		l.logger.Warn("realtime broadcast failed", "user_id", userID, "event", ev.Name, "error", err)
	}
}

// Start creates a new recording for the user. The one-active-per-user limit
// is enforced by the store's insert, so concurrent starts race at the
// database and exactly one wins.
func (l *Lifecycle) Start(ctx context.Context, userID string, opts StartOptions) (*store.Recording, error) {
	if l.cfg.RequireDevice && !opts.VoiceInitiated {
		if l.sessions == nil || !l.sessions.Connected(userID) {
			return nil, ErrSessionUnavailable
		}
	}

	title := opts.Title
	if title == "" {
		title = "Recording " + time.Now().Format("2006-01-02 15:04:05")
	}
	rec := &store.Recording{
		ID:     uuid.NewString(),
		UserID: userID,
		Title:  title,
		Status: store.StatusInitializing,
	}
	if err := l.store.Create(ctx, rec); err != nil {
		if errors.Is(err, store.ErrActiveExists) {
			return nil, ErrAlreadyActive
		}
		return nil, fmt.Errorf("create recording: %w", err)
	}

	asm := audio.NewAssembler(l.sink, userID, rec.ID, l.cfg.Assembler)
	if err := asm.Begin(ctx); err != nil {
		l.logger.Error("storage begin failed", "recording_id", rec.ID, "error", err)
		if serr := l.store.SetError(ctx, rec.ID, err.Error()); serr != nil {
			l.logger.Error("failed to persist error state", "recording_id", rec.ID, "error", serr)
		}
		l.notify(userID, realtime.RecordingError(rec.ID, err.Error()))
		return nil, fmt.Errorf("begin upload: %w", err)
	}
	if err := l.store.SetStorageInitialized(ctx, rec.ID, true); err != nil {
		l.logger.Warn("failed to mark storage initialized", "recording_id", rec.ID, "error", err)
	}
	if err := l.store.SetStatus(ctx, rec.ID, store.StatusRecording); err != nil {
		l.logger.Warn("failed to set recording status", "recording_id", rec.ID, "error", err)
	}
	rec.Status = store.StatusRecording
	rec.StorageInitialized = true

	entry := &activeRecording{
		id:        rec.ID,
		userID:    userID,
		asm:       asm,
		acc:       transcript.NewAccumulator(),
		createdAt: time.Now(),
	}
	l.mu.Lock()
	l.active[rec.ID] = entry
	l.activeByUser[userID] = rec.ID
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.RecordRecordingStarted()
	}
	l.logger.Info("recording started",
		"recording_id", rec.ID, "user_id", userID, "voice_initiated", opts.VoiceInitiated)
	l.notify(userID, realtime.RecordingStatus(rec.ID, string(store.StatusRecording), 0, ""))
	l.notify(userID, realtime.RecordingsRefresh())
	return rec, nil
}

// ActiveCount reports the number of in-flight recordings in this process.
func (l *Lifecycle) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// Active returns the id of the user's in-flight recording, if any.
func (l *Lifecycle) Active(userID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.activeByUser[userID]
	return id, ok
}

func (l *Lifecycle) entryByUser(userID string) *activeRecording {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.activeByUser[userID]
	if !ok {
		return nil
	}
	return l.active[id]
}

func (l *Lifecycle) entryByID(id string) *activeRecording {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[id]
}

func (l *Lifecycle) removeEntry(e *activeRecording) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, e.id)
	if l.activeByUser[e.userID] == e.id {
		delete(l.activeByUser, e.userID)
	}
}

// ProcessAudioChunk feeds one PCM chunk into the user's active recording.
// Chunks for users with no active recording, or arriving after stop began,
// are dropped.
func (l *Lifecycle) ProcessAudioChunk(ctx context.Context, userID string, pcm []byte, sampleRate int) error {
	e := l.entryByUser(userID)
	if e == nil {
		l.logger.Debug("dropping audio chunk with no active recording", "user_id", userID)
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopping {
		l.logger.Debug("dropping audio chunk for stopping recording", "recording_id", e.id)
		return nil
	}

	if l.metrics != nil {
		l.metrics.RecordAudioChunk(len(pcm))
	}
	before := e.asm.DataWritten()
	flushed, err := e.asm.AddChunk(ctx, pcm, sampleRate)
	if err != nil {
		return l.failLocked(ctx, e, fmt.Errorf("write audio: %w", err))
	}
	if flushed {
		if l.metrics != nil {
			l.metrics.RecordFlush(int(e.asm.DataWritten() - before))
		}
		duration := audioSeconds(e.asm.DataWritten(), e.asm.SampleRate())
		if err := l.store.UpdateDuration(ctx, e.id, duration); err != nil {
			l.logger.Warn("failed to persist duration", "recording_id", e.id, "error", err)
		}
		l.notify(userID, realtime.RecordingStatus(e.id, string(store.StatusRecording), duration, ""))
	}
	return nil
}

// HandleTranscription applies one speech segment to the user's active
// recording. Finals append to the transcript; an interim replaces the
// previous interim and is broadcast but only lightly persisted.
func (l *Lifecycle) HandleTranscription(ctx context.Context, userID, text string, isFinal bool, timestamp time.Time) error {
	e := l.entryByUser(userID)
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopping {
		return nil
	}

	if l.metrics != nil {
		l.metrics.RecordTranscriptSegment(isFinal)
	}
	if isFinal {
		full := e.acc.AddFinal(text, timestamp)
		if err := l.store.UpdateTranscript(ctx, e.id, full, e.acc.Chunks(), ""); err != nil {
			l.logger.Warn("failed to persist transcript", "recording_id", e.id, "error", err)
		}
		l.notify(userID, realtime.Transcript(e.id, full, false))
		return nil
	}
	display := e.acc.SetInterim(text)
	if err := l.store.UpdateInterim(ctx, e.id, text); err != nil {
		l.logger.Warn("failed to persist interim", "recording_id", e.id, "error", err)
	}
	l.notify(userID, realtime.Transcript(e.id, display, true))
	return nil
}

// failLocked marks an in-flight recording as failed. Caller holds e.mu.
func (l *Lifecycle) failLocked(ctx context.Context, e *activeRecording, cause error) error {
	e.stopping = true
	l.logger.Error("recording failed", "recording_id", e.id, "error", cause)
	if err := l.store.SetError(ctx, e.id, cause.Error()); err != nil {
		l.logger.Error("failed to persist error state", "recording_id", e.id, "error", err)
	}
	l.notify(e.userID, realtime.RecordingError(e.id, cause.Error()))
	l.notify(e.userID, realtime.RecordingsRefresh())
	if l.metrics != nil {
		l.metrics.RecordRecordingFailed()
	}
	l.removeEntry(e)
	return cause
}

// Stop finalizes the user's recording. Stopping an already terminal
// recording is a no-op; concurrent stops finalize exactly once.
func (l *Lifecycle) Stop(ctx context.Context, userID, id string) (*store.Recording, error) {
	e := l.entryByID(id)
	if e == nil {
		return l.stopWithoutEntry(ctx, userID, id)
	}
	if e.userID != userID {
		return nil, ErrForbidden
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopping {
		return l.getOwned(ctx, userID, id)
	}
	e.stopping = true

	// Persist and announce STOPPING before any storage work so clients
	// see the transition even if finalization is slow.
	if err := l.store.SetStatus(ctx, id, store.StatusStopping); err != nil {
		l.logger.Warn("failed to set stopping status", "recording_id", id, "error", err)
	}
	l.notify(userID, realtime.RecordingStatus(id, string(store.StatusStopping),
		audioSeconds(e.asm.DataWritten(), e.asm.SampleRate()), ""))

	if e.acc.FlushInterimAsFinal(time.Now()) {
		if err := l.store.UpdateTranscript(ctx, id, e.acc.Transcript(), e.acc.Chunks(), ""); err != nil {
			l.logger.Warn("failed to persist transcript", "recording_id", id, "error", err)
		}
	}

	url, err := e.asm.Finalize(ctx)
	if err != nil {
		ferr := fmt.Errorf("finalize upload: %w", err)
		l.logger.Error("recording failed", "recording_id", id, "error", ferr)
		if serr := l.store.SetError(ctx, id, ferr.Error()); serr != nil {
			l.logger.Error("failed to persist error state", "recording_id", id, "error", serr)
		}
		l.notify(userID, realtime.RecordingError(id, ferr.Error()))
		l.notify(userID, realtime.RecordingsRefresh())
		if l.metrics != nil {
			l.metrics.RecordRecordingFailed()
		}
		l.removeEntry(e)
		return nil, ferr
	}

	duration := audioSeconds(e.asm.DataWritten(), e.asm.SampleRate())
	size := audio.HeaderSize + e.asm.DataWritten()
	if err := l.store.Complete(ctx, id, url, size, duration); err != nil {
		l.removeEntry(e)
		return nil, fmt.Errorf("complete recording: %w", err)
	}
	if l.metrics != nil {
		l.metrics.RecordRecordingCompleted(duration)
	}
	l.logger.Info("recording completed",
		"recording_id", id, "user_id", userID, "duration_seconds", duration, "size_bytes", size)
	l.notify(userID, realtime.RecordingStatus(id, string(store.StatusCompleted), duration, url))
	l.notify(userID, realtime.RecordingsRefresh())
	l.removeEntry(e)

	return l.getOwned(ctx, userID, id)
}

// stopWithoutEntry handles a stop for a recording with no in-memory state.
// Terminal rows no-op; an active row means the process lost its session
// state (restart) and the durable bytes are finalized as-is.
func (l *Lifecycle) stopWithoutEntry(ctx context.Context, userID, id string) (*store.Recording, error) {
	rec, err := l.getOwned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return rec, nil
	}

	l.logger.Warn("stopping recording with no in-memory state", "recording_id", id)
	if !rec.StorageInitialized {
		if err := l.store.SetError(ctx, id, "no audio was captured"); err != nil {
			return nil, fmt.Errorf("persist error state: %w", err)
		}
		l.notify(userID, realtime.RecordingsRefresh())
		return l.getOwned(ctx, userID, id)
	}

	asm := audio.NewAssembler(l.sink, userID, id, l.cfg.Assembler)
	if err := asm.Begin(ctx); err != nil {
		return nil, fmt.Errorf("reopen upload: %w", err)
	}
	url, err := asm.Finalize(ctx)
	if err != nil {
		return nil, fmt.Errorf("finalize upload: %w", err)
	}
	duration := audioSeconds(asm.DataWritten(), asm.SampleRate())
	size := audio.HeaderSize + asm.DataWritten()
	if err := l.store.Complete(ctx, id, url, size, duration); err != nil {
		return nil, fmt.Errorf("complete recording: %w", err)
	}
	l.notify(userID, realtime.RecordingStatus(id, string(store.StatusCompleted), duration, url))
	l.notify(userID, realtime.RecordingsRefresh())
	return l.getOwned(ctx, userID, id)
}

// StopActive stops the user's active recording, if any.
func (l *Lifecycle) StopActive(ctx context.Context, userID string) (*store.Recording, error) {
	id, ok := l.Active(userID)
	if !ok {
		rec, err := l.store.FindActive(ctx, userID)
		if err != nil || rec == nil {
			return nil, err
		}
		id = rec.ID
	}
	return l.Stop(ctx, userID, id)
}

// StopAll stops every in-flight recording. Used on shutdown.
func (l *Lifecycle) StopAll(ctx context.Context) {
	l.mu.Lock()
	entries := make([]*activeRecording, 0, len(l.active))
	for _, e := range l.active {
		entries = append(entries, e)
	}
	l.mu.Unlock()

	for _, e := range entries {
		if _, err := l.Stop(ctx, e.userID, e.id); err != nil {
			l.logger.Error("failed to stop recording on shutdown", "recording_id", e.id, "error", err)
		}
	}
}

// CleanupStale marks the user's orphaned active rows as failed. A row is
// orphaned when the database says active but this process has no session
// state for it, which happens after a crash or an unclean disconnect.
// Durable audio is finalized so the partial file stays playable. Returns
// the number of rows cleaned.
func (l *Lifecycle) CleanupStale(ctx context.Context, userID string) (int, error) {
	rows, err := l.store.FindStuckBefore(ctx, userID, time.Now())
	if err != nil {
		return 0, fmt.Errorf("find stale recordings: %w", err)
	}

	cleaned := 0
	for i := range rows {
		rec := &rows[i]
		if e := l.entryByID(rec.ID); e != nil {
			continue
		}
		l.logger.Warn("cleaning up stale recording", "recording_id", rec.ID, "user_id", userID)

		if rec.StorageInitialized {
			asm := audio.NewAssembler(l.sink, userID, rec.ID, l.cfg.Assembler)
			if err := asm.Begin(ctx); err == nil {
				if url, ferr := asm.Finalize(ctx); ferr == nil {
					if serr := l.store.SetFileURL(ctx, rec.ID, url); serr != nil {
						l.logger.Warn("failed to persist file url", "recording_id", rec.ID, "error", serr)
					}
				} else {
					l.logger.Warn("failed to finalize stale upload", "recording_id", rec.ID, "error", ferr)
				}
			}
		}
		if err := l.store.SetError(ctx, rec.ID, "recording interrupted by session disconnect"); err != nil {
			l.logger.Error("failed to mark stale recording", "recording_id", rec.ID, "error", err)
			continue
		}
		cleaned++
	}
	if cleaned > 0 {
		l.notify(userID, realtime.RecordingsRefresh())
	}
	return cleaned, nil
}

// Get returns a recording after checking ownership.
func (l *Lifecycle) Get(ctx context.Context, userID, id string) (*store.Recording, error) {
	return l.getOwned(ctx, userID, id)
}

// List returns the user's recordings, newest first.
func (l *Lifecycle) List(ctx context.Context, userID string) ([]store.Recording, error) {
	return l.store.ListByUser(ctx, userID)
}

// Rename changes a recording's title.
func (l *Lifecycle) Rename(ctx context.Context, userID, id, title string) (*store.Recording, error) {
	if _, err := l.getOwned(ctx, userID, id); err != nil {
		return nil, err
	}
	if err := l.store.Rename(ctx, id, title); err != nil {
		return nil, fmt.Errorf("rename recording: %w", err)
	}
	l.notify(userID, realtime.RecordingsRefresh())
	return l.getOwned(ctx, userID, id)
}

// Delete removes a recording's row and stored audio. Deleting an in-flight
// recording abandons the upload without finalizing it.
func (l *Lifecycle) Delete(ctx context.Context, userID, id string) error {
	if _, err := l.getOwned(ctx, userID, id); err != nil {
		return err
	}
	if e := l.entryByID(id); e != nil {
		e.mu.Lock()
		e.stopping = true
		e.mu.Unlock()
		l.removeEntry(e)
		if l.metrics != nil {
			l.metrics.RecordRecordingFailed()
		}
	}
	if err := l.sink.Delete(ctx, userID, id); err != nil {
		l.logger.Warn("failed to delete stored audio", "recording_id", id, "error", err)
	}
	if err := l.store.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete recording: %w", err)
	}
	l.notify(userID, realtime.RecordingsRefresh())
	return nil
}

// Download returns the stored WAV bytes after checking ownership.
func (l *Lifecycle) Download(ctx context.Context, userID, id string) ([]byte, *store.Recording, error) {
	rec, err := l.getOwned(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := l.sink.Read(ctx, userID, id)
	if err != nil {
		return nil, nil, fmt.Errorf("read stored audio: %w", err)
	}
	return data, rec, nil
}

func (l *Lifecycle) getOwned(ctx context.Context, userID, id string) (*store.Recording, error) {
	rec, err := l.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if rec.UserID != userID {
		return nil, ErrForbidden
	}
	return rec, nil
}

// audioSeconds derives a recording's duration from the durable audio
// bytes at the effective sample rate, not from wall-clock elapsed time.
// The two differ when chunks are dropped or the device pauses; the
// playable length of the WAV is what is reported.
func audioSeconds(dataBytes int64, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	// 16-bit mono PCM
	return float64(dataBytes) / float64(sampleRate*2)
}
