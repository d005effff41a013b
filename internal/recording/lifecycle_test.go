package recording

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Mentra-Community/recorder-service/internal/audio"
	"github.com/Mentra-Community/recorder-service/internal/realtime"
	"github.com/Mentra-Community/recorder-service/internal/storage"
	"github.com/Mentra-Community/recorder-service/internal/store"
)

type fakeNotifier struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (f *fakeNotifier) BroadcastToUser(userID string, ev realtime.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeNotifier) byName(name realtime.Name) []realtime.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []realtime.Event
	for _, ev := range f.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

type fakeSessions struct{ connected bool }

func (f *fakeSessions) Connected(userID string) bool { return f.connected }

type testEnv struct {
	lifecycle *Lifecycle
	store     *store.Store
	sink      *storage.LocalSink
	notifier  *fakeNotifier
	dir       string
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open("sqlite", "file:"+filepath.Join(dir, "test.db")+"?_busy_timeout=5000")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	sink, err := storage.NewLocalSink(filepath.Join(dir, "recordings"))
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	notifier := &fakeNotifier{}
	l := NewLifecycle(nil, st, sink, notifier, &fakeSessions{connected: true}, nil, cfg)
	return &testEnv{lifecycle: l, store: st, sink: sink, notifier: notifier, dir: dir}
}

func TestStart_CreatesActiveRecording(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	rec, err := env.lifecycle.Start(ctx, "alice", StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if rec.Status != store.StatusRecording {
		t.Errorf("status = %s, want %s", rec.Status, store.StatusRecording)
	}
	if !rec.StorageInitialized {
		t.Error("expected storage initialized")
	}
	if id, ok := env.lifecycle.Active("alice"); !ok || id != rec.ID {
		t.Errorf("Active = (%q, %v), want (%q, true)", id, ok, rec.ID)
	}
	if got := env.notifier.byName(realtime.EventRecordingStatus); len(got) == 0 {
		t.Error("expected a recording-status event")
	}
}

func TestStart_SecondActiveRejected(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	if _, err := env.lifecycle.Start(ctx, "alice", StartOptions{}); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := env.lifecycle.Start(ctx, "alice", StartOptions{}); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second start err = %v, want ErrAlreadyActive", err)
	}
	// A different user is unaffected.
	if _, err := env.lifecycle.Start(ctx, "bob", StartOptions{}); err != nil {
		t.Fatalf("other user start: %v", err)
	}
}

func TestStart_RequiresDeviceSession(t *testing.T) {
	env := newTestEnv(t, Config{RequireDevice: true})
	env.lifecycle.sessions = &fakeSessions{connected: false}
	ctx := context.Background()

	if _, err := env.lifecycle.Start(ctx, "alice", StartOptions{}); !errors.Is(err, ErrSessionUnavailable) {
		t.Fatalf("start err = %v, want ErrSessionUnavailable", err)
	}
	// A voice command proves the session exists, so the check is skipped.
	if _, err := env.lifecycle.Start(ctx, "alice", StartOptions{VoiceInitiated: true}); err != nil {
		t.Fatalf("voice start: %v", err)
	}
}

func TestAudioRoundTrip(t *testing.T) {
	env := newTestEnv(t, Config{Assembler: audio.AssemblerConfig{SampleRate: 16000}})
	ctx := context.Background()

	rec, err := env.lifecycle.Start(ctx, "alice", StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	pcm := make([]byte, 32000) // one second at 16 kHz mono 16-bit
	for i := range pcm {
		pcm[i] = byte(i)
	}
	if err := env.lifecycle.ProcessAudioChunk(ctx, "alice", pcm, 16000); err != nil {
		t.Fatalf("process chunk: %v", err)
	}
	stopped, err := env.lifecycle.Stop(ctx, "alice", rec.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.Status != store.StatusCompleted {
		t.Errorf("status = %s, want %s", stopped.Status, store.StatusCompleted)
	}
	if stopped.DurationSeconds != 1.0 {
		t.Errorf("duration = %v, want 1.0", stopped.DurationSeconds)
	}

	data, _, err := env.lifecycle.Download(ctx, "alice", rec.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if len(data) != audio.HeaderSize+len(pcm) {
		t.Fatalf("file size = %d, want %d", len(data), audio.HeaderSize+len(pcm))
	}
	if err := audio.ValidateWAV(data); err != nil {
		t.Fatalf("invalid WAV: %v", err)
	}
	h, err := audio.ParseHeader(data)
	if err != nil {
		t.Fatalf("parse header: %v", err)
	}
	if int(h.Subchunk2Size) != len(pcm) {
		t.Errorf("header data length = %d, want %d", h.Subchunk2Size, len(pcm))
	}
}

func TestStop_Idempotent(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	rec, err := env.lifecycle.Start(ctx, "alice", StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	first, err := env.lifecycle.Stop(ctx, "alice", rec.ID)
	if err != nil {
		t.Fatalf("first stop: %v", err)
	}
	second, err := env.lifecycle.Stop(ctx, "alice", rec.ID)
	if err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if first.Status != store.StatusCompleted || second.Status != store.StatusCompleted {
		t.Errorf("statuses = %s, %s, want COMPLETED", first.Status, second.Status)
	}
	if first.SizeBytes != second.SizeBytes {
		t.Errorf("size changed across stops: %d vs %d", first.SizeBytes, second.SizeBytes)
	}
}

func TestStop_ConcurrentFinalizesOnce(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	rec, err := env.lifecycle.Start(ctx, "alice", StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := env.lifecycle.ProcessAudioChunk(ctx, "alice", make([]byte, 1024), 16000); err != nil {
		t.Fatalf("process chunk: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.lifecycle.Stop(ctx, "alice", rec.ID)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("stop %d: %v", i, err)
		}
	}

	data, _, err := env.lifecycle.Download(ctx, "alice", rec.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if len(data) != audio.HeaderSize+1024 {
		t.Errorf("file size = %d, want %d", len(data), audio.HeaderSize+1024)
	}
	if err := audio.ValidateWAV(data); err != nil {
		t.Errorf("invalid WAV after concurrent stops: %v", err)
	}
}

func TestProcessAudioChunk_NoActiveRecording(t *testing.T) {
	env := newTestEnv(t, Config{})

	if err := env.lifecycle.ProcessAudioChunk(context.Background(), "alice", make([]byte, 512), 16000); err != nil {
		t.Fatalf("expected silent drop, got %v", err)
	}
}

func TestProcessAudioChunk_AfterStopDropped(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	rec, err := env.lifecycle.Start(ctx, "alice", StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.lifecycle.Stop(ctx, "alice", rec.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := env.lifecycle.ProcessAudioChunk(ctx, "alice", make([]byte, 512), 16000); err != nil {
		t.Fatalf("late chunk err = %v, want nil", err)
	}
	data, _, err := env.lifecycle.Download(ctx, "alice", rec.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if len(data) != audio.HeaderSize {
		t.Errorf("file size = %d, late chunk was written", len(data))
	}
}

func TestTranscriptFlow(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	now := time.Now()

	rec, err := env.lifecycle.Start(ctx, "alice", StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := env.lifecycle.HandleTranscription(ctx, "alice", "hello", true, now); err != nil {
		t.Fatalf("final 1: %v", err)
	}
	if err := env.lifecycle.HandleTranscription(ctx, "alice", "world", true, now); err != nil {
		t.Fatalf("final 2: %v", err)
	}
	if err := env.lifecycle.HandleTranscription(ctx, "alice", "wor", false, now); err != nil {
		t.Fatalf("interim: %v", err)
	}

	events := env.notifier.byName(realtime.EventTranscript)
	if len(events) != 3 {
		t.Fatalf("transcript events = %d, want 3", len(events))
	}
	last := events[2].Payload.(realtime.TranscriptPayload)
	if last.Text != "hello world wor" || !last.IsInterim {
		t.Errorf("interim payload = %+v", last)
	}

	// Stop promotes the pending interim to a final segment.
	stopped, err := env.lifecycle.Stop(ctx, "alice", rec.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.Transcript != "hello world wor" {
		t.Errorf("final transcript = %q, want %q", stopped.Transcript, "hello world wor")
	}
	if stopped.CurrentInterim != "" {
		t.Errorf("interim = %q, want empty after stop", stopped.CurrentInterim)
	}
	if len(stopped.TranscriptChunks) != 3 {
		t.Errorf("chunks = %d, want 3", len(stopped.TranscriptChunks))
	}
}

func TestStop_RestartRecovery(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	rec, err := env.lifecycle.Start(ctx, "alice", StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// A new lifecycle over the same store and storage directory stands in
	// for a restarted process: the row is active but no session state
	// exists for it.
	sink, err := storage.NewLocalSink(filepath.Join(env.dir, "recordings"))
	if err != nil {
		t.Fatalf("reopen sink: %v", err)
	}
	restarted := NewLifecycle(nil, env.store, sink, env.notifier, nil, nil, Config{})

	stopped, err := restarted.Stop(ctx, "alice", rec.ID)
	if err != nil {
		t.Fatalf("stop after restart: %v", err)
	}
	if stopped.Status != store.StatusCompleted {
		t.Errorf("status = %s, want %s", stopped.Status, store.StatusCompleted)
	}
	data, _, err := restarted.Download(ctx, "alice", rec.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if len(data) != audio.HeaderSize {
		t.Errorf("file size = %d, want header-only %d", len(data), audio.HeaderSize)
	}
	if err := audio.ValidateWAV(data); err != nil {
		t.Errorf("invalid WAV: %v", err)
	}
}

func TestCleanupStale(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	rec, err := env.lifecycle.Start(ctx, "alice", StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Simulate a restart: fresh lifecycle, no in-memory entry for the row.
	sink, err := storage.NewLocalSink(filepath.Join(env.dir, "recordings"))
	if err != nil {
		t.Fatalf("reopen sink: %v", err)
	}
	restarted := NewLifecycle(nil, env.store, sink, env.notifier, nil, nil, Config{})

	refreshesBefore := len(env.notifier.byName(realtime.EventRecordingsRefresh))
	cleaned, err := restarted.CleanupStale(ctx, "alice")
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if cleaned != 1 {
		t.Fatalf("cleaned = %d, want 1", cleaned)
	}
	if got := len(env.notifier.byName(realtime.EventRecordingsRefresh)); got != refreshesBefore+1 {
		t.Errorf("recordings-refresh events after sweep = %d, want %d", got, refreshesBefore+1)
	}

	got, err := env.store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.StatusError {
		t.Errorf("status = %s, want %s", got.Status, store.StatusError)
	}
	if !strings.Contains(got.ErrorMessage, "interrupted") {
		t.Errorf("error message = %q, want it to mention the interruption", got.ErrorMessage)
	}
	if got.FileURL == "" {
		t.Error("expected durable bytes to be finalized with a file url")
	}

	// The reservation is released, so a new recording can start.
	if _, err := restarted.Start(ctx, "alice", StartOptions{}); err != nil {
		t.Fatalf("start after cleanup: %v", err)
	}
}

func TestCleanupStale_SkipsLiveRecordings(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	rec, err := env.lifecycle.Start(ctx, "alice", StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	cleaned, err := env.lifecycle.CleanupStale(ctx, "alice")
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if cleaned != 0 {
		t.Fatalf("cleaned = %d, want 0 for a live recording", cleaned)
	}
	got, err := env.store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.StatusRecording {
		t.Errorf("status = %s, live recording was touched", got.Status)
	}
}

func TestOwnershipChecks(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	rec, err := env.lifecycle.Start(ctx, "alice", StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := env.lifecycle.Get(ctx, "bob", rec.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("get err = %v, want ErrForbidden", err)
	}
	if _, err := env.lifecycle.Stop(ctx, "bob", rec.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("stop err = %v, want ErrForbidden", err)
	}
	if err := env.lifecycle.Delete(ctx, "bob", rec.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("delete err = %v, want ErrForbidden", err)
	}
	if _, err := env.lifecycle.Get(ctx, "alice", "no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get missing err = %v, want ErrNotFound", err)
	}
}

func TestDelete_RemovesRowAndAudio(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	rec, err := env.lifecycle.Start(ctx, "alice", StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.lifecycle.Stop(ctx, "alice", rec.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := env.lifecycle.Delete(ctx, "alice", rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.lifecycle.Get(ctx, "alice", rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete err = %v, want ErrNotFound", err)
	}
	if _, _, err := env.lifecycle.Download(ctx, "alice", rec.ID); err == nil {
		t.Error("expected download to fail after delete")
	}
}

func TestRename(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	rec, err := env.lifecycle.Start(ctx, "alice", StartOptions{Title: "before"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	got, err := env.lifecycle.Rename(ctx, "alice", rec.ID, "after")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if got.Title != "after" {
		t.Errorf("title = %q, want %q", got.Title, "after")
	}
}

func TestStopActive(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	// No active recording is a silent no-op.
	rec, err := env.lifecycle.StopActive(ctx, "alice")
	if err != nil || rec != nil {
		t.Fatalf("stop with nothing active = (%v, %v), want (nil, nil)", rec, err)
	}

	started, err := env.lifecycle.Start(ctx, "alice", StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	stopped, err := env.lifecycle.StopActive(ctx, "alice")
	if err != nil {
		t.Fatalf("stop active: %v", err)
	}
	if stopped.ID != started.ID || stopped.Status != store.StatusCompleted {
		t.Errorf("stopped = %+v", stopped)
	}
}

func TestStatusEventPayloadShape(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	rec, err := env.lifecycle.Start(ctx, "alice", StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.lifecycle.Stop(ctx, "alice", rec.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}

	events := env.notifier.byName(realtime.EventRecordingStatus)
	if len(events) < 3 {
		t.Fatalf("status events = %d, want at least start, stopping and completed", len(events))
	}
	last := events[len(events)-1].Payload.(realtime.RecordingStatusPayload)
	if last.Status != string(store.StatusCompleted) || last.FileURL == "" {
		t.Errorf("final status payload = %+v", last)
	}
	if _, err := json.Marshal(last); err != nil {
		t.Errorf("payload not serializable: %v", err)
	}
}

func TestStop_RestartRecoveryKeepsSampleRate(t *testing.T) {
	env := newTestEnv(t, Config{Assembler: audio.AssemblerConfig{
		SampleRate:     16000,
		FlushThreshold: 1024,
	}})
	ctx := context.Background()

	rec, err := env.lifecycle.Start(ctx, "alice", StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	// Large enough to flush, so the durable header carries the
	// chunk-specified 8 kHz rate.
	if err := env.lifecycle.ProcessAudioChunk(ctx, "alice", make([]byte, 4096), 8000); err != nil {
		t.Fatalf("process chunk: %v", err)
	}

	sink, err := storage.NewLocalSink(filepath.Join(env.dir, "recordings"))
	if err != nil {
		t.Fatalf("reopen sink: %v", err)
	}
	restarted := NewLifecycle(nil, env.store, sink, env.notifier, nil, nil, Config{})

	stopped, err := restarted.Stop(ctx, "alice", rec.ID)
	if err != nil {
		t.Fatalf("stop after restart: %v", err)
	}

	data, _, err := restarted.Download(ctx, "alice", rec.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	h, err := audio.ParseHeader(data)
	if err != nil {
		t.Fatalf("parse header: %v", err)
	}
	if h.SampleRate != 8000 {
		t.Errorf("finalized header sample rate = %d, want 8000", h.SampleRate)
	}
	if want := 4096.0 / (8000 * 2); stopped.DurationSeconds != want {
		t.Errorf("duration = %v, want %v", stopped.DurationSeconds, want)
	}
}
