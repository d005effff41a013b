package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Mentra-Community/recorder-service/internal/metrics"
	"github.com/Mentra-Community/recorder-service/internal/recording"
)

const cardDuration = 3 * time.Second

// Binder connects device sessions to the recording lifecycle. Attaching a
// session sweeps the user's stale recordings, wires the audio and
// transcription callbacks, and registers the session so API starts can
// require a connected device.
type Binder struct {
	logger    *slog.Logger
	lifecycle *recording.Lifecycle
	registry  *Registry
	metrics   *metrics.Metrics
	locale    string
}

// NewBinder wires a binder. m may be nil.
func NewBinder(logger *slog.Logger, lc *recording.Lifecycle, reg *Registry, m *metrics.Metrics, locale string) *Binder {
	if logger == nil {
		logger = slog.Default()
	}
	if locale == "" {
		locale = "en-US"
	}
	return &Binder{
		logger:    logger,
		lifecycle: lc,
		registry:  reg,
		metrics:   m,
		locale:    locale,
	}
}

// Sessions reports the number of currently bound device sessions.
func (s *Binder) Sessions() int {
	return s.registry.Count()
}

// Binding is one user's live connection between a device session and the
// recorder.
type Binding struct {
	binder *Binder
	userID string
	sess   DeviceSession

	mu     sync.Mutex
	unsubs []func()
	closed bool
}

// Attach binds a device session for the user. A session already bound for
// the same user is replaced without disturbing any in-flight recording.
func (s *Binder) Attach(userID string, sess DeviceSession) *Binding {
	if cleaned, err := s.lifecycle.CleanupStale(context.Background(), userID); err != nil {
		s.logger.Error("stale recording sweep failed", "user_id", userID, "error", err)
	} else if cleaned > 0 {
		s.logger.Info("swept stale recordings", "user_id", userID, "count", cleaned)
	}

	b := &Binding{binder: s, userID: userID, sess: sess}
	if old := s.registry.swap(userID, b); old != nil {
		s.logger.Info("replacing device session", "user_id", userID)
		old.close()
	}

	b.subscribe(
		sess.OnAudioChunk(b.handleAudio),
		sess.OnTranscription(s.locale, b.handleTranscription),
		sess.OnDisconnected(func(reason string) { s.detach(b, reason) }),
	)

	if s.metrics != nil {
		s.metrics.RecordSessionAttached()
	}
	s.logger.Info("device session attached", "user_id", userID, "locale", s.locale)
	return b
}

// Detach drops the user's session, stopping any in-flight recording first.
func (s *Binder) Detach(userID, reason string) {
	if b, ok := s.registry.Lookup(userID); ok {
		s.detach(b, reason)
	}
}

func (s *Binder) detach(b *Binding, reason string) {
	if !s.registry.remove(b.userID, b) {
		return
	}
	b.close()

	if rec, err := s.lifecycle.StopActive(context.Background(), b.userID); err != nil {
		s.logger.Error("failed to stop recording on disconnect", "user_id", b.userID, "error", err)
	} else if rec != nil {
		s.logger.Info("stopped recording on disconnect", "user_id", b.userID, "recording_id", rec.ID)
	}

	if s.metrics != nil {
		s.metrics.RecordSessionDetached()
	}
	s.logger.Info("device session detached", "user_id", b.userID, "reason", reason)
}

func (b *Binding) subscribe(unsubs ...func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		for _, u := range unsubs {
			if u != nil {
				u()
			}
		}
		return
	}
	b.unsubs = append(b.unsubs, unsubs...)
}

func (b *Binding) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, u := range b.unsubs {
		if u != nil {
			u()
		}
	}
	b.unsubs = nil
}

func (b *Binding) handleAudio(chunk AudioChunk) {
	err := b.binder.lifecycle.ProcessAudioChunk(context.Background(), b.userID, chunk.PCM, chunk.SampleRate)
	if err != nil {
		b.binder.logger.Error("audio chunk failed", "user_id", b.userID, "error", err)
	}
}

func (b *Binding) handleTranscription(ev TranscriptionEvent) {
	ctx := context.Background()
	if ev.IsFinal {
		if cmd, ok := matchCommand(ev.Text); ok {
			b.handleCommand(ctx, cmd)
			return
		}
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if err := b.binder.lifecycle.HandleTranscription(ctx, b.userID, ev.Text, ev.IsFinal, ts); err != nil {
		b.binder.logger.Error("transcription failed", "user_id", b.userID, "error", err)
	}
}

// handleCommand runs a recognized voice command. Reference cards are shown
// only here: API-initiated operations stay silent on the glasses.
func (b *Binding) handleCommand(ctx context.Context, cmd string) {
	s := b.binder
	if s.metrics != nil {
		s.metrics.RecordVoiceCommand(cmd)
	}
	s.logger.Info("voice command", "user_id", b.userID, "command", cmd)

	switch cmd {
	case commandStart:
		if _, active := s.lifecycle.Active(b.userID); active {
			b.showCard("Recorder", "Already recording")
			return
		}
		if _, err := s.lifecycle.Start(ctx, b.userID, recording.StartOptions{VoiceInitiated: true}); err != nil {
			if errors.Is(err, recording.ErrAlreadyActive) {
				b.showCard("Recorder", "Already recording")
				return
			}
			s.logger.Error("voice start failed", "user_id", b.userID, "error", err)
			b.showCard("Recorder", "Could not start recording")
			return
		}
		b.showCard("Recorder", "Recording started")

	case commandStop:
		rec, err := s.lifecycle.StopActive(ctx, b.userID)
		if err != nil {
			s.logger.Error("voice stop failed", "user_id", b.userID, "error", err)
			b.showCard("Recorder", "Could not stop recording")
			return
		}
		if rec == nil {
			b.showCard("Recorder", "No active recording")
			return
		}
		b.showCard("Recorder", "Recording saved")
	}
}

func (b *Binding) showCard(title, text string) {
	if err := b.sess.ShowReferenceCard(title, text, cardDuration); err != nil {
		b.binder.logger.Debug("reference card failed", "user_id", b.userID, "error", err)
	}
}
