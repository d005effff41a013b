package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/Mentra-Community/recorder-service/internal/session"
)

// Device transport. The glasses runtime keeps one WebSocket per user:
// binary frames carry raw PCM, text frames carry JSON control messages, and
// reference cards travel back as JSON frames.

type deviceMessage struct {
	Type       string `json:"type"` // "transcription" or "sample_rate"
	Text       string `json:"text,omitempty"`
	IsFinal    bool   `json:"isFinal,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
}

type deviceCard struct {
	Type       string `json:"type"` // always "card"
	Title      string `json:"title"`
	Text       string `json:"text"`
	DurationMs int64  `json:"durationMs"`
}

// wsDeviceSession adapts one device WebSocket to the session.DeviceSession
// surface. Each subscription slot holds at most one handler; the read loop
// dispatches into whatever is currently subscribed.
type wsDeviceSession struct {
	conn *websocket.Conn

	mu         sync.Mutex
	audioFn    func(session.AudioChunk)
	transFn    func(session.TranscriptionEvent)
	discFn     func(string)
	sampleRate int
}

func newWSDeviceSession(conn *websocket.Conn, sampleRate int) *wsDeviceSession {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &wsDeviceSession{conn: conn, sampleRate: sampleRate}
}

func (d *wsDeviceSession) OnAudioChunk(fn func(session.AudioChunk)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.audioFn = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.audioFn = nil
	}
}

func (d *wsDeviceSession) OnTranscription(locale string, fn func(session.TranscriptionEvent)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transFn = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.transFn = nil
	}
}

func (d *wsDeviceSession) OnDisconnected(fn func(string)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.discFn = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.discFn = nil
	}
}

func (d *wsDeviceSession) ShowReferenceCard(title, text string, duration time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return d.conn.WriteJSON(deviceCard{
		Type:       "card",
		Title:      title,
		Text:       text,
		DurationMs: duration.Milliseconds(),
	})
}

func (d *wsDeviceSession) emitAudio(pcm []byte) {
	d.mu.Lock()
	fn, rate := d.audioFn, d.sampleRate
	d.mu.Unlock()
	if fn != nil {
		fn(session.AudioChunk{PCM: pcm, SampleRate: rate, Timestamp: time.Now()})
	}
}

func (d *wsDeviceSession) emitTranscription(msg deviceMessage) {
	d.mu.Lock()
	fn := d.transFn
	d.mu.Unlock()
	if fn != nil {
		fn(session.TranscriptionEvent{Text: msg.Text, IsFinal: msg.IsFinal, Timestamp: time.Now()})
	}
}

func (d *wsDeviceSession) emitDisconnect(reason string) {
	d.mu.Lock()
	fn := d.discFn
	d.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

func (d *wsDeviceSession) setSampleRate(rate int) {
	if rate <= 0 {
		return
	}
	d.mu.Lock()
	d.sampleRate = rate
	d.mu.Unlock()
}

// handleDeviceWS accepts a device session connection and binds it to the
// recording lifecycle for the calling user.
func (s *Server) handleDeviceWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	uid := userID(c)
	sess := newWSDeviceSession(conn, 0)
	s.binder.Attach(uid, sess)
	s.logger.Info("device session connected", "user_id", uid)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			sess.emitDisconnect(err.Error())
			return nil
		}
		switch messageType {
		case websocket.BinaryMessage:
			sess.emitAudio(data)
		case websocket.TextMessage:
			var msg deviceMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				s.logger.Warn("bad device message", "user_id", uid, "error", err)
				continue
			}
			switch msg.Type {
			case "transcription":
				sess.emitTranscription(msg)
			case "sample_rate":
				sess.setSampleRate(msg.SampleRate)
			default:
				s.logger.Warn("unknown device message type", "user_id", uid, "type", msg.Type)
			}
		}
	}
}
