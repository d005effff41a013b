package session

import "time"

// AudioChunk is one raw PCM frame from the device microphone.
type AudioChunk struct {
	PCM        []byte
	SampleRate int
	Timestamp  time.Time
}

// TranscriptionEvent is one speech recognition result from the device SDK.
type TranscriptionEvent struct {
	Text      string
	IsFinal   bool
	Locale    string
	Timestamp time.Time
}

// DeviceSession is the surface a connected smart-glasses session exposes.
// Subscription methods return an unsubscribe function.
type DeviceSession interface {
	OnAudioChunk(fn func(AudioChunk)) func()
	OnTranscription(locale string, fn func(TranscriptionEvent)) func()
	OnDisconnected(fn func(reason string)) func()

	// ShowReferenceCard displays a short text card on the glasses.
	ShowReferenceCard(title, text string, duration time.Duration) error
}
