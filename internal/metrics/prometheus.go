package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the recorder service
type Metrics struct {
	// Recording lifecycle metrics
	RecordingsStarted   prometheus.Counter
	RecordingsCompleted prometheus.Counter
	RecordingsFailed    prometheus.Counter
	ActiveRecordings    prometheus.Gauge
	RecordingDuration   prometheus.Histogram

	// Audio metrics
	AudioChunksReceived prometheus.Counter
	AudioBytesWritten   prometheus.Counter
	AudioFlushes        prometheus.Counter
	FlushSize           prometheus.Histogram

	// Transcript metrics
	TranscriptFinals   prometheus.Counter
	TranscriptInterims prometheus.Counter

	// Realtime metrics
	RealtimeClients prometheus.Gauge
	RealtimeEvents  *prometheus.CounterVec

	// Session metrics
	SessionsAttached prometheus.Counter
	SessionsDetached prometheus.Counter
	VoiceCommands    *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Recording lifecycle metrics
		RecordingsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "recorder_recordings_started_total",
			Help: "Total number of recordings started",
		}),
		RecordingsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "recorder_recordings_completed_total",
			Help: "Total number of recordings completed successfully",
		}),
		RecordingsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "recorder_recordings_failed_total",
			Help: "Total number of recordings that ended in error",
		}),
		ActiveRecordings: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "recorder_active_recordings",
			Help: "Current number of in-flight recordings",
		}),
		RecordingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "recorder_recording_duration_seconds",
			Help:    "Duration of completed recordings in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		// Audio metrics
		AudioChunksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "recorder_audio_chunks_received_total",
			Help: "Total number of audio chunks received from device sessions",
		}),
		AudioBytesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "recorder_audio_bytes_written_total",
			Help: "Total number of audio bytes written to storage",
		}),
		AudioFlushes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "recorder_audio_flushes_total",
			Help: "Total number of buffered audio flushes to storage",
		}),
		FlushSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "recorder_audio_flush_size_bytes",
			Help:    "Size of audio flushes in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),

		// Transcript metrics
		TranscriptFinals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "recorder_transcript_finals_total",
			Help: "Total number of final transcript segments received",
		}),
		TranscriptInterims: promauto.NewCounter(prometheus.CounterOpts{
			Name: "recorder_transcript_interims_total",
			Help: "Total number of interim transcript segments received",
		}),

		// Realtime metrics
		RealtimeClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "recorder_realtime_clients",
			Help: "Current number of connected realtime clients",
		}),
		RealtimeEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_realtime_events_total",
			Help: "Total number of realtime events delivered",
		}, []string{"event"}),

		// Session metrics
		SessionsAttached: promauto.NewCounter(prometheus.CounterOpts{
			Name: "recorder_sessions_attached_total",
			Help: "Total number of device sessions attached",
		}),
		SessionsDetached: promauto.NewCounter(prometheus.CounterOpts{
			Name: "recorder_sessions_detached_total",
			Help: "Total number of device sessions detached",
		}),
		VoiceCommands: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_voice_commands_total",
			Help: "Total number of recognized voice commands",
		}, []string{"command"}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recorder_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordRecordingStarted increments started recordings and the active gauge
func (m *Metrics) RecordRecordingStarted() {
	m.RecordingsStarted.Inc()
	m.ActiveRecordings.Inc()
}

// RecordRecordingCompleted records a completed recording and its duration
func (m *Metrics) RecordRecordingCompleted(durationSeconds float64) {
	m.RecordingsCompleted.Inc()
	m.ActiveRecordings.Dec()
	m.RecordingDuration.Observe(durationSeconds)
}

// RecordRecordingFailed records a recording that ended in error
func (m *Metrics) RecordRecordingFailed() {
	m.RecordingsFailed.Inc()
	m.ActiveRecordings.Dec()
}

// RecordAudioChunk increments the received audio chunk counter
func (m *Metrics) RecordAudioChunk(sizeBytes int) {
	m.AudioChunksReceived.Inc()
	m.AudioBytesWritten.Add(float64(sizeBytes))
}

// RecordFlush records a buffered audio flush to storage
func (m *Metrics) RecordFlush(sizeBytes int) {
	m.AudioFlushes.Inc()
	m.FlushSize.Observe(float64(sizeBytes))
}

// RecordTranscriptSegment increments the final or interim segment counter
func (m *Metrics) RecordTranscriptSegment(isFinal bool) {
	if isFinal {
		m.TranscriptFinals.Inc()
	} else {
		m.TranscriptInterims.Inc()
	}
}

// AddRealtimeClients adjusts the connected client gauge
func (m *Metrics) AddRealtimeClients(delta int) {
	m.RealtimeClients.Add(float64(delta))
}

// RecordRealtimeEvent increments the delivered event counter for one event name
func (m *Metrics) RecordRealtimeEvent(event string) {
	m.RealtimeEvents.WithLabelValues(event).Inc()
}

// RecordSessionAttached increments the attached sessions counter
func (m *Metrics) RecordSessionAttached() {
	m.SessionsAttached.Inc()
}

// RecordSessionDetached increments the detached sessions counter
func (m *Metrics) RecordSessionDetached() {
	m.SessionsDetached.Inc()
}

// RecordVoiceCommand increments the recognized voice command counter
func (m *Metrics) RecordVoiceCommand(command string) {
	m.VoiceCommands.WithLabelValues(command).Inc()
}

// RecordHTTPRequest records an HTTP request with its status and duration
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
