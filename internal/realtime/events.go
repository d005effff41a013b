package realtime

import "time"

// Name identifies a realtime event kind. The set is closed: the hub refuses
// to broadcast events outside it.
type Name string

const (
	// EventRecordingStatus carries a lifecycle status change.
	EventRecordingStatus Name = "recording-status"

	// EventTranscript carries a live transcript update.
	EventTranscript Name = "transcript"

	// EventRecordingError carries a recording failure.
	EventRecordingError Name = "recording-error"

	// EventRecordingsRefresh tells clients to re-fetch the recording
	// list; it is a signal, not a diff.
	EventRecordingsRefresh Name = "recordings-refresh"
)

// Event is a named payload delivered to subscribed clients.
type Event struct {
	Name    Name
	Payload interface{}
}

// RecordingStatusPayload is the recording-status event schema
type RecordingStatusPayload struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	Duration float64 `json:"duration"`
	FileURL  string  `json:"fileUrl,omitempty"`
}

// TranscriptPayload is the transcript event schema
type TranscriptPayload struct {
	RecordingID string `json:"recordingId"`
	Text        string `json:"text"`
	IsInterim   bool   `json:"isInterim,omitempty"`
}

// RecordingErrorPayload is the recording-error event schema
type RecordingErrorPayload struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// RecordingsRefreshPayload is the recordings-refresh event schema
type RecordingsRefreshPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// RecordingStatus builds a recording-status event.
func RecordingStatus(id, status string, duration float64, fileURL string) Event {
	return Event{Name: EventRecordingStatus, Payload: RecordingStatusPayload{
		ID:       id,
		Status:   status,
		Duration: duration,
		FileURL:  fileURL,
	}}
}

// Transcript builds a transcript event.
func Transcript(recordingID, text string, isInterim bool) Event {
	return Event{Name: EventTranscript, Payload: TranscriptPayload{
		RecordingID: recordingID,
		Text:        text,
		IsInterim:   isInterim,
	}}
}

// RecordingError builds a recording-error event.
func RecordingError(id, message string) Event {
	return Event{Name: EventRecordingError, Payload: RecordingErrorPayload{
		ID:    id,
		Error: message,
	}}
}

// RecordingsRefresh builds a recordings-refresh event stamped with the
// current time.
func RecordingsRefresh() Event {
	return Event{Name: EventRecordingsRefresh, Payload: RecordingsRefreshPayload{
		Timestamp: time.Now().UnixMilli(),
	}}
}

func validName(n Name) bool {
	switch n {
	case EventRecordingStatus, EventTranscript, EventRecordingError, EventRecordingsRefresh:
		return true
	}
	return false
}
