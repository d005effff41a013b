package transcript

import (
	"strings"
	"time"
)

// Chunk is one transcript fragment delivered by the speech engine
type Chunk struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsFinal   bool      `json:"isFinal"`
}

// Accumulator merges a sequence of final transcript chunks plus at most one
// pending interim chunk into a display string and a persisted chunk list.
//
// Final chunks are assumed to arrive in chronological order from the speech
// engine; no re-sorting is performed. If the source ever delivers finals out
// of order the merged transcript reflects arrival order, not timestamps.
//
// An Accumulator is not safe for concurrent use; callers serialize access.
type Accumulator struct {
	chunks  []Chunk
	interim string
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Restore recreates an accumulator from persisted state.
func Restore(chunks []Chunk, interim string) *Accumulator {
	return &Accumulator{chunks: chunks, interim: interim}
}

// AddFinal appends a final chunk, clears any pending interim and returns
// the recomputed joined transcript.
func (a *Accumulator) AddFinal(text string, timestamp time.Time) string {
	a.chunks = append(a.chunks, Chunk{
		Text:      text,
		Timestamp: timestamp,
		IsFinal:   true,
	})
	a.interim = ""
	return a.Transcript()
}

// SetInterim stores the single pending interim string, replacing any
// previous interim, and returns the display string of joined finals plus
// the interim.
func (a *Accumulator) SetInterim(text string) string {
	a.interim = text
	return a.Display()
}

// FlushInterimAsFinal promotes a pending interim to a final chunk so that
// nothing captured is lost at stop time. It reports whether a promotion
// happened.
func (a *Accumulator) FlushInterimAsFinal(timestamp time.Time) bool {
	if a.interim == "" {
		return false
	}
	a.AddFinal(a.interim, timestamp)
	return true
}

// Transcript returns the space-joined text of all final chunks in arrival
// order.
func (a *Accumulator) Transcript() string {
	parts := make([]string, 0, len(a.chunks))
	for _, c := range a.chunks {
		if c.IsFinal {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, " ")
}

// Display returns the transcript with the pending interim appended, for
// live UI updates.
func (a *Accumulator) Display() string {
	finals := a.Transcript()
	if a.interim == "" {
		return finals
	}
	if finals == "" {
		return a.interim
	}
	return finals + " " + a.interim
}

// Interim returns the pending interim string, empty when none is pending.
func (a *Accumulator) Interim() string {
	return a.interim
}

// Chunks returns the accumulated chunk list for persistence.
func (a *Accumulator) Chunks() []Chunk {
	return a.chunks
}
