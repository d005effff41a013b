package audio

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mentra-Community/recorder-service/internal/storage"
)

var (
	// ErrNotBegun is returned when an assembler operation runs before Begin.
	ErrNotBegun = errors.New("assembler has no open accumulation context")

	// ErrFinalized is returned when an assembler is used after Finalize.
	ErrFinalized = errors.New("assembler already finalized")
)

// AssemblerConfig contains streaming assembly parameters
type AssemblerConfig struct {
	SampleRate       int // default sample rate when chunks do not carry one
	FlushThreshold   int // pending bytes that trigger a sink flush
	MaxPendingChunks int // pending chunk count that triggers a sink flush
}

// Assembler turns a stream of raw 16-bit mono PCM buffers into a valid WAV
// object written incrementally through a storage.Sink, without holding the
// whole recording in memory.
//
// The first flush writes a speculative header sized for the bytes known at
// that moment; Finalize re-reads the written size and patches the header in
// place with the true data length. The two-phase header write is mandatory
// because the total length is unknown until stop.
//
// An Assembler is not safe for concurrent use; callers serialize access.
type Assembler struct {
	sink      storage.Sink
	cfg       AssemblerConfig
	namespace string
	id        string

	sampleRate    int
	pending       [][]byte
	pendingBytes  int
	headerWritten bool
	dataWritten   int64
	begun         bool
	finalized     bool
}

// NewAssembler creates an assembler for one recording keyed by
// (namespace, id) on the given sink.
func NewAssembler(sink storage.Sink, namespace, id string, cfg AssemblerConfig) *Assembler {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = 1024 * 1024
	}
	if cfg.MaxPendingChunks <= 0 {
		cfg.MaxPendingChunks = 64
	}
	return &Assembler{
		sink:       sink,
		cfg:        cfg,
		namespace:  namespace,
		id:         id,
		sampleRate: cfg.SampleRate,
	}
}

// Begin opens the accumulation context. No header is written yet.
func (a *Assembler) Begin(ctx context.Context) error {
	if a.finalized {
		return ErrFinalized
	}
	if a.begun {
		return nil
	}
	if err := a.sink.Begin(ctx, a.namespace, a.id); err != nil {
		return fmt.Errorf("failed to begin upload for %s: %w", a.id, err)
	}
	a.begun = true
	return nil
}

// AddChunk appends a PCM buffer to the pending accumulation and flushes to
// the sink once the byte threshold or the pending-chunk ceiling is reached.
// sampleRate overrides the configured rate when positive; the override only
// matters before the header is first written. The returned bool reports
// whether a flush occurred, which callers use to refresh duration and
// observers.
func (a *Assembler) AddChunk(ctx context.Context, p []byte, sampleRate int) (bool, error) {
	if !a.begun {
		return false, ErrNotBegun
	}
	if a.finalized {
		return false, ErrFinalized
	}
	if len(p) == 0 {
		return false, nil
	}

	if sampleRate > 0 && !a.headerWritten {
		a.sampleRate = sampleRate
	}

	// Copy to decouple from caller-owned buffers.
	buf := make([]byte, len(p))
	copy(buf, p)
	a.pending = append(a.pending, buf)
	a.pendingBytes += len(buf)

	if a.pendingBytes < a.cfg.FlushThreshold && len(a.pending) < a.cfg.MaxPendingChunks {
		return false, nil
	}

	if err := a.flush(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// flush writes all pending bytes through the sink, prepending the
// speculative header on the first write.
func (a *Assembler) flush(ctx context.Context) error {
	if a.pendingBytes == 0 {
		return nil
	}

	data := make([]byte, 0, a.pendingBytes)
	for _, chunk := range a.pending {
		data = append(data, chunk...)
	}

	if !a.headerWritten {
		head, err := NewHeader(a.sampleRate, uint32(len(data))).Encode()
		if err != nil {
			return err
		}
		if err := a.append(ctx, append(head, data...)); err != nil {
			return err
		}
		a.headerWritten = true
	} else {
		if err := a.append(ctx, data); err != nil {
			return err
		}
	}

	a.dataWritten += int64(len(data))
	a.pending = nil
	a.pendingBytes = 0
	return nil
}

// append writes through the sink, recovering once from a lost upload
// session by re-beginning the upload. Bytes already durably written are
// preserved by the sink's idempotent Begin.
func (a *Assembler) append(ctx context.Context, p []byte) error {
	err := a.sink.Append(ctx, a.id, p)
	if !errors.Is(err, storage.ErrNoActiveUpload) {
		return err
	}

	if err := a.sink.Begin(ctx, a.namespace, a.id); err != nil {
		return fmt.Errorf("failed to recover upload for %s: %w", a.id, err)
	}
	return a.sink.Append(ctx, a.id, p)
}

// DataWritten reports the data bytes (excluding header) flushed so far.
func (a *Assembler) DataWritten() int64 {
	return a.dataWritten
}

// SampleRate reports the effective sample rate for the recording.
func (a *Assembler) SampleRate() int {
	return a.sampleRate
}

// Finalize flushes remaining pending bytes, patches the header with the
// true data length and completes the upload, returning the object
// reference. If no bytes were ever written a header-only zero-length WAV is
// produced. Calling Finalize twice, or before Begin, fails with a distinct
// error rather than silently succeeding.
func (a *Assembler) Finalize(ctx context.Context) (string, error) {
	if a.finalized {
		return "", ErrFinalized
	}
	if !a.begun {
		return "", ErrNotBegun
	}

	if err := a.flush(ctx); err != nil {
		return "", err
	}

	size, err := a.sink.Size(ctx, a.id)
	if errors.Is(err, storage.ErrNoActiveUpload) {
		// Upload state was lost after the last flush (restart). Re-open
		// and take the durable size.
		if err := a.sink.Begin(ctx, a.namespace, a.id); err != nil {
			return "", fmt.Errorf("failed to recover upload for %s: %w", a.id, err)
		}
		size, err = a.sink.Size(ctx, a.id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read written size for %s: %w", a.id, err)
	}

	var dataLen uint32
	if size >= HeaderSize {
		dataLen = uint32(size - HeaderSize)
	}

	// When this instance never wrote the header (recovery after a
	// restart), the durable header is authoritative for the sample rate;
	// only the data length may be patched.
	if !a.headerWritten && size >= HeaderSize {
		data, err := a.sink.Read(ctx, a.namespace, a.id)
		if err != nil {
			return "", fmt.Errorf("failed to read back header for %s: %w", a.id, err)
		}
		existing, err := ParseHeader(data)
		if err != nil {
			return "", fmt.Errorf("failed to parse existing header for %s: %w", a.id, err)
		}
		a.sampleRate = int(existing.SampleRate)
	}

	head, err := NewHeader(a.sampleRate, dataLen).Encode()
	if err != nil {
		return "", err
	}

	if size == 0 {
		// Nothing was ever flushed: produce a valid header-only file.
		if err := a.append(ctx, head); err != nil {
			return "", err
		}
	} else {
		if err := a.sink.PatchHead(ctx, a.id, head); err != nil {
			return "", fmt.Errorf("failed to patch header for %s: %w", a.id, err)
		}
	}

	url, err := a.sink.Finalize(ctx, a.id)
	if err != nil {
		return "", fmt.Errorf("failed to finalize %s: %w", a.id, err)
	}

	// The durable size is authoritative; after a restart it can exceed
	// what this assembler instance flushed itself.
	a.dataWritten = int64(dataLen)
	a.finalized = true
	return url, nil
}
