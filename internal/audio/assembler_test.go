package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/Mentra-Community/recorder-service/internal/storage"
)

func newTestAssembler(t *testing.T, cfg AssemblerConfig) (*Assembler, *storage.LocalSink) {
	t.Helper()
	sink, err := storage.NewLocalSink(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalSink failed: %v", err)
	}
	return NewAssembler(sink, "user1", "rec1", cfg), sink
}

func readObject(t *testing.T, sink *storage.LocalSink) []byte {
	t.Helper()
	data, err := sink.Read(context.Background(), "user1", "rec1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	return data
}

func TestAssembler_RoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		chunkSizes []int
	}{
		{"no chunks", nil},
		{"single small chunk", []int{100}},
		{"many small chunks", []int{1, 2, 3, 4, 5, 100, 1000}},
		{"one chunk over threshold", []int{2048}},
		{"uneven split around threshold", []int{1000, 100, 5000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asm, sink := newTestAssembler(t, AssemblerConfig{
				SampleRate:     16000,
				FlushThreshold: 1024,
			})
			ctx := context.Background()

			if err := asm.Begin(ctx); err != nil {
				t.Fatalf("Begin failed: %v", err)
			}

			total := 0
			for _, size := range tt.chunkSizes {
				chunk := make([]byte, size)
				if _, err := asm.AddChunk(ctx, chunk, 0); err != nil {
					t.Fatalf("AddChunk failed: %v", err)
				}
				total += size
			}

			url, err := asm.Finalize(ctx)
			if err != nil {
				t.Fatalf("Finalize failed: %v", err)
			}
			if url == "" {
				t.Error("Expected non-empty object reference")
			}

			data := readObject(t, sink)
			if len(data) != HeaderSize+total {
				t.Errorf("Expected file size %d, got %d", HeaderSize+total, len(data))
			}
			if err := ValidateWAV(data); err != nil {
				t.Errorf("Finalized object is not a valid WAV: %v", err)
			}
			if got := binary.LittleEndian.Uint32(data[40:44]); got != uint32(total) {
				t.Errorf("Expected header data length %d, got %d", total, got)
			}
		})
	}
}

func TestAssembler_FlushAtThreshold(t *testing.T) {
	asm, _ := newTestAssembler(t, AssemblerConfig{
		SampleRate:     16000,
		FlushThreshold: 1024 * 1024,
	})
	ctx := context.Background()

	if err := asm.Begin(ctx); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	// 1.5 MiB in one chunk: exactly one flush during recording.
	flushed, err := asm.AddChunk(ctx, make([]byte, 1536*1024), 0)
	if err != nil {
		t.Fatalf("AddChunk failed: %v", err)
	}
	if !flushed {
		t.Error("Expected a flush once pending bytes exceeded the threshold")
	}
	if asm.DataWritten() != 1536*1024 {
		t.Errorf("Expected 1.5 MiB written, got %d", asm.DataWritten())
	}

	// Below threshold: no flush.
	flushed, err = asm.AddChunk(ctx, make([]byte, 10), 0)
	if err != nil {
		t.Fatalf("AddChunk failed: %v", err)
	}
	if flushed {
		t.Error("Did not expect a flush below the threshold")
	}
}

func TestAssembler_FlushAtPendingChunkCeiling(t *testing.T) {
	asm, _ := newTestAssembler(t, AssemblerConfig{
		SampleRate:       16000,
		FlushThreshold:   1024 * 1024,
		MaxPendingChunks: 4,
	})
	ctx := context.Background()

	if err := asm.Begin(ctx); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		flushed, err := asm.AddChunk(ctx, []byte{1, 2}, 0)
		if err != nil {
			t.Fatalf("AddChunk failed: %v", err)
		}
		if flushed {
			t.Fatalf("Unexpected flush at chunk %d", i)
		}
	}

	flushed, err := asm.AddChunk(ctx, []byte{1, 2}, 0)
	if err != nil {
		t.Fatalf("AddChunk failed: %v", err)
	}
	if !flushed {
		t.Error("Expected a flush at the pending-chunk ceiling")
	}
}

func TestAssembler_SampleRateOverride(t *testing.T) {
	asm, sink := newTestAssembler(t, AssemblerConfig{
		SampleRate:     16000,
		FlushThreshold: 16,
	})
	ctx := context.Background()

	if err := asm.Begin(ctx); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := asm.AddChunk(ctx, make([]byte, 32), 8000); err != nil {
		t.Fatalf("AddChunk failed: %v", err)
	}
	if _, err := asm.Finalize(ctx); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	header, err := ParseHeader(readObject(t, sink))
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if header.SampleRate != 8000 {
		t.Errorf("Expected chunk-specified rate 8000, got %d", header.SampleRate)
	}
}

func TestAssembler_FinalizeGuards(t *testing.T) {
	asm, _ := newTestAssembler(t, AssemblerConfig{SampleRate: 16000})
	ctx := context.Background()

	if _, err := asm.Finalize(ctx); !errors.Is(err, ErrNotBegun) {
		t.Errorf("Expected ErrNotBegun before Begin, got %v", err)
	}

	if err := asm.Begin(ctx); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := asm.Finalize(ctx); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if _, err := asm.Finalize(ctx); !errors.Is(err, ErrFinalized) {
		t.Errorf("Expected ErrFinalized on second finalize, got %v", err)
	}
	if _, err := asm.AddChunk(ctx, []byte{1}, 0); !errors.Is(err, ErrFinalized) {
		t.Errorf("Expected ErrFinalized on AddChunk after finalize, got %v", err)
	}
}

func TestAssembler_RecoversLostUpload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	sink, err := storage.NewLocalSink(dir)
	if err != nil {
		t.Fatalf("NewLocalSink failed: %v", err)
	}
	asm := NewAssembler(sink, "user1", "rec1", AssemblerConfig{
		SampleRate:     16000,
		FlushThreshold: 8,
	})

	if err := asm.Begin(ctx); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := asm.AddChunk(ctx, make([]byte, 16), 0); err != nil {
		t.Fatalf("AddChunk failed: %v", err)
	}

	// Simulate lost in-memory upload state: the sink forgets the open
	// upload but the durable bytes survive.
	if _, err := sink.Finalize(ctx, "rec1"); err != nil {
		t.Fatalf("sink Finalize failed: %v", err)
	}

	if _, err := asm.AddChunk(ctx, make([]byte, 16), 0); err != nil {
		t.Fatalf("AddChunk after lost upload failed: %v", err)
	}

	url, err := asm.Finalize(ctx)
	if err != nil {
		t.Fatalf("Finalize after recovery failed: %v", err)
	}
	if url == "" {
		t.Error("Expected non-empty object reference")
	}

	data, err := sink.Read(ctx, "user1", "rec1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(data) != HeaderSize+32 {
		t.Errorf("Expected %d bytes after recovery, got %d", HeaderSize+32, len(data))
	}
	if got := binary.LittleEndian.Uint32(data[40:44]); got != 32 {
		t.Errorf("Expected header data length 32, got %d", got)
	}
}

func TestAssembler_EmptyRecordingProducesHeaderOnlyFile(t *testing.T) {
	asm, sink := newTestAssembler(t, AssemblerConfig{SampleRate: 16000})
	ctx := context.Background()

	if err := asm.Begin(ctx); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := asm.Finalize(ctx); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	data := readObject(t, sink)
	if len(data) != HeaderSize {
		t.Fatalf("Expected header-only file of %d bytes, got %d", HeaderSize, len(data))
	}
	if err := ValidateWAV(data); err != nil {
		t.Errorf("Header-only file is not a valid WAV: %v", err)
	}
	if got := binary.LittleEndian.Uint32(data[40:44]); got != 0 {
		t.Errorf("Expected zero data length, got %d", got)
	}
}

func TestAssembler_RecoveryFinalizeKeepsHeaderSampleRate(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	sink, err := storage.NewLocalSink(dir)
	if err != nil {
		t.Fatalf("NewLocalSink failed: %v", err)
	}
	asm := NewAssembler(sink, "user1", "rec1", AssemblerConfig{
		SampleRate:     16000,
		FlushThreshold: 1024,
	})

	if err := asm.Begin(ctx); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	// The chunk-specified rate wins over the configured default and ends
	// up in the durable header.
	if _, err := asm.AddChunk(ctx, make([]byte, 2048), 8000); err != nil {
		t.Fatalf("AddChunk failed: %v", err)
	}

	// A fresh assembler with only the configured default stands in for a
	// restarted process finalizing the leftover upload.
	recovered := NewAssembler(sink, "user1", "rec1", AssemblerConfig{SampleRate: 16000})
	if err := recovered.Begin(ctx); err != nil {
		t.Fatalf("Begin after restart failed: %v", err)
	}
	if _, err := recovered.Finalize(ctx); err != nil {
		t.Fatalf("Finalize after restart failed: %v", err)
	}

	data := readObject(t, sink)
	header, err := ParseHeader(data)
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if header.SampleRate != 8000 {
		t.Errorf("finalized header sample rate = %d, want 8000", header.SampleRate)
	}
	if int(header.Subchunk2Size) != 2048 {
		t.Errorf("finalized header data length = %d, want 2048", header.Subchunk2Size)
	}
	if got := recovered.SampleRate(); got != 8000 {
		t.Errorf("recovered assembler sample rate = %d, want 8000", got)
	}
}
