package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// HeaderSize is the size of the canonical PCM WAV header in bytes.
const HeaderSize = 44

const (
	pcmFormat      = 1  // WAV PCM format tag
	monoChannels   = 1  // single channel
	bitsPerSample  = 16 // LINEAR16
	bytesPerSample = 2
)

// Header represents the 44-byte header of a PCM WAV file
type Header struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data length
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // number of channels
	SampleRate    uint32  // sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // number of bytes in the data
}

// NewHeader builds a header for 16-bit mono PCM with the given sample rate
// and data byte length
func NewHeader(sampleRate int, dataLen uint32) Header {
	return Header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataLen,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   pcmFormat,
		NumChannels:   monoChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * monoChannels * bitsPerSample / 8,
		BlockAlign:    monoChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataLen,
	}
}

// Encode serializes the header into its 44-byte little-endian form
func (h Header) Encode() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("failed to encode WAV header: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseHeader reads and validates a WAV header from raw bytes
func ParseHeader(data []byte) (Header, error) {
	var header Header
	if len(data) < HeaderSize {
		return header, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", HeaderSize, len(data))
	}

	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return header, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if string(header.ChunkID[:]) != "RIFF" {
		return header, fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(header.Format[:]) != "WAVE" {
		return header, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(header.Subchunk1ID[:]) != "fmt " {
		return header, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(header.Subchunk2ID[:]) != "data" {
		return header, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	if header.AudioFormat != pcmFormat {
		return header, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}

	return header, nil
}

// ValidateWAV validates a WAV file format without decoding the audio data
func ValidateWAV(data []byte) error {
	_, err := ParseHeader(data)
	return err
}

// Duration calculates the duration of a WAV file in seconds from its header
func Duration(data []byte) (float64, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return 0, err
	}

	if header.SampleRate == 0 {
		return 0, fmt.Errorf("invalid sample rate: 0")
	}

	numSamples := header.Subchunk2Size / bytesPerSample
	return float64(numSamples) / float64(header.SampleRate), nil
}
