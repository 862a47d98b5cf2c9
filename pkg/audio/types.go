package audio

import (
	"bytes"
	"io"
	"time"
)

// Well-known chunk type tags. Any other MIME-like string is carried through
// the pipeline untouched; only the playback sink interprets it.
const (
	TypeMPEG = "audio/mpeg"
	TypeWAV  = "audio/wav"
	TypeOpus = "audio/opus"
	TypePCM  = "audio/pcm"
)

// Chunk is the unit of audio moving through the relay. Data is an opaque,
// fully materialised byte sequence and Type is its MIME-like tag
// (e.g. "audio/mpeg"). A chunk has no identity beyond its position in the
// stream; producers must not modify Data after handing a chunk off.
type Chunk struct {
	// Data holds the encoded audio bytes.
	Data []byte

	// Type is the MIME-like tag describing Data's encoding.
	Type string
}

// Len returns the number of bytes in the chunk.
func (c Chunk) Len() int { return len(c.Data) }

// Payload is an inbound frame that has been received but not yet
// materialised. It mirrors a lazily readable blob: the bytes are only
// guaranteed to be available once Open has been read to EOF.
type Payload interface {
	// Type returns the MIME-like tag the frame arrived with.
	Type() string

	// Size returns the announced payload size in bytes, or -1 if unknown.
	Size() int

	// Open returns a reader over the payload bytes. Each call returns a
	// fresh reader positioned at the start of the payload.
	Open() (io.ReadCloser, error)
}

// BytesPayload is a [Payload] backed by an in-memory byte slice. It is what
// the channel session produces for every binary frame.
type BytesPayload struct {
	data []byte
	typ  string
}

// NewPayload wraps data and its type tag in a [BytesPayload]. data is not
// copied.
func NewPayload(data []byte, typ string) *BytesPayload {
	return &BytesPayload{data: data, typ: typ}
}

// Type implements [Payload].
func (p *BytesPayload) Type() string { return p.typ }

// Size implements [Payload].
func (p *BytesPayload) Size() int { return len(p.data) }

// Open implements [Payload].
func (p *BytesPayload) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(p.data)), nil
}

// Codec selects how the capture device encodes microphone audio.
type Codec string

const (
	// CodecOpus emits one Opus packet per chunk.
	CodecOpus Codec = "opus"

	// CodecPCM emits raw little-endian int16 interleaved PCM.
	CodecPCM Codec = "pcm"
)

// IsValid reports whether c is a recognised codec.
func (c Codec) IsValid() bool {
	return c == CodecOpus || c == CodecPCM
}

// MIMEType returns the chunk type tag used for chunks encoded with c.
func (c Codec) MIMEType() string {
	if c == CodecPCM {
		return TypePCM
	}
	return TypeOpus
}

// CaptureOptions are the declared (not negotiated) capture constraints
// handed to [CaptureDevice.Acquire].
type CaptureOptions struct {
	// DeviceID selects the input device. Empty means the system default.
	DeviceID string

	// SampleRate in Hz (e.g. 48000).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// EchoCancellation, NoiseSuppression and AutoGainControl request the
	// corresponding device-side processing. Backends that cannot honour a
	// requested feature ignore it; backends never enable one that was not
	// requested.
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool

	// Codec selects the chunk encoding.
	Codec Codec

	// ChunkDuration is the encoder cadence: how much audio each emitted
	// chunk covers. For Opus it must be a valid Opus frame duration.
	ChunkDuration time.Duration
}

// DefaultCaptureOptions returns 48 kHz stereo with every processing stage
// disabled, emitting 20 ms Opus packets.
func DefaultCaptureOptions() CaptureOptions {
	return CaptureOptions{
		SampleRate:    48000,
		Channels:      2,
		Codec:         CodecOpus,
		ChunkDuration: 20 * time.Millisecond,
	}
}
