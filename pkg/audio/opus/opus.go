// Package opus wraps the gopus codec for the relay's capture encoder and the
// speaker sink's "audio/opus" decoder.
//
// Audio on both sides is interleaved little-endian int16 PCM as used
// throughout package audio.
package opus

import (
	"fmt"
	"time"

	"layeh.com/gopus"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

const (
	// maxPacketBytes is the largest Opus packet the encoder will emit.
	maxPacketBytes = 4000

	// maxFrameDuration is the longest frame a single Opus packet can carry.
	maxFrameDuration = 120 * time.Millisecond
)

// SupportedRate reports whether the Opus codec accepts rate directly.
func SupportedRate(rate int) bool {
	switch rate {
	case 8000, 12000, 16000, 24000, 48000:
		return true
	}
	return false
}

// ValidFrameDuration reports whether d is a frame duration the encoder can
// produce.
func ValidFrameDuration(d time.Duration) bool {
	switch d {
	case 2500 * time.Microsecond, 5 * time.Millisecond, 10 * time.Millisecond,
		20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond:
		return true
	}
	return false
}

// Encoder turns fixed-size PCM frames into Opus packets.
type Encoder struct {
	enc       *gopus.Encoder
	format    audio.Format
	frameSize int
}

// NewEncoder creates an encoder for PCM in format f, emitting one packet per
// frame of duration frame.
func NewEncoder(f audio.Format, frame time.Duration) (*Encoder, error) {
	if !SupportedRate(f.SampleRate) {
		return nil, fmt.Errorf("opus: unsupported sample rate %d", f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return nil, fmt.Errorf("opus: unsupported channel count %d", f.Channels)
	}
	if !ValidFrameDuration(frame) {
		return nil, fmt.Errorf("opus: invalid frame duration %s", frame)
	}
	enc, err := gopus.NewEncoder(f.SampleRate, f.Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Encoder{enc: enc, format: f, frameSize: f.FramesIn(frame)}, nil
}

// FrameBytes is the exact PCM input size [Encoder.Encode] expects.
func (e *Encoder) FrameBytes() int { return e.frameSize * e.format.FrameBytes() }

// Encode encodes one frame of PCM into an Opus packet.
func (e *Encoder) Encode(pcm []byte) ([]byte, error) {
	if len(pcm) != e.FrameBytes() {
		return nil, fmt.Errorf("opus: encode: got %d bytes, want %d", len(pcm), e.FrameBytes())
	}
	pkt, err := e.enc.Encode(audio.BytesToInt16s(pcm), e.frameSize, maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return pkt, nil
}

// Decoder turns Opus packets back into PCM. A decoder carries state across
// packets, so each stream needs its own.
type Decoder struct {
	dec       *gopus.Decoder
	format    audio.Format
	maxFrames int
}

// NewDecoder creates a decoder that produces PCM in format f.
func NewDecoder(f audio.Format) (*Decoder, error) {
	if !SupportedRate(f.SampleRate) {
		return nil, fmt.Errorf("opus: unsupported sample rate %d", f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return nil, fmt.Errorf("opus: unsupported channel count %d", f.Channels)
	}
	dec, err := gopus.NewDecoder(f.SampleRate, f.Channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec, format: f, maxFrames: f.FramesIn(maxFrameDuration)}, nil
}

// Format returns the PCM format the decoder produces.
func (d *Decoder) Format() audio.Format { return d.format }

// Decode decodes a single Opus packet.
func (d *Decoder) Decode(pkt []byte) ([]byte, error) {
	if len(pkt) == 0 {
		return nil, fmt.Errorf("opus: decode: empty packet")
	}
	pcm, err := d.dec.Decode(pkt, d.maxFrames, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return audio.Int16sToBytes(pcm), nil
}
