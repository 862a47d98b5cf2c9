package opus_test

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/audio/opus"
)

// sine returns frames of a 440 Hz tone in format f.
func sine(f audio.Format, frames int) []byte {
	pcm := make([]int16, frames*f.Channels)
	for i := range frames {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(f.SampleRate)))
		for c := range f.Channels {
			pcm[i*f.Channels+c] = v
		}
	}
	return audio.Int16sToBytes(pcm)
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	t.Parallel()

	for _, f := range []audio.Format{
		{SampleRate: 48000, Channels: 2},
		{SampleRate: 16000, Channels: 1},
	} {
		t.Run(f.String(), func(t *testing.T) {
			t.Parallel()
			enc, err := opus.NewEncoder(f, 20*time.Millisecond)
			if err != nil {
				t.Fatalf("NewEncoder: %v", err)
			}
			dec, err := opus.NewDecoder(f)
			if err != nil {
				t.Fatalf("NewDecoder: %v", err)
			}

			frame := sine(f, f.FramesIn(20*time.Millisecond))
			if len(frame) != enc.FrameBytes() {
				t.Fatalf("frame = %d bytes, encoder wants %d", len(frame), enc.FrameBytes())
			}
			pkt, err := enc.Encode(frame)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if len(pkt) == 0 || len(pkt) >= len(frame) {
				t.Errorf("packet size = %d, want compressed and non-empty", len(pkt))
			}

			pcm, err := dec.Decode(pkt)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if len(pcm) != len(frame) {
				t.Errorf("decoded %d bytes, want %d", len(pcm), len(frame))
			}
		})
	}
}

func TestNewEncoder_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		f     audio.Format
		frame time.Duration
	}{
		{"rate", audio.Format{SampleRate: 44100, Channels: 2}, 20 * time.Millisecond},
		{"channels", audio.Format{SampleRate: 48000, Channels: 3}, 20 * time.Millisecond},
		{"frame", audio.Format{SampleRate: 48000, Channels: 2}, 100 * time.Millisecond},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := opus.NewEncoder(tc.f, tc.frame); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEncode_WrongFrameSize(t *testing.T) {
	t.Parallel()
	enc, err := opus.NewEncoder(audio.Format{SampleRate: 48000, Channels: 1}, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	if _, err := enc.Encode(make([]byte, 10)); err == nil {
		t.Error("expected error for short frame")
	}
}

func TestDecode_Empty(t *testing.T) {
	t.Parallel()
	dec, err := opus.NewDecoder(audio.Format{SampleRate: 48000, Channels: 2})
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	if _, err := dec.Decode(nil); err == nil {
		t.Error("expected error for empty packet")
	}
}

func TestValidFrameDuration(t *testing.T) {
	t.Parallel()
	for _, d := range []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 60 * time.Millisecond} {
		if !opus.ValidFrameDuration(d) {
			t.Errorf("ValidFrameDuration(%s) = false", d)
		}
	}
	for _, d := range []time.Duration{0, 15 * time.Millisecond, 100 * time.Millisecond} {
		if opus.ValidFrameDuration(d) {
			t.Errorf("ValidFrameDuration(%s) = true", d)
		}
	}
}
