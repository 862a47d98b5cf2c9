package audio_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func equalSamples(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d (%v), want %d (%v)", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRemix16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []int16
		src, dst int
		want     []int16
	}{
		{"mono to stereo", []int16{100, 200, 300}, 1, 2, []int16{100, 100, 200, 200, 300, 300}},
		{"stereo to mono", []int16{100, 300, -100, -300}, 2, 1, []int16{200, -200}},
		{"stereo to mono clamps", []int16{32767, 32767, -32768, -32768}, 2, 1, []int16{32767, -32768}},
		{"stereo to three", []int16{1, 2}, 2, 3, []int16{1, 2, 2}},
		{"three to stereo", []int16{1, 2, 3}, 3, 2, []int16{1, 2}},
		{"same layout", []int16{7, 8}, 2, 2, []int16{7, 8}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := bytesToSamples(audio.Remix16(samplesToBytes(tc.in), tc.src, tc.dst))
			equalSamples(t, got, tc.want)
		})
	}
}

func TestResample16_SameRate(t *testing.T) {
	t.Parallel()
	in := samplesToBytes([]int16{1, 2, 3})
	out := audio.Resample16(in, 1, 48000, 48000)
	if &out[0] != &in[0] {
		t.Error("expected input to be returned unchanged for matching rates")
	}
}

func TestResample16_Upsample(t *testing.T) {
	t.Parallel()
	in := samplesToBytes([]int16{0, 100})
	got := bytesToSamples(audio.Resample16(in, 1, 8000, 16000))
	equalSamples(t, got, []int16{0, 50, 100, 100})
}

func TestResample16_DownsampleStereo(t *testing.T) {
	t.Parallel()
	in := samplesToBytes([]int16{10, -10, 20, -20, 30, -30, 40, -40})
	got := bytesToSamples(audio.Resample16(in, 2, 48000, 24000))
	equalSamples(t, got, []int16{10, -10, 30, -30})
}

func TestResample16_InvalidRate(t *testing.T) {
	t.Parallel()
	in := samplesToBytes([]int16{1, 2})
	if got := audio.Resample16(in, 1, 0, 16000); len(got) != len(in) {
		t.Errorf("len = %d, want input returned unchanged", len(got))
	}
}

func TestConvertPCM_FullConversion(t *testing.T) {
	t.Parallel()
	src := audio.Format{SampleRate: 24000, Channels: 1}
	dst := audio.Format{SampleRate: 48000, Channels: 2}
	in := samplesToBytes([]int16{0, 200})
	got := bytesToSamples(audio.ConvertPCM(in, src, dst))
	equalSamples(t, got, []int16{0, 0, 100, 100, 200, 200, 200, 200})
}

func TestConvertPCM_DropsPartialFrame(t *testing.T) {
	t.Parallel()
	src := audio.Format{SampleRate: 48000, Channels: 2}
	dst := audio.Format{SampleRate: 48000, Channels: 1}
	in := append(samplesToBytes([]int16{4, 6}), 0x01)
	got := bytesToSamples(audio.ConvertPCM(in, src, dst))
	equalSamples(t, got, []int16{5})
}

func TestFormat_FramesIn(t *testing.T) {
	t.Parallel()
	f := audio.Format{SampleRate: 48000, Channels: 2}
	if got := f.FramesIn(20 * time.Millisecond); got != 960 {
		t.Errorf("FramesIn(20ms) = %d, want 960", got)
	}
	if got := f.FrameBytes(); got != 4 {
		t.Errorf("FrameBytes = %d, want 4", got)
	}
	if got := f.String(); got != "48000Hz stereo" {
		t.Errorf("String = %q", got)
	}
}

func TestInt16Roundtrip(t *testing.T) {
	t.Parallel()
	in := []int16{-32768, -1, 0, 1, 32767}
	equalSamples(t, audio.BytesToInt16s(audio.Int16sToBytes(in)), in)
}
