package audio

import (
	"fmt"
	"time"
)

// Format describes interleaved little-endian int16 PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// FrameBytes is the size of one interleaved sample frame in bytes.
func (f Format) FrameBytes() int { return 2 * f.Channels }

// FramesIn returns how many sample frames cover d.
func (f Format) FramesIn(d time.Duration) int {
	return int(int64(f.SampleRate) * int64(d) / int64(time.Second))
}

// ConvertPCM converts pcm from src to dst. It resamples first (so a stereo
// to mono conversion does not resample the discarded channel), then remixes
// the channel count. When the formats match, pcm is returned unchanged.
// A trailing partial sample frame is discarded.
func ConvertPCM(pcm []byte, src, dst Format) []byte {
	if src == dst || src.Channels <= 0 || dst.Channels <= 0 {
		return pcm
	}
	if whole := len(pcm) - len(pcm)%src.FrameBytes(); whole != len(pcm) {
		pcm = pcm[:whole]
	}
	if src.SampleRate != dst.SampleRate {
		pcm = Resample16(pcm, src.Channels, src.SampleRate, dst.SampleRate)
	}
	if src.Channels != dst.Channels {
		pcm = Remix16(pcm, src.Channels, dst.Channels)
	}
	return pcm
}

// Resample16 resamples interleaved int16 PCM with the given channel count
// from srcRate to dstRate using linear interpolation. Invalid rates or
// matching rates return pcm unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	frameBytes := 2 * channels
	srcFrames := len(pcm) / frameBytes
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*frameBytes)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for c := range channels {
			s0 := sampleAt(pcm, idx*channels+c)
			s1 := sampleAt(pcm, next*channels+c)
			putSample(out, i*channels+c, int32(float64(s0)*(1-frac)+float64(s1)*frac))
		}
	}
	return out
}

// Remix16 changes the channel count of interleaved int16 PCM. Mono input is
// duplicated into every output channel; mono output averages all input
// channels; other layouts keep the leading channels and repeat the last one
// when widening.
func Remix16(pcm []byte, srcChannels, dstChannels int) []byte {
	if srcChannels <= 0 || dstChannels <= 0 || srcChannels == dstChannels {
		return pcm
	}
	frames := len(pcm) / (2 * srcChannels)
	out := make([]byte, frames*2*dstChannels)
	for f := range frames {
		base := f * srcChannels
		if dstChannels == 1 {
			var sum int32
			for c := range srcChannels {
				sum += int32(sampleAt(pcm, base+c))
			}
			putSample(out, f, sum/int32(srcChannels))
			continue
		}
		for c := range dstChannels {
			src := min(c, srcChannels-1)
			putSample(out, f*dstChannels+c, int32(sampleAt(pcm, base+src)))
		}
	}
	return out
}

// Int16sToBytes converts int16 samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to int16 samples. A trailing odd
// byte is ignored.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = sampleAt(b, i)
	}
	return pcm
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

// putSample writes v, clamped to the int16 range, at sample index i.
func putSample(out []byte, i int, v int32) {
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	out[i*2] = byte(v)
	out[i*2+1] = byte(v >> 8)
}
