package portaudio

import (
	"fmt"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/audio/opus"
)

// frameEncoder turns one captured PCM frame into one outbound chunk.
type frameEncoder interface {
	Encode(pcm []byte) ([]byte, error)
}

// newFrameEncoder validates opts and returns the encoder for its codec.
func newFrameEncoder(opts audio.CaptureOptions) (frameEncoder, error) {
	if opts.SampleRate <= 0 || opts.Channels <= 0 {
		return nil, fmt.Errorf("portaudio: invalid capture format %d Hz, %d channels", opts.SampleRate, opts.Channels)
	}
	src := audio.Format{SampleRate: opts.SampleRate, Channels: opts.Channels}

	switch opts.Codec {
	case audio.CodecPCM:
		if src.FramesIn(opts.ChunkDuration) <= 0 {
			return nil, fmt.Errorf("portaudio: chunk duration %s too short", opts.ChunkDuration)
		}
		return pcmEncoder{}, nil

	case audio.CodecOpus, "":
		dst := src
		if !opus.SupportedRate(dst.SampleRate) {
			dst.SampleRate = 48000
		}
		dst.Channels = min(dst.Channels, 2)
		enc, err := opus.NewEncoder(dst, opts.ChunkDuration)
		if err != nil {
			return nil, fmt.Errorf("portaudio: %w", err)
		}
		return &opusEncoder{enc: enc, src: src, dst: dst}, nil
	}
	return nil, fmt.Errorf("portaudio: unsupported codec %q", opts.Codec)
}

// pcmEncoder emits the captured frame unchanged.
type pcmEncoder struct{}

func (pcmEncoder) Encode(pcm []byte) ([]byte, error) { return pcm, nil }

// opusEncoder converts the captured frame to a rate and layout Opus accepts
// before encoding it as a single packet.
type opusEncoder struct {
	enc      *opus.Encoder
	src, dst audio.Format
}

func (e *opusEncoder) Encode(pcm []byte) ([]byte, error) {
	if e.src != e.dst {
		pcm = fit(audio.ConvertPCM(pcm, e.src, e.dst), e.enc.FrameBytes())
	}
	return e.enc.Encode(pcm)
}

// fit pads pcm with silence or truncates it to exactly n bytes. Rate
// conversion can be off by a frame due to rounding.
func fit(pcm []byte, n int) []byte {
	if len(pcm) >= n {
		return pcm[:n]
	}
	out := make([]byte, n)
	copy(out, pcm)
	return out
}
