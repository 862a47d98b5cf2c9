package speaker

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/audio/opus"
)

// ErrUnsupportedType is returned synchronously by [Sink.Append] for a chunk
// whose type tag the sink cannot render.
var ErrUnsupportedType = errors.New("speaker: unsupported chunk type")

// resampleQuality is passed to [beep.Resample]. Values 3 to 4 are the
// library's recommended trade-off.
const resampleQuality = 4

// mpegFrameSamples is the sample count of one MPEG-1 layer III frame. The
// MPEG decoder hands frames to the stream in batches of this size.
const mpegFrameSamples = 1152

// decoder renders chunks into frames at the sink's output rate and appends
// them to out. Calls are serialised by the sink, so the stateful Opus and MPEG
// decoders need no lock.
type decoder struct {
	rate beep.SampleRate
	pcm  audio.Format
	opus *opus.Decoder
	out  *frameStream
	mpeg *mpegStream
}

// supports reports whether typ can be rendered at all.
func (d *decoder) supports(typ string) bool {
	switch typ {
	case audio.TypeMPEG, audio.TypeWAV, audio.TypePCM:
		return true
	case audio.TypeOpus:
		return d.opus != nil
	}
	return false
}

// decode renders c and appends the result to d.out.
func (d *decoder) decode(c audio.Chunk) error {
	switch c.Type {
	case audio.TypeMPEG:
		return d.appendMPEG(c.Data)

	case audio.TypeWAV:
		s, f, err := wav.Decode(bytes.NewReader(c.Data))
		if err != nil {
			return fmt.Errorf("speaker: wav: %w", err)
		}
		defer s.Close()
		frames, err := d.readAll(s, f.SampleRate)
		if err != nil {
			return err
		}
		d.out.push(frames)
		return nil

	case audio.TypeOpus:
		pcm, err := d.opus.Decode(c.Data)
		if err != nil {
			return fmt.Errorf("speaker: %w", err)
		}
		d.out.push(d.fromPCM(pcm, d.opus.Format()))
		return nil

	case audio.TypePCM:
		if len(c.Data)%d.pcm.FrameBytes() != 0 {
			return fmt.Errorf("speaker: pcm: %d bytes is not a whole number of %s frames", len(c.Data), d.pcm)
		}
		d.out.push(d.fromPCM(c.Data, d.pcm))
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedType, c.Type)
}

// appendMPEG feeds data to the running MPEG stream, starting one if needed.
// MPEG frames do not line up with chunk boundaries and borrow bits from
// earlier frames, so every chunk goes to the same decoder. It returns once
// the decoder has consumed data. A decoder that failed reports its error on
// the next append and is replaced by a fresh one after that.
func (d *decoder) appendMPEG(data []byte) error {
	if d.mpeg == nil {
		d.mpeg = d.startMPEG()
	}
	if _, err := d.mpeg.pw.Write(data); err != nil {
		d.mpeg.close()
		d.mpeg = nil
		return fmt.Errorf("speaker: %w", err)
	}
	return nil
}

// close ends the MPEG stream, flushing the frames it still holds.
func (d *decoder) close() {
	if d.mpeg != nil {
		d.mpeg.close()
		d.mpeg = nil
	}
}

// mpegStream is one long-lived MP3 decoder reading from a pipe.
type mpegStream struct {
	pw   *io.PipeWriter
	done chan struct{}
}

func (d *decoder) startMPEG() *mpegStream {
	pr, pw := io.Pipe()
	m := &mpegStream{pw: pw, done: make(chan struct{})}
	go func() {
		defer close(m.done)
		err := d.pumpMPEG(pr)
		if err == nil {
			err = io.ErrClosedPipe
		}
		// Unblocks a writer when decoding stopped early.
		pr.CloseWithError(err)
	}()
	return m
}

// pumpMPEG decodes pr until it is closed or the data turns out invalid,
// pushing every batch of frames as soon as it is decoded.
func (d *decoder) pumpMPEG(pr *io.PipeReader) error {
	s, f, err := mp3.Decode(pr)
	if err != nil {
		return err
	}
	defer s.Close()

	var st beep.Streamer = s
	if f.SampleRate != d.rate {
		st = beep.Resample(resampleQuality, f.SampleRate, d.rate, st)
	}
	buf := make([][2]float64, mpegFrameSamples)
	for {
		n, ok := st.Stream(buf)
		if n > 0 {
			d.out.push(buf[:n])
		}
		if !ok {
			return st.Err()
		}
	}
}

func (m *mpegStream) close() {
	_ = m.pw.Close()
	<-m.done
}

// readAll drains s, resampling from src to the output rate when needed.
func (d *decoder) readAll(s beep.Streamer, src beep.SampleRate) ([][2]float64, error) {
	if src != d.rate {
		s = beep.Resample(resampleQuality, src, d.rate, s)
	}
	var out [][2]float64
	buf := make([][2]float64, 512)
	for {
		n, ok := s.Stream(buf)
		out = append(out, buf[:n]...)
		if !ok || n == 0 {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("speaker: stream: %w", err)
	}
	return out, nil
}

// fromPCM converts int16 PCM in format f to stereo float frames at d.rate.
func (d *decoder) fromPCM(pcm []byte, f audio.Format) [][2]float64 {
	dst := audio.Format{SampleRate: int(d.rate), Channels: 2}
	pcm = audio.ConvertPCM(pcm, f, dst)
	samples := audio.BytesToInt16s(pcm)
	frames := make([][2]float64, len(samples)/2)
	for i := range frames {
		frames[i][0] = float64(samples[2*i]) / 32768
		frames[i][1] = float64(samples[2*i+1]) / 32768
	}
	return frames
}
