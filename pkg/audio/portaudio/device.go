// Package portaudio implements [audio.CaptureDevice] on top of PortAudio.
//
// Acquire opens an int16 input stream whose buffer holds exactly one chunk
// of audio, so every blocking read yields one frame for the encoder. A read
// loop encodes frames and publishes them on the handle's Chunks channel
// until Release is called.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// chunkBuffer is the capacity of a handle's Chunks channel.
const chunkBuffer = 32

// DeviceInfo describes an input device.
type DeviceInfo struct {
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
	Default           bool
}

// Devices lists the host's input devices.
func Devices() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	out := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		out = append(out, DeviceInfo{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			Default:           d == def,
		})
	}
	return out, nil
}

// Device is an [audio.CaptureDevice] backed by PortAudio. The zero value is
// ready to use.
type Device struct{}

// NewDevice returns a PortAudio capture device.
func NewDevice() *Device { return &Device{} }

// Acquire implements [audio.CaptureDevice]. PortAudio offers no echo
// cancellation, noise suppression or gain control, so those requests are
// ignored.
func (d *Device) Acquire(ctx context.Context, opts audio.CaptureOptions) (audio.CaptureHandle, error) {
	enc, err := newFrameEncoder(opts)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.EchoCancellation || opts.NoiseSuppression || opts.AutoGainControl {
		slog.Debug("portaudio: input processing not supported, ignoring",
			"echo_cancellation", opts.EchoCancellation,
			"noise_suppression", opts.NoiseSuppression,
			"auto_gain_control", opts.AutoGainControl,
		)
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize portaudio: %v", audio.ErrDeviceUnavailable, err)
	}
	fail := func(format string, args ...any) (audio.CaptureHandle, error) {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: "+format, append([]any{audio.ErrDeviceUnavailable}, args...)...)
	}

	dev, err := findDevice(opts.DeviceID)
	if err != nil {
		return fail("%v", err)
	}
	if dev.MaxInputChannels < opts.Channels {
		return fail("device %q has %d input channels, need %d", dev.Name, dev.MaxInputChannels, opts.Channels)
	}

	format := audio.Format{SampleRate: opts.SampleRate, Channels: opts.Channels}
	frames := format.FramesIn(opts.ChunkDuration)
	buf := make([]int16, frames*opts.Channels)
	st, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: opts.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(opts.SampleRate),
		FramesPerBuffer: frames,
	}, buf)
	if err != nil {
		return fail("open stream on %q: %v", dev.Name, err)
	}

	h, err := startHandle(st, buf, enc, portaudio.Terminate)
	if err != nil {
		_ = st.Close()
		return fail("start stream on %q: %v", dev.Name, err)
	}
	slog.Info("portaudio: capture started", "device", dev.Name, "format", format.String(), "codec", opts.Codec, "chunk", opts.ChunkDuration)
	return h, nil
}

func findDevice(id string) (*portaudio.DeviceInfo, error) {
	if id == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("default input device: %w", err)
		}
		return dev, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == id && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("input device %q not found", id)
}

// ── Handle ──────────────────────────────────────────────────────────────────

// stream is the subset of *portaudio.Stream the read loop needs.
type stream interface {
	Start() error
	Read() error
	Stop() error
	Close() error
}

// handle is an acquired PortAudio input stream.
type handle struct {
	st        stream
	buf       []int16
	enc       frameEncoder
	terminate func() error

	chunks chan []byte
	stop   chan struct{}
	done   chan struct{}

	once sync.Once
	err  error
}

func startHandle(st stream, buf []int16, enc frameEncoder, terminate func() error) (*handle, error) {
	if err := st.Start(); err != nil {
		return nil, err
	}
	h := &handle{
		st:        st,
		buf:       buf,
		enc:       enc,
		terminate: terminate,
		chunks:    make(chan []byte, chunkBuffer),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go h.run()
	return h, nil
}

// Chunks implements [audio.CaptureHandle].
func (h *handle) Chunks() <-chan []byte { return h.chunks }

// Release implements [audio.CaptureHandle]. It lets the read in progress
// finish, publishes that last chunk, then stops and closes the stream.
func (h *handle) Release() error {
	h.once.Do(func() {
		close(h.stop)
		<-h.done
		h.err = errors.Join(h.st.Stop(), h.st.Close())
		if h.terminate != nil {
			h.err = errors.Join(h.err, h.terminate())
		}
	})
	return h.err
}

func (h *handle) run() {
	defer close(h.done)
	defer close(h.chunks)
	for {
		select {
		case <-h.stop:
			return
		default:
		}
		if err := h.st.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				slog.Debug("portaudio: input overflowed")
				continue
			}
			slog.Error("portaudio: read failed, stopping capture", "err", err)
			return
		}
		chunk, err := h.enc.Encode(audio.Int16sToBytes(h.buf))
		if err != nil {
			slog.Warn("portaudio: encode failed, dropping frame", "err", err)
			continue
		}
		h.chunks <- chunk
	}
}
