package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrWong99/voxrelay/internal/health"
	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/relay"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/audio/opus"
)

// maxRequestBody bounds control request bodies.
const maxRequestBody = 64 << 10

// captureRequest overrides the configured capture constraints for one
// recording. Absent fields keep their configured value.
type captureRequest struct {
	Device           *string      `json:"device"`
	SampleRate       *int         `json:"sample_rate"`
	Channels         *int         `json:"channels"`
	EchoCancellation *bool        `json:"echo_cancellation"`
	NoiseSuppression *bool        `json:"noise_suppression"`
	AutoGainControl  *bool        `json:"auto_gain_control"`
	Codec            *audio.Codec `json:"codec"`
	ChunkMS          *int         `json:"chunk_ms"`
}

func (r captureRequest) apply(o audio.CaptureOptions) audio.CaptureOptions {
	if r.Device != nil {
		o.DeviceID = *r.Device
	}
	if r.SampleRate != nil {
		o.SampleRate = *r.SampleRate
	}
	if r.Channels != nil {
		o.Channels = *r.Channels
	}
	if r.EchoCancellation != nil {
		o.EchoCancellation = *r.EchoCancellation
	}
	if r.NoiseSuppression != nil {
		o.NoiseSuppression = *r.NoiseSuppression
	}
	if r.AutoGainControl != nil {
		o.AutoGainControl = *r.AutoGainControl
	}
	if r.Codec != nil {
		o.Codec = *r.Codec
	}
	if r.ChunkMS != nil {
		o.ChunkDuration = time.Duration(*r.ChunkMS) * time.Millisecond
	}
	return o
}

// validateCapture applies the same rules as the capture section of the
// config file to per-request overrides.
func validateCapture(o audio.CaptureOptions) error {
	var errs []error
	if o.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate %d must be positive", o.SampleRate))
	}
	if o.Channels < 1 || o.Channels > 2 {
		errs = append(errs, fmt.Errorf("channels %d is out of range [1, 2]", o.Channels))
	}
	if !o.Codec.IsValid() {
		errs = append(errs, fmt.Errorf("codec %q is invalid; valid values: opus, pcm", o.Codec))
	}
	if o.ChunkDuration <= 0 {
		errs = append(errs, fmt.Errorf("chunk_ms %d must be positive", o.ChunkDuration.Milliseconds()))
	} else if o.Codec == audio.CodecOpus && !opus.ValidFrameDuration(o.ChunkDuration) {
		errs = append(errs, fmt.Errorf("chunk_ms %d is not an opus frame size", o.ChunkDuration.Milliseconds()))
	}
	return errors.Join(errs...)
}

type errorBody struct {
	Error string `json:"error"`
}

type recordingBody struct {
	Recording bool `json:"recording"`
}

type pausedBody struct {
	Paused bool `json:"paused"`
}

func (a *App) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		health.WriteJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}

	opts := req.apply(a.cfg.Capture.Options())
	if err := validateCapture(opts); err != nil {
		health.WriteJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	err := a.pipeline.StartCaptureWith(r.Context(), opts)
	switch {
	case err == nil:
		health.WriteJSON(w, http.StatusOK, recordingBody{Recording: true})
	case errors.Is(err, audio.ErrAlreadyRecording):
		health.WriteJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, audio.ErrDeviceUnavailable):
		health.WriteJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	default:
		observe.Logger(r.Context()).Error("app: capture start failed", "err", err)
		health.WriteJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func (a *App) handleCaptureStop(w http.ResponseWriter, r *http.Request) {
	if err := a.pipeline.StopCapture(); err != nil {
		observe.Logger(r.Context()).Error("app: capture stop failed", "err", err)
		health.WriteJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	health.WriteJSON(w, http.StatusOK, recordingBody{Recording: false})
}

func (a *App) handleTransport(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			if errors.Is(err, relay.ErrNoTransport) {
				health.WriteJSON(w, http.StatusNotImplemented, errorBody{Error: err.Error()})
				return
			}
			health.WriteJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
			return
		}
		health.WriteJSON(w, http.StatusOK, pausedBody{Paused: a.pipeline.Status().Paused})
	}
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	health.WriteJSON(w, http.StatusOK, a.pipeline.Status())
}
