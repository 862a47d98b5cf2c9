// Package audio defines the types and external boundaries of the voxrelay
// audio pipeline.
//
// The relay moves opaque [Chunk] values between three collaborators:
//
//   - a duplex channel that delivers inbound frames as [Payload] values and
//     accepts outbound bytes,
//   - a [Sink] that renders received chunks but accepts only one pending
//     append at a time, and
//   - a [CaptureDevice] that turns a microphone into a stream of encoded
//     chunks.
//
// Implementations of [Sink] and [CaptureDevice] live in adapter packages
// (audio/speaker, audio/portaudio). The interfaces are intentionally narrow so
// that the scheduling core can be tested without real hardware.
package audio

import "context"

// Sink is a playback engine that accepts one chunk at a time.
//
// Append hands chunk to the engine. A nil return means the chunk was accepted
// and the sink is now busy; exactly one value is later delivered on the
// channel returned by Ready once the append has completed. A nil value means
// success, a non-nil value means the engine failed to render the chunk.
// Either way the sink is idle again after the value is delivered.
//
// A non-nil return from Append is a synchronous rejection: the append is
// already complete, the sink stays idle and nothing is delivered on Ready.
//
// Callers must never call Append while a previous append is still pending;
// implementations return [ErrSinkBusy] if they do.
type Sink interface {
	Append(chunk Chunk) error
	Ready() <-chan error
}

// CaptureHandle is an acquired capture device.
type CaptureHandle interface {
	// Chunks delivers encoded chunks in production order. The channel is
	// closed by the device after Release has flushed the final chunk.
	Chunks() <-chan []byte

	// Release stops every underlying track. When Release returns, the
	// device is no longer capturing. Calling Release more than once is safe.
	Release() error
}

// CaptureDevice acquires a microphone and starts encoding.
//
// Acquire returns an error wrapping [ErrDeviceUnavailable] when no suitable
// device can be opened. The supplied ctx bounds the acquisition only.
type CaptureDevice interface {
	Acquire(ctx context.Context, opts CaptureOptions) (CaptureHandle, error)
}
