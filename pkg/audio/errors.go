package audio

import (
	"errors"
	"fmt"
)

// Session-level conditions. These are surfaced to the caller; the relay never
// retries them on its own.
var (
	// ErrChannelUnavailable is returned by a send attempted while the duplex
	// channel is not open.
	ErrChannelUnavailable = errors.New("audio: channel unavailable")

	// ErrDeviceUnavailable is returned when the capture device cannot be
	// acquired (permission denied, no device, device busy).
	ErrDeviceUnavailable = errors.New("audio: capture device unavailable")

	// ErrAlreadyRecording is returned by a capture start while a capture
	// session is already active.
	ErrAlreadyRecording = errors.New("audio: already recording")

	// ErrQueueFull is returned to a producer when the playback queue is at
	// capacity and the overflow policy rejects new chunks.
	ErrQueueFull = errors.New("audio: playback queue full")

	// ErrSinkBusy is returned by a sink that receives an append while a
	// previous append is still in progress.
	ErrSinkBusy = errors.New("audio: sink busy")
)

// DecodeError reports that a single inbound frame could not be materialised.
// The frame is dropped; the pipeline continues with the next one.
type DecodeError struct {
	// Seq is the receive sequence number of the failed frame.
	Seq uint64

	// Type is the frame's type tag.
	Type string

	// Err is the underlying cause.
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("audio: decode frame %d (%s): %v", e.Seq, e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// AppendError reports that the playback sink rejected a chunk. The chunk is
// discarded and the scheduler advances to the next queued chunk.
type AppendError struct {
	// Chunk is the rejected chunk.
	Chunk Chunk

	// Err is the underlying cause reported by the sink.
	Err error
}

func (e *AppendError) Error() string {
	return fmt.Sprintf("audio: append %d bytes (%s): %v", e.Chunk.Len(), e.Chunk.Type, e.Err)
}

func (e *AppendError) Unwrap() error { return e.Err }
