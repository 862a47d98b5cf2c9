// Package playback provides the Playback Queue and Append Scheduler that feed
// received chunks into an [audio.Sink] one append at a time.
package playback

import (
	"fmt"

	list "github.com/bahlo/generic-list-go"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// Overflow selects what happens when a bounded queue is full.
type Overflow int

const (
	// DropOldest discards the head of the queue to make room for the new
	// chunk. Playback skips ahead but stays current.
	DropOldest Overflow = iota

	// DropNewest discards the incoming chunk.
	DropNewest

	// Reject refuses the incoming chunk and returns [audio.ErrQueueFull] to
	// the producer so it can apply backpressure upstream.
	Reject
)

// String returns the configuration spelling of the policy.
func (o Overflow) String() string {
	switch o {
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// ParseOverflow parses the configuration spelling of a policy. The empty
// string selects [DropOldest].
func ParseOverflow(s string) (Overflow, error) {
	switch s {
	case "", "drop-oldest":
		return DropOldest, nil
	case "drop-newest":
		return DropNewest, nil
	case "reject":
		return Reject, nil
	}
	return 0, fmt.Errorf("playback: unknown overflow policy %q", s)
}

// chunkQueue is the FIFO of chunks waiting for the sink. It is owned by the
// scheduler goroutine and must not be touched from anywhere else.
type chunkQueue struct {
	l *list.List[audio.Chunk]
}

func newChunkQueue() *chunkQueue {
	return &chunkQueue{l: list.New[audio.Chunk]()}
}

func (q *chunkQueue) Len() int { return q.l.Len() }

func (q *chunkQueue) push(c audio.Chunk) { q.l.PushBack(c) }

// pop removes and returns the head chunk. ok is false if the queue is empty.
func (q *chunkQueue) pop() (c audio.Chunk, ok bool) {
	front := q.l.Front()
	if front == nil {
		return audio.Chunk{}, false
	}
	return q.l.Remove(front), true
}

// clear empties the queue and returns how many chunks were discarded.
func (q *chunkQueue) clear() int {
	n := q.l.Len()
	q.l.Init()
	return n
}
