package gateway

import "signalengine/internal/ringbuf"

// replayEntry holds a single broadcast envelope for replay.
type replayEntry struct {
	Seq  int64
	Data []byte // pre-built envelope JSON
}

// ReplayBuffer keeps the most recent envelopes for client gap backfill.
// Safe for concurrent use.
type ReplayBuffer struct {
	ring *ringbuf.Ring[replayEntry]
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{ring: ringbuf.New[replayEntry](capacity)}
}

// Push records an envelope. Overwrites the oldest entry when full.
// data must not be mutated afterwards.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	rb.ring.Push(replayEntry{Seq: seq, Data: data})
}

// Range returns all entries with seq in [fromSeq, toSeq], oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []replayEntry {
	snap := rb.ring.Snapshot() // newest first
	var result []replayEntry
	for i := len(snap) - 1; i >= 0; i-- {
		if e := snap[i]; e.Seq >= fromSeq && e.Seq <= toSeq {
			result = append(result, e)
		}
	}
	return result
}

// Len returns the number of entries currently in the buffer.
func (rb *ReplayBuffer) Len() int {
	return rb.ring.Len()
}
