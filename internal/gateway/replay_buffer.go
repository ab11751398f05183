package gateway

import "sync"

type replayEntry struct {
	Seq  int64
	Data []byte // pre-built envelope JSON
}

// ReplayBuffer keeps the last N broadcast envelopes so a reconnecting client
// can fetch what it missed by sequence number. Safe for concurrent use.
type ReplayBuffer struct {
	mu      sync.RWMutex
	entries []replayEntry // ring, oldest at head
	head    int
	size    int
}

func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{entries: make([]replayEntry, capacity)}
}

// Push stores an envelope, evicting the oldest when full. Sequence numbers
// must be pushed in increasing order.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := append([]byte(nil), data...)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	n := len(rb.entries)
	if rb.size < n {
		rb.entries[(rb.head+rb.size)%n] = replayEntry{Seq: seq, Data: cp}
		rb.size++
		return
	}
	rb.entries[rb.head] = replayEntry{Seq: seq, Data: cp}
	rb.head = (rb.head + 1) % n
}

// Since returns envelopes with seq > after, oldest first, and whether the
// buffer still covered the gap (false when entries after `after` were evicted).
func (rb *ReplayBuffer) Since(after int64) (out [][]byte, complete bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n := len(rb.entries)
	if rb.size == 0 {
		return nil, true
	}
	oldest := rb.entries[rb.head].Seq
	complete = after >= oldest-1
	for i := 0; i < rb.size; i++ {
		e := rb.entries[(rb.head+i)%n]
		if e.Seq > after {
			out = append(out, e.Data)
		}
	}
	return out, complete
}

func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}
