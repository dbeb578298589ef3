package ring

import (
	"math"
	"sync"
	"time"
)

// Frame is one timestamped still image as received from a source.
type Frame struct {
	Seq        uint64    `json:"seq"`
	CapturedAt time.Time `json:"captured_at"`
	Payload    []byte    `json:"-"`
	Encoding   string    `json:"encoding"` // "jpeg"
}

// Ring holds the most recent frames for one source. Capacity is fixed
// at construction; appending to a full ring evicts the oldest frame.
// One writer (the ingest path), any number of readers.
type Ring struct {
	mu    sync.RWMutex
	slots []Frame
	head  int // next write position
	count int
	seq   uint64
}

func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{slots: make([]Frame, capacity)}
}

// CapacityFor sizes a ring so it covers window at fps.
func CapacityFor(window time.Duration, fps float64) int {
	n := int(math.Ceil(window.Seconds() * fps))
	if n < 1 {
		return 1
	}
	return n
}

// Append stores a frame and returns its assigned sequence number.
func (r *Ring) Append(capturedAt time.Time, payload []byte, encoding string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	r.slots[r.head] = Frame{
		Seq:        r.seq,
		CapturedAt: capturedAt,
		Payload:    payload,
		Encoding:   encoding,
	}
	r.head = (r.head + 1) % len(r.slots)
	if r.count < len(r.slots) {
		r.count++
	}
	return r.seq
}

// Size returns the number of frames currently held.
func (r *Ring) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Capacity returns the fixed slot count.
func (r *Ring) Capacity() int {
	return len(r.slots)
}

// Last returns the newest frame, if any.
func (r *Ring) Last() (Frame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		return Frame{}, false
	}
	idx := (r.head - 1 + len(r.slots)) % len(r.slots)
	return r.slots[idx], true
}

// Recent returns the frames captured within d of now, oldest first.
func (r *Ring) Recent(d time.Duration) []Frame {
	return r.RecentAt(d, time.Now())
}

// RecentAt returns the frames with CapturedAt >= at-d, oldest first.
func (r *Ring) RecentAt(d time.Duration, at time.Time) []Frame {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := at.Add(-d)
	out := make([]Frame, 0, r.count)
	for i := 0; i < r.count; i++ {
		f := r.nth(i)
		if !f.CapturedAt.Before(cutoff) {
			out = append(out, f)
		}
	}
	return out
}

// Snapshot is Recent with payloads deep-copied, so the caller may
// retain the frames past any number of subsequent appends.
func (r *Ring) Snapshot(d time.Duration) []Frame {
	frames := r.Recent(d)
	out := make([]Frame, len(frames))
	for i, f := range frames {
		p := make([]byte, len(f.Payload))
		copy(p, f.Payload)
		f.Payload = p
		out[i] = f
	}
	return out
}

// nth returns the i-th oldest frame. Caller holds the lock.
func (r *Ring) nth(i int) Frame {
	start := (r.head - r.count + len(r.slots)) % len(r.slots)
	return r.slots[(start+i)%len(r.slots)]
}
