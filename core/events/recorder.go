package events

import "sync"

// Recorded wraps an emitted event with the monotonically increasing sequence
// number assigned by the recorder.
type Recorded struct {
	Sequence uint64 `json:"sequence"`
	Event    *Event `json:"event"`
}

// Recorder keeps a bounded in-memory window of the most recent events so the
// RPC layer can serve catch-up queries without an external transport.
type Recorder struct {
	mu       sync.RWMutex
	capacity int
	next     uint64
	buffer   []Recorded
}

// NewRecorder constructs a recorder holding at most capacity events. A
// non-positive capacity falls back to 1024.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Recorder{capacity: capacity}
}

// Emit implements the Emitter interface, appending the event to the window
// and evicting the oldest entry once full.
func (r *Recorder) Emit(evt *Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.buffer = append(r.buffer, Recorded{Sequence: r.next, Event: evt})
	if len(r.buffer) > r.capacity {
		r.buffer = r.buffer[len(r.buffer)-r.capacity:]
	}
}

// After returns up to limit events with sequence numbers strictly greater
// than afterSeq, oldest first. A non-positive limit returns everything
// retained past the cursor.
func (r *Recorder) After(afterSeq uint64, limit int) []Recorded {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Recorded, 0, len(r.buffer))
	for _, rec := range r.buffer {
		if rec.Sequence <= afterSeq {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Latest returns the highest sequence number assigned so far.
func (r *Recorder) Latest() uint64 {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.next
}
