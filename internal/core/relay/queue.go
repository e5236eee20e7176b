package relay

import "sync"

// frameQueue is a bounded FIFO with drop-oldest-audio overflow semantics.
// Control frames are never dropped: when the queue is full they displace the
// oldest queued audio frame, or are appended past the bound if no audio
// remains to displace. An audio frame arriving at a full all-control queue
// is discarded.
type frameQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	frames  []Frame
	limit   int
	closed  bool
	dropped int
}

func newFrameQueue(limit int) *frameQueue {
	q := &frameQueue{limit: limit}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a frame, applying the overflow policy. Frames pushed after
// CloseIntake are discarded silently.
func (q *frameQueue) Push(frame Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	if len(q.frames) >= q.limit {
		if !q.dropOldestAudioLocked() && frame.Kind == KindAudio {
			// Full of control frames and the newcomer is droppable.
			q.dropped++
			return
		}
	}

	q.frames = append(q.frames, frame)
	q.cond.Signal()
}

// dropOldestAudioLocked removes the oldest audio frame, if any.
func (q *frameQueue) dropOldestAudioLocked() bool {
	for i, f := range q.frames {
		if f.Kind == KindAudio {
			q.frames = append(q.frames[:i], q.frames[i+1:]...)
			q.dropped++
			return true
		}
	}
	return false
}

// Pop blocks until a frame is available or the queue is closed and empty.
// The second return is false once the queue is exhausted.
func (q *frameQueue) Pop() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.frames) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.frames) == 0 {
		return Frame{}, false
	}

	frame := q.frames[0]
	q.frames = q.frames[1:]
	return frame, true
}

// CloseIntake stops accepting new frames. Queued frames remain poppable.
func (q *frameQueue) CloseIntake() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Discard closes intake and throws away anything still queued.
func (q *frameQueue) Discard() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.dropped += len(q.frames)
	q.frames = nil
	q.cond.Broadcast()
}

// Dropped returns how many frames were discarded by the overflow policy or
// a forced discard.
func (q *frameQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Len returns the number of queued frames.
func (q *frameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}
