package dag

import "sync"

// ReadyQueue is a FIFO of transaction ids whose dependencies are all
// satisfied. An id is admitted at most once for the lifetime of the
// queue: enqueueing an id that was already admitted is a no-op, which
// makes duplicate propagation from two predecessors completing in the
// same tick harmless.
type ReadyQueue struct {
	mu       sync.Mutex
	ids      []string
	admitted map[string]bool
}

// NewReadyQueue creates an empty ready queue.
func NewReadyQueue() *ReadyQueue {
	return &ReadyQueue{
		ids:      make([]string, 0),
		admitted: make(map[string]bool),
	}
}

// Enqueue admits an id in FIFO order. Returns false if the id was
// already admitted (queued or dispatched earlier).
func (q *ReadyQueue) Enqueue(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.admitted[id] {
		return false
	}
	q.admitted[id] = true
	q.ids = append(q.ids, id)
	return true
}

// PopBatch removes and returns up to n ids in admission order.
func (q *ReadyQueue) PopBatch(n int) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || len(q.ids) == 0 {
		return nil
	}
	if n > len(q.ids) {
		n = len(q.ids)
	}

	batch := make([]string, n)
	copy(batch, q.ids[:n])
	q.ids = q.ids[n:]
	return batch
}

// Len returns the number of ids waiting for dispatch.
func (q *ReadyQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

// Admitted reports whether the id has ever been enqueued.
func (q *ReadyQueue) Admitted(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.admitted[id]
}
