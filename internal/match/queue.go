package match

import "time"

// Entry is one fill waiting on a side queue for its counterpart.
type Entry struct {
	ExternalID string
	Price      float64
	Remaining  float64
	Timestamp  time.Time
}

// Queue is a FIFO of open fills. All operations are value transformations
// returning new queue state, so per-symbol queues never alias each other.
type Queue []Entry

func (q Queue) Push(e Entry) Queue {
	out := make(Queue, 0, len(q)+1)
	out = append(out, q...)
	return append(out, e)
}

func (q Queue) PushFront(e Entry) Queue {
	out := make(Queue, 0, len(q)+1)
	out = append(out, e)
	return append(out, q...)
}

// Pop returns the earliest entry and the remaining queue.
func (q Queue) Pop() (Entry, Queue, bool) {
	if len(q) == 0 {
		return Entry{}, q, false
	}
	return q[0], q[1:], true
}

func (q Queue) Empty() bool {
	return len(q) == 0
}

func (q Queue) Head() (Entry, bool) {
	if len(q) == 0 {
		return Entry{}, false
	}
	return q[0], true
}
