package bus

import "container/list"

// entry is a queue slot. dead is set once the slot has been popped, so a
// coalescing index still pointing at it is recognised as stale.
type entry struct {
	msg  QueuedMessage
	key  CoalesceKey
	keep bool // indexed under key
	dead bool
}

// Queue is the pending message FIFO owned by one MessageBus.
// Lossy enqueues overwrite the live slot for their key in place.
// Not safe for concurrent use; the owning scheduler serialises access.
type Queue struct {
	items    *list.List
	lossy    map[CoalesceKey]*list.Element
	replaced int
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		items: list.New(),
		lossy: make(map[CoalesceKey]*list.Element),
	}
}

// EnqueueReliable appends msg to the tail.
func (q *Queue) EnqueueReliable(msg QueuedMessage) {
	q.items.PushBack(&entry{msg: msg})
}

// EnqueueLossy replaces the live slot for key if there is one, keeping its
// position. Otherwise msg is appended and indexed. Reports whether a new slot
// was appended.
func (q *Queue) EnqueueLossy(msg QueuedMessage, key CoalesceKey) bool {
	if el, ok := q.lossy[key]; ok {
		e := el.Value.(*entry)
		if !e.dead {
			e.msg = msg
			q.replaced++
			return false
		}
	}

	el := q.items.PushBack(&entry{msg: msg, key: key, keep: true})
	q.lossy[key] = el
	return true
}

// PopFront removes and returns the head. ok is false when the queue is empty.
func (q *Queue) PopFront() (msg QueuedMessage, ok bool) {
	el := q.items.Front()
	if el == nil {
		return QueuedMessage{}, false
	}
	q.items.Remove(el)

	e := el.Value.(*entry)
	e.dead = true
	if e.keep && q.lossy[e.key] == el {
		delete(q.lossy, e.key)
	}
	return e.msg, true
}

// Len returns the number of pending messages.
func (q *Queue) Len() int {
	return q.items.Len()
}

// Replaced returns how many lossy enqueues overwrote a pending slot.
func (q *Queue) Replaced() int {
	return q.replaced
}
