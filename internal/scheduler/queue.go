package scheduler

import (
	"container/list"

	"github.com/syncevo/pimsyncd/internal/session"
)

// queuedSession is one entry in the priority queue: a weak reference to
// a queued Session plus the FIFO sequence it arrived in.
type queuedSession struct {
	sess *session.Session
	seq  uint64
}

// priorityQueue orders queued sessions by priority (lower runs sooner),
// then FIFO within a priority tier (spec.md §4.8.2).
type priorityQueue struct {
	items *list.List
	seq   uint64
}

func newPriorityQueue() *priorityQueue {
	return &priorityQueue{items: list.New()}
}

// enqueue inserts sess respecting priority order then FIFO within tier.
func (q *priorityQueue) enqueue(sess *session.Session) {
	q.seq++
	entry := queuedSession{sess: sess, seq: q.seq}

	for e := q.items.Front(); e != nil; e = e.Next() {
		cur := e.Value.(queuedSession)
		if sess.Priority < cur.sess.Priority {
			q.items.InsertBefore(entry, e)
			return
		}
	}
	q.items.PushBack(entry)
}

// pop removes and returns the front of the queue, or nil if empty.
func (q *priorityQueue) pop() *session.Session {
	front := q.items.Front()
	if front == nil {
		return nil
	}
	q.items.Remove(front)
	return front.Value.(queuedSession).sess
}

func (q *priorityQueue) len() int { return q.items.Len() }

// removeByDeviceID drops all queued sessions whose PeerDeviceID matches,
// returning the removed sessions (spec.md §4.8.4).
func (q *priorityQueue) removeByDeviceID(peerDeviceID string) []*session.Session {
	var removed []*session.Session
	for e := q.items.Front(); e != nil; {
		next := e.Next()
		cur := e.Value.(queuedSession)
		if cur.sess.PeerDeviceID == peerDeviceID && peerDeviceID != "" {
			removed = append(removed, cur.sess)
			q.items.Remove(e)
		}
		e = next
	}
	return removed
}

// snapshot returns the queued sessions in current order without removing
// them, for introspection (GetSessions).
func (q *priorityQueue) snapshot() []*session.Session {
	out := make([]*session.Session, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(queuedSession).sess)
	}
	return out
}
