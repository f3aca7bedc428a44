package delivery

import "container/heap"

// destQueue orders pending messages for one destination: higher priority
// first, FIFO within a priority by creation timestamp.
type destQueue struct {
	items []*Message
}

func (q *destQueue) Len() int { return len(q.items) }

func (q *destQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (q *destQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *destQueue) Push(x any) { q.items = append(q.items, x.(*Message)) }

func (q *destQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return item
}

func newDestQueue() *destQueue {
	q := &destQueue{}
	heap.Init(q)
	return q
}

func (q *destQueue) push(m *Message) { heap.Push(q, m) }

func (q *destQueue) pop() *Message {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*Message)
}
