package scheduler

import "container/heap"

// jobQueue is a min-heap of pending jobs ordered by priority only. Jobs of equal
// priority come out in no particular order.
type jobQueue []*job

var _ heap.Interface = (*jobQueue)(nil)

func (q jobQueue) Len() int { return len(q) }

// Less compares two jobs for priority (lower priority value = runs first)
func (q jobQueue) Less(i, j int) bool { return q[i].priority < q[j].priority }

func (q jobQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

// Push implements heap.Interface
func (q *jobQueue) Push(x interface{}) {
	item := x.(*job)
	item.index = len(*q)
	*q = append(*q, item)
}

// Pop implements heap.Interface
func (q *jobQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

func (q *jobQueue) push(j *job) {
	heap.Push(q, j)
}

// pop removes the most urgent job, or returns nil when empty.
func (q *jobQueue) pop() *job {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*job)
}

// remove takes j out of the queue if it is queued.
func (q *jobQueue) remove(j *job) bool {
	if j.index < 0 || j.index >= q.Len() || (*q)[j.index] != j {
		return false
	}
	heap.Remove(q, j.index)
	return true
}
