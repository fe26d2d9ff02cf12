// Package queue is a generic binary heap keyed by float64 priority. The
// nearest neighbour search uses a min heap to visit octree volumes by
// distance and bounded max heaps to keep the k best points per vertex.
package queue

import "container/heap"

// Item is a heap entry.
type Item[T any] struct {
	Value    T
	Priority float64
	seq      uint64
}

// Heap pops the smallest priority first (NewMin) or the largest (NewMax).
// Equal priorities leave in insertion order from Drain.
type Heap[T any] struct {
	h   items[T]
	seq uint64
}

func NewMin[T any](capacity int) *Heap[T] {
	return &Heap[T]{h: items[T]{list: make([]Item[T], 0, capacity)}}
}

func NewMax[T any](capacity int) *Heap[T] {
	return &Heap[T]{h: items[T]{list: make([]Item[T], 0, capacity), max: true}}
}

func (q *Heap[T]) Len() int { return len(q.h.list) }

func (q *Heap[T]) Push(v T, priority float64) {
	q.seq++
	heap.Push(&q.h, Item[T]{Value: v, Priority: priority, seq: q.seq})
}

func (q *Heap[T]) Peek() (Item[T], bool) {
	if len(q.h.list) == 0 {
		return Item[T]{}, false
	}
	return q.h.list[0], true
}

func (q *Heap[T]) Pop() (Item[T], bool) {
	if len(q.h.list) == 0 {
		return Item[T]{}, false
	}
	return heap.Pop(&q.h).(Item[T]), true
}

// Offer bounds a max heap to k items. v is kept when the heap has room or
// when priority beats the current worst, which is dropped.
func (q *Heap[T]) Offer(v T, priority float64, k int) bool {
	switch {
	case k <= 0:
		return false
	case len(q.h.list) < k:
		q.Push(v, priority)
		return true
	case !q.h.max || priority >= q.h.list[0].Priority:
		return false
	}
	q.seq++
	q.h.list[0] = Item[T]{Value: v, Priority: priority, seq: q.seq}
	heap.Fix(&q.h, 0)
	return true
}

// Drain empties the heap and returns its items by ascending priority.
func (q *Heap[T]) Drain() []Item[T] {
	out := make([]Item[T], len(q.h.list))
	for i := range out {
		it := heap.Pop(&q.h).(Item[T])
		if q.h.max {
			out[len(out)-1-i] = it
		} else {
			out[i] = it
		}
	}
	return out
}

func (q *Heap[T]) Reset() {
	clear(q.h.list)
	q.h.list = q.h.list[:0]
	q.seq = 0
}

type items[T any] struct {
	list []Item[T]
	max  bool
}

func (h *items[T]) Len() int { return len(h.list) }

func (h *items[T]) Less(i, j int) bool {
	a, b := h.list[i], h.list[j]
	if a.Priority != b.Priority {
		return (a.Priority < b.Priority) != h.max
	}
	// A max heap pops later insertions first so Drain can reverse it.
	return (a.seq < b.seq) != h.max
}

func (h *items[T]) Swap(i, j int) { h.list[i], h.list[j] = h.list[j], h.list[i] }

func (h *items[T]) Push(x any) { h.list = append(h.list, x.(Item[T])) }

func (h *items[T]) Pop() any {
	n := len(h.list) - 1
	it := h.list[n]
	h.list[n] = Item[T]{}
	h.list = h.list[:n]
	return it
}
