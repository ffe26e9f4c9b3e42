// Package queue holds the FIFO and due-time queues that pace group spawns
// and despawns across ticks. Both are safe for concurrent use.
package queue

import (
	"slices"
	"sort"
	"sync"
	"time"
)

// Queue is a FIFO. Popped slots are reclaimed once they make up half of the
// backing array.
type Queue[T comparable] struct {
	mu    sync.Mutex
	items []T
	head  int
}

func New[T comparable]() *Queue[T] {
	return &Queue[T]{}
}

func (q *Queue[T]) Push(items ...T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
}

// PopN removes and returns up to n items from the front, nil when empty.
func (q *Queue[T]) PopN(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	n = min(n, len(q.items)-q.head)
	if n <= 0 {
		return nil
	}
	out := slices.Clone(q.items[q.head : q.head+n])
	clear(q.items[q.head : q.head+n])
	q.head += n
	if q.head*2 >= len(q.items) {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	return out
}

func (q *Queue[T]) Contains(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Contains(q.items[q.head:], item)
}

// Remove drops every occurrence of item and reports whether there was one.
func (q *Queue[T]) Remove(item T) bool {
	found := false
	q.Retain(func(it T) bool {
		if it == item {
			found = true
			return false
		}
		return true
	})
	return found
}

// Retain keeps the items keep accepts, in order.
func (q *Queue[T]) Retain(keep func(T) bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	live := slices.DeleteFunc(q.items[q.head:], func(it T) bool { return !keep(it) })
	q.items = append(q.items[:0], live...)
	q.head = 0
}

// Items returns a copy in queue order.
func (q *Queue[T]) Items() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items[q.head:])
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

type delayed[T comparable] struct {
	due  time.Time
	item T
}

// Delayed holds items until their due time. Items with equal due times
// come out in insertion order.
type Delayed[T comparable] struct {
	mu    sync.Mutex
	items []delayed[T]
}

// NewDelayed creates an empty delayed queue.
func NewDelayed[T comparable]() *Delayed[T] {
	return &Delayed[T]{}
}

// Push schedules item at due.
func (d *Delayed[T]) Push(due time.Time, item T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := sort.Search(len(d.items), func(i int) bool { return d.items[i].due.After(due) })
	d.items = append(d.items, delayed[T]{})
	copy(d.items[i+1:], d.items[i:])
	d.items[i] = delayed[T]{due: due, item: item}
}

// PopDue removes and returns every item due at or before now.
func (d *Delayed[T]) PopDue(now time.Time) []T {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := sort.Search(len(d.items), func(i int) bool { return d.items[i].due.After(now) })
	if n == 0 {
		return nil
	}
	out := make([]T, n)
	for i := range n {
		out[i] = d.items[i].item
	}
	d.items = append(d.items[:0], d.items[n:]...)
	return out
}

// Contains reports whether item is scheduled.
func (d *Delayed[T]) Contains(item T) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, it := range d.items {
		if it.item == item {
			return true
		}
	}
	return false
}

// Remove unschedules every occurrence of item and reports whether one was found.
func (d *Delayed[T]) Remove(item T) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.items[:0]
	found := false
	for _, it := range d.items {
		if it.item == item {
			found = true
			continue
		}
		out = append(out, it)
	}
	d.items = out
	return found
}

// Len returns the number of scheduled items.
func (d *Delayed[T]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}
