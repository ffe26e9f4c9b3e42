package queue

import (
	"slices"
	"sync"
	"testing"
	"time"
)

type groupID string

func TestQueue_Empty(t *testing.T) {
	q := New[groupID]()
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
	if got := q.PopN(3); got != nil {
		t.Errorf("PopN on empty queue = %v, want nil", got)
	}
	if got := q.PopN(0); got != nil {
		t.Errorf("PopN(0) = %v, want nil", got)
	}
}

func TestQueue_PopN(t *testing.T) {
	q := New[int]()
	q.Push(1, 2, 3, 4, 5)

	if got := q.PopN(2); !slices.Equal(got, []int{1, 2}) {
		t.Errorf("PopN(2) = %v, want [1 2]", got)
	}
	q.Push(6)
	if got := q.PopN(10); !slices.Equal(got, []int{3, 4, 5, 6}) {
		t.Errorf("PopN(10) = %v, want [3 4 5 6]", got)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after draining", q.Len())
	}
}

// A queue that is popped a batch per tick while new groups arrive keeps
// FIFO order across compactions.
func TestQueue_OrderAcrossTicks(t *testing.T) {
	q := New[int]()
	next, want := 0, 0
	for tick := 0; tick < 50; tick++ {
		for range 3 {
			q.Push(next)
			next++
		}
		for _, got := range q.PopN(2 + tick%3) {
			if got != want {
				t.Fatalf("tick %d: popped %d, want %d", tick, got, want)
			}
			want++
		}
	}
	if q.Len() != next-want {
		t.Errorf("Len() = %d, want %d", q.Len(), next-want)
	}
}

func TestQueue_ContainsRemove(t *testing.T) {
	q := New[groupID]()
	q.Push("BLOGI-1", "BLOGI-2", "BLOGI-1", "RLOGI-4")

	if !q.Contains("BLOGI-2") {
		t.Error("BLOGI-2 should be queued")
	}
	if !q.Remove("BLOGI-1") {
		t.Error("Remove(BLOGI-1) = false")
	}
	if q.Contains("BLOGI-1") {
		t.Error("every BLOGI-1 should be gone")
	}
	if q.Remove("SEAD-9") {
		t.Error("Remove of a missing group = true")
	}
	if got := q.Items(); !slices.Equal(got, []groupID{"BLOGI-2", "RLOGI-4"}) {
		t.Errorf("Items() = %v", got)
	}
}

func TestQueue_ContainsIgnoresPopped(t *testing.T) {
	q := New[groupID]()
	q.Push("a", "b", "c", "d")
	q.PopN(1)

	if q.Contains("a") {
		t.Error("popped item still reported")
	}
}

func TestQueue_RetainAfterPop(t *testing.T) {
	q := New[int]()
	q.Push(1, 2, 3, 4, 5, 6, 7)
	q.PopN(1)

	q.Retain(func(i int) bool { return i%2 == 0 })

	if got := q.Items(); !slices.Equal(got, []int{2, 4, 6}) {
		t.Errorf("Items() = %v, want [2 4 6]", got)
	}
	q.Push(8)
	if got := q.PopN(4); !slices.Equal(got, []int{2, 4, 6, 8}) {
		t.Errorf("PopN(4) = %v", got)
	}
}

func TestQueue_Concurrent(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Push(i)
		}()
	}
	wg.Wait()

	var mu sync.Mutex
	popped := 0
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := len(q.PopN(2))
			mu.Lock()
			popped += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	if popped != 50 || q.Len() != 50 {
		t.Errorf("popped %d, %d left; want 50 and 50", popped, q.Len())
	}
}

func TestDelayed_PopDue(t *testing.T) {
	d := NewDelayed[int]()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	d.Push(base.Add(30*time.Second), 3)
	d.Push(base.Add(10*time.Second), 1)
	d.Push(base.Add(10*time.Second), 2)
	d.Push(base.Add(time.Minute), 4)

	if got := d.PopDue(base); got != nil {
		t.Errorf("expected nothing due, got %v", got)
	}

	got := d.PopDue(base.Add(30 * time.Second))
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("expected [1 2 3], got %v", got)
	}
	if d.Len() != 1 {
		t.Errorf("expected 1 remaining, got %d", d.Len())
	}
}

func TestDelayed_Remove(t *testing.T) {
	d := NewDelayed[string]()
	now := time.Now()
	d.Push(now, "a")
	d.Push(now, "b")

	if !d.Contains("a") {
		t.Error("expected a to be scheduled")
	}
	if !d.Remove("a") {
		t.Error("expected Remove to report a")
	}
	if d.Contains("a") {
		t.Error("expected a to be gone")
	}
	if got := d.PopDue(now); len(got) != 1 || got[0] != "b" {
		t.Errorf("expected [b], got %v", got)
	}
}
