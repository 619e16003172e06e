package queue

import "testing"

type fakeHandle struct {
	id       string
	admitted bool
}

func (f *fakeHandle) ID() string { return f.id }
func (f *fakeHandle) Admit()     { f.admitted = true }

func TestTryAdmitBelowCapAdmitsDirectly(t *testing.T) {
	q := New(2, nil)
	h := &fakeHandle{id: "a"}
	if !q.TryAdmit(h) {
		t.Fatalf("expected immediate admission below cap")
	}
	if q.Population() != 1 {
		t.Fatalf("expected population 1, got %d", q.Population())
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got depth %d", q.Len())
	}
}

func TestTryAdmitAtCapQueues(t *testing.T) {
	q := New(1, nil)
	a := &fakeHandle{id: "a"}
	b := &fakeHandle{id: "b"}

	if !q.TryAdmit(a) {
		t.Fatalf("expected a to be admitted (population 0 < cap 1)")
	}
	if q.TryAdmit(b) {
		t.Fatalf("expected b to be queued (population 1 >= cap 1)")
	}
	if q.Len() != 1 {
		t.Fatalf("expected queue depth 1, got %d", q.Len())
	}
}

func TestDecrementAdmitsFromHead(t *testing.T) {
	q := New(1, nil)
	a := &fakeHandle{id: "a"}
	b := &fakeHandle{id: "b"}
	q.TryAdmit(a)
	q.TryAdmit(b)

	q.Decrement() // a leaves; b should be admitted from the head
	if q.Len() != 0 {
		t.Fatalf("expected queue drained, got depth %d", q.Len())
	}
	if !b.admitted {
		t.Fatalf("expected b.Admit() to have been called")
	}
	if q.Population() != 1 {
		t.Fatalf("expected population to settle at 1, got %d", q.Population())
	}
}

func TestDequeueArbitraryRemovalDoesNotTouchPopulation(t *testing.T) {
	q := New(1, nil)
	a := &fakeHandle{id: "a"}
	b := &fakeHandle{id: "b"}
	c := &fakeHandle{id: "c"}
	q.TryAdmit(a)
	q.TryAdmit(b)
	q.TryAdmit(c)

	if !q.Dequeue("b") {
		t.Fatalf("expected b to be found and removed")
	}
	if q.Dequeue("b") {
		t.Fatalf("expected second removal of b to report not found")
	}
	if q.Population() != 1 {
		t.Fatalf("expected Dequeue not to affect population, got %d", q.Population())
	}
	if q.Len() != 1 {
		t.Fatalf("expected c to remain queued, got depth %d", q.Len())
	}
}

func TestMultipleDecrementsDrainQueueInFIFOOrder(t *testing.T) {
	q := New(1, nil)
	order := []*fakeHandle{{id: "a"}, {id: "b"}, {id: "c"}}
	for _, h := range order {
		q.TryAdmit(h)
	}

	q.Decrement()
	if !order[1].admitted || order[2].admitted {
		t.Fatalf("expected only the head (b) admitted after first decrement")
	}
	q.Decrement()
	if !order[2].admitted {
		t.Fatalf("expected c admitted after second decrement")
	}
}
