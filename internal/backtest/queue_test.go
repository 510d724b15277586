package backtest

import (
	"testing"

	"hyperquant/internal/clock"
)

func TestSchedulerOrdersByVisibleTime(t *testing.T) {
	s := newScheduler()
	var order []int

	s.At(clock.FromMillis(300), func() { order = append(order, 3) })
	s.At(clock.FromMillis(100), func() { order = append(order, 1) })
	s.At(clock.FromMillis(200), func() { order = append(order, 2) })

	for s.Len() > 0 {
		s.Pop().Action()
	}

	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestSchedulerBreaksTiesByInsertionOrder(t *testing.T) {
	s := newScheduler()
	var order []int
	at := clock.FromMillis(100)

	s.At(at, func() { order = append(order, 1) })
	s.At(at, func() { order = append(order, 2) })
	s.At(at, func() { order = append(order, 3) })

	for s.Len() > 0 {
		s.Pop().Action()
	}

	for i, v := range []int{1, 2, 3} {
		if order[i] != v {
			t.Fatalf("got %v, want insertion order [1 2 3]", order)
		}
	}
}

func TestSchedulerPeekDoesNotRemove(t *testing.T) {
	s := newScheduler()
	s.At(clock.FromMillis(50), func() {})

	if s.Peek() == nil {
		t.Fatal("expected a peekable event")
	}
	if s.Len() != 1 {
		t.Fatalf("peek must not remove, len = %d", s.Len())
	}
}

func TestSchedulerPopEmptyReturnsNil(t *testing.T) {
	s := newScheduler()
	if s.Pop() != nil {
		t.Fatal("expected nil from an empty scheduler")
	}
}
