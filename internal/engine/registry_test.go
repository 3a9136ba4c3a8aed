package engine

import (
	"context"
	"testing"
)

func TestRegistry_TakeRemovesHandle(t *testing.T) {
	r := NewRegistry()

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Register("a", cancel)

	if _, ok := r.Take("a"); !ok {
		t.Fatal("first Take(a) = false, want true")
	}
	if _, ok := r.Take("a"); ok {
		t.Error("second Take(a) = true, want false: cancellation must happen at most once")
	}
}

func TestRegistry_TakeMissing(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Take("missing"); ok {
		t.Error("Take(missing) = true, want false")
	}
}

func TestRegistry_RegisterReplacesAndCancelsPrevious(t *testing.T) {
	r := NewRegistry()

	first, firstCancel := context.WithCancel(context.Background())
	defer firstCancel()
	r.Register("a", firstCancel)

	second, secondCancel := context.WithCancel(context.Background())
	defer secondCancel()
	r.Register("a", secondCancel)

	if first.Err() == nil {
		t.Error("previous handle not cancelled on re-register")
	}
	if second.Err() != nil {
		t.Error("new handle cancelled unexpectedly")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_RemoveOnlyDropsOwnGeneration(t *testing.T) {
	r := NewRegistry()

	_, firstCancel := context.WithCancel(context.Background())
	defer firstCancel()
	firstGen := r.Register("a", firstCancel)

	second, secondCancel := context.WithCancel(context.Background())
	defer secondCancel()
	r.Register("a", secondCancel)

	// A finished first run must not evict its successor's handle.
	r.Remove("a", firstGen)
	if r.Len() != 1 {
		t.Fatalf("Len() = %d after stale Remove, want 1", r.Len())
	}
	if second.Err() != nil {
		t.Error("successor handle cancelled by stale Remove")
	}
}

func TestRegistry_RemoveDropsCurrentGeneration(t *testing.T) {
	r := NewRegistry()

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen := r.Register("a", cancel)

	r.Remove("a", gen)
	if r.Len() != 0 {
		t.Errorf("Len() = %d after Remove, want 0", r.Len())
	}
	if _, ok := r.Take("a"); ok {
		t.Error("Take(a) = true after Remove, want false")
	}
}

func TestRegistry_CancelAll(t *testing.T) {
	r := NewRegistry()

	ctxs := make([]context.Context, 3)
	for i, id := range []string{"a", "b", "c"} {
		ctx, cancel := context.WithCancel(context.Background())
		ctxs[i] = ctx
		r.Register(id, cancel)
	}

	r.CancelAll()

	for i, ctx := range ctxs {
		if ctx.Err() == nil {
			t.Errorf("handle %d not cancelled", i)
		}
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}
