package session

import (
	"sync"
	"testing"
)

func TestAcquireReturnsSameSession(t *testing.T) {
	r := NewRegistry()

	var mu sync.Mutex
	seen := make(map[*Session]struct{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := r.Acquire("one")
			mu.Lock()
			seen[s] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != 1 {
		t.Fatalf("concurrent first-reference created %d sessions", len(seen))
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 registered session, got %d", r.Len())
	}
}

func TestCloseAndRemoveAllowsFreshReuse(t *testing.T) {
	r := NewRegistry()
	old := r.Acquire("id")

	old.Lock()
	if h := r.CloseAndRemove(old); h != nil {
		t.Fatal("session without audio should have no handle")
	}
	old.Unlock()

	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}

	fresh := r.Acquire("id")
	if fresh == old {
		t.Fatal("reused id must get a fresh session object")
	}
	fresh.Lock()
	if fresh.Closed() {
		t.Fatal("fresh session must not inherit the closed flag")
	}
	fresh.Unlock()
}

func TestPeekDoesNotCreate(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Peek("ghost"); ok {
		t.Fatal("peek must not report unknown sessions")
	}
	if r.Len() != 0 {
		t.Fatal("peek must not create sessions")
	}
}
