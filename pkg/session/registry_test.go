package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestScopeMarksAndClears(t *testing.T) {
	registry := NewRegistry()
	scope := registry.Scope("bot:1")

	if _, ok := scope.Waiting(); ok {
		t.Fatal("new scope reported waiting")
	}

	scope.MarkWaiting("name")
	variable, ok := registry.Waiting("bot:1")
	if !ok || variable != "name" {
		t.Fatalf("Waiting = (%q, %v), want (%q, true)", variable, ok, "name")
	}

	scope.ClearWaiting()
	if _, ok := scope.Waiting(); ok {
		t.Fatal("scope still waiting after ClearWaiting")
	}
	scope.ClearWaiting()
}

func TestScopesAreIsolated(t *testing.T) {
	registry := NewRegistryWithShards(1)

	registry.Scope("a").MarkWaiting("x")
	if _, ok := registry.Waiting("b"); ok {
		t.Fatal("session b reported waiting")
	}
	registry.Scope("b").MarkWaiting("y")
	registry.Scope("a").ClearWaiting()

	if variable, ok := registry.Waiting("b"); !ok || variable != "y" {
		t.Fatalf("Waiting(b) = (%q, %v), want (%q, true)", variable, ok, "y")
	}
}

func TestRegistryConcurrentSessions(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			scope := registry.Scope(fmt.Sprintf("session-%d", i))
			for j := 0; j < 100; j++ {
				scope.MarkWaiting(fmt.Sprintf("v%d", j))
				if _, ok := scope.Waiting(); !ok {
					t.Errorf("session-%d lost its flag", i)
					return
				}
			}
			if i%2 == 0 {
				scope.ClearWaiting()
			}
		}(i)
	}
	wg.Wait()

	if got := registry.Len(); got != 32 {
		t.Fatalf("Len() = %d, want 32", got)
	}
}

func TestPruneDropsStaleFlags(t *testing.T) {
	registry := NewRegistryWithShards(4)
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	registry.now = func() time.Time { return clock }

	registry.Scope("old").MarkWaiting("name")
	clock = clock.Add(20 * time.Minute)
	registry.Scope("fresh").MarkWaiting("age")
	clock = clock.Add(time.Minute)

	if got := registry.Prune(10 * time.Minute); got != 1 {
		t.Fatalf("Prune() = %d, want 1", got)
	}
	if _, ok := registry.Waiting("old"); ok {
		t.Fatal("stale flag survived Prune")
	}
	if variable, ok := registry.Waiting("fresh"); !ok || variable != "age" {
		t.Fatalf("Waiting(fresh) = (%q, %v), want (%q, true)", variable, ok, "age")
	}
	if got := registry.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
}
