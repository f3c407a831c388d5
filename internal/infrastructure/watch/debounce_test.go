package watch

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDebouncer_BatchesKeys(t *testing.T) {
	var mu sync.Mutex
	var calls [][]string
	d := NewDebouncer(50*time.Millisecond, func(keys []string) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, keys)
	})
	defer d.Stop()

	for _, k := range []string{"beta", "alpha", "beta", "alpha"} {
		d.Trigger(k)
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([][]string{{"alpha", "beta"}}, calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestDebouncer_Stop(t *testing.T) {
	var mu sync.Mutex
	called := false
	d := NewDebouncer(50*time.Millisecond, func([]string) {
		mu.Lock()
		called = true
		mu.Unlock()
	})

	d.Trigger("alpha")
	d.Stop()
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if called {
		t.Error("expected no callback after stop")
	}
}
