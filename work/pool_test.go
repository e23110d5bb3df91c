package work

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPool(t *testing.T) {
	p := NewPool("test", 4)
	defer p.Shutdown()

	stats := p.GetStats()
	if stats.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", stats.Workers)
	}
	if stats.Name != "test" {
		t.Errorf("expected name 'test', got %s", stats.Name)
	}
	if !p.IsRunning() {
		t.Error("pool should be running")
	}
}

func TestPoolSubmit(t *testing.T) {
	p := NewPool("test", 2)
	defer p.Shutdown()

	var processed int64
	task := &Task{
		ID:      "task-1",
		Payload: "data",
		Run: func(payload interface{}) (interface{}, error) {
			atomic.AddInt64(&processed, 1)
			return payload, nil
		},
	}

	if err := p.Submit(task); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case result := <-p.Results():
		if !result.Success {
			t.Error("task should succeed")
		}
		if result.TaskID != "task-1" {
			t.Errorf("expected task ID 'task-1', got %s", result.TaskID)
		}
		if result.Value != "data" {
			t.Errorf("expected payload back, got %v", result.Value)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for result")
	}

	if atomic.LoadInt64(&processed) != 1 {
		t.Error("task was not processed")
	}
}

func TestPoolTaskError(t *testing.T) {
	p := NewPool("test", 2)
	defer p.Shutdown()

	boom := errors.New("task failed")
	_ = p.Submit(&Task{
		ID:  "task-err",
		Run: func(interface{}) (interface{}, error) { return nil, boom },
	})

	select {
	case result := <-p.Results():
		if result.Success {
			t.Error("task should have failed")
		}
		if !errors.Is(result.Err, boom) {
			t.Errorf("expected boom, got %v", result.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for result")
	}

	stats := p.GetStats()
	if stats.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", stats.Failed)
	}
}

func TestPoolPanicRecovery(t *testing.T) {
	p := NewPool("test", 2)
	defer p.Shutdown()

	_ = p.Submit(&Task{
		ID:  "task-panic",
		Run: func(interface{}) (interface{}, error) { panic("kaboom") },
	})

	select {
	case result := <-p.Results():
		if result.Success {
			t.Error("panicking task should fail")
		}
		if result.Err == nil {
			t.Error("expected error from recovered panic")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for result")
	}

	// Pool must survive.
	if !p.IsRunning() {
		t.Error("pool should still be running after a panic")
	}
}

func TestPoolMapPreservesOrder(t *testing.T) {
	p := NewPool("test", 4)
	defer p.Shutdown()

	items := make([]interface{}, 50)
	for i := range items {
		items[i] = i
	}

	results := p.Map(items, func(item interface{}) (interface{}, error) {
		n := item.(int)
		if n%7 == 0 {
			return nil, fmt.Errorf("reject %d", n)
		}
		return n * 2, nil
	})

	if len(results) != 50 {
		t.Fatalf("expected 50 results, got %d", len(results))
	}
	for i, r := range results {
		if i%7 == 0 {
			if r.Success {
				t.Errorf("item %d should have failed", i)
			}
			continue
		}
		if !r.Success || r.Value.(int) != i*2 {
			t.Errorf("item %d: expected %d, got %v", i, i*2, r.Value)
		}
	}
}

func TestPoolSubmitAfterShutdown(t *testing.T) {
	p := NewPool("test", 1)
	p.Shutdown()

	err := p.Submit(&Task{ID: "late"})
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}

	// Shutdown is idempotent.
	p.Shutdown()
}
