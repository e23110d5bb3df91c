// Package work provides a bounded goroutine pool for batch workloads
// such as threat scanning and load generation.
package work

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Common errors for pool operations
var (
	ErrPoolClosed = errors.New("worker pool is shut down")
	ErrQueueFull  = errors.New("task queue is full")
)

// Task is a unit of work submitted to the pool.
type Task struct {
	ID      string
	Payload interface{}
	Run     func(payload interface{}) (interface{}, error)
}

// Result is the outcome of one task.
type Result struct {
	TaskID   string
	Success  bool
	Value    interface{}
	Err      error
	Duration time.Duration
}

// Stats contains pool statistics.
type Stats struct {
	Name        string  `json:"name"`
	Workers     int     `json:"workers"`
	Active      int64   `json:"active"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	Pending     int     `json:"pending"`
	SuccessRate float64 `json:"success_rate"`
}

// Pool runs tasks on a fixed set of worker goroutines.
type Pool struct {
	name    string
	workers int

	taskChan   chan *Task
	resultChan chan *Result
	wg         sync.WaitGroup

	// Atomic counters for thread-safe statistics
	active    int64
	completed int64
	failed    int64

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
}

// NewPool creates and starts a pool with the given number of workers.
func NewPool(name string, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}

	p := &Pool{
		name:       name,
		workers:    workers,
		taskChan:   make(chan *Task, workers*100),
		resultChan: make(chan *Result, workers*100),
		running:    true,
		stopCh:     make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case task, ok := <-p.taskChan:
			if !ok {
				return
			}
			p.runTask(task)
		}
	}
}

func (p *Pool) runTask(task *Task) {
	atomic.AddInt64(&p.active, 1)
	defer atomic.AddInt64(&p.active, -1)

	start := time.Now()
	result := &Result{TaskID: task.ID}

	// Panic recovery so one task cannot take down the pool.
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Err = errors.New("panic in task: " + panicToString(r))
			result.Duration = time.Since(start)
			atomic.AddInt64(&p.failed, 1)
			p.sendResult(result)
		}
	}()

	if task.Run != nil {
		value, err := task.Run(task.Payload)
		result.Value = value
		result.Err = err
		result.Success = err == nil
	} else {
		result.Err = errors.New("no run function defined")
	}
	result.Duration = time.Since(start)

	if result.Success {
		atomic.AddInt64(&p.completed, 1)
	} else {
		atomic.AddInt64(&p.failed, 1)
	}
	p.sendResult(result)
}

func panicToString(r interface{}) string {
	switch v := r.(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return "unknown panic"
	}
}

// sendResult delivers a result without blocking; the consumer is
// expected to drain Results.
func (p *Pool) sendResult(result *Result) {
	select {
	case p.resultChan <- result:
	default:
	}
}

// Submit queues a task for execution.
func (p *Pool) Submit(task *Task) error {
	p.mu.RLock()
	running := p.running
	p.mu.RUnlock()

	if !running {
		return ErrPoolClosed
	}

	select {
	case p.taskChan <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Map runs fn over every item with pool parallelism and returns results
// in input order. It blocks until all items are done.
func (p *Pool) Map(items []interface{}, fn func(interface{}) (interface{}, error)) []Result {
	results := make([]Result, len(items))

	var wg sync.WaitGroup
	sem := make(chan struct{}, p.workers)
	for i, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item interface{}) {
			defer wg.Done()
			defer func() { <-sem }()

			start := time.Now()
			value, err := fn(item)
			results[i] = Result{
				Success:  err == nil,
				Value:    value,
				Err:      err,
				Duration: time.Since(start),
			}
			if err == nil {
				atomic.AddInt64(&p.completed, 1)
			} else {
				atomic.AddInt64(&p.failed, 1)
			}
		}(i, item)
	}
	wg.Wait()
	return results
}

// Results returns the channel of completed task results.
func (p *Pool) Results() <-chan *Result {
	return p.resultChan
}

// GetStats returns current pool statistics.
func (p *Pool) GetStats() Stats {
	completed := atomic.LoadInt64(&p.completed)
	failed := atomic.LoadInt64(&p.failed)
	total := completed + failed

	var successRate float64
	if total > 0 {
		successRate = float64(completed) / float64(total) * 100
	}

	return Stats{
		Name:        p.name,
		Workers:     p.workers,
		Active:      atomic.LoadInt64(&p.active),
		Completed:   completed,
		Failed:      failed,
		Pending:     len(p.taskChan),
		SuccessRate: successRate,
	}
}

// Shutdown stops the pool and waits for workers to exit.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()
	close(p.resultChan)
}

// IsRunning reports whether the pool accepts tasks.
func (p *Pool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}
