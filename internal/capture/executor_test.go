package capture

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestNewExecutor_ZeroWorkers(t *testing.T) {
	e := NewExecutor(0, 0)
	if e == nil {
		t.Fatal("Expected non-nil executor")
	}
	if e.workers != 1 || cap(e.jobQueue) != 1 {
		t.Errorf("Expected 1 worker and queue 1, got %d/%d", e.workers, cap(e.jobQueue))
	}
}

func TestExecutor_Submit(t *testing.T) {
	e := NewExecutor(2, 8)
	e.Start()
	defer e.Close(context.Background())

	var counter int
	var mu sync.Mutex
	for i := 0; i < 5; i++ {
		if !e.Submit(func() {
			mu.Lock()
			counter++
			mu.Unlock()
		}) {
			t.Fatalf("Expected job %d to be accepted", i)
		}
	}
	e.Wait()

	if counter != 5 {
		t.Errorf("Expected counter to be 5, got %d", counter)
	}
	stats := e.Stats()
	if stats.TotalJobs != 5 || stats.CompletedJobs != 5 || stats.ActiveWorkers != 0 {
		t.Errorf("Expected 5/5/0, got %+v", stats)
	}
}

func TestExecutor_SubmitNeverBlocks(t *testing.T) {
	e := NewExecutor(1, 1)
	e.Start()

	release := make(chan struct{})
	started := make(chan struct{})
	e.Submit(func() {
		close(started)
		<-release
	})
	<-started

	if !e.Submit(func() {}) {
		t.Fatal("Expected queued job to be accepted")
	}
	if e.Submit(func() {}) {
		t.Error("Expected submit on a full queue to be rejected")
	}
	if !e.Busy() {
		t.Error("Expected executor to report busy")
	}

	close(release)
	e.Wait()
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("Expected clean close, got %v", err)
	}
	if got := e.Stats().RejectedJobs; got != 1 {
		t.Errorf("Expected 1 rejected job, got %d", got)
	}
}

func TestExecutor_StartOnce(t *testing.T) {
	e := NewExecutor(1, 1)
	e.Start()
	e.Start()
	defer e.Close(context.Background())

	var executed bool
	e.Submit(func() { executed = true })
	e.Wait()

	if !executed {
		t.Error("Expected job to be executed")
	}
}

func TestExecutor_CloseAndResubmit(t *testing.T) {
	e := NewExecutor(1, 1)
	e.Start()

	var executed bool
	e.Submit(func() { executed = true })
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("Expected clean close, got %v", err)
	}
	if !executed {
		t.Error("Expected queued job to run before close returns")
	}
	if e.Submit(func() {}) {
		t.Error("Expected submit after close to be rejected")
	}
	if err := e.Close(context.Background()); err != nil {
		t.Errorf("Expected second close to be a no-op, got %v", err)
	}
}

func TestExecutor_CloseBounded(t *testing.T) {
	e := NewExecutor(1, 1)
	e.Start()

	release := make(chan struct{})
	defer close(release)
	e.Submit(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := e.Close(ctx); err == nil {
		t.Error("Expected close to time out while a job is stuck")
	}
}

func TestExecutor_PanicRecovered(t *testing.T) {
	e := NewExecutor(1, 2)
	e.Start()
	defer e.Close(context.Background())

	e.Submit(func() { panic("stage failure") })
	var after bool
	e.Submit(func() { after = true })
	e.Wait()

	if !after {
		t.Error("Expected worker to survive a panicking job")
	}
	if e.Stats().CompletedJobs != 2 {
		t.Errorf("Expected 2 completed jobs, got %d", e.Stats().CompletedJobs)
	}
}
