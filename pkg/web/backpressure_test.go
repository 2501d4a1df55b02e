package web

import (
	"sync"
	"testing"
)

func TestBackpressureController(t *testing.T) {
	capacity := 100
	bc := NewBackpressureController(capacity)

	for i := 0; i < capacity; i++ {
		if !bc.TryAcquire() {
			t.Errorf("Should acquire capacity for request %d", i)
		}
	}

	if bc.TryAcquire() {
		t.Error("Should reject request when capacity exceeded")
	}

	metrics := bc.GetMetrics()
	if metrics.CurrentLoad != int64(capacity) {
		t.Errorf("CurrentLoad = %d, want %d", metrics.CurrentLoad, capacity)
	}
	if metrics.RejectedCount != 1 {
		t.Errorf("RejectedCount = %d, want 1", metrics.RejectedCount)
	}
	if metrics.Utilization != 100.0 {
		t.Errorf("Utilization = %.2f%%, want 100%%", metrics.Utilization)
	}

	bc.Release()
	if got := bc.GetMetrics().CurrentLoad; got != int64(capacity-1) {
		t.Errorf("CurrentLoad = %d, want %d", got, capacity-1)
	}
	if !bc.TryAcquire() {
		t.Error("Should acquire capacity after release")
	}
}

func TestBackpressureControllerConcurrent(t *testing.T) {
	bc := NewBackpressureController(10)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if bc.TryAcquire() {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if acquired != 10 {
		t.Errorf("acquired = %d, want 10", acquired)
	}
	if got := bc.GetMetrics().RejectedCount; got != 40 {
		t.Errorf("RejectedCount = %d, want 40", got)
	}
}

func TestBackpressureControllerMinimumCapacity(t *testing.T) {
	bc := NewBackpressureController(0)
	if !bc.TryAcquire() {
		t.Error("capacity below 1 should still admit one request")
	}
	if bc.TryAcquire() {
		t.Error("second request should be rejected")
	}
}
