package web

import "sync/atomic"

// BackpressureController bounds the number of requests in flight.
// Requests beyond capacity are rejected at once.
type BackpressureController struct {
	capacity int64
	current  atomic.Int64
	rejected atomic.Int64
}

// NewBackpressureController creates a controller admitting capacity
// concurrent requests.
func NewBackpressureController(capacity int) *BackpressureController {
	if capacity < 1 {
		capacity = 1
	}
	return &BackpressureController{capacity: int64(capacity)}
}

// TryAcquire takes one slot, or reports false when all are in use.
func (bc *BackpressureController) TryAcquire() bool {
	for {
		cur := bc.current.Load()
		if cur >= bc.capacity {
			bc.rejected.Add(1)
			return false
		}
		if bc.current.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release returns a slot taken by TryAcquire.
func (bc *BackpressureController) Release() {
	bc.current.Add(-1)
}

// GetMetrics returns current backpressure metrics
func (bc *BackpressureController) GetMetrics() BackpressureMetrics {
	cur := bc.current.Load()
	return BackpressureMetrics{
		Capacity:      bc.capacity,
		CurrentLoad:   cur,
		RejectedCount: bc.rejected.Load(),
		Utilization:   float64(cur) / float64(bc.capacity) * 100,
	}
}

// BackpressureMetrics provides backpressure statistics
type BackpressureMetrics struct {
	Capacity      int64
	CurrentLoad   int64
	RejectedCount int64
	Utilization   float64 // percent of capacity
}
