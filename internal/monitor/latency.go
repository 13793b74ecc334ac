package monitor

import (
	"sort"
	"sync"
	"time"
)

// LatencyHistogram keeps a sliding window of samples for quick percentiles
// on the status endpoint. Stats are recomputed only after new samples.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// LatencyStats holds computed latency statistics in milliseconds.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	Count int     `json:"count"`
}

func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 500
	}
	return &LatencyHistogram{samples: make([]float64, 0, size), maxSize: size, dirty: true}
}

func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, float64(d.Nanoseconds())/1e6)
	h.dirty = true
}

func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirty {
		return h.cachedStats
	}
	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}
	sorted := append([]float64(nil), h.samples...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n-1)*0.95)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}
