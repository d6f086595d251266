package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks runner and matcher throughput. A nil *SystemMetrics
// accepts every call and records nothing.
type SystemMetrics struct {
	// Latency histograms
	CycleLatency    *LatencyHistogram
	StrategyLatency *LatencyHistogram
	OrderLatency    *LatencyHistogram

	// Counters
	cycles           atomic.Uint64
	signalsGenerated atomic.Uint64
	ordersFilled     atomic.Uint64
	ordersRejected   atomic.Uint64
	ordersCancelled  atomic.Uint64
	positionsClosed  atomic.Uint64
	alerts           atomic.Uint64
	errorsCount      atomic.Uint64
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily and cached until the next sample.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		CycleLatency:    NewLatencyHistogram(1000),
		StrategyLatency: NewLatencyHistogram(1000),
		OrderLatency:    NewLatencyHistogram(1000),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	if h == nil {
		return LatencyStats{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
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
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *SystemMetrics) IncrementSignals() {
	if m != nil {
		m.signalsGenerated.Add(1)
	}
}

func (m *SystemMetrics) IncrementErrors() {
	if m != nil {
		m.errorsCount.Add(1)
	}
}

// ObserveCycle records one full runner cycle.
func (m *SystemMetrics) ObserveCycle(d time.Duration) {
	if m != nil {
		m.cycles.Add(1)
		m.CycleLatency.RecordDuration(d)
	}
}

// ObserveStrategy records one strategy evaluation.
func (m *SystemMetrics) ObserveStrategy(d time.Duration) {
	if m != nil {
		m.StrategyLatency.RecordDuration(d)
	}
}

// ObserveOrder records one matcher submission.
func (m *SystemMetrics) ObserveOrder(d time.Duration) {
	if m != nil {
		m.OrderLatency.RecordDuration(d)
	}
}

// MetricsSnapshot is a point-in-time copy for the status endpoint.
type MetricsSnapshot struct {
	CycleLatency     LatencyStats `json:"cycle_latency"`
	StrategyLatency  LatencyStats `json:"strategy_latency"`
	OrderLatency     LatencyStats `json:"order_latency"`
	Cycles           uint64       `json:"cycles"`
	SignalsGenerated uint64       `json:"signals_generated"`
	OrdersFilled     uint64       `json:"orders_filled"`
	OrdersRejected   uint64       `json:"orders_rejected"`
	OrdersCancelled  uint64       `json:"orders_cancelled"`
	PositionsClosed  uint64       `json:"positions_closed"`
	Alerts           uint64       `json:"alerts"`
	ErrorsCount      uint64       `json:"errors_count"`
	GoroutineCount   int          `json:"goroutine_count"`
	HeapAlloc        uint64       `json:"heap_alloc_bytes"`
	HeapSys          uint64       `json:"heap_sys_bytes"`
	Timestamp        time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	snap := MetricsSnapshot{
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      memStats.HeapAlloc,
		HeapSys:        memStats.HeapSys,
		Timestamp:      time.Now().UTC(),
	}
	if m == nil {
		return snap
	}
	snap.CycleLatency = m.CycleLatency.Stats()
	snap.StrategyLatency = m.StrategyLatency.Stats()
	snap.OrderLatency = m.OrderLatency.Stats()
	snap.Cycles = m.cycles.Load()
	snap.SignalsGenerated = m.signalsGenerated.Load()
	snap.OrdersFilled = m.ordersFilled.Load()
	snap.OrdersRejected = m.ordersRejected.Load()
	snap.OrdersCancelled = m.ordersCancelled.Load()
	snap.PositionsClosed = m.positionsClosed.Load()
	snap.Alerts = m.alerts.Load()
	snap.ErrorsCount = m.errorsCount.Load()
	return snap
}

// Timer helps measure operation duration.
type Timer struct {
	start   time.Time
	observe func(time.Duration)
}

// NewTimer starts a timer that hands the elapsed time to observe.
func NewTimer(observe func(time.Duration)) *Timer {
	return &Timer{start: time.Now(), observe: observe}
}

// Stop records elapsed time.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.observe != nil {
		t.observe(elapsed)
	}
	return elapsed
}
