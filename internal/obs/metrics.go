// Package obs collects lightweight in-process counters for the
// portfolio engine.
package obs

import (
	"sync/atomic"
	"time"

	"github.com/terpnesZcorno/trading-server/internal/event"
	"github.com/terpnesZcorno/trading-server/internal/risk"
)

const (
	maxEventKind    = int(event.KindFill)
	maxRejectReason = int(risk.ReasonZeroSize)
)

// Metrics collects lightweight counters and latency stats.
type Metrics struct {
	eventCounts       [maxEventKind + 1]uint64
	rejectCounts      [maxRejectReason + 1]uint64
	admitted          uint64
	stopsTriggered    uint64
	queueDrops        uint64
	saveRetries       uint64
	saveFailures      uint64
	inconsistentFills uint64

	riskEvalLatency LatencyStats
	saveLatency     LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	EventCounts       map[event.Kind]uint64
	RejectCounts      map[risk.Reason]uint64
	Admitted          uint64
	StopsTriggered    uint64
	QueueDrops        uint64
	SaveRetries       uint64
	SaveFailures      uint64
	InconsistentFills uint64
	RiskEvalLatency   LatencySnapshot
	SaveLatency       LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveEvent counts a dispatched event.
func (m *Metrics) ObserveEvent(kind event.Kind) {
	if m == nil {
		return
	}
	idx := int(kind)
	if idx >= 0 && idx < len(m.eventCounts) {
		atomic.AddUint64(&m.eventCounts[idx], 1)
	}
}

// IncAdmitted counts an admitted signal.
func (m *Metrics) IncAdmitted() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.admitted, 1)
}

// IncReject counts a rejected signal by reason.
func (m *Metrics) IncReject(reason risk.Reason) {
	if m == nil {
		return
	}
	idx := int(reason)
	if idx >= 0 && idx < len(m.rejectCounts) {
		atomic.AddUint64(&m.rejectCounts[idx], 1)
	}
}

// IncStopTriggered counts a stop-loss trigger.
func (m *Metrics) IncStopTriggered() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.stopsTriggered, 1)
}

// IncQueueDrop records a queue drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncSaveRetry records a retried write conflict.
func (m *Metrics) IncSaveRetry() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.saveRetries, 1)
}

// IncSaveFailure records a save that exhausted its retries.
func (m *Metrics) IncSaveFailure() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.saveFailures, 1)
}

// IncInconsistentFill records a fill escalated to reconciliation.
func (m *Metrics) IncInconsistentFill() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.inconsistentFills, 1)
}

// ObserveRiskEval measures risk evaluation latency.
func (m *Metrics) ObserveRiskEval(d time.Duration) {
	if m == nil {
		return
	}
	m.riskEvalLatency.Observe(d)
}

// ObserveSave measures write-through persistence latency.
func (m *Metrics) ObserveSave(d time.Duration) {
	if m == nil {
		return
	}
	m.saveLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	eventCounts := make(map[event.Kind]uint64)
	for i := range m.eventCounts {
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			eventCounts[event.Kind(i)] = v
		}
	}
	rejectCounts := make(map[risk.Reason]uint64)
	for i := range m.rejectCounts {
		if v := atomic.LoadUint64(&m.rejectCounts[i]); v > 0 {
			rejectCounts[risk.Reason(i)] = v
		}
	}
	return Snapshot{
		EventCounts:       eventCounts,
		RejectCounts:      rejectCounts,
		Admitted:          atomic.LoadUint64(&m.admitted),
		StopsTriggered:    atomic.LoadUint64(&m.stopsTriggered),
		QueueDrops:        atomic.LoadUint64(&m.queueDrops),
		SaveRetries:       atomic.LoadUint64(&m.saveRetries),
		SaveFailures:      atomic.LoadUint64(&m.saveFailures),
		InconsistentFills: atomic.LoadUint64(&m.inconsistentFills),
		RiskEvalLatency:   m.riskEvalLatency.Snapshot(),
		SaveLatency:       m.saveLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
