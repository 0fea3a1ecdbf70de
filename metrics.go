package pjutsauth

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

const (
	MetricPinChallengeIssued MetricID = iota
	MetricPinChallengeRejected
	MetricPinVerifySuccess
	MetricPinVerifyFailure
	MetricPinExpired
	MetricPinAttemptsExceeded
	MetricLoginRateLimited
	MetricAccountDisabled
	MetricVerificationConsumed
	MetricVerificationInvalid
	MetricVerificationReplayDetected
	MetricPasswordResetRequest
	MetricPasswordResetRateLimited
	MetricPasswordResetEmailFailure
	MetricPasswordResetSuccess
	MetricPasswordResetFailure
	MetricPasswordResetExpired
	MetricShareCodeValid
	MetricShareCodeInvalid
	MetricShareCodeRateLimited
	MetricShareCodeAdminOp
	MetricRateLimitHit
	MetricBackendUnavailable
	// MetricCredentialCheckLatency is the only histogram: wall time of the
	// password compare, real or dummy.
	MetricCredentialCheckLatency
	metricIDCount
)

// latencyBounds are the inclusive upper bounds of every bucket but the last
// (+Inf). Production Argon2 parameters put a compare in the 50-400ms range.
var latencyBounds = [...]time.Duration{
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
	800 * time.Millisecond,
	1600 * time.Millisecond,
}

const histBucketCount = len(latencyBounds) + 1

// counter sits alone on a cache line so hot IDs do not false-share.
type counter struct {
	atomic.Uint64
	_ [56]byte
}

// Metrics holds lock-free engine counters. A nil or disabled Metrics is a no-op.
type Metrics struct {
	enabled bool
	latency bool

	counters [metricIDCount]counter
	// credentialLatency is the only histogram.
	credentialLatency [histBucketCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of all counters and histograms.
// Histogram slices hold non-cumulative bucket counts.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool        { return m != nil && m.enabled }
func (m *Metrics) LatencyEnabled() bool { return m != nil && m.latency }

func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= metricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// Observe records d. Only MetricCredentialCheckLatency is a histogram; other
// IDs are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != MetricCredentialCheckLatency {
		return
	}
	m.credentialLatency[bucketIndex(d)].Add(1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot copies every counter, and the latency histogram when enabled.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}

	for id := range metricIDCount {
		s.Counters[id] = m.counters[id].Load()
	}
	if m.latency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = m.credentialLatency[i].Load()
		}
		s.Histograms[MetricCredentialCheckLatency] = buckets
	}
	return s
}

func bucketIndex(d time.Duration) int {
	for i, bound := range latencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(latencyBounds)
}
