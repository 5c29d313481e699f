package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID names one of the engine's in-process counters.
type MetricID uint16

const (
	// MetricOTPIssued counts successfully issued challenges.
	MetricOTPIssued MetricID = iota
	// MetricOTPVerified counts challenges consumed by a matching code.
	MetricOTPVerified
	// MetricOTPRejected counts wrong, expired and missing codes.
	MetricOTPRejected
	// MetricOTPAttemptsExceeded counts challenges burned by too many wrong codes.
	MetricOTPAttemptsExceeded
	// MetricSignupSuccess counts accounts created.
	MetricSignupSuccess
	// MetricSignupDuplicate counts signups rejected on a uniqueness conflict.
	MetricSignupDuplicate
	// MetricSignupFailure counts signups rejected for any other reason.
	MetricSignupFailure
	// MetricLoginSuccess counts logins that produced a usable session token.
	MetricLoginSuccess
	// MetricLoginFailure counts logins rejected before a token was handed out.
	MetricLoginFailure
	// MetricSessionMinted counts fresh tokens written to an account.
	MetricSessionMinted
	// MetricSessionReused counts logins answered with the already-persisted token.
	MetricSessionReused
	// MetricSessionInvalidated counts persisted tokens cleared by logout or reset.
	MetricSessionInvalidated
	// MetricAuthorizeSuccess counts tokens accepted on both validity axes.
	MetricAuthorizeSuccess
	// MetricAuthorizeFailure counts tokens rejected by Authorize.
	MetricAuthorizeFailure
	// MetricLogout counts completed logouts.
	MetricLogout
	// MetricResetRequested counts reset codes issued.
	MetricResetRequested
	// MetricResetCompleted counts password resets carried through.
	MetricResetCompleted
	// MetricResetFailure counts reset attempts rejected at any step.
	MetricResetFailure
	// MetricAuthorizeLatency indexes the Authorize latency histogram.
	MetricAuthorizeLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds the engine's counters. All methods are safe for concurrent
// use and become no-ops on a nil or disabled receiver.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics builds a Metrics from cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are being recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to the counter for id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the Authorize latency histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricAuthorizeLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current count for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter into a new MetricsSnapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricAuthorizeLatency].buckets[i])
		}
		s.Histograms[MetricAuthorizeLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
