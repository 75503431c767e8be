package sessionauth

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricLoginSuccess counts logins that reached Authenticated without a challenge.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts rejected logins.
	MetricLoginFailure
	// MetricLoginInFlightRejected counts submissions refused because a login was running.
	MetricLoginInFlightRejected
	// MetricMFARequired counts logins that issued a one-time code.
	MetricMFARequired
	// MetricMFASuccess counts accepted codes.
	MetricMFASuccess
	// MetricMFAFailure counts rejected codes.
	MetricMFAFailure
	// MetricChallengeResent counts resend requests that reached the provider.
	MetricChallengeResent
	// MetricChallengeAbandoned counts challenges closed before completion.
	MetricChallengeAbandoned
	// MetricHydrateLive counts start-ups that found a live session.
	MetricHydrateLive
	// MetricHydrateNone counts start-ups that found no session.
	MetricHydrateNone
	// MetricCorruptPersistedState counts unparsable snapshots that were cleared.
	MetricCorruptPersistedState
	// MetricPersistFailure counts snapshot writes that failed.
	MetricPersistFailure
	// MetricLogout counts explicit sign-outs.
	MetricLogout
	// MetricSessionRevoked counts 401-driven resets.
	MetricSessionRevoked
	// MetricTokenIssued counts token requests that yielded a bearer credential.
	MetricTokenIssued
	// MetricTokenMiss counts token requests that yielded nothing.
	MetricTokenMiss
	// MetricProviderLatency is the latency histogram of provider calls.
	MetricProviderLatency
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

// Metrics is a fixed set of lock-free counters plus one latency histogram.
// Counters sit on separate cache lines so hot paths do not contend.
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

// NewMetrics returns counters honoring cfg. A disabled Metrics ignores Inc.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram for id. Only MetricProviderLatency
// carries a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricProviderLatency {
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

// Snapshot copies every counter. A disabled Metrics returns empty maps.
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
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricProviderLatency].buckets[i])
		}
		s.Histograms[MetricProviderLatency] = buckets
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

var metricNames = [metricIDCount]string{
	MetricLoginSuccess:          "login_success",
	MetricLoginFailure:          "login_failure",
	MetricLoginInFlightRejected: "login_in_flight_rejected",
	MetricMFARequired:           "mfa_required",
	MetricMFASuccess:            "mfa_success",
	MetricMFAFailure:            "mfa_failure",
	MetricChallengeResent:       "challenge_resent",
	MetricChallengeAbandoned:    "challenge_abandoned",
	MetricHydrateLive:           "hydrate_live",
	MetricHydrateNone:           "hydrate_none",
	MetricCorruptPersistedState: "corrupt_persisted_state",
	MetricPersistFailure:        "persist_failure",
	MetricLogout:                "logout",
	MetricSessionRevoked:        "session_revoked",
	MetricTokenIssued:           "token_issued",
	MetricTokenMiss:             "token_miss",
	MetricProviderLatency:       "provider_latency",
}

// String returns the snake_case name used by exporters.
func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

// MetricIDs lists every defined metric in order.
func MetricIDs() []MetricID {
	out := make([]MetricID, 0, int(metricIDCount))
	for id := MetricID(0); id < metricIDCount; id++ {
		out = append(out, id)
	}
	return out
}
