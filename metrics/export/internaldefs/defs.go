package internaldefs

import (
	"github.com/reviewpulse/sessionauth"
)

// Prefix starts every exported series name.
const Prefix = "sessionauth_"

// AuditDroppedName is the counter of audit events lost to backpressure.
const AuditDroppedName = Prefix + "audit_dropped_total"

// CounterDef names one engine counter.
type CounterDef struct {
	ID   sessionauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram.
type HistogramDef struct {
	ID   sessionauth.MetricID
	Name string
	Help string
}

var counterHelp = map[sessionauth.MetricID]string{
	sessionauth.MetricLoginSuccess:          "Logins that reached a session without a challenge.",
	sessionauth.MetricLoginFailure:          "Rejected logins.",
	sessionauth.MetricLoginInFlightRejected: "Submissions refused while a login was running.",
	sessionauth.MetricMFARequired:           "Logins that issued a one-time code.",
	sessionauth.MetricMFASuccess:            "Accepted one-time codes.",
	sessionauth.MetricMFAFailure:            "Rejected one-time codes.",
	sessionauth.MetricChallengeResent:       "Code resends sent to the provider.",
	sessionauth.MetricChallengeAbandoned:    "Challenges closed before completion.",
	sessionauth.MetricHydrateLive:           "Start-ups that restored a live session.",
	sessionauth.MetricHydrateNone:           "Start-ups that found no session.",
	sessionauth.MetricCorruptPersistedState: "Unreadable persisted snapshots that were cleared.",
	sessionauth.MetricPersistFailure:        "Snapshot writes that failed.",
	sessionauth.MetricLogout:                "Explicit sign-outs.",
	sessionauth.MetricSessionRevoked:        "Sessions ended by a 401 from the API.",
	sessionauth.MetricTokenIssued:           "Token requests that yielded a bearer credential.",
	sessionauth.MetricTokenMiss:             "Token requests that yielded nothing.",
}

// CounterDefs lists every counter in MetricID order.
var CounterDefs = func() []CounterDef {
	out := make([]CounterDef, 0, len(counterHelp))
	for _, id := range sessionauth.MetricIDs() {
		help, ok := counterHelp[id]
		if !ok {
			continue
		}
		out = append(out, CounterDef{ID: id, Name: Prefix + id.String() + "_total", Help: help})
	}
	return out
}()

// HistogramDefs lists every histogram.
var HistogramDefs = []HistogramDef{
	{ID: sessionauth.MetricProviderLatency, Name: Prefix + "provider_latency_seconds", Help: "Identity provider call latency."},
}

// HistogramBounds are the upper bounds of the engine's latency buckets, in
// seconds. The last bucket is +Inf and has no entry.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket for exporters without native
// histogram support. The last entry is the +Inf bucket.
var HistogramBoundSuffix = []string{"0_005", "0_01", "0_025", "0_05", "0_1", "0_25", "0_5", "inf"}

// NormalizeBuckets pads or truncates raw to the eight engine buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
