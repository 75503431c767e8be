package sessionauth

import (
	"context"
	"time"
)

// HealthStatus is an on-demand view of the engine and its store.
type HealthStatus struct {
	StoreAvailable bool
	StoreLatency   time.Duration
	State          string
	Hydrated       bool
	ChallengeOpen  bool
	AuditDropped   uint64
	// AuditDroppedByType splits AuditDropped by event type.
	AuditDroppedByType map[string]uint64
	AuditSinkPanics    uint64
}

// Health probes the session store and reports the current state. It never
// calls the identity provider.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.store == nil {
		return HealthStatus{}
	}

	latency, err := e.store.Ping(ctx)
	stats := e.audit.Stats()
	byType := stats.DroppedByType
	if byType == nil {
		byType = map[string]uint64{}
	}
	return HealthStatus{
		StoreAvailable: err == nil,
		StoreLatency:   latency,
		State:          e.State().String(),
		Hydrated:       !e.Loading(),
		ChallengeOpen:  e.Challenge() != nil,
		AuditDropped:   stats.Dropped,

		AuditDroppedByType: byType,
		AuditSinkPanics:    stats.SinkPanics,
	}
}
