package job

import (
	"errors"
	"time"
)

// ErrInvalidHeartbeat indicates the worker heartbeat interval is not positive.
var ErrInvalidHeartbeat = errors.New("heartbeat interval must be positive")

// MinLeaseHeartbeats is how many heartbeat intervals a pool lease must span,
// so one late renewal does not hand the pool to another worker.
const MinLeaseHeartbeats = 2

// LeaseSource identifies how a lease TTL was resolved.
type LeaseSource string

const (
	// LeaseSourceExplicit indicates the caller supplied a usable TTL.
	LeaseSourceExplicit LeaseSource = "explicit"
	// LeaseSourceDefault indicates the default TTL was used.
	LeaseSourceDefault LeaseSource = "default"
	// LeaseSourceClamped indicates the requested TTL was raised to the minimum.
	LeaseSourceClamped LeaseSource = "clamped"
)

// LeasePolicy normalises worker pool lease TTLs against the heartbeat interval
// that renews them.
type LeasePolicy struct {
	heartbeat  time.Duration
	defaultTTL time.Duration
}

// NewLeasePolicy constructs a LeasePolicy. The default TTL is raised to the minimum when too short.
func NewLeasePolicy(heartbeat, defaultTTL time.Duration) (*LeasePolicy, error) {
	if heartbeat <= 0 {
		return nil, ErrInvalidHeartbeat
	}
	p := &LeasePolicy{heartbeat: heartbeat}
	p.defaultTTL = max(defaultTTL, p.Min())
	return p, nil
}

// Min returns the shortest TTL the policy accepts.
func (p *LeasePolicy) Min() time.Duration {
	if p == nil {
		return 0
	}
	return MinLeaseHeartbeats * p.heartbeat
}

// Default returns the configured default TTL.
func (p *LeasePolicy) Default() time.Duration {
	if p == nil {
		return 0
	}
	return p.defaultTTL
}

// LeaseDecision captures the outcome of resolving a lease request.
type LeaseDecision struct {
	TTL       time.Duration
	Source    LeaseSource
	Requested time.Duration
}

// UsedDefault reports whether the policy fell back to the default TTL.
func (d LeaseDecision) UsedDefault() bool {
	return d.Source == LeaseSourceDefault
}

// Clamped reports whether the requested value was raised to the minimum.
func (d LeaseDecision) Clamped() bool {
	return d.Source == LeaseSourceClamped
}

// Resolve normalises the requested TTL to whole seconds no shorter than Min.
func (p *LeasePolicy) Resolve(request time.Duration) LeaseDecision {
	decision := LeaseDecision{Requested: request}
	if p == nil {
		decision.Source = LeaseSourceDefault
		return decision
	}

	switch {
	case request == 0:
		decision.TTL = p.defaultTTL
		decision.Source = LeaseSourceDefault
	case request < p.Min():
		decision.TTL = p.Min()
		decision.Source = LeaseSourceClamped
	default:
		decision.TTL = request
		decision.Source = LeaseSourceExplicit
	}

	decision.TTL = decision.TTL.Truncate(time.Second)
	if decision.TTL < time.Second {
		decision.TTL = time.Second
	}
	return decision
}
