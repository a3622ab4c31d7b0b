// Package registry tracks connected runtime sessions, their liveness
// leases and the single-active-worker arbitration policy.
package registry

import (
	"errors"
	"time"
)

// SessionStatus is the lifecycle state of a runtime session.
type SessionStatus string

const (
	StatusStarting   SessionStatus = "starting"
	StatusReady      SessionStatus = "ready"
	StatusBusy       SessionStatus = "busy"
	StatusTerminated SessionStatus = "terminated"
)

// Health is the derived liveness classification of a session.
type Health string

const (
	// Healthy means the lease has not expired.
	Healthy Health = "healthy"
	// InTolerance means the lease expired but the grace window is
	// still open; the session is not yet considered gone.
	InTolerance Health = "in-tolerance"
	// Expired means the grace window closed. Work owned by an expired
	// session is orphaned.
	Expired Health = "expired"
)

// Lease defaults.
const (
	DefaultValidFor  = 30 * time.Second
	DefaultTolerance = 15 * time.Second
)

var (
	// ErrDuplicateCapabilityClass rejects registering a second live
	// session of a kind the policy allows only once.
	ErrDuplicateCapabilityClass = errors.New("a session of this kind is already registered")

	// ErrUnknownSession rejects an operation on a session that never
	// registered.
	ErrUnknownSession = errors.New("unknown session")

	// ErrSessionTerminated rejects renewing a session that already
	// terminated.
	ErrSessionTerminated = errors.New("session is terminated")
)

// Session is one connected worker process instance. SessionID is unique
// per process instance; RuntimeID is stable across restarts of the same
// worker installation.
type Session struct {
	SessionID     string
	RuntimeID     string
	Kind          string
	Capabilities  []string
	Status        SessionStatus
	LastRenewedAt time.Time
	ValidFor      time.Duration
}

// ExpiresAt is the instant the current lease runs out.
func (s Session) ExpiresAt() time.Time {
	return s.LastRenewedAt.Add(s.ValidFor)
}

// HealthAt classifies the session's liveness at the given instant.
func (s Session) HealthAt(now time.Time, tolerance time.Duration) Health {
	expires := s.ExpiresAt()
	switch {
	case now.Before(expires):
		return Healthy
	case now.Before(expires.Add(tolerance)):
		return InTolerance
	default:
		return Expired
	}
}

// Policy configures session admission.
type Policy struct {
	// AllowMultipleOfSameType permits more than one live session of
	// the same kind. Default false: one runtime per capability class.
	AllowMultipleOfSameType bool

	// MaxConcurrent caps live sessions across all kinds. Default 1.
	MaxConcurrent int
}
