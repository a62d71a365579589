// Package service runs one remote dependency: its lifecycle state machine,
// its resilient client and the background loop that keeps its cached health
// flag fresh.
//
// Concrete services (ragflow, deepwiki, ...) only implement Handler. Managed
// supplies everything else.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/noteparser/internal/client"
)

var (
	// ErrInvalidState is returned for an operation the current lifecycle state
	// does not allow (ex: starting twice).
	ErrInvalidState = errors.New("invalid service state")
	// ErrNotStarted is returned by Process when the service is not running.
	ErrNotStarted = fmt.Errorf("%w: service not started", ErrInvalidState)
)

// InitializationError reports a failing Handler.Initialize. Start rolls back
// before returning it.
type InitializationError struct {
	Service string
	Err     error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialize %s: %v", e.Service, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// Handler is the service-specific part of a managed service.
type Handler interface {
	// Initialize runs once after the client is open and the health loop started.
	Initialize(ctx context.Context, c *client.Client) error
	// Cleanup runs once on Stop, after the client is closed.
	Cleanup(ctx context.Context) error
	// Process handles one request. The returned result replaces req for the
	// next pipeline stage.
	Process(ctx context.Context, c *client.Client, req client.Result) (client.Result, error)
}

// HealthChecker is implemented by handlers that replace the default GET /health
// probe. A returned error is logged by the monitor loop and leaves the cached
// flag untouched.
type HealthChecker interface {
	HealthCheck(ctx context.Context, c *client.Client) (bool, error)
}

// HealthObserver is notified after every completed health check.
type HealthObserver func(name string, healthy bool, at time.Time)

// State is the lifecycle state of a Managed service.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	// StateDegraded is Running with a failing health check. Process still
	// accepts requests.
	StateDegraded
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Accepting reports whether Process may be called in this state.
func (s State) Accepting() bool {
	return s == StateRunning || s == StateDegraded
}

// Info is a point-in-time view of a managed service.
type Info struct {
	Name               string    `json:"name"`
	BaseURL            string    `json:"base_url"`
	State              State     `json:"-"`
	StateName          string    `json:"state"`
	Healthy            bool      `json:"healthy"`
	LastHealthCheck    time.Time `json:"last_health_check,omitempty"`
	HealthChecks       int64     `json:"health_checks"`
	FailedHealthChecks int64     `json:"failed_health_checks"`
	StartTime          time.Time `json:"start_time,omitempty"`
}

// Checked reports whether at least one health check completed.
func (i Info) Checked() bool {
	return !i.LastHealthCheck.IsZero()
}
