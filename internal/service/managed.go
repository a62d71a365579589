package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/noteparser/internal/client"
	"github.com/MrSnakeDoc/noteparser/internal/config"
	"github.com/MrSnakeDoc/noteparser/internal/logger"
	"github.com/MrSnakeDoc/noteparser/internal/retry"
)

// Option configures a Managed service.
type Option func(*Managed)

// WithLogger sets the parent logger. The service logs under "service.<name>".
func WithLogger(log logger.Logger) Option {
	return func(m *Managed) {
		if log != nil {
			m.log = log
		}
	}
}

// WithHealthObserver registers a callback run after each health check.
func WithHealthObserver(fn HealthObserver) Option {
	return func(m *Managed) {
		m.observers = append(m.observers, fn)
	}
}

// WithRetrySleeper replaces the backoff timer of the service client.
func WithRetrySleeper(s retry.Sleeper) Option {
	return func(m *Managed) {
		m.sleeper = s
	}
}

// Managed is a named remote service with a lifecycle, its own client and a
// background health monitor. A Managed is single-use: once stopped it cannot
// be started again.
type Managed struct {
	cfg       config.ServiceConfig
	handler   Handler
	client    *client.Client
	log       logger.Logger
	observers []HealthObserver
	sleeper   retry.Sleeper

	mu        sync.Mutex
	state     State
	started   bool
	startTime time.Time
	cancel    context.CancelFunc // stops the health monitor
	done      chan struct{}      // closed when the health monitor exits

	healthy      atomic.Bool
	lastCheck    atomic.Int64 // unix nanos, 0 = never
	checks       atomic.Int64
	failedChecks atomic.Int64
}

// New builds a stopped service from its configuration and handler.
func New(cfg config.ServiceConfig, h Handler, opts ...Option) *Managed {
	m := &Managed{
		cfg:     cfg,
		handler: h,
		log:     logger.NewNop(),
		state:   StateStopped,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.Named("service." + cfg.Name)

	policy := retry.Exponential(cfg.RetryCount, cfg.BaseDelay)
	policy.Sleep = m.sleeper
	m.client = client.New(cfg.Name, cfg.BaseURL(), client.Options{
		Timeout: cfg.Timeout,
		Policy:  policy,
		Logger:  m.log,
	})
	return m
}

// Name returns the registry key of the service.
func (m *Managed) Name() string { return m.cfg.Name }

// Config returns the service configuration.
func (m *Managed) Config() config.ServiceConfig { return m.cfg }

// Client returns the service client. It is only usable while the service runs.
func (m *Managed) Client() *client.Client { return m.client }

// State returns the current lifecycle state.
func (m *Managed) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsHealthy returns the cached result of the last health check. It is false
// until a check succeeds.
func (m *Managed) IsHealthy() bool {
	return m.healthy.Load()
}

// LastHealthCheck returns when the last health check completed.
func (m *Managed) LastHealthCheck() (time.Time, bool) {
	ns := m.lastCheck.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// Info returns a snapshot of the service.
func (m *Managed) Info() Info {
	m.mu.Lock()
	state, startTime := m.state, m.startTime
	m.mu.Unlock()

	last, _ := m.LastHealthCheck()
	return Info{
		Name:               m.cfg.Name,
		BaseURL:            m.cfg.BaseURL(),
		State:              state,
		StateName:          state.String(),
		Healthy:            m.healthy.Load(),
		LastHealthCheck:    last,
		HealthChecks:       m.checks.Load(),
		FailedHealthChecks: m.failedChecks.Load(),
		StartTime:          startTime,
	}
}

// Start opens the client, marks the service running, launches the health
// monitor and runs the handler initialization. Start may succeed only once.
func (m *Managed) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: %s already started (state %s)", ErrInvalidState, m.cfg.Name, state)
	}
	m.started = true
	m.state = StateStarting
	m.log.Info("starting service", logger.String("base_url", m.cfg.BaseURL()))

	m.client.Open()
	monitorCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.startTime = time.Now()
	m.state = StateRunning
	go m.monitor(monitorCtx, m.done)
	m.mu.Unlock()

	if err := m.handler.Initialize(ctx, m.client); err != nil {
		m.log.Error("service initialization failed, rolling back", logger.Error(err))
		m.teardown()
		return &InitializationError{Service: m.cfg.Name, Err: err}
	}

	m.log.Info("service started",
		logger.Duration("health_interval", m.cfg.HealthCheckInterval))
	return nil
}

// Stop cancels the health monitor, waits for it to exit, closes the client and
// runs the handler cleanup. Stopping a service that never started, or stopping
// twice, is a no-op.
func (m *Managed) Stop(ctx context.Context) error {
	if !m.teardown() {
		return nil
	}

	if err := m.handler.Cleanup(ctx); err != nil {
		m.log.Warn("service cleanup failed", logger.Error(err))
		return fmt.Errorf("cleanup %s: %w", m.cfg.Name, err)
	}
	m.log.Info("service stopped")
	return nil
}

// teardown moves the service to Stopped and releases the monitor and the
// client. It returns false when there was nothing to release.
func (m *Managed) teardown() bool {
	m.mu.Lock()
	if !m.started || m.cancel == nil {
		m.mu.Unlock()
		return false
	}
	m.state = StateStopped
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	<-done

	if err := m.client.Close(); err != nil {
		m.log.Warn("failed to close client", logger.Error(err))
	}
	return true
}

// Process hands req to the handler. It fails fast with ErrNotStarted unless
// the service is running (degraded included).
func (m *Managed) Process(ctx context.Context, req client.Result) (res client.Result, err error) {
	if state := m.State(); !state.Accepting() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotStarted, m.cfg.Name, state)
	}

	defer func() {
		if r := recover(); r != nil {
			m.log.Error("handler panicked", logger.Any("panic", r))
			res, err = nil, fmt.Errorf("%s: handler panic: %v", m.cfg.Name, r)
		}
	}()
	return m.handler.Process(ctx, m.client, req)
}

// HealthCheck runs one check now. Errors and panics read as unhealthy.
func (m *Managed) HealthCheck(ctx context.Context) bool {
	ok, err := m.check(ctx)
	if err != nil {
		m.log.Error("health check failed", logger.Error(err))
		return false
	}
	return ok
}

func (m *Managed) check(ctx context.Context) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("health check panic: %v", r)
		}
	}()
	if hc, isChecker := m.handler.(HealthChecker); isChecker {
		return hc.HealthCheck(ctx, m.client)
	}
	return m.client.HealthCheck(ctx), nil
}
