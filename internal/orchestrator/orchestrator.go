// Package orchestrator owns the registry of managed services and threads
// requests through ordered pipelines of them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/MrSnakeDoc/noteparser/internal/client"
	"github.com/MrSnakeDoc/noteparser/internal/logger"
	"github.com/MrSnakeDoc/noteparser/internal/metrics"
	"github.com/MrSnakeDoc/noteparser/internal/service"
)

var (
	ErrServiceNotRegistered = errors.New("service not registered")
	ErrAlreadyRegistered    = errors.New("service already registered")
)

// ErrorResultError reports a stage that answered with the structured error
// result. The run stops there and the value never reaches the next stage.
type ErrorResultError struct {
	Name    string
	Stage   int
	Message string
}

func (e *ErrorResultError) Error() string {
	return fmt.Sprintf("stage %d (%s): %s", e.Stage, e.Name, e.Message)
}

// NotRegisteredError names the pipeline stage that referenced an unknown service.
type NotRegisteredError struct {
	Name  string
	Stage int
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("stage %d: %q: %v", e.Stage, e.Name, ErrServiceNotRegistered)
}

func (e *NotRegisteredError) Unwrap() error { return ErrServiceNotRegistered }

// Service is what the orchestrator needs from a managed service.
// *service.Managed implements it.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Process(ctx context.Context, req client.Result) (client.Result, error)
	Info() service.Info
}

type Orchestrator struct {
	log logger.Logger

	mu       sync.RWMutex
	services map[string]Service
}

func New(log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Orchestrator{
		log:      log.Named("orchestrator"),
		services: make(map[string]Service),
	}
}

// Register starts svc and stores it under its name. A service whose Start
// fails is not stored.
func (o *Orchestrator) Register(ctx context.Context, svc Service) error {
	name := svc.Name()

	o.mu.RLock()
	_, exists := o.services[name]
	o.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}

	o.mu.Lock()
	if _, exists := o.services[name]; exists {
		o.mu.Unlock()
		// lost a race with a concurrent Register of the same name
		_ = svc.Stop(ctx)
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	o.services[name] = svc
	o.mu.Unlock()

	o.log.Info("service registered", logger.String("service", name))
	return nil
}

// Service returns the registered service called name.
func (o *Orchestrator) Service(name string) (Service, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	svc, ok := o.services[name]
	return svc, ok
}

func (o *Orchestrator) Has(name string) bool {
	_, ok := o.Service(name)
	return ok
}

// Names returns the registered service names, sorted.
func (o *Orchestrator) Names() []string {
	o.mu.RLock()
	names := make([]string, 0, len(o.services))
	for name := range o.services {
		names = append(names, name)
	}
	o.mu.RUnlock()
	sort.Strings(names)
	return names
}

// ProcessPipeline threads data through the named services in order, each
// stage's output replacing the input of the next. Services are looked up when
// their stage is reached, so an unknown name aborts the run after the earlier
// stages already executed. A stage answering with the structured error value
// stops the run with an *ErrorResultError. Completed stages are never rolled
// back.
func (o *Orchestrator) ProcessPipeline(ctx context.Context, data client.Result, names []string) (client.Result, error) {
	if len(names) == 0 {
		return data, nil
	}

	runID := uuid.NewString()
	log := o.log.With(logger.String("run_id", runID), logger.Strings("pipeline", names))
	log.Debug("pipeline started")

	current := data
	for i, name := range names {
		svc, ok := o.Service(name)
		if !ok {
			metrics.PipelineErrors.WithLabelValues(name, "not_registered").Inc()
			log.Warn("pipeline aborted: unknown service",
				logger.Int("stage", i), logger.String("service", name))
			return nil, &NotRegisteredError{Name: name, Stage: i}
		}

		start := time.Now()
		out, err := svc.Process(ctx, current)
		metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			reason := "process"
			if errors.Is(err, service.ErrInvalidState) {
				reason = "invalid_state"
			}
			metrics.PipelineErrors.WithLabelValues(name, reason).Inc()
			log.Warn("pipeline stage failed",
				logger.Int("stage", i), logger.String("service", name), logger.Error(err))
			return nil, fmt.Errorf("stage %d (%s): %w", i, name, err)
		}
		if msg, failed := client.IsErrorResult(out); failed {
			metrics.PipelineErrors.WithLabelValues(name, "error_result").Inc()
			log.Warn("pipeline stage returned an error result",
				logger.Int("stage", i), logger.String("service", name), logger.String("error", msg))
			return nil, &ErrorResultError{Name: name, Stage: i, Message: msg}
		}
		current = out
	}

	log.Debug("pipeline completed")
	return current, nil
}

// Shutdown stops every registered service. A failing Stop does not prevent
// the others from being stopped; all failures are returned together. The
// registry is empty afterwards.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	services := o.services
	o.services = make(map[string]Service)
	o.mu.Unlock()

	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs error
	for _, name := range names {
		if err := services[name].Stop(ctx); err != nil {
			o.log.Error("failed to stop service", logger.String("service", name), logger.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("stop %s: %w", name, err))
			continue
		}
		o.log.Info("service stopped", logger.String("service", name))
	}
	return errs
}
