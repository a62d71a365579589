package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/MrSnakeDoc/noteparser/internal/logger"
	"github.com/MrSnakeDoc/noteparser/internal/metrics"
)

// ClientChecker runs one health fan-out over a set of clients.
type ClientChecker interface {
	HealthCheckAll(ctx context.Context) map[string]bool
}

// ProbeResult is the outcome of the latest fan-out.
type ProbeResult struct {
	Clients   map[string]bool `json:"clients"`
	CheckedAt time.Time       `json:"checked_at"`
}

// ClientProber periodically health checks the plain clients and keeps the
// latest result.
type ClientProber struct {
	checker       ClientChecker
	logger        logger.Logger
	interval      time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
	manualTrigger chan struct{}
	stopOnce      sync.Once

	mu   sync.RWMutex
	last *ProbeResult
}

// NewClientProber creates a new prober
func NewClientProber(checker ClientChecker, log logger.Logger, interval time.Duration) *ClientProber {
	if log == nil {
		log = logger.NewNop()
	}
	return &ClientProber{
		checker:       checker,
		logger:        log,
		interval:      interval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		manualTrigger: make(chan struct{}, 1),
	}
}

// Start launches the loop and returns at once. The loop probes immediately,
// then every interval until Stop or ctx is done.
func (p *ClientProber) Start(ctx context.Context) {
	go func() {
		defer close(p.doneCh)
		p.Probe(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Probe(ctx)
			case <-p.manualTrigger:
				p.logger.Debug("manual client probe triggered")
				p.Probe(ctx)
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Trigger asks the loop for an early probe. Extra triggers are dropped.
func (p *ClientProber) Trigger() {
	select {
	case p.manualTrigger <- struct{}{}:
	default:
	}
}

// Stop stops the loop and waits for it to exit. Only valid after Start.
func (p *ClientProber) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.doneCh
}

// Probe runs one fan-out and stores its result
func (p *ClientProber) Probe(ctx context.Context) ProbeResult {
	res := ProbeResult{
		Clients:   p.checker.HealthCheckAll(ctx),
		CheckedAt: time.Now(),
	}

	down := 0
	for name, ok := range res.Clients {
		metrics.ClientHealthy.WithLabelValues(name).Set(metrics.BoolGauge(ok))
		if !ok {
			down++
		}
	}
	if down > 0 {
		p.logger.Warn("client probe found unhealthy clients",
			logger.Int("unhealthy", down),
			logger.Int("total", len(res.Clients)))
	} else {
		p.logger.Debug("client probe completed", logger.Int("total", len(res.Clients)))
	}

	p.mu.Lock()
	p.last = &res
	p.mu.Unlock()
	return res
}

// Latest returns the last stored result, false before the first probe.
func (p *ClientProber) Latest() (ProbeResult, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return ProbeResult{}, false
	}
	out := ProbeResult{
		Clients:   make(map[string]bool, len(p.last.Clients)),
		CheckedAt: p.last.CheckedAt,
	}
	for k, v := range p.last.Clients {
		out.Clients[k] = v
	}
	return out, true
}
