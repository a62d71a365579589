// Package clientmanager keeps plain request/response clients for call sites
// that do not need a managed lifecycle.
package clientmanager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/multierr"

	"github.com/MrSnakeDoc/noteparser/internal/client"
	"github.com/MrSnakeDoc/noteparser/internal/config"
	"github.com/MrSnakeDoc/noteparser/internal/logger"
	"github.com/MrSnakeDoc/noteparser/internal/retry"
	"github.com/MrSnakeDoc/noteparser/internal/services/deepwiki"
	"github.com/MrSnakeDoc/noteparser/internal/services/ragflow"
)

var ErrDuplicateClient = errors.New("client already added")

// DefaultPolicy is the backoff of manager clients: 3 attempts, waits of 2s
// then 4s, never more than 10s.
func DefaultPolicy() retry.Policy {
	p := retry.Exponential(3, 2*time.Second)
	p.MaxDelay = 10 * time.Second
	return p
}

type Manager struct {
	log  logger.Logger
	pool *ants.Pool

	mu      sync.RWMutex
	clients map[string]*client.Client
}

// New returns an empty manager whose health fan-out runs on poolSize workers.
func New(poolSize int, log logger.Logger) (*Manager, error) {
	if poolSize < 1 {
		poolSize = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("create health pool: %w", err)
	}
	return &Manager{
		log:     log.Named("clients"),
		pool:    pool,
		clients: make(map[string]*client.Client),
	}, nil
}

// NewFromConfig opens one client per enabled service.
func NewFromConfig(cfg *config.Config, log logger.Logger) (*Manager, error) {
	m, err := New(cfg.ClientPoolSize, log)
	if err != nil {
		return nil, err
	}
	for _, svc := range cfg.EnabledServices() {
		c := client.New(svc.Name, svc.BaseURL(), client.Options{
			Timeout: svc.Timeout,
			Policy:  DefaultPolicy(),
			Logger:  m.log,
		})
		if err := m.Add(c); err != nil {
			_ = m.CloseAll()
			return nil, err
		}
	}
	return m, nil
}

// Add opens c and stores it under its name.
func (m *Manager) Add(c *client.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.clients[c.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateClient, c.Name())
	}
	if !c.IsOpen() {
		c.Open()
	}
	m.clients[c.Name()] = c
	m.log.Debug("client added", logger.String("service", c.Name()), logger.String("base_url", c.BaseURL()))
	return nil
}

func (m *Manager) Get(name string) (*client.Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[name]
	return c, ok
}

// Names returns the managed client names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

// RagFlow returns the typed ragflow client, if configured.
func (m *Manager) RagFlow() (*ragflow.Client, bool) {
	c, ok := m.Get(config.RagFlow)
	if !ok {
		return nil, false
	}
	return ragflow.NewClient(c), true
}

// DeepWiki returns the typed deepwiki client, if configured.
func (m *Manager) DeepWiki() (*deepwiki.Client, bool) {
	c, ok := m.Get(config.DeepWiki)
	if !ok {
		return nil, false
	}
	return deepwiki.NewClient(c), true
}

// HealthCheckAll probes every client concurrently and returns name -> healthy.
func (m *Manager) HealthCheckAll(ctx context.Context) map[string]bool {
	m.mu.RLock()
	clients := make([]*client.Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]bool, len(clients))
	)
	for _, c := range clients {
		probe := func() {
			defer wg.Done()
			ok := c.HealthCheck(ctx)
			mu.Lock()
			results[c.Name()] = ok
			mu.Unlock()
		}

		wg.Add(1)
		if err := m.pool.Submit(probe); err != nil {
			m.log.Warn("health pool rejected probe, running inline",
				logger.String("service", c.Name()), logger.Error(err))
			probe()
		}
	}
	wg.Wait()
	return results
}

// CloseAll closes every client and releases the worker pool. The manager is
// unusable afterwards.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]*client.Client)
	m.mu.Unlock()

	var errs error
	for name, c := range clients {
		if err := c.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	m.pool.Release()
	return errs
}
