// Package health runs periodic liveness probes against every registered
// pool: a ticker-driven worker pool checks each pool's backend with a real
// "SELECT 1" through a checked-out connection and tracks a consecutive-
// failure threshold before marking it unhealthy.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bryanhughes/pgo/internal/pgpool"
	"github.com/bryanhughes/pgo/internal/telemetry"
)

// Status is the liveness state of one pool.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// PoolHealth holds the liveness state tracked for one pool.
type PoolHealth struct {
	Status              Status    `json:"status"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// Registry is the subset of pgo's pool directory the checker needs: the
// live set of named pools to probe. Implemented by a small adapter over
// pgo.Pools in cmd/pgo-admin, so this package does not import pgo.
type Registry interface {
	Pools() map[string]*pgpool.Pool
}

// Checker performs periodic health checks on every pool in a Registry.
type Checker struct {
	mu    sync.RWMutex
	state map[string]*PoolHealth

	registry  Registry
	collector *telemetry.Collector

	interval          time.Duration
	failureThreshold  int
	connectionTimeout time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Config holds the checker's tunables.
type Config struct {
	Interval          time.Duration
	FailureThreshold  int
	ConnectionTimeout time.Duration
}

// NewChecker creates a health checker. collector may be nil, in which case
// results are tracked in memory only and never exported as metrics.
func NewChecker(r Registry, collector *telemetry.Collector, cfg Config) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = 5 * time.Second
	}
	return &Checker{
		state:             make(map[string]*PoolHealth),
		registry:          r,
		collector:         collector,
		interval:          cfg.Interval,
		failureThreshold:  cfg.FailureThreshold,
		connectionTimeout: cfg.ConnectionTimeout,
		stopCh:            make(chan struct{}),
	}
}

// Start begins periodic health checking.
func (c *Checker) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
	slog.Info("health checker started", "interval", c.interval, "threshold", c.failureThreshold)
}

// Stop stops the health checker. Safe to call multiple times.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	slog.Info("health checker stopped")
}

func (c *Checker) run() {
	c.checkAll()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.checkAll()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Checker) checkAll() {
	pools := c.registry.Pools()

	const maxWorkers = 10
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for name, p := range pools {
		name, p := name, p
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			healthy := c.pingPool(name, p)
			if c.collector != nil {
				c.collector.HealthCheckResult(name, healthy)
			}
			c.updateStatus(name, healthy)
		}()
	}
	wg.Wait()
}

// pingPool runs SELECT 1 over a connection checked out from p, failing
// closed (treated unhealthy) if the checkout itself cannot be satisfied —
// that is as meaningful a signal as a query failure, since it means the
// pool cannot currently serve anyone.
func (c *Checker) pingPool(name string, p *pgpool.Pool) bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.connectionTimeout)
	defer cancel()

	ref, err := p.CheckoutOpts(ctx, false)
	if err != nil {
		c.setLastError(name, fmt.Sprintf("checkout: %s", err))
		return false
	}

	conn := ref.Conn()
	results, err := conn.SimpleQuery(ctx, "SELECT 1")
	if err != nil {
		c.setLastError(name, fmt.Sprintf("SELECT 1: %s", err))
		ref.Break()
		return false
	}
	if len(results) == 0 {
		c.setLastError(name, "SELECT 1: no result returned")
		ref.Checkin()
		return false
	}

	c.setLastError(name, "")
	ref.Checkin()
	return true
}

func (c *Checker) setLastError(name, errMsg string) {
	c.mu.Lock()
	ph := c.getOrCreate(name)
	if errMsg != "" {
		ph.LastError = errMsg
	}
	c.mu.Unlock()
}

func (c *Checker) updateStatus(name string, healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ph := c.getOrCreate(name)
	ph.LastCheck = time.Now()

	if healthy {
		if ph.ConsecutiveFailures > 0 {
			slog.Info("pool recovered", "pool", name, "failures", ph.ConsecutiveFailures)
		}
		ph.Status = StatusHealthy
		ph.ConsecutiveFailures = 0
		ph.LastError = ""
	} else {
		ph.ConsecutiveFailures++
		if ph.ConsecutiveFailures >= c.failureThreshold {
			if ph.Status != StatusUnhealthy {
				slog.Warn("pool marked unhealthy", "pool", name, "failures", ph.ConsecutiveFailures, "error", ph.LastError)
			}
			ph.Status = StatusUnhealthy
		}
	}

	if c.collector != nil {
		c.collector.SetPoolHealth(name, ph.Status == StatusHealthy)
	}
}

func (c *Checker) getOrCreate(name string) *PoolHealth {
	ph, ok := c.state[name]
	if !ok {
		ph = &PoolHealth{Status: StatusUnknown}
		c.state[name] = ph
	}
	return ph
}

// IsHealthy returns whether a pool is healthy, treating an unprobed pool as healthy.
func (c *Checker) IsHealthy(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ph, ok := c.state[name]
	if !ok {
		return true
	}
	return ph.Status != StatusUnhealthy
}

// GetStatus returns the health state for a named pool.
func (c *Checker) GetStatus(name string) PoolHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ph, ok := c.state[name]
	if !ok {
		return PoolHealth{Status: StatusUnknown}
	}
	return *ph
}

// GetAllStatuses returns health state for every pool the checker has probed.
func (c *Checker) GetAllStatuses() map[string]PoolHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]PoolHealth, len(c.state))
	for name, ph := range c.state {
		result[name] = *ph
	}
	return result
}

// OverallHealthy returns true if every probed pool is healthy.
func (c *Checker) OverallHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, ph := range c.state {
		if ph.Status == StatusUnhealthy {
			return false
		}
	}
	return true
}

// RemovePool removes health state for a pool that no longer exists.
func (c *Checker) RemovePool(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.state, name)
	if c.collector != nil {
		c.collector.RemovePool(name)
	}
	slog.Info("removed health state", "pool", name)
}
