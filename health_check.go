package nekodb

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// HealthStatus represents the overall health of an engine.
type HealthStatus struct {
	Healthy      bool           `json:"healthy"`
	LastChecked  time.Time      `json:"last_checked"`
	ResponseTime time.Duration  `json:"response_time"`
	Connection   string         `json:"connection"`
	Pool         PoolStats      `json:"pool"`
	Errors       []HealthError  `json:"errors,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// HealthError represents a health check error
type HealthError struct {
	Type        string    `json:"type"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Recoverable bool      `json:"recoverable"`
}

// HealthCheckConfig configures health check behavior
type HealthCheckConfig struct {
	Timeout   time.Duration `json:"timeout"`
	TestQuery string        `json:"test_query"`
}

// DefaultHealthCheckConfig returns default health check configuration
func DefaultHealthCheckConfig() HealthCheckConfig {
	return HealthCheckConfig{
		Timeout:   5 * time.Second,
		TestQuery: "SELECT 1",
	}
}

// HealthCheck probes the engine with the default configuration.
func (e *MySQLEngine) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return e.HealthCheckWithConfig(ctx, DefaultHealthCheckConfig())
}

// HealthCheckWithConfig pings the independent connection when one is open,
// runs the test query on a pooled connection and collects pool statistics.
// It never opens the independent connection itself.
func (e *MySQLEngine) HealthCheckWithConfig(ctx context.Context, config HealthCheckConfig) (*HealthStatus, error) {
	if e == nil {
		return nil, fmt.Errorf("engine is nil")
	}
	start := time.Now()
	status := &HealthStatus{
		LastChecked: start,
		Connection:  e.State().String(),
		Details:     make(map[string]any),
	}

	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	if e.State() == StateConnected {
		if !e.api.CheckConnectionWithDatabase(ctx) {
			status.Errors = append(status.Errors, HealthError{
				Type:        "connectivity",
				Message:     "independent connection does not answer ping",
				Timestamp:   time.Now(),
				Recoverable: true,
			})
		}
	}

	if err := e.performQueryCheck(ctx, config, status); err != nil {
		status.Errors = append(status.Errors, HealthError{
			Type:        "query_execution",
			Message:     fmt.Sprintf("Query execution failed: %v", err),
			Timestamp:   time.Now(),
			Recoverable: true,
		})
	}

	status.Pool = e.pool.Stats()
	e.tel.logPoolStats(ctx, status.Pool)
	status.ResponseTime = time.Since(start)
	status.Healthy = len(status.Errors) == 0
	return status, nil
}

// performQueryCheck runs the test query on a pooled connection inside a
// transaction that is always rolled back.
func (e *MySQLEngine) performQueryCheck(ctx context.Context, config HealthCheckConfig, status *HealthStatus) (err error) {
	query := config.TestQuery
	if query == "" {
		query = DefaultHealthCheckConfig().TestQuery
	}
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() { err = appendErr(err, e.pool.Release(conn)) }()

	start := time.Now()
	err = conn.Execute(ctx, query)
	err = appendErr(err, rollback(ctx, conn))
	status.Details["query_time"] = time.Since(start).String()
	return err
}

// HealthMonitor runs HealthCheck periodically and keeps the latest result.
type HealthMonitor struct {
	engine   *MySQLEngine
	config   HealthCheckConfig
	interval time.Duration
	onStatus func(*HealthStatus)

	mu     sync.RWMutex
	status *HealthStatus
}

// NewHealthMonitor creates a monitor; onStatus, when not nil, receives every
// result.
func NewHealthMonitor(engine *MySQLEngine, interval time.Duration, onStatus func(*HealthStatus)) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthMonitor{
		engine:   engine,
		config:   DefaultHealthCheckConfig(),
		interval: interval,
		onStatus: onStatus,
	}
}

// Run checks immediately and then on every tick until ctx ends.
func (hm *HealthMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(hm.interval)
	defer ticker.Stop()

	hm.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			hm.check(ctx)
		}
	}
}

// Status returns the latest result, or nil before the first check.
func (hm *HealthMonitor) Status() *HealthStatus {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return hm.status
}

func (hm *HealthMonitor) check(ctx context.Context) {
	status, err := hm.engine.HealthCheckWithConfig(ctx, hm.config)
	if err != nil {
		status = &HealthStatus{
			LastChecked: time.Now(),
			Errors: []HealthError{{
				Type:        "health_check_failure",
				Message:     fmt.Sprintf("Health check failed: %v", err),
				Timestamp:   time.Now(),
				Recoverable: true,
			}},
		}
	}
	hm.mu.Lock()
	hm.status = status
	hm.mu.Unlock()
	if hm.onStatus != nil {
		hm.onStatus(status)
	}
}
