package nekodb

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	mysql "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var defaultLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
	Level: slog.LevelInfo,
}))

// telemetry is the logging, tracing and metrics state shared by an engine,
// its pool and its API. A nil *telemetry records nothing.
type telemetry struct {
	mu sync.RWMutex

	system string

	logger             *slog.Logger
	loggingEnabled     bool
	slowQueryThreshold time.Duration

	tracingEnabled bool
	tracer         trace.Tracer

	metricsEnabled bool
	meterProvider  metric.MeterProvider
	metrics        *Metrics
}

func newTelemetry(system string) *telemetry {
	return &telemetry{system: system}
}

func (t *telemetry) enableLogging(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loggingEnabled = enabled
	if enabled && t.logger == nil {
		t.logger = defaultLogger
	}
}

func (t *telemetry) setLogger(logger *slog.Logger) {
	t.mu.Lock()
	t.logger = logger
	t.mu.Unlock()
}

func (t *telemetry) setSlowQueryThreshold(d time.Duration) {
	t.mu.Lock()
	t.slowQueryThreshold = d
	t.mu.Unlock()
}

// activeLogger returns the logger when logging is on, nil otherwise.
func (t *telemetry) activeLogger() (*slog.Logger, time.Duration) {
	if t == nil {
		return nil, 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.loggingEnabled || t.logger == nil {
		return nil, 0
	}
	return t.logger, t.slowQueryThreshold
}

func errorAttrs(attrs []slog.Attr, err error) []slog.Attr {
	if err == nil {
		return append(attrs, slog.String("status", "success"))
	}
	attrs = append(attrs,
		slog.String("status", "error"),
		slog.String("error", err.Error()),
	)
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		attrs = append(attrs, slog.Int("error_code", int(me.Number)))
	}
	return attrs
}

func durationMs(d time.Duration) float64 { return float64(d.Nanoseconds()) / 1e6 }

// logQuery logs one templated execution.
func (t *telemetry) logQuery(ctx context.Context, path, queryID, query string, duration time.Duration, err error) {
	logger, slow := t.activeLogger()
	if logger == nil {
		return
	}
	attrs := []slog.Attr{
		slog.String("operation", "execute"),
		slog.String("path", path),
		slog.String("query_id", queryID),
		slog.String("query", query),
		slog.Float64("duration_ms", durationMs(duration)),
	}
	attrs = errorAttrs(attrs, err)

	if slow > 0 && duration > slow {
		logger.LogAttrs(ctx, slog.LevelWarn, "slow query detected", attrs...)
		return
	}
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
	}
	logger.LogAttrs(ctx, level, "database query executed", attrs...)
}

// logTransaction logs a commit or rollback.
func (t *telemetry) logTransaction(ctx context.Context, event, path, queryID string, err error) {
	logger, _ := t.activeLogger()
	if logger == nil {
		return
	}
	attrs := errorAttrs([]slog.Attr{
		slog.String("event", event),
		slog.String("path", path),
		slog.String("query_id", queryID),
	}, err)
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	logger.LogAttrs(ctx, level, "database transaction event", attrs...)
}

// logConnection logs lifecycle events of the independent connection.
func (t *telemetry) logConnection(ctx context.Context, event string, duration time.Duration, err error) {
	logger, _ := t.activeLogger()
	if logger == nil {
		return
	}
	attrs := errorAttrs([]slog.Attr{
		slog.String("event", event),
		slog.Float64("duration_ms", durationMs(duration)),
	}, err)
	if err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "database connection event", attrs...)
		return
	}
	logger.LogAttrs(ctx, slog.LevelDebug, "database connection event", attrs...)
}

// logPool logs pool checkouts.
func (t *telemetry) logPool(ctx context.Context, event, pool string, wait time.Duration, err error) {
	logger, _ := t.activeLogger()
	if logger == nil {
		return
	}
	attrs := errorAttrs([]slog.Attr{
		slog.String("event", event),
		slog.String("pool", pool),
		slog.Float64("wait_ms", durationMs(wait)),
	}, err)
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
	}
	logger.LogAttrs(ctx, level, "connection pool event", attrs...)
}

func (t *telemetry) logLeak(ctx context.Context, info BorrowLeak) {
	logger, _ := t.activeLogger()
	if logger == nil {
		return
	}
	logger.LogAttrs(ctx, slog.LevelWarn, "pooled connection held too long",
		slog.String("pool", info.Pool),
		slog.Uint64("conn_id", info.ConnID),
		slog.Float64("held_ms", durationMs(info.HeldFor)),
	)
}

// logPoolStats logs a pool snapshot.
func (t *telemetry) logPoolStats(ctx context.Context, stats PoolStats) {
	logger, _ := t.activeLogger()
	if logger == nil {
		return
	}
	logger.LogAttrs(ctx, slog.LevelDebug, "connection pool stats",
		slog.String("pool", stats.Name),
		slog.Int("size", stats.Size),
		slog.Int("in_use", stats.InUse),
		slog.Int("idle", stats.Idle),
		slog.Int("total", stats.Total),
		slog.Int64("exhausted", stats.Exhausted),
	)
}
