package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/4-proxy/nekodb"
	"github.com/hashicorp/go-multierror"
	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/sync/errgroup"
)

// Messages sent to the owner chat.
const (
	StartupMessage  = "I'am wake up!"
	ShutdownMessage = "I'am go to sleep!"
)

// Notifier delivers a text message to a chat.
type Notifier interface {
	Notify(ctx context.Context, chatID, text string) error
}

// LogNotifier writes notifications to a logger instead of a chat.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, chatID, text string) error {
	n.Logger.InfoContext(ctx, "notify", "chat_id", chatID, "text", text)
	return nil
}

// Workflow carries the resources shared by the startup and shutdown hooks.
type Workflow struct {
	Engine         *nekodb.MySQLEngine
	Logger         *slog.Logger
	Notifier       Notifier
	OwnerChatID    string
	StartupQueries []string

	// HealthInterval, when positive, runs a health check on that period
	// while the workflow is running.
	HealthInterval time.Duration
}

// NewWorkflow wires cfg to engine. A nil notifier logs notifications.
func NewWorkflow(cfg *ProjectConfig, engine *nekodb.MySQLEngine, logger *slog.Logger, notifier Notifier) (*Workflow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if engine == nil {
		return nil, fmt.Errorf("%w: nil engine", nekodb.ErrInvalidConfig)
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	engine.SetLogger(logger)
	engine.EnableLogging(cfg.Bot.Debug)
	return &Workflow{
		Engine:         engine,
		Logger:         logger,
		Notifier:       notifier,
		OwnerChatID:    cfg.Bot.OwnerChatID,
		StartupQueries: cfg.StartupQueries,
	}, nil
}

// OnStartup binds the database API, runs the startup queries on the pool and
// tells the owner the bot is up.
func (w *Workflow) OnStartup(ctx context.Context) error {
	if err := w.Engine.ConnectAPIToDatabase(ctx); err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	api := w.Engine.API()
	for i, q := range w.StartupQueries {
		if err := api.ExecuteSQLQueryUsePool(ctx, nekodb.NewTemplate(q), nil); err != nil {
			return fmt.Errorf("startup query %d: %w", i, err)
		}
	}
	w.Logger.InfoContext(ctx, "Bot is online!")
	return w.Notifier.Notify(ctx, w.OwnerChatID, StartupMessage)
}

// OnShutdown tells the owner the bot is stopping and closes the engine.
func (w *Workflow) OnShutdown(ctx context.Context) error {
	w.Logger.InfoContext(ctx, "Bot is shutdown!")
	err := w.Notifier.Notify(ctx, w.OwnerChatID, ShutdownMessage)
	return multierror.Append(err, w.Engine.Close()).ErrorOrNil()
}

// Run starts the workflow, blocks until ctx is cancelled and shuts down.
// Cancellation is the normal way to stop and is not reported as an error.
func (w *Workflow) Run(ctx context.Context) error {
	ctx = slogctx.Append(ctx, "owner_chat_id", w.OwnerChatID)

	if err := w.OnStartup(ctx); err != nil {
		return multierror.Append(err, w.Engine.Close()).ErrorOrNil()
	}

	g, gctx := errgroup.WithContext(ctx)
	if w.HealthInterval > 0 {
		mon := nekodb.NewHealthMonitor(w.Engine, w.HealthInterval, func(s *nekodb.HealthStatus) {
			level := slog.LevelDebug
			if !s.Healthy {
				level = slog.LevelWarn
			}
			w.Logger.Log(gctx, level, "health check",
				"healthy", s.Healthy,
				"response_time", s.ResponseTime,
				"pool_in_use", s.Pool.InUse,
				"errors", len(s.Errors),
			)
		})
		g.Go(func() error { return mon.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	return multierror.Append(err, w.OnShutdown(context.WithoutCancel(ctx))).ErrorOrNil()
}
