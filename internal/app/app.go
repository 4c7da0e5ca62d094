package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Application holds all the components and manages the application lifecycle
type Application struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container *Container
}

// NewApplication creates and fully initializes a new Application instance
func NewApplication(ctx context.Context) (*Application, error) {
	appCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)

	container, err := NewContainer(appCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	app := &Application{
		ctx:       appCtx,
		cancel:    cancel,
		container: container,
	}
	app.container.Logger().Info("Application initialized successfully")
	return app, nil
}

// Run starts the consumers, the low-stock dispatcher, the scheduler and the
// ops HTTP server, and blocks until the context is cancelled or one of them
// fails.
func (app *Application) Run() error {
	c := app.container
	g, ctx := errgroup.WithContext(app.ctx)

	for _, consumer := range c.consumers {
		g.Go(func() error { return consumer.Start(ctx) })
	}
	g.Go(func() error { return c.dispatcher.Run(ctx) })

	jobs := []Job{{
		Name:  "expiry-sweep",
		Every: c.config.SweepInterval,
		Run: func(ctx context.Context) error {
			c.sweeper.SweepOnce(ctx)
			return nil
		},
	}}
	if c.store != nil {
		jobs = append(jobs, Job{Name: "checkpoint", Every: c.config.CheckpointInterval, Run: c.Checkpoint})
	}
	scheduler := NewScheduler(c.logger, jobs...)
	g.Go(func() error { return scheduler.Run(ctx) })

	server := &http.Server{
		Addr:              c.config.HTTPAddr,
		Handler:           NewRouter(c.service, c.metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		c.logger.Info("🌐 Ops HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown gracefully shuts down all application components
func (app *Application) Shutdown() {
	if app.container != nil {
		app.container.Logger().Info("Starting application shutdown...")
	}

	if app.cancel != nil {
		app.cancel()
	}

	if app.container != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		app.container.Shutdown(ctx)
	}
}
