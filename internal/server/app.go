// Package server initializes and runs the export service: it opens the
// database, applies migrations, builds the blob store client, the export
// controller with its recovery sweep, and serves the HTTP trigger API with
// graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mkuznecov/fileexport/internal/blobstore"
	"github.com/mkuznecov/fileexport/internal/logging"
	"github.com/mkuznecov/fileexport/internal/server/api"
	"github.com/mkuznecov/fileexport/internal/server/config"
	"github.com/mkuznecov/fileexport/internal/server/export"
	"github.com/mkuznecov/fileexport/internal/server/repositories/repomanager"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	sweep   *export.Sweep
	handler http.Handler
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	blobs, err := blobstore.NewS3Store(ctx, blobstore.S3Options{
		User:         c.S3RootUser,
		Password:     c.S3RootPassword,
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	controller := export.NewController(db, repos, blobs, logger, export.Options{
		InitialDelay:  c.InitialTimerDelay,
		ChunkDelay:    c.ChunkInterval,
		PageLimit:     c.ChunkFileLimit,
		ProbeWidth:    c.ProbeWidth,
		SizeThreshold: c.ChunkSizeThreshold,
		Retention:     c.ArchiveRetention,
	})
	sweep := export.NewSweep(db, repos, blobs, controller, logger, c.SweepInterval, c.StuckAfter)
	handler := api.NewHandler(db, repos, controller, logger, c.SecretKey).Router()

	return &App{config: c, logger: logger, db: db, sweep: sweep, handler: handler}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.sweep.Run(ctx)
	}()

	srv := &http.Server{Addr: app.config.EndpointAddr, Handler: app.handler}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", app.config.EndpointAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, err.Error())
	}
}
