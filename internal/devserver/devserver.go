// Package devserver runs the live development loop: build the site, serve it,
// watch for content changes, and on each change rebuild, restart the origin
// server, and tell connected browsers to refresh — strictly in that order, so
// a browser is never told to reload before the new output exists on disk.
package devserver

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/conneroisu/kiln/internal/builder"
	"github.com/conneroisu/kiln/internal/config"
	kilnerrors "github.com/conneroisu/kiln/internal/errors"
	"github.com/conneroisu/kiln/internal/logging"
	"github.com/conneroisu/kiln/internal/reload"
	"github.com/conneroisu/kiln/internal/server"
	"github.com/conneroisu/kiln/internal/watcher"
)

// siteBuilder is the build step of a rebuild cycle.
type siteBuilder interface {
	Build(ctx context.Context) error
}

// DevServer owns the lifecycle of the development loop's components.
type DevServer struct {
	cfg     *config.Config
	logger  logging.Logger
	builder siteBuilder
	watcher *watcher.ContentWatcher
	hub     *reload.Hub
	origin  *server.Server
}

// New wires a DevServer from the compiled-in configuration.
func New(cfg *config.Config, logger logging.Logger) *DevServer {
	reloadAddr := fmt.Sprintf("%s:%d", cfg.Reload.Host, cfg.Reload.Port)

	return &DevServer{
		cfg:     cfg,
		logger:  logger.WithComponent("devserver"),
		builder: builder.New(cfg.Site, logger),
		watcher: watcher.New(cfg.Site.ContentDir, cfg.Watch.Interval, logger),
		hub:     reload.NewHub(reloadAddr, logger),
		origin:  server.New(cfg, logger),
	}
}

// Run performs the initial build, starts the origin server and the reload
// hub, and then processes change events until ctx is cancelled or a
// supervised component fails. Rebuild cycles are strictly serialized: the
// single loop below is the only place a rebuild happens, and change events
// arriving mid-cycle coalesce in the watcher's buffered channel.
func (d *DevServer) Run(ctx context.Context) error {
	// Nothing accepts connections before the first build has finished.
	if err := d.builder.Build(ctx); err != nil {
		return err
	}

	if err := d.hub.Start(); err != nil {
		return err
	}

	if err := d.origin.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Server.ShutdownGrace)
		defer cancel()
		_ = d.origin.Shutdown(shutdownCtx)
	}()

	d.logger.Info(ctx, "development server running",
		"http", d.origin.Addr(),
		"reload", d.hub.Addr(),
	)

	// Supervision: the watcher and the hub run as long-lived tasks whose
	// exit is observed here instead of dying silently.
	exits := make(chan taskExit, 2)
	runTask := func(name string, run func(context.Context) error) {
		go func() { exits <- taskExit{name: name, err: run(ctx)} }()
	}
	runTask(watcherTask, d.watcher.Run)
	runTask(reloadTask, d.hub.Run)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case exit := <-exits:
			if exit.err == nil || stderrors.Is(exit.err, context.Canceled) {
				return ctx.Err()
			}

			// Recoverable watcher failures (a transient read error
			// mid-poll) restart the task instead of taking the whole
			// loop down; the poll interval paces the retries.
			if exit.name == watcherTask && kilnerrors.IsRecoverable(exit.err) {
				d.logger.Warn(ctx, exit.err, "watcher failed, restarting", "task", exit.name)
				runTask(watcherTask, d.watcher.Run)
				continue
			}

			d.logger.Error(ctx, exit.err, "supervised task failed, shutting down", "task", exit.name)
			return exit.err

		case <-d.watcher.Events():
			d.rebuild(ctx)
		}
	}
}

const (
	watcherTask = "watcher"
	reloadTask  = "reload"
)

// taskExit reports a supervised task ending, with the error it ended on.
type taskExit struct {
	name string
	err  error
}

// rebuild runs one cycle: build, restart the origin server, notify browsers.
// A failed build aborts the cycle and leaves the previous instance serving the
// previous output; no reload fires for that change.
func (d *DevServer) rebuild(ctx context.Context) {
	d.logger.Info(ctx, "changes detected, rebuilding site")

	if err := d.builder.Build(ctx); err != nil {
		d.logger.Error(ctx, err, "rebuild failed, previous site stays live")
		return
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, d.cfg.Server.ShutdownGrace)
	err := d.origin.Shutdown(shutdownCtx)
	cancel()
	if err != nil {
		d.logger.Warn(ctx, err, "previous server instance did not stop cleanly")
	}

	if err := d.origin.Start(); err != nil {
		d.logger.Error(ctx, err, "restarting origin server failed")
		return
	}

	// The new output is on disk and the new instance is accepting; only
	// now may browsers be told to refresh.
	d.hub.NotifyReload()
}
