// Package daemon wires the record store and the control socket into one
// long-running process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/funnyzak/reqtrace/internal/config"
	"github.com/funnyzak/reqtrace/internal/logger"
	"github.com/funnyzak/reqtrace/internal/protocol"
	"github.com/funnyzak/reqtrace/internal/storage"
)

// Daemon owns the store and the socket server for its whole lifetime.
type Daemon struct {
	config  *config.Config
	logger  logger.Logger
	version string
	store   storage.Store
	server  *protocol.Server
}

// New opens (and migrates) the store. The socket is not touched until Run,
// so a store that fails to migrate never serves a request.
func New(cfg *config.Config, log logger.Logger, version string) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if log == nil {
		log = logger.Nop()
	}
	if err := os.MkdirAll(cfg.Daemon.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("prepare daemon directory: %w", err)
	}

	store, err := storage.New(&cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	server := protocol.NewServer(protocol.Options{
		SocketPath:    cfg.Daemon.SocketPath,
		MaxFrameBytes: cfg.Protocol.MaxFrameBytes,
		Version:       version,
	}, store, log)

	return &Daemon{
		config:  cfg,
		logger:  log,
		version: version,
		store:   store,
		server:  server,
	}, nil
}

// Store returns the daemon's record store.
func (d *Daemon) Store() storage.Store {
	return d.store
}

// Server returns the daemon's socket dispatcher.
func (d *Daemon) Server() *protocol.Server {
	return d.server
}

// Run serves the control socket until ctx is cancelled or the process
// receives SIGINT or SIGTERM. The store is closed before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.server.Listen(); err != nil {
		return errors.Join(err, d.store.Close())
	}

	d.logger.Info("Daemon started",
		"version", d.version,
		"pid", os.Getpid(),
		"socket", d.config.Daemon.SocketPath,
		"store", d.store.Path(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.server.Serve(gctx)
	})
	if interval := d.config.Daemon.PruneInterval; interval > 0 {
		g.Go(func() error {
			d.pruneLoop(gctx, interval)
			return nil
		})
	}

	err := g.Wait()
	d.logger.Info("Shutting down daemon...")
	err = errors.Join(err, d.server.Close(), d.store.Close())
	if err != nil {
		d.logger.Error("Daemon stopped with error", "error", err)
		return err
	}
	d.logger.Info("Daemon exited")
	return nil
}

// Close releases the store and socket without running. Safe after Run.
func (d *Daemon) Close() error {
	return errors.Join(d.server.Close(), d.store.Close())
}

func (d *Daemon) pruneLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := d.store.Prune(ctx)
			if err != nil {
				if ctx.Err() == nil {
					d.logger.Warn("Retention sweep failed", "error", err)
				}
				continue
			}
			if removed > 0 {
				d.logger.Info("Retention sweep removed requests", "removed", removed)
			}
		}
	}
}
