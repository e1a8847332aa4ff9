// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ioengine/ioengine/internal/lifecycle"
	"github.com/ioengine/ioengine/internal/observability"
	"github.com/ioengine/ioengine/internal/watch"
	"github.com/ioengine/ioengine/internal/xdg"
	"github.com/ioengine/ioengine/pkg/errutil"
	"github.com/ioengine/ioengine/pkg/ioengine"
)

// shutdownTimeout bounds the observability server shutdown.
const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Host the packages directory until interrupted",
		Long: `Load every package in the packages directory, serve metrics and
health probes when --metrics-addr is set, and follow the directory:
a package that appears or changes is (re)loaded, a package that
disappears is unloaded. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) (err error) {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	root, err := cfg.packagesDir()
	if err != nil {
		return err
	}
	if err := xdg.EnsureDir(root); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		eng     *ioengine.Engine
		obs     *observability.Server
		obsErrs <-chan error
		opts    []ioengine.Option
	)
	if cfg.MetricsAddr != "" {
		obs = observability.NewServer(cfg.MetricsAddr, func() bool { return eng.Ready() }, logger)
		opts = append(opts, ioengine.WithMetrics(obs.Metrics()))
	}

	eng, err = newEngine(cfg, logger, cmd.OutOrStdout(), opts...)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := eng.Close(context.WithoutCancel(ctx)); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if obs != nil {
		if obsErrs, err = obs.Start(); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if stopErr := obs.Stop(stopCtx); stopErr != nil {
				errutil.LogError(logger, "failed to stop observability server", stopErr)
			}
		}()
	}

	set := newPackageSet(eng, logger)
	if err := set.loadAll(ctx, root); err != nil {
		return err
	}

	w, err := watch.New(root, watch.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	logger.Info("serving packages", "dir", root, "packages", len(eng.Packages()), "metrics_addr", cfg.MetricsAddr)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case err, ok := <-obsErrs:
			if ok && err != nil {
				return err
			}
			obsErrs = nil
		case change, ok := <-w.Changes():
			if !ok {
				return nil
			}
			set.reconcile(ctx, change.Dir)
		}
	}
}

// packageSet tracks which package id was loaded from which directory so
// directory changes can be mapped to loads and unloads.
type packageSet struct {
	eng    *ioengine.Engine
	logger *slog.Logger

	mu  sync.Mutex
	ids map[string]string // package dir -> id
}

func newPackageSet(eng *ioengine.Engine, logger *slog.Logger) *packageSet {
	return &packageSet{eng: eng, logger: logger, ids: make(map[string]string)}
}

// loadAll loads every package below root and records where each came from.
func (s *packageSet) loadAll(ctx context.Context, root string) error {
	if _, err := s.eng.LoadAll(ctx, root); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.eng.Packages() {
		s.ids[p.Dir] = p.ID
	}
	return nil
}

// reconcile brings the package in dir in line with the filesystem: a loaded
// package is unloaded, and loaded again when its descriptor still exists.
//
// Services registered by the previous load stay registered.
func (s *packageSet) reconcile(ctx context.Context, dir string) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		s.logger.Warn("ignoring change", "dir", dir, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.ids[abs]; ok {
		delete(s.ids, abs)
		if err := s.eng.UnloadPackage(ctx, id); err != nil {
			errutil.LogError(s.logger, "failed to unload package", err, "dir", abs, "id", id)
		} else {
			s.logger.Info("unloaded package", "dir", abs, "id", id)
		}
	}

	if _, err := os.Stat(filepath.Join(abs, lifecycle.DescriptorFile)); err != nil {
		return
	}
	id, err := s.eng.LoadPackage(ctx, abs)
	if err != nil {
		errutil.LogError(s.logger, "failed to load package", err, "dir", abs)
		return
	}
	s.ids[abs] = id
}
