// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

package ioengine

import (
	"log/slog"
	"os"

	"github.com/ioengine/ioengine/internal/capability"
	"github.com/ioengine/ioengine/internal/observability"
	"github.com/ioengine/ioengine/internal/sandbox"
)

// MessageSink receives the text passed to showMessage.
type MessageSink = capability.MessageSink

type config struct {
	sink       MessageSink
	logger     *slog.Logger
	metrics    observability.Recorder
	fullStdlib bool
	cacheSize  int
}

func defaultConfig() config {
	return config{
		sink:      capability.WriterSink(os.Stdout),
		logger:    slog.Default(),
		metrics:   observability.Nop{},
		cacheSize: sandbox.DefaultCacheSize,
	}
}

// Option configures an Engine.
type Option func(*config)

// WithMessageSink routes showMessage output to sink instead of stdout.
func WithMessageSink(sink MessageSink) Option {
	return func(c *config) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// WithLogger sets the logger used by the engine and by the log capability.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records engine events with r.
func WithMetrics(r observability.Recorder) Option {
	return func(c *config) {
		if r != nil {
			c.metrics = r
		}
	}
}

// WithFullStdlib also opens the os and io libraries and keeps the dynamic
// loading functions of the base library. Only use it for trusted code.
func WithFullStdlib() Option {
	return func(c *config) {
		c.fullStdlib = true
	}
}

// WithCompileCacheSize sets how many compiled chunks are kept.
// Zero or less disables the cache.
func WithCompileCacheSize(n int) Option {
	return func(c *config) {
		c.cacheSize = n
	}
}
