// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

// Package ioengine embeds the extension host.
//
// An Engine runs Lua extension code in isolated namespaces. Extension code
// reaches the host only through the read-only api table (showMessage,
// register, log, newRequestId, and for packages getServiceInfo and
// getConfig). Services registered with api.register land in one ordered
// registry shared by the whole engine.
//
//	eng, err := ioengine.New()
//	if err != nil {
//		return err
//	}
//	defer eng.Close(ctx)
//
//	id, err := eng.LoadPackage(ctx, "packages/echo")
//	...
//	svc, _ := eng.Service(0)
//	_, err = svc.Call(ctx, "run")
package ioengine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ioengine/ioengine/internal/capability"
	"github.com/ioengine/ioengine/internal/lifecycle"
	"github.com/ioengine/ioengine/internal/observability"
	"github.com/ioengine/ioengine/internal/registry"
	"github.com/ioengine/ioengine/internal/sandbox"
)

var tracer = otel.Tracer("ioengine/engine")

// executeChunk names ad-hoc code in error messages and stack traces.
const executeChunk = "<execute>"

type (
	// Service is one registered record.
	Service = registry.Service
	// Operation is a callable attribute of a Service.
	Operation = registry.Operation
	// OperationFunc adapts a Go function to Operation.
	OperationFunc = registry.OperationFunc
)

// PackageInfo describes a loaded package.
type PackageInfo struct {
	ID           string
	Name         string
	Version      string
	Description  string
	Dir          string
	Entrypoint   string
	Capabilities []string
	Services     int
}

// Engine is the extension host. It is safe for concurrent use.
type Engine struct {
	registry *registry.Registry
	factory  *sandbox.StateFactory
	cache    *sandbox.Cache
	surface  *capability.Surface
	manager  *lifecycle.Manager
	logger   *slog.Logger
	metrics  observability.Recorder

	// gate is held shared by running operations and exclusively by Close.
	gate   sync.RWMutex
	closed bool

	mu       sync.Mutex
	retained []*sandbox.Namespace // ad-hoc executions that registered services
}

// New creates an engine.
func New(opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var factoryOpts []sandbox.FactoryOption
	var cache *sandbox.Cache
	if cfg.cacheSize > 0 {
		c, err := sandbox.NewCache(cfg.cacheSize)
		if err != nil {
			return nil, err
		}
		cache = c
		factoryOpts = append(factoryOpts, sandbox.WithCache(cache))
	}
	if cfg.fullStdlib {
		factoryOpts = append(factoryOpts, sandbox.WithFullStdlib())
	}

	reg := registry.New()
	factory := sandbox.NewStateFactory(factoryOpts...)
	surface := capability.NewSurface().
		With(capability.NameShowMessage, capability.ShowMessage(cfg.sink)).
		With(capability.NameRegister, sandbox.Register).
		With(capability.NameLog, capability.Log(cfg.logger.With("component", "extension"), sandbox.NameOf)).
		With(capability.NameNewRequestID, capability.NewRequestID())

	return &Engine{
		registry: reg,
		factory:  factory,
		cache:    cache,
		surface:  surface,
		manager:  lifecycle.NewManager(factory, reg, surface, lifecycle.WithLogger(cfg.logger)),
		logger:   cfg.logger,
		metrics:  cfg.metrics,
	}, nil
}

// Execute runs source in a fresh namespace with the base surface.
//
// Services registered by source are published together once it has run to
// completion; a fault discards them all. The namespace stays alive until
// Close when it registered anything, so the services remain callable.
func (e *Engine) Execute(ctx context.Context, source string) (err error) {
	ctx, span := tracer.Start(ctx, "engine.execute")
	defer func() { endSpan(span, err) }()

	e.gate.RLock()
	defer e.gate.RUnlock()
	if e.closed {
		return closedError()
	}

	ns, err := e.factory.NewNamespace(ctx, "exec-"+ulid.Make().String())
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("namespace", ns.Name()))

	batch := e.registry.NewBatch(ns.Name())
	err = ns.Run(ctx, executeChunk, source, e.surface, batch)
	e.metrics.Execution(observability.Status(err))
	if err != nil {
		batch.Discard()
		ns.Close()
		return err
	}

	n := batch.Commit()
	e.metrics.ServicesRegistered(n)
	span.SetAttributes(attribute.Int("services", n))
	if n == 0 {
		ns.Close()
		return nil
	}

	e.mu.Lock()
	e.retained = append(e.retained, ns)
	e.mu.Unlock()
	return nil
}

// LoadPackage loads the package in dir and returns its new identifier.
// On failure nothing the load did remains visible.
func (e *Engine) LoadPackage(ctx context.Context, dir string) (id string, err error) {
	ctx, span := tracer.Start(ctx, "engine.load_package",
		trace.WithAttributes(attribute.String("package.dir", dir)))
	defer func() { endSpan(span, err) }()

	e.gate.RLock()
	defer e.gate.RUnlock()
	if e.closed {
		return "", closedError()
	}

	d, err := e.manager.Load(ctx, dir)
	e.metrics.PackageLoad(observability.Status(err))
	if err != nil {
		return "", err
	}
	e.metrics.ServicesRegistered(d.Services())
	e.metrics.PackagesLoaded(e.manager.Len())
	span.SetAttributes(attribute.String("package.id", d.ID))
	return d.ID, nil
}

// UnloadPackage forgets the package id. Identifiers never returned by
// LoadPackage, or already unloaded, fail with PACKAGE_NOT_FOUND.
//
// Services the package registered are not revoked.
func (e *Engine) UnloadPackage(ctx context.Context, id string) (err error) {
	ctx, span := tracer.Start(ctx, "engine.unload_package",
		trace.WithAttributes(attribute.String("package.id", id)))
	defer func() { endSpan(span, err) }()

	e.gate.RLock()
	defer e.gate.RUnlock()
	if e.closed {
		return closedError()
	}

	if err := e.manager.Unload(ctx, id); err != nil {
		return err
	}
	e.metrics.PackageUnload()
	e.metrics.PackagesLoaded(e.manager.Len())
	return nil
}

// LoadAll loads every package under root and returns the identifiers of
// those that loaded. Broken packages are logged and skipped.
func (e *Engine) LoadAll(ctx context.Context, root string) (ids []string, err error) {
	ctx, span := tracer.Start(ctx, "engine.load_all",
		trace.WithAttributes(attribute.String("packages.root", root)))
	defer func() { endSpan(span, err) }()

	dirs, err := e.manager.Discover(ctx, root)
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		id, loadErr := e.LoadPackage(ctx, dir)
		if loadErr != nil {
			if HasCode(loadErr, CodeEngineClosed) {
				return ids, loadErr
			}
			e.logger.Warn("skipping package", "dir", dir, "error", loadErr, "code", ErrorCode(loadErr))
			continue
		}
		ids = append(ids, id)
	}
	span.SetAttributes(attribute.Int("packages.loaded", len(ids)))
	return ids, nil
}

// Register adds a host-side registration. kind must be "service"; payload
// is a string-keyed map or a struct. Func-valued fields with the Operation
// signature become callable operations.
func (e *Engine) Register(kind string, payload any) error {
	e.gate.RLock()
	defer e.gate.RUnlock()
	if e.closed {
		return closedError()
	}

	if err := registry.CheckKind(kind); err != nil {
		return err
	}
	p, err := registry.PayloadOf(payload)
	if err != nil {
		return err
	}
	if err := e.registry.Register(kind, p); err != nil {
		return err
	}
	e.metrics.ServicesRegistered(1)
	return nil
}

// RegisterService is Register with kind "service".
func (e *Engine) RegisterService(payload any) error {
	return e.Register(registry.KindService, payload)
}

// Services returns the registered records in registration order. The slice
// is a snapshot; records themselves are immutable.
func (e *Engine) Services() []*Service {
	return e.registry.Services()
}

// Service returns the record at position i.
func (e *Engine) Service(i int) (*Service, bool) {
	return e.registry.At(i)
}

// Packages describes the loaded packages in load order.
func (e *Engine) Packages() []PackageInfo {
	descriptors := e.manager.Packages()
	out := make([]PackageInfo, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, PackageInfo{
			ID:           d.ID,
			Name:         d.DisplayName(),
			Version:      string(d.Version),
			Description:  string(d.Description),
			Dir:          d.PackageDir,
			Entrypoint:   d.Entrypoint,
			Capabilities: d.Grants(),
			Services:     d.Services(),
		})
	}
	return out
}

// SearchPath returns the directories of loaded packages, most recent first.
func (e *Engine) SearchPath() []string {
	return e.manager.SearchPath()
}

// CacheStats reports compile cache usage. The zero value is returned when
// the cache is disabled.
func (e *Engine) CacheStats() sandbox.CacheStats {
	if e.cache == nil {
		return sandbox.CacheStats{}
	}
	return e.cache.Stats()
}

// Ready reports whether the engine accepts work.
func (e *Engine) Ready() bool {
	e.gate.RLock()
	defer e.gate.RUnlock()
	return !e.closed
}

// Close unloads everything, closes every namespace and empties the
// registry. It waits for running operations. Later operations fail with
// ENGINE_CLOSED; calling Close again does nothing.
func (e *Engine) Close(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "engine.close")
	defer func() { endSpan(span, err) }()

	e.gate.Lock()
	defer e.gate.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	if err := e.manager.Close(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	retained := e.retained
	e.retained = nil
	e.mu.Unlock()
	for _, ns := range retained {
		ns.Close()
	}
	e.registry.Clear()
	if e.cache != nil {
		e.cache.Purge()
	}
	e.metrics.PackagesLoaded(0)
	e.logger.Info("engine closed")
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
