// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/ioengine/ioengine/internal/capability"
	"github.com/ioengine/ioengine/internal/errcode"
	"github.com/ioengine/ioengine/internal/registry"
	"github.com/ioengine/ioengine/internal/sandbox"
	"github.com/ioengine/ioengine/pkg/errutil"
)

// Package-scoped accessors added to the surface of every loaded package.
const (
	accessorServiceInfo = capability.NameGetServiceInfo
	accessorConfig      = capability.NameGetConfig
)

// Manager drives package load and unload.
//
// Loads are serialized by a dedicated lock that is always released, whatever
// the outcome. A failed load leaves no trace: no package table entry, no
// search path entry, no grants and no services.
type Manager struct {
	factory  *sandbox.StateFactory
	registry *registry.Registry
	surface  *capability.Surface
	enforcer *capability.Enforcer
	search   *SearchPath
	logger   *slog.Logger

	loadMu sync.Mutex

	mu       sync.RWMutex
	packages map[string]*Descriptor
	retained []*sandbox.Namespace // unloaded packages whose services are still registered
	closed   bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithEnforcer shares an enforcer instead of creating one.
func WithEnforcer(e *capability.Enforcer) ManagerOption {
	return func(m *Manager) {
		m.enforcer = e
	}
}

// NewManager creates a manager that evaluates packages with factory, gives
// them surface (restricted by their grants) and commits their services to
// reg.
func NewManager(factory *sandbox.StateFactory, reg *registry.Registry, surface *capability.Surface, opts ...ManagerOption) *Manager {
	m := &Manager{
		factory:  factory,
		registry: reg,
		surface:  surface,
		search:   &SearchPath{},
		packages: make(map[string]*Descriptor),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.enforcer == nil {
		m.enforcer = capability.NewEnforcer()
	}
	return m
}

// Load loads the package in dir and returns its descriptor.
//
// Descriptor problems and a missing entry point fail with DESCRIPTOR_ERROR;
// a fault raised by the entry point fails with EXECUTION_ERROR (or the code
// of the host error that caused it). On failure every change made by the
// load is undone and the original error is returned.
func (m *Manager) Load(ctx context.Context, dir string) (*Descriptor, error) {
	if m.isClosed() {
		return nil, closedError()
	}

	d, err := ReadDescriptor(dir)
	if err != nil {
		return nil, err
	}
	d.ID = ulid.Make().String()
	if d.Version != "" {
		if _, err := d.SemVer(); err != nil {
			m.logger.Warn("package version is not a semantic version",
				"package", d.DisplayName(),
				"version", string(d.Version))
		}
	}

	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	if m.isClosed() {
		return nil, closedError()
	}

	source, err := d.entrypointSource()
	if err != nil {
		return nil, err
	}

	m.search.Prepend(d.PackageDir)
	if err := m.evaluate(ctx, d, source); err != nil {
		m.search.Remove(d.PackageDir)
		return nil, err
	}

	m.mu.Lock()
	m.packages[d.ID] = d
	m.mu.Unlock()

	m.logger.Info("loaded package",
		"package", d.DisplayName(),
		"id", d.ID,
		"version", string(d.Version),
		"services", d.Services())
	return d, nil
}

// evaluate runs the entry point in a fresh namespace. Registrations are
// staged and only committed when the whole entry point succeeded.
func (m *Manager) evaluate(ctx context.Context, d *Descriptor, source string) error {
	if err := m.enforcer.SetGrants(d.ID, d.Grants()); err != nil {
		return err
	}

	ns, err := m.factory.NewNamespace(ctx, d.ID, d.PackageDir)
	if err != nil {
		m.enforcer.RemoveGrants(d.ID)
		return err
	}

	surface := m.enforcer.Restrict(d.ID, m.surface.
		With(accessorServiceInfo, sandbox.ValueFunc(d.Info())).
		With(accessorConfig, sandbox.ValueFunc(d.Config)))

	batch := m.registry.NewBatch(d.ID)
	if err := ns.Run(ctx, d.Entrypoint, source, surface, batch); err != nil {
		batch.Discard()
		ns.Close()
		m.enforcer.RemoveGrants(d.ID)
		return oops.In("lifecycle").
			With("package", d.DisplayName()).
			With("package_dir", d.PackageDir).
			Wrap(err)
	}

	batch.Commit()
	d.Locals = ns
	d.batch = batch
	return nil
}

// Unload forgets the package id. Unknown ids fail with PACKAGE_NOT_FOUND.
//
// Services the package registered stay in the registry and stay callable;
// the package's namespace is kept until Close when it backs any of them.
func (m *Manager) Unload(_ context.Context, id string) error {
	m.mu.Lock()
	d, ok := m.packages[id]
	if !ok {
		m.mu.Unlock()
		return oops.In("lifecycle").Code(errcode.PackageNotFound).
			With("id", id).
			Errorf("package %s not found", id)
	}
	delete(m.packages, id)
	backsServices := d.Services() > 0
	if backsServices {
		m.retained = append(m.retained, d.Locals)
	}
	m.mu.Unlock()

	m.search.Remove(d.PackageDir)
	m.enforcer.RemoveGrants(id)
	if !backsServices {
		d.Locals.Close()
	}

	m.logger.Info("unloaded package", "package", d.DisplayName(), "id", id)
	return nil
}

// Get returns the descriptor of a loaded package.
func (m *Manager) Get(id string) (*Descriptor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.packages[id]
	return d, ok
}

// Packages returns the loaded packages ordered by id, which is load order.
func (m *Manager) Packages() []*Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Descriptor, 0, len(m.packages))
	for _, d := range m.packages {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b *Descriptor) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of loaded packages.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.packages)
}

// SearchPath returns the visible package directories, most recent first.
func (m *Manager) SearchPath() []string {
	return m.search.Dirs()
}

// Enforcer returns the grant enforcer.
func (m *Manager) Enforcer() *capability.Enforcer {
	return m.enforcer
}

// Discover returns the subdirectories of root that hold a descriptor,
// sorted by name. A missing root yields no packages.
func (m *Manager) Discover(_ context.Context, root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oops.In("lifecycle").With("root", root).Wrapf(err, "read packages directory")
	}

	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, DescriptorFile)); err != nil {
			m.logger.Warn("skipping directory without descriptor", "dir", dir)
			continue
		}
		dirs = append(dirs, dir)
	}
	return dirs, nil
}

// LoadAll loads every package under root.
//
// Failures are logged and skipped so one broken package does not keep the
// others from loading. Callers that need strict loading use Discover and
// Load.
func (m *Manager) LoadAll(ctx context.Context, root string) ([]*Descriptor, error) {
	dirs, err := m.Discover(ctx, root)
	if err != nil {
		return nil, err
	}

	var loaded []*Descriptor
	for _, dir := range dirs {
		d, err := m.Load(ctx, dir)
		if err != nil {
			errutil.LogError(m.logger, "failed to load package", err, "dir", dir)
			continue
		}
		loaded = append(loaded, d)
	}
	return loaded, nil
}

// Close forgets every package and closes all namespaces, including those
// retained for services of unloaded packages. Later loads fail with
// ENGINE_CLOSED.
func (m *Manager) Close(_ context.Context) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	m.mu.Lock()
	packages := m.packages
	retained := m.retained
	m.packages = make(map[string]*Descriptor)
	m.retained = nil
	m.closed = true
	m.mu.Unlock()

	for id, d := range packages {
		m.enforcer.RemoveGrants(id)
		d.Locals.Close()
	}
	for _, ns := range retained {
		ns.Close()
	}
	m.search.Clear()
	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func closedError() error {
	return oops.In("lifecycle").Code(errcode.EngineClosed).Errorf("package manager is closed")
}
