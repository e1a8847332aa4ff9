// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

// Package registry stores the services registered by loaded packages and
// ad-hoc scripts.
package registry

import (
	"slices"
	"sync"

	"github.com/samber/oops"

	"github.com/ioengine/ioengine/internal/errcode"
)

// KindService is the only registration kind the registry understands.
const KindService = "service"

// Registrar accepts registrations. Both Registry and Batch implement it.
type Registrar interface {
	// Register dispatches a registration by kind.
	Register(kind string, p Payload) error
}

// Compile-time interface checks.
var (
	_ Registrar = (*Registry)(nil)
	_ Registrar = (*Batch)(nil)
)

// Registry is an insertion-ordered, append-only collection of services.
//
// Registry is safe for concurrent use. Readers only ever observe fully
// formed records.
type Registry struct {
	mu       sync.RWMutex
	services []*Service
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{}
}

// RegisterService normalizes p and appends it as one record.
func (r *Registry) RegisterService(p Payload) error {
	return r.registerFrom("", p)
}

// Register forwards kind "service" to RegisterService and rejects anything else.
func (r *Registry) Register(kind string, p Payload) error {
	if err := CheckKind(kind); err != nil {
		return err
	}
	return r.RegisterService(p)
}

func (r *Registry) registerFrom(origin string, p Payload) error {
	fields, err := normalize(p)
	if err != nil {
		return err
	}
	r.appendAll([]*Service{newService(fields, origin)})
	return nil
}

func (r *Registry) appendAll(svcs []*Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = append(r.services, svcs...)
}

// Services returns a snapshot of all records in registration order.
func (r *Registry) Services() []*Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.services)
}

// At returns the record at position i.
func (r *Registry) At(i int) (*Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.services) {
		return nil, false
	}
	return r.services[i], true
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// Clear drops every record. Only engine teardown calls it.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = nil
}

// NewBatch starts a staged set of registrations attributed to origin.
func (r *Registry) NewBatch(origin string) *Batch {
	return &Batch{parent: r, origin: origin}
}

// CheckKind fails with UNSUPPORTED_OPERATION for any kind but "service".
func CheckKind(kind string) error {
	if kind != KindService {
		return oops.In("registry").Code(errcode.UnsupportedOperation).
			With("type", kind).
			Errorf("registration type %q is not supported", kind)
	}
	return nil
}
