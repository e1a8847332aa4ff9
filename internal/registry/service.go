// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

package registry

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/samber/oops"

	"github.com/ioengine/ioengine/internal/errcode"
)

// Operation is a callable service attribute.
type Operation interface {
	Call(ctx context.Context, args ...any) ([]any, error)
}

// OperationFunc adapts a Go function to Operation.
type OperationFunc func(ctx context.Context, args ...any) ([]any, error)

// Call invokes f.
func (f OperationFunc) Call(ctx context.Context, args ...any) ([]any, error) {
	return f(ctx, args...)
}

// Service is one registered service record. It is immutable once created.
type Service struct {
	fields map[string]any
	keys   []string
	origin string
}

func newService(fields map[string]any, origin string) *Service {
	return &Service{
		fields: fields,
		keys:   slices.Sorted(maps.Keys(fields)),
		origin: origin,
	}
}

// Get returns the attribute stored under key.
func (s *Service) Get(key string) (any, bool) {
	v, ok := s.fields[key]
	return v, ok
}

// Name returns the "name" attribute, or "" when absent or not a string.
func (s *Service) Name() string {
	name, _ := s.fields["name"].(string)
	return name
}

// Keys returns the attribute names in sorted order.
func (s *Service) Keys() []string {
	return slices.Clone(s.keys)
}

// Fields returns a shallow copy of the record.
func (s *Service) Fields() map[string]any {
	return maps.Clone(s.fields)
}

// Origin returns the identifier of the package that registered the service,
// the execution id for ad-hoc code, or "" for host registrations.
func (s *Service) Origin() string {
	return s.origin
}

// Operation returns the callable attribute named op.
func (s *Service) Operation(op string) (Operation, error) {
	v, ok := s.fields[op]
	if !ok {
		return nil, oops.In("registry").Code(errcode.OperationNotFound).
			With("service", s.Name()).
			With("operation", op).
			Errorf("service %q has no attribute %q", s.Name(), op)
	}
	fn, ok := v.(Operation)
	if !ok {
		return nil, oops.In("registry").Code(errcode.OperationNotCallable).
			With("service", s.Name()).
			With("operation", op).
			Errorf("attribute %q of service %q is not callable (%T)", op, s.Name(), v)
	}
	return fn, nil
}

// Call invokes the operation op with args.
func (s *Service) Call(ctx context.Context, op string, args ...any) ([]any, error) {
	fn, err := s.Operation(op)
	if err != nil {
		return nil, err
	}
	return fn.Call(ctx, args...)
}

// String renders the record for diagnostics.
func (s *Service) String() string {
	parts := make([]string, 0, len(s.keys))
	for _, k := range s.keys {
		switch v := s.fields[k].(type) {
		case Operation:
			parts = append(parts, k+"=<operation>")
		case string:
			parts = append(parts, fmt.Sprintf("%s=%q", k, v))
		default:
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
