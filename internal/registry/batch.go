// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

package registry

import (
	"sync"

	"github.com/samber/oops"

	"github.com/ioengine/ioengine/internal/errcode"
)

type batchState int

const (
	batchOpen batchState = iota
	batchCommitted
	batchDiscarded
)

// Batch stages the registrations of one execution. Commit publishes them to
// the parent registry in a single append; Discard drops them.
//
// Once committed, further registrations go straight to the parent so code
// that registers later (from inside a service operation) still lands in the
// registry with the right origin.
type Batch struct {
	parent  *Registry
	origin  string
	mu      sync.Mutex
	pending []*Service
	state   batchState
	total   int
}

// Register dispatches by kind like Registry.Register.
func (b *Batch) Register(kind string, p Payload) error {
	if err := CheckKind(kind); err != nil {
		return err
	}
	return b.RegisterService(p)
}

// RegisterService stages p, or appends it directly once the batch is committed.
func (b *Batch) RegisterService(p Payload) error {
	fields, err := normalize(p)
	if err != nil {
		return err
	}
	svc := newService(fields, b.origin)

	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case batchCommitted:
		b.parent.appendAll([]*Service{svc})
		b.total++
	case batchDiscarded:
		return oops.In("registry").Code(errcode.NamespaceClosed).
			With("origin", b.origin).
			Errorf("registration after the owning execution failed")
	default:
		b.pending = append(b.pending, svc)
	}
	return nil
}

// Len returns the number of staged records.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Commit appends every staged record to the parent and returns how many
// were published. Calling Commit twice publishes nothing the second time.
func (b *Batch) Commit() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != batchOpen {
		return 0
	}
	n := len(b.pending)
	if n > 0 {
		b.parent.appendAll(b.pending)
	}
	b.pending = nil
	b.state = batchCommitted
	b.total += n
	return n
}

// Published returns how many records this batch has put into the registry,
// including those appended after Commit.
func (b *Batch) Published() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Discard drops every staged record.
func (b *Batch) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == batchOpen {
		b.pending = nil
		b.state = batchDiscarded
	}
}
