// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

package capability

import (
	"slices"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/ioengine/ioengine/internal/errcode"
)

// DefaultGrants is applied to packages whose descriptor lists no capabilities.
var DefaultGrants = []string{"**"}

type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer holds the capability grants of loaded packages.
//
// Grants are glob patterns with '.' as the segment separator: '*' matches a
// single segment, '**' matches any number of segments. The surface function
// "showMessage" is checked as "api.showMessage", so "api.*" grants the whole
// surface and "api.log" grants only logging.
//
// Enforcer is safe for concurrent use.
type Enforcer struct {
	mu     sync.RWMutex
	grants map[string][]compiledGrant // package id -> grants
}

// NewEnforcer creates an empty enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{grants: make(map[string][]compiledGrant)}
}

// SetGrants replaces the grants of the package id. All patterns are
// compiled before any state changes; an invalid pattern leaves the enforcer
// untouched.
func (e *Enforcer) SetGrants(id string, patterns []string) error {
	if id == "" {
		return oops.In("capability").Code(errcode.Descriptor).Errorf("package id cannot be empty")
	}

	compiled := make([]compiledGrant, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			return oops.In("capability").Code(errcode.Descriptor).
				With("index", i).
				Errorf("capability %d: empty pattern", i)
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return oops.In("capability").Code(errcode.Descriptor).
				With("index", i).
				With("pattern", pattern).
				Wrapf(err, "capability %d (%q)", i, pattern)
		}
		compiled[i] = compiledGrant{pattern: pattern, glob: g}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}
	e.grants[id] = compiled
	return nil
}

// RemoveGrants drops the grants of id. Unknown ids are ignored.
func (e *Enforcer) RemoveGrants(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, id)
}

// IsRegistered reports whether id has grants.
func (e *Enforcer) IsRegistered(id string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.grants[id]
	return ok
}

// Grants returns a copy of the patterns granted to id, or nil.
func (e *Enforcer) Grants(id string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	grants, ok := e.grants[id]
	if !ok {
		return nil
	}
	patterns := make([]string, len(grants))
	for i, g := range grants {
		patterns[i] = g.pattern
	}
	return patterns
}

// Packages returns the ids holding grants, sorted.
func (e *Enforcer) Packages() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.grants))
	for id := range e.grants {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Check reports whether id holds capability. Unknown ids and empty
// capabilities are denied.
func (e *Enforcer) Check(id, capability string) bool {
	if capability == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, grant := range e.grants[id] {
		if grant.glob.Match(capability) {
			return true
		}
	}
	return false
}

// Restrict returns the part of s that id is allowed to call.
func (e *Enforcer) Restrict(id string, s *Surface) *Surface {
	return s.Restrict(func(name string) bool {
		return e.Check(id, Global+"."+name)
	})
}
