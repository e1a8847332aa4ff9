// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

package lifecycle

import (
	"slices"
	"sync"
)

// SearchPath is the ordered list of package directories currently visible
// to the engine. Each engine has its own; nothing here touches process
// state. Module resolution itself is scoped per namespace (see
// sandbox.ModulePath), so the list is bookkeeping that load and unload keep
// exact.
//
// SearchPath is safe for concurrent use.
type SearchPath struct {
	mu   sync.Mutex
	dirs []string
}

// Prepend puts dir at the front.
func (p *SearchPath) Prepend(dir string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirs = slices.Insert(p.dirs, 0, dir)
}

// Remove deletes the first occurrence of dir and reports whether one existed.
func (p *SearchPath) Remove(dir string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := slices.Index(p.dirs, dir)
	if i < 0 {
		return false
	}
	p.dirs = slices.Delete(p.dirs, i, i+1)
	return true
}

// Contains reports whether dir is on the path.
func (p *SearchPath) Contains(dir string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Contains(p.dirs, dir)
}

// Dirs returns a copy of the entries, front first.
func (p *SearchPath) Dirs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.dirs)
}

// Len returns the number of entries.
func (p *SearchPath) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dirs)
}

// Clear drops every entry.
func (p *SearchPath) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirs = nil
}
