// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

package sandbox

import (
	"crypto/sha256"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/ioengine/ioengine/internal/errcode"
)

// DefaultCacheSize is the number of compiled chunks kept by default.
const DefaultCacheSize = 128

// Cache keeps compiled chunks keyed by chunk name and source. A compiled
// FunctionProto is immutable and can be instantiated in any number of states.
//
// A nil *Cache is valid and compiles every time.
type Cache struct {
	protos *lru.Cache[[sha256.Size]byte, *lua.FunctionProto]
	hits   atomic.Int64
	misses atomic.Int64
}

// CacheStats is a point-in-time view of cache usage.
type CacheStats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// NewCache creates a cache holding up to size chunks.
func NewCache(size int) (*Cache, error) {
	protos, err := lru.New[[sha256.Size]byte, *lua.FunctionProto](size)
	if err != nil {
		return nil, oops.In("sandbox").With("size", size).Wrapf(err, "create compile cache")
	}
	return &Cache{protos: protos}, nil
}

// Compile returns the compiled form of source. Syntax errors fail with
// EXECUTION_ERROR.
func (c *Cache) Compile(name, source string) (*lua.FunctionProto, error) {
	if c == nil {
		return compile(name, source)
	}

	key := sha256.Sum256([]byte(name + "\x00" + source))
	if proto, ok := c.protos.Get(key); ok {
		c.hits.Add(1)
		return proto, nil
	}
	c.misses.Add(1)

	proto, err := compile(name, source)
	if err != nil {
		return nil, err
	}
	c.protos.Add(key, proto)
	return proto, nil
}

// Stats reports hits, misses and the current number of entries.
func (c *Cache) Stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.protos.Len(),
	}
}

// Purge drops every cached chunk.
func (c *Cache) Purge() {
	if c != nil {
		c.protos.Purge()
	}
}

func compile(name, source string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, oops.In("sandbox").Code(errcode.Execution).
			With("chunk", name).
			With("phase", "parse").
			Wrapf(err, "parse %s", name)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, oops.In("sandbox").Code(errcode.Execution).
			With("chunk", name).
			With("phase", "compile").
			Wrapf(err, "compile %s", name)
	}
	return proto, nil
}
