// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

package sandbox

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/ioengine/ioengine/internal/registry"
)

var _ registry.Operation = (*luaOperation)(nil)

// luaOperation is a Lua function exposed to the host. Calls run inside the
// defining namespace, under its lock.
type luaOperation struct {
	ns *Namespace
	fn *lua.LFunction
}

// Call runs the function with args converted to Lua and returns its results.
func (o *luaOperation) Call(ctx context.Context, args ...any) ([]any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return o.ns.call(ctx, o.fn, args)
}

// Namespace returns the namespace the function belongs to.
func (o *luaOperation) Namespace() *Namespace {
	return o.ns
}

func (o *luaOperation) String() string {
	return fmt.Sprintf("lua function (%s)", o.ns.name)
}
