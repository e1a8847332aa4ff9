// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package sandbox

import (
	"context"
	"errors"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/ioengine/ioengine/internal/capability"
	"github.com/ioengine/ioengine/internal/errcode"
	"github.com/ioengine/ioengine/internal/registry"
)

// namespaceKey stores the owning *Namespace in the Lua registry table.
const namespaceKey = "ioengine.namespace"

// Namespace is one isolated Lua state. All access to the state is
// serialized by the namespace's mutex, including calls into functions the
// namespace defined.
type Namespace struct {
	mu        sync.Mutex
	name      string
	state     *lua.LState
	cache     *Cache
	registrar registry.Registrar
	closed    bool
}

func newNamespace(name string, L *lua.LState, cache *Cache) *Namespace {
	ns := &Namespace{name: name, state: L, cache: cache}
	ud := L.NewUserData()
	ud.Value = ns
	L.SetField(L.Get(lua.RegistryIndex), namespaceKey, ud)
	return ns
}

// namespaceOf returns the namespace owning L, or nil for foreign states.
func namespaceOf(L *lua.LState) *Namespace {
	ud, ok := L.GetField(L.Get(lua.RegistryIndex), namespaceKey).(*lua.LUserData)
	if !ok {
		return nil
	}
	ns, _ := ud.Value.(*Namespace)
	return ns
}

// NameOf returns the name of the namespace owning L, or "" for foreign
// states.
func NameOf(L *lua.LState) string {
	if ns := namespaceOf(L); ns != nil {
		return ns.name
	}
	return ""
}

// Name returns the namespace name (package id or execution id).
func (ns *Namespace) Name() string {
	return ns.name
}

// Run binds surface to the api global and evaluates source in the namespace.
// Registrations made by the code go to registrar, both during Run and in
// later calls of functions defined here.
//
// A raised fault fails with EXECUTION_ERROR wrapping it. When the fault is an
// error returned by a host function, that error is the wrapped cause and its
// code is the one reported.
func (ns *Namespace) Run(ctx context.Context, chunk, source string, surface *capability.Surface, registrar registry.Registrar) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if ns.closed {
		return ns.closedError()
	}

	proto, err := ns.cache.Compile(chunk, source)
	if err != nil {
		return oops.In("sandbox").With("namespace", ns.name).Wrap(err)
	}

	ns.registrar = registrar
	surface.Install(ns.state)

	defer ns.bind(ctx)()
	if err := ns.state.CallByParam(lua.P{
		Fn:      ns.state.NewFunctionFromProto(proto),
		NRet:    0,
		Protect: true,
	}); err != nil {
		return ns.executionError(ctx, chunk, err)
	}
	return nil
}

// Lookup returns the Go form of the global name.
func (ns *Namespace) Lookup(name string) (any, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if ns.closed {
		return nil, ns.closedError()
	}
	return ns.toGo(ns.state.GetGlobal(name)), nil
}

// Close releases the Lua state. Operations bound to the namespace fail with
// NAMESPACE_CLOSED afterwards. Close is idempotent.
func (ns *Namespace) Close() {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if ns.closed {
		return
	}
	ns.closed = true
	ns.registrar = nil
	ns.state.Close()
}

// IsClosed reports whether Close has been called.
func (ns *Namespace) IsClosed() bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.closed
}

// call invokes fn with args and returns its results converted to Go.
func (ns *Namespace) call(ctx context.Context, fn *lua.LFunction, args []any) ([]any, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if ns.closed {
		return nil, ns.closedError()
	}

	L := ns.state
	defer ns.bind(ctx)()

	top := L.GetTop()
	L.Push(fn)
	for _, arg := range args {
		L.Push(ToLua(L, arg))
	}
	if err := L.PCall(len(args), lua.MultRet, nil); err != nil {
		return nil, ns.executionError(ctx, fn.String(), err)
	}

	n := L.GetTop() - top
	if n <= 0 {
		return nil, nil
	}
	results := make([]any, n)
	for i := range n {
		results[i] = ns.toGo(L.Get(top + i + 1))
	}
	L.Pop(n)
	return results, nil
}

// bind attaches ctx to the state for the duration of a call and returns the
// function detaching it. Contexts that can never be canceled are not
// attached, which keeps the interpreter on its fast loop.
func (ns *Namespace) bind(ctx context.Context) func() {
	if ctx == nil || ctx.Done() == nil {
		return func() {}
	}
	ns.state.SetContext(ctx)
	return func() { ns.state.RemoveContext() }
}

func (ns *Namespace) closedError() error {
	return oops.In("sandbox").Code(errcode.NamespaceClosed).
		With("namespace", ns.name).
		Errorf("namespace %s is closed", ns.name)
}

func (ns *Namespace) executionError(ctx context.Context, chunk string, err error) error {
	b := oops.In("sandbox").Code(errcode.Execution).
		With("namespace", ns.name).
		With("chunk", chunk)

	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		if apiErr.StackTrace != "" {
			b = b.With("lua_stack", apiErr.StackTrace)
		}
		if cause := raisedError(apiErr.Object); cause != nil {
			return b.Wrapf(cause, "execute %s", chunk)
		}
	}
	if ctx != nil && ctx.Err() != nil {
		return b.With("lua_error", err.Error()).Wrapf(ctx.Err(), "execute %s", chunk)
	}
	return b.Wrapf(err, "execute %s", chunk)
}
