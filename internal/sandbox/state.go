// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

// Package sandbox evaluates extension code in isolated Lua namespaces.
//
// Every namespace owns a fresh gopher-lua state. Nothing from the host or
// from other namespaces is reachable from it except the capability surface
// bound to the "api" global and the Lua modules found in the namespace's own
// module directories.
package sandbox

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

type library struct {
	name string
	fn   lua.LGFunction
}

// defaultLibraries lists the libraries opened in every state.
// package is opened so that require works, but its path is restricted per
// namespace (see ModulePath). os, io and debug stay closed.
func defaultLibraries() []library {
	return []library{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// unsafeBaseFunctions read or evaluate code outside the module resolver.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load"}

// StateFactory creates Lua states and namespaces.
type StateFactory struct {
	libraries  []library
	fullStdlib bool
	cache      *Cache
}

// FactoryOption configures a StateFactory.
type FactoryOption func(*StateFactory)

// WithFullStdlib opens os and io as well and keeps the code loading base
// functions. Only for trusted packages.
func WithFullStdlib() FactoryOption {
	return func(f *StateFactory) {
		f.fullStdlib = true
		f.libraries = append(f.libraries,
			library{lua.OsLibName, lua.OpenOs},
			library{lua.IoLibName, lua.OpenIo},
		)
	}
}

// WithCache shares compiled chunks between namespaces.
func WithCache(c *Cache) FactoryOption {
	return func(f *StateFactory) {
		f.cache = c
	}
}

// NewStateFactory creates a new state factory.
func NewStateFactory(opts ...FactoryOption) *StateFactory {
	f := &StateFactory{libraries: defaultLibraries()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewState creates a fresh Lua state with the factory's libraries opened and
// module resolution limited to dirs.
func (f *StateFactory) NewState(_ context.Context, dirs ...string) (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, oops.In("sandbox").With("library", lib.name).Wrapf(err, "open library %s", lib.name)
		}
	}

	if !f.fullStdlib {
		for _, fn := range unsafeBaseFunctions {
			L.SetGlobal(fn, lua.LNil)
		}
	}

	pkg, ok := L.GetGlobal(lua.LoadLibName).(*lua.LTable)
	if !ok {
		L.Close()
		return nil, oops.In("sandbox").Errorf("package library not available")
	}
	L.SetField(pkg, "path", lua.LString(ModulePath(dirs...)))
	L.SetField(pkg, "cpath", lua.LString(""))

	return L, nil
}

// NewNamespace creates a namespace named name whose require resolves only
// inside dirs.
func (f *StateFactory) NewNamespace(ctx context.Context, name string, dirs ...string) (*Namespace, error) {
	L, err := f.NewState(ctx, dirs...)
	if err != nil {
		return nil, oops.In("sandbox").With("namespace", name).Wrap(err)
	}
	return newNamespace(name, L, f.cache), nil
}

// ModulePath builds a package.path value resolving modules from dirs, in
// order. With no dirs the result is empty and require only finds preloaded
// modules.
func ModulePath(dirs ...string) string {
	patterns := make([]string, 0, 2*len(dirs))
	for _, dir := range dirs {
		patterns = append(patterns,
			filepath.Join(dir, "?.lua"),
			filepath.Join(dir, "?", "init.lua"),
		)
	}
	return strings.Join(patterns, ";")
}
