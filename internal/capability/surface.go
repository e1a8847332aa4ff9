// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

// Package capability defines the host functions that extension code may call
// (the "api" table) and the glob grants that restrict them per package.
package capability

import (
	"maps"
	"slices"

	lua "github.com/yuin/gopher-lua"
)

// Names of the capabilities installed by the engine.
const (
	NameShowMessage    = "showMessage"
	NameRegister       = "register"
	NameLog            = "log"
	NameNewRequestID   = "newRequestId"
	NameGetServiceInfo = "getServiceInfo"
	NameGetConfig      = "getConfig"
)

// Global is the Lua global the surface is bound to.
const Global = "api"

// Surface is an ordered set of named host functions.
//
// A Surface is never mutated after construction: With and Restrict return
// derived copies, so one surface can be shared by every execution.
type Surface struct {
	names []string
	funcs map[string]lua.LGFunction
}

// NewSurface creates an empty surface.
func NewSurface() *Surface {
	return &Surface{funcs: make(map[string]lua.LGFunction)}
}

// With returns a copy of s with fn bound to name. An existing entry of the
// same name is replaced in the copy only.
func (s *Surface) With(name string, fn lua.LGFunction) *Surface {
	out := &Surface{
		names: slices.Clone(s.names),
		funcs: maps.Clone(s.funcs),
	}
	if _, exists := out.funcs[name]; !exists {
		out.names = append(out.names, name)
	}
	out.funcs[name] = fn
	return out
}

// Restrict returns a copy of s keeping only the names allow accepts.
func (s *Surface) Restrict(allow func(name string) bool) *Surface {
	out := NewSurface()
	for _, name := range s.names {
		if allow(name) {
			out.names = append(out.names, name)
			out.funcs[name] = s.funcs[name]
		}
	}
	return out
}

// Names returns the capability names in insertion order.
func (s *Surface) Names() []string {
	return slices.Clone(s.names)
}

// Has reports whether name is part of the surface.
func (s *Surface) Has(name string) bool {
	_, ok := s.funcs[name]
	return ok
}

// Install binds the surface to Global in L as a read-only proxy and returns
// the proxy. The proxy is userdata so rawset cannot reach past __newindex.
// Assigning through it raises an error and its metatable cannot be read or
// replaced from Lua.
func (s *Surface) Install(L *lua.LState) *lua.LUserData {
	impl := L.NewTable()
	for _, name := range s.names {
		L.SetField(impl, name, L.NewFunction(s.funcs[name]))
	}

	mt := L.NewTable()
	L.SetField(mt, "__index", impl)
	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("%s is read-only (cannot assign %q)", Global, L.ToStringMeta(L.Get(2)).String())
		return 0
	}))
	L.SetField(mt, "__metatable", lua.LString("locked"))

	proxy := L.NewUserData()
	proxy.Metatable = mt
	L.SetGlobal(Global, proxy)
	return proxy
}
