// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package sandbox

import (
	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/ioengine/ioengine/internal/errcode"
	"github.com/ioengine/ioengine/internal/registry"
)

const hostErrorType = "ioengine.error"

// RaiseHostError raises err as a Lua error. The error value is a userdata
// that prints as err's message, so Lua code may pcall and inspect it, and
// the execution that fails because of it reports err itself as the cause.
func RaiseHostError(L *lua.LState, err error) {
	mt := L.NewTypeMetatable(hostErrorType)
	if mt.RawGetString("__tostring") == lua.LNil {
		L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
			if e, ok := L.CheckUserData(1).Value.(error); ok {
				L.Push(lua.LString(e.Error()))
				return 1
			}
			L.Push(lua.LString(hostErrorType))
			return 1
		}))
	}

	ud := L.NewUserData()
	ud.Value = err
	L.SetMetatable(ud, mt)
	L.Error(ud, 1)
}

// raisedError extracts an error raised with RaiseHostError.
func raisedError(lv lua.LValue) error {
	ud, ok := lv.(*lua.LUserData)
	if !ok {
		return nil
	}
	err, _ := ud.Value.(error)
	return err
}

// Register backs api.register. Accepted forms:
//
//	api.register{type = "service", name = "echo", run = fn}
//	api.register("service", {name = "echo", run = fn})
//	api.register(userdata) -- a host value wrapping a map or struct
//
// The kind is the first string argument or else the payload's type
// attribute. Registrations go to the registrar of the running namespace.
func Register(L *lua.LState) int {
	ns := namespaceOf(L)
	if ns == nil || ns.registrar == nil {
		RaiseHostError(L, oops.In("sandbox").Code(errcode.Execution).
			Errorf("register called outside of an execution"))
		return 0
	}

	kind, payload, shapeErr := ns.registration(L)
	if shapeErr != nil && (kind == "" || kind == registry.KindService) {
		RaiseHostError(L, shapeErr)
		return 0
	}
	// An unknown kind is rejected before the payload is inspected.
	if err := ns.registrar.Register(kind, payload); err != nil {
		RaiseHostError(L, err)
	}
	return 0
}

func (ns *Namespace) registration(L *lua.LState) (string, registry.Payload, error) {
	arg := L.Get(1)
	kind := ""
	if s, ok := arg.(lua.LString); ok {
		kind = string(s)
		arg = L.Get(2)
	}

	var payload registry.Payload
	switch v := arg.(type) {
	case *lua.LTable:
		payload = registry.Map(ns.tableToMap(v, map[*lua.LTable]bool{v: true}))
	case *lua.LUserData:
		p, err := registry.PayloadOf(v.Value)
		if err != nil {
			return kind, nil, err
		}
		payload = p
	default:
		return kind, nil, oops.In("sandbox").Code(errcode.UnsupportedAPI).
			With("type", arg.Type().String()).
			Errorf("cannot register a %s", arg.Type())
	}

	if kind == "" {
		kind = registry.KindOf(payload)
	}
	return kind, payload, nil
}
