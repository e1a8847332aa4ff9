// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package sandbox

import (
	"context"
	"math"
	"reflect"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/ioengine/ioengine/internal/registry"
)

// toGo converts a Lua value to Go. Tables become []any when they are
// sequences and map[string]any otherwise. Functions become operations bound
// to ns. A table reached again while it is being converted becomes nil.
func (ns *Namespace) toGo(lv lua.LValue) any {
	return ns.toGoPath(lv, make(map[*lua.LTable]bool))
}

func (ns *Namespace) toGoPath(lv lua.LValue, path map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case nil, *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return number(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if path[v] {
			return nil
		}
		path[v] = true
		defer delete(path, v)
		if arr, ok := ns.sequence(v, path); ok {
			return arr
		}
		return ns.tableToMap(v, path)
	case *lua.LFunction:
		return &luaOperation{ns: ns, fn: v}
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

func number(n lua.LNumber) any {
	f := float64(n)
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f)
	}
	return f
}

// sequence converts t to a slice when its keys are exactly 1..n.
func (ns *Namespace) sequence(t *lua.LTable, path map[*lua.LTable]bool) ([]any, bool) {
	n := t.Len()
	if n == 0 {
		return nil, false
	}
	count := 0
	isSeq := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if kn, ok := k.(lua.LNumber); !ok || float64(kn) != math.Trunc(float64(kn)) || int(kn) < 1 || int(kn) > n {
			isSeq = false
		}
	})
	if !isSeq || count != n {
		return nil, false
	}

	arr := make([]any, n)
	for i := 1; i <= n; i++ {
		arr[i-1] = ns.toGoPath(t.RawGetInt(i), path)
	}
	return arr, true
}

func (ns *Namespace) tableToMap(t *lua.LTable, path map[*lua.LTable]bool) map[string]any {
	m := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = strconv.FormatFloat(float64(kv), 'f', -1, 64)
		default:
			key = k.String()
		}
		m[key] = ns.toGoPath(v, path)
	})
	return m
}

// ToLua converts a Go value into a fresh Lua value owned by L. Operations
// become Lua functions; an operation defined in L itself is returned as the
// original function.
func ToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case error:
		return lua.LString(val.Error())
	case *luaOperation:
		if namespaceOf(L) == val.ns {
			return val.fn
		}
		return operationFunc(L, val)
	case registry.Operation:
		return operationFunc(L, val)
	case *registry.Service:
		return mapToTable(L, val.Fields())
	case map[string]any:
		return mapToTable(L, val)
	case []any:
		t := L.CreateTable(len(val), 0)
		for i, item := range val {
			t.RawSetInt(i+1, ToLua(L, item))
		}
		return t
	default:
		return reflectToLua(L, v)
	}
}

func mapToTable(L *lua.LState, m map[string]any) *lua.LTable {
	t := L.CreateTable(0, len(m))
	for k, v := range m {
		t.RawSetString(k, ToLua(L, v))
	}
	return t
}

func reflectToLua(L *lua.LState, v any) lua.LValue {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return lua.LNumber(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float())
	case reflect.String:
		return lua.LString(rv.String())
	case reflect.Bool:
		return lua.LBool(rv.Bool())
	case reflect.Pointer:
		if rv.IsNil() {
			return lua.LNil
		}
		if rv.Elem().Kind() == reflect.Struct {
			return structToTable(L, rv.Elem())
		}
		return ToLua(L, rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		t := L.CreateTable(rv.Len(), 0)
		for i := range rv.Len() {
			t.RawSetInt(i+1, ToLua(L, rv.Index(i).Interface()))
		}
		return t
	case reflect.Map:
		t := L.CreateTable(0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			t.RawSet(ToLua(L, iter.Key().Interface()), ToLua(L, iter.Value().Interface()))
		}
		return t
	case reflect.Struct:
		return structToTable(L, rv)
	default:
		ud := L.NewUserData()
		ud.Value = v
		return ud
	}
}

// structToTable uses the json tag name when present, else the field name.
func structToTable(L *lua.LState, rv reflect.Value) *lua.LTable {
	t := L.NewTable()
	rt := rv.Type()
	for i := range rt.NumField() {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		if tag, ok := field.Tag.Lookup("json"); ok {
			tag, _, _ = strings.Cut(tag, ",")
			if tag == "-" {
				continue
			}
			if tag != "" {
				name = tag
			}
		}
		t.RawSetString(name, ToLua(L, rv.Field(i).Interface()))
	}
	return t
}

// operationFunc exposes a host or foreign operation to Lua. Errors are
// raised with RaiseHostError so the caller's execution reports them.
func operationFunc(L *lua.LState, op registry.Operation) *lua.LFunction {
	return L.NewFunction(func(L *lua.LState) int {
		args := make([]any, L.GetTop())
		ns := namespaceOf(L)
		for i := range args {
			if ns != nil {
				args[i] = ns.toGo(L.Get(i + 1))
			} else {
				args[i] = L.Get(i + 1)
			}
		}

		ctx := L.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		results, err := op.Call(ctx, args...)
		if err != nil {
			RaiseHostError(L, err)
			return 0
		}
		for _, r := range results {
			L.Push(ToLua(L, r))
		}
		return len(results)
	})
}

// ValueFunc returns a host function that hands Lua a fresh copy of v on
// every call, so code mutating the result never changes v.
func ValueFunc(v any) lua.LGFunction {
	return func(L *lua.LState) int {
		L.Push(ToLua(L, v))
		return 1
	}
}
