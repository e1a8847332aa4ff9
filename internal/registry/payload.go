// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

package registry

import (
	"context"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/oops"

	"github.com/ioengine/ioengine/internal/errcode"
)

// PrivateMarker prefixes attribute names that are never exposed in a service record.
const PrivateMarker = "_"

// Payload is one of the accepted registration shapes: Map or Object.
type Payload interface {
	fields() (map[string]any, error)
}

// Map is a registration payload given as a plain mapping.
type Map map[string]any

func (m Map) fields() (map[string]any, error) {
	if m == nil {
		return nil, oops.In("registry").Code(errcode.UnsupportedAPI).Errorf("nil map payload")
	}
	return map[string]any(m), nil
}

// Object is a registration payload given as a struct (or pointer to struct).
// Exported fields become attributes, named by a `service:"name"` tag or by the
// field name with its first letter lowered. Exported methods with the
// OperationFunc signature become callable attributes.
type Object struct {
	Value any
}

var operationFuncType = reflect.TypeOf((*func(context.Context, ...any) ([]any, error))(nil)).Elem()

func (o Object) fields() (map[string]any, error) {
	v := reflect.ValueOf(o.Value)
	if !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil()) {
		return nil, oops.In("registry").Code(errcode.UnsupportedAPI).Errorf("nil object payload")
	}

	out := make(map[string]any)
	for i := 0; i < v.NumMethod(); i++ {
		m := v.Type().Method(i)
		if mv := v.Method(i); mv.Type().ConvertibleTo(operationFuncType) {
			fn := mv.Convert(operationFuncType).Interface().(func(context.Context, ...any) ([]any, error))
			out[attributeName(m.Name)] = OperationFunc(fn)
		}
	}

	s := v
	if s.Kind() == reflect.Pointer {
		s = s.Elem()
	}
	if s.Kind() != reflect.Struct {
		return nil, oops.In("registry").Code(errcode.UnsupportedAPI).
			With("kind", s.Kind().String()).
			Errorf("object payload must be a struct, got %s", s.Kind())
	}

	t := s.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := attributeName(f.Name)
		if tag, ok := f.Tag.Lookup("service"); ok {
			if tag == "-" {
				continue
			}
			if tag != "" {
				name = tag
			}
		}
		out[name] = s.Field(i).Interface()
	}
	return out, nil
}

// PayloadOf classifies a host value as a registration payload.
// Anything that is neither a string-keyed mapping nor a struct fails with
// UNSUPPORTED_API.
func PayloadOf(v any) (Payload, error) {
	switch p := v.(type) {
	case Payload:
		return p, nil
	case map[string]any:
		return Map(p), nil
	case nil:
		return nil, oops.In("registry").Code(errcode.UnsupportedAPI).Errorf("payload is nil")
	}

	rv := reflect.ValueOf(v)
	switch {
	case rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String:
		m := make(Map, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return m, nil
	case rv.Kind() == reflect.Struct,
		rv.Kind() == reflect.Pointer && rv.Type().Elem().Kind() == reflect.Struct:
		return Object{Value: v}, nil
	}

	return nil, oops.In("registry").Code(errcode.UnsupportedAPI).
		With("type", rv.Type().String()).
		Errorf("unsupported payload type %s", rv.Type())
}

// normalize strips private attributes and turns plain operation funcs into
// Operation values.
func normalize(p Payload) (map[string]any, error) {
	if p == nil {
		return nil, oops.In("registry").Code(errcode.UnsupportedAPI).Errorf("payload is nil")
	}
	raw, err := p.fields()
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(raw))
	for k, v := range raw {
		if strings.HasPrefix(k, PrivateMarker) {
			continue
		}
		if fn, ok := v.(func(context.Context, ...any) ([]any, error)); ok {
			v = OperationFunc(fn)
		}
		out[k] = v
	}
	return out, nil
}

func attributeName(field string) string {
	r, size := utf8.DecodeRuneInString(field)
	if r == utf8.RuneError {
		return field
	}
	return string(unicode.ToLower(r)) + field[size:]
}

// KindOf returns the payload's "type" attribute when it is a string.
func KindOf(p Payload) string {
	if p == nil {
		return ""
	}
	raw, err := p.fields()
	if err != nil {
		return ""
	}
	kind, _ := raw["type"].(string)
	return kind
}
