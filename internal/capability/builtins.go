// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package capability

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/oklog/ulid/v2"
	lua "github.com/yuin/gopher-lua"
)

// MessageSink receives showMessage notifications.
type MessageSink func(text string)

// WriterSink returns a sink printing one line per message to w.
func WriterSink(w io.Writer) MessageSink {
	return func(text string) {
		//nolint:errcheck // notification output is best effort
		fmt.Fprintln(w, text)
	}
}

// ShowMessage forwards its argument, converted with tostring semantics, to sink.
func ShowMessage(sink MessageSink) lua.LGFunction {
	return func(L *lua.LState) int {
		sink(L.ToStringMeta(L.Get(1)).String())
		return 0
	}
}

// Log writes log(level, message) to logger. originOf names the calling
// namespace for the "origin" attribute.
func Log(logger *slog.Logger, originOf func(*lua.LState) string) lua.LGFunction {
	return func(L *lua.LState) int {
		level := L.CheckString(1)
		message := L.CheckString(2)

		l := logger.With("origin", originOf(L))
		switch level {
		case "debug":
			l.Debug(message)
		case "warn":
			l.Warn(message)
		case "error":
			l.Error(message)
		default:
			l.Info(message)
		}
		return 0
	}
}

// NewRequestID returns a fresh ULID string.
func NewRequestID() lua.LGFunction {
	return func(L *lua.LState) int {
		L.Push(lua.LString(ulid.Make().String()))
		return 1
	}
}
