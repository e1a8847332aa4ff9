// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

// Package errutil inspects and logs the oops errors returned by the engine.
package errutil

import (
	"log/slog"

	"github.com/samber/oops"
)

// Code returns the code of an oops error, or "" for anything else.
// For wrapped oops errors the deepest code wins, which is the code of the
// original fault.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	return err != nil && Code(err) == code
}

// LogError logs err with its code, domain and context when it is an oops
// error, or as a plain error attribute otherwise.
func LogError(logger *slog.Logger, msg string, err error, attrs ...any) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		logger.Error(msg, append(attrs, "error", err)...)
		return
	}

	attrs = append(attrs, "error", oopsErr.Error())
	if code := oopsErr.Code(); code != nil {
		attrs = append(attrs, "code", code)
	}
	if domain := oopsErr.Domain(); domain != "" {
		attrs = append(attrs, "domain", domain)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		attrs = append(attrs, "context", ctx)
	}
	logger.Error(msg, attrs...)
}
