// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

package ioengine

import (
	"github.com/samber/oops"

	"github.com/ioengine/ioengine/internal/errcode"
	"github.com/ioengine/ioengine/pkg/errutil"
)

// Codes carried by the errors the engine returns. Use HasCode to classify.
const (
	CodeDescriptor           = errcode.Descriptor
	CodeExecution            = errcode.Execution
	CodeUnsupportedAPI       = errcode.UnsupportedAPI
	CodeUnsupportedOperation = errcode.UnsupportedOperation
	CodePackageNotFound      = errcode.PackageNotFound
	CodeOperationNotFound    = errcode.OperationNotFound
	CodeOperationNotCallable = errcode.OperationNotCallable
	CodeNamespaceClosed      = errcode.NamespaceClosed
	CodeEngineClosed         = errcode.EngineClosed
)

// HasCode reports whether err carries code. When a host error raised inside
// extension code caused the failure, the host error's code is reported.
func HasCode(err error, code string) bool {
	return errutil.HasCode(err, code)
}

// ErrorCode returns the code carried by err, or "".
func ErrorCode(err error) string {
	return errutil.Code(err)
}

func closedError() error {
	return oops.In("engine").Code(errcode.EngineClosed).Errorf("engine is closed")
}
