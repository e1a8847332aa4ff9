// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

// Package errcode defines the machine-readable codes attached to engine errors.
package errcode

// Error codes carried by oops errors returned from the engine.
const (
	// Descriptor marks a missing or malformed package descriptor or entry point.
	Descriptor = "DESCRIPTOR_ERROR"
	// Execution marks extension code that raised during evaluation.
	Execution = "EXECUTION_ERROR"
	// UnsupportedAPI marks a registration payload that is not a mapping shape.
	UnsupportedAPI = "UNSUPPORTED_API"
	// UnsupportedOperation marks a register call whose type is not "service".
	UnsupportedOperation = "UNSUPPORTED_OPERATION"
	// PackageNotFound marks an unload of an identifier not in the package table.
	PackageNotFound = "PACKAGE_NOT_FOUND"

	OperationNotFound    = "OPERATION_NOT_FOUND"
	OperationNotCallable = "OPERATION_NOT_CALLABLE"
	NamespaceClosed      = "NAMESPACE_CLOSED"
	EngineClosed         = "ENGINE_CLOSED"
)
