/*
Copyright 2026 Flant JSC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package ctlerrors defines the control-plane error taxonomy. Every error
// surfaced by the ledger and the per-kind services wraps one of these
// sentinels, so adapters can map outcomes to their wire formats with
// errors.Is alone.
package ctlerrors

import (
	"errors"
	"fmt"
)

// ErrBusy: another operation already holds the resource's sequencer.
// The caller may retry.
var ErrBusy = errors.New("resource busy")

// ErrNotFound: the resource does not exist. Not retried automatically.
var ErrNotFound = errors.New("resource not found")

// ErrAlreadyExists: a non-equivalent resource with the same id exists.
var ErrAlreadyExists = errors.New("resource already exists")

// ErrEngineFailed: the storage-engine data-plane rejected or failed the
// operation. The operation has been cleared and the record reverted.
var ErrEngineFailed = errors.New("engine operation failed")

// ErrStoreFailed: the persistent store is unavailable. The operation is not
// considered started or committed; the caller retries the whole step.
var ErrStoreFailed = errors.New("spec store failed")

// ErrInvalidOperation: the operation is not valid for the resource's current
// status. Rejected before the operation is started.
var ErrInvalidOperation = errors.New("invalid operation")

func WrapErrorf(err error, format string, a ...any) error {
	return fmt.Errorf("%w: %w", err, fmt.Errorf(format, a...))
}

func ErrBusyf(format string, a ...any) error {
	return WrapErrorf(ErrBusy, format, a...)
}

func ErrNotFoundf(format string, a ...any) error {
	return WrapErrorf(ErrNotFound, format, a...)
}

func ErrAlreadyExistsf(format string, a ...any) error {
	return WrapErrorf(ErrAlreadyExists, format, a...)
}

func ErrEngineFailedf(format string, a ...any) error {
	return WrapErrorf(ErrEngineFailed, format, a...)
}

func ErrStoreFailedf(format string, a ...any) error {
	return WrapErrorf(ErrStoreFailed, format, a...)
}

func ErrInvalidOperationf(format string, a ...any) error {
	return WrapErrorf(ErrInvalidOperation, format, a...)
}
