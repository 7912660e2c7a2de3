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

package v1alpha1

// OperationState records the single in-flight operation of a spec record.
//
// Result is nil while the outcome of the operation is unknown: the record's
// configuration and status may then be stale relative to the operation in
// progress. A non-nil Result means the outcome is known but not yet folded
// into the record; this state is observed only across a crash, and a commit
// or clear must run before any new operation is accepted.
type OperationState[O any] struct {
	Operation O     `json:"operation"`
	Result    *bool `json:"result,omitempty"`
}

// Transaction is the generic operation-sequencing protocol every spec kind
// implements over its own operation type.
//
// Callers must hold the record's sequencer for the whole
// StartOp→SetOpResult→CommitOp/ClearOp cycle and must persist the record
// after StartOp, after SetOpResult and after CommitOp/ClearOp, so the cycle
// survives a crash at any point.
type Transaction[O any] interface {
	// PendingOp reports whether an operation is in flight.
	PendingOp() bool
	// PendingOperation returns the in-flight operation, if any.
	PendingOperation() (O, bool)
	// OpResult returns the recorded outcome of the in-flight operation.
	// known is false while the outcome has not been recorded.
	OpResult() (ok bool, known bool)
	// StartOp records op as in flight with an unknown outcome. The caller
	// must have rejected the call beforehand if PendingOp is true.
	StartOp(op O)
	// SetOpResult records the executor's outcome. No-op without a pending
	// operation.
	SetOpResult(ok bool)
	// CommitOp folds the pending operation's effect into the record per the
	// kind's deterministic fold table, then clears it.
	CommitOp()
	// ClearOp discards the pending operation without applying its effect;
	// the record reverts to its pre-operation configuration.
	ClearOp()
}

func opResult[O any](op *OperationState[O]) (bool, bool) {
	if op == nil || op.Result == nil {
		return false, false
	}
	return *op.Result, true
}

func setOpResult[O any](op *OperationState[O], ok bool) {
	if op == nil {
		return
	}
	op.Result = &ok
}
