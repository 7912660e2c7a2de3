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

// Package v1alpha1 defines the persisted specification types of the
// sds-volume-control control plane: volumes, the replicas that back them and
// the nexuses that expose them for I/O.
//
// Every mutable resource is represented by a spec record carrying its
// last-known-durable configuration, a status lifecycle and an optional
// in-flight operation. All three kinds implement the same transaction
// protocol (StartOp/SetOpResult/CommitOp/ClearOp) over their own operation
// type; the commit fold of every operation variant is deterministic and
// exhaustive.
//
// The package is pure data plus fold rules: no I/O, no locking. Sequencing
// and persistence are owned by internal/ledger.
package v1alpha1
