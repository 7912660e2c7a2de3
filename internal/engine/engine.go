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

// Package engine is the ledger's view of the storage-engine data-plane: the
// external executor that physically realizes operations on nodes. The ledger
// only needs the success/failure outcome of an apply and, during crash
// recovery, the actual runtime state of a resource.
package engine

import (
	"context"
	"errors"

	"github.com/deckhouse/sds-volume-control/api/v1alpha1"
)

// ErrTargetNotFound is returned by Apply when the target of the operation
// does not exist on the data-plane. Destroy-like operations tolerate it;
// for everything else it is a failure.
var ErrTargetNotFound = errors.New("engine target not found")

// Action names the data-plane effect of an operation.
type Action string

const (
	ActionCreate      Action = "create"
	ActionDestroy     Action = "destroy"
	ActionShare       Action = "share"
	ActionUnshare     Action = "unshare"
	ActionSetReplica  Action = "set-replica"
	ActionPublish     Action = "publish"
	ActionUnpublish   Action = "unpublish"
	ActionRemove      Action = "remove"
	ActionAddChild    Action = "add-child"
	ActionRemoveChild Action = "remove-child"
)

// Request is one operation to realize on the data-plane. Payload carries the
// kind-specific parameters (the spec being created, share protocol, publish
// target and so on) and is serialized as-is.
type Request struct {
	Key     v1alpha1.ObjectKey `json:"key"`
	Action  Action             `json:"action"`
	Payload any                `json:"payload,omitempty"`
}

// Fact is the runtime state of one resource as reported by the data-plane.
type Fact struct {
	// Present is false when the resource does not exist on any node.
	Present bool `json:"present"`
	// Status is the engine's own status string, informational only.
	Status string `json:"status,omitempty"`
	// Protocol the resource is currently shared over.
	Protocol v1alpha1.Protocol `json:"protocol,omitempty"`
	// Target is set for volumes that are published.
	Target *v1alpha1.VolumeTarget `json:"target,omitempty"`
	// Replicas is the realized replica count, for volumes.
	Replicas uint8 `json:"replicas,omitempty"`
	// Children are the realized child URIs, for nexuses.
	Children []string `json:"children,omitempty"`
}

// Engine executes operations on the storage-engine data-plane.
//
// Apply performs exactly one operation and reports the resulting runtime
// fact. Idempotent actions (destroy, unpublish, unshare) must tolerate being
// invoked against an already-absent target by returning ErrTargetNotFound.
//
// Inspect reports the current runtime state of a resource without mutating
// anything; an absent resource yields a Fact with Present=false and no
// error. Crash recovery uses it to decide whether an interrupted operation
// already took effect.
type Engine interface {
	Apply(ctx context.Context, req Request) (*Fact, error)
	Inspect(ctx context.Context, key v1alpha1.ObjectKey) (*Fact, error)
}
