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

import "slices"

// NexusSpec is the persisted desired configuration of one nexus, the
// block device that exposes a volume for front-end I/O on a node.
type NexusSpec struct {
	UUID NexusID `json:"uuid"`
	// Name of the nexus device on the node.
	Name string `json:"name"`
	// Node the nexus is exposed on.
	Node NodeID `json:"node"`
	// Children are the replica URIs aggregated by the nexus.
	Children []string `json:"children,omitempty"`
	// Size of the nexus, in bytes.
	Size uint64 `json:"size"`
	// Share is the protocol the nexus is shared over.
	Share Protocol `json:"share"`
	// Managed is false for nexuses created directly through the API rather
	// than on behalf of a volume.
	Managed bool `json:"managed"`
	// Owner is the volume the nexus exposes, if managed.
	Owner *VolumeID `json:"owner,omitempty"`
	// Status the nexus should eventually achieve.
	Status NexusSpecStatus `json:"status"`
	// Operation is the record of the operation in progress, if any.
	Operation *OperationState[NexusOperation] `json:"operation,omitempty"`
}

// NexusSpecStatus is the lifecycle status of a nexus spec.
type NexusSpecStatus = SpecStatus[NexusStatus]

// NexusOperationKind names a nexus mutation.
type NexusOperationKind string

const (
	NexusOperationCreate      NexusOperationKind = "Create"
	NexusOperationDestroy     NexusOperationKind = "Destroy"
	NexusOperationShare       NexusOperationKind = "Share"
	NexusOperationUnshare     NexusOperationKind = "Unshare"
	NexusOperationAddChild    NexusOperationKind = "AddChild"
	NexusOperationRemoveChild NexusOperationKind = "RemoveChild"
)

// NexusOperation is one named nexus mutation together with its parameters.
type NexusOperation struct {
	Kind NexusOperationKind `json:"kind"`
	// Share carries the protocol of a Share operation.
	Share *ShareProtocol `json:"share,omitempty"`
	// Child carries the child URI of an AddChild or RemoveChild operation.
	Child *string `json:"child,omitempty"`
}

// Name returns the operation kind, for logs and metrics labels.
func (o NexusOperation) Name() string { return string(o.Kind) }

func NexusOpCreate() NexusOperation {
	return NexusOperation{Kind: NexusOperationCreate}
}

func NexusOpDestroy() NexusOperation {
	return NexusOperation{Kind: NexusOperationDestroy}
}

func NexusOpShare(p ShareProtocol) NexusOperation {
	return NexusOperation{Kind: NexusOperationShare, Share: &p}
}

func NexusOpUnshare() NexusOperation {
	return NexusOperation{Kind: NexusOperationUnshare}
}

func NexusOpAddChild(uri string) NexusOperation {
	return NexusOperation{Kind: NexusOperationAddChild, Child: &uri}
}

func NexusOpRemoveChild(uri string) NexusOperation {
	return NexusOperation{Kind: NexusOperationRemoveChild, Child: &uri}
}

// CreateNexus is a request to create one nexus.
type CreateNexus struct {
	UUID     NexusID   `json:"uuid"`
	Name     string    `json:"name"`
	Node     NodeID    `json:"node"`
	Children []string  `json:"children,omitempty"`
	Size     uint64    `json:"size"`
	Managed  bool      `json:"managed"`
	Owner    *VolumeID `json:"owner,omitempty"`
}

// NewNexusSpec builds the spec record for a fresh create request.
func NewNexusSpec(req *CreateNexus) *NexusSpec {
	name := req.Name
	if name == "" {
		name = string(req.UUID)
	}
	return &NexusSpec{
		UUID:     req.UUID,
		Name:     name,
		Node:     req.Node,
		Children: slices.Clone(req.Children),
		Size:     req.Size,
		Share:    ProtocolNone,
		Managed:  req.Managed,
		Owner:    req.Owner,
		Status:   StatusCreating[NexusStatus](),
	}
}

// Key implements Object.
func (in *NexusSpec) Key() ObjectKey {
	return ObjectKey{Kind: KindNexusSpec, ID: string(in.UUID)}
}

// MatchesRequest reports whether the record is equivalent to a fresh create
// request, ignoring status and any in-flight operation.
func (in *NexusSpec) MatchesRequest(req *CreateNexus) bool {
	fresh := NewNexusSpec(req)
	return in.UUID == fresh.UUID &&
		in.Name == fresh.Name &&
		in.Node == fresh.Node &&
		in.Size == fresh.Size &&
		in.Managed == fresh.Managed &&
		slices.Equal(in.Children, fresh.Children)
}

// Deleted reports whether the record is logically destroyed.
func (in *NexusSpec) Deleted() bool { return in.Status.Deleted() }

// PendingOp implements Transaction.
func (in *NexusSpec) PendingOp() bool { return in.Operation != nil }

// PendingOperation implements Transaction.
func (in *NexusSpec) PendingOperation() (NexusOperation, bool) {
	if in.Operation == nil {
		return NexusOperation{}, false
	}
	return in.Operation.Operation, true
}

// OpResult implements Transaction.
func (in *NexusSpec) OpResult() (bool, bool) { return opResult(in.Operation) }

// StartOp implements Transaction.
func (in *NexusSpec) StartOp(op NexusOperation) {
	in.Operation = &OperationState[NexusOperation]{Operation: op}
}

// SetOpResult implements Transaction.
func (in *NexusSpec) SetOpResult(ok bool) { setOpResult(in.Operation, ok) }

// CommitOp implements Transaction.
func (in *NexusSpec) CommitOp() {
	if in.Operation != nil {
		op := in.Operation.Operation
		switch op.Kind {
		case NexusOperationCreate:
			in.Status = StatusCreated(NexusStatusOnline)
		case NexusOperationDestroy:
			in.Status = StatusDeleted[NexusStatus]()
		case NexusOperationShare:
			in.Share = op.Share.Protocol()
		case NexusOperationUnshare:
			in.Share = ProtocolNone
		case NexusOperationAddChild:
			if !slices.Contains(in.Children, *op.Child) {
				in.Children = append(in.Children, *op.Child)
			}
		case NexusOperationRemoveChild:
			in.Children = slices.DeleteFunc(in.Children, func(uri string) bool {
				return uri == *op.Child
			})
		}
	}
	in.ClearOp()
}

// ClearOp implements Transaction.
func (in *NexusSpec) ClearOp() { in.Operation = nil }
