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

// ReplicaSpec is the persisted desired configuration of one replica.
type ReplicaSpec struct {
	UUID ReplicaID `json:"uuid"`
	// Size of the replica, in bytes.
	Size uint64 `json:"size"`
	// Pool the replica lives on.
	Pool PoolID `json:"pool"`
	// Share is the protocol the replica is shared over.
	Share Protocol `json:"share"`
	// Thin enables thin provisioning.
	Thin bool `json:"thin"`
	// Status the replica should eventually achieve.
	Status ReplicaSpecStatus `json:"status"`
	// Managed is false for replicas created directly through the API rather
	// than on behalf of a volume.
	Managed bool `json:"managed"`
	// Owners lists the volumes this replica backs.
	Owners []VolumeID `json:"owners,omitempty"`
	// Operation is the record of the operation in progress, if any.
	Operation *OperationState[ReplicaOperation] `json:"operation,omitempty"`
}

// ReplicaSpecStatus is the lifecycle status of a replica spec.
type ReplicaSpecStatus = SpecStatus[ReplicaStatus]

// ReplicaOperationKind names a replica mutation.
type ReplicaOperationKind string

const (
	ReplicaOperationCreate  ReplicaOperationKind = "Create"
	ReplicaOperationDestroy ReplicaOperationKind = "Destroy"
	ReplicaOperationShare   ReplicaOperationKind = "Share"
	ReplicaOperationUnshare ReplicaOperationKind = "Unshare"
)

// ReplicaOperation is one named replica mutation together with its parameters.
type ReplicaOperation struct {
	Kind ReplicaOperationKind `json:"kind"`
	// Share carries the protocol of a Share operation.
	Share *ShareProtocol `json:"share,omitempty"`
}

// Name returns the operation kind, for logs and metrics labels.
func (o ReplicaOperation) Name() string { return string(o.Kind) }

func ReplicaOpCreate() ReplicaOperation {
	return ReplicaOperation{Kind: ReplicaOperationCreate}
}

func ReplicaOpDestroy() ReplicaOperation {
	return ReplicaOperation{Kind: ReplicaOperationDestroy}
}

func ReplicaOpShare(p ShareProtocol) ReplicaOperation {
	return ReplicaOperation{Kind: ReplicaOperationShare, Share: &p}
}

func ReplicaOpUnshare() ReplicaOperation {
	return ReplicaOperation{Kind: ReplicaOperationUnshare}
}

// CreateReplica is a request to create one replica.
type CreateReplica struct {
	UUID    ReplicaID  `json:"uuid"`
	Size    uint64     `json:"size"`
	Pool    PoolID     `json:"pool"`
	Thin    bool       `json:"thin"`
	Managed bool       `json:"managed"`
	Owners  []VolumeID `json:"owners,omitempty"`
}

// NewReplicaSpec builds the spec record for a fresh create request.
func NewReplicaSpec(req *CreateReplica) *ReplicaSpec {
	return &ReplicaSpec{
		UUID:    req.UUID,
		Size:    req.Size,
		Pool:    req.Pool,
		Share:   ProtocolNone,
		Thin:    req.Thin,
		Status:  StatusCreating[ReplicaStatus](),
		Managed: req.Managed,
		Owners:  req.Owners,
	}
}

// Key implements Object.
func (in *ReplicaSpec) Key() ObjectKey {
	return ObjectKey{Kind: KindReplicaSpec, ID: string(in.UUID)}
}

// MatchesRequest reports whether the record is equivalent to a fresh create
// request, ignoring status and any in-flight operation.
func (in *ReplicaSpec) MatchesRequest(req *CreateReplica) bool {
	return in.UUID == req.UUID &&
		in.Size == req.Size &&
		in.Pool == req.Pool &&
		in.Thin == req.Thin &&
		in.Managed == req.Managed &&
		slices.Equal(in.Owners, req.Owners)
}

// OwnedBy reports whether the replica backs the given volume.
func (in *ReplicaSpec) OwnedBy(volume VolumeID) bool {
	return slices.Contains(in.Owners, volume)
}

// Deleted reports whether the record is logically destroyed.
func (in *ReplicaSpec) Deleted() bool { return in.Status.Deleted() }

// PendingOp implements Transaction.
func (in *ReplicaSpec) PendingOp() bool { return in.Operation != nil }

// PendingOperation implements Transaction.
func (in *ReplicaSpec) PendingOperation() (ReplicaOperation, bool) {
	if in.Operation == nil {
		return ReplicaOperation{}, false
	}
	return in.Operation.Operation, true
}

// OpResult implements Transaction.
func (in *ReplicaSpec) OpResult() (bool, bool) { return opResult(in.Operation) }

// StartOp implements Transaction.
func (in *ReplicaSpec) StartOp(op ReplicaOperation) {
	in.Operation = &OperationState[ReplicaOperation]{Operation: op}
}

// SetOpResult implements Transaction.
func (in *ReplicaSpec) SetOpResult(ok bool) { setOpResult(in.Operation, ok) }

// CommitOp implements Transaction.
func (in *ReplicaSpec) CommitOp() {
	if in.Operation != nil {
		op := in.Operation.Operation
		switch op.Kind {
		case ReplicaOperationCreate:
			in.Status = StatusCreated(ReplicaStatusOnline)
		case ReplicaOperationDestroy:
			in.Status = StatusDeleted[ReplicaStatus]()
		case ReplicaOperationShare:
			in.Share = op.Share.Protocol()
		case ReplicaOperationUnshare:
			in.Share = ProtocolNone
		}
	}
	in.ClearOp()
}

// ClearOp implements Transaction.
func (in *ReplicaSpec) ClearOp() { in.Operation = nil }
