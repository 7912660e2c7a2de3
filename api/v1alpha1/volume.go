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

import (
	"maps"
	"slices"
)

// VolumeSpec is the persisted desired configuration of one volume.
type VolumeSpec struct {
	UUID VolumeID `json:"uuid"`
	// Size the volume should be, in bytes.
	Size uint64 `json:"size"`
	// Labels are free-form volume labels.
	Labels []string `json:"labels,omitempty"`
	// NumReplicas is the number of replicas the volume should have.
	NumReplicas uint8 `json:"numReplicas"`
	// Protocol the volume is currently shared over.
	Protocol Protocol `json:"protocol"`
	// Status the volume should eventually achieve.
	Status VolumeSpecStatus `json:"status"`
	// Target is set while the volume is published.
	Target *VolumeTarget `json:"target,omitempty"`
	// Policy is the volume healing policy.
	Policy HealPolicy `json:"policy"`
	// Topology constrains replica placement.
	Topology Topology `json:"topology"`
	// LastNexusID is the id of the last nexus used by the volume.
	LastNexusID *NexusID `json:"lastNexusId,omitempty"`
	// Operation is the record of the operation in progress, if any.
	Operation *OperationState[VolumeOperation] `json:"operation,omitempty"`
}

// VolumeSpecStatus is the lifecycle status of a volume spec.
type VolumeSpecStatus = SpecStatus[VolumeStatus]

// VolumeOperationKind names a volume mutation.
type VolumeOperationKind string

const (
	VolumeOperationCreate              VolumeOperationKind = "Create"
	VolumeOperationDestroy             VolumeOperationKind = "Destroy"
	VolumeOperationShare               VolumeOperationKind = "Share"
	VolumeOperationUnshare             VolumeOperationKind = "Unshare"
	VolumeOperationSetReplica          VolumeOperationKind = "SetReplica"
	VolumeOperationPublish             VolumeOperationKind = "Publish"
	VolumeOperationUnpublish           VolumeOperationKind = "Unpublish"
	VolumeOperationRemoveUnusedReplica VolumeOperationKind = "RemoveUnusedReplica"
)

// VolumeOperation is one named volume mutation together with its parameters.
// Exactly the fields relevant to Kind are set.
type VolumeOperation struct {
	Kind VolumeOperationKind `json:"kind"`
	// Share carries the protocol of a Share operation.
	Share *ShareProtocol `json:"share,omitempty"`
	// Replicas carries the target count of a SetReplica operation.
	Replicas *uint8 `json:"replicas,omitempty"`
	// Publish carries the target of a Publish operation.
	Publish *VolumePublish `json:"publish,omitempty"`
	// Replica carries the replica of a RemoveUnusedReplica operation.
	Replica *ReplicaID `json:"replica,omitempty"`
}

// Name returns the operation kind, for logs and metrics labels.
func (o VolumeOperation) Name() string { return string(o.Kind) }

// VolumePublish are the parameters of a Publish operation.
type VolumePublish struct {
	Node  NodeID  `json:"node"`
	Nexus NexusID `json:"nexus"`
	// Share is nil when the volume is published unshared.
	Share *ShareProtocol `json:"share,omitempty"`
}

func VolumeOpCreate() VolumeOperation {
	return VolumeOperation{Kind: VolumeOperationCreate}
}

func VolumeOpDestroy() VolumeOperation {
	return VolumeOperation{Kind: VolumeOperationDestroy}
}

func VolumeOpShare(p ShareProtocol) VolumeOperation {
	return VolumeOperation{Kind: VolumeOperationShare, Share: &p}
}

func VolumeOpUnshare() VolumeOperation {
	return VolumeOperation{Kind: VolumeOperationUnshare}
}

func VolumeOpSetReplica(count uint8) VolumeOperation {
	return VolumeOperation{Kind: VolumeOperationSetReplica, Replicas: &count}
}

func VolumeOpPublish(node NodeID, nexus NexusID, share *ShareProtocol) VolumeOperation {
	return VolumeOperation{
		Kind:    VolumeOperationPublish,
		Publish: &VolumePublish{Node: node, Nexus: nexus, Share: share},
	}
}

func VolumeOpUnpublish() VolumeOperation {
	return VolumeOperation{Kind: VolumeOperationUnpublish}
}

func VolumeOpRemoveUnusedReplica(replica ReplicaID) VolumeOperation {
	return VolumeOperation{Kind: VolumeOperationRemoveUnusedReplica, Replica: &replica}
}

// CreateVolume is a request to create one volume.
type CreateVolume struct {
	UUID     VolumeID   `json:"uuid"`
	Size     uint64     `json:"size"`
	Labels   []string   `json:"labels,omitempty"`
	Replicas uint8      `json:"replicas"`
	Policy   HealPolicy `json:"policy"`
	Topology Topology   `json:"topology"`
}

// NewVolumeSpec builds the spec record for a fresh create request.
// The record starts in the Creating phase with no operation in flight.
func NewVolumeSpec(req *CreateVolume) *VolumeSpec {
	return &VolumeSpec{
		UUID:        req.UUID,
		Size:        req.Size,
		Labels:      req.Labels,
		NumReplicas: req.Replicas,
		Protocol:    ProtocolNone,
		Status:      StatusCreating[VolumeStatus](),
		Policy:      req.Policy,
		Topology:    req.Topology,
	}
}

// Key implements Object.
func (in *VolumeSpec) Key() ObjectKey {
	return ObjectKey{Kind: KindVolumeSpec, ID: string(in.UUID)}
}

// MatchesRequest reports whether the record is equivalent to a fresh create
// request, ignoring status and any in-flight operation. Idempotent create
// handling relies on this.
func (in *VolumeSpec) MatchesRequest(req *CreateVolume) bool {
	fresh := NewVolumeSpec(req)
	return in.UUID == fresh.UUID &&
		in.Size == fresh.Size &&
		slices.Equal(in.Labels, fresh.Labels) &&
		in.NumReplicas == fresh.NumReplicas &&
		healPoliciesEqual(in.Policy, fresh.Policy) &&
		topologiesEqual(in.Topology, fresh.Topology)
}

func healPoliciesEqual(a, b HealPolicy) bool {
	if a.SelfHeal != b.SelfHeal {
		return false
	}
	if (a.Topology == nil) != (b.Topology == nil) {
		return false
	}
	if a.Topology == nil {
		return true
	}
	return topologiesEqual(*a.Topology, *b.Topology)
}

func topologiesEqual(a, b Topology) bool {
	return explicitEqual(a.Explicit, b.Explicit) && labelledEqual(a.Labelled, b.Labelled)
}

func explicitEqual(a, b *ExplicitTopology) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return slices.Equal(a.AllowedNodes, b.AllowedNodes) &&
		slices.Equal(a.PreferredNodes, b.PreferredNodes)
}

func labelledEqual(a, b *LabelledTopology) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return maps.Equal(a.Inclusion, b.Inclusion) && maps.Equal(a.Exclusion, b.Exclusion)
}

// AllowedNodes returns the explicitly selected allowed nodes, if any.
func (in *VolumeSpec) AllowedNodes() []NodeID {
	if in.Topology.Explicit == nil {
		return nil
	}
	return in.Topology.Explicit.AllowedNodes
}

// DesiredNumReplicas returns the replica count of an in-flight SetReplica
// operation, or the current count otherwise. Capacity logic must see the
// in-flight target before it is committed.
func (in *VolumeSpec) DesiredNumReplicas() uint8 {
	if op, ok := in.PendingOperation(); ok && op.Kind == VolumeOperationSetReplica && op.Replicas != nil {
		return *op.Replicas
	}
	return in.NumReplicas
}

// Published reports whether the volume currently has a target.
func (in *VolumeSpec) Published() bool { return in.Target != nil }

// Deleted reports whether the record is logically destroyed.
func (in *VolumeSpec) Deleted() bool { return in.Status.Deleted() }

// PendingOp implements Transaction.
func (in *VolumeSpec) PendingOp() bool { return in.Operation != nil }

// PendingOperation implements Transaction.
func (in *VolumeSpec) PendingOperation() (VolumeOperation, bool) {
	if in.Operation == nil {
		return VolumeOperation{}, false
	}
	return in.Operation.Operation, true
}

// OpResult implements Transaction.
func (in *VolumeSpec) OpResult() (bool, bool) { return opResult(in.Operation) }

// StartOp implements Transaction.
func (in *VolumeSpec) StartOp(op VolumeOperation) {
	in.Operation = &OperationState[VolumeOperation]{Operation: op}
}

// SetOpResult implements Transaction.
func (in *VolumeSpec) SetOpResult(ok bool) { setOpResult(in.Operation, ok) }

// CommitOp implements Transaction. The fold per operation kind:
//
//	Create              → status Created(Online)
//	Destroy             → status Deleted
//	Share(p)            → protocol p
//	Unshare             → protocol none
//	SetReplica(n)       → replica count n
//	Publish(n,x,p)      → target {n,x}, last nexus x, protocol p or none
//	Unpublish           → target cleared, protocol none
//	RemoveUnusedReplica → no spec change (effect observed on the replica)
func (in *VolumeSpec) CommitOp() {
	if in.Operation != nil {
		op := in.Operation.Operation
		switch op.Kind {
		case VolumeOperationCreate:
			in.Status = StatusCreated(VolumeStatusOnline)
		case VolumeOperationDestroy:
			in.Status = StatusDeleted[VolumeStatus]()
		case VolumeOperationShare:
			in.Protocol = op.Share.Protocol()
		case VolumeOperationUnshare:
			in.Protocol = ProtocolNone
		case VolumeOperationSetReplica:
			in.NumReplicas = *op.Replicas
		case VolumeOperationPublish:
			in.Target = &VolumeTarget{Node: op.Publish.Node, Nexus: op.Publish.Nexus}
			in.LastNexusID = &op.Publish.Nexus
			if op.Publish.Share != nil {
				in.Protocol = op.Publish.Share.Protocol()
			} else {
				in.Protocol = ProtocolNone
			}
		case VolumeOperationUnpublish:
			in.Target = nil
			in.Protocol = ProtocolNone
		case VolumeOperationRemoveUnusedReplica:
		}
	}
	in.ClearOp()
}

// ClearOp implements Transaction.
func (in *VolumeSpec) ClearOp() { in.Operation = nil }
