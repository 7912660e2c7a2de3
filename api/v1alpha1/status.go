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

// SpecPhase is the lifecycle stage of a spec record.
type SpecPhase string

const (
	SpecPhaseCreating SpecPhase = "Creating"
	SpecPhaseCreated  SpecPhase = "Created"
	SpecPhaseDeleting SpecPhase = "Deleting"
	SpecPhaseDeleted  SpecPhase = "Deleted"
)

// SpecStatus is the lifecycle status of a spec record. Runtime carries the
// kind-specific runtime status and is meaningful only in the Created phase.
type SpecStatus[R ~string] struct {
	Phase   SpecPhase `json:"phase"`
	Runtime R         `json:"runtime,omitempty"`
}

// StatusCreating returns the initial status of a freshly requested resource.
func StatusCreating[R ~string]() SpecStatus[R] {
	return SpecStatus[R]{Phase: SpecPhaseCreating}
}

// StatusCreated returns the Created status with the given runtime status.
func StatusCreated[R ~string](runtime R) SpecStatus[R] {
	return SpecStatus[R]{Phase: SpecPhaseCreated, Runtime: runtime}
}

// StatusDeleted returns the terminal Deleted status.
func StatusDeleted[R ~string]() SpecStatus[R] {
	return SpecStatus[R]{Phase: SpecPhaseDeleted}
}

// Creating reports whether the record is still being created.
func (s SpecStatus[R]) Creating() bool { return s.Phase == SpecPhaseCreating }

// Created reports whether the record reached the Created phase.
func (s SpecStatus[R]) Created() bool { return s.Phase == SpecPhaseCreated }

// Deleting reports whether deletion is in progress.
func (s SpecStatus[R]) Deleting() bool { return s.Phase == SpecPhaseDeleting }

// Deleted reports whether the record is logically destroyed. Physical removal
// from the store happens only after this phase is persisted.
func (s SpecStatus[R]) Deleted() bool { return s.Phase == SpecPhaseDeleted }

// VolumeStatus is the runtime status of a volume.
type VolumeStatus string

const (
	VolumeStatusUnknown  VolumeStatus = "Unknown"
	VolumeStatusOnline   VolumeStatus = "Online"
	VolumeStatusDegraded VolumeStatus = "Degraded"
	VolumeStatusFaulted  VolumeStatus = "Faulted"
)

// ReplicaStatus is the runtime status of a replica.
type ReplicaStatus string

const (
	ReplicaStatusUnknown ReplicaStatus = "Unknown"
	ReplicaStatusOnline  ReplicaStatus = "Online"
	ReplicaStatusFaulted ReplicaStatus = "Faulted"
)

// NexusStatus is the runtime status of a nexus.
type NexusStatus string

const (
	NexusStatusUnknown  NexusStatus = "Unknown"
	NexusStatusOnline   NexusStatus = "Online"
	NexusStatusDegraded NexusStatus = "Degraded"
	NexusStatusFaulted  NexusStatus = "Faulted"
)
