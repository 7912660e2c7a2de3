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
	"fmt"

	"github.com/google/uuid"
)

// VolumeID identifies a volume. Always a UUID string.
type VolumeID string

// ReplicaID identifies a replica. Always a UUID string.
type ReplicaID string

// NexusID identifies a nexus. Always a UUID string.
type NexusID string

// NodeID names a storage-engine node.
type NodeID string

// PoolID names a storage pool on a node.
type PoolID string

func validateUUID(kind string, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%s id %q is not a valid UUID: %w", kind, id, err)
	}
	return nil
}

// Validate reports whether the id is a well-formed UUID.
func (id VolumeID) Validate() error { return validateUUID("volume", string(id)) }

// Validate reports whether the id is a well-formed UUID.
func (id ReplicaID) Validate() error { return validateUUID("replica", string(id)) }

// Validate reports whether the id is a well-formed UUID.
func (id NexusID) Validate() error { return validateUUID("nexus", string(id)) }

// NewNexusID returns a fresh random nexus id.
func NewNexusID() NexusID { return NexusID(uuid.NewString()) }

// Protocol is the protocol a resource is currently exposed over.
type Protocol string

const (
	ProtocolNone  Protocol = "none"
	ProtocolNvmf  Protocol = "nvmf"
	ProtocolIscsi Protocol = "iscsi"
	ProtocolNbd   Protocol = "nbd"
)

// ShareProtocol is a protocol a resource may be requested to be shared over.
// Unlike Protocol it has no "none" variant.
type ShareProtocol string

const (
	ShareProtocolNvmf  ShareProtocol = "nvmf"
	ShareProtocolIscsi ShareProtocol = "iscsi"
)

// Validate rejects unknown share protocols before an operation is started.
func (p ShareProtocol) Validate() error {
	switch p {
	case ShareProtocolNvmf, ShareProtocolIscsi:
		return nil
	default:
		return fmt.Errorf("unknown share protocol %q", string(p))
	}
}

// Protocol converts a share protocol into the exposed-protocol form.
func (p ShareProtocol) Protocol() Protocol { return Protocol(p) }

// VolumeTarget is the node/nexus pair front-end I/O is sent to while a
// volume is published.
type VolumeTarget struct {
	Node  NodeID  `json:"node"`
	Nexus NexusID `json:"nexus"`
}

// HealPolicy controls self-healing of a degraded volume.
type HealPolicy struct {
	// SelfHeal allows the control plane to replace faulted replicas on its own.
	SelfHeal bool `json:"selfHeal"`
	// Topology optionally constrains where replacement replicas may land.
	Topology *Topology `json:"topology,omitempty"`
}

// Topology is the replica placement topology of a volume.
type Topology struct {
	// Explicit placement: replicas may only land on AllowedNodes and are
	// preferably spread over PreferredNodes first.
	Explicit *ExplicitTopology `json:"explicit,omitempty"`
	// Labelled placement: replicas land on nodes carrying these labels.
	Labelled *LabelledTopology `json:"labelled,omitempty"`
}

// ExplicitTopology lists nodes by name.
type ExplicitTopology struct {
	AllowedNodes   []NodeID `json:"allowedNodes,omitempty"`
	PreferredNodes []NodeID `json:"preferredNodes,omitempty"`
}

// LabelledTopology selects nodes by label.
type LabelledTopology struct {
	Inclusion map[string]string `json:"inclusion,omitempty"`
	Exclusion map[string]string `json:"exclusion,omitempty"`
}
