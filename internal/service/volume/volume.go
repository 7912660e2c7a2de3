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

// Package volume implements volume semantics on top of the ledger's generic
// operation protocol: request validation, phase guards, idempotent retries
// and the data-plane realization of each operation.
package volume

import (
	"context"
	"errors"

	"github.com/go-logr/logr"

	"github.com/deckhouse/sds-volume-control/api/v1alpha1"
	"github.com/deckhouse/sds-volume-control/internal/ctlerrors"
	"github.com/deckhouse/sds-volume-control/internal/engine"
	"github.com/deckhouse/sds-volume-control/internal/flow"
	"github.com/deckhouse/sds-volume-control/internal/ledger"
)

// Service is the volume operations service.
type Service struct {
	ledger *ledger.Ledger
	engine engine.Engine
	log    logr.Logger
}

// New builds the volume service.
func New(l *ledger.Ledger, eng engine.Engine, log logr.Logger) (*Service, error) {
	if err := ctlerrors.ValidateArgNotNil(l, "ledger"); err != nil {
		return nil, err
	}
	if err := ctlerrors.ValidateArgNotNil(eng, "engine"); err != nil {
		return nil, err
	}
	return &Service{ledger: l, engine: eng, log: log}, nil
}

// Get returns the volume spec record.
func (s *Service) Get(id v1alpha1.VolumeID) (*v1alpha1.VolumeSpec, error) {
	return s.ledger.Volumes().Get(string(id))
}

// List returns all volume spec records, ordered by id.
func (s *Service) List() []*v1alpha1.VolumeSpec {
	return s.ledger.Volumes().List()
}

// Create makes a volume. Retrying an equivalent request for an existing
// volume succeeds and returns the existing record; a conflicting request for
// the same id fails with ErrAlreadyExists.
func (s *Service) Create(ctx context.Context, req *v1alpha1.CreateVolume) (out *v1alpha1.VolumeSpec, err error) {
	sf := flow.BeginStep(ctx, "create-volume", "volume", string(req.UUID))
	defer sf.OnEnd(&err)
	ctx = sf.Ctx()

	if err := req.UUID.Validate(); err != nil {
		return nil, ctlerrors.ErrInvalidOperationf("create volume: %v", err)
	}
	if req.Size == 0 {
		return nil, ctlerrors.ErrInvalidOperationf("volume %s: size must be positive", req.UUID)
	}
	if req.Replicas == 0 {
		return nil, ctlerrors.ErrInvalidOperationf("volume %s: replica count must be at least 1", req.UUID)
	}

	spec := v1alpha1.NewVolumeSpec(req)
	if nodes := spec.AllowedNodes(); len(nodes) > 0 && int(req.Replicas) > len(nodes) {
		return nil, ctlerrors.ErrInvalidOperationf("volume %s: %d replicas cannot be placed on %d allowed nodes",
			req.UUID, req.Replicas, len(nodes))
	}

	existing, inserted := ledger.Register(s.ledger.Volumes(), spec)
	if !inserted {
		if !existing.MatchesRequest(req) {
			return nil, ctlerrors.ErrAlreadyExistsf("volume %s exists with a different configuration", req.UUID)
		}
		if existing.Status.Created() {
			// Finished create retried; nothing to do.
			return existing, nil
		}
		// An earlier equivalent create did not finish. Run it again.
	}

	out, err = ledger.RunOperation(ctx, s.ledger.Volumes(), string(req.UUID), v1alpha1.VolumeOpCreate(),
		func(ctx context.Context, spec *v1alpha1.VolumeSpec) error {
			_, err := s.engine.Apply(ctx, engine.Request{Key: spec.Key(), Action: engine.ActionCreate, Payload: spec})
			return err
		})
	if err != nil {
		s.discardUnborn(ctx, req.UUID)
		return nil, err
	}
	return out, nil
}

// discardUnborn drops a record a failed create left in the Creating phase,
// so a later retry starts clean.
func (s *Service) discardUnborn(ctx context.Context, id v1alpha1.VolumeID) {
	spec, err := s.ledger.Volumes().Get(string(id))
	if err != nil || spec.PendingOp() || !spec.Status.Creating() {
		return
	}
	if err := s.ledger.Volumes().Discard(context.WithoutCancel(ctx), string(id)); err != nil {
		s.log.Error(err, "discarding failed create", "volume", string(id))
	}
}

// Destroy removes a volume. Destroying an absent volume succeeds; destroying
// a published volume is rejected.
func (s *Service) Destroy(ctx context.Context, id v1alpha1.VolumeID) (err error) {
	sf := flow.BeginStep(ctx, "destroy-volume", "volume", string(id))
	defer sf.OnEnd(&err)
	ctx = sf.Ctx()

	spec, err := s.Get(id)
	if errors.Is(err, ctlerrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if spec.Published() {
		return ctlerrors.ErrInvalidOperationf("volume %s is published on node %s; unpublish it first", id, spec.Target.Node)
	}

	_, err = ledger.RunOperation(ctx, s.ledger.Volumes(), string(id), v1alpha1.VolumeOpDestroy(),
		func(ctx context.Context, spec *v1alpha1.VolumeSpec) error {
			_, err := s.engine.Apply(ctx, engine.Request{Key: spec.Key(), Action: engine.ActionDestroy})
			if errors.Is(err, engine.ErrTargetNotFound) {
				// Already gone on the data-plane.
				return nil
			}
			return err
		})
	if errors.Is(err, ctlerrors.ErrNotFound) {
		return nil
	}
	return err
}

// Share exposes the volume over the given protocol.
func (s *Service) Share(ctx context.Context, id v1alpha1.VolumeID, protocol v1alpha1.ShareProtocol) (*v1alpha1.VolumeSpec, error) {
	if err := protocol.Validate(); err != nil {
		return nil, ctlerrors.ErrInvalidOperationf("share volume %s: %v", id, err)
	}
	spec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !spec.Status.Created() {
		return nil, ctlerrors.ErrInvalidOperationf("volume %s is %s", id, spec.Status.Phase)
	}
	if spec.Protocol == protocol.Protocol() {
		return spec, nil
	}
	if spec.Protocol != v1alpha1.ProtocolNone {
		return nil, ctlerrors.ErrInvalidOperationf("volume %s is already shared over %s", id, spec.Protocol)
	}

	return ledger.RunOperation(ctx, s.ledger.Volumes(), string(id), v1alpha1.VolumeOpShare(protocol),
		func(ctx context.Context, spec *v1alpha1.VolumeSpec) error {
			_, err := s.engine.Apply(ctx, engine.Request{Key: spec.Key(), Action: engine.ActionShare, Payload: protocol})
			return err
		})
}

// Unshare stops exposing the volume. Unsharing an unshared volume succeeds.
func (s *Service) Unshare(ctx context.Context, id v1alpha1.VolumeID) (*v1alpha1.VolumeSpec, error) {
	spec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if spec.Protocol == v1alpha1.ProtocolNone {
		return spec, nil
	}

	return ledger.RunOperation(ctx, s.ledger.Volumes(), string(id), v1alpha1.VolumeOpUnshare(),
		func(ctx context.Context, spec *v1alpha1.VolumeSpec) error {
			_, err := s.engine.Apply(ctx, engine.Request{Key: spec.Key(), Action: engine.ActionUnshare})
			if errors.Is(err, engine.ErrTargetNotFound) {
				return nil
			}
			return err
		})
}

// Publish exposes the volume for front-end I/O on the given node. The nexus
// id of the previous publication is reused when there is one, so a republish
// lands on the same device.
func (s *Service) Publish(ctx context.Context, id v1alpha1.VolumeID, node v1alpha1.NodeID, share *v1alpha1.ShareProtocol) (out *v1alpha1.VolumeSpec, err error) {
	sf := flow.BeginStep(ctx, "publish-volume", "volume", string(id), "node", string(node))
	defer sf.OnEnd(&err)
	ctx = sf.Ctx()

	if node == "" {
		return nil, ctlerrors.ErrInvalidOperationf("publish volume %s: node is required", id)
	}
	if share != nil {
		if err := share.Validate(); err != nil {
			return nil, ctlerrors.ErrInvalidOperationf("publish volume %s: %v", id, err)
		}
	}

	spec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !spec.Status.Created() {
		return nil, ctlerrors.ErrInvalidOperationf("volume %s is %s", id, spec.Status.Phase)
	}
	if spec.Published() {
		if spec.Target.Node == node {
			return spec, nil
		}
		return nil, ctlerrors.ErrInvalidOperationf("volume %s is already published on node %s", id, spec.Target.Node)
	}

	nexus := v1alpha1.NewNexusID()
	if spec.LastNexusID != nil {
		nexus = *spec.LastNexusID
	}
	op := v1alpha1.VolumeOpPublish(node, nexus, share)

	return ledger.RunOperation(ctx, s.ledger.Volumes(), string(id), op,
		func(ctx context.Context, spec *v1alpha1.VolumeSpec) error {
			_, err := s.engine.Apply(ctx, engine.Request{Key: spec.Key(), Action: engine.ActionPublish, Payload: op.Publish})
			return err
		})
}

// Unpublish retires the volume's target. Unpublishing an unpublished volume
// succeeds.
func (s *Service) Unpublish(ctx context.Context, id v1alpha1.VolumeID) (out *v1alpha1.VolumeSpec, err error) {
	sf := flow.BeginStep(ctx, "unpublish-volume", "volume", string(id))
	defer sf.OnEnd(&err)
	ctx = sf.Ctx()

	spec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !spec.Published() {
		return spec, nil
	}

	return ledger.RunOperation(ctx, s.ledger.Volumes(), string(id), v1alpha1.VolumeOpUnpublish(),
		func(ctx context.Context, spec *v1alpha1.VolumeSpec) error {
			_, err := s.engine.Apply(ctx, engine.Request{Key: spec.Key(), Action: engine.ActionUnpublish})
			if errors.Is(err, engine.ErrTargetNotFound) {
				return nil
			}
			return err
		})
}

// SetReplicaCount changes how many replicas the volume should have.
func (s *Service) SetReplicaCount(ctx context.Context, id v1alpha1.VolumeID, count uint8) (*v1alpha1.VolumeSpec, error) {
	if count == 0 {
		return nil, ctlerrors.ErrInvalidOperationf("volume %s: replica count must be at least 1", id)
	}
	spec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !spec.Status.Created() {
		return nil, ctlerrors.ErrInvalidOperationf("volume %s is %s", id, spec.Status.Phase)
	}
	if spec.NumReplicas == count {
		return spec, nil
	}

	return ledger.RunOperation(ctx, s.ledger.Volumes(), string(id), v1alpha1.VolumeOpSetReplica(count),
		func(ctx context.Context, spec *v1alpha1.VolumeSpec) error {
			_, err := s.engine.Apply(ctx, engine.Request{Key: spec.Key(), Action: engine.ActionSetReplica, Payload: count})
			return err
		})
}

// RemoveUnusedReplica destroys a replica the volume no longer needs. The
// replica is destroyed through its own record's transaction, so both the
// volume's and the replica's sequencers are held while it runs.
func (s *Service) RemoveUnusedReplica(ctx context.Context, id v1alpha1.VolumeID, replicaID v1alpha1.ReplicaID) (out *v1alpha1.VolumeSpec, err error) {
	sf := flow.BeginStep(ctx, "remove-unused-replica", "volume", string(id), "replica", string(replicaID))
	defer sf.OnEnd(&err)
	ctx = sf.Ctx()

	spec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !spec.Status.Created() {
		return nil, ctlerrors.ErrInvalidOperationf("volume %s is %s", id, spec.Status.Phase)
	}

	rep, err := s.ledger.Replicas().Get(string(replicaID))
	if err != nil {
		return nil, err
	}
	if !rep.OwnedBy(id) {
		return nil, ctlerrors.ErrInvalidOperationf("replica %s does not back volume %s", replicaID, id)
	}
	if s.ownedReplicas(id) <= int(spec.DesiredNumReplicas()) {
		return nil, ctlerrors.ErrInvalidOperationf("volume %s has no unused replicas", id)
	}

	return ledger.RunOperation(ctx, s.ledger.Volumes(), string(id), v1alpha1.VolumeOpRemoveUnusedReplica(replicaID),
		func(ctx context.Context, _ *v1alpha1.VolumeSpec) error {
			_, err := ledger.RunOperation(ctx, s.ledger.Replicas(), string(replicaID), v1alpha1.ReplicaOpDestroy(),
				func(ctx context.Context, rep *v1alpha1.ReplicaSpec) error {
					_, err := s.engine.Apply(ctx, engine.Request{Key: rep.Key(), Action: engine.ActionDestroy})
					if errors.Is(err, engine.ErrTargetNotFound) {
						return nil
					}
					return err
				})
			if errors.Is(err, ctlerrors.ErrNotFound) {
				return nil
			}
			return err
		})
}

func (s *Service) ownedReplicas(id v1alpha1.VolumeID) int {
	n := 0
	for _, rep := range s.ledger.Replicas().List() {
		if rep.OwnedBy(id) && !rep.Deleted() {
			n++
		}
	}
	return n
}
