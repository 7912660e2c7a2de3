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

// Package replica implements replica semantics on top of the ledger's
// generic operation protocol.
package replica

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

// Service is the replica operations service.
type Service struct {
	ledger *ledger.Ledger
	engine engine.Engine
	log    logr.Logger
}

// New builds the replica service.
func New(l *ledger.Ledger, eng engine.Engine, log logr.Logger) (*Service, error) {
	if err := ctlerrors.ValidateArgNotNil(l, "ledger"); err != nil {
		return nil, err
	}
	if err := ctlerrors.ValidateArgNotNil(eng, "engine"); err != nil {
		return nil, err
	}
	return &Service{ledger: l, engine: eng, log: log}, nil
}

// Get returns the replica spec record.
func (s *Service) Get(id v1alpha1.ReplicaID) (*v1alpha1.ReplicaSpec, error) {
	return s.ledger.Replicas().Get(string(id))
}

// List returns all replica spec records, ordered by id.
func (s *Service) List() []*v1alpha1.ReplicaSpec {
	return s.ledger.Replicas().List()
}

// ListForVolume returns the replicas backing the given volume.
func (s *Service) ListForVolume(volume v1alpha1.VolumeID) []*v1alpha1.ReplicaSpec {
	out := make([]*v1alpha1.ReplicaSpec, 0)
	for _, rep := range s.ledger.Replicas().List() {
		if rep.OwnedBy(volume) {
			out = append(out, rep)
		}
	}
	return out
}

// Create makes a replica. Retrying an equivalent request succeeds; a
// conflicting request for the same id fails with ErrAlreadyExists.
func (s *Service) Create(ctx context.Context, req *v1alpha1.CreateReplica) (out *v1alpha1.ReplicaSpec, err error) {
	sf := flow.BeginStep(ctx, "create-replica", "replica", string(req.UUID))
	defer sf.OnEnd(&err)
	ctx = sf.Ctx()

	if err := req.UUID.Validate(); err != nil {
		return nil, ctlerrors.ErrInvalidOperationf("create replica: %v", err)
	}
	if req.Size == 0 {
		return nil, ctlerrors.ErrInvalidOperationf("replica %s: size must be positive", req.UUID)
	}
	if req.Pool == "" {
		return nil, ctlerrors.ErrInvalidOperationf("replica %s: pool is required", req.UUID)
	}

	existing, inserted := ledger.Register(s.ledger.Replicas(), v1alpha1.NewReplicaSpec(req))
	if !inserted {
		if !existing.MatchesRequest(req) {
			return nil, ctlerrors.ErrAlreadyExistsf("replica %s exists with a different configuration", req.UUID)
		}
		if existing.Status.Created() {
			return existing, nil
		}
	}

	out, err = ledger.RunOperation(ctx, s.ledger.Replicas(), string(req.UUID), v1alpha1.ReplicaOpCreate(),
		func(ctx context.Context, spec *v1alpha1.ReplicaSpec) error {
			_, err := s.engine.Apply(ctx, engine.Request{Key: spec.Key(), Action: engine.ActionCreate, Payload: spec})
			return err
		})
	if err != nil {
		s.discardUnborn(ctx, req.UUID)
		return nil, err
	}
	return out, nil
}

func (s *Service) discardUnborn(ctx context.Context, id v1alpha1.ReplicaID) {
	spec, err := s.Get(id)
	if err != nil || spec.PendingOp() || !spec.Status.Creating() {
		return
	}
	if err := s.ledger.Replicas().Discard(context.WithoutCancel(ctx), string(id)); err != nil {
		s.log.Error(err, "discarding failed create", "replica", string(id))
	}
}

// Destroy removes a replica. Destroying an absent replica succeeds. A
// managed replica still backing a volume must be removed through its volume.
func (s *Service) Destroy(ctx context.Context, id v1alpha1.ReplicaID) (err error) {
	sf := flow.BeginStep(ctx, "destroy-replica", "replica", string(id))
	defer sf.OnEnd(&err)
	ctx = sf.Ctx()

	spec, err := s.Get(id)
	if errors.Is(err, ctlerrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if spec.Managed && len(spec.Owners) > 0 {
		return ctlerrors.ErrInvalidOperationf("replica %s backs volume %s; remove it through the volume", id, spec.Owners[0])
	}

	_, err = ledger.RunOperation(ctx, s.ledger.Replicas(), string(id), v1alpha1.ReplicaOpDestroy(),
		func(ctx context.Context, spec *v1alpha1.ReplicaSpec) error {
			_, err := s.engine.Apply(ctx, engine.Request{Key: spec.Key(), Action: engine.ActionDestroy})
			if errors.Is(err, engine.ErrTargetNotFound) {
				return nil
			}
			return err
		})
	if errors.Is(err, ctlerrors.ErrNotFound) {
		return nil
	}
	return err
}

// Share exposes the replica over the given protocol.
func (s *Service) Share(ctx context.Context, id v1alpha1.ReplicaID, protocol v1alpha1.ShareProtocol) (*v1alpha1.ReplicaSpec, error) {
	if err := protocol.Validate(); err != nil {
		return nil, ctlerrors.ErrInvalidOperationf("share replica %s: %v", id, err)
	}
	spec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !spec.Status.Created() {
		return nil, ctlerrors.ErrInvalidOperationf("replica %s is %s", id, spec.Status.Phase)
	}
	if spec.Share == protocol.Protocol() {
		return spec, nil
	}
	if spec.Share != v1alpha1.ProtocolNone {
		return nil, ctlerrors.ErrInvalidOperationf("replica %s is already shared over %s", id, spec.Share)
	}

	return ledger.RunOperation(ctx, s.ledger.Replicas(), string(id), v1alpha1.ReplicaOpShare(protocol),
		func(ctx context.Context, spec *v1alpha1.ReplicaSpec) error {
			_, err := s.engine.Apply(ctx, engine.Request{Key: spec.Key(), Action: engine.ActionShare, Payload: protocol})
			return err
		})
}

// Unshare stops exposing the replica. Unsharing an unshared replica succeeds.
func (s *Service) Unshare(ctx context.Context, id v1alpha1.ReplicaID) (*v1alpha1.ReplicaSpec, error) {
	spec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if spec.Share == v1alpha1.ProtocolNone {
		return spec, nil
	}

	return ledger.RunOperation(ctx, s.ledger.Replicas(), string(id), v1alpha1.ReplicaOpUnshare(),
		func(ctx context.Context, spec *v1alpha1.ReplicaSpec) error {
			_, err := s.engine.Apply(ctx, engine.Request{Key: spec.Key(), Action: engine.ActionUnshare})
			if errors.Is(err, engine.ErrTargetNotFound) {
				return nil
			}
			return err
		})
}
