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

// Package nexus implements nexus semantics on top of the ledger's generic
// operation protocol.
package nexus

import (
	"context"
	"errors"
	"slices"

	"github.com/go-logr/logr"

	"github.com/deckhouse/sds-volume-control/api/v1alpha1"
	"github.com/deckhouse/sds-volume-control/internal/ctlerrors"
	"github.com/deckhouse/sds-volume-control/internal/engine"
	"github.com/deckhouse/sds-volume-control/internal/flow"
	"github.com/deckhouse/sds-volume-control/internal/ledger"
)

// Service is the nexus operations service.
type Service struct {
	ledger *ledger.Ledger
	engine engine.Engine
	log    logr.Logger
}

// New builds the nexus service.
func New(l *ledger.Ledger, eng engine.Engine, log logr.Logger) (*Service, error) {
	if err := ctlerrors.ValidateArgNotNil(l, "ledger"); err != nil {
		return nil, err
	}
	if err := ctlerrors.ValidateArgNotNil(eng, "engine"); err != nil {
		return nil, err
	}
	return &Service{ledger: l, engine: eng, log: log}, nil
}

// Get returns the nexus spec record.
func (s *Service) Get(id v1alpha1.NexusID) (*v1alpha1.NexusSpec, error) {
	return s.ledger.Nexuses().Get(string(id))
}

// List returns all nexus spec records, ordered by id.
func (s *Service) List() []*v1alpha1.NexusSpec {
	return s.ledger.Nexuses().List()
}

// Create makes a nexus. Retrying an equivalent request succeeds; a
// conflicting request for the same id fails with ErrAlreadyExists.
func (s *Service) Create(ctx context.Context, req *v1alpha1.CreateNexus) (out *v1alpha1.NexusSpec, err error) {
	sf := flow.BeginStep(ctx, "create-nexus", "nexus", string(req.UUID))
	defer sf.OnEnd(&err)
	ctx = sf.Ctx()

	if err := req.UUID.Validate(); err != nil {
		return nil, ctlerrors.ErrInvalidOperationf("create nexus: %v", err)
	}
	if req.Size == 0 {
		return nil, ctlerrors.ErrInvalidOperationf("nexus %s: size must be positive", req.UUID)
	}
	if req.Node == "" {
		return nil, ctlerrors.ErrInvalidOperationf("nexus %s: node is required", req.UUID)
	}
	if len(req.Children) == 0 {
		return nil, ctlerrors.ErrInvalidOperationf("nexus %s: at least one child is required", req.UUID)
	}

	existing, inserted := ledger.Register(s.ledger.Nexuses(), v1alpha1.NewNexusSpec(req))
	if !inserted {
		if !existing.MatchesRequest(req) {
			return nil, ctlerrors.ErrAlreadyExistsf("nexus %s exists with a different configuration", req.UUID)
		}
		if existing.Status.Created() {
			return existing, nil
		}
	}

	out, err = ledger.RunOperation(ctx, s.ledger.Nexuses(), string(req.UUID), v1alpha1.NexusOpCreate(),
		func(ctx context.Context, spec *v1alpha1.NexusSpec) error {
			_, err := s.engine.Apply(ctx, engine.Request{Key: spec.Key(), Action: engine.ActionCreate, Payload: spec})
			return err
		})
	if err != nil {
		s.discardUnborn(ctx, req.UUID)
		return nil, err
	}
	return out, nil
}

func (s *Service) discardUnborn(ctx context.Context, id v1alpha1.NexusID) {
	spec, err := s.Get(id)
	if err != nil || spec.PendingOp() || !spec.Status.Creating() {
		return
	}
	if err := s.ledger.Nexuses().Discard(context.WithoutCancel(ctx), string(id)); err != nil {
		s.log.Error(err, "discarding failed create", "nexus", string(id))
	}
}

// Destroy removes a nexus. Destroying an absent nexus succeeds.
func (s *Service) Destroy(ctx context.Context, id v1alpha1.NexusID) (err error) {
	sf := flow.BeginStep(ctx, "destroy-nexus", "nexus", string(id))
	defer sf.OnEnd(&err)
	ctx = sf.Ctx()

	_, err = ledger.RunOperation(ctx, s.ledger.Nexuses(), string(id), v1alpha1.NexusOpDestroy(),
		func(ctx context.Context, spec *v1alpha1.NexusSpec) error {
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

// Share exposes the nexus over the given protocol.
func (s *Service) Share(ctx context.Context, id v1alpha1.NexusID, protocol v1alpha1.ShareProtocol) (*v1alpha1.NexusSpec, error) {
	if err := protocol.Validate(); err != nil {
		return nil, ctlerrors.ErrInvalidOperationf("share nexus %s: %v", id, err)
	}
	spec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !spec.Status.Created() {
		return nil, ctlerrors.ErrInvalidOperationf("nexus %s is %s", id, spec.Status.Phase)
	}
	if spec.Share == protocol.Protocol() {
		return spec, nil
	}
	if spec.Share != v1alpha1.ProtocolNone {
		return nil, ctlerrors.ErrInvalidOperationf("nexus %s is already shared over %s", id, spec.Share)
	}

	return ledger.RunOperation(ctx, s.ledger.Nexuses(), string(id), v1alpha1.NexusOpShare(protocol),
		func(ctx context.Context, spec *v1alpha1.NexusSpec) error {
			_, err := s.engine.Apply(ctx, engine.Request{Key: spec.Key(), Action: engine.ActionShare, Payload: protocol})
			return err
		})
}

// Unshare stops exposing the nexus. Unsharing an unshared nexus succeeds.
func (s *Service) Unshare(ctx context.Context, id v1alpha1.NexusID) (*v1alpha1.NexusSpec, error) {
	spec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if spec.Share == v1alpha1.ProtocolNone {
		return spec, nil
	}

	return ledger.RunOperation(ctx, s.ledger.Nexuses(), string(id), v1alpha1.NexusOpUnshare(),
		func(ctx context.Context, spec *v1alpha1.NexusSpec) error {
			_, err := s.engine.Apply(ctx, engine.Request{Key: spec.Key(), Action: engine.ActionUnshare})
			if errors.Is(err, engine.ErrTargetNotFound) {
				return nil
			}
			return err
		})
}

// AddChild attaches a replica URI to the nexus. Adding a child the nexus
// already has succeeds without a new operation.
func (s *Service) AddChild(ctx context.Context, id v1alpha1.NexusID, uri string) (*v1alpha1.NexusSpec, error) {
	if uri == "" {
		return nil, ctlerrors.ErrInvalidOperationf("nexus %s: child uri is required", id)
	}
	spec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !spec.Status.Created() {
		return nil, ctlerrors.ErrInvalidOperationf("nexus %s is %s", id, spec.Status.Phase)
	}
	if slices.Contains(spec.Children, uri) {
		return spec, nil
	}

	return ledger.RunOperation(ctx, s.ledger.Nexuses(), string(id), v1alpha1.NexusOpAddChild(uri),
		func(ctx context.Context, spec *v1alpha1.NexusSpec) error {
			_, err := s.engine.Apply(ctx, engine.Request{Key: spec.Key(), Action: engine.ActionAddChild, Payload: uri})
			return err
		})
}

// RemoveChild detaches a replica URI from the nexus. The last child cannot
// be removed; a nexus without children serves nothing.
func (s *Service) RemoveChild(ctx context.Context, id v1alpha1.NexusID, uri string) (*v1alpha1.NexusSpec, error) {
	if uri == "" {
		return nil, ctlerrors.ErrInvalidOperationf("nexus %s: child uri is required", id)
	}
	spec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !spec.Status.Created() {
		return nil, ctlerrors.ErrInvalidOperationf("nexus %s is %s", id, spec.Status.Phase)
	}
	if !slices.Contains(spec.Children, uri) {
		return spec, nil
	}
	if len(spec.Children) == 1 {
		return nil, ctlerrors.ErrInvalidOperationf("nexus %s: cannot remove the last child", id)
	}

	return ledger.RunOperation(ctx, s.ledger.Nexuses(), string(id), v1alpha1.NexusOpRemoveChild(uri),
		func(ctx context.Context, spec *v1alpha1.NexusSpec) error {
			_, err := s.engine.Apply(ctx, engine.Request{Key: spec.Key(), Action: engine.ActionRemoveChild, Payload: uri})
			return err
		})
}
