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

// Package ledger is the authoritative in-memory registry of spec records,
// backed by the persistent store. It owns the generic operation protocol:
// per-record sequencing, the start/result/commit persistence cycle, crash
// recovery on startup, and physical removal after a logical delete.
//
// Kind-specific semantics (what an operation means, which requests are valid
// in which phase) live in internal/service; the ledger only guarantees that
// operations against one record are serialized and that the persisted record
// is never ahead of what actually happened.
package ledger

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/deckhouse/sds-volume-control/api/v1alpha1"
	"github.com/deckhouse/sds-volume-control/internal/ctlerrors"
	"github.com/deckhouse/sds-volume-control/internal/engine"
	"github.com/deckhouse/sds-volume-control/internal/flow"
	"github.com/deckhouse/sds-volume-control/internal/store"
)

// Options configure a Ledger.
type Options struct {
	Store  store.Store
	Engine engine.Engine
	Log    logr.Logger
	// Metrics may be nil to disable collection.
	Metrics *Metrics
}

// Ledger holds the collections of all resource kinds.
type Ledger struct {
	log logr.Logger

	volumes  *Collection[v1alpha1.VolumeSpec, v1alpha1.VolumeOperation]
	replicas *Collection[v1alpha1.ReplicaSpec, v1alpha1.ReplicaOperation]
	nexuses  *Collection[v1alpha1.NexusSpec, v1alpha1.NexusOperation]
}

// New builds an empty ledger. Call Open before serving traffic.
func New(opts Options) (*Ledger, error) {
	if err := ctlerrors.ValidateArgNotNil(opts.Store, "opts.Store"); err != nil {
		return nil, err
	}
	if err := ctlerrors.ValidateArgNotNil(opts.Engine, "opts.Engine"); err != nil {
		return nil, err
	}

	return &Ledger{
		log:      opts.Log,
		volumes:  newCollection[v1alpha1.VolumeSpec, v1alpha1.VolumeOperation](v1alpha1.KindVolumeSpec, opts, volumeApplied),
		replicas: newCollection[v1alpha1.ReplicaSpec, v1alpha1.ReplicaOperation](v1alpha1.KindReplicaSpec, opts, replicaApplied),
		nexuses:  newCollection[v1alpha1.NexusSpec, v1alpha1.NexusOperation](v1alpha1.KindNexusSpec, opts, nexusApplied),
	}, nil
}

// Volumes returns the volume collection.
func (l *Ledger) Volumes() *Collection[v1alpha1.VolumeSpec, v1alpha1.VolumeOperation] {
	return l.volumes
}

// Replicas returns the replica collection.
func (l *Ledger) Replicas() *Collection[v1alpha1.ReplicaSpec, v1alpha1.ReplicaOperation] {
	return l.replicas
}

// Nexuses returns the nexus collection.
func (l *Ledger) Nexuses() *Collection[v1alpha1.NexusSpec, v1alpha1.NexusOperation] {
	return l.nexuses
}

// Open loads every persisted record of every kind and settles the operations
// the previous run left behind. It must complete before any new operation is
// accepted; the records it sees are exactly the ones a crash interrupted.
func (l *Ledger) Open(ctx context.Context) (err error) {
	sf := flow.BeginStep(ctx, "ledger-open")
	defer sf.OnEnd(&err)
	ctx = sf.Ctx()

	if err := load[v1alpha1.VolumeSpec, v1alpha1.VolumeOperation](ctx, l.volumes); err != nil {
		return err
	}
	if err := load[v1alpha1.ReplicaSpec, v1alpha1.ReplicaOperation](ctx, l.replicas); err != nil {
		return err
	}
	if err := load[v1alpha1.NexusSpec, v1alpha1.NexusOperation](ctx, l.nexuses); err != nil {
		return err
	}

	if err := recoverAll[v1alpha1.VolumeSpec, v1alpha1.VolumeOperation](ctx, l.volumes); err != nil {
		return flow.Wrapf(err, "recovering volumes")
	}
	if err := recoverAll[v1alpha1.ReplicaSpec, v1alpha1.ReplicaOperation](ctx, l.replicas); err != nil {
		return flow.Wrapf(err, "recovering replicas")
	}
	if err := recoverAll[v1alpha1.NexusSpec, v1alpha1.NexusOperation](ctx, l.nexuses); err != nil {
		return flow.Wrapf(err, "recovering nexuses")
	}
	return nil
}

// Specs is a point-in-time snapshot of every record of every kind.
type Specs struct {
	Volumes  []*v1alpha1.VolumeSpec  `json:"volumes"`
	Replicas []*v1alpha1.ReplicaSpec `json:"replicas"`
	Nexuses  []*v1alpha1.NexusSpec   `json:"nexuses"`
}

// Specs returns copies of all records. The snapshot is consistent per record
// only; operations running concurrently may land between kinds.
func (l *Ledger) Specs() Specs {
	return Specs{
		Volumes:  l.volumes.List(),
		Replicas: l.replicas.List(),
		Nexuses:  l.nexuses.List(),
	}
}
