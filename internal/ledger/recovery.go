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

package ledger

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/deckhouse/sds-volume-control/api/v1alpha1"
	"github.com/deckhouse/sds-volume-control/internal/ctlerrors"
	"github.com/deckhouse/sds-volume-control/internal/engine"
	"github.com/deckhouse/sds-volume-control/internal/ledger/sequence"
	"github.com/deckhouse/sds-volume-control/internal/store"
)

// load fills the collection from the store. Sequencers are never persisted;
// every loaded record gets a fresh unlocked one.
func load[T any, O Operation, S record[T, O]](ctx context.Context, c *Collection[T, O]) error {
	kvs, err := c.store.List(ctx, store.KindPrefix(c.kind))
	if err != nil {
		return ctlerrors.ErrStoreFailedf("listing %s records: %v", c.kind, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, kv := range kvs {
		spec := new(T)
		if err := json.Unmarshal(kv.Value, spec); err != nil {
			return ctlerrors.ErrStoreFailedf("decoding record at %s: %v", kv.Key, err)
		}
		c.entries[S(spec).Key().ID] = &entry[T]{seq: sequence.New(), spec: spec}
	}
	c.log.Info("loaded records", "count", len(kvs))
	return nil
}

// recoverAll settles every operation the previous run left behind and
// finishes any destroy whose Deleted phase was persisted but whose record
// was not yet removed. Runs before the collection serves traffic.
func recoverAll[T any, O Operation, S record[T, O]](ctx context.Context, c *Collection[T, O]) error {
	for _, e := range c.allEntries() {
		if !e.seq.TryAcquire() {
			continue
		}
		id := S(e.spec).Key().ID
		err := settle[T, O, S](ctx, c, id, e)
		if err == nil && S(e.spec).Deleted() {
			err = c.removeDeleted(ctx, id)
		}
		e.seq.Release()
		if err != nil {
			return err
		}
	}
	return nil
}

// The applied judges below decide, from the data-plane's reported state,
// whether an operation interrupted before its result was recorded actually
// took effect. Conservative on the commit side: when the effect is not
// observable in the fact, the operation is discarded and the record reverts.

func volumeApplied(_ *v1alpha1.VolumeSpec, op v1alpha1.VolumeOperation, fact *engine.Fact) bool {
	switch op.Kind {
	case v1alpha1.VolumeOperationCreate:
		return fact.Present
	case v1alpha1.VolumeOperationDestroy:
		return !fact.Present
	case v1alpha1.VolumeOperationShare:
		return op.Share != nil && fact.Protocol == op.Share.Protocol()
	case v1alpha1.VolumeOperationUnshare:
		return fact.Present && fact.Protocol == v1alpha1.ProtocolNone
	case v1alpha1.VolumeOperationSetReplica:
		return op.Replicas != nil && fact.Replicas == *op.Replicas
	case v1alpha1.VolumeOperationPublish:
		return op.Publish != nil && fact.Target != nil && fact.Target.Nexus == op.Publish.Nexus
	case v1alpha1.VolumeOperationUnpublish:
		return fact.Target == nil
	case v1alpha1.VolumeOperationRemoveUnusedReplica:
		// The fold does not change the volume record; committing is safe
		// whether or not the replica was actually removed.
		return true
	}
	return false
}

func replicaApplied(_ *v1alpha1.ReplicaSpec, op v1alpha1.ReplicaOperation, fact *engine.Fact) bool {
	switch op.Kind {
	case v1alpha1.ReplicaOperationCreate:
		return fact.Present
	case v1alpha1.ReplicaOperationDestroy:
		return !fact.Present
	case v1alpha1.ReplicaOperationShare:
		return op.Share != nil && fact.Protocol == op.Share.Protocol()
	case v1alpha1.ReplicaOperationUnshare:
		return fact.Present && fact.Protocol == v1alpha1.ProtocolNone
	}
	return false
}

func nexusApplied(_ *v1alpha1.NexusSpec, op v1alpha1.NexusOperation, fact *engine.Fact) bool {
	switch op.Kind {
	case v1alpha1.NexusOperationCreate:
		return fact.Present
	case v1alpha1.NexusOperationDestroy:
		return !fact.Present
	case v1alpha1.NexusOperationShare:
		return op.Share != nil && fact.Protocol == op.Share.Protocol()
	case v1alpha1.NexusOperationUnshare:
		return fact.Present && fact.Protocol == v1alpha1.ProtocolNone
	case v1alpha1.NexusOperationAddChild:
		return op.Child != nil && slices.Contains(fact.Children, *op.Child)
	case v1alpha1.NexusOperationRemoveChild:
		return op.Child != nil && fact.Present && !slices.Contains(fact.Children, *op.Child)
	}
	return false
}
