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
	"sort"
	"sync"

	"github.com/go-logr/logr"

	"github.com/deckhouse/sds-volume-control/api/v1alpha1"
	"github.com/deckhouse/sds-volume-control/internal/ctlerrors"
	"github.com/deckhouse/sds-volume-control/internal/engine"
	"github.com/deckhouse/sds-volume-control/internal/ledger/sequence"
	"github.com/deckhouse/sds-volume-control/internal/store"
)

// Operation is implemented by every per-kind operation type.
type Operation interface {
	Name() string
}

// record ties a spec type to the pointer-receiver protocol methods the
// generic driver needs.
type record[T any, O Operation] interface {
	*T
	v1alpha1.Object
	v1alpha1.Transaction[O]
	Deleted() bool
}

// entry is the in-memory registration of one spec record. The sequence is
// the long-held logical guard serializing operations against the record;
// mu protects the spec itself for the brief moments it is read or mutated.
type entry[T any] struct {
	seq  *sequence.Sequence
	mu   sync.Mutex
	spec *T
}

// Collection holds all in-memory records of one resource kind together with
// the collaborators needed to run operations against them.
type Collection[T any, O Operation] struct {
	kind    v1alpha1.ResourceKind
	store   store.Store
	engine  engine.Engine
	log     logr.Logger
	metrics *Metrics

	// applied judges, from the data-plane's runtime state, whether an
	// interrupted operation with an unknown result actually took effect.
	applied func(spec *T, op O, fact *engine.Fact) bool

	mu      sync.RWMutex
	entries map[string]*entry[T]
}

func newCollection[T any, O Operation](
	kind v1alpha1.ResourceKind,
	opts Options,
	applied func(spec *T, op O, fact *engine.Fact) bool,
) *Collection[T, O] {
	return &Collection[T, O]{
		kind:    kind,
		store:   opts.Store,
		engine:  opts.Engine,
		log:     opts.Log.WithValues("kind", string(kind)),
		metrics: opts.Metrics,
		applied: applied,
		entries: map[string]*entry[T]{},
	}
}

// Kind returns the resource kind of the collection.
func (c *Collection[T, O]) Kind() v1alpha1.ResourceKind { return c.kind }

func (c *Collection[T, O]) lookup(id string) (*entry[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e, ok
}

func (c *Collection[T, O]) evict(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// allEntries returns the registered entries in id order, for recovery.
func (c *Collection[T, O]) allEntries() []*entry[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*entry[T], 0, len(ids))
	for _, id := range ids {
		out = append(out, c.entries[id])
	}
	return out
}

// cloneRecord deep-copies a spec record via its wire form. Spec records are
// plain data, so a round-trip cannot fail.
func cloneRecord[T any](in *T) *T {
	b, err := json.Marshal(in)
	if err != nil {
		panic(err)
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		panic(err)
	}
	return out
}

func (c *Collection[T, O]) snapshot(e *entry[T]) *T {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneRecord(e.spec)
}

// Get returns a copy of the record with the given id.
func (c *Collection[T, O]) Get(id string) (*T, error) {
	e, ok := c.lookup(id)
	if !ok {
		return nil, ctlerrors.ErrNotFoundf("%s %s", c.kind, id)
	}
	return c.snapshot(e), nil
}

// List returns copies of all records, ordered by id.
func (c *Collection[T, O]) List() []*T {
	entries := c.allEntries()
	out := make([]*T, 0, len(entries))
	for _, e := range entries {
		out = append(out, c.snapshot(e))
	}
	return out
}

// Register adds a fresh record to the collection. Nothing is persisted yet;
// the first durable write happens when the record's create operation starts.
//
// When a record with the same id already exists, a copy of it is returned
// with inserted=false and the caller decides whether the request is an
// idempotent retry or a conflict.
func Register[T any, O Operation, S record[T, O]](c *Collection[T, O], spec S) (*T, bool) {
	id := spec.Key().ID
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		e.mu.Lock()
		cp := cloneRecord(e.spec)
		e.mu.Unlock()
		return cp, false
	}
	c.entries[id] = &entry[T]{seq: sequence.New(), spec: (*T)(spec)}
	return nil, true
}

// Discard drops a record that never reached the Created phase, after a
// failed create. It refuses to touch a record with an operation in progress.
func (c *Collection[T, O]) Discard(ctx context.Context, id string) error {
	e, ok := c.lookup(id)
	if !ok {
		return nil
	}
	if !e.seq.TryAcquire() {
		return ctlerrors.ErrBusyf("%s %s has an operation in progress", c.kind, id)
	}
	defer e.seq.Release()

	key := v1alpha1.ObjectKey{Kind: c.kind, ID: id}
	if err := c.store.Delete(ctx, store.Key(key)); err != nil {
		return ctlerrors.ErrStoreFailedf("removing %s: %v", key, err)
	}
	c.evict(id)
	return nil
}

// persist writes the record's current state to the store. The operation
// protocol requires a persist after every protocol step.
func (c *Collection[T, O]) persist(ctx context.Context, id string, e *entry[T]) error {
	e.mu.Lock()
	b, err := json.Marshal(e.spec)
	e.mu.Unlock()
	if err != nil {
		return ctlerrors.ErrStoreFailedf("encoding %s %s: %v", c.kind, id, err)
	}
	key := v1alpha1.ObjectKey{Kind: c.kind, ID: id}
	if err := c.store.Put(ctx, store.Key(key), b); err != nil {
		return ctlerrors.ErrStoreFailedf("persisting %s: %v", key, err)
	}
	return nil
}

// removeDeleted finishes a destroy: the Deleted phase is already persisted,
// so the record may now be physically removed from the store and forgotten.
func (c *Collection[T, O]) removeDeleted(ctx context.Context, id string) error {
	key := v1alpha1.ObjectKey{Kind: c.kind, ID: id}
	if err := c.store.Delete(ctx, store.Key(key)); err != nil {
		return ctlerrors.ErrStoreFailedf("removing %s: %v", key, err)
	}
	c.evict(id)
	return nil
}
