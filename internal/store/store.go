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

// Package store is the persistence contract of the spec ledger: a flat
// key-value store with durable-on-return writes. No transactions across keys
// are assumed; every write is a whole-record overwrite.
package store

import (
	"context"
	"errors"

	"github.com/deckhouse/sds-volume-control/api/v1alpha1"
)

// ErrKeyNotFound is returned by Get for absent keys.
var ErrKeyNotFound = errors.New("key not found")

// KV is one key-value pair returned by List.
type KV struct {
	Key   string
	Value []byte
}

// Store is the backing key-value store. Implementations must guarantee that
// a returned Put/Delete is durable and that single-key writes are atomic;
// nothing more is required.
type Store interface {
	// Get returns the value at key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put overwrites the whole value at key.
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns all pairs under prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]KV, error)
}

// keyPrefix namespaces all ledger keys in a store shared with other
// consumers. The layout is <prefix>/<kind>/<id>.
const keyPrefix = "/deckhouse.io/sds-volume-control/v1alpha1"

// Key returns the store key of a spec record.
func Key(k v1alpha1.ObjectKey) string {
	return keyPrefix + "/" + string(k.Kind) + "/" + k.ID
}

// KindPrefix returns the common prefix of all records of one kind,
// used by List for startup recovery.
func KindPrefix(kind v1alpha1.ResourceKind) string {
	return keyPrefix + "/" + string(kind) + "/"
}
