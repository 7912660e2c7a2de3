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

// Package memstore is an in-memory spec store for tests. It implements the
// same contract as the etcd backend and supports failure injection via an
// interceptor, in the spirit of the fake-client interceptors used elsewhere
// in our test suites.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/deckhouse/sds-volume-control/internal/store"
)

// Op names a store operation for the interceptor.
type Op string

const (
	OpGet    Op = "get"
	OpPut    Op = "put"
	OpDelete Op = "delete"
	OpList   Op = "list"
)

// Interceptor runs before an operation; a non-nil error aborts it.
type Interceptor func(op Op, key string) error

// Store is an in-memory store.Store.
type Store struct {
	mu        sync.RWMutex
	data      map[string][]byte
	intercept Interceptor
}

var _ store.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{data: map[string][]byte{}}
}

// SetInterceptor installs fn for subsequent operations. Pass nil to remove.
func (s *Store) SetInterceptor(fn Interceptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intercept = fn
}

func (s *Store) run(op Op, key string) error {
	if s.intercept != nil {
		return s.intercept(op, key)
	}
	return nil
}

// Get implements store.Store.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.run(OpGet, key); err != nil {
		return nil, err
	}
	v, ok := s.data[key]
	if !ok {
		return nil, store.ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Put implements store.Store.
func (s *Store) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.run(OpPut, key); err != nil {
		return err
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.data[key] = v
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.run(OpDelete, key); err != nil {
		return err
	}
	delete(s.data, key)
	return nil
}

// List implements store.Store.
func (s *Store) List(_ context.Context, prefix string) ([]store.KV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.run(OpList, prefix); err != nil {
		return nil, err
	}
	var kvs []store.KV
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			out := make([]byte, len(v))
			copy(out, v)
			kvs = append(kvs, store.KV{Key: k, Value: out})
		}
	}
	sort.Slice(kvs, func(i, j int) bool { return kvs[i].Key < kvs[j].Key })
	return kvs, nil
}

// Len reports the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Has reports whether key is present.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok
}
