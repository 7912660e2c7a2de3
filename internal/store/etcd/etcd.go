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

// Package etcd backs the spec store with an etcd cluster. etcd's
// single-key linearizable writes are exactly the per-key atomicity the
// ledger relies on.
package etcd

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/deckhouse/sds-volume-control/internal/store"
)

// Store is an etcd-backed spec store.
type Store struct {
	cl *clientv3.Client
}

var _ store.Store = (*Store)(nil)

// Options configures the etcd connection.
type Options struct {
	// Endpoints of the etcd cluster members.
	Endpoints []string
	// DialTimeout bounds the initial connection attempt.
	DialTimeout time.Duration
}

// New connects to etcd. The connection is verified with a status probe
// against the first endpoint so a misconfigured address fails at startup
// rather than on the first operation.
func New(ctx context.Context, opts Options) (*Store, error) {
	if len(opts.Endpoints) == 0 {
		return nil, fmt.Errorf("no etcd endpoints configured")
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}

	cl, err := clientv3.New(clientv3.Config{
		Endpoints:   opts.Endpoints,
		DialTimeout: dialTimeout,
		Context:     ctx,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to etcd %v: %w", opts.Endpoints, err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if _, err := cl.Status(probeCtx, opts.Endpoints[0]); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("probing etcd %s: %w", opts.Endpoints[0], err)
	}

	return &Store{cl: cl}, nil
}

// Close releases the etcd connection.
func (s *Store) Close() error {
	return s.cl.Close()
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.cl.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("etcd get %q: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, store.ErrKeyNotFound
	}
	return resp.Kvs[0].Value, nil
}

// Put implements store.Store. etcd acknowledges only after the write is
// committed to the raft log, which satisfies the durable-on-return contract.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.cl.Put(ctx, key, string(value)); err != nil {
		return fmt.Errorf("etcd put %q: %w", key, err)
	}
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.cl.Delete(ctx, key); err != nil {
		return fmt.Errorf("etcd delete %q: %w", key, err)
	}
	return nil
}

// List implements store.Store.
func (s *Store) List(ctx context.Context, prefix string) ([]store.KV, error) {
	resp, err := s.cl.Get(ctx, prefix,
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend),
	)
	if err != nil {
		return nil, fmt.Errorf("etcd list %q: %w", prefix, err)
	}

	kvs := make([]store.KV, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		kvs = append(kvs, store.KV{Key: string(kv.Key), Value: kv.Value})
	}
	return kvs, nil
}
