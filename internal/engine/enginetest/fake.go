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

// Package enginetest provides a fake data-plane for ledger and service
// tests. It records every applied request and keeps a runtime fact per
// resource, so tests can assert both what was executed and what recovery
// would observe.
package enginetest

import (
	"context"
	"sync"

	"github.com/deckhouse/sds-volume-control/api/v1alpha1"
	"github.com/deckhouse/sds-volume-control/internal/engine"
)

// Fake is an in-memory engine.Engine.
type Fake struct {
	mu      sync.Mutex
	applied []engine.Request
	facts   map[v1alpha1.ObjectKey]*engine.Fact

	// ApplyErr, when set, is returned by every Apply call.
	ApplyErr error
	// ApplyHook, when set, runs instead of the default bookkeeping.
	ApplyHook func(req engine.Request) (*engine.Fact, error)
}

var _ engine.Engine = (*Fake)(nil)

// New returns an empty fake engine.
func New() *Fake {
	return &Fake{facts: map[v1alpha1.ObjectKey]*engine.Fact{}}
}

// Apply implements engine.Engine. Without hooks it realizes the request
// against the fact map: create-like actions make the resource present,
// destroy removes it, everything else requires it to be present.
func (f *Fake) Apply(_ context.Context, req engine.Request) (*engine.Fact, error) {
	f.mu.Lock()
	hook := f.ApplyHook
	f.mu.Unlock()

	// The hook runs unlocked so tests can block inside it.
	if hook != nil {
		fact, err := hook(req)
		if err == nil {
			f.mu.Lock()
			f.applied = append(f.applied, req)
			f.mu.Unlock()
		}
		return fact, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ApplyErr != nil {
		return nil, f.ApplyErr
	}

	fact, present := f.facts[req.Key]

	switch req.Action {
	case engine.ActionCreate:
		fact = &engine.Fact{Present: true, Protocol: v1alpha1.ProtocolNone}
		f.facts[req.Key] = fact
	case engine.ActionDestroy:
		if !present {
			return nil, engine.ErrTargetNotFound
		}
		delete(f.facts, req.Key)
		fact = &engine.Fact{Present: false}
	case engine.ActionUnpublish, engine.ActionUnshare:
		if !present {
			return nil, engine.ErrTargetNotFound
		}
		fact.Target = nil
		fact.Protocol = v1alpha1.ProtocolNone
	default:
		if !present {
			return nil, engine.ErrTargetNotFound
		}
	}

	f.applied = append(f.applied, req)
	out := *fact
	return &out, nil
}

// Inspect implements engine.Engine.
func (f *Fake) Inspect(_ context.Context, key v1alpha1.ObjectKey) (*engine.Fact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fact, ok := f.facts[key]; ok {
		out := *fact
		return &out, nil
	}
	return &engine.Fact{Present: false}, nil
}

// SetFact seeds the runtime state of a resource, for recovery tests.
func (f *Fake) SetFact(key v1alpha1.ObjectKey, fact *engine.Fact) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fact == nil {
		delete(f.facts, key)
		return
	}
	cp := *fact
	f.facts[key] = &cp
}

// Applied returns a copy of all successfully applied requests, in order.
func (f *Fake) Applied() []engine.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]engine.Request, len(f.applied))
	copy(out, f.applied)
	return out
}

// AppliedActions returns just the actions of Applied, convenient in
// assertions.
func (f *Fake) AppliedActions() []engine.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]engine.Action, 0, len(f.applied))
	for _, r := range f.applied {
		out = append(out, r.Action)
	}
	return out
}
