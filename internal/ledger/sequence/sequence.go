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

// Package sequence provides the per-resource operation sequencer: an
// in-memory exclusivity guard keyed by one spec record. It is never
// persisted; a sequencer is created unlocked whenever a record is loaded.
//
// Holding a sequence serializes logical operations against one resource id.
// Operations against different ids share nothing here and run fully in
// parallel.
package sequence

import "golang.org/x/sync/semaphore"

// Sequence is the exclusivity guard of one spec record.
//
// The zero value is not usable; call New.
type Sequence struct {
	sem *semaphore.Weighted
}

// New returns an unlocked sequence.
func New() *Sequence {
	return &Sequence{sem: semaphore.NewWeighted(1)}
}

// TryAcquire takes the guard without blocking. It reports false when another
// operation already holds it; callers surface that as a busy error.
func (s *Sequence) TryAcquire() bool {
	return s.sem.TryAcquire(1)
}

// Release returns the guard. It must be called exactly once per successful
// TryAcquire, on every exit path.
func (s *Sequence) Release() {
	s.sem.Release(1)
}
