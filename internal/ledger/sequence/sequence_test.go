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

package sequence_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/deckhouse/sds-volume-control/internal/ledger/sequence"
)

func TestTryAcquireRelease(t *testing.T) {
	s := sequence.New()

	if !s.TryAcquire() {
		t.Fatal("fresh sequence is not acquirable")
	}
	if s.TryAcquire() {
		t.Fatal("held sequence acquired twice")
	}

	s.Release()
	if !s.TryAcquire() {
		t.Fatal("released sequence is not acquirable")
	}
}

func TestMutualExclusion(t *testing.T) {
	// Many goroutines hammer one sequence; at most one may be inside the
	// critical section at any time.
	s := sequence.New()

	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		entered atomic.Int32
	)

	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				if !s.TryAcquire() {
					continue
				}
				entered.Add(1)
				if n := inside.Add(1); n != 1 {
					t.Errorf("%d holders inside the guard", n)
				}
				inside.Add(-1)
				s.Release()
			}
		}()
	}
	wg.Wait()

	if entered.Load() == 0 {
		t.Fatal("no goroutine ever acquired the sequence")
	}
}

func TestIndependentSequences(t *testing.T) {
	a, b := sequence.New(), sequence.New()

	if !a.TryAcquire() {
		t.Fatal("a is not acquirable")
	}
	// Holding a must not affect b.
	if !b.TryAcquire() {
		t.Fatal("b blocked by a different resource's guard")
	}
	a.Release()
	b.Release()
}
