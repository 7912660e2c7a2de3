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

package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/deckhouse/sds-volume-control/api/v1alpha1"
	"github.com/deckhouse/sds-volume-control/internal/ctlerrors"
	"github.com/deckhouse/sds-volume-control/internal/engine"
	"github.com/deckhouse/sds-volume-control/internal/engine/enginetest"
	"github.com/deckhouse/sds-volume-control/internal/ledger"
	"github.com/deckhouse/sds-volume-control/internal/store"
	"github.com/deckhouse/sds-volume-control/internal/store/memstore"
)

const volUUID = v1alpha1.VolumeID("21b0dc91-3c7e-4f62-8e52-0b52d3b0a19f")

func newCreateVolume() *v1alpha1.CreateVolume {
	return &v1alpha1.CreateVolume{UUID: volUUID, Size: 10 << 30, Replicas: 2}
}

func applyExec(eng engine.Engine, action engine.Action) ledger.ExecFunc[v1alpha1.VolumeSpec] {
	return func(ctx context.Context, spec *v1alpha1.VolumeSpec) error {
		_, err := eng.Apply(ctx, engine.Request{Key: spec.Key(), Action: action})
		return err
	}
}

// storedVolume reads the persisted form of a volume record straight from the
// store, bypassing the in-memory registry.
func storedVolume(st *memstore.Store, id v1alpha1.VolumeID) (*v1alpha1.VolumeSpec, bool) {
	key := store.Key(v1alpha1.ObjectKey{Kind: v1alpha1.KindVolumeSpec, ID: string(id)})
	if !st.Has(key) {
		return nil, false
	}
	b, err := st.Get(context.Background(), key)
	Expect(err).NotTo(HaveOccurred())
	spec := &v1alpha1.VolumeSpec{}
	Expect(json.Unmarshal(b, spec)).To(Succeed())
	return spec, true
}

func seedVolume(st *memstore.Store, spec *v1alpha1.VolumeSpec) {
	b, err := json.Marshal(spec)
	Expect(err).NotTo(HaveOccurred())
	Expect(st.Put(context.Background(), store.Key(spec.Key()), b)).To(Succeed())
}

// ctxStore refuses writes once the caller's context is canceled, the way a
// real network-backed store would.
type ctxStore struct {
	*memstore.Store
}

func (s *ctxStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.Put(ctx, key, value)
}

func (s *ctxStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.Delete(ctx, key)
}

var _ = Describe("RunOperation", func() {
	var (
		ctx context.Context
		st  *memstore.Store
		eng *enginetest.Fake
		l   *ledger.Ledger
	)

	BeforeEach(func() {
		ctx = context.Background()
		st = memstore.New()
		eng = enginetest.New()

		var err error
		l, err = ledger.New(ledger.Options{Store: st, Engine: eng})
		Expect(err).NotTo(HaveOccurred())
		Expect(l.Open(ctx)).To(Succeed())
	})

	createVolume := func() *v1alpha1.VolumeSpec {
		_, inserted := ledger.Register(l.Volumes(), v1alpha1.NewVolumeSpec(newCreateVolume()))
		Expect(inserted).To(BeTrue())
		out, err := ledger.RunOperation(ctx, l.Volumes(), string(volUUID), v1alpha1.VolumeOpCreate(),
			applyExec(eng, engine.ActionCreate))
		Expect(err).NotTo(HaveOccurred())
		return out
	}

	It("commits a successful create and persists the folded record", func() {
		out := createVolume()

		Expect(out.Status.Created()).To(BeTrue())
		Expect(out.Status.Runtime).To(Equal(v1alpha1.VolumeStatusOnline))
		Expect(out.PendingOp()).To(BeFalse())

		stored, ok := storedVolume(st, volUUID)
		Expect(ok).To(BeTrue())
		Expect(stored).To(Equal(out))
	})

	It("rejects a second operation while one is in flight", func() {
		createVolume()

		release := make(chan struct{})
		entered := make(chan struct{})
		eng.ApplyHook = func(engine.Request) (*engine.Fact, error) {
			close(entered)
			<-release
			return &engine.Fact{Present: true}, nil
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer GinkgoRecover()
			defer wg.Done()
			_, err := ledger.RunOperation(ctx, l.Volumes(), string(volUUID), v1alpha1.VolumeOpSetReplica(3),
				applyExec(eng, engine.ActionSetReplica))
			Expect(err).NotTo(HaveOccurred())
		}()

		<-entered
		_, err := ledger.RunOperation(ctx, l.Volumes(), string(volUUID), v1alpha1.VolumeOpUnshare(),
			applyExec(eng, engine.ActionUnshare))
		Expect(err).To(MatchError(ctlerrors.ErrBusy))

		close(release)
		wg.Wait()

		// The losing caller changed nothing.
		spec, err := l.Volumes().Get(string(volUUID))
		Expect(err).NotTo(HaveOccurred())
		Expect(spec.NumReplicas).To(Equal(uint8(3)))
	})

	It("serializes concurrent operations against one record", func() {
		createVolume()

		var inFlight, maxInFlight atomic.Int32
		eng.ApplyHook = func(engine.Request) (*engine.Fact, error) {
			n := inFlight.Add(1)
			if m := maxInFlight.Load(); n > m {
				maxInFlight.Store(n)
			}
			inFlight.Add(-1)
			return &engine.Fact{Present: true}, nil
		}

		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func(n uint8) {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := ledger.RunOperation(ctx, l.Volumes(), string(volUUID), v1alpha1.VolumeOpSetReplica(n),
					applyExec(eng, engine.ActionSetReplica))
				if err != nil {
					Expect(err).To(MatchError(ctlerrors.ErrBusy))
				}
			}(uint8(1 + i%4))
		}
		wg.Wait()

		Expect(maxInFlight.Load()).To(Equal(int32(1)))
	})

	It("finishes recording and committing after the caller's context is canceled mid-execution", func() {
		lc, err := ledger.New(ledger.Options{Store: &ctxStore{Store: st}, Engine: eng})
		Expect(err).NotTo(HaveOccurred())
		Expect(lc.Open(ctx)).To(Succeed())

		_, inserted := ledger.Register(lc.Volumes(), v1alpha1.NewVolumeSpec(newCreateVolume()))
		Expect(inserted).To(BeTrue())
		_, err = ledger.RunOperation(ctx, lc.Volumes(), string(volUUID), v1alpha1.VolumeOpCreate(),
			applyExec(eng, engine.ActionCreate))
		Expect(err).NotTo(HaveOccurred())

		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		eng.ApplyHook = func(engine.Request) (*engine.Fact, error) {
			cancel()
			return &engine.Fact{Present: true}, nil
		}

		out, err := ledger.RunOperation(cctx, lc.Volumes(), string(volUUID), v1alpha1.VolumeOpSetReplica(5),
			applyExec(eng, engine.ActionSetReplica))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.NumReplicas).To(Equal(uint8(5)))
		Expect(out.PendingOp()).To(BeFalse())

		// The result and the committed fold reached the store despite the
		// canceled caller.
		stored, ok := storedVolume(st, volUUID)
		Expect(ok).To(BeTrue())
		Expect(stored.NumReplicas).To(Equal(uint8(5)))
		Expect(stored.PendingOp()).To(BeFalse())
	})

	It("clears a failed operation and reverts the record", func() {
		createVolume()

		eng.ApplyErr = fmt.Errorf("nexus is faulted")
		_, err := ledger.RunOperation(ctx, l.Volumes(), string(volUUID), v1alpha1.VolumeOpShare(v1alpha1.ShareProtocolNvmf),
			applyExec(eng, engine.ActionShare))
		Expect(err).To(MatchError(ctlerrors.ErrEngineFailed))

		spec, getErr := l.Volumes().Get(string(volUUID))
		Expect(getErr).NotTo(HaveOccurred())
		Expect(spec.Protocol).To(Equal(v1alpha1.ProtocolNone))
		Expect(spec.PendingOp()).To(BeFalse())

		stored, ok := storedVolume(st, volUUID)
		Expect(ok).To(BeTrue())
		Expect(stored).To(Equal(spec))
	})

	It("does not start an operation the store refused to record", func() {
		createVolume()

		st.SetInterceptor(func(op memstore.Op, _ string) error {
			if op == memstore.OpPut {
				return fmt.Errorf("etcd unavailable")
			}
			return nil
		})
		_, err := ledger.RunOperation(ctx, l.Volumes(), string(volUUID), v1alpha1.VolumeOpShare(v1alpha1.ShareProtocolNvmf),
			applyExec(eng, engine.ActionShare))
		Expect(err).To(MatchError(ctlerrors.ErrStoreFailed))
		Expect(eng.Applied()).To(HaveLen(1), "executor must not run for an unrecorded operation")
		st.SetInterceptor(nil)

		spec, getErr := l.Volumes().Get(string(volUUID))
		Expect(getErr).NotTo(HaveOccurred())
		Expect(spec.PendingOp()).To(BeFalse())

		// Retrying after the outage works.
		out, err := ledger.RunOperation(ctx, l.Volumes(), string(volUUID), v1alpha1.VolumeOpShare(v1alpha1.ShareProtocolNvmf),
			applyExec(eng, engine.ActionShare))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Protocol).To(Equal(v1alpha1.ProtocolNvmf))
	})

	It("settles an operation whose result could not be persisted before running the next one", func() {
		createVolume()

		// Fail exactly the persist that records the executor's result.
		var puts atomic.Int32
		st.SetInterceptor(func(op memstore.Op, _ string) error {
			if op == memstore.OpPut && puts.Add(1) == 2 {
				return fmt.Errorf("etcd unavailable")
			}
			return nil
		})
		_, err := ledger.RunOperation(ctx, l.Volumes(), string(volUUID), v1alpha1.VolumeOpShare(v1alpha1.ShareProtocolNvmf),
			applyExec(eng, engine.ActionShare))
		Expect(err).To(MatchError(ctlerrors.ErrStoreFailed))
		st.SetInterceptor(nil)

		// The share took effect on the data-plane and its result is known in
		// memory; the next operation folds it in before starting.
		out, err := ledger.RunOperation(ctx, l.Volumes(), string(volUUID), v1alpha1.VolumeOpSetReplica(3),
			applyExec(eng, engine.ActionSetReplica))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Protocol).To(Equal(v1alpha1.ProtocolNvmf))
		Expect(out.NumReplicas).To(Equal(uint8(3)))
		Expect(out.PendingOp()).To(BeFalse())
	})

	It("removes a destroyed record from the store and the registry", func() {
		createVolume()

		_, err := ledger.RunOperation(ctx, l.Volumes(), string(volUUID), v1alpha1.VolumeOpDestroy(),
			applyExec(eng, engine.ActionDestroy))
		Expect(err).NotTo(HaveOccurred())

		_, ok := storedVolume(st, volUUID)
		Expect(ok).To(BeFalse())
		_, err = l.Volumes().Get(string(volUUID))
		Expect(err).To(MatchError(ctlerrors.ErrNotFound))
	})

	It("returns NotFound for an unknown record", func() {
		_, err := ledger.RunOperation(ctx, l.Volumes(), string(volUUID), v1alpha1.VolumeOpUnshare(),
			applyExec(eng, engine.ActionUnshare))
		Expect(err).To(MatchError(ctlerrors.ErrNotFound))
	})
})

var _ = Describe("Open", func() {
	var (
		ctx context.Context
		st  *memstore.Store
		eng *enginetest.Fake
	)

	BeforeEach(func() {
		ctx = context.Background()
		st = memstore.New()
		eng = enginetest.New()
	})

	open := func() *ledger.Ledger {
		l, err := ledger.New(ledger.Options{Store: st, Engine: eng})
		Expect(err).NotTo(HaveOccurred())
		Expect(l.Open(ctx)).To(Succeed())
		return l
	}

	pendingShare := func(result *bool) *v1alpha1.VolumeSpec {
		spec := v1alpha1.NewVolumeSpec(newCreateVolume())
		spec.Status = v1alpha1.StatusCreated(v1alpha1.VolumeStatusOnline)
		spec.StartOp(v1alpha1.VolumeOpShare(v1alpha1.ShareProtocolNvmf))
		if result != nil {
			spec.SetOpResult(*result)
		}
		return spec
	}

	ptr := func(b bool) *bool { return &b }

	It("resumes the commit of an operation with a recorded success", func() {
		seedVolume(st, pendingShare(ptr(true)))

		l := open()
		spec, err := l.Volumes().Get(string(volUUID))
		Expect(err).NotTo(HaveOccurred())
		Expect(spec.PendingOp()).To(BeFalse())
		Expect(spec.Protocol).To(Equal(v1alpha1.ProtocolNvmf))

		stored, ok := storedVolume(st, volUUID)
		Expect(ok).To(BeTrue())
		Expect(stored).To(Equal(spec))
	})

	It("resumes the clear of an operation with a recorded failure", func() {
		seedVolume(st, pendingShare(ptr(false)))

		l := open()
		spec, err := l.Volumes().Get(string(volUUID))
		Expect(err).NotTo(HaveOccurred())
		Expect(spec.PendingOp()).To(BeFalse())
		Expect(spec.Protocol).To(Equal(v1alpha1.ProtocolNone))
	})

	It("commits an unknown-result operation the data-plane reports as applied", func() {
		seedVolume(st, pendingShare(nil))
		eng.SetFact(
			v1alpha1.ObjectKey{Kind: v1alpha1.KindVolumeSpec, ID: string(volUUID)},
			&engine.Fact{Present: true, Protocol: v1alpha1.ProtocolNvmf},
		)

		l := open()
		spec, err := l.Volumes().Get(string(volUUID))
		Expect(err).NotTo(HaveOccurred())
		Expect(spec.PendingOp()).To(BeFalse())
		Expect(spec.Protocol).To(Equal(v1alpha1.ProtocolNvmf))
		Expect(eng.Applied()).To(BeEmpty(), "recovery must observe, never re-execute")
	})

	It("discards an unknown-result operation the data-plane shows no trace of", func() {
		seedVolume(st, pendingShare(nil))
		eng.SetFact(
			v1alpha1.ObjectKey{Kind: v1alpha1.KindVolumeSpec, ID: string(volUUID)},
			&engine.Fact{Present: true, Protocol: v1alpha1.ProtocolNone},
		)

		l := open()
		spec, err := l.Volumes().Get(string(volUUID))
		Expect(err).NotTo(HaveOccurred())
		Expect(spec.PendingOp()).To(BeFalse())
		Expect(spec.Protocol).To(Equal(v1alpha1.ProtocolNone))
		Expect(eng.Applied()).To(BeEmpty())
	})

	It("recovers to the same record an uninterrupted run produces", func() {
		// Uninterrupted run.
		uSt, uEng := memstore.New(), enginetest.New()
		uLedger, err := ledger.New(ledger.Options{Store: uSt, Engine: uEng})
		Expect(err).NotTo(HaveOccurred())
		Expect(uLedger.Open(ctx)).To(Succeed())
		_, inserted := ledger.Register(uLedger.Volumes(), v1alpha1.NewVolumeSpec(newCreateVolume()))
		Expect(inserted).To(BeTrue())
		_, err = ledger.RunOperation(ctx, uLedger.Volumes(), string(volUUID), v1alpha1.VolumeOpCreate(),
			applyExec(uEng, engine.ActionCreate))
		Expect(err).NotTo(HaveOccurred())
		uninterrupted, err := uLedger.Volumes().Get(string(volUUID))
		Expect(err).NotTo(HaveOccurred())
		shared, err := ledger.RunOperation(ctx, uLedger.Volumes(), string(volUUID), v1alpha1.VolumeOpShare(v1alpha1.ShareProtocolNvmf),
			applyExec(uEng, engine.ActionShare))
		Expect(err).NotTo(HaveOccurred())

		// Interrupted run: crash right after the executor applied the share,
		// before its result was recorded.
		crashed := uninterrupted
		crashed.StartOp(v1alpha1.VolumeOpShare(v1alpha1.ShareProtocolNvmf))
		seedVolume(st, crashed)
		eng.SetFact(crashed.Key(), &engine.Fact{Present: true, Protocol: v1alpha1.ProtocolNvmf})

		l := open()
		recovered, err := l.Volumes().Get(string(volUUID))
		Expect(err).NotTo(HaveOccurred())
		Expect(recovered).To(Equal(shared))
	})

	It("finishes the removal of a logically deleted record", func() {
		spec := v1alpha1.NewVolumeSpec(newCreateVolume())
		spec.Status = v1alpha1.StatusDeleted[v1alpha1.VolumeStatus]()
		seedVolume(st, spec)

		l := open()
		_, err := l.Volumes().Get(string(volUUID))
		Expect(err).To(MatchError(ctlerrors.ErrNotFound))
		Expect(st.Len()).To(BeZero())
	})

	It("reports a store outage instead of serving partial state", func() {
		st.SetInterceptor(func(op memstore.Op, _ string) error {
			if op == memstore.OpList {
				return errors.New("etcd unavailable")
			}
			return nil
		})
		l, err := ledger.New(ledger.Options{Store: st, Engine: eng})
		Expect(err).NotTo(HaveOccurred())
		Expect(l.Open(ctx)).To(MatchError(ctlerrors.ErrStoreFailed))
	})
})

var _ = Describe("Register", func() {
	It("returns a copy of the existing record for a duplicate id", func() {
		st, eng := memstore.New(), enginetest.New()
		l, err := ledger.New(ledger.Options{Store: st, Engine: eng})
		Expect(err).NotTo(HaveOccurred())

		first := v1alpha1.NewVolumeSpec(newCreateVolume())
		_, inserted := ledger.Register(l.Volumes(), first)
		Expect(inserted).To(BeTrue())

		existing, inserted := ledger.Register(l.Volumes(), v1alpha1.NewVolumeSpec(newCreateVolume()))
		Expect(inserted).To(BeFalse())
		Expect(existing).To(Equal(first))
		Expect(existing).NotTo(BeIdenticalTo(first))
	})
})
