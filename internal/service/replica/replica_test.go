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

package replica_test

import (
	"context"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/deckhouse/sds-volume-control/api/v1alpha1"
	"github.com/deckhouse/sds-volume-control/internal/ctlerrors"
	"github.com/deckhouse/sds-volume-control/internal/engine/enginetest"
	"github.com/deckhouse/sds-volume-control/internal/ledger"
	"github.com/deckhouse/sds-volume-control/internal/service/replica"
	"github.com/deckhouse/sds-volume-control/internal/store/memstore"
)

const (
	repUUID = v1alpha1.ReplicaID("0ddbd2f8-94c3-4db7-89a2-c91cf0a9a3f9")
	volUUID = v1alpha1.VolumeID("7f1c6a25-18e8-44e1-b357-d3e61d2d5f1b")
)

var _ = Describe("Replica service", func() {
	var (
		ctx context.Context
		eng *enginetest.Fake
		svc *replica.Service
	)

	newRequest := func() *v1alpha1.CreateReplica {
		return &v1alpha1.CreateReplica{UUID: repUUID, Size: 5 << 30, Pool: "pool-1", Thin: true}
	}

	BeforeEach(func() {
		ctx = context.Background()
		eng = enginetest.New()

		l, err := ledger.New(ledger.Options{Store: memstore.New(), Engine: eng})
		Expect(err).NotTo(HaveOccurred())
		Expect(l.Open(ctx)).To(Succeed())

		svc, err = replica.New(l, eng, logr.Discard())
		Expect(err).NotTo(HaveOccurred())
	})

	It("creates a replica idempotently", func() {
		first, err := svc.Create(ctx, newRequest())
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Status.Created()).To(BeTrue())
		Expect(first.Thin).To(BeTrue())

		second, err := svc.Create(ctx, newRequest())
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(first))
		Expect(eng.Applied()).To(HaveLen(1))
	})

	It("rejects a conflicting create for the same id", func() {
		_, err := svc.Create(ctx, newRequest())
		Expect(err).NotTo(HaveOccurred())

		req := newRequest()
		req.Pool = "pool-2"
		_, err = svc.Create(ctx, req)
		Expect(err).To(MatchError(ctlerrors.ErrAlreadyExists))
	})

	It("requires a pool and a positive size", func() {
		req := newRequest()
		req.Pool = ""
		_, err := svc.Create(ctx, req)
		Expect(err).To(MatchError(ctlerrors.ErrInvalidOperation))

		req = newRequest()
		req.Size = 0
		_, err = svc.Create(ctx, req)
		Expect(err).To(MatchError(ctlerrors.ErrInvalidOperation))
	})

	It("destroys idempotently", func() {
		_, err := svc.Create(ctx, newRequest())
		Expect(err).NotTo(HaveOccurred())

		Expect(svc.Destroy(ctx, repUUID)).To(Succeed())
		Expect(svc.Destroy(ctx, repUUID)).To(Succeed())
		_, err = svc.Get(repUUID)
		Expect(err).To(MatchError(ctlerrors.ErrNotFound))
	})

	It("refuses to destroy a managed replica that backs a volume", func() {
		req := newRequest()
		req.Managed = true
		req.Owners = []v1alpha1.VolumeID{volUUID}
		_, err := svc.Create(ctx, req)
		Expect(err).NotTo(HaveOccurred())

		Expect(svc.Destroy(ctx, repUUID)).To(MatchError(ctlerrors.ErrInvalidOperation))
	})

	It("shares and unshares", func() {
		_, err := svc.Create(ctx, newRequest())
		Expect(err).NotTo(HaveOccurred())

		out, err := svc.Share(ctx, repUUID, v1alpha1.ShareProtocolNvmf)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Share).To(Equal(v1alpha1.ProtocolNvmf))

		out, err = svc.Unshare(ctx, repUUID)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Share).To(Equal(v1alpha1.ProtocolNone))

		// Unsharing again is a no-op.
		applied := len(eng.Applied())
		_, err = svc.Unshare(ctx, repUUID)
		Expect(err).NotTo(HaveOccurred())
		Expect(eng.Applied()).To(HaveLen(applied))
	})

	It("lists replicas of a volume", func() {
		req := newRequest()
		req.Owners = []v1alpha1.VolumeID{volUUID}
		_, err := svc.Create(ctx, req)
		Expect(err).NotTo(HaveOccurred())

		Expect(svc.ListForVolume(volUUID)).To(HaveLen(1))
		Expect(svc.ListForVolume("00000000-0000-0000-0000-000000000000")).To(BeEmpty())
	})
})
