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

package nexus_test

import (
	"context"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/deckhouse/sds-volume-control/api/v1alpha1"
	"github.com/deckhouse/sds-volume-control/internal/ctlerrors"
	"github.com/deckhouse/sds-volume-control/internal/engine/enginetest"
	"github.com/deckhouse/sds-volume-control/internal/ledger"
	"github.com/deckhouse/sds-volume-control/internal/service/nexus"
	"github.com/deckhouse/sds-volume-control/internal/store/memstore"
)

const nexUUID = v1alpha1.NexusID("5a9f6b71-6157-4f06-9bd7-bdfce41aa09e")

var _ = Describe("Nexus service", func() {
	var (
		ctx context.Context
		eng *enginetest.Fake
		svc *nexus.Service
	)

	newRequest := func() *v1alpha1.CreateNexus {
		return &v1alpha1.CreateNexus{
			UUID:     nexUUID,
			Node:     "node-1",
			Size:     10 << 30,
			Children: []string{"bdev:///child-1", "bdev:///child-2"},
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		eng = enginetest.New()

		l, err := ledger.New(ledger.Options{Store: memstore.New(), Engine: eng})
		Expect(err).NotTo(HaveOccurred())
		Expect(l.Open(ctx)).To(Succeed())

		svc, err = nexus.New(l, eng, logr.Discard())
		Expect(err).NotTo(HaveOccurred())
	})

	It("creates a nexus and defaults the name to the id", func() {
		out, err := svc.Create(ctx, newRequest())
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Status.Created()).To(BeTrue())
		Expect(out.Name).To(Equal(string(nexUUID)))
		Expect(out.Children).To(HaveLen(2))
	})

	It("requires a node and at least one child", func() {
		req := newRequest()
		req.Node = ""
		_, err := svc.Create(ctx, req)
		Expect(err).To(MatchError(ctlerrors.ErrInvalidOperation))

		req = newRequest()
		req.Children = nil
		_, err = svc.Create(ctx, req)
		Expect(err).To(MatchError(ctlerrors.ErrInvalidOperation))
	})

	It("adds and removes children through operations", func() {
		_, err := svc.Create(ctx, newRequest())
		Expect(err).NotTo(HaveOccurred())

		out, err := svc.AddChild(ctx, nexUUID, "bdev:///child-3")
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Children).To(ContainElement("bdev:///child-3"))

		out, err = svc.RemoveChild(ctx, nexUUID, "bdev:///child-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Children).NotTo(ContainElement("bdev:///child-1"))
		Expect(out.Children).To(HaveLen(2))
	})

	It("adding an attached child is a no-op", func() {
		_, err := svc.Create(ctx, newRequest())
		Expect(err).NotTo(HaveOccurred())
		applied := len(eng.Applied())

		out, err := svc.AddChild(ctx, nexUUID, "bdev:///child-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Children).To(HaveLen(2))
		Expect(eng.Applied()).To(HaveLen(applied))
	})

	It("refuses to remove the last child", func() {
		_, err := svc.Create(ctx, newRequest())
		Expect(err).NotTo(HaveOccurred())
		_, err = svc.RemoveChild(ctx, nexUUID, "bdev:///child-1")
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.RemoveChild(ctx, nexUUID, "bdev:///child-2")
		Expect(err).To(MatchError(ctlerrors.ErrInvalidOperation))
	})

	It("destroys idempotently", func() {
		_, err := svc.Create(ctx, newRequest())
		Expect(err).NotTo(HaveOccurred())

		Expect(svc.Destroy(ctx, nexUUID)).To(Succeed())
		Expect(svc.Destroy(ctx, nexUUID)).To(Succeed())
		_, err = svc.Get(nexUUID)
		Expect(err).To(MatchError(ctlerrors.ErrNotFound))
	})

	It("shares and unshares", func() {
		_, err := svc.Create(ctx, newRequest())
		Expect(err).NotTo(HaveOccurred())

		out, err := svc.Share(ctx, nexUUID, v1alpha1.ShareProtocolNvmf)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Share).To(Equal(v1alpha1.ProtocolNvmf))

		out, err = svc.Unshare(ctx, nexUUID)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Share).To(Equal(v1alpha1.ProtocolNone))
	})
})
