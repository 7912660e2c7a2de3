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

package volume_test

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/deckhouse/sds-volume-control/api/v1alpha1"
	"github.com/deckhouse/sds-volume-control/internal/ctlerrors"
	"github.com/deckhouse/sds-volume-control/internal/engine"
	"github.com/deckhouse/sds-volume-control/internal/engine/enginetest"
	"github.com/deckhouse/sds-volume-control/internal/ledger"
	"github.com/deckhouse/sds-volume-control/internal/service/replica"
	"github.com/deckhouse/sds-volume-control/internal/service/volume"
	"github.com/deckhouse/sds-volume-control/internal/store/memstore"
)

const (
	volUUID = v1alpha1.VolumeID("7f1c6a25-18e8-44e1-b357-d3e61d2d5f1b")
	repUUID = v1alpha1.ReplicaID("9b02d7e6-4a6c-47b5-ae75-0c3118e7b073")
)

var _ = Describe("Volume service", func() {
	var (
		ctx  context.Context
		st   *memstore.Store
		eng  *enginetest.Fake
		l    *ledger.Ledger
		svc  *volume.Service
		reps *replica.Service
	)

	newRequest := func() *v1alpha1.CreateVolume {
		return &v1alpha1.CreateVolume{UUID: volUUID, Size: 10 << 30, Replicas: 2}
	}

	BeforeEach(func() {
		ctx = context.Background()
		st = memstore.New()
		eng = enginetest.New()

		var err error
		l, err = ledger.New(ledger.Options{Store: st, Engine: eng})
		Expect(err).NotTo(HaveOccurred())
		Expect(l.Open(ctx)).To(Succeed())

		svc, err = volume.New(l, eng, logr.Discard())
		Expect(err).NotTo(HaveOccurred())
		reps, err = replica.New(l, eng, logr.Discard())
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Create", func() {
		It("creates a volume and realizes it on the data-plane", func() {
			out, err := svc.Create(ctx, newRequest())
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Status.Created()).To(BeTrue())
			Expect(out.NumReplicas).To(Equal(uint8(2)))
			Expect(eng.AppliedActions()).To(Equal([]engine.Action{engine.ActionCreate}))
		})

		It("treats an equivalent retry as success without re-executing", func() {
			first, err := svc.Create(ctx, newRequest())
			Expect(err).NotTo(HaveOccurred())

			second, err := svc.Create(ctx, newRequest())
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal(first))
			Expect(eng.Applied()).To(HaveLen(1))
		})

		It("rejects a conflicting request for an existing id", func() {
			_, err := svc.Create(ctx, newRequest())
			Expect(err).NotTo(HaveOccurred())

			req := newRequest()
			req.Size = 20 << 30
			_, err = svc.Create(ctx, req)
			Expect(err).To(MatchError(ctlerrors.ErrAlreadyExists))
		})

		It("rejects a retry whose heal placement constraints differ", func() {
			first, err := svc.Create(ctx, newRequest())
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Policy.Topology).To(BeNil())

			req := newRequest()
			req.Policy.Topology = &v1alpha1.Topology{
				Explicit: &v1alpha1.ExplicitTopology{AllowedNodes: []v1alpha1.NodeID{"n1", "n2"}},
			}
			_, err = svc.Create(ctx, req)
			Expect(err).To(MatchError(ctlerrors.ErrAlreadyExists))

			got, err := svc.Get(volUUID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Policy.Topology).To(BeNil())
		})

		It("rejects more replicas than explicitly allowed nodes", func() {
			req := newRequest()
			req.Replicas = 3
			req.Topology.Explicit = &v1alpha1.ExplicitTopology{AllowedNodes: []v1alpha1.NodeID{"n1", "n2"}}
			_, err := svc.Create(ctx, req)
			Expect(err).To(MatchError(ctlerrors.ErrInvalidOperation))
			Expect(eng.Applied()).To(BeEmpty())
		})

		It("rejects malformed requests before starting anything", func() {
			_, err := svc.Create(ctx, &v1alpha1.CreateVolume{UUID: "not-a-uuid", Size: 1, Replicas: 1})
			Expect(err).To(MatchError(ctlerrors.ErrInvalidOperation))

			req := newRequest()
			req.Size = 0
			_, err = svc.Create(ctx, req)
			Expect(err).To(MatchError(ctlerrors.ErrInvalidOperation))
			Expect(eng.Applied()).To(BeEmpty())
		})

		It("leaves no record behind when the data-plane rejects the create", func() {
			eng.ApplyErr = fmt.Errorf("no pools with enough capacity")
			_, err := svc.Create(ctx, newRequest())
			Expect(err).To(MatchError(ctlerrors.ErrEngineFailed))

			_, err = svc.Get(volUUID)
			Expect(err).To(MatchError(ctlerrors.ErrNotFound))
			Expect(st.Len()).To(BeZero())

			// And the id is reusable once the data-plane recovers.
			eng.ApplyErr = nil
			out, err := svc.Create(ctx, newRequest())
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Status.Created()).To(BeTrue())
		})
	})

	Describe("Destroy", func() {
		It("destroys a volume and removes its record", func() {
			_, err := svc.Create(ctx, newRequest())
			Expect(err).NotTo(HaveOccurred())

			Expect(svc.Destroy(ctx, volUUID)).To(Succeed())
			_, err = svc.Get(volUUID)
			Expect(err).To(MatchError(ctlerrors.ErrNotFound))
			Expect(st.Len()).To(BeZero())
		})

		It("succeeds for an absent volume", func() {
			Expect(svc.Destroy(ctx, volUUID)).To(Succeed())
		})

		It("succeeds when the data-plane already lost the volume", func() {
			_, err := svc.Create(ctx, newRequest())
			Expect(err).NotTo(HaveOccurred())
			eng.SetFact(v1alpha1.ObjectKey{Kind: v1alpha1.KindVolumeSpec, ID: string(volUUID)}, nil)

			Expect(svc.Destroy(ctx, volUUID)).To(Succeed())
			_, err = svc.Get(volUUID)
			Expect(err).To(MatchError(ctlerrors.ErrNotFound))
		})

		It("refuses to destroy a published volume", func() {
			_, err := svc.Create(ctx, newRequest())
			Expect(err).NotTo(HaveOccurred())
			_, err = svc.Publish(ctx, volUUID, "node-1", nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(svc.Destroy(ctx, volUUID)).To(MatchError(ctlerrors.ErrInvalidOperation))
		})
	})

	Describe("Publish and Unpublish", func() {
		BeforeEach(func() {
			_, err := svc.Create(ctx, newRequest())
			Expect(err).NotTo(HaveOccurred())
		})

		It("publishes on a node and records the target", func() {
			nvmf := v1alpha1.ShareProtocolNvmf
			out, err := svc.Publish(ctx, volUUID, "node-1", &nvmf)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Published()).To(BeTrue())
			Expect(out.Target.Node).To(Equal(v1alpha1.NodeID("node-1")))
			Expect(out.Protocol).To(Equal(v1alpha1.ProtocolNvmf))
			Expect(out.LastNexusID).NotTo(BeNil())
			Expect(*out.LastNexusID).To(Equal(out.Target.Nexus))
		})

		It("is idempotent for the same node and rejects a different node", func() {
			out, err := svc.Publish(ctx, volUUID, "node-1", nil)
			Expect(err).NotTo(HaveOccurred())

			again, err := svc.Publish(ctx, volUUID, "node-1", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(Equal(out))

			_, err = svc.Publish(ctx, volUUID, "node-2", nil)
			Expect(err).To(MatchError(ctlerrors.ErrInvalidOperation))
		})

		It("reuses the nexus id across republish", func() {
			first, err := svc.Publish(ctx, volUUID, "node-1", nil)
			Expect(err).NotTo(HaveOccurred())
			nexus := first.Target.Nexus

			_, err = svc.Unpublish(ctx, volUUID)
			Expect(err).NotTo(HaveOccurred())

			second, err := svc.Publish(ctx, volUUID, "node-2", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Target.Nexus).To(Equal(nexus))
		})

		It("unpublish of an unpublished volume succeeds without an operation", func() {
			out, err := svc.Unpublish(ctx, volUUID)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Published()).To(BeFalse())
			Expect(eng.Applied()).To(HaveLen(1), "only the create ran")
		})
	})

	Describe("SetReplicaCount", func() {
		BeforeEach(func() {
			_, err := svc.Create(ctx, newRequest())
			Expect(err).NotTo(HaveOccurred())
		})

		It("changes the desired replica count", func() {
			out, err := svc.SetReplicaCount(ctx, volUUID, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.NumReplicas).To(Equal(uint8(3)))
		})

		It("does nothing when the count already matches", func() {
			out, err := svc.SetReplicaCount(ctx, volUUID, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.NumReplicas).To(Equal(uint8(2)))
			Expect(eng.Applied()).To(HaveLen(1))
		})

		It("rejects a zero count", func() {
			_, err := svc.SetReplicaCount(ctx, volUUID, 0)
			Expect(err).To(MatchError(ctlerrors.ErrInvalidOperation))
		})
	})

	Describe("RemoveUnusedReplica", func() {
		BeforeEach(func() {
			_, err := svc.Create(ctx, newRequest())
			Expect(err).NotTo(HaveOccurred())
			_, err = reps.Create(ctx, &v1alpha1.CreateReplica{
				UUID: repUUID, Size: 10 << 30, Pool: "pool-1", Managed: true,
				Owners: []v1alpha1.VolumeID{volUUID},
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("destroys a superfluous replica through its own record", func() {
			// The volume wants one replica; the one on pool-1 is spare.
			_, err := svc.SetReplicaCount(ctx, volUUID, 1)
			Expect(err).NotTo(HaveOccurred())
			_, err = reps.Create(ctx, &v1alpha1.CreateReplica{
				UUID: "55c118f8-3a5f-4a76-9d1b-4e19a4a8f6a4", Size: 10 << 30, Pool: "pool-2", Managed: true,
				Owners: []v1alpha1.VolumeID{volUUID},
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.RemoveUnusedReplica(ctx, volUUID, repUUID)
			Expect(err).NotTo(HaveOccurred())

			_, err = reps.Get(repUUID)
			Expect(err).To(MatchError(ctlerrors.ErrNotFound))
			Expect(reps.ListForVolume(volUUID)).To(HaveLen(1))
		})

		It("refuses while every replica is still needed", func() {
			_, err := svc.RemoveUnusedReplica(ctx, volUUID, repUUID)
			Expect(err).To(MatchError(ctlerrors.ErrInvalidOperation))
		})

		It("refuses a replica backing another volume", func() {
			other := v1alpha1.VolumeID("e4f4a0d4-97b6-4f0e-8a3e-6f8f4e7f3c21")
			_, err := svc.Create(ctx, &v1alpha1.CreateVolume{UUID: other, Size: 1 << 30, Replicas: 1})
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.RemoveUnusedReplica(ctx, other, repUUID)
			Expect(err).To(MatchError(ctlerrors.ErrInvalidOperation))
		})
	})

	Describe("Share and Unshare", func() {
		BeforeEach(func() {
			_, err := svc.Create(ctx, newRequest())
			Expect(err).NotTo(HaveOccurred())
		})

		It("shares and unshares a volume", func() {
			out, err := svc.Share(ctx, volUUID, v1alpha1.ShareProtocolNvmf)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Protocol).To(Equal(v1alpha1.ProtocolNvmf))

			out, err = svc.Unshare(ctx, volUUID)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Protocol).To(Equal(v1alpha1.ProtocolNone))
		})

		It("rejects re-sharing over a different protocol", func() {
			_, err := svc.Share(ctx, volUUID, v1alpha1.ShareProtocolNvmf)
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.Share(ctx, volUUID, v1alpha1.ShareProtocolIscsi)
			Expect(err).To(MatchError(ctlerrors.ErrInvalidOperation))
		})

		It("treats sharing over the current protocol as a no-op", func() {
			_, err := svc.Share(ctx, volUUID, v1alpha1.ShareProtocolNvmf)
			Expect(err).NotTo(HaveOccurred())
			applied := len(eng.Applied())

			out, err := svc.Share(ctx, volUUID, v1alpha1.ShareProtocolNvmf)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Protocol).To(Equal(v1alpha1.ProtocolNvmf))
			Expect(eng.Applied()).To(HaveLen(applied))
		})
	})
})
