/*
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

package packer_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/clustercast/simcore/pkg/entities"
	"github.com/clustercast/simcore/pkg/ids"
	"github.com/clustercast/simcore/pkg/packer"
	"github.com/clustercast/simcore/pkg/priceapi"
)

func TestPacker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Packer")
}

func newPod(id ids.PodID, cpu ids.CPUMillicores, mem ids.MemoryBytes) *entities.Pod {
	return &entities.Pod{ID: id, Namespace: "default", ReqCPUM: cpu, ReqMemB: mem, ActiveRatio: entities.DefaultActiveRatio}
}

func newNode(id ids.NodeID, pool ids.PoolName, inst ids.InstanceType, cpu ids.CPUMillicores, mem ids.MemoryBytes) *entities.Node {
	return &entities.Node{ID: id, Name: string(id), NodePool: pool, InstanceType: inst, AllocCPUM: cpu, AllocMemB: mem, AllocPods: entities.DefaultAllocPods}
}

var _ = Describe("Place", func() {
	var snap *entities.Snapshot
	var prices *priceapi.Table

	BeforeEach(func() {
		snap = entities.New()
		prices = priceapi.New()
	})

	It("places a pod onto an existing node with room", func() {
		node := newNode("n1", "default-pool", "m6a.large", 2000, 8<<30)
		snap.Nodes[node.ID] = node
		pod := newPod("default/p1", 500, 1<<30)
		snap.Pods[pod.ID] = pod

		Expect(packer.Place(snap, prices, []ids.PodID{pod.ID}, "default-pool")).To(Succeed())
		Expect(snap.Pods[pod.ID].Node).NotTo(BeNil())
		Expect(*snap.Pods[pod.ID].Node).To(Equal(node.ID))
	})

	It("picks the tightest-fit node among several candidates", func() {
		roomy := newNode("roomy", "default-pool", "m6a.xlarge", 4000, 16<<30)
		snug := newNode("snug", "default-pool", "m6a.large", 1000, 2<<30)
		snap.Nodes[roomy.ID] = roomy
		snap.Nodes[snug.ID] = snug
		pod := newPod("default/p1", 500, 1<<30)
		snap.Pods[pod.ID] = pod

		Expect(packer.Place(snap, prices, []ids.PodID{pod.ID}, "default-pool")).To(Succeed())
		Expect(*snap.Pods[pod.ID].Node).To(Equal(snug.ID))
	})

	It("synthesizes a virtual node from the cheapest template when nothing fits", func() {
		prices.LoadJSON([]byte(`{"region":"test","prices":{"m6a.large":0.10,"c6a.large":0.05}}`))
		cheap := newNode("cheap", "default-pool", "c6a.large", 100, 1<<20)
		pricey := newNode("pricey", "default-pool", "m6a.large", 100, 1<<20)
		snap.Nodes[cheap.ID] = cheap
		snap.Nodes[pricey.ID] = pricey
		pod := newPod("default/p1", 2000, 4<<30)
		snap.Pods[pod.ID] = pod

		Expect(packer.Place(snap, prices, []ids.PodID{pod.ID}, "default-pool")).To(Succeed())
		boundID := *snap.Pods[pod.ID].Node
		bound := snap.Nodes[boundID]
		Expect(bound.IsVirtual).To(BeTrue())
		Expect(bound.InstanceType).To(Equal(ids.InstanceType("c6a.large")))
		Expect(string(bound.ID)).To(Equal("cheap-virt-1"))
	})

	It("fails when the pool has no node to template", func() {
		pod := newPod("default/p1", 500, 1<<30)
		snap.Pods[pod.ID] = pod

		err := packer.Place(snap, prices, []ids.PodID{pod.ID}, "empty-pool")
		Expect(err).To(HaveOccurred())
	})

	It("respects anti-affinity when choosing a node", func() {
		nodeA := newNode("a", "default-pool", "m6a.large", 2000, 8<<30)
		snap.Nodes[nodeA.ID] = nodeA
		existing := newPod("default/existing", 100, 1<<20)
		existing.OwnerName = "frontend-6f9d8c7b5"
		nodeID := nodeA.ID
		existing.Node = &nodeID
		existing.Affinity = &entities.Affinity{PodAntiAffinity: &entities.PodAntiAffinity{TopologyKey: "hostname"}}
		snap.Pods[existing.ID] = existing

		pod := newPod("default/p2", 100, 1<<20)
		pod.OwnerName = "frontend-6f9d8c7b5-extra"
		pod.Affinity = &entities.Affinity{PodAntiAffinity: &entities.PodAntiAffinity{TopologyKey: "hostname"}}
		snap.Pods[pod.ID] = pod

		// Node "a" has room but hosts a pod with the same 15-char owner
		// prefix, so the pod goes to a freshly synthesized virtual node.
		Expect(packer.Place(snap, prices, []ids.PodID{pod.ID}, "default-pool")).To(Succeed())
		boundID := *snap.Pods[pod.ID].Node
		Expect(boundID).NotTo(Equal(nodeA.ID))
		Expect(snap.Nodes[boundID].IsVirtual).To(BeTrue())
	})
})
