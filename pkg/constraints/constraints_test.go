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

package constraints_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/clustercast/simcore/pkg/constraints"
	"github.com/clustercast/simcore/pkg/entities"
	"github.com/clustercast/simcore/pkg/ids"
)

func TestConstraints(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Constraints")
}

func strp(s string) *string          { return &s }
func effp(e entities.TaintEffect) *entities.TaintEffect { return &e }

var _ = Describe("node selector", func() {
	It("fits when every selector label matches", func() {
		node := &entities.Node{ID: "n1", Labels: map[string]string{"zone": "us-east-1a"}}
		pod := &entities.Pod{NodeSelector: map[string]string{"zone": "us-east-1a"}}
		Expect(constraints.Fits(entities.New(), pod, node)).To(BeTrue())
	})

	It("reports a violation when a label is missing or mismatched", func() {
		node := &entities.Node{ID: "n1", Labels: map[string]string{"zone": "us-east-1a"}}
		pod := &entities.Pod{NodeSelector: map[string]string{"zone": "us-east-1b"}}
		reasons := constraints.Reasons(entities.New(), pod, node)
		Expect(reasons).To(HaveLen(1))
	})
})

var _ = Describe("taints and tolerations", func() {
	It("blocks scheduling on an untolerated NoSchedule taint", func() {
		node := &entities.Node{ID: "n1", Taints: []entities.Taint{{Key: "spot", Effect: entities.NoSchedule}}}
		pod := &entities.Pod{}
		Expect(constraints.Fits(entities.New(), pod, node)).To(BeFalse())
	})

	It("allows scheduling once a matching toleration is present", func() {
		node := &entities.Node{ID: "n1", Taints: []entities.Taint{{Key: "spot", Value: "true", Effect: entities.NoSchedule}}}
		pod := &entities.Pod{Tolerations: []entities.Toleration{{Key: strp("spot"), Value: strp("true"), Effect: effp(entities.NoSchedule)}}}
		Expect(constraints.Fits(entities.New(), pod, node)).To(BeTrue())
	})

	It("ignores a PreferNoSchedule taint entirely", func() {
		node := &entities.Node{ID: "n1", Taints: []entities.Taint{{Key: "spot", Effect: entities.PreferNoSchedule}}}
		pod := &entities.Pod{}
		Expect(constraints.Fits(entities.New(), pod, node)).To(BeTrue())
	})
})

var _ = Describe("required node affinity", func() {
	It("matches an In expression against a node label", func() {
		node := &entities.Node{ID: "n1", Labels: map[string]string{"instance-type": "m6a.large"}}
		pod := &entities.Pod{Affinity: &entities.Affinity{NodeAffinity: &entities.NodeAffinity{
			RequiredTerms: []entities.NodeSelectorTerm{{MatchExpressions: []entities.MatchExpression{
				{Key: "instance-type", Operator: entities.OpIn, Values: []string{"m6a.large", "m6a.xlarge"}},
			}}},
		}}}
		Expect(constraints.Fits(entities.New(), pod, node)).To(BeTrue())
	})

	It("fails when no required term matches", func() {
		node := &entities.Node{ID: "n1", Labels: map[string]string{"instance-type": "c6a.large"}}
		pod := &entities.Pod{Affinity: &entities.Affinity{NodeAffinity: &entities.NodeAffinity{
			RequiredTerms: []entities.NodeSelectorTerm{{MatchExpressions: []entities.MatchExpression{
				{Key: "instance-type", Operator: entities.OpIn, Values: []string{"m6a.large"}},
			}}},
		}}}
		reasons := constraints.Reasons(entities.New(), pod, node)
		Expect(reasons).To(ContainElement(ContainSubstring("required node affinity")))
	})
})

var _ = Describe("minimal hostname anti-affinity", func() {
	It("conflicts when another pod on the node shares a 15-char owner-name prefix", func() {
		snap := entities.New()
		snap.Pods["ns/existing"] = &entities.Pod{ID: "ns/existing", Namespace: "ns", Node: nodeID("n1"), OwnerName: "web-7c8d9f6b5c-aaaa"}
		node := &entities.Node{ID: "n1"}
		pod := &entities.Pod{ID: "ns/new", Namespace: "ns", OwnerName: "web-7c8d9f6b5c-bbbb",
			Affinity: &entities.Affinity{PodAntiAffinity: &entities.PodAntiAffinity{TopologyKey: "hostname"}}}
		Expect(constraints.AntiAffinityOK(snap, pod, node)).To(BeFalse())
	})

	It("does not conflict across different namespaces", func() {
		snap := entities.New()
		snap.Pods["other/existing"] = &entities.Pod{ID: "other/existing", Namespace: "other", Node: nodeID("n1"), OwnerName: "web-7c8d9f6b5c-aaaa"}
		node := &entities.Node{ID: "n1"}
		pod := &entities.Pod{ID: "ns/new", Namespace: "ns", OwnerName: "web-7c8d9f6b5c-bbbb",
			Affinity: &entities.Affinity{PodAntiAffinity: &entities.PodAntiAffinity{TopologyKey: "hostname"}}}
		Expect(constraints.AntiAffinityOK(snap, pod, node)).To(BeTrue())
	})

	It("is a no-op when the pod carries no anti-affinity", func() {
		node := &entities.Node{ID: "n1"}
		pod := &entities.Pod{ID: "ns/new", Namespace: "ns"}
		Expect(constraints.AntiAffinityOK(entities.New(), pod, node)).To(BeTrue())
	})
})

func nodeID(id string) *ids.NodeID {
	n := ids.NodeID(id)
	return &n
}
