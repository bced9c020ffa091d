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

package manager_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/clustercast/simcore/pkg/entities"
	"github.com/clustercast/simcore/pkg/manager"
)

func TestManager(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Manager")
}

var _ = Describe("Manager", func() {
	It("activates the first snapshot added", func() {
		m := manager.New()
		m.Add("baseline", entities.New())
		id, snap, ok := m.GetActive()
		Expect(ok).To(BeTrue())
		Expect(id).To(Equal("baseline"))
		Expect(snap).NotTo(BeNil())
	})

	It("fails to activate an unknown id", func() {
		m := manager.New()
		m.Add("baseline", entities.New())
		Expect(m.SetActive("missing")).To(HaveOccurred())
	})

	It("activates a second snapshot by id", func() {
		m := manager.New()
		m.Add("baseline", entities.New())
		m.Add("alt", entities.New())
		Expect(m.SetActive("alt")).To(Succeed())
		id, _, _ := m.GetActive()
		Expect(id).To(Equal("alt"))
	})

	It("captures a live snapshot under a unix-time id", func() {
		m := manager.New()
		id := m.Capture(1700000000, entities.New())
		Expect(id).To(Equal("live-1700000000"))
	})

	It("lists every registered snapshot with counts and active flag", func() {
		m := manager.New()
		snap := entities.New()
		snap.Nodes["n1"] = &entities.Node{ID: "n1"}
		m.Add("baseline", snap)
		list := m.List()
		Expect(list).To(HaveLen(1))
		Expect(list[0].NodesCount).To(Equal(1))
		Expect(list[0].IsActive).To(BeTrue())
	})
})
