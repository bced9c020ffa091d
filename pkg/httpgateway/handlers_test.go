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

package httpgateway_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/clustercast/simcore/pkg/entities"
	"github.com/clustercast/simcore/pkg/httpgateway"
	"github.com/clustercast/simcore/pkg/ids"
	"github.com/clustercast/simcore/pkg/manager"
	"github.com/clustercast/simcore/pkg/mutationlog"
	"github.com/clustercast/simcore/pkg/priceapi"
)

func nodeIDPtr(id string) *ids.NodeID {
	n := ids.NodeID(id)
	return &n
}

func TestHTTPGateway(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "HTTPGateway")
}

func newGateway() (*httpgateway.Gateway, *manager.Manager) {
	mgr := manager.New()
	snap := entities.New()
	snap.Nodes["n1"] = &entities.Node{
		ID: "n1", Name: "n1", NodePool: "p", InstanceType: "r6a.large",
		AllocCPUM: 2000, AllocMemB: 16 << 30, AllocPods: 110,
	}
	mgr.Add("baseline", snap)
	prices := priceapi.New()
	g := &httpgateway.Gateway{
		Manager: mgr, Prices: prices, Log: mutationlog.New(),
		Now: func() int64 { return 1700000000 },
	}
	return g, mgr
}

var _ = Describe("GET /simulate", func() {
	It("returns the active snapshot's projection", func() {
		g, _ := newGateway()
		req := httptest.NewRequest(http.MethodGet, "/simulate", nil)
		w := httptest.NewRecorder()
		g.Router().ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusOK))

		var body map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &body)).To(Succeed())
		Expect(body).To(HaveKey("summary"))
		Expect(body).To(HaveKey("logs"))
	})
})

var _ = Describe("GET /nodepools and GET /prices", func() {
	It("lists nodepool summaries", func() {
		g, mgr := newGateway()
		_, snap, _ := mgr.GetActive()
		snap.NodePools["p"] = &entities.NodePool{Name: "p", ConsolidationPolicy: entities.WhenEmpty}
		req := httptest.NewRequest(http.MethodGet, "/nodepools", nil)
		w := httptest.NewRecorder()
		g.Router().ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring(`"name":"p"`))
	})

	It("dumps the current price table", func() {
		g, _ := newGateway()
		req := httptest.NewRequest(http.MethodGet, "/prices", nil)
		w := httptest.NewRecorder()
		g.Router().ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring("r6a.large"))
	})
})

var _ = Describe("GET /snapshots and activate", func() {
	It("lists and activates by id", func() {
		g, mgr := newGateway()
		mgr.Add("alt", entities.New())

		req := httptest.NewRequest(http.MethodGet, "/snapshots", nil)
		w := httptest.NewRecorder()
		g.Router().ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusOK))

		req2 := httptest.NewRequest(http.MethodPost, "/snapshots/alt/activate", nil)
		w2 := httptest.NewRecorder()
		g.Router().ServeHTTP(w2, req2)
		Expect(w2.Code).To(Equal(http.StatusOK))

		id, _, _ := mgr.GetActive()
		Expect(id).To(Equal("alt"))
	})

	It("404s for an unknown id", func() {
		g, _ := newGateway()
		req := httptest.NewRequest(http.MethodPost, "/snapshots/nope/activate", nil)
		w := httptest.NewRecorder()
		g.Router().ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusNotFound))
	})
})

var _ = Describe("POST /mutate", func() {
	It("applies a single bare op and logs it", func() {
		g, mgr := newGateway()
		_, snap, _ := mgr.GetActive()
		snap.Pods["ns/a"] = &entities.Pod{ID: "ns/a", Namespace: "ns", ActiveRatio: 1}

		body := []byte(`{"op":"move_pods_to_pool","pod_ids":["ns/a"],"target_pool":"B"}`)
		req := httptest.NewRequest(http.MethodPost, "/mutate", bytes.NewReader(body))
		w := httptest.NewRecorder()
		g.Router().ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusOK))

		_, active, _ := mgr.GetActive()
		Expect(active.Pods["ns/a"].NodeSelector["node.clustercast.io/nodepool"]).To(Equal("B"))
		Expect(g.Log.For("baseline")).To(HaveLen(1))
	})

	It("applies a batch of operations with one trailing GC pass", func() {
		g, mgr := newGateway()
		_, snap, _ := mgr.GetActive()
		snap.Pods["kube-system/ds"] = &entities.Pod{
			ID: "kube-system/ds", Namespace: "kube-system", Node: nodeIDPtr("n1"), IsDaemonSet: true,
		}
		snap.Pods["ns/a"] = &entities.Pod{ID: "ns/a", Namespace: "ns", Node: nodeIDPtr("n1"), ActiveRatio: 1}

		body := []byte(`{"operations":[{"op":"delete_pods","pod_ids":["ns/a"]}]}`)
		req := httptest.NewRequest(http.MethodPost, "/mutate", bytes.NewReader(body))
		w := httptest.NewRecorder()
		g.Router().ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusOK))

		_, active, _ := mgr.GetActive()
		Expect(active.Nodes).NotTo(HaveKey(ids.NodeID("n1")))
	})

	It("rejects an unknown op with 400", func() {
		g, _ := newGateway()
		body := []byte(`{"op":"not_a_real_op"}`)
		req := httptest.NewRequest(http.MethodPost, "/mutate", bytes.NewReader(body))
		w := httptest.NewRecorder()
		g.Router().ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("replays a cached response for a repeated Idempotency-Key without reapplying the op", func() {
		g, mgr := newGateway()
		_, snap, _ := mgr.GetActive()
		snap.Pods["ns/a"] = &entities.Pod{ID: "ns/a", Namespace: "ns", ActiveRatio: 1}

		body := []byte(`{"op":"delete_pods","pod_ids":["ns/a"]}`)
		req1 := httptest.NewRequest(http.MethodPost, "/mutate", bytes.NewReader(body))
		req1.Header.Set("Idempotency-Key", "retry-1")
		w1 := httptest.NewRecorder()
		g.Router().ServeHTTP(w1, req1)
		Expect(w1.Code).To(Equal(http.StatusOK))

		req2 := httptest.NewRequest(http.MethodPost, "/mutate", bytes.NewReader(body))
		req2.Header.Set("Idempotency-Key", "retry-1")
		w2 := httptest.NewRecorder()
		g.Router().ServeHTTP(w2, req2)
		Expect(w2.Code).To(Equal(http.StatusOK))
		Expect(w2.Body.String()).To(Equal(w1.Body.String()))
	})
})

var _ = Describe("reset_to_baseline", func() {
	It("clears the mutation log for the snapshot", func() {
		g, mgr := newGateway()
		_, baseline, _ := mgr.GetActive()
		g.Baseline = baseline.DeepCopy()
		_, snap, _ := mgr.GetActive()
		snap.Pods["ns/a"] = &entities.Pod{ID: "ns/a", Namespace: "ns", ActiveRatio: 1}

		moveBody := []byte(`{"op":"move_pods_to_pool","pod_ids":["ns/a"],"target_pool":"B"}`)
		req := httptest.NewRequest(http.MethodPost, "/mutate", bytes.NewReader(moveBody))
		w := httptest.NewRecorder()
		g.Router().ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(g.Log.For("baseline")).To(HaveLen(1))

		resetBody := []byte(`{"op":"reset_to_baseline"}`)
		req2 := httptest.NewRequest(http.MethodPost, "/mutate", bytes.NewReader(resetBody))
		w2 := httptest.NewRecorder()
		g.Router().ServeHTTP(w2, req2)
		Expect(w2.Code).To(Equal(http.StatusOK))
		Expect(g.Log.For("baseline")).To(BeEmpty())
	})
})

var _ = Describe("POST /plan_move", func() {
	It("derives suggested tolerations and node selector from the target node", func() {
		g, mgr := newGateway()
		_, snap, _ := mgr.GetActive()
		snap.Pods["ns/a"] = &entities.Pod{ID: "ns/a", Namespace: "ns", ReqCPUM: 100, ReqMemB: 1 << 20}
		snap.Nodes["n1"].Taints = []entities.Taint{{Key: "spot", Effect: entities.NoSchedule}}

		body := []byte(`{"pod_id":"ns/a","target_node":"n1"}`)
		req := httptest.NewRequest(http.MethodPost, "/plan_move", bytes.NewReader(body))
		w := httptest.NewRecorder()
		g.Router().ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring(`"node.clustercast.io/nodepool":"p"`))
		Expect(w.Body.String()).To(ContainSubstring(`"spot"`))
	})
})
