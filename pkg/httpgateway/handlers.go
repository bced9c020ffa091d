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

// Package httpgateway is the thin translation layer between the wire
// protocol and the simulation core: request DTOs become mutation ops, the
// manager's active snapshot is read or replaced, the Simulator projects a
// result, and the result is serialized back out. No scheduling or pricing
// decision is made in this package.
package httpgateway

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/clustercast/simcore/pkg/apierrors"
	"github.com/clustercast/simcore/pkg/collector"
	"github.com/clustercast/simcore/pkg/entities"
	"github.com/clustercast/simcore/pkg/ids"
	"github.com/clustercast/simcore/pkg/log"
	"github.com/clustercast/simcore/pkg/manager"
	"github.com/clustercast/simcore/pkg/metrics"
	"github.com/clustercast/simcore/pkg/mutation"
	"github.com/clustercast/simcore/pkg/mutationlog"
	"github.com/clustercast/simcore/pkg/priceapi"
	"github.com/clustercast/simcore/pkg/simulate"
)

const idempotencyHeader = "Idempotency-Key"

// Gateway wires the manager, price table and mutation log behind net/http
// handlers. Gateway itself holds no mutable state of its own beyond the
// idempotency cache, which is safe for concurrent use.
type Gateway struct {
	Manager      *manager.Manager
	Prices       *priceapi.Table
	Log          *mutationlog.Log
	SnapshotsDir string
	Baseline     *entities.Snapshot
	Now          func() int64

	// idempotency lazily caches POST /mutate responses by client-supplied
	// Idempotency-Key so a retried request never double-applies a batch.
	idempotency     *gocache.Cache
	idempotencyOnce sync.Once
}

func (g *Gateway) idempotencyCache() *gocache.Cache {
	g.idempotencyOnce.Do(func() {
		if g.idempotency == nil {
			g.idempotency = gocache.New(5*time.Minute, 10*time.Minute)
		}
	})
	return g.idempotency
}

type cachedResponse struct {
	status int
	body   any
}

// withRequestID assigns every inbound request a UUID and echoes it back as
// a response header, so a client-reported incident can be correlated with
// a single log line without the server needing to persist anything.
func (g *Gateway) withRequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", uuid.NewString())
		next(w, r)
	}
}

// Router builds the full route table. Patterns use Go 1.22's method-and-path
// ServeMux matching; no third-party router is pulled in (see DESIGN.md).
func (g *Gateway) Router() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /simulate", g.withRequestID(g.handleSimulate))
	mux.HandleFunc("POST /mutate", g.withRequestID(g.handleMutate))
	mux.HandleFunc("POST /plan_move", g.withRequestID(g.handlePlanMove))
	mux.HandleFunc("GET /snapshots", g.withRequestID(g.handleListSnapshots))
	mux.HandleFunc("POST /snapshots/capture", g.withRequestID(g.handleCapture))
	mux.HandleFunc("POST /snapshots/{id}/activate", g.withRequestID(g.handleActivate))
	mux.HandleFunc("POST /admin/refresh-prices", g.withRequestID(g.handleRefreshPrices))
	mux.HandleFunc("GET /nodepools", g.withRequestID(g.handleNodePools))
	mux.HandleFunc("GET /prices", g.withRequestID(g.handlePrices))
	return mux
}

func (g *Gateway) now() int64 {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now().Unix()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apierrors.KindOf(err) {
	case apierrors.Validation, apierrors.Inconsistent:
		status = http.StatusBadRequest
	case apierrors.NotFound:
		status = http.StatusNotFound
	case apierrors.ExternalTransient:
		status = http.StatusBadGateway
	case apierrors.Fatal:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: string(apierrors.KindOf(err))})
}

func (g *Gateway) runSimulation(id string, snap *entities.Snapshot) simulationResponse {
	done := metrics.Measure(id)
	defer done()
	res := simulate.Run(snap, g.Prices)
	return toSimulationResponse(res, g.Log.For(id))
}

func (g *Gateway) handleSimulate(w http.ResponseWriter, r *http.Request) {
	id, snap, ok := g.Manager.GetActive()
	if !ok {
		writeError(w, apierrors.New(apierrors.NotFound, "no active snapshot"))
		return
	}
	writeJSON(w, http.StatusOK, g.runSimulation(id, snap))
}

func (g *Gateway) handleMutate(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(idempotencyHeader)
	if key != "" {
		if cached, found := g.idempotencyCache().Get(key); found {
			resp := cached.(cachedResponse)
			writeJSON(w, resp.status, resp.body)
			return
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apierrors.Wrap(apierrors.Validation, err))
		return
	}
	ops, err := parseMutateBody(body)
	if err != nil {
		writeError(w, err)
		return
	}

	id, active, ok := g.Manager.GetActive()
	if !ok {
		writeError(w, apierrors.New(apierrors.NotFound, "no active snapshot"))
		return
	}

	out, err := mutation.Apply(active, g.Baseline, ops)
	if err != nil {
		for _, op := range ops {
			metrics.MutationsTotal.WithLabelValues(string(op.Kind), "error").Inc()
		}
		writeError(w, err)
		return
	}
	if err := g.Manager.UpdateActive(out); err != nil {
		writeError(w, err)
		return
	}
	nowUnix := g.now()
	for _, op := range ops {
		metrics.MutationsTotal.WithLabelValues(string(op.Kind), "ok").Inc()
		if op.Kind == mutation.OpResetToBaseline {
			g.Log.Clear(id)
			continue
		}
		g.Log.Append(id, nowUnix, string(op.Kind), "")
	}

	resp := g.runSimulation(id, out)
	if key != "" {
		g.idempotencyCache().SetDefault(key, cachedResponse{status: http.StatusOK, body: resp})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handlePlanMove(w http.ResponseWriter, r *http.Request) {
	var req planMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierrors.Wrap(apierrors.Validation, err))
		return
	}
	_, snap, ok := g.Manager.GetActive()
	if !ok {
		writeError(w, apierrors.New(apierrors.NotFound, "no active snapshot"))
		return
	}
	pod, ok := snap.Pods[req.PodID]
	if !ok {
		writeError(w, apierrors.New(apierrors.NotFound, "unknown pod id %q", req.PodID))
		return
	}
	node, ok := snap.Nodes[req.TargetNode]
	if !ok {
		writeError(w, apierrors.New(apierrors.NotFound, "unknown node id %q", req.TargetNode))
		return
	}

	taints := append([]entities.Taint(nil), node.Taints...)
	if pool, ok := snap.NodePools[node.NodePool]; ok {
		taints = append(taints, pool.Taints...)
	}
	seen := map[entities.Taint]bool{}
	tolerations := make([]entities.Toleration, 0, len(taints))
	for _, t := range taints {
		if seen[t] {
			continue
		}
		seen[t] = true
		taint := t
		key := taint.Key
		value := taint.Value
		effect := taint.Effect
		tolerations = append(tolerations, entities.Toleration{
			Key: &key, Operator: entities.TolerationOpEqual, Value: &value, Effect: &effect,
		})
	}

	writeJSON(w, http.StatusOK, planMoveResponse{
		PodID: pod.ID, OwnerKind: pod.OwnerKind, OwnerName: pod.OwnerName,
		CurrentReqCPUM: pod.ReqCPUM, CurrentReqMemB: pod.ReqMemB,
		SuggestedTolerations:  tolerations,
		SuggestedNodeSelector: map[string]string{mutation.NodePoolLabelKey: string(node.NodePool)},
	})
}

func (g *Gateway) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	list := g.Manager.List()
	out := make([]snapshotSummaryResponse, 0, len(list))
	for _, s := range list {
		out = append(out, snapshotSummaryResponse(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) handleCapture(w http.ResponseWriter, r *http.Request) {
	_, active, ok := g.Manager.GetActive()
	if !ok {
		writeError(w, apierrors.New(apierrors.NotFound, "no active snapshot"))
		return
	}
	id := g.Manager.Capture(g.now(), active.DeepCopy())
	if g.SnapshotsDir != "" {
		if _, err := collector.SaveFile(g.SnapshotsDir, id, active); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, captureResponse{ID: id, Message: "captured snapshot " + id})
}

func (g *Gateway) handleActivate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.Manager.SetActive(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, activateResponse{Status: "ok", Active: id})
}

func (g *Gateway) handleRefreshPrices(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InstanceTypes []ids.InstanceType `json:"instance_types"`
	}
	if r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if err := g.Prices.RefreshFromExternal(r.Context(), req.InstanceTypes); err != nil {
		log.FromContext(r.Context()).Error(err, "price refresh failed")
		writeError(w, err)
		return
	}
	snap := g.Prices.Snapshot()
	hourly := make(map[ids.InstanceType]ids.USDPerHour, len(snap))
	for inst, e := range snap {
		hourly[inst] = e.USDPerHour
	}
	writeJSON(w, http.StatusOK, refreshPricesResponse{OK: true, InstanceTypes: req.InstanceTypes, HourlyPrices: hourly})
}

// handleNodePools is a read-only projection over the active snapshot's
// NodePools: one row per pool with its current node count.
func (g *Gateway) handleNodePools(w http.ResponseWriter, r *http.Request) {
	_, snap, ok := g.Manager.GetActive()
	if !ok {
		writeError(w, apierrors.New(apierrors.NotFound, "no active snapshot"))
		return
	}
	nodesPerPool := map[ids.PoolName]int{}
	for _, n := range snap.Nodes {
		nodesPerPool[n.NodePool]++
	}
	out := make([]nodePoolSummaryResponse, 0, len(snap.NodePools))
	for name, pool := range snap.NodePools {
		out = append(out, nodePoolSummaryResponse{
			Name: name, NodesCount: nodesPerPool[name], IsKeda: pool.IsKeda, ConsolidationPolicy: pool.ConsolidationPolicy,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, out)
}

// handlePrices dumps the current price-table contents, one row per
// instance type in the table (compiled defaults, file loads and refreshes).
func (g *Gateway) handlePrices(w http.ResponseWriter, r *http.Request) {
	snap := g.Prices.Snapshot()
	out := make([]priceEntryResponse, 0, len(snap))
	for inst, e := range snap {
		out = append(out, priceEntryResponse{InstanceType: inst, USDPerHour: e.USDPerHour, Source: e.Source})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceType < out[j].InstanceType })
	writeJSON(w, http.StatusOK, out)
}
