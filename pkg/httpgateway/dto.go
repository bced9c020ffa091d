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

package httpgateway

import (
	"encoding/json"

	"github.com/clustercast/simcore/pkg/apierrors"
	"github.com/clustercast/simcore/pkg/entities"
	"github.com/clustercast/simcore/pkg/ids"
	"github.com/clustercast/simcore/pkg/mutation"
	"github.com/clustercast/simcore/pkg/mutationlog"
	"github.com/clustercast/simcore/pkg/simulate"
)

// overridesDTO mirrors mutation.Overrides on the wire.
type overridesDTO struct {
	ReqCPUM      *ids.CPUMillicores    `json:"req_cpu_m,omitempty"`
	ReqMemB      *ids.MemoryBytes      `json:"req_mem_b,omitempty"`
	Tolerations  []entities.Toleration `json:"tolerations,omitempty"`
	NodeSelector map[string]string     `json:"node_selector,omitempty"`
	Affinity     *entities.Affinity    `json:"affinity,omitempty"`
}

func (o *overridesDTO) toOverrides() *mutation.Overrides {
	if o == nil {
		return nil
	}
	return &mutation.Overrides{
		ReqCPUM: o.ReqCPUM, ReqMemB: o.ReqMemB,
		Tolerations: o.Tolerations, NodeSelector: o.NodeSelector, Affinity: o.Affinity,
	}
}

// patchDTO mirrors mutation.PatchFields on the wire.
type patchDTO struct {
	ReqCPUM      *ids.CPUMillicores    `json:"req_cpu_m,omitempty"`
	ReqMemB      *ids.MemoryBytes      `json:"req_mem_b,omitempty"`
	Tolerations  []entities.Toleration `json:"tolerations,omitempty"`
	NodeSelector map[string]string     `json:"node_selector,omitempty"`
	Affinity     *entities.Affinity    `json:"affinity,omitempty"`
}

func (p *patchDTO) toPatchFields() mutation.PatchFields {
	return mutation.PatchFields{
		ReqCPUM: p.ReqCPUM, ReqMemB: p.ReqMemB,
		Tolerations: p.Tolerations, NodeSelector: p.NodeSelector, Affinity: p.Affinity,
	}
}

// opDTO is one tagged operation as it appears on the wire: "op" plus
// whichever op-specific fields that kind reads.
type opDTO struct {
	Op                string            `json:"op"`
	PodIDs            []ids.PodID       `json:"pod_ids,omitempty"`
	TargetPool        ids.PoolName      `json:"target_pool,omitempty"`
	NodeID            ids.NodeID        `json:"node_id,omitempty"`
	NodeName          string            `json:"node_name,omitempty"`
	Namespace         string            `json:"namespace,omitempty"`
	OwnerKind         string            `json:"owner_kind,omitempty"`
	OwnerName         string            `json:"owner_name,omitempty"`
	IncludeSystem     bool              `json:"include_system,omitempty"`
	IncludeDaemonSets bool              `json:"include_daemonsets,omitempty"`
	Overrides         *overridesDTO     `json:"overrides,omitempty"`
	Patch             *patchDTO         `json:"patch,omitempty"`
}

func (o opDTO) toOp() (mutation.Op, error) {
	kind := mutation.OpKind(o.Op)
	switch kind {
	case mutation.OpResetToBaseline, mutation.OpMovePodsToPool, mutation.OpMovePodToNode,
		mutation.OpMoveNamespaceToPool, mutation.OpMoveOwnerToPool, mutation.OpMoveNodePodsToPool,
		mutation.OpPatchPods, mutation.OpDeletePods, mutation.OpDeleteNamespace, mutation.OpDeleteOwner:
	default:
		return mutation.Op{}, apierrors.New(apierrors.Validation, "unknown op %q", o.Op)
	}
	op := mutation.Op{
		Kind: kind, PodIDs: o.PodIDs, TargetPool: o.TargetPool, NodeID: o.NodeID, NodeName: o.NodeName,
		Namespace: o.Namespace, OwnerKind: o.OwnerKind, OwnerName: o.OwnerName,
		IncludeSystem: o.IncludeSystem, IncludeDaemonSets: o.IncludeDaemonSets,
		Overrides: o.Overrides.toOverrides(),
	}
	if o.Patch != nil {
		op.Patch = o.Patch.toPatchFields()
	}
	return op, nil
}

// mutateRequest accepts either {"operations": [Op...]} or a single bare Op.
type mutateRequest struct {
	Operations []opDTO `json:"operations,omitempty"`
}

func parseMutateBody(data []byte) ([]mutation.Op, error) {
	var wrapped mutateRequest
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.Operations) > 0 {
		return toOps(wrapped.Operations)
	}
	var single opDTO
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, apierrors.Wrap(apierrors.Validation, err)
	}
	if single.Op == "" {
		return nil, apierrors.New(apierrors.Validation, "request body has no operations")
	}
	return toOps([]opDTO{single})
}

func toOps(dtos []opDTO) ([]mutation.Op, error) {
	ops := make([]mutation.Op, 0, len(dtos))
	for _, d := range dtos {
		op, err := d.toOp()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// simulationResponse is the full /simulate and post-mutate response shape.
type simulationResponse struct {
	Summary    simulate.Summary                   `json:"summary"`
	Nodes      []simulate.NodeRow                 `json:"nodes"`
	PodsByNode map[ids.NodeID][]simulate.PodView   `json:"pods_by_node"`
	Logs       []mutationlog.Entry                `json:"logs"`
}

func toSimulationResponse(res *simulate.Result, logs []mutationlog.Entry) simulationResponse {
	return simulationResponse{Summary: res.Summary, Nodes: res.Nodes, PodsByNode: res.PodsByNode, Logs: logs}
}

// planMoveRequest is the body of POST /plan_move.
type planMoveRequest struct {
	PodID      ids.PodID  `json:"pod_id"`
	TargetNode ids.NodeID `json:"target_node"`
}

// planMoveResponse suggests the scheduling hints a real move to TargetNode
// would need, derived from the target node's and pool's taints.
type planMoveResponse struct {
	PodID                  ids.PodID             `json:"pod_id"`
	OwnerKind              string                `json:"owner_kind,omitempty"`
	OwnerName              string                `json:"owner_name,omitempty"`
	CurrentReqCPUM         ids.CPUMillicores     `json:"current_req_cpu_m"`
	CurrentReqMemB         ids.MemoryBytes       `json:"current_req_mem_b"`
	SuggestedTolerations   []entities.Toleration `json:"suggested_tolerations,omitempty"`
	SuggestedNodeSelector  map[string]string     `json:"suggested_node_selector,omitempty"`
}

// snapshotSummaryResponse mirrors manager.Summary on the wire (same shape;
// kept distinct so handlers.go doesn't leak an internal package type
// directly into the JSON contract).
type snapshotSummaryResponse struct {
	ID         string `json:"id"`
	NodesCount int    `json:"nodes_count"`
	PodsCount  int    `json:"pods_count"`
	IsActive   bool   `json:"is_active"`
}

type captureResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type activateResponse struct {
	Status string `json:"status"`
	Active string `json:"active"`
}

type refreshPricesResponse struct {
	OK            bool                           `json:"ok"`
	Region        string                         `json:"region"`
	InstanceTypes []ids.InstanceType              `json:"instance_types"`
	HourlyPrices  map[ids.InstanceType]ids.USDPerHour `json:"hourly_prices"`
}

type nodePoolSummaryResponse struct {
	Name                ids.PoolName                  `json:"name"`
	NodesCount          int                           `json:"nodes_count"`
	IsKeda              bool                          `json:"is_keda"`
	ConsolidationPolicy entities.ConsolidationPolicy  `json:"consolidation_policy"`
}

type priceEntryResponse struct {
	InstanceType ids.InstanceType `json:"instance_type"`
	USDPerHour   ids.USDPerHour   `json:"usd_per_hour"`
	Source       string           `json:"source"`
	Missing      bool             `json:"missing"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}
