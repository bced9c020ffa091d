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

// Package simulate composes the instance-type catalog, the pending-pod
// placement pass and the duty-cycle cost model into one pure function: given
// a snapshot and a price table, it projects per-node utilization, per-pool
// cost, and daily totals. Run never mutates its inputs; it works on an
// internal scratch copy so a caller can fire concurrent simulations against
// the same published snapshot without locking it.
package simulate

import (
	"math"
	"sort"
	"strings"

	"github.com/clustercast/simcore/pkg/constraints"
	"github.com/clustercast/simcore/pkg/entities"
	"github.com/clustercast/simcore/pkg/ids"
	"github.com/clustercast/simcore/pkg/mutation"
	"github.com/clustercast/simcore/pkg/priceapi"
)

// scaleUpLagHours is the constant "+0.5" scale-up lag added to a node's
// duty-cycle hours when it isn't running flat-out.
const scaleUpLagHours = 0.5

const gib = float64(1 << 30)

// PodView is the per-pod projection shown alongside a NodeRow.
type PodView struct {
	ID          ids.PodID         `json:"id"`
	Name        string            `json:"name"`
	Namespace   string            `json:"namespace"`
	OwnerKind   string            `json:"owner_kind,omitempty"`
	OwnerName   string            `json:"owner_name,omitempty"`
	ReqCPUM     ids.CPUMillicores `json:"req_cpu_m"`
	ReqMemB     ids.MemoryBytes   `json:"req_mem_b"`
	IsDaemonSet bool              `json:"is_daemonset"`
	IsSystem    bool              `json:"is_system"`
	IsGFW       bool              `json:"is_gfw"`
	ActiveRatio ids.Ratio         `json:"active_ratio"`
	IsSidecar   bool              `json:"is_sidecar,omitempty"`
}

// NodeRow is the per-node projection returned to callers. Only "live" nodes
// (hosting at least one non-DaemonSet pod) are included; an empty node is
// considered removed by consolidation and contributes nothing.
type NodeRow struct {
	ID           ids.NodeID        `json:"id"`
	Name         string            `json:"name"`
	Pool         ids.PoolName      `json:"pool"`
	InstanceType ids.InstanceType  `json:"instance_type"`
	AllocCPUM    ids.CPUMillicores `json:"alloc_cpu_m"`
	AllocMemB    ids.MemoryBytes   `json:"alloc_mem_b"`
	AllocPods    int               `json:"alloc_pods"`
	SumReqCPUM   ids.CPUMillicores `json:"sum_req_cpu_m"`
	SumReqMemB   ids.MemoryBytes   `json:"sum_req_mem_b"`
	SumReqPods   int               `json:"sum_req_pods"`
	SumUsageCPUM *ids.CPUMillicores `json:"sum_usage_cpu_m,omitempty"`
	SumUsageMemB *ids.MemoryBytes   `json:"sum_usage_mem_b,omitempty"`
	RAMUtilPct   float64           `json:"ram_util_pct"`
	RAMDaemonGiB float64           `json:"ram_daemon_gib"`
	RAMGFWGiB    float64           `json:"ram_gfw_gib"`
	RAMOtherGiB  float64           `json:"ram_other_gib"`
	CostDailyUSD float64           `json:"cost_daily_usd"`
	IsVirtual    bool              `json:"is_virtual"`
	PriceMissing bool              `json:"price_missing"`
}

// PoolStat is one pool's aggregated cost and node count.
type PoolStat struct {
	CostUSD    float64 `json:"cost_usd"`
	NodesCount int     `json:"nodes_count"`
}

// Summary is the top-level cost rollup of a Result.
type Summary struct {
	TotalCostDailyUSD     float64                    `json:"total_cost_daily_usd"`
	TotalCostGFWNodesUSD  float64                    `json:"total_cost_gfw_nodes_usd"`
	TotalCostKedaNodesUSD float64                    `json:"total_cost_keda_nodes_usd"`
	PoolStats             map[ids.PoolName]PoolStat `json:"pool_stats"`
	ProjectedPoolStats    map[ids.PoolName]PoolStat `json:"projected_pool_stats"`
	ProjectedTotalCostUSD float64                    `json:"projected_total_cost_usd"`
}

// Result is the full output of one simulation run.
type Result struct {
	Summary    Summary                       `json:"summary"`
	Nodes      []NodeRow                     `json:"nodes"`
	PodsByNode map[ids.NodeID][]PodView      `json:"pods_by_node"`
}

type catalogEntry struct {
	Instance    ids.InstanceType
	AllocCPUM   ids.CPUMillicores
	AllocMemB   ids.MemoryBytes
	AllocPods   int
	Price       ids.USDPerHour
	Missing     bool
	Labels      map[string]string
	Taints      []entities.Taint
	DSCPUM      ids.CPUMillicores
	DSMemB      ids.MemoryBytes
	DSPodCount  int
}

type nodeUsage struct {
	cpu  ids.CPUMillicores
	mem  ids.MemoryBytes
	pods int
}

// Run produces a full projection from snapshot using the current contents
// of prices. It is side-effect-free: snapshot is never observably modified.
func Run(snapshot *entities.Snapshot, prices *priceapi.Table) *Result {
	work := snapshot.DeepCopy()
	catalog := buildCatalog(work, prices)
	sidecars := map[ids.NodeID][]PodView{}

	placePending(work, catalog, sidecars)

	return project(work, prices, catalog, sidecars)
}

// buildCatalog records, for every distinct (pool, instance_type) present in
// snapshot, the shared node shape (alloc_*, labels, taints, price) and the
// DaemonSet overhead that would be admitted onto a node of that shape.
func buildCatalog(work *entities.Snapshot, prices *priceapi.Table) map[ids.PoolName]map[ids.InstanceType]*catalogEntry {
	catalog := map[ids.PoolName]map[ids.InstanceType]*catalogEntry{}
	for _, n := range work.Nodes {
		byInstance, ok := catalog[n.NodePool]
		if !ok {
			byInstance = map[ids.InstanceType]*catalogEntry{}
			catalog[n.NodePool] = byInstance
		}
		if _, exists := byInstance[n.InstanceType]; exists {
			continue
		}
		price, missing := prices.Lookup(n.InstanceType)
		byInstance[n.InstanceType] = &catalogEntry{
			Instance:  n.InstanceType,
			AllocCPUM: n.AllocCPUM,
			AllocMemB: n.AllocMemB,
			AllocPods: n.AllocPods,
			Price:     price,
			Missing:   missing,
			Labels:    n.Labels,
			Taints:    n.Taints,
		}
	}

	type dsTemplate struct {
		pod *entities.Pod
	}
	seen := map[string]dsTemplate{}
	for _, p := range work.Pods {
		if !p.IsDaemonSet {
			continue
		}
		key := p.Namespace + "/" + p.OwnerName
		if _, ok := seen[key]; !ok {
			seen[key] = dsTemplate{pod: p}
		}
	}
	for _, byInstance := range catalog {
		for _, entry := range byInstance {
			for _, tmpl := range seen {
				if admitsDaemonSet(tmpl.pod, entry) {
					entry.DSCPUM += tmpl.pod.ReqCPUM
					entry.DSMemB += tmpl.pod.ReqMemB
					entry.DSPodCount++
				}
			}
		}
	}
	return catalog
}

func admitsDaemonSet(pod *entities.Pod, entry *catalogEntry) bool {
	for k, v := range pod.NodeSelector {
		if entry.Labels[k] != v {
			return false
		}
	}
	for _, taint := range entry.Taints {
		if taint.Effect != entities.NoSchedule && taint.Effect != entities.NoExecute {
			continue
		}
		tolerated := false
		for _, tol := range pod.Tolerations {
			if tol.Tolerates(taint) {
				tolerated = true
				break
			}
		}
		if !tolerated {
			return false
		}
	}
	return true
}

// placePending binds every pod.node=nil pod whose node_selector pins a pool
// onto an existing node of that pool, or onto a newly synthesized one. It
// mutates work directly; callers only ever see this through Run's copy.
func placePending(work *entities.Snapshot, catalog map[ids.PoolName]map[ids.InstanceType]*catalogEntry, sidecars map[ids.NodeID][]PodView) {
	usage := map[ids.NodeID]*nodeUsage{}
	for id := range work.Nodes {
		usage[id] = &nodeUsage{}
	}
	for _, p := range work.Pods {
		if p.Node == nil {
			continue
		}
		u := usage[*p.Node]
		if u == nil {
			continue
		}
		u.cpu += p.ReqCPUM
		u.mem += p.ReqMemB
		u.pods++
	}

	var pending []ids.PodID
	for id, p := range work.Pods {
		if p.Node == nil && p.NodeSelector[mutation.NodePoolLabelKey] != "" {
			pending = append(pending, id)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })

	synthSeq := 0
	for _, pid := range pending {
		pod := work.Pods[pid]
		pool := ids.PoolName(pod.NodeSelector[mutation.NodePoolLabelKey])

		sidecar := findSidecar(work, pod)
		needCPU, needMem := pod.ReqCPUM, pod.ReqMemB
		needPods := 1
		if sidecar != nil {
			needCPU += sidecar.ReqCPUM
			needMem += sidecar.ReqMemB
			needPods++
		}

		nodeID, ok := fitExisting(work, pod, pool, usage, needCPU, needMem, needPods)
		if !ok {
			nodeID, ok = synthesizeForPool(work, catalog, pool, needCPU, needMem, needPods, usage, &synthSeq)
		}
		if !ok {
			continue
		}
		id := nodeID
		pod.Node = &id
		u := usage[nodeID]
		u.cpu += needCPU
		u.mem += needMem
		u.pods += needPods
		if sidecar != nil {
			sidecars[nodeID] = append(sidecars[nodeID], PodView{
				ID: sidecar.ID, Name: sidecar.Name, Namespace: sidecar.Namespace,
				OwnerKind: sidecar.OwnerKind, OwnerName: sidecar.OwnerName,
				ReqCPUM: sidecar.ReqCPUM, ReqMemB: sidecar.ReqMemB,
				ActiveRatio: sidecar.ActiveRatio, IsSidecar: true,
			})
		}
	}
}

// findSidecar implements the "mount-s3" heuristic: if pod's namespace
// contains another pod named with that prefix, it rides along on every
// placement of pod as a co-scheduled sidecar with the same resources.
func findSidecar(work *entities.Snapshot, pod *entities.Pod) *entities.Pod {
	for _, p := range work.Pods {
		if p.Namespace == pod.Namespace && strings.HasPrefix(p.Name, "mount-s3") && p.ID != pod.ID {
			return p
		}
	}
	return nil
}

func fitExisting(work *entities.Snapshot, pod *entities.Pod, pool ids.PoolName, usage map[ids.NodeID]*nodeUsage, needCPU ids.CPUMillicores, needMem ids.MemoryBytes, needPods int) (ids.NodeID, bool) {
	var poolNodes []ids.NodeID
	for id, n := range work.Nodes {
		if n.NodePool == pool {
			poolNodes = append(poolNodes, id)
		}
	}
	sort.Slice(poolNodes, func(i, j int) bool { return poolNodes[i] < poolNodes[j] })

	for _, nid := range poolNodes {
		n := work.Nodes[nid]
		u := usage[nid]
		if u.cpu+needCPU > n.AllocCPUM || u.mem+needMem > n.AllocMemB || u.pods+needPods > n.AllocPods {
			continue
		}
		if !constraints.AntiAffinityOK(work, pod, n) {
			continue
		}
		return nid, true
	}
	return "", false
}

// synthesizeForPool reuses an already-synthesized node in pool if one has
// room, else creates a new one from the cheapest catalog entry that fits, or
// (if none fit) from the entry with the largest memory — allowing overflow
// rather than failing outright, per the pending-pod placement algorithm.
func synthesizeForPool(work *entities.Snapshot, catalog map[ids.PoolName]map[ids.InstanceType]*catalogEntry, pool ids.PoolName, needCPU ids.CPUMillicores, needMem ids.MemoryBytes, needPods int, usage map[ids.NodeID]*nodeUsage, seq *int) (ids.NodeID, bool) {
	for id, n := range work.Nodes {
		if n.NodePool != pool || !n.IsVirtual {
			continue
		}
		u := usage[id]
		if u.cpu+needCPU <= n.AllocCPUM && u.mem+needMem <= n.AllocMemB && u.pods+needPods <= n.AllocPods {
			return id, true
		}
	}

	entries := make([]*catalogEntry, 0, len(catalog[pool]))
	for _, e := range catalog[pool] {
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return "", false
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Price < entries[j].Price })

	// A synthesized node reserves a pod slot for its DaemonSet overhead but
	// not CPU/memory: this implementation never materializes a concrete
	// DaemonSet pod object onto a freshly created virtual node, only onto
	// real ones a caller already bound one to.
	chosen := entries[0]
	fits := false
	for _, e := range entries {
		availPods := e.AllocPods - e.DSPodCount
		if needCPU <= e.AllocCPUM && needMem <= e.AllocMemB && needPods <= availPods {
			chosen, fits = e, true
			break
		}
	}
	if !fits {
		chosen = entries[0]
		for _, e := range entries[1:] {
			if e.AllocMemB > chosen.AllocMemB {
				chosen = e
			}
		}
	}

	*seq++
	templateName := string(pool) + "-" + string(chosen.Instance)
	nid := ids.VirtualNodeName(templateName, *seq)
	node := &entities.Node{
		ID: nid, Name: string(nid), NodePool: pool, InstanceType: chosen.Instance,
		AllocCPUM: chosen.AllocCPUM, AllocMemB: chosen.AllocMemB, AllocPods: chosen.AllocPods,
		Labels: chosen.Labels, Taints: chosen.Taints, IsVirtual: true,
	}
	work.Nodes[nid] = node
	usage[nid] = &nodeUsage{pods: chosen.DSPodCount}
	return nid, true
}

// project builds the NodeRow/PodView/Summary projection from a snapshot
// whose pending pods have already been placed.
func project(work *entities.Snapshot, prices *priceapi.Table, catalog map[ids.PoolName]map[ids.InstanceType]*catalogEntry, sidecars map[ids.NodeID][]PodView) *Result {
	res := &Result{
		PodsByNode: map[ids.NodeID][]PodView{},
		Summary: Summary{
			PoolStats:          map[ids.PoolName]PoolStat{},
			ProjectedPoolStats: map[ids.PoolName]PoolStat{},
		},
	}

	var nodeIDs []ids.NodeID
	for id := range work.Nodes {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Slice(nodeIDs, func(i, j int) bool { return nodeIDs[i] < nodeIDs[j] })

	actualByPool := map[ids.PoolName]float64{}
	haveHistory := map[ids.PoolName]bool{}
	for _, h := range work.HistoryUsage {
		price, _ := prices.Lookup(h.Instance)
		actualByPool[h.Pool] += float64(price) * h.InstanceHours24h
		haveHistory[h.Pool] = true
	}

	for _, nid := range nodeIDs {
		node := work.Nodes[nid]
		pods := work.PodsOnNode(nid)
		extra := sidecars[nid]
		if len(pods) == 0 && len(extra) == 0 {
			continue
		}
		if !isLive(pods) {
			continue
		}

		views := make([]PodView, 0, len(pods)+len(extra))
		var sumReqCPU ids.CPUMillicores
		var sumReqMem ids.MemoryBytes
		sumReqPods := 0
		var sumUsageCPU ids.CPUMillicores
		var sumUsageMem ids.MemoryBytes
		haveUsage := false
		var dsMemB, gfwMemB, otherMemB ids.MemoryBytes
		maxActive := ids.Ratio(0)
		anyWorkload := false

		for _, p := range pods {
			views = append(views, PodView{
				ID: p.ID, Name: p.Name, Namespace: p.Namespace,
				OwnerKind: p.OwnerKind, OwnerName: p.OwnerName,
				ReqCPUM: p.ReqCPUM, ReqMemB: p.ReqMemB,
				IsDaemonSet: p.IsDaemonSet, IsSystem: p.IsSystem, IsGFW: p.IsGFW,
				ActiveRatio: p.ActiveRatio,
			})
			sumReqCPU += p.ReqCPUM
			sumReqMem += p.ReqMemB
			sumReqPods++
			if p.UsageCPUM != nil {
				sumUsageCPU += *p.UsageCPUM
				haveUsage = true
			}
			if p.UsageMemB != nil {
				sumUsageMem += *p.UsageMemB
				haveUsage = true
			}
			switch {
			case p.IsDaemonSet:
				dsMemB += p.ReqMemB
			case p.IsGFW:
				gfwMemB += p.ReqMemB
			default:
				otherMemB += p.ReqMemB
			}
			if !p.IsDaemonSet {
				anyWorkload = true
				if p.ActiveRatio > maxActive {
					maxActive = p.ActiveRatio
				}
			}
		}
		for _, s := range extra {
			views = append(views, s)
			sumReqCPU += s.ReqCPUM
			sumReqMem += s.ReqMemB
			sumReqPods++
			otherMemB += s.ReqMemB
			anyWorkload = true
			if s.ActiveRatio > maxActive {
				maxActive = s.ActiveRatio
			}
		}
		res.PodsByNode[nid] = views

		effectiveHours := 0.0
		if anyWorkload {
			if maxActive >= 0.98 {
				effectiveHours = 24
			} else {
				effectiveHours = math.Min(24, float64(maxActive)*24+scaleUpLagHours)
			}
		}
		price, missing := prices.Lookup(node.InstanceType)
		costDaily := float64(price) * effectiveHours

		row := NodeRow{
			ID: nid, Name: node.Name, Pool: node.NodePool, InstanceType: node.InstanceType,
			AllocCPUM: node.AllocCPUM, AllocMemB: node.AllocMemB, AllocPods: node.AllocPods,
			SumReqCPUM: sumReqCPU, SumReqMemB: sumReqMem, SumReqPods: sumReqPods,
			RAMDaemonGiB: float64(dsMemB) / gib, RAMGFWGiB: float64(gfwMemB) / gib, RAMOtherGiB: float64(otherMemB) / gib,
			CostDailyUSD: costDaily, IsVirtual: node.IsVirtual, PriceMissing: missing,
		}
		if node.AllocMemB > 0 {
			row.RAMUtilPct = float64(sumReqMem) / float64(node.AllocMemB) * 100
		}
		if haveUsage {
			row.SumUsageCPUM = &sumUsageCPU
			row.SumUsageMemB = &sumUsageMem
		}
		res.Nodes = append(res.Nodes, row)

		stat := res.Summary.ProjectedPoolStats[node.NodePool]
		stat.CostUSD += costDaily
		stat.NodesCount++
		res.Summary.ProjectedPoolStats[node.NodePool] = stat

		if !node.IsVirtual {
			if !haveHistory[node.NodePool] {
				actualByPool[node.NodePool] += float64(price) * 24
			}
			astat := res.Summary.PoolStats[node.NodePool]
			astat.NodesCount++
			res.Summary.PoolStats[node.NodePool] = astat
		}

		pool := work.NodePools[node.NodePool]
		if pool != nil && pool.IsKeda {
			res.Summary.TotalCostKedaNodesUSD += costDaily
		}
		totalMem := dsMemB + gfwMemB + otherMemB
		if totalMem > 0 {
			res.Summary.TotalCostGFWNodesUSD += costDaily * float64(gfwMemB) / float64(totalMem)
		}
	}

	applyOverflow(work, catalog, prices, res)

	for pool, cost := range actualByPool {
		stat := res.Summary.PoolStats[pool]
		stat.CostUSD = cost
		res.Summary.PoolStats[pool] = stat
	}

	for _, stat := range res.Summary.PoolStats {
		res.Summary.TotalCostDailyUSD += stat.CostUSD
	}
	for _, stat := range res.Summary.ProjectedPoolStats {
		res.Summary.ProjectedTotalCostUSD += stat.CostUSD
	}
	sort.Slice(res.Nodes, func(i, j int) bool { return res.Nodes[i].ID < res.Nodes[j].ID })
	return res
}

// isLive mirrors the GC predicate: a node is reported only if it hosts a pod
// that is not a DaemonSet pod.
func isLive(pods []*entities.Pod) bool {
	for _, p := range pods {
		if !p.IsDaemonSet {
			return true
		}
	}
	return false
}

// applyOverflow covers capacity exceeded by direct move_pod_to_node calls:
// for every real node whose requests exceed its own allocatable, it adds the
// node-equivalents needed to cover the excess to that pool's projected cost,
// priced at the overfull node's own instance type.
func applyOverflow(work *entities.Snapshot, catalog map[ids.PoolName]map[ids.InstanceType]*catalogEntry, prices *priceapi.Table, res *Result) {
	for _, row := range res.Nodes {
		if row.IsVirtual {
			continue
		}
		cpuExcess := row.SumReqCPUM - row.AllocCPUM
		memExcess := row.SumReqMemB - row.AllocMemB
		podExcess := row.SumReqPods - row.AllocPods
		if cpuExcess <= 0 && memExcess <= 0 && podExcess <= 0 {
			continue
		}
		cpuFrac := 0.0
		if row.AllocCPUM > 0 && cpuExcess > 0 {
			cpuFrac = float64(cpuExcess) / float64(row.AllocCPUM)
		}
		memFrac := 0.0
		if row.AllocMemB > 0 && memExcess > 0 {
			memFrac = float64(memExcess) / float64(row.AllocMemB)
		}
		podFrac := 0.0
		if row.AllocPods > 0 && podExcess > 0 {
			podFrac = float64(podExcess) / float64(row.AllocPods)
		}
		extraNodes := math.Ceil(math.Max(cpuFrac, math.Max(memFrac, podFrac)))
		if extraNodes <= 0 {
			continue
		}
		price, _ := prices.Lookup(row.InstanceType)
		stat := res.Summary.ProjectedPoolStats[row.Pool]
		stat.CostUSD += extraNodes * float64(price) * 24
		res.Summary.ProjectedPoolStats[row.Pool] = stat
	}
}
