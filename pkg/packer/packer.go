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

// Package packer places unbound pods onto the nodes of a single pool,
// synthesizing a virtual node from the pool's cheapest real node when
// nothing existing fits. It mirrors the existing-node-first, then-synthesize
// shape of a bin-packing scheduler: try every node already in the pool
// before manufacturing a new one.
package packer

import (
	"sort"

	"github.com/clustercast/simcore/pkg/apierrors"
	"github.com/clustercast/simcore/pkg/constraints"
	"github.com/clustercast/simcore/pkg/entities"
	"github.com/clustercast/simcore/pkg/ids"
	"github.com/clustercast/simcore/pkg/priceapi"
)

type usage struct {
	cpu ids.CPUMillicores
	mem ids.MemoryBytes
}

// Place assigns every pod in pids to a node of targetPool within snapshot,
// mutating snapshot in place. Pods are placed in the order given. Placement
// considers CPU/memory fit and the minimal hostname anti-affinity rule only;
// node selector and taints are not evaluated here or in the Simulator.
// If a pod fits no existing node, Place synthesizes a virtual node templated
// on the cheapest real (non-virtual) node already in targetPool, priced via
// prices. If targetPool has no real node to template, Place fails and
// snapshot is left with whatever placements already succeeded.
func Place(snapshot *entities.Snapshot, prices *priceapi.Table, pids []ids.PodID, targetPool ids.PoolName) error {
	poolNodeIDs := nodesInPool(snapshot, targetPool)
	used := map[ids.NodeID]*usage{}
	for _, nid := range poolNodeIDs {
		used[nid] = &usage{}
	}
	for _, p := range snapshot.Pods {
		if p.Node == nil {
			continue
		}
		if u, ok := used[*p.Node]; ok {
			u.cpu += p.ReqCPUM
			u.mem += p.ReqMemB
		}
	}

	virtualSeq := 0
	for _, pid := range pids {
		pod, ok := snapshot.Pods[pid]
		if !ok {
			continue
		}
		nodeID, ok := bestFit(snapshot, pod, poolNodeIDs, used)
		if !ok {
			template := cheapestTemplate(snapshot, prices, targetPool)
			if template == nil {
				return apierrors.New(apierrors.Inconsistent, "pool %q has no node to template a virtual node from", targetPool)
			}
			virtualSeq++
			vnode := synthesize(template, virtualSeq)
			snapshot.Nodes[vnode.ID] = vnode
			poolNodeIDs = append(poolNodeIDs, vnode.ID)
			used[vnode.ID] = &usage{}
			nodeID = vnode.ID
		}
		u := used[nodeID]
		u.cpu += pod.ReqCPUM
		u.mem += pod.ReqMemB
		id := nodeID
		pod.Node = &id
	}
	return nil
}

func nodesInPool(snapshot *entities.Snapshot, pool ids.PoolName) []ids.NodeID {
	var out []ids.NodeID
	for id, n := range snapshot.Nodes {
		if n.NodePool == pool {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// bestFit picks the node minimizing remaining_cpu_m + remaining_mem_b/1024
// after placement, i.e. the tightest fit weighted heavily to CPU with memory
// normalized to KiB.
func bestFit(snapshot *entities.Snapshot, pod *entities.Pod, candidates []ids.NodeID, used map[ids.NodeID]*usage) (ids.NodeID, bool) {
	var best ids.NodeID
	var bestScore float64
	found := false
	for _, nid := range candidates {
		node := snapshot.Nodes[nid]
		u := used[nid]
		remCPU := node.AllocCPUM - u.cpu - pod.ReqCPUM
		remMem := node.AllocMemB - u.mem - pod.ReqMemB
		if remCPU < 0 || remMem < 0 {
			continue
		}
		if !constraints.AntiAffinityOK(snapshot, pod, node) {
			continue
		}
		score := float64(remCPU) + float64(remMem)/1024
		if !found || score < bestScore {
			best, bestScore, found = nid, score, true
		}
	}
	return best, found
}

// cheapestTemplate returns the lowest-priced real node already in pool, or
// nil if pool has none. Ties break on node ID for determinism.
func cheapestTemplate(snapshot *entities.Snapshot, prices *priceapi.Table, pool ids.PoolName) *entities.Node {
	var best *entities.Node
	var bestPrice ids.USDPerHour
	for _, n := range snapshot.Nodes {
		if n.NodePool != pool || n.IsVirtual {
			continue
		}
		price, _ := prices.Lookup(n.InstanceType)
		switch {
		case best == nil:
			best, bestPrice = n, price
		case price < bestPrice:
			best, bestPrice = n, price
		case price == bestPrice && n.ID < best.ID:
			best, bestPrice = n, price
		}
	}
	return best
}

func synthesize(template *entities.Node, seq int) *entities.Node {
	cp := template.DeepCopy()
	cp.ID = ids.VirtualNodeName(template.Name, seq)
	cp.Name = string(cp.ID)
	cp.IsVirtual = true
	cp.UptimeHours24h = 0
	return cp
}
