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

// Package mutation implements the mutation pipeline: each operation takes a
// Snapshot and returns a new, logically independent one. Every exported op
// is built on entities.Snapshot.DeepCopy, so the input snapshot is never
// observably changed.
package mutation

import (
	"strings"

	"github.com/imdario/mergo"
	"github.com/samber/lo"

	"github.com/clustercast/simcore/pkg/apierrors"
	"github.com/clustercast/simcore/pkg/entities"
	"github.com/clustercast/simcore/pkg/ids"
)

// NodePoolLabelKey is the pseudo-label move_* operations write to a pod's
// node selector to pin it to a pool once it becomes pending. The Simulator
// reads this label back in its pending-pod placement pass.
const NodePoolLabelKey = "node.clustercast.io/nodepool"

// Overrides patches a pod's requests and scheduling hints before a move is
// applied, before a move takes effect. Non-zero/non-nil fields replace the
// corresponding pod field wholesale; nothing is merged field-by-field within
// a collection.
type Overrides struct {
	ReqCPUM      *ids.CPUMillicores
	ReqMemB      *ids.MemoryBytes
	Tolerations  []entities.Toleration
	NodeSelector map[string]string
	Affinity     *entities.Affinity
}

// PatchFields is the payload of patch_pods: whole-field replacement for
// collections, point updates for scalars; it never merges.
type PatchFields struct {
	ReqCPUM      *ids.CPUMillicores
	ReqMemB      *ids.MemoryBytes
	Tolerations  []entities.Toleration
	NodeSelector map[string]string
	Affinity     *entities.Affinity
}

// applyOverrides overlays the non-nil fields of o onto pod. Collections are
// whole-field replacements, never merged; the two scalar resource requests
// are overlaid with mergo so a caller can later add more optional scalar
// fields here without growing a chain of nil-checks.
func applyOverrides(pod *entities.Pod, o *Overrides) error {
	if o == nil {
		return nil
	}
	scalarPatch := struct {
		ReqCPUM ids.CPUMillicores
		ReqMemB ids.MemoryBytes
	}{}
	if o.ReqCPUM != nil {
		scalarPatch.ReqCPUM = *o.ReqCPUM
	}
	if o.ReqMemB != nil {
		scalarPatch.ReqMemB = *o.ReqMemB
	}
	dst := struct {
		ReqCPUM ids.CPUMillicores
		ReqMemB ids.MemoryBytes
	}{ReqCPUM: pod.ReqCPUM, ReqMemB: pod.ReqMemB}
	if err := mergo.Merge(&dst, scalarPatch, mergo.WithOverride); err != nil {
		return err
	}
	pod.ReqCPUM = dst.ReqCPUM
	pod.ReqMemB = dst.ReqMemB

	if o.Tolerations != nil {
		pod.Tolerations = append([]entities.Toleration(nil), o.Tolerations...)
	}
	if o.NodeSelector != nil {
		pod.NodeSelector = cloneSelector(o.NodeSelector)
	}
	if o.Affinity != nil {
		pod.Affinity = o.Affinity.DeepCopy()
	}
	return nil
}

func cloneSelector(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// makePending clears a pod's node and pins its node selector to pool.
// Moves defer actual placement to the Simulator/Packer; they never pack
// synchronously at mutation time (see DESIGN.md).
func makePending(pod *entities.Pod, pool ids.PoolName) {
	pod.Node = nil
	if pod.NodeSelector == nil {
		pod.NodeSelector = map[string]string{}
	}
	pod.NodeSelector[NodePoolLabelKey] = string(pool)
}

func normalizePool(pool ids.PoolName) (ids.PoolName, error) {
	trimmed := strings.TrimSpace(string(pool))
	if trimmed == "" {
		return "", apierrors.New(apierrors.Inconsistent, "target pool name is empty after normalization")
	}
	return ids.PoolName(trimmed), nil
}

// MovePodsToPool applies overrides (if any) then pins pids to targetPool,
// leaving each pod pending.
func MovePodsToPool(snapshot *entities.Snapshot, pids []ids.PodID, targetPool ids.PoolName, overrides *Overrides) (*entities.Snapshot, error) {
	out, err := movePodsToPoolNoGC(snapshot.DeepCopy(), pids, targetPool, overrides)
	if err != nil {
		return nil, err
	}
	return gc(out), nil
}

// movePodsToPoolNoGC mutates out in place and returns it, leaving the GC pass
// to the caller -- the core MutationOps.Apply uses this to run every op in a
// batch before a single trailing GC pass, per the ordering guarantee that a
// mutate call with several operations runs one GC at the very end.
func movePodsToPoolNoGC(out *entities.Snapshot, pids []ids.PodID, targetPool ids.PoolName, overrides *Overrides) (*entities.Snapshot, error) {
	pool, err := normalizePool(targetPool)
	if err != nil {
		return nil, err
	}
	for _, pid := range pids {
		pod, ok := out.Pods[pid]
		if !ok {
			continue // missing pod id is a silent no-op
		}
		if err := applyOverrides(pod, overrides); err != nil {
			return nil, apierrors.Wrap(apierrors.Validation, err)
		}
		makePending(pod, pool)
	}
	return out, nil
}

// MoveNamespaceToPool collects workload pods in ns, applies the
// system/daemonset filters, then delegates to MovePodsToPool.
func MoveNamespaceToPool(snapshot *entities.Snapshot, ns string, targetPool ids.PoolName, includeSystem, includeDaemonSets bool, overrides *Overrides) (*entities.Snapshot, error) {
	out := snapshot.DeepCopy()
	out, err := moveNamespaceToPoolNoGC(out, ns, targetPool, includeSystem, includeDaemonSets, overrides)
	if err != nil {
		return nil, err
	}
	return gc(out), nil
}

func moveNamespaceToPoolNoGC(out *entities.Snapshot, ns string, targetPool ids.PoolName, includeSystem, includeDaemonSets bool, overrides *Overrides) (*entities.Snapshot, error) {
	pids := lo.FilterMap(lo.Values(out.Pods), func(p *entities.Pod, _ int) (ids.PodID, bool) {
		if p.Namespace != ns {
			return "", false
		}
		if p.IsSystem && !includeSystem {
			return "", false
		}
		if p.IsDaemonSet && !includeDaemonSets {
			return "", false
		}
		return p.ID, true
	})
	return movePodsToPoolNoGC(out, pids, targetPool, overrides)
}

// MoveOwnerToPool selects pods by (namespace, owner_kind, owner_name). If
// the caller passes owner_kind "Deployment" and the actual owner_kind on a
// pod is "ReplicaSet", it matches when the pod's owner_name starts with the
// supplied Deployment name -- a deliberate heuristic that must be
// reproduced exactly.
func MoveOwnerToPool(snapshot *entities.Snapshot, ns, ownerKind, ownerName string, targetPool ids.PoolName, includeSystem, includeDaemonSets bool, overrides *Overrides) (*entities.Snapshot, error) {
	out := snapshot.DeepCopy()
	out, err := moveOwnerToPoolNoGC(out, ns, ownerKind, ownerName, targetPool, includeSystem, includeDaemonSets, overrides)
	if err != nil {
		return nil, err
	}
	return gc(out), nil
}

func moveOwnerToPoolNoGC(out *entities.Snapshot, ns, ownerKind, ownerName string, targetPool ids.PoolName, includeSystem, includeDaemonSets bool, overrides *Overrides) (*entities.Snapshot, error) {
	pids := lo.FilterMap(lo.Values(out.Pods), func(p *entities.Pod, _ int) (ids.PodID, bool) {
		if p.Namespace != ns {
			return "", false
		}
		if p.IsSystem && !includeSystem {
			return "", false
		}
		if p.IsDaemonSet && !includeDaemonSets {
			return "", false
		}
		if matchesOwner(p, ownerKind, ownerName) {
			return p.ID, true
		}
		return "", false
	})
	return movePodsToPoolNoGC(out, pids, targetPool, overrides)
}

func matchesOwner(p *entities.Pod, ownerKind, ownerName string) bool {
	if p.OwnerKind == ownerKind && p.OwnerName == ownerName {
		return true
	}
	if ownerKind == "Deployment" && p.OwnerKind == "ReplicaSet" {
		return strings.HasPrefix(p.OwnerName, ownerName)
	}
	return false
}

// MoveNodePodsToPool evacuates every non-excluded pod bound to nodeName.
func MoveNodePodsToPool(snapshot *entities.Snapshot, nodeName string, targetPool ids.PoolName, includeSystem, includeDaemonSets bool, overrides *Overrides) (*entities.Snapshot, error) {
	out := snapshot.DeepCopy()
	out, err := moveNodePodsToPoolNoGC(out, nodeName, targetPool, includeSystem, includeDaemonSets, overrides)
	if err != nil {
		return nil, err
	}
	return gc(out), nil
}

func moveNodePodsToPoolNoGC(out *entities.Snapshot, nodeName string, targetPool ids.PoolName, includeSystem, includeDaemonSets bool, overrides *Overrides) (*entities.Snapshot, error) {
	pids := lo.FilterMap(lo.Values(out.Pods), func(p *entities.Pod, _ int) (ids.PodID, bool) {
		if p.Node == nil || string(*p.Node) != nodeName {
			return "", false
		}
		if p.IsSystem && !includeSystem {
			return "", false
		}
		if p.IsDaemonSet && !includeDaemonSets {
			return "", false
		}
		return p.ID, true
	})
	return movePodsToPoolNoGC(out, pids, targetPool, overrides)
}

// MovePodToNode reassigns pods directly to nodeID with no packing -- even if
// it overflows the node's capacity. Validation of fit and any resulting
// spill is the Simulator's responsibility.
func MovePodToNode(snapshot *entities.Snapshot, pids []ids.PodID, nodeID ids.NodeID, overrides *Overrides) (*entities.Snapshot, error) {
	out, err := movePodToNodeNoGC(snapshot.DeepCopy(), pids, nodeID, overrides)
	if err != nil {
		return nil, err
	}
	return gc(out), nil
}

func movePodToNodeNoGC(out *entities.Snapshot, pids []ids.PodID, nodeID ids.NodeID, overrides *Overrides) (*entities.Snapshot, error) {
	if _, ok := out.Nodes[nodeID]; !ok {
		return nil, apierrors.New(apierrors.Validation, "unknown node id %q", nodeID)
	}
	for _, pid := range pids {
		pod, ok := out.Pods[pid]
		if !ok {
			continue
		}
		if err := applyOverrides(pod, overrides); err != nil {
			return nil, apierrors.Wrap(apierrors.Validation, err)
		}
		n := nodeID
		pod.Node = &n
	}
	return out, nil
}

// PatchPods performs whole-field replacement for the named pods: point
// updates for scalars, whole-collection replacement otherwise -- it never
// merges.
func PatchPods(snapshot *entities.Snapshot, pids []ids.PodID, patch PatchFields) (*entities.Snapshot, error) {
	out := patchPodsNoGC(snapshot.DeepCopy(), pids, patch)
	return gc(out), nil
}

func patchPodsNoGC(out *entities.Snapshot, pids []ids.PodID, patch PatchFields) *entities.Snapshot {
	for _, pid := range pids {
		pod, ok := out.Pods[pid]
		if !ok {
			continue
		}
		if patch.ReqCPUM != nil {
			pod.ReqCPUM = *patch.ReqCPUM
		}
		if patch.ReqMemB != nil {
			pod.ReqMemB = *patch.ReqMemB
		}
		if patch.Tolerations != nil {
			pod.Tolerations = append([]entities.Toleration(nil), patch.Tolerations...)
		}
		if patch.NodeSelector != nil {
			pod.NodeSelector = cloneSelector(patch.NodeSelector)
		}
		if patch.Affinity != nil {
			pod.Affinity = patch.Affinity.DeepCopy()
		}
	}
	return out
}

// DeletePods removes the named pods and runs the GC pass.
func DeletePods(snapshot *entities.Snapshot, pids []ids.PodID) *entities.Snapshot {
	out := deletePodsNoGC(snapshot.DeepCopy(), pids)
	return gc(out)
}

func deletePodsNoGC(out *entities.Snapshot, pids []ids.PodID) *entities.Snapshot {
	for _, pid := range pids {
		delete(out.Pods, pid)
	}
	return out
}

// DeleteNamespace removes every pod in ns.
func DeleteNamespace(snapshot *entities.Snapshot, ns string) *entities.Snapshot {
	out := deleteNamespaceNoGC(snapshot.DeepCopy(), ns)
	return gc(out)
}

func deleteNamespaceNoGC(out *entities.Snapshot, ns string) *entities.Snapshot {
	pids := lo.FilterMap(lo.Values(out.Pods), func(p *entities.Pod, _ int) (ids.PodID, bool) {
		return p.ID, p.Namespace == ns
	})
	return deletePodsNoGC(out, pids)
}

// DeleteOwner removes every pod owned by (ns, ownerKind, ownerName), using
// the same Deployment/ReplicaSet heuristic as MoveOwnerToPool.
func DeleteOwner(snapshot *entities.Snapshot, ns, ownerKind, ownerName string) *entities.Snapshot {
	out := deleteOwnerNoGC(snapshot.DeepCopy(), ns, ownerKind, ownerName)
	return gc(out)
}

func deleteOwnerNoGC(out *entities.Snapshot, ns, ownerKind, ownerName string) *entities.Snapshot {
	pids := lo.FilterMap(lo.Values(out.Pods), func(p *entities.Pod, _ int) (ids.PodID, bool) {
		if p.Namespace != ns {
			return "", false
		}
		return p.ID, matchesOwner(p, ownerKind, ownerName)
	})
	return deletePodsNoGC(out, pids)
}

// ResetToBaseline replaces the active snapshot with baseline, verbatim.
func ResetToBaseline(baseline *entities.Snapshot) *entities.Snapshot {
	return baseline.DeepCopy()
}

// gc drops every node whose current pods are all DaemonSet pods (or none at
// all), together with the DaemonSet pods bound to it; non-DaemonSet system
// pods keep a node alive. It runs once at the end of every mutation.
func gc(snapshot *entities.Snapshot) *entities.Snapshot {
	for nodeID := range snapshot.Nodes {
		pods := snapshot.PodsOnNode(nodeID)
		if keepsNodeAlive(pods) {
			continue
		}
		for _, p := range pods {
			delete(snapshot.Pods, p.ID)
		}
		delete(snapshot.Nodes, nodeID)
	}
	return snapshot
}

func keepsNodeAlive(pods []*entities.Pod) bool {
	for _, p := range pods {
		if !p.IsDaemonSet {
			return true
		}
	}
	return false
}
