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

// Package entities holds the immutable-by-convention structs that make up a
// Snapshot: NodePool, Node, Pod, InstancePrice, Schedule. Nothing in this
// package mutates a receiver in place; MutationOps (pkg/mutation) is the only
// place a Snapshot's contents legitimately change, and it does so by
// constructing new values.
package entities

import (
	"github.com/clustercast/simcore/pkg/ids"
)

// ConsolidationPolicy controls which empty/underutilized nodes the simulated
// autoscaler would consolidate away.
type ConsolidationPolicy string

const (
	WhenUnderutilized ConsolidationPolicy = "WhenUnderutilized"
	WhenEmpty         ConsolidationPolicy = "WhenEmpty"
)

// CapacityType distinguishes on-demand from spot/preemptible purchasing.
type CapacityType string

const (
	OnDemand CapacityType = "on_demand"
	Spot     CapacityType = "spot"
)

// NodePool groups nodes under a shared launch template and scaling policy.
type NodePool struct {
	Name                ids.PoolName        `json:"name"`
	Labels              map[string]string   `json:"labels,omitempty"`
	Taints              []Taint             `json:"taints,omitempty"`
	IsKeda              bool                `json:"is_keda"`
	ScheduleName        ids.ScheduleName    `json:"schedule_name,omitempty"`
	ConsolidationPolicy ConsolidationPolicy `json:"consolidation_policy,omitempty"`
}

func (p *NodePool) DeepCopy() *NodePool {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Labels = copyStringMap(p.Labels)
	cp.Taints = append([]Taint(nil), p.Taints...)
	return &cp
}

// Node is a real (or Packer-synthesized virtual) cluster node.
type Node struct {
	ID             ids.NodeID        `json:"id"`
	Name           string             `json:"name"`
	NodePool       ids.PoolName       `json:"nodepool"`
	InstanceType   ids.InstanceType   `json:"instance_type"`
	AllocCPUM      ids.CPUMillicores  `json:"alloc_cpu_m"`
	AllocMemB      ids.MemoryBytes    `json:"alloc_mem_b"`
	AllocPods      int                `json:"alloc_pods"`
	CapacityType   CapacityType       `json:"capacity_type"`
	Labels         map[string]string  `json:"labels,omitempty"`
	Taints         []Taint            `json:"taints,omitempty"`
	IsVirtual      bool               `json:"is_virtual"`
	UptimeHours24h float64            `json:"uptime_hours_24h"`
}

// DefaultAllocPods is used whenever a node is constructed without an
// explicit pod-count cap.
const DefaultAllocPods = 110

func (n *Node) DeepCopy() *Node {
	if n == nil {
		return nil
	}
	cp := *n
	cp.Labels = copyStringMap(n.Labels)
	cp.Taints = append([]Taint(nil), n.Taints...)
	return &cp
}

// Pod is a single workload unit, pending (Node == nil) or bound.
type Pod struct {
	ID            ids.PodID          `json:"id"`
	Name          string             `json:"name"`
	Namespace     string             `json:"namespace"`
	Node          *ids.NodeID        `json:"node"`
	OwnerKind     string             `json:"owner_kind,omitempty"`
	OwnerName     string             `json:"owner_name,omitempty"`
	ReqCPUM       ids.CPUMillicores  `json:"req_cpu_m"`
	ReqMemB       ids.MemoryBytes    `json:"req_mem_b"`
	LimitCPUM     *ids.CPUMillicores `json:"limit_cpu_m,omitempty"`
	LimitMemB     *ids.MemoryBytes   `json:"limit_mem_b,omitempty"`
	IsDaemonSet   bool               `json:"is_daemonset"`
	IsSystem      bool               `json:"is_system"`
	IsGFW         bool               `json:"is_gfw"`
	Tolerations   []Toleration       `json:"tolerations,omitempty"`
	NodeSelector  map[string]string  `json:"node_selector,omitempty"`
	Affinity      *Affinity          `json:"affinity,omitempty"`
	UsageCPUM     *ids.CPUMillicores `json:"usage_cpu_m,omitempty"`
	UsageMemB     *ids.MemoryBytes   `json:"usage_mem_b,omitempty"`
	ActiveRatio   ids.Ratio          `json:"active_ratio"`
}

// DefaultActiveRatio applies whenever a pod carries no observed duty cycle.
const DefaultActiveRatio ids.Ratio = 1

// Pending reports whether the pod has not been assigned to a node.
func (p *Pod) Pending() bool { return p.Node == nil }

func (p *Pod) DeepCopy() *Pod {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Node != nil {
		n := *p.Node
		cp.Node = &n
	}
	if p.LimitCPUM != nil {
		v := *p.LimitCPUM
		cp.LimitCPUM = &v
	}
	if p.LimitMemB != nil {
		v := *p.LimitMemB
		cp.LimitMemB = &v
	}
	if p.UsageCPUM != nil {
		v := *p.UsageCPUM
		cp.UsageCPUM = &v
	}
	if p.UsageMemB != nil {
		v := *p.UsageMemB
		cp.UsageMemB = &v
	}
	cp.Tolerations = append([]Toleration(nil), p.Tolerations...)
	cp.NodeSelector = copyStringMap(p.NodeSelector)
	cp.Affinity = p.Affinity.DeepCopy()
	return &cp
}

// InstancePrice is one hourly price quote for an instance type.
type InstancePrice struct {
	InstanceType ids.InstanceType `json:"instance_type"`
	USDPerHour   ids.USDPerHour   `json:"usd_per_hour"`
	Purchasing   CapacityType     `json:"purchasing"`
	Source       string           `json:"source,omitempty"`
}

// Schedule describes a business-hours duty cycle applied to KEDA pools.
type Schedule struct {
	Name         ids.ScheduleName `json:"name"`
	HoursPerDay  float64          `json:"hours_per_day"`
	DaysPerWeek  float64          `json:"days_per_week"`
}

// EffectiveHoursPerDay is hours_per_day * days_per_week / 7.
func (s Schedule) EffectiveHoursPerDay() float64 {
	return s.HoursPerDay * s.DaysPerWeek / 7
}

// DefaultSchedule is the implicit "default" = 24x7 fallback.
func DefaultSchedule() Schedule {
	return Schedule{Name: ids.DefaultScheduleName, HoursPerDay: 24, DaysPerWeek: 7}
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
