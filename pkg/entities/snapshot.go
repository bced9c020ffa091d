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

package entities

import (
	"github.com/mitchellh/hashstructure/v2"

	"github.com/clustercast/simcore/pkg/ids"
)

// HistoryUsageEntry is one observed (pool, instance) fleet-hours sample over
// the trailing 24h window, used by the Simulator to compute per-pool actuals.
type HistoryUsageEntry struct {
	Pool             ids.PoolName     `json:"pool"`
	Instance         ids.InstanceType `json:"instance"`
	InstanceHours24h float64          `json:"instance_hours_24h"`
}

// Snapshot is the unit of copy-on-write branching: every MutationOp takes one
// Snapshot and returns a logically independent new one.
type Snapshot struct {
	Nodes         map[ids.NodeID]*Node             `json:"nodes"`
	Pods          map[ids.PodID]*Pod               `json:"pods"`
	NodePools     map[ids.PoolName]*NodePool       `json:"nodepools"`
	Prices        map[ids.InstanceType]*InstancePrice `json:"prices,omitempty"`
	Schedules     map[ids.ScheduleName]*Schedule    `json:"schedules,omitempty"`
	HistoryUsage  []HistoryUsageEntry              `json:"history_usage,omitempty"`
	KedaPoolName  *ids.PoolName                    `json:"keda_pool_name,omitempty"`
}

// New returns an empty, fully-initialized Snapshot (all maps non-nil so
// callers never need nil-checks before indexing).
func New() *Snapshot {
	return &Snapshot{
		Nodes:     map[ids.NodeID]*Node{},
		Pods:      map[ids.PodID]*Pod{},
		NodePools: map[ids.PoolName]*NodePool{},
		Prices:    map[ids.InstanceType]*InstancePrice{},
		Schedules: map[ids.ScheduleName]*Schedule{},
	}
}

// DeepCopy produces a fully independent copy; mutations to the returned
// Snapshot never observably affect the receiver. This is the copy-on-write
// primitive every mutation operation is built from (it accepts either a deep
// copy or a persistent-map implementation — this module takes the simpler,
// explicit deep copy since snapshot sizes are bounded by a single cluster).
func (s *Snapshot) DeepCopy() *Snapshot {
	if s == nil {
		return nil
	}
	out := New()
	for k, v := range s.Nodes {
		out.Nodes[k] = v.DeepCopy()
	}
	for k, v := range s.Pods {
		out.Pods[k] = v.DeepCopy()
	}
	for k, v := range s.NodePools {
		out.NodePools[k] = v.DeepCopy()
	}
	for k, v := range s.Prices {
		cp := *v
		out.Prices[k] = &cp
	}
	for k, v := range s.Schedules {
		cp := *v
		out.Schedules[k] = &cp
	}
	out.HistoryUsage = append([]HistoryUsageEntry(nil), s.HistoryUsage...)
	if s.KedaPoolName != nil {
		name := *s.KedaPoolName
		out.KedaPoolName = &name
	}
	return out
}

// ScheduleFor resolves a pool's effective schedule, falling back to the
// implicit 24x7 "default".
func (s *Snapshot) ScheduleFor(pool *NodePool) Schedule {
	if pool != nil && pool.ScheduleName != "" {
		if sched, ok := s.Schedules[pool.ScheduleName]; ok {
			return *sched
		}
	}
	return DefaultSchedule()
}

// Hash returns a content hash of the snapshot, so two snapshots can be
// compared cheaply rather than deep structure by deep structure.
func (s *Snapshot) Hash() (uint64, error) {
	return hashstructure.Hash(s, hashstructure.FormatV2, nil)
}

// PodsOnNode returns every pod currently bound to the given node, in a
// stable (id-sorted) order.
func (s *Snapshot) PodsOnNode(node ids.NodeID) []*Pod {
	var out []*Pod
	for _, p := range s.Pods {
		if p.Node != nil && *p.Node == node {
			out = append(out, p)
		}
	}
	sortPodsByID(out)
	return out
}

func sortPodsByID(pods []*Pod) {
	for i := 1; i < len(pods); i++ {
		for j := i; j > 0 && pods[j-1].ID > pods[j].ID; j-- {
			pods[j-1], pods[j] = pods[j], pods[j-1]
		}
	}
}
