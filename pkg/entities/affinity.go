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

// NodeSelectorOperator is the set of operators supported in required node
// affinity match expressions. matchFields is not represented: only label
// has the evaluator ignore it by design.
type NodeSelectorOperator string

const (
	OpIn           NodeSelectorOperator = "In"
	OpNotIn        NodeSelectorOperator = "NotIn"
	OpExists       NodeSelectorOperator = "Exists"
	OpDoesNotExist NodeSelectorOperator = "DoesNotExist"
	OpGt           NodeSelectorOperator = "Gt"
	OpLt           NodeSelectorOperator = "Lt"
)

// TaintEffect mirrors the three effects a node taint may carry.
type TaintEffect string

const (
	NoSchedule       TaintEffect = "NoSchedule"
	PreferNoSchedule TaintEffect = "PreferNoSchedule"
	NoExecute        TaintEffect = "NoExecute"
)

// TolerationOperator selects whether a toleration compares taint values.
type TolerationOperator string

const (
	TolerationOpEqual  TolerationOperator = "Equal"
	TolerationOpExists TolerationOperator = "Exists"
)

// Taint is attached to a node or to a NodePool.
type Taint struct {
	Key    string      `json:"key"`
	Value  string      `json:"value,omitempty"`
	Effect TaintEffect `json:"effect"`
}

// Toleration is attached to a pod. A nil Key is only valid with OpExists and
// then matches any taint key.
type Toleration struct {
	Key      *string            `json:"key,omitempty"`
	Operator TolerationOperator `json:"operator,omitempty"`
	Value    *string            `json:"value,omitempty"`
	// Effect, if unset, matches any taint effect.
	Effect *TaintEffect `json:"effect,omitempty"`
}

// effectiveOperator defaults to Equal, matching Kubernetes toleration semantics.
func (t Toleration) effectiveOperator() TolerationOperator {
	if t.Operator == "" {
		return TolerationOpEqual
	}
	return t.Operator
}

// Tolerates reports whether this toleration covers the given taint.
func (t Toleration) Tolerates(taint Taint) bool {
	if t.Effect != nil && *t.Effect != taint.Effect {
		return false
	}
	op := t.effectiveOperator()
	if t.Key == nil {
		return op == TolerationOpExists
	}
	if *t.Key != taint.Key {
		return false
	}
	if op == TolerationOpExists {
		return true
	}
	return t.Value != nil && *t.Value == taint.Value
}

// MatchExpression is one clause of a NodeSelectorTerm.
type MatchExpression struct {
	Key      string               `json:"key"`
	Operator NodeSelectorOperator `json:"operator"`
	Values   []string             `json:"values,omitempty"`
}

// NodeSelectorTerm is AND-ed across its MatchExpressions.
type NodeSelectorTerm struct {
	MatchExpressions []MatchExpression `json:"match_expressions,omitempty"`
}

// NodeAffinity carries only the required-at-scheduling term list; preferred
// affinity and matchFields have no field here and are dropped on ingest.
type NodeAffinity struct {
	RequiredTerms []NodeSelectorTerm `json:"required_terms,omitempty"`
}

// PodAntiAffinity captures just enough to evaluate the minimal hostname
// anti-affinity rule: the topology key. Any other anti-affinity detail has
// no field here and is dropped on ingest.
type PodAntiAffinity struct {
	TopologyKey string `json:"topology_key,omitempty"`
}

// Affinity bundles the scheduling constraints, parsed once on ingest so
// every downstream consumer works with typed values thereafter.
type Affinity struct {
	NodeAffinity    *NodeAffinity    `json:"node_affinity,omitempty"`
	PodAntiAffinity *PodAntiAffinity `json:"pod_anti_affinity,omitempty"`
}

func (a *Affinity) DeepCopy() *Affinity {
	if a == nil {
		return nil
	}
	cp := *a
	if a.NodeAffinity != nil {
		na := *a.NodeAffinity
		na.RequiredTerms = append([]NodeSelectorTerm(nil), a.NodeAffinity.RequiredTerms...)
		for i := range na.RequiredTerms {
			na.RequiredTerms[i].MatchExpressions = append([]MatchExpression(nil), na.RequiredTerms[i].MatchExpressions...)
		}
		cp.NodeAffinity = &na
	}
	if a.PodAntiAffinity != nil {
		paa := *a.PodAntiAffinity
		cp.PodAntiAffinity = &paa
	}
	return &cp
}
