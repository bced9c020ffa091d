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

// Package constraints implements the pure scheduling-constraint evaluator:
// node selector, taints/tolerations, required node affinity and the
// minimal hostname anti-affinity rule. It is stateless and never mutates a
// Snapshot; the Packer and Simulator call it to decide whether a pod may
// land on a node.
package constraints

import (
	"fmt"
	"strconv"

	"github.com/clustercast/simcore/pkg/entities"
)

// antiAffinityPrefixLen is the owner-name prefix length that the minimal
// hostname anti-affinity rule compares on. This is a
// deliberate approximation that must be reproduced exactly.
const antiAffinityPrefixLen = 15

// Reasons returns every violated scheduling constraint for pod landing on
// node, given the rest of the cluster in snapshot (needed for the anti-
// affinity check, which is the only cross-pod rule). An empty result means
// the pod is schedulable. Checks run in a fixed order
// so the reason list is stable.
func Reasons(snapshot *entities.Snapshot, pod *entities.Pod, node *entities.Node) []string {
	var reasons []string

	reasons = append(reasons, nodeSelectorReasons(pod, node)...)
	reasons = append(reasons, taintReasons(pod, node)...)
	reasons = append(reasons, nodeAffinityReasons(pod, node)...)
	reasons = append(reasons, antiAffinityReasons(snapshot, pod, node)...)

	return reasons
}

// Fits is a convenience wrapper for callers (Packer, Simulator) that only
// need a boolean.
func Fits(snapshot *entities.Snapshot, pod *entities.Pod, node *entities.Node) bool {
	return len(Reasons(snapshot, pod, node)) == 0
}

// AntiAffinityOK reports whether placing pod on node would violate the
// minimal hostname anti-affinity rule. It is the only rule the placement
// passes check: the Packer adds CPU/memory fit, and the Simulator adds
// CPU/memory fit and the pod-count cap. Neither pass evaluates node selector
// or taints; those are reported by Reasons only.
func AntiAffinityOK(snapshot *entities.Snapshot, pod *entities.Pod, node *entities.Node) bool {
	return len(antiAffinityReasons(snapshot, pod, node)) == 0
}

func nodeSelectorReasons(pod *entities.Pod, node *entities.Node) []string {
	var reasons []string
	for k, v := range pod.NodeSelector {
		if node.Labels[k] != v {
			reasons = append(reasons, fmt.Sprintf("node selector %s=%s not satisfied (node has %q)", k, v, node.Labels[k]))
		}
	}
	return reasons
}

func taintReasons(pod *entities.Pod, node *entities.Node) []string {
	var reasons []string
	for _, taint := range node.Taints {
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
			reasons = append(reasons, fmt.Sprintf("untolerated taint {%s=%s:%s}", taint.Key, taint.Value, taint.Effect))
		}
	}
	return reasons
}

func nodeAffinityReasons(pod *entities.Pod, node *entities.Node) []string {
	if pod.Affinity == nil || pod.Affinity.NodeAffinity == nil || len(pod.Affinity.NodeAffinity.RequiredTerms) == 0 {
		return nil
	}
	for _, term := range pod.Affinity.NodeAffinity.RequiredTerms {
		if termMatches(term, node) {
			return nil
		}
	}
	return []string{"required node affinity not satisfied by any term"}
}

func termMatches(term entities.NodeSelectorTerm, node *entities.Node) bool {
	for _, expr := range term.MatchExpressions {
		if !expressionMatches(expr, node) {
			return false
		}
	}
	return true
}

func expressionMatches(expr entities.MatchExpression, node *entities.Node) bool {
	value, present := node.Labels[expr.Key]
	switch expr.Operator {
	case entities.OpIn:
		return present && containsStr(expr.Values, value)
	case entities.OpNotIn:
		return !present || !containsStr(expr.Values, value)
	case entities.OpExists:
		return present
	case entities.OpDoesNotExist:
		return !present
	case entities.OpGt:
		return present && compareInt(value, expr.Values, func(a, b int64) bool { return a > b })
	case entities.OpLt:
		return present && compareInt(value, expr.Values, func(a, b int64) bool { return a < b })
	default:
		return false
	}
}

func compareInt(value string, values []string, cmp func(a, b int64) bool) bool {
	if len(values) != 1 {
		return false
	}
	nodeVal, err1 := strconv.ParseInt(value, 10, 64)
	wantVal, err2 := strconv.ParseInt(values[0], 10, 64)
	if err1 != nil || err2 != nil {
		return false
	}
	return cmp(nodeVal, wantVal)
}

func containsStr(hay []string, needle string) bool {
	for _, h := range hay {
		if h == needle {
			return true
		}
	}
	return false
}

// antiAffinityReasons implements the minimal hostname anti-affinity rule:
// a term whose TopologyKey is "hostname" conflicts iff node already hosts a
// pod in the same namespace whose owner_name shares a 15-character prefix
// with the candidate's. podAffinity and topology-spread are not enforced,
// and entities.Affinity has no field for them, so they are not kept on the
// pod either.
func antiAffinityReasons(snapshot *entities.Snapshot, pod *entities.Pod, node *entities.Node) []string {
	if pod.Affinity == nil || pod.Affinity.PodAntiAffinity == nil {
		return nil
	}
	if pod.Affinity.PodAntiAffinity.TopologyKey != "hostname" {
		return nil
	}
	prefix := ownerPrefix(pod.OwnerName)
	if prefix == "" {
		return nil
	}
	for _, other := range snapshot.PodsOnNode(node.ID) {
		if other.ID == pod.ID {
			continue
		}
		if other.Namespace != pod.Namespace {
			continue
		}
		if ownerPrefix(other.OwnerName) == prefix {
			return []string{fmt.Sprintf("anti-affinity: node already hosts %s with conflicting owner prefix %q", other.ID, prefix)}
		}
	}
	return nil
}

func ownerPrefix(ownerName string) string {
	if len(ownerName) < antiAffinityPrefixLen {
		return ""
	}
	return ownerName[:antiAffinityPrefixLen]
}
