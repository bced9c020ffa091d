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

// Package ids holds the opaque identifier and resource-unit types shared by
// every layer of the simulator: nodes, pods, node-pools and instance types
// are compared by exact string equality, never by structural identity.
package ids

import (
	"fmt"
	"strings"
)

// NodeID identifies a node. For real nodes it coincides with Name.
type NodeID string

// PodID is conventionally "namespace/name".
type PodID string

// PoolName identifies a NodePool.
type PoolName string

// InstanceType identifies an IaaS instance family (e.g. "r6a.large").
type InstanceType string

// ScheduleName identifies a Schedule; "default" always resolves to 24x7.
type ScheduleName string

// DefaultScheduleName is used whenever a schedule reference doesn't resolve.
const DefaultScheduleName ScheduleName = "default"

// CPUMillicores is an integer CPU quantity in thousandths of a core.
type CPUMillicores int64

// MemoryBytes is an integer memory quantity in bytes.
type MemoryBytes int64

// USDPerHour is a float hourly price in US dollars.
type USDPerHour float64

// Ratio is a float constrained (by convention, not by the type system) to [0,1].
type Ratio float64

// Clamp returns r clamped to [0,1].
func (r Ratio) Clamp() Ratio {
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// NewPodID builds the conventional "namespace/name" pod identifier.
func NewPodID(namespace, name string) PodID {
	return PodID(namespace + "/" + name)
}

// Namespace returns the namespace portion of a PodID, or "" if malformed.
func (p PodID) Namespace() string {
	ns, _, ok := strings.Cut(string(p), "/")
	if !ok {
		return ""
	}
	return ns
}

// Name returns the name portion of a PodID, or the whole string if malformed.
func (p PodID) Name() string {
	_, name, ok := strings.Cut(string(p), "/")
	if !ok {
		return string(p)
	}
	return name
}

func (p PodID) String() string { return string(p) }

// VirtualNodeName formats a synthesized node's name from its template.
func VirtualNodeName(templateName string, n int) NodeID {
	return NodeID(fmt.Sprintf("%s-virt-%d", templateName, n))
}
