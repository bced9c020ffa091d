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

package mutation

import (
	"go.uber.org/multierr"

	"github.com/clustercast/simcore/pkg/apierrors"
	"github.com/clustercast/simcore/pkg/entities"
	"github.com/clustercast/simcore/pkg/ids"
)

// OpKind names one supported batch operation, matching the wire enum.
type OpKind string

const (
	OpResetToBaseline     OpKind = "reset_to_baseline"
	OpMovePodsToPool      OpKind = "move_pods_to_pool"
	OpMovePodToNode       OpKind = "move_pod_to_node"
	OpMoveNamespaceToPool OpKind = "move_namespace_to_pool"
	OpMoveOwnerToPool     OpKind = "move_owner_to_pool"
	OpMoveNodePodsToPool  OpKind = "move_node_pods_to_pool"
	OpPatchPods           OpKind = "patch_pods"
	OpDeletePods          OpKind = "delete_pods"
	OpDeleteNamespace     OpKind = "delete_namespace"
	OpDeleteOwner         OpKind = "delete_owner"
)

// Op is one tagged batch operation. Only the fields relevant to Kind are
// read; the rest are ignored, mirroring the wire format's "op plus
// op-specific fields" shape.
type Op struct {
	Kind OpKind

	PodIDs            []ids.PodID
	TargetPool        ids.PoolName
	NodeID            ids.NodeID
	NodeName          string
	Namespace         string
	OwnerKind         string
	OwnerName         string
	IncludeSystem     bool
	IncludeDaemonSets bool
	Overrides         *Overrides
	Patch             PatchFields
}

// Apply runs every op against snapshot in order and performs a single
// trailing GC pass, per the ordering guarantee that one mutate call with
// several operations applies them sequentially and consolidates once at the
// end rather than after each op. baseline is consulted only for
// reset_to_baseline; it may be nil if no op in ops uses it.
//
// An error on one op aborts the remaining ops in the batch: Validation and
// Inconsistent-input errors must leave the snapshot unchanged, which a
// partially-applied batch would violate.
func Apply(snapshot *entities.Snapshot, baseline *entities.Snapshot, ops []Op) (*entities.Snapshot, error) {
	out := snapshot.DeepCopy()
	var errs error
	for _, op := range ops {
		var err error
		out, err = applyOne(out, baseline, op)
		if err != nil {
			errs = multierr.Append(errs, err)
			return nil, errs
		}
	}
	return gc(out), nil
}

func applyOne(out *entities.Snapshot, baseline *entities.Snapshot, op Op) (*entities.Snapshot, error) {
	switch op.Kind {
	case OpResetToBaseline:
		if baseline == nil {
			return nil, apierrors.New(apierrors.NotFound, "no baseline snapshot available to reset to")
		}
		return baseline.DeepCopy(), nil
	case OpMovePodsToPool:
		return movePodsToPoolNoGC(out, op.PodIDs, op.TargetPool, op.Overrides)
	case OpMovePodToNode:
		return movePodToNodeNoGC(out, op.PodIDs, op.NodeID, op.Overrides)
	case OpMoveNamespaceToPool:
		return moveNamespaceToPoolNoGC(out, op.Namespace, op.TargetPool, op.IncludeSystem, op.IncludeDaemonSets, op.Overrides)
	case OpMoveOwnerToPool:
		return moveOwnerToPoolNoGC(out, op.Namespace, op.OwnerKind, op.OwnerName, op.TargetPool, op.IncludeSystem, op.IncludeDaemonSets, op.Overrides)
	case OpMoveNodePodsToPool:
		return moveNodePodsToPoolNoGC(out, op.NodeName, op.TargetPool, op.IncludeSystem, op.IncludeDaemonSets, op.Overrides)
	case OpPatchPods:
		return patchPodsNoGC(out, op.PodIDs, op.Patch), nil
	case OpDeletePods:
		return deletePodsNoGC(out, op.PodIDs), nil
	case OpDeleteNamespace:
		return deleteNamespaceNoGC(out, op.Namespace), nil
	case OpDeleteOwner:
		return deleteOwnerNoGC(out, op.Namespace, op.OwnerKind, op.OwnerName), nil
	default:
		return nil, apierrors.New(apierrors.Validation, "unknown operation %q", op.Kind)
	}
}
