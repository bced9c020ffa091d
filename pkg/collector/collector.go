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

// Package collector implements the external persistence boundary: loading a
// Snapshot from the legacy on-disk JSON schema, serializing one back out,
// and the interface a live cluster-state capture would satisfy (out of
// scope here, specified only as a collaborator).
package collector

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/clustercast/simcore/pkg/apierrors"
	"github.com/clustercast/simcore/pkg/entities"
	"github.com/clustercast/simcore/pkg/ids"
)

// legacyDoc is the authoritative on-disk shape: top-level baseline nodes/pods
// keyed by name/id, nodepools, a flat instance-type->price map, an optional
// KEDA pool name and optional history usage samples.
type legacyDoc struct {
	Baseline struct {
		Nodes map[ids.NodeID]*entities.Node `json:"nodes"`
		Pods  map[ids.PodID]*entities.Pod   `json:"pods"`
	} `json:"baseline"`
	NodePools        map[ids.PoolName]*entities.NodePool `json:"nodepools"`
	PricesByInstance map[ids.InstanceType]ids.USDPerHour `json:"prices_by_instance,omitempty"`
	KedaPool         *ids.PoolName                       `json:"keda_pool,omitempty"`
	HistoryUsage     []entities.HistoryUsageEntry         `json:"history_usage,omitempty"`
}

// LoadFile reads one legacy-schema snapshot file from path.
func LoadFile(path string) (*entities.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Fatal, err)
	}
	return Decode(data)
}

// Decode parses the legacy JSON document into a Snapshot.
func Decode(data []byte) (*entities.Snapshot, error) {
	var doc legacyDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apierrors.Wrap(apierrors.Fatal, err)
	}
	snap := entities.New()
	for id, n := range doc.Baseline.Nodes {
		n.ID = id
		if n.Name == "" {
			n.Name = string(id)
		}
		snap.Nodes[id] = n
	}
	for id, p := range doc.Baseline.Pods {
		p.ID = id
		snap.Pods[id] = p
	}
	for name, pool := range doc.NodePools {
		pool.Name = name
		snap.NodePools[name] = pool
	}
	for inst, usd := range doc.PricesByInstance {
		snap.Prices[inst] = &entities.InstancePrice{InstanceType: inst, USDPerHour: usd, Purchasing: entities.OnDemand, Source: "legacy-file"}
	}
	snap.KedaPoolName = doc.KedaPool
	snap.HistoryUsage = doc.HistoryUsage
	return snap, nil
}

// Encode serializes snap back into the legacy document shape.
func Encode(snap *entities.Snapshot) ([]byte, error) {
	var doc legacyDoc
	doc.Baseline.Nodes = snap.Nodes
	doc.Baseline.Pods = snap.Pods
	doc.NodePools = snap.NodePools
	doc.PricesByInstance = make(map[ids.InstanceType]ids.USDPerHour, len(snap.Prices))
	for inst, price := range snap.Prices {
		doc.PricesByInstance[inst] = price.USDPerHour
	}
	doc.KedaPool = snap.KedaPoolName
	doc.HistoryUsage = snap.HistoryUsage
	return json.MarshalIndent(doc, "", "  ")
}

// SaveFile writes snap to <dir>/<id>.json in the legacy schema, creating dir
// if it doesn't already exist.
func SaveFile(dir, id string, snap *entities.Snapshot) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apierrors.Wrap(apierrors.Fatal, err)
	}
	data, err := Encode(snap)
	if err != nil {
		return "", apierrors.Wrap(apierrors.Fatal, err)
	}
	path := filepath.Join(dir, id+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", apierrors.Wrap(apierrors.Fatal, err)
	}
	return path, nil
}

// LoadDir loads every *.json file in dir, skipping (and the caller should
// log, not fail boot over) any file that doesn't parse -- a Fatal-kind error
// here means "this one snapshot file is unusable", never "the server can't
// start".
func LoadDir(dir string) (map[string]*entities.Snapshot, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return map[string]*entities.Snapshot{}, []error{apierrors.Wrap(apierrors.Fatal, err)}
	}
	out := map[string]*entities.Snapshot{}
	var errs []error
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		id := e.Name()[:len(e.Name())-len(".json")]
		snap, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[id] = snap
	}
	return out, errs
}

// LiveSource is the collaborator a real cluster-state collector would
// satisfy: scraping pods/nodes/metrics from a running cluster and producing
// a Snapshot. Its concrete implementation is out of scope; this module
// depends only on the interface so a caller can wire one in later without
// touching the rest of the pipeline.
type LiveSource interface {
	Capture(ctx context.Context) (*entities.Snapshot, error)
}
