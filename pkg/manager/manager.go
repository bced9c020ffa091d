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

// Package manager registers named Snapshots and tracks which one is active.
// It is the single mutex-guarded component in the system: every mutate call
// takes the lock for one critical section (read active, apply, publish,
// log), while simulate only needs a read lock to obtain the active
// snapshot's handle, since snapshots are immutable-by-convention once
// published.
package manager

import (
	"strconv"
	"sync"

	"github.com/clustercast/simcore/pkg/apierrors"
	"github.com/clustercast/simcore/pkg/entities"
)

// Summary is the /snapshots listing row.
type Summary struct {
	ID         string `json:"id"`
	NodesCount int    `json:"nodes_count"`
	PodsCount  int    `json:"pods_count"`
	IsActive   bool   `json:"is_active"`
}

// Manager is a registry of named snapshots with one active pointer.
type Manager struct {
	mu       sync.RWMutex
	byID     map[string]*entities.Snapshot
	activeID string
}

// New constructs an empty Manager.
func New() *Manager {
	return &Manager{byID: map[string]*entities.Snapshot{}}
}

// Add registers snap under id. If there is no active snapshot yet, id
// becomes active.
func (m *Manager) Add(id string, snap *entities.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id] = snap
	if m.activeID == "" {
		m.activeID = id
	}
}

// List returns a Summary per registered snapshot, in no particular order.
func (m *Manager) List() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Summary, 0, len(m.byID))
	for id, snap := range m.byID {
		out = append(out, Summary{
			ID: id, NodesCount: len(snap.Nodes), PodsCount: len(snap.Pods), IsActive: id == m.activeID,
		})
	}
	return out
}

// GetActive returns the active snapshot id and its value.
func (m *Manager) GetActive() (string, *entities.Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.activeID == "" {
		return "", nil, false
	}
	return m.activeID, m.byID[m.activeID], true
}

// SetActive activates id, failing if it is not registered.
func (m *Manager) SetActive(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return apierrors.New(apierrors.NotFound, "unknown snapshot id %q", id)
	}
	m.activeID = id
	return nil
}

// UpdateActive replaces the active snapshot's value in place (same id, new
// contents), the publish step every mutate call ends with.
func (m *Manager) UpdateActive(snap *entities.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeID == "" {
		return apierrors.New(apierrors.NotFound, "no active snapshot to update")
	}
	m.byID[m.activeID] = snap
	return nil
}

// Capture registers a newly captured snapshot under id "live-<unix-time>"
// and returns the id used.
func (m *Manager) Capture(unixSeconds int64, snap *entities.Snapshot) string {
	id := liveID(unixSeconds)
	m.Add(id, snap)
	return id
}

func liveID(unixSeconds int64) string {
	return "live-" + strconv.FormatInt(unixSeconds, 10)
}
