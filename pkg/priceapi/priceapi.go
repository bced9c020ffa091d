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

// Package priceapi implements the process-wide price table: an
// instance-type -> hourly-price cache that degrades gracefully (stale
// entries beat zeroed ones) and is refreshed, best-effort, from an
// external pricing oracle.
package priceapi

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	retry "github.com/avast/retry-go"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/clustercast/simcore/pkg/apierrors"
	"github.com/clustercast/simcore/pkg/ids"
)

// Entry is one cached price with the provenance of where it came from.
type Entry struct {
	USDPerHour ids.USDPerHour
	Source     string
}

// Oracle is the external pricing-discovery collaborator. Its concrete
// implementation (talking to an IaaS pricing API) is out of scope; a
// Table depends only on this interface.
type Oracle interface {
	FetchPrices(ctx context.Context, region string, instanceTypes []ids.InstanceType) (map[ids.InstanceType]Entry, error)
}

// defaultTable is the compiled-in fallback used whenever a requested
// instance type has never been loaded or refreshed.
var defaultTable = map[ids.InstanceType]Entry{
	"r6a.large":   {USDPerHour: 0.1368, Source: "compiled-default"},
	"r6a.xlarge":  {USDPerHour: 0.2736, Source: "compiled-default"},
	"m6a.large":   {USDPerHour: 0.0864, Source: "compiled-default"},
	"m6a.xlarge":  {USDPerHour: 0.1728, Source: "compiled-default"},
	"c6a.large":   {USDPerHour: 0.0765, Source: "compiled-default"},
	"c6a.xlarge":  {USDPerHour: 0.153, Source: "compiled-default"},
}

// Table is the process-wide mapping instance_type -> (usd_per_hour, source).
// It owns its own mutex independently of the snapshot manager's, so no
// caller ever needs to hold both locks at once.
type Table struct {
	mu     sync.RWMutex
	region string
	prices map[ids.InstanceType]Entry
	oracle Oracle

	refreshCache *gocache.Cache
	limiter      *rate.Limiter
	group        singleflight.Group
}

// Option configures a Table at construction time.
type Option func(*Table)

// WithOracle injects the external price-discovery collaborator.
func WithOracle(o Oracle) Option {
	return func(t *Table) { t.oracle = o }
}

// WithRegion sets the region code passed to the oracle on refresh.
func WithRegion(region string) Option {
	return func(t *Table) { t.region = region }
}

// New constructs a Table seeded from the compiled-in defaults.
func New(opts ...Option) *Table {
	t := &Table{
		prices:       map[ids.InstanceType]Entry{},
		refreshCache: gocache.New(15*time.Minute, time.Hour),
		limiter:      rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for k, v := range defaultTable {
		t.prices[k] = v
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// jsonDoc is the on-disk shape: {region, prices: {instance_type: usd_per_hour}}.
type jsonDoc struct {
	Region string                        `json:"region"`
	Prices map[ids.InstanceType]float64 `json:"prices"`
}

// LoadJSON merges a {region, prices} document into the table. Existing
// entries for instance types absent from the document are left untouched.
func (t *Table) LoadJSON(data []byte) error {
	var doc jsonDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if doc.Region != "" {
		t.region = doc.Region
	}
	for inst, price := range doc.Prices {
		t.prices[inst] = Entry{USDPerHour: ids.USDPerHour(price), Source: "file:" + doc.Region}
	}
	return nil
}

// Lookup returns the cached price for inst, or (0, true) if it has never
// been populated. Callers must propagate the missing flag to the UI rather
// than silently treating 0 as a real price.
func (t *Table) Lookup(inst ids.InstanceType) (ids.USDPerHour, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.prices[inst]
	if !ok {
		return 0, true
	}
	return e.USDPerHour, false
}

// Snapshot returns a copy of the full price map, for the /admin and /prices
// read endpoints.
func (t *Table) Snapshot() map[ids.InstanceType]Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[ids.InstanceType]Entry, len(t.prices))
	for k, v := range t.prices {
		out[k] = v
	}
	return out
}

// RefreshFromExternal is a best-effort pull from the external oracle. If the
// oracle returns fewer entries than requested, the existing entries for the
// missing instance types are left alone -- a price is never silently zeroed.
// Concurrent refreshes for the same region are coalesced via singleflight,
// and refreshes are rate-limited to avoid hammering the oracle on a burst of
// refresh calls.
func (t *Table) RefreshFromExternal(ctx context.Context, instanceTypes []ids.InstanceType) error {
	if t.oracle == nil {
		return apierrors.New(apierrors.ExternalTransient, "no price oracle configured")
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return apierrors.Wrap(apierrors.ExternalTransient, err)
	}
	region := t.region
	_, err, _ := t.group.Do(region, func() (any, error) {
		var fetched map[ids.InstanceType]Entry
		rerr := retry.Do(
			func() error {
				var ferr error
				fetched, ferr = t.oracle.FetchPrices(ctx, region, instanceTypes)
				return ferr
			},
			retry.Attempts(3),
			retry.Context(ctx),
			retry.DelayType(retry.BackOffDelay),
		)
		if rerr != nil {
			return nil, apierrors.Wrap(apierrors.ExternalTransient, rerr)
		}
		t.mu.Lock()
		for inst, entry := range fetched {
			t.prices[inst] = entry
		}
		t.mu.Unlock()
		t.refreshCache.SetDefault(region, len(fetched))
		return nil, nil
	})
	return err
}
