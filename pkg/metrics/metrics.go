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

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the common Prometheus namespace for every metric this module
// exports.
const Namespace = "simcore"

var (
	SimulationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "simulate",
			Name:      "runs_total",
			Help:      "Number of simulation runs, labeled by snapshot id.",
		},
		[]string{"snapshot"},
	)
	SimulationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "simulate",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of a simulation run.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"snapshot"},
	)
	MutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "mutate",
			Name:      "ops_total",
			Help:      "Number of mutation operations applied, labeled by op name and outcome.",
		},
		[]string{"op", "outcome"},
	)
	VirtualNodesSynthesized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "packer",
			Name:      "virtual_nodes_synthesized_total",
			Help:      "Number of virtual nodes synthesized by the Packer, labeled by pool.",
		},
		[]string{"pool"},
	)
	PriceCacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "priceapi",
			Name:      "lookup_misses_total",
			Help:      "Number of price lookups for an instance type missing from the cache.",
		},
		[]string{"instance_type"},
	)
	PriceRefreshFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "priceapi",
			Name:      "refresh_failures_total",
			Help:      "Number of failed external price-oracle refresh attempts.",
		},
		[]string{"region"},
	)
)

// MustRegister registers every metric with reg. It panics if a metric is
// already registered there, so it is called once per registry.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		SimulationsTotal,
		SimulationDurationSeconds,
		MutationsTotal,
		VirtualNodesSynthesized,
		PriceCacheMisses,
		PriceRefreshFailures,
	)
}

// Measure returns a func to be deferred at the top of a simulation run; it
// records both the counter and the duration histogram.
func Measure(snapshot string) func() {
	start := time.Now()
	SimulationsTotal.WithLabelValues(snapshot).Inc()
	return func() {
		SimulationDurationSeconds.WithLabelValues(snapshot).Observe(time.Since(start).Seconds())
	}
}
