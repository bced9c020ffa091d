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

// Package config defines the CLI flags and environment variables that
// bootstrap the server, following the flag-with-env-fallback convention
// used throughout the cluster-orchestration stack this project is built
// from: every flag has a matching all-caps environment variable, and the
// flag default is read from the environment so a container can be
// configured without a generated command line.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"
)

// Options holds every flag / env var the server reads at startup.
type Options struct {
	Addr           string
	SnapshotsDir   string
	BaselineFile   string
	PriceRegion    string
	LogLevel       string
	MetricsPort    int
	RefreshSeconds int
}

// AddFlags registers Options' fields on fs, with defaults seeded from the
// environment so flags and env vars compose: an unset flag falls back to
// its env var, which falls back to the hardcoded default.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Addr, "addr", withDefaultString("SIMCORE_ADDR", ":8080"), "address the HTTP gateway listens on")
	fs.StringVar(&o.SnapshotsDir, "snapshots-dir", withDefaultString("SIMCORE_SNAPSHOTS_DIR", "./snapshots"), "directory containing persisted snapshot files")
	fs.StringVar(&o.BaselineFile, "baseline-file", withDefaultString("SIMCORE_BASELINE_FILE", ""), "optional path to a snapshot file loaded as the initial baseline snapshot")
	fs.StringVar(&o.PriceRegion, "price-region", withDefaultString("SIMCORE_PRICE_REGION", ""), "optional region code used when refreshing the price table")
	fs.StringVar(&o.LogLevel, "log-level", withDefaultString("SIMCORE_LOG_LEVEL", "info"), "log verbosity, one of 'debug', 'info', 'error'")
	fs.IntVar(&o.MetricsPort, "metrics-port", withDefaultInt("SIMCORE_METRICS_PORT", 9090), "port the Prometheus metrics endpoint binds to")
	fs.IntVar(&o.RefreshSeconds, "price-refresh-seconds", withDefaultInt("SIMCORE_PRICE_REFRESH_SECONDS", 0), "interval in seconds between automatic price refreshes; 0 disables the background refresh cron")
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "error": true}

// Validate rejects option combinations the server cannot boot with.
func (o *Options) Validate() error {
	if o.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	if o.SnapshotsDir == "" {
		return fmt.Errorf("snapshots-dir must not be empty")
	}
	if !validLogLevels[o.LogLevel] {
		return fmt.Errorf("invalid log-level %q, must be one of debug, info, error", o.LogLevel)
	}
	if o.RefreshSeconds < 0 {
		return fmt.Errorf("price-refresh-seconds must not be negative")
	}
	return nil
}

func withDefaultString(envVar, defaultValue string) string {
	if v, ok := os.LookupEnv(envVar); ok {
		return v
	}
	return defaultValue
}

func withDefaultInt(envVar string, defaultValue int) int {
	v, ok := os.LookupEnv(envVar)
	if !ok {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}
