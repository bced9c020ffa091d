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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/clustercast/simcore/pkg/collector"
	"github.com/clustercast/simcore/pkg/config"
	"github.com/clustercast/simcore/pkg/entities"
	"github.com/clustercast/simcore/pkg/httpgateway"
	simlog "github.com/clustercast/simcore/pkg/log"
	"github.com/clustercast/simcore/pkg/manager"
	"github.com/clustercast/simcore/pkg/metrics"
	"github.com/clustercast/simcore/pkg/mutationlog"
	"github.com/clustercast/simcore/pkg/priceapi"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	opts := &config.Options{}
	root := &cobra.Command{
		Use:   "simcore-server",
		Short: "Capacity-planning simulator for a container-orchestrator cluster",
	}
	opts.AddFlags(root.PersistentFlags())
	root.AddCommand(serveCommand(opts), loadSnapshotCommand())
	return root
}

func serveCommand(opts *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway: simulate, mutate, capture and activate snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}
}

func loadSnapshotCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "load-snapshot",
		Short: "Validate that a legacy-schema snapshot file parses, and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := collector.LoadFile(path)
			if err != nil {
				return err
			}
			fmt.Printf("nodes=%d pods=%d nodepools=%d\n", len(snap.Nodes), len(snap.Pods), len(snap.NodePools))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "path to a legacy-schema snapshot JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func serve(ctx context.Context, opts *config.Options) error {
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := maxprocs.Set(); err != nil {
		fmt.Fprintf(os.Stderr, "automaxprocs: %v\n", err)
	}

	zl := simlog.NewZap(opts.LogLevel == "debug")
	if opts.LogLevel == "error" {
		zl = zl.WithOptions(zap.IncreaseLevel(zapcore.ErrorLevel))
	}
	defer zl.Sync() //nolint:errcheck
	logger := simlog.FromContext(simlog.IntoContext(ctx, zl))

	mgr := manager.New()
	var baseline *entities.Snapshot
	if opts.BaselineFile != "" {
		snap, err := collector.LoadFile(opts.BaselineFile)
		if err != nil {
			return fmt.Errorf("loading baseline file: %w", err)
		}
		baseline = snap
		mgr.Add("baseline", snap)
	} else {
		baseline = entities.New()
		mgr.Add("baseline", baseline)
	}

	if opts.SnapshotsDir != "" {
		loaded, errs := collector.LoadDir(opts.SnapshotsDir)
		for _, err := range errs {
			logger.Error(err, "skipping unparseable snapshot file")
		}
		for id, snap := range loaded {
			mgr.Add(id, snap)
		}
	}

	prices := priceapi.New(priceapi.WithRegion(opts.PriceRegion))
	gw := &httpgateway.Gateway{
		Manager:      mgr,
		Prices:       prices,
		Log:          mutationlog.New(),
		SnapshotsDir: opts.SnapshotsDir,
		Baseline:     baseline,
	}

	var refresher *cron.Cron
	if opts.RefreshSeconds > 0 {
		refresher = cron.New()
		interval := time.Duration(opts.RefreshSeconds) * time.Second
		_, err := refresher.AddJob("@every "+interval.String(), cron.FuncJob(func() {
			refreshCtx, cancel := context.WithTimeout(ctx, interval)
			defer cancel()
			if err := prices.RefreshFromExternal(refreshCtx, nil); err != nil {
				logger.Error(err, "scheduled price refresh failed")
			}
		}))
		if err != nil {
			return fmt.Errorf("scheduling price refresh: %w", err)
		}
		refresher.Start()
		defer refresher.Stop()
	}

	registry := prometheus.NewRegistry()
	metrics.MustRegister(registry)
	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", opts.MetricsPort), Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(err, "metrics server exited")
		}
	}()

	server := &http.Server{Addr: opts.Addr, Handler: gw.Router()}
	go func() {
		logger.Info("listening", "addr", opts.Addr, "metrics_addr", metricsServer.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(err, "http gateway exited")
		}
	}()

	stop, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-stop.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	return nil
}
