/*
Copyright 2024 The KEDA Authors

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
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kedacore/index-advisor/internal/config"
	"github.com/kedacore/index-advisor/internal/engine"
	"github.com/kedacore/index-advisor/internal/metricscollector"
	"github.com/kedacore/index-advisor/internal/mongostore"
	"github.com/kedacore/index-advisor/internal/queryset"
	"github.com/kedacore/index-advisor/internal/sampler"
	"github.com/kedacore/index-advisor/internal/state"
)

func main() {
	cfg := config.Defaults()

	pflag.StringVar(&cfg.ConnectionString, "connection-string", cfg.ConnectionString, "MongoDB connection string.")
	pflag.StringVar(&cfg.Database, "database", "", "The database to profile and synchronize indexes for. Required.")
	pflag.StringVar(&cfg.MetricsAddr, "metrics-bind-address", cfg.MetricsAddr, "The address the metric endpoint binds to.")
	pflag.IntVar(&cfg.SampleSize, "sample-size", cfg.SampleSize, "Number of documents sampled for index statistics; collection statistics use a tenth of this.")
	pflag.DurationVar(&cfg.SampleSpeed, "sample-speed", cfg.SampleSpeed, "Time budget one sampling session is spread over.")
	pflag.DurationVar(&cfg.CardinalityUpdateInterval, "cardinality-update-interval", cfg.CardinalityUpdateInterval, "Freshness window for cached statistics before a collection is resampled.")
	pflag.IntVar(&cfg.MinimumCardinality, "minimum-cardinality", cfg.MinimumCardinality, "Fields with fewer distinct values are dropped from optimized indexes.")
	pflag.Float64Var(&cfg.MinimumReduction, "minimum-reduction", cfg.MinimumReduction, "Reduction threshold above which an index field is eliminated; 1 disables.")
	pflag.BoolVar(&cfg.IndexExtension, "index-extension", cfg.IndexExtension, "Extend final indexes with free fields shared by their serving queries.")
	pflag.IntVar(&cfg.LongestIndexableValue, "longest-indexable-value", cfg.LongestIndexableValue, "Values longer than this demote their field to a separate hashed index.")
	pflag.IntVar(&cfg.RecentQueriesOnlyDays, "recent-queries-only-days", cfg.RecentQueriesOnlyDays, "Forget query profiles older than this many days; -1 disables.")
	pflag.IntVar(&cfg.MinimumQueryCount, "minimum-query-count", cfg.MinimumQueryCount, "Profiles observed fewer times are ignored in recommendations.")
	pflag.DurationVar(&cfg.IndexSynchronizationInterval, "index-synchronization-interval", cfg.IndexSynchronizationInterval, "Interval between synchronization cycles, measured from the end of the previous cycle.")
	pflag.IntVar(&cfg.ProfileLevel, "profile-level", cfg.ProfileLevel, "Profiling level to set on the database at startup; -1 leaves it as-is.")
	pflag.BoolVar(&cfg.DoChanges, "do-changes", cfg.DoChanges, "Actually create and drop indexes instead of only reporting.")
	pflag.BoolVar(&cfg.ShowChangesOnly, "show-changes-only", cfg.ShowChangesOnly, "Omit kept indexes from reports.")
	pflag.BoolVar(&cfg.Simple, "simple", cfg.Simple, "Report created indexes by field sequence only, without their canonical names.")
	pflag.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Include reduction statistics in reports.")
	pflag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging.")
	pflag.StringVar(&cfg.StateDatabase, "state-database", cfg.StateDatabase, "Database holding the engine's state document.")
	pflag.StringVar(&cfg.StateCollection, "state-collection", cfg.StateCollection, "Collection holding the engine's state document.")
	pflag.Parse()

	log := buildLogger(cfg)
	setupLog := log.WithName("setup")

	if cfg.Database == "" {
		setupLog.Error(errors.New("--database is required"), "invalid configuration")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := mongostore.Connect(ctx, cfg.ConnectionString)
	if err != nil {
		setupLog.Error(err, "failed to connect to database")
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			setupLog.Error(err, "failed to close database connection")
		}
	}()

	metrics := metricscollector.NewPromMetrics()
	go serveMetrics(setupLog, cfg.MetricsAddr, metrics)

	smp := sampler.New(client, log, cfg)
	smp.SetMetrics(metrics)
	queries := queryset.New(smp, log, cfg)
	stateMgr := state.NewManager(client, cfg.StateDatabase, cfg.StateCollection)
	eng := engine.New(log, cfg, client, smp, queries, stateMgr, metrics)

	if err := eng.LoadState(ctx); err != nil {
		setupLog.Error(err, "failed to restore persisted state")
		os.Exit(1)
	}

	setupLog.Info("starting index advisor", "database", cfg.Database, "doChanges", cfg.DoChanges)
	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		setupLog.Error(err, "engine terminated")
		os.Exit(1)
	}
}

// buildLogger constructs the process logger: production JSON output, or a
// development console logger at debug level when --debug is set.
func buildLogger(cfg config.Options) logr.Logger {
	var zapCfg zap.Config
	if cfg.Debug {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
		if cfg.Verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
	}
	zapLog, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}
	return zapr.NewLogger(zapLog)
}

func serveMetrics(log logr.Logger, addr string, metrics *metricscollector.PromMetrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error(err, "metrics endpoint terminated")
	}
}
