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

// Package config holds the flat, flag-populated configuration record used
// across the engine.
package config

import "time"

// Options is the engine's full configuration record. Every field has a
// default; zero-value Options is not meant to be used directly, call
// Defaults() first.
type Options struct {
	// SampleSize is the number of documents used for index-statistics
	// sampling; collection-statistics sampling uses SampleSize/10.
	SampleSize int
	// SampleSpeed spreads one sampling session's document fetches over
	// roughly this many seconds.
	SampleSpeed time.Duration
	// CardinalityUpdateInterval is the freshness window for cached
	// collection/index statistics.
	CardinalityUpdateInterval time.Duration

	// MinimumCardinality: fields below this distinct-value count are
	// dropped from an optimized index.
	MinimumCardinality int
	// MinimumReduction: index positions whose reduction exceeds this are
	// candidates for removal by simplify. 1 disables.
	MinimumReduction float64
	// IndexExtension toggles the index-extension step after reduction.
	IndexExtension bool
	// LongestIndexableValue: fields whose longest observed value exceeds
	// this are demoted to hash mode.
	LongestIndexableValue int
	// RecentQueriesOnlyDays forgets profiles older than this many days;
	// -1 disables.
	RecentQueriesOnlyDays int
	// MinimumQueryCount: profiles with a lower usageCount are ignored
	// when building recommendations.
	MinimumQueryCount int

	// IndexSynchronizationInterval is the fixed period, from the end of
	// the previous cycle, on which the engine recomputes and reconciles
	// the recommended IndexSet.
	IndexSynchronizationInterval time.Duration
	// ProfileLevel is the mongo profiler level to request on startup;
	// -1 leaves it as-is.
	ProfileLevel int
	// DoChanges, when true, actually applies reconciliation actions
	// against the database; otherwise the engine only reports them.
	DoChanges bool
	// ShowChangesOnly suppresses the "keep" bucket from reports.
	ShowChangesOnly bool

	Simple  bool
	Verbose bool
	Debug   bool

	// ConnectionString is the URI of the profiled database; Database is
	// the single database this engine instance watches and synchronizes.
	ConnectionString string
	Database         string

	// MetricsAddr is the address the Prometheus scrape endpoint binds to.
	MetricsAddr string

	// StateDatabase/StateCollection name the well-known collection the
	// engine upserts its single state document into.
	StateDatabase   string
	StateCollection string
}

// Defaults returns an Options populated with every option's default.
func Defaults() Options {
	return Options{
		SampleSize:                   100_000,
		SampleSpeed:                  600 * time.Second,
		CardinalityUpdateInterval:    30 * 24 * time.Hour,
		MinimumCardinality:           3,
		MinimumReduction:             0.70,
		IndexExtension:               true,
		LongestIndexableValue:        500,
		RecentQueriesOnlyDays:        -1,
		MinimumQueryCount:            1,
		IndexSynchronizationInterval: 60 * time.Second,
		ProfileLevel:                 2,
		DoChanges:                    false,
		ShowChangesOnly:              false,
		StateDatabase:                "admin",
		StateCollection:              "indexAdvisorState",
		ConnectionString:             "mongodb://localhost:27017",
		MetricsAddr:                  ":8080",
	}
}

// CollectionSampleSize is the number of documents drawn for
// collection-statistics sampling.
func (o Options) CollectionSampleSize() int {
	n := o.SampleSize / 10
	if n < 1 {
		return 1
	}
	return n
}
