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

// Package queryset owns the deduplicated set of observed QueryProfiles and
// drives the iterative reduction/extension loop that produces the final
// recommended model.IndexSet.
package queryset

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/kedacore/index-advisor/internal/config"
	"github.com/kedacore/index-advisor/internal/model"
)

// StatsProvider is the subset of sampler.Sampler the QuerySet needs:
// collection statistics (to build optimized indexes) and index
// statistics (to drive field-reduction). Kept as an interface so
// the reduction loop is unit-testable against a fake.
type StatsProvider interface {
	CollectionStatistics(ctx context.Context, namespace string) (*model.CollectionStatistics, error)
	IndexStatistics(ctx context.Context, namespace string, indexes []*model.CompoundIndex) (map[string]*model.IndexStatistics, error)
}

// entry pairs one deduplicated QueryProfile with its current candidate
// index set, the mutable working state of the reduction/extension loop.
// The profile/index relation is recomputed each pass rather than stored as
// owning pointers.
type entry struct {
	profile    *model.QueryProfile
	candidates []*model.CompoundIndex
}

// QuerySet is the deduplicated set of seen QueryProfiles. Its
// mutable state is protected by a single mutex; the engine mutates it
// from one task at a time.
type QuerySet struct {
	mu      sync.Mutex
	log     logr.Logger
	cfg     config.Options
	stats   StatsProvider
	entries map[string]*entry
}

// New returns an empty QuerySet backed by stats for the reduction loop.
func New(stats StatsProvider, log logr.Logger, cfg config.Options) *QuerySet {
	return &QuerySet{
		log:     log.WithName("queryset"),
		cfg:     cfg,
		stats:   stats,
		entries: make(map[string]*entry),
	}
}

// Add merges profile into the set under equivalence: a new equivalence key creates a new entry, a matching key merges
// usageCount/lastQueryTime/sources into the existing profile. It returns
// the canonical profile instance now owned by the set.
func (qs *QuerySet) Add(profile *model.QueryProfile) *model.QueryProfile {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	key := profile.EquivalenceKey()
	if e, ok := qs.entries[key]; ok {
		e.profile.MergeInto(profile)
		return e.profile
	}
	qs.entries[key] = &entry{profile: profile}
	return profile
}

// Prune drops profiles whose lastQueryTime is older than
// recentQueriesOnlyDays, when that option is enabled.
func (qs *QuerySet) Prune(now time.Time) int {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	removed := 0
	for key, e := range qs.entries {
		if e.profile.Stale(now, qs.cfg.RecentQueriesOnlyDays) {
			delete(qs.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of distinct profiles currently tracked.
func (qs *QuerySet) Len() int {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	return len(qs.entries)
}

// Profiles returns a snapshot of every tracked profile, for persistence.
func (qs *QuerySet) Profiles() []*model.QueryProfile {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	out := make([]*model.QueryProfile, 0, len(qs.entries))
	for _, e := range qs.entries {
		out = append(out, e.profile)
	}
	return out
}

// Load replaces the set's contents wholesale, used when resuming from
// persisted state.
func (qs *QuerySet) Load(profiles []*model.QueryProfile) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	qs.entries = make(map[string]*entry, len(profiles))
	for _, p := range profiles {
		qs.entries[p.EquivalenceKey()] = &entry{profile: p}
	}
}

// Recommendation is the result of a full reduce->extend cycle: the final
// per-collection IndexSet plus the index statistics backing it, refreshed
// by the final statistics pass so human-readable reports have
// accurate reduction numbers.
type Recommendation struct {
	Indexes *model.IndexSet
	Stats   map[string]*model.IndexStatistics
}

// Recommend runs the full recommendation pipeline against a snapshot of the
// currently tracked profiles: build naive/optimized candidates per profile,
// reduce to a prefix-free fixed point, simplify by sampling, optionally
// extend, then take a final statistics pass.
func (qs *QuerySet) Recommend(ctx context.Context) (*Recommendation, error) {
	snapshot := qs.snapshotEntries()

	if err := qs.seedCandidates(ctx, snapshot); err != nil {
		return nil, err
	}

	byNamespace := groupByNamespace(snapshot)
	for ns, entries := range byNamespace {
		reduceIndexes(entries)
		qs.log.V(1).Info("reduced candidate indexes", "namespace", ns, "profiles", len(entries))
	}

	if err := qs.simplify(ctx, byNamespace); err != nil {
		return nil, err
	}

	finalSet := model.NewIndexSet()
	relation := make(map[string][]*model.QueryProfile)
	for _, e := range snapshot {
		for _, c := range e.candidates {
			canon := finalSet.Add(c)
			relation[canon.Key()] = append(relation[canon.Key()], e.profile)
		}
	}

	if qs.cfg.IndexExtension {
		finalSet = qs.extend(ctx, finalSet, relation)
	}

	stats, err := qs.finalStats(ctx, finalSet)
	if err != nil {
		return nil, err
	}

	return &Recommendation{Indexes: finalSet, Stats: stats}, nil
}

// snapshotEntries copies the current entries into a private working slice
// so the reduction loop can mutate candidate lists without holding the
// QuerySet lock for the whole pipeline, and so new arrivals during
// computation queue for the next cycle rather than being
// admitted mid-computation. Only profiles meeting minimumQueryCount and
// non-empty AllFields participate.
func (qs *QuerySet) snapshotEntries() []*entry {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	out := make([]*entry, 0, len(qs.entries))
	for _, e := range qs.entries {
		if e.profile.UsageCount < qs.cfg.MinimumQueryCount || len(e.profile.AllFields()) == 0 {
			continue
		}
		out = append(out, &entry{profile: e.profile})
	}
	return out
}

func groupByNamespace(entries []*entry) map[string][]*entry {
	out := make(map[string][]*entry)
	for _, e := range entries {
		out[e.profile.Namespace] = append(out[e.profile.Namespace], e)
	}
	return out
}

// seedCandidates populates each entry's initial candidate set from its
// profile's optimized indexes, falling back to the naive index
// if collection statistics cannot be fetched (a transient sampling failure
// should not block recommendation).
func (qs *QuerySet) seedCandidates(ctx context.Context, entries []*entry) error {
	byNamespace := groupByNamespace(entries)
	for ns, group := range byNamespace {
		stats, err := qs.stats.CollectionStatistics(ctx, ns)
		if err != nil {
			qs.log.Error(err, "collection statistics unavailable, falling back to naive indexes", "namespace", ns)
			for _, e := range group {
				e.candidates = []*model.CompoundIndex{e.profile.NaiveIndex()}
			}
			continue
		}
		for _, e := range group {
			warn := func(format string, args ...interface{}) {
				qs.log.Info("synthesized field statistics", "detail", fmt.Sprintf(format, args...))
			}
			idxs := e.profile.OptimizedIndexes(stats, qs.cfg.MinimumCardinality, warn)
			if len(idxs) == 0 {
				idxs = []*model.CompoundIndex{e.profile.NaiveIndex()}
			}
			e.candidates = idxs
		}
	}
	return nil
}

// finalStats refetches index statistics for every index in the final
// recommended set, keyed the same way the sampler persists them
// (namespace + "-" + index name), so human-readable reports have accurate
// reduction numbers.
func (qs *QuerySet) finalStats(ctx context.Context, finalSet *model.IndexSet) (map[string]*model.IndexStatistics, error) {
	out := make(map[string]*model.IndexStatistics)
	for ns, idxs := range finalSet.ByCollection() {
		st, err := qs.stats.IndexStatistics(ctx, ns, idxs)
		if err != nil {
			qs.log.Error(err, "final index statistics pass failed", "namespace", ns)
			continue
		}
		for _, idx := range idxs {
			if s, ok := st[idx.Name()]; ok {
				out[ns+"-"+idx.Name()] = s
			}
		}
	}
	return out, nil
}
