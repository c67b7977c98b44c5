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

// Package engine wires the decomposer, query set, sampler, reconciler and
// state manager into the run loop: drain observed queries in arrival order,
// and on a fixed interval persist state, recompute the recommended index
// set and reconcile it against the database.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/kedacore/index-advisor/internal/config"
	"github.com/kedacore/index-advisor/internal/decompose"
	"github.com/kedacore/index-advisor/internal/metricscollector"
	"github.com/kedacore/index-advisor/internal/model"
	"github.com/kedacore/index-advisor/internal/mongostore"
	"github.com/kedacore/index-advisor/internal/queryset"
	"github.com/kedacore/index-advisor/internal/reconcile"
	"github.com/kedacore/index-advisor/internal/sampler"
	"github.com/kedacore/index-advisor/internal/state"
)

// primaryKey is the document id field every collection indexes implicitly;
// a profile touching only this field is not worth an index.
const primaryKey = "_id"

// Store is the transport surface the run loop drives. *mongostore.Client
// implements it; tests use an in-memory fake.
type Store interface {
	EnableProfiling(ctx context.Context, database string, level int) error
	TailProfile(ctx context.Context, database string) (<-chan mongostore.ProfileRecord, <-chan error)
	ListIndexes(ctx context.Context, namespace string) ([]*model.ExistingIndex, error)
	CreateIndex(ctx context.Context, namespace string, idx *model.CompoundIndex) error
	DropIndex(ctx context.Context, namespace, name string) error
}

// Engine owns the query set and sampler and serializes every mutation of
// them on its single run-loop goroutine.
type Engine struct {
	log     logr.Logger
	cfg     config.Options
	store   Store
	sampler *sampler.Sampler
	queries *queryset.QuerySet
	state   *state.Manager
	metrics *metricscollector.PromMetrics
	now     func() time.Time
}

// New assembles an Engine from its collaborators.
func New(log logr.Logger, cfg config.Options, store Store, smp *sampler.Sampler, queries *queryset.QuerySet, stateMgr *state.Manager, metrics *metricscollector.PromMetrics) *Engine {
	return &Engine{
		log:     log.WithName("engine"),
		cfg:     cfg,
		store:   store,
		sampler: smp,
		queries: queries,
		state:   stateMgr,
		metrics: metrics,
		now:     time.Now,
	}
}

// LoadState restores the query set and sampler caches from the persisted
// state document, if one exists.
func (e *Engine) LoadState(ctx context.Context) error {
	profiles, collStats, idxStats, err := e.state.Load(ctx)
	if err != nil {
		return err
	}
	if profiles != nil {
		e.queries.Load(profiles)
	}
	e.sampler.Restore(collStats, idxStats)
	e.log.Info("restored persisted state", "profiles", len(profiles))
	return nil
}

// Observe decomposes one profiled query and merges the resulting profiles
// into the query set.
func (e *Engine) Observe(rec mongostore.ProfileRecord) {
	profiles := decompose.Decompose(e.log, rec.Namespace, rec.Query, rec.Sort, primaryKey, e.now())
	for _, p := range profiles {
		e.queries.Add(p)
	}
	if len(rec.IndexesUsed) > 0 {
		e.log.V(1).Info("observed query used indexes", "namespace", rec.Namespace, "indexes", rec.IndexesUsed)
	}
	if len(profiles) > 0 && e.metrics != nil {
		e.metrics.RecordQueryObserved(rec.Namespace)
		e.metrics.RecordProfilesTracked(e.queries.Len())
	}
}

// Run enables profiling, tails the profile stream and fires a
// synchronization cycle on a fixed interval measured from the end of the
// previous cycle. It returns only on a fatal condition: context
// cancellation, profile-stream termination or state-persistence failure.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.store.EnableProfiling(ctx, e.cfg.Database, e.cfg.ProfileLevel); err != nil {
		return fmt.Errorf("failed to enable profiling on %q: %w", e.cfg.Database, err)
	}

	records, errs := e.store.TailProfile(ctx, e.cfg.Database)

	// The interval restarts after each cycle completes, so a slow cycle
	// never causes overlapping synchronizations.
	timer := time.NewTimer(e.cfg.IndexSynchronizationInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			if err != nil {
				return err
			}
		case rec, ok := <-records:
			if !ok {
				return fmt.Errorf("profile stream closed")
			}
			e.Observe(rec)
		case <-timer.C:
			if err := e.Synchronize(ctx); err != nil {
				return err
			}
			timer.Reset(e.cfg.IndexSynchronizationInterval)
		}
	}
}

// Synchronize runs one full cycle: prune stale profiles, persist state,
// recompute the recommended index set, and reconcile it per collection.
// The returned error is fatal; recoverable conditions are logged and the
// cycle continues.
func (e *Engine) Synchronize(ctx context.Context) error {
	e.queries.Prune(e.now())

	if err := e.persist(ctx); err != nil {
		return err
	}

	rec, err := e.queries.Recommend(ctx)
	if err != nil {
		e.log.Error(err, "recommendation pass failed, retrying next cycle")
		if e.metrics != nil {
			e.metrics.RecordSynchronizationError()
		}
		return nil
	}

	for namespace, indexes := range rec.Indexes.ByCollection() {
		if e.metrics != nil {
			e.metrics.RecordRecommendedIndexes(namespace, len(indexes))
		}
		existing, err := e.store.ListIndexes(ctx, namespace)
		if err != nil {
			e.log.Error(err, "failed to list existing indexes", "namespace", namespace)
			continue
		}
		actions := reconcile.Plan(namespace, indexes, existing)
		e.report(actions, rec.Stats)
		if e.cfg.DoChanges {
			reconcile.Apply(ctx, e.log, e.store, e.sampler, actions)
		}
	}

	// Persist again so the state document carries the statistics the
	// final pass refreshed.
	return e.persist(ctx)
}

func (e *Engine) persist(ctx context.Context) error {
	collStats, idxStats := e.sampler.Snapshot()
	return e.state.Save(ctx, e.queries.Profiles(), collStats, idxStats)
}

// report logs one collection's reconciliation plan.
func (e *Engine) report(actions reconcile.Actions, stats map[string]*model.IndexStatistics) {
	log := e.log.WithValues("namespace", actions.Namespace)
	if e.metrics != nil {
		e.metrics.RecordReconcileAction(actions.Namespace, "create", len(actions.Create))
		e.metrics.RecordReconcileAction(actions.Namespace, "keep", len(actions.Keep))
		e.metrics.RecordReconcileAction(actions.Namespace, "drop", len(actions.Drop))
	}
	for _, idx := range actions.Create {
		kv := []interface{}{"index", idx.Sequence()}
		if !e.cfg.Simple {
			kv = append(kv, "name", idx.Name())
		}
		if st, ok := stats[actions.Namespace+"-"+idx.Name()]; ok && e.cfg.Verbose {
			kv = append(kv, "reductions", reductionSummary(idx, st))
		}
		log.Info("create", kv...)
	}
	for _, ex := range actions.Drop {
		log.Info("drop", "name", ex.Name, "index", ex.Index.Sequence())
	}
	if e.cfg.ShowChangesOnly {
		return
	}
	for _, ex := range actions.Keep {
		kv := []interface{}{"name", ex.Name}
		if ex.Index != nil {
			kv = append(kv, "index", ex.Index.Sequence())
		}
		log.Info("keep", kv...)
	}
}

// reductionSummary renders per-position reduction ratios for one index.
func reductionSummary(idx *model.CompoundIndex, st *model.IndexStatistics) string {
	out := ""
	for i, f := range idx.Fields {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%s=%.2f", f.Path, st.ByPath[f.Path].Reduction)
	}
	return out
}
