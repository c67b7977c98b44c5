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

// Package sampler draws uniform random documents from a collection and
// derives per-field and per-index statistics from them.
package sampler

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/kedacore/index-advisor/internal/config"
	"github.com/kedacore/index-advisor/internal/model"
)

// LatencyRecorder receives the wall-clock duration of each sampling
// session; nil disables recording.
type LatencyRecorder interface {
	RecordSampleLatency(namespace, kind string, value time.Duration)
}

// Sampler owns the cached collection and index statistics for a database
// and knows how to (re)derive them by sampling. A single mutex guards both
// caches.
type Sampler struct {
	store   Store
	log     logr.Logger
	cfg     config.Options
	metrics LatencyRecorder

	mu              sync.Mutex
	collectionStats map[string]*model.CollectionStatistics
	indexStats      map[string]*model.IndexStatistics
	now             func() time.Time
}

// New returns a Sampler backed by store.
func New(store Store, log logr.Logger, cfg config.Options) *Sampler {
	return &Sampler{
		store:           store,
		log:             log.WithName("sampler"),
		cfg:             cfg,
		collectionStats: make(map[string]*model.CollectionStatistics),
		indexStats:      make(map[string]*model.IndexStatistics),
		now:             time.Now,
	}
}

// CollectionStatistics returns fresh statistics for namespace, resampling
// if the cached copy is missing or stale.
func (s *Sampler) CollectionStatistics(ctx context.Context, namespace string) (*model.CollectionStatistics, error) {
	s.mu.Lock()
	cached := s.collectionStats[namespace]
	fresh := cached.Fresh(s.now(), s.cfg.CardinalityUpdateInterval)
	s.mu.Unlock()
	if fresh {
		return cached, nil
	}
	return s.SampleCollection(ctx, namespace)
}

// SetMetrics attaches a latency recorder to subsequent sampling sessions.
func (s *Sampler) SetMetrics(metrics LatencyRecorder) {
	s.metrics = metrics
}

// SampleCollection unconditionally resamples namespace and replaces its
// cached CollectionStatistics.
func (s *Sampler) SampleCollection(ctx context.Context, namespace string) (*model.CollectionStatistics, error) {
	n := s.cfg.CollectionSampleSize()
	started := s.now()
	docs, err := s.sample(ctx, namespace, n)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordSampleLatency(namespace, "collection", s.now().Sub(started))
	}

	stats := model.NewCollectionStatistics()
	fingerprints := make(map[string]map[string]struct{})
	for _, doc := range docs {
		for _, entry := range flattenDocument(doc) {
			if entry.underArray {
				stats.KnownArrayPrefixes[entry.arrayPrefix] = struct{}{}
			}
			if entry.value == nil && len(entry.path) >= 2 && entry.path[len(entry.path)-2:] == model.ArrayMarker() {
				// empty-array marker entry: records the prefix only.
				continue
			}
			set, ok := fingerprints[entry.path]
			if !ok {
				set = make(map[string]struct{})
				fingerprints[entry.path] = set
			}
			set[fingerprint(entry.value)] = struct{}{}

			fs := stats.Fields[entry.path]
			if l := stringLength(entry.value); l > fs.Longest {
				fs.Longest = l
			}
			stats.Fields[entry.path] = fs
		}
	}

	for path, set := range fingerprints {
		fs := stats.Fields[path]
		fs.Cardinality = len(set)
		if fs.Longest > s.cfg.LongestIndexableValue {
			fs.Mode = model.ModeHash
		} else {
			fs.Mode = model.ModeNormal
		}
		stats.Fields[path] = fs
	}
	for path, fs := range stats.Fields {
		fs.ArrayPrefixes = model.ArrayPrefixesOf(path, stats.KnownArrayPrefixes)
		stats.Fields[path] = fs
	}
	stats.LastSampleTime = s.now()

	s.mu.Lock()
	s.collectionStats[namespace] = stats
	s.mu.Unlock()
	return stats, nil
}

// indexStatsKey is the cache and persisted-state key for one index's
// statistics: collectionName + "-" + indexName.
func indexStatsKey(namespace, indexName string) string {
	return namespace + "-" + indexName
}

// IndexStatistics returns fresh per-index statistics for every index in
// indexes, resampling any that are missing or stale.
func (s *Sampler) IndexStatistics(ctx context.Context, namespace string, indexes []*model.CompoundIndex) (map[string]*model.IndexStatistics, error) {
	out := make(map[string]*model.IndexStatistics, len(indexes))
	var stale []*model.CompoundIndex

	s.mu.Lock()
	for _, idx := range indexes {
		key := indexStatsKey(namespace, idx.Name())
		if cached, ok := s.indexStats[key]; ok && cached.Fresh(s.now(), s.cfg.CardinalityUpdateInterval) {
			out[idx.Name()] = cached
			continue
		}
		stale = append(stale, idx)
	}
	s.mu.Unlock()

	if len(stale) == 0 {
		return out, nil
	}

	fresh, err := s.sampleIndexes(ctx, namespace, stale)
	if err != nil {
		return nil, err
	}
	for name, st := range fresh {
		out[name] = st
	}
	return out, nil
}

// sampleIndexes draws one full-size sample and derives prefix statistics
// for every prefix length of every index in indexes.
func (s *Sampler) sampleIndexes(ctx context.Context, namespace string, indexes []*model.CompoundIndex) (map[string]*model.IndexStatistics, error) {
	started := s.now()
	docs, err := s.sample(ctx, namespace, s.cfg.SampleSize)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordSampleLatency(namespace, "index", s.now().Sub(started))
	}
	docCount := int64(len(docs))

	out := make(map[string]*model.IndexStatistics, len(indexes))
	for _, idx := range indexes {
		st := &model.IndexStatistics{ByPath: make(map[string]model.IndexPrefixStatistics)}
		prevAvg := float64(docCount)
		for k := 1; k <= len(idx.Fields); k++ {
			prefix := idx.Fields[:k]
			freq := make(map[string]int)
			for _, doc := range docs {
				for _, tuple := range tuplesForPrefix(doc, prefix) {
					freq[tuple]++
				}
			}
			var avg float64
			if len(freq) > 0 {
				var sum int
				for _, c := range freq {
					sum += c
				}
				avg = float64(sum) / float64(len(freq))
			}
			reduction := 1.0
			if prevAvg > 0 {
				reduction = avg / prevAvg
			}
			st.ByPath[idx.Fields[k-1].Path] = model.IndexPrefixStatistics{
				CurrentAverageDistinct: avg,
				LastAverageDistinct:    prevAvg,
				Reduction:              reduction,
			}
			prevAvg = avg
		}
		st.LastSampleTime = s.now()
		out[idx.Name()] = st
	}

	s.mu.Lock()
	for _, idx := range indexes {
		s.indexStats[indexStatsKey(namespace, idx.Name())] = out[idx.Name()]
	}
	s.mu.Unlock()
	return out, nil
}

// tuplesForPrefix computes, for one document, the cartesian product of
// per-field observed distinct values over an index prefix, so that arrays
// producing multiple index entries per document are accounted for.
func tuplesForPrefix(doc bson.M, prefix []model.IndexField) []string {
	tuples := []string{""}
	flat := flattenDocument(doc)
	for _, field := range prefix {
		values := valuesAtPath(flat, field.Path)
		if len(values) == 0 {
			values = []string{"\x00missing"}
		}
		var next []string
		for _, t := range tuples {
			for _, v := range values {
				next = append(next, t+"|"+v)
			}
		}
		tuples = next
	}
	return tuples
}

// valuesAtPath collects every distinct fingerprinted value flattened at
// exactly path. Flattened paths carry no array positions, so every element
// of an array at or above path contributes its value.
func valuesAtPath(flat []flatEntry, path string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range flat {
		if e.path == path {
			fp := fingerprint(e.value)
			if _, ok := seen[fp]; !ok {
				seen[fp] = struct{}{}
				out = append(out, fp)
			}
		}
	}
	return out
}

// DemoteLongest marks the field with the longest observed values among
// paths as hash mode in namespace's cached collection statistics, the side
// effect triggered by an index-too-large create failure, so the next
// optimization pass avoids the combination without needing a full resample.
func (s *Sampler) DemoteLongest(namespace string, paths []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.collectionStats[namespace]
	if stats == nil || len(paths) == 0 {
		return
	}
	longest := paths[0]
	for _, p := range paths[1:] {
		if stats.Fields[p].Longest > stats.Fields[longest].Longest {
			longest = p
		}
	}
	fs := stats.Fields[longest]
	fs.Mode = model.ModeHash
	stats.Fields[longest] = fs
}

// Snapshot copies the sampler's caches for persistence.
func (s *Sampler) Snapshot() (map[string]*model.CollectionStatistics, map[string]*model.IndexStatistics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	colls := make(map[string]*model.CollectionStatistics, len(s.collectionStats))
	for k, v := range s.collectionStats {
		colls[k] = v
	}
	idxs := make(map[string]*model.IndexStatistics, len(s.indexStats))
	for k, v := range s.indexStats {
		idxs[k] = v
	}
	return colls, idxs
}

// Restore replaces the sampler's caches wholesale, used when resuming from
// persisted state.
func (s *Sampler) Restore(colls map[string]*model.CollectionStatistics, idxs map[string]*model.IndexStatistics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if colls != nil {
		s.collectionStats = colls
	}
	if idxs != nil {
		s.indexStats = idxs
	}
}

// sample draws up to n uniformly-chosen documents from namespace, paced
// over roughly SampleSpeed seconds, by walking an ascending cursor with
// skip deltas.
func (s *Sampler) sample(ctx context.Context, namespace string, n int) ([]bson.M, error) {
	total, err := s.store.CountDocuments(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if total <= 0 || n <= 0 {
		return nil, nil
	}
	if int64(n) > total {
		n = int(total)
	}

	offsets := randomOffsets(total, n)

	cursor, err := s.store.OpenAscendingCursor(ctx, namespace)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	pace := time.Duration(0)
	if n > 0 {
		pace = s.cfg.SampleSpeed / time.Duration(n)
	}

	docs := make([]bson.M, 0, n)
	var prev int64 = -1
	for i, offset := range offsets {
		if ctx.Err() != nil {
			return docs, ctx.Err()
		}
		delta := offset - prev - 1
		prev = offset
		raw, found, err := cursor.Skip(ctx, delta)
		if err != nil {
			// Transient I/O: log and continue sampling.
			s.log.Error(err, "sample fetch failed, continuing", "namespace", namespace, "offset", offset)
			continue
		}
		if !found {
			continue
		}
		var doc bson.M
		if err := bson.Unmarshal(raw, &doc); err != nil {
			s.log.Error(err, "failed to decode sampled document", "namespace", namespace)
			continue
		}
		docs = append(docs, doc)

		if i < len(offsets)-1 && pace > 0 {
			select {
			case <-time.After(pace):
			case <-ctx.Done():
				return docs, ctx.Err()
			}
		}
	}
	return docs, nil
}

// randomOffsets chooses n distinct offsets uniformly from [0, total) and
// returns them in ascending order, so the caller can visit them via
// forward-only skip deltas.
func randomOffsets(total int64, n int) []int64 {
	if int64(n) >= total {
		out := make([]int64, total)
		for i := range out {
			out[i] = int64(i)
		}
		return out
	}
	chosen := make(map[int64]struct{}, n)
	for len(chosen) < n {
		chosen[rand.Int63n(total)] = struct{}{}
	}
	out := make([]int64, 0, n)
	for v := range chosen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
