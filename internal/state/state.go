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

// Package state persists the engine's full working state (query set and
// sampler caches) as a single document, upserted wholesale, and restores it
// on startup so a restarted engine resumes with full statistics and query
// history.
package state

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/kedacore/index-advisor/internal/model"
)

// Store is the transport subset needed for the state document. The real
// implementation lives in internal/mongostore; tests use an in-memory fake.
type Store interface {
	UpsertState(ctx context.Context, database, collection string, doc bson.M) error
	ReadState(ctx context.Context, database, collection string) (bson.M, error)
}

// keySeparator replaces '.' in every persisted map key: some backends
// forbid dots in document keys.
const keySeparator = "_____"

// encodeKey makes a field path or namespace safe to use as a document key.
func encodeKey(path string) string {
	return strings.ReplaceAll(path, model.PathSeparator, keySeparator)
}

func decodeKey(key string) string {
	return strings.ReplaceAll(key, keySeparator, model.PathSeparator)
}

// Manager reads and writes the engine's single state document.
type Manager struct {
	store      Store
	database   string
	collection string
}

// NewManager returns a Manager bound to the configured state collection.
func NewManager(store Store, database, collection string) *Manager {
	return &Manager{store: store, database: database, collection: collection}
}

// Save upserts the full engine state: every tracked profile plus both
// sampler caches.
func (m *Manager) Save(ctx context.Context, profiles []*model.QueryProfile, collStats map[string]*model.CollectionStatistics, idxStats map[string]*model.IndexStatistics) error {
	doc := bson.M{
		"querySet": encodeProfiles(profiles),
		"sampler": bson.M{
			"collectionStatistics": encodeCollectionStats(collStats),
			"indexStatistics":      encodeIndexStats(idxStats),
		},
	}
	if err := m.store.UpsertState(ctx, m.database, m.collection, doc); err != nil {
		return fmt.Errorf("failed to persist state document: %w", err)
	}
	return nil
}

// Load reads the persisted state document. A missing document (fresh
// deployment) returns empty state and no error.
func (m *Manager) Load(ctx context.Context) ([]*model.QueryProfile, map[string]*model.CollectionStatistics, map[string]*model.IndexStatistics, error) {
	doc, err := m.store.ReadState(ctx, m.database, m.collection)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read state document: %w", err)
	}
	if doc == nil {
		return nil, nil, nil, nil
	}

	profiles := decodeProfiles(doc["querySet"])

	var collStats map[string]*model.CollectionStatistics
	var idxStats map[string]*model.IndexStatistics
	if samplerDoc, ok := asM(doc["sampler"]); ok {
		collStats = decodeCollectionStats(samplerDoc["collectionStatistics"])
		idxStats = decodeIndexStats(samplerDoc["indexStatistics"])
	}
	return profiles, collStats, idxStats, nil
}

func encodeProfiles(profiles []*model.QueryProfile) bson.A {
	out := make(bson.A, 0, len(profiles))
	for _, p := range profiles {
		sort := make(bson.A, 0, len(p.SortKeys))
		for _, k := range p.SortKeys {
			sort = append(sort, bson.M{"path": k, "direction": int(p.SortDir[k])})
		}
		sources := make(bson.A, 0, len(p.Sources))
		for _, s := range p.Sources {
			sources = append(sources, bson.M{"source": s.Source, "version": s.Version})
		}
		out = append(out, bson.M{
			"namespace":     p.Namespace,
			"exact":         stringSet(p.Exact),
			"sort":          sort,
			"range":         stringSet(p.Range),
			"usageCount":    p.UsageCount,
			"lastQueryTime": p.LastQueryTime.UTC().Format(time.RFC3339),
			"sources":       sources,
		})
	}
	return out
}

func decodeProfiles(v interface{}) []*model.QueryProfile {
	items, ok := asA(v)
	if !ok {
		return nil
	}
	var out []*model.QueryProfile
	for _, item := range items {
		doc, ok := asM(item)
		if !ok {
			continue
		}
		p := model.NewQueryProfile(asString(doc["namespace"]))
		for _, f := range asStrings(doc["exact"]) {
			p.Exact[f] = struct{}{}
		}
		for _, f := range asStrings(doc["range"]) {
			p.Range[f] = struct{}{}
		}
		if sortItems, ok := asA(doc["sort"]); ok {
			var keys []string
			dir := make(map[string]model.Direction)
			for _, s := range sortItems {
				sd, ok := asM(s)
				if !ok {
					continue
				}
				path := asString(sd["path"])
				keys = append(keys, path)
				dir[path] = model.Direction(asInt(sd["direction"]))
			}
			p.SetSort(keys, dir)
		}
		p.UsageCount = asInt(doc["usageCount"])
		p.LastQueryTime = asTime(doc["lastQueryTime"])
		if srcItems, ok := asA(doc["sources"]); ok {
			for _, s := range srcItems {
				sd, ok := asM(s)
				if !ok {
					continue
				}
				p.Sources = append(p.Sources, model.Source{
					Source:  asString(sd["source"]),
					Version: asString(sd["version"]),
				})
			}
		}
		out = append(out, p)
	}
	return out
}

func encodeCollectionStats(stats map[string]*model.CollectionStatistics) bson.M {
	out := make(bson.M, len(stats))
	for namespace, cs := range stats {
		fields := make(bson.M, len(cs.Fields))
		for path, fs := range cs.Fields {
			fields[encodeKey(path)] = bson.M{
				"cardinality":   fs.Cardinality,
				"longest":       fs.Longest,
				"mode":          string(fs.Mode),
				"arrayPrefixes": stringSlice(fs.ArrayPrefixes),
			}
		}
		prefixes := make([]string, 0, len(cs.KnownArrayPrefixes))
		for p := range cs.KnownArrayPrefixes {
			prefixes = append(prefixes, p)
		}
		out[encodeKey(namespace)] = bson.M{
			"fields":             fields,
			"knownArrayPrefixes": stringSlice(prefixes),
			"lastSampleTime":     cs.LastSampleTime.UTC().Format(time.RFC3339),
		}
	}
	return out
}

func decodeCollectionStats(v interface{}) map[string]*model.CollectionStatistics {
	doc, ok := asM(v)
	if !ok {
		return nil
	}
	out := make(map[string]*model.CollectionStatistics, len(doc))
	for key, item := range doc {
		csDoc, ok := asM(item)
		if !ok {
			continue
		}
		cs := model.NewCollectionStatistics()
		if fields, ok := asM(csDoc["fields"]); ok {
			for fkey, fitem := range fields {
				fsDoc, ok := asM(fitem)
				if !ok {
					continue
				}
				cs.Fields[decodeKey(fkey)] = model.FieldStatistics{
					Cardinality:   asInt(fsDoc["cardinality"]),
					Longest:       asInt(fsDoc["longest"]),
					Mode:          model.FieldMode(asString(fsDoc["mode"])),
					ArrayPrefixes: asStrings(fsDoc["arrayPrefixes"]),
				}
			}
		}
		for _, p := range asStrings(csDoc["knownArrayPrefixes"]) {
			cs.KnownArrayPrefixes[p] = struct{}{}
		}
		cs.LastSampleTime = asTime(csDoc["lastSampleTime"])
		out[decodeKey(key)] = cs
	}
	return out
}

func encodeIndexStats(stats map[string]*model.IndexStatistics) bson.M {
	out := make(bson.M, len(stats))
	for key, is := range stats {
		byPath := make(bson.M, len(is.ByPath))
		for path, ps := range is.ByPath {
			byPath[encodeKey(path)] = bson.M{
				"currentAverageDistinct": ps.CurrentAverageDistinct,
				"lastAverageDistinct":    ps.LastAverageDistinct,
				"reduction":              ps.Reduction,
			}
		}
		out[encodeKey(key)] = bson.M{
			"byPath":         byPath,
			"lastSampleTime": is.LastSampleTime.UTC().Format(time.RFC3339),
		}
	}
	return out
}

func decodeIndexStats(v interface{}) map[string]*model.IndexStatistics {
	doc, ok := asM(v)
	if !ok {
		return nil
	}
	out := make(map[string]*model.IndexStatistics, len(doc))
	for key, item := range doc {
		isDoc, ok := asM(item)
		if !ok {
			continue
		}
		is := &model.IndexStatistics{ByPath: make(map[string]model.IndexPrefixStatistics)}
		if byPath, ok := asM(isDoc["byPath"]); ok {
			for pkey, pitem := range byPath {
				psDoc, ok := asM(pitem)
				if !ok {
					continue
				}
				is.ByPath[decodeKey(pkey)] = model.IndexPrefixStatistics{
					CurrentAverageDistinct: asFloat(psDoc["currentAverageDistinct"]),
					LastAverageDistinct:    asFloat(psDoc["lastAverageDistinct"]),
					Reduction:              asFloat(psDoc["reduction"]),
				}
			}
		}
		is.LastSampleTime = asTime(isDoc["lastSampleTime"])
		out[decodeKey(key)] = is
	}
	return out
}

func stringSet(set map[string]struct{}) bson.A {
	out := make(bson.A, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func stringSlice(items []string) bson.A {
	out := make(bson.A, 0, len(items))
	for _, s := range items {
		out = append(out, s)
	}
	return out
}

// The decoders below tolerate both driver-decoded BSON types (bson.M,
// bson.A, int32/int64) and the native Go values Save produced, so a
// Save/Load pair behaves identically with or without a wire round trip.

func asM(v interface{}) (bson.M, bool) {
	switch m := v.(type) {
	case bson.M:
		return m, true
	case map[string]interface{}:
		return bson.M(m), true
	case bson.D:
		out := make(bson.M, len(m))
		for _, e := range m {
			out[e.Key] = e.Value
		}
		return out, true
	default:
		return nil, false
	}
}

func asA(v interface{}) (bson.A, bool) {
	switch a := v.(type) {
	case bson.A:
		return a, true
	case []interface{}:
		return bson.A(a), true
	default:
		return nil, false
	}
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asStrings(v interface{}) []string {
	items, ok := asA(v)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func asTime(v interface{}) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
