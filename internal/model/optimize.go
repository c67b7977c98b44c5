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

package model

import "sort"

// Warnf is called by OptimizedIndexes whenever it synthesizes statistics
// for a field that is missing from CollectionStatistics,
// so callers can surface a warning without the model package depending on
// a logger.
type Warnf func(format string, args ...interface{})

// naiveIndexFields returns the naive field ordering: exact fields
// sorted by path, then sort fields (preserving given directions), then
// range fields sorted by path. The order in which the query listed its
// exact and range fields is not kept.
func (p *QueryProfile) naiveIndexFields() []IndexField {
	var fields []IndexField
	seen := make(map[string]struct{})
	add := func(path string, dir Direction) {
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		fields = append(fields, IndexField{Path: path, Direction: dir})
	}
	for _, f := range sortedKeys(p.Exact) {
		add(f, Ascending)
	}
	for _, f := range p.SortKeys {
		add(f, p.SortDir[f])
	}
	for _, f := range sortedKeys(p.Range) {
		add(f, Ascending)
	}
	return fields
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NaiveIndex returns the no-statistics-needed fallback index for the
// profile.
func (p *QueryProfile) NaiveIndex() *CompoundIndex {
	return NewCompoundIndex(p.Namespace, p.naiveIndexFields()...)
}

// resolvedField is one field plus the statistics used to order/drop/split
// it while building an optimized index.
type resolvedField struct {
	path  string
	dir   Direction
	kind  fieldKind
	stats FieldStatistics
}

type fieldKind int

const (
	kindExact fieldKind = iota
	kindSort
	kindRange
)

// OptimizedIndexes derives the statistics-driven optimized compound
// index(es) plus any separate hashed single-field indexes for the profile.
// stats must be fresh CollectionStatistics for the profile's namespace;
// minimumCardinality is the drop threshold. warn, if non-nil, is called
// once per field whose statistics had to be synthesized.
func (p *QueryProfile) OptimizedIndexes(stats *CollectionStatistics, minimumCardinality int, warn Warnf) []*CompoundIndex {
	resolved := p.resolveFields(stats, minimumCardinality, warn)

	kept, dropped := splitByCardinality(resolved, minimumCardinality)
	if len(kept) == 0 {
		// Revert: never produce an empty index.
		kept = append(kept, dropped...)
	}

	normal, hashed := splitByMode(kept)

	compounds := splitByArrayPrefix(p.Namespace, normal)
	for _, c := range compounds {
		p.canonicalizeSortDirection(c)
	}

	for _, h := range hashed {
		compounds = append(compounds, NewCompoundIndex(p.Namespace, IndexField{Path: h.path, Direction: Hashed}))
	}
	return compounds
}

// resolveFields looks up (or synthesizes) FieldStatistics for every field
// referenced by the profile.
func (p *QueryProfile) resolveFields(stats *CollectionStatistics, minimumCardinality int, warn Warnf) []resolvedField {
	var out []resolvedField
	resolve := func(path string, kind fieldKind, dir Direction) {
		fs, ok := stats.FieldStats(path)
		if !ok {
			fs = FieldStatistics{
				Mode:          ModeNormal,
				Cardinality:   minimumCardinality,
				Longest:       1,
				ArrayPrefixes: ArrayPrefixesOf(path, stats.KnownArrayPrefixes),
			}
			if warn != nil {
				warn("field %q has no collection statistics; synthesizing minimum-cardinality stats (field probably absent from sampled data)", path)
			}
		}
		out = append(out, resolvedField{path: path, dir: dir, kind: kind, stats: fs})
	}
	for _, f := range sortedKeys(p.Exact) {
		resolve(f, kindExact, Ascending)
	}
	for _, f := range p.SortKeys {
		resolve(f, kindSort, p.SortDir[f])
	}
	for _, f := range sortedKeys(p.Range) {
		resolve(f, kindRange, Ascending)
	}
	return out
}

// splitByCardinality orders exact fields by descending cardinality and
// range fields by ascending cardinality (stable on ties), drops exact and
// range fields below minimumCardinality, and returns both the kept
// ordering and the full pre-drop ordering (for the empty-coverage revert).
// Sort fields are never dropped: the produced index must carry every sort
// key regardless of its cardinality, so the threshold applies only to
// exact and range fields.
func splitByCardinality(resolved []resolvedField, minimumCardinality int) (kept, all []resolvedField) {
	var exact, sortFields, rng []resolvedField
	for _, f := range resolved {
		switch f.kind {
		case kindExact:
			exact = append(exact, f)
		case kindSort:
			sortFields = append(sortFields, f)
		case kindRange:
			rng = append(rng, f)
		}
	}
	sort.SliceStable(exact, func(i, j int) bool { return exact[i].stats.Cardinality > exact[j].stats.Cardinality })
	sort.SliceStable(rng, func(i, j int) bool { return rng[i].stats.Cardinality < rng[j].stats.Cardinality })

	all = append(all, exact...)
	all = append(all, sortFields...)
	all = append(all, rng...)

	for _, f := range all {
		if f.kind != kindSort && f.stats.Cardinality < minimumCardinality {
			continue
		}
		kept = append(kept, f)
	}
	return kept, all
}

// splitByMode removes fields with Mode=hash from the compound ordering,
// collecting them to be emitted as separate single-field hashed indexes.
func splitByMode(fields []resolvedField) (normal, hashed []resolvedField) {
	for _, f := range fields {
		if f.stats.Mode == ModeHash {
			hashed = append(hashed, f)
			continue
		}
		normal = append(normal, f)
	}
	return normal, hashed
}

// splitByArrayPrefix produces one compound index per distinct array prefix
// present among the fields, each containing only the fields whose
// ArrayPrefixes is empty or contains that prefix; if at most one distinct
// prefix is present, it produces exactly one compound.
func splitByArrayPrefix(namespace string, fields []resolvedField) []*CompoundIndex {
	prefixSet := make(map[string]struct{})
	for _, f := range fields {
		for _, ap := range f.stats.ArrayPrefixes {
			prefixSet[ap] = struct{}{}
		}
	}
	if len(prefixSet) <= 1 {
		idxFields := make([]IndexField, 0, len(fields))
		for _, f := range fields {
			idxFields = append(idxFields, IndexField{Path: f.path, Direction: f.dir})
		}
		return []*CompoundIndex{NewCompoundIndex(namespace, idxFields...)}
	}

	prefixes := make([]string, 0, len(prefixSet))
	for p := range prefixSet {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	var out []*CompoundIndex
	for _, prefix := range prefixes {
		var idxFields []IndexField
		for _, f := range fields {
			if fieldBelongsToPrefix(f, prefix) {
				idxFields = append(idxFields, IndexField{Path: f.path, Direction: f.dir})
			}
		}
		if len(idxFields) > 0 {
			out = append(out, NewCompoundIndex(namespace, idxFields...))
		}
	}
	return out
}

func fieldBelongsToPrefix(f resolvedField, prefix string) bool {
	if len(f.stats.ArrayPrefixes) == 0 {
		return true
	}
	for _, ap := range f.stats.ArrayPrefixes {
		if ap == prefix {
			return true
		}
	}
	return false
}

// canonicalizeSortDirection multiplies every sort direction in idx by the
// sign of the first sort key's direction, so the first sort key is always
// +1 in the produced index.
func (p *QueryProfile) canonicalizeSortDirection(idx *CompoundIndex) {
	if len(p.SortKeys) == 0 {
		return
	}
	first := p.SortDir[p.SortKeys[0]]
	if first == Ascending || first == Hashed {
		return
	}
	sortSet := make(map[string]struct{}, len(p.SortKeys))
	for _, k := range p.SortKeys {
		sortSet[k] = struct{}{}
	}
	for i, f := range idx.Fields {
		if _, ok := sortSet[f.Path]; !ok {
			continue
		}
		if f.Direction == Hashed {
			continue
		}
		idx.Fields[i].Direction = -f.Direction
	}
}
