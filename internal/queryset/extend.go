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

package queryset

import (
	"context"
	"sort"

	"github.com/kedacore/index-advisor/internal/model"
)

// extend appends "free" fields: for each
// final index, iteratively add the field most used across the profiles it
// serves, as long as doing so never pulls in a hash-mode or array field,
// restricting the serving-profile set to those that voted for the winner
// and repeating until no candidate remains. This can only help the planner
// choose the index; it never changes which profiles the index covers.
func (qs *QuerySet) extend(ctx context.Context, finalSet *model.IndexSet, relation map[string][]*model.QueryProfile) *model.IndexSet {
	statsCache := make(map[string]*model.CollectionStatistics)
	collectionStats := func(namespace string) *model.CollectionStatistics {
		if s, ok := statsCache[namespace]; ok {
			return s
		}
		s, err := qs.stats.CollectionStatistics(ctx, namespace)
		if err != nil {
			qs.log.Error(err, "collection statistics unavailable, skipping extension", "namespace", namespace)
			s = nil
		}
		statsCache[namespace] = s
		return s
	}

	extended := model.NewIndexSet()
	for _, idx := range finalSet.All() {
		served := relation[idx.Key()]
		result := qs.extendOne(idx, served, collectionStats(idx.Namespace))
		extended.Add(result)
	}
	return extended
}

// extendOne runs the extension loop for a single index.
func (qs *QuerySet) extendOne(idx *model.CompoundIndex, served []*model.QueryProfile, stats *model.CollectionStatistics) *model.CompoundIndex {
	if stats == nil || len(served) == 0 {
		return idx
	}

	current := idx
	candidates := served
	for {
		existing := make(map[string]struct{}, len(current.Fields))
		for _, f := range current.Fields {
			existing[f.Path] = struct{}{}
		}

		scores := make(map[string]int)
		voters := make(map[string][]*model.QueryProfile)
		for _, p := range candidates {
			for _, f := range profileExactAndRange(p) {
				if _, ok := existing[f]; ok {
					continue
				}
				if !extendable(f, stats) {
					continue
				}
				scores[f] += p.UsageCount
				voters[f] = append(voters[f], p)
			}
		}
		winner := pickWinner(scores)
		if winner == "" {
			return current
		}

		fields := append(append([]model.IndexField(nil), current.Fields...), model.IndexField{Path: winner, Direction: model.Ascending})
		current = model.NewCompoundIndex(current.Namespace, fields...)
		candidates = voters[winner]
	}
}

// profileExactAndRange returns the deduplicated exact ∪ range fields of a
// profile, the candidate pool for extension (sort fields are excluded:
// they are already present in the index by construction).
func profileExactAndRange(p *model.QueryProfile) []string {
	seen := make(map[string]struct{}, len(p.Exact)+len(p.Range))
	var out []string
	for f := range p.Exact {
		if _, ok := seen[f]; !ok {
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	for f := range p.Range {
		if _, ok := seen[f]; !ok {
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

// extendable reports whether a field may be appended to an index by
// extension: not hash-mode, and not living inside an array.
func extendable(path string, stats *model.CollectionStatistics) bool {
	fs, ok := stats.FieldStats(path)
	if !ok {
		return false
	}
	return fs.Mode != model.ModeHash && len(fs.ArrayPrefixes) == 0
}

// pickWinner returns the highest-scoring field, breaking ties
// deterministically by field path.
func pickWinner(scores map[string]int) string {
	if len(scores) == 0 {
		return ""
	}
	fields := make([]string, 0, len(scores))
	for f := range scores {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool {
		if scores[fields[i]] != scores[fields[j]] {
			return scores[fields[i]] > scores[fields[j]]
		}
		return fields[i] < fields[j]
	})
	return fields[0]
}
