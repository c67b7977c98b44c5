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

	"github.com/kedacore/index-advisor/internal/model"
)

// simplify runs the field-reduction-by-sampling outer loop:
// fetch index statistics, drop at most one low-value field per index per
// pass (never a sort field), re-run prefix reduction, and repeat until a
// full pass removes nothing.
func (qs *QuerySet) simplify(ctx context.Context, byNamespace map[string][]*entry) error {
	for {
		anyChanged := false
		for ns, group := range byNamespace {
			changed, err := qs.simplifyPass(ctx, ns, group)
			if err != nil {
				return err
			}
			if changed {
				reduceIndexes(group)
				anyChanged = true
			}
		}
		if !anyChanged {
			return nil
		}
	}
}

// simplifyPass performs one simplify pass over a single namespace's
// candidate indexes, removing at most one field from each multi-field
// index.
func (qs *QuerySet) simplifyPass(ctx context.Context, namespace string, group []*entry) (bool, error) {
	candidates := uniqueCandidates(group)
	multiField := make([]*model.CompoundIndex, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Fields) > 1 {
			multiField = append(multiField, c)
		}
	}
	if len(multiField) == 0 {
		return false, nil
	}

	stats, err := qs.stats.IndexStatistics(ctx, namespace, multiField)
	if err != nil {
		qs.log.Error(err, "index statistics unavailable, skipping simplify pass", "namespace", namespace)
		return false, nil
	}

	relation := servedBy(group)
	changed := false
	for _, idx := range multiField {
		st, ok := stats[idx.Name()]
		if !ok {
			continue
		}
		servingProfiles := relation[idx.Key()]
		sortFields := sortFieldsOf(servingProfiles)

		removeAt := rightmostEligibleField(idx, st, sortFields, qs.cfg.MinimumReduction)
		if removeAt < 0 {
			continue
		}

		shortened := withoutField(idx, removeAt)
		replaceCandidate(group, idx, shortened)
		changed = true
	}
	return changed, nil
}

// sortFieldsOf unions the sort keys of every profile served by an index;
// simplify may never remove a field that is a sort key of any serving
// profile.
func sortFieldsOf(profiles []*model.QueryProfile) map[string]struct{} {
	out := make(map[string]struct{})
	for _, p := range profiles {
		for _, k := range p.SortKeys {
			out[k] = struct{}{}
		}
	}
	return out
}

// rightmostEligibleField finds the last (rightmost) field position in idx
// that is not a sort field and whose recorded reduction exceeds
// minimumReduction, i.e. it does not narrow results enough to justify its
// place in the index. Returns -1 if no field qualifies.
func rightmostEligibleField(idx *model.CompoundIndex, st *model.IndexStatistics, sortFields map[string]struct{}, minimumReduction float64) int {
	best := -1
	for i, f := range idx.Fields {
		if f.Direction == model.Hashed {
			continue
		}
		if _, isSort := sortFields[f.Path]; isSort {
			continue
		}
		prefixStats, ok := st.ByPath[f.Path]
		if !ok {
			continue
		}
		if prefixStats.Reduction > minimumReduction {
			best = i
		}
	}
	return best
}

// withoutField returns a new CompoundIndex equal to idx with the field at
// position i removed, preserving the order of the remaining fields.
func withoutField(idx *model.CompoundIndex, i int) *model.CompoundIndex {
	fields := make([]model.IndexField, 0, len(idx.Fields)-1)
	fields = append(fields, idx.Fields[:i]...)
	fields = append(fields, idx.Fields[i+1:]...)
	return model.NewCompoundIndex(idx.Namespace, fields...)
}

// replaceCandidate swaps every occurrence of oldIdx in the group's entries'
// candidate lists with newIdx.
func replaceCandidate(group []*entry, oldIdx, newIdx *model.CompoundIndex) {
	for _, e := range group {
		for i, c := range e.candidates {
			if c.Key() == oldIdx.Key() {
				e.candidates[i] = newIdx
			}
		}
	}
}
