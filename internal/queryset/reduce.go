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

import "github.com/kedacore/index-advisor/internal/model"

// reduceIndexes iterates prefix absorption to a fixed point across a group
// of entries that share a namespace: for
// each candidate I, if any other candidate in the group is a strict
// index-prefix-extension of I, replace I with those longer indexes in its
// owning entry. Indexes are interned by canonical sequence so two entries
// that end up with the identical index reference the same object.
func reduceIndexes(entries []*entry) {
	pool := make(map[string]*model.CompoundIndex)
	intern := func(idx *model.CompoundIndex) *model.CompoundIndex {
		if existing, ok := pool[idx.Key()]; ok {
			return existing
		}
		pool[idx.Key()] = idx
		return idx
	}
	for _, e := range entries {
		for i, c := range e.candidates {
			e.candidates[i] = intern(c)
		}
	}

	for {
		all := make(map[string]*model.CompoundIndex)
		for _, e := range entries {
			for _, c := range e.candidates {
				all[c.Key()] = c
			}
		}

		changed := false
		for _, e := range entries {
			var next []*model.CompoundIndex
			localChanged := false
			for _, c := range e.candidates {
				supersets := indexPrefixExtensionsOf(c, all)
				if len(supersets) == 0 {
					next = appendIndexIfAbsent(next, c)
					continue
				}
				localChanged = true
				for _, s := range supersets {
					next = appendIndexIfAbsent(next, s)
				}
			}
			if localChanged {
				e.candidates = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
}

// indexPrefixExtensionsOf returns every index in all (excluding c itself)
// that c is a strict index-prefix of.
func indexPrefixExtensionsOf(c *model.CompoundIndex, all map[string]*model.CompoundIndex) []*model.CompoundIndex {
	var out []*model.CompoundIndex
	for key, other := range all {
		if key == c.Key() {
			continue
		}
		if c.IsIndexPrefixOf(other) {
			out = append(out, other)
		}
	}
	return out
}

func appendIndexIfAbsent(list []*model.CompoundIndex, idx *model.CompoundIndex) []*model.CompoundIndex {
	for _, existing := range list {
		if existing.Key() == idx.Key() {
			return list
		}
	}
	return append(list, idx)
}

// servedBy builds the index->profiles relation for a group of entries,
// recomputed fresh after every reduction pass rather than stored as owning
// pointers.
func servedBy(entries []*entry) map[string][]*model.QueryProfile {
	out := make(map[string][]*model.QueryProfile)
	for _, e := range entries {
		for _, c := range e.candidates {
			out[c.Key()] = append(out[c.Key()], e.profile)
		}
	}
	return out
}

// uniqueCandidates returns the distinct candidate indexes across a group of
// entries, keyed by canonical sequence.
func uniqueCandidates(entries []*entry) []*model.CompoundIndex {
	seen := make(map[string]*model.CompoundIndex)
	for _, e := range entries {
		for _, c := range e.candidates {
			seen[c.Key()] = c
		}
	}
	out := make([]*model.CompoundIndex, 0, len(seen))
	for _, idx := range seen {
		out = append(out, idx)
	}
	return out
}
