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

// IndexSet is a set of CompoundIndexes, deduplicated by Key(), with helper
// operations for grouping by collection and diffing against another set.
type IndexSet struct {
	byKey map[string]*CompoundIndex
}

// NewIndexSet returns an empty IndexSet.
func NewIndexSet() *IndexSet {
	return &IndexSet{byKey: make(map[string]*CompoundIndex)}
}

// Add inserts an index into the set, returning the canonical shared
// instance: if an equal index (by Key) is already present, the existing
// instance is returned and idx is discarded, so that callers holding onto
// the returned pointer always observe the single canonicalized object.
func (s *IndexSet) Add(idx *CompoundIndex) *CompoundIndex {
	if existing, ok := s.byKey[idx.Key()]; ok {
		return existing
	}
	s.byKey[idx.Key()] = idx
	return idx
}

// Remove deletes an index from the set by key.
func (s *IndexSet) Remove(idx *CompoundIndex) {
	delete(s.byKey, idx.Key())
}

// Contains reports whether an index with the same Key is present.
func (s *IndexSet) Contains(idx *CompoundIndex) bool {
	_, ok := s.byKey[idx.Key()]
	return ok
}

// All returns every index in the set, in no particular order.
func (s *IndexSet) All() []*CompoundIndex {
	out := make([]*CompoundIndex, 0, len(s.byKey))
	for _, idx := range s.byKey {
		out = append(out, idx)
	}
	return out
}

// Len returns the number of indexes in the set.
func (s *IndexSet) Len() int {
	return len(s.byKey)
}

// ByCollection groups the set's indexes by namespace.
func (s *IndexSet) ByCollection() map[string][]*CompoundIndex {
	out := make(map[string][]*CompoundIndex)
	for _, idx := range s.byKey {
		out[idx.Namespace] = append(out[idx.Namespace], idx)
	}
	return out
}

// Diff returns the indexes present in s but not in other, keyed by Key().
func (s *IndexSet) Diff(other *IndexSet) []*CompoundIndex {
	var out []*CompoundIndex
	for key, idx := range s.byKey {
		if other == nil {
			out = append(out, idx)
			continue
		}
		if _, ok := other.byKey[key]; !ok {
			out = append(out, idx)
		}
	}
	return out
}

// Intersect returns the indexes present in both s and other.
func (s *IndexSet) Intersect(other *IndexSet) []*CompoundIndex {
	var out []*CompoundIndex
	if other == nil {
		return out
	}
	for key, idx := range s.byKey {
		if _, ok := other.byKey[key]; ok {
			out = append(out, idx)
		}
	}
	return out
}
