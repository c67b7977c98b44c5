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

import (
	"sort"
	"strings"
	"time"
)

// Source records who produced a QueryProfile observation.
type Source struct {
	Source  string
	Version string
}

// QueryProfile is the canonical triple (exact-match field set, ordered sort
// keys with direction, range/multi-value field set) derived from one
// decomposed observed query.
type QueryProfile struct {
	Namespace string

	Exact map[string]struct{}
	// Sort preserves insertion order: SortKeys lists the paths in order,
	// SortDir gives each path's direction.
	SortKeys []string
	SortDir  map[string]Direction
	Range    map[string]struct{}

	UsageCount    int
	LastQueryTime time.Time
	Sources       []Source
}

// NewQueryProfile returns an empty profile ready for the decomposer to
// populate.
func NewQueryProfile(namespace string) *QueryProfile {
	return &QueryProfile{
		Namespace: namespace,
		Exact:     make(map[string]struct{}),
		SortDir:   make(map[string]Direction),
		Range:     make(map[string]struct{}),
	}
}

// Clone returns a deep copy of the profile.
func (p *QueryProfile) Clone() *QueryProfile {
	c := NewQueryProfile(p.Namespace)
	for k := range p.Exact {
		c.Exact[k] = struct{}{}
	}
	for k := range p.Range {
		c.Range[k] = struct{}{}
	}
	c.SortKeys = append([]string(nil), p.SortKeys...)
	for k, v := range p.SortDir {
		c.SortDir[k] = v
	}
	c.UsageCount = p.UsageCount
	c.LastQueryTime = p.LastQueryTime
	c.Sources = append([]Source(nil), p.Sources...)
	return c
}

// SetSort attaches a sort specification to the profile, in the order given.
func (p *QueryProfile) SetSort(keys []string, dir map[string]Direction) {
	p.SortKeys = append([]string(nil), keys...)
	p.SortDir = make(map[string]Direction, len(dir))
	for _, k := range keys {
		p.SortDir[k] = dir[k]
	}
}

// AllFields returns every field path referenced by the profile across
// exact, sort and range, deduplicated.
func (p *QueryProfile) AllFields() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(path string) {
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}
	for f := range p.Exact {
		add(f)
	}
	for _, f := range p.SortKeys {
		add(f)
	}
	for f := range p.Range {
		add(f)
	}
	return out
}

// Empty reports whether the profile covers no fields at all, or only the
// primary key.
func Empty(p *QueryProfile, primaryKey string) bool {
	fields := p.AllFields()
	if len(fields) == 0 {
		return true
	}
	if len(fields) == 1 && fields[0] == primaryKey {
		return true
	}
	return false
}

// equivalenceKey returns the key two profiles must share to be considered
// equivalent: same namespace, same exact set, same sort keys
// with the same direction on each key, same range set.
func (p *QueryProfile) equivalenceKey() string {
	var b strings.Builder
	b.WriteString(p.Namespace)
	b.WriteByte('|')
	writeSortedSet(&b, p.Exact)
	b.WriteByte('|')
	for i, k := range p.SortKeys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(p.SortDir[k].String())
	}
	b.WriteByte('|')
	writeSortedSet(&b, p.Range)
	return b.String()
}

func writeSortedSet(b *strings.Builder, set map[string]struct{}) {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
	}
}

// EquivalenceKey exposes equivalenceKey for use as a QuerySet dedup map key.
func (p *QueryProfile) EquivalenceKey() string {
	return p.equivalenceKey()
}

// Equivalent reports whether two profiles fold together under dedup:
// equal equivalence keys.
func (p *QueryProfile) Equivalent(other *QueryProfile) bool {
	return p.equivalenceKey() == other.equivalenceKey()
}

// MergeInto folds an incoming observation of an equivalent profile into p:
// usageCount sums, lastQueryTime takes the max, sources are unioned.
func (p *QueryProfile) MergeInto(incoming *QueryProfile) {
	p.UsageCount += incoming.UsageCount
	if incoming.LastQueryTime.After(p.LastQueryTime) {
		p.LastQueryTime = incoming.LastQueryTime
	}
	for _, s := range incoming.Sources {
		if !containsSource(p.Sources, s) {
			p.Sources = append(p.Sources, s)
		}
	}
}

func containsSource(sources []Source, s Source) bool {
	for _, existing := range sources {
		if existing == s {
			return true
		}
	}
	return false
}

// Stale reports whether the profile's lastQueryTime is old enough to be
// forgotten, when recentQueriesOnlyDays is enabled (>=0).
func (p *QueryProfile) Stale(now time.Time, recentQueriesOnlyDays int) bool {
	if recentQueriesOnlyDays < 0 {
		return false
	}
	cutoff := now.AddDate(0, 0, -recentQueriesOnlyDays)
	return p.LastQueryTime.Before(cutoff)
}
