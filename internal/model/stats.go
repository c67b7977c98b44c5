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

import "time"

// FieldMode classifies how a field should be represented in a compound
// index: in normal ascending/descending order, or as a single-field hashed
// index when its values are too large to index directly.
type FieldMode string

const (
	// ModeNormal is a regular ascending/descending indexable field.
	ModeNormal FieldMode = "normal"
	// ModeHash marks a field whose longest observed value exceeds
	// longestIndexableValue; it is indexed separately as a hashed index.
	ModeHash FieldMode = "hash"
)

// FieldStatistics holds the per-field-path statistics derived from a
// collection sample.
type FieldStatistics struct {
	Cardinality   int
	Longest       int
	Mode          FieldMode
	ArrayPrefixes []string
}

// CollectionStatistics is the per-collection statistics cache populated by
// the sampler.
type CollectionStatistics struct {
	Fields             map[string]FieldStatistics
	KnownArrayPrefixes map[string]struct{}
	LastSampleTime     time.Time
}

// NewCollectionStatistics returns an empty, ready-to-populate statistics
// record.
func NewCollectionStatistics() *CollectionStatistics {
	return &CollectionStatistics{
		Fields:             make(map[string]FieldStatistics),
		KnownArrayPrefixes: make(map[string]struct{}),
	}
}

// Fresh reports whether the statistics are recent enough to be used without
// resampling: younger than cardinalityUpdateInterval.
func (c *CollectionStatistics) Fresh(now time.Time, cardinalityUpdateInterval time.Duration) bool {
	if c == nil || c.LastSampleTime.IsZero() {
		return false
	}
	return now.Sub(c.LastSampleTime) < cardinalityUpdateInterval
}

// FieldStats looks up the statistics for a field path, reporting whether
// they were found.
func (c *CollectionStatistics) FieldStats(path string) (FieldStatistics, bool) {
	if c == nil {
		return FieldStatistics{}, false
	}
	fs, ok := c.Fields[path]
	return fs, ok
}

// IndexPrefixStatistics is the per-prefix-length statistic recorded by index
// sampling: the average distinct tuple count observed at
// that prefix length, and the reduction ratio relative to the previous
// prefix length (or to the total sampled document count at position 0).
type IndexPrefixStatistics struct {
	CurrentAverageDistinct float64
	LastAverageDistinct    float64
	Reduction              float64
}

// IndexStatistics holds, per field position in a compound index, the
// reduction statistics computed by index sampling.
type IndexStatistics struct {
	ByPath         map[string]IndexPrefixStatistics
	LastSampleTime time.Time
}

// Fresh reports whether index statistics are recent enough to be used
// without resampling.
func (s *IndexStatistics) Fresh(now time.Time, cardinalityUpdateInterval time.Duration) bool {
	if s == nil || s.LastSampleTime.IsZero() {
		return false
	}
	return now.Sub(s.LastSampleTime) < cardinalityUpdateInterval
}
