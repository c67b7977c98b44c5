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

// Package model holds the data types shared by the decomposer, sampler,
// query set and reconciler: field paths, field/collection/index statistics,
// query profiles and compound indexes.
package model

import "strings"

// arrayMarker is the segment appended to an empty array's path when a
// sampled document is flattened, e.g. "tags": [] yields "tags.[]". Array
// positions themselves are dropped from flattened paths, so "tags.0.name"
// becomes "tags.name".
const arrayMarker = "[]"

// PathSeparator is the '.' dotted-path separator used in every in-memory
// field path. The five-underscore encoding used when paths are persisted as
// document keys is applied only at the state-document boundary,
// see internal/state.
const PathSeparator = "."

// SplitPath splits a dotted field path into its segments.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, PathSeparator)
}

// JoinPath re-assembles segments produced by SplitPath.
func JoinPath(segments ...string) string {
	return strings.Join(segments, PathSeparator)
}

// ArrayPrefixesOf returns every strict ancestor path of fieldPath that is
// listed in knownArrayPrefixes, ordered shortest-first. knownArrayPrefixes
// contains full dotted paths (without the trailing arrayMarker) known to
// denote arrays in the collection, as tracked by CollectionStatistics.
func ArrayPrefixesOf(fieldPath string, knownArrayPrefixes map[string]struct{}) []string {
	if len(knownArrayPrefixes) == 0 {
		return nil
	}
	segments := SplitPath(fieldPath)
	var prefixes []string
	for i := 1; i < len(segments); i++ {
		candidate := JoinPath(segments[:i]...)
		if _, ok := knownArrayPrefixes[candidate]; ok {
			prefixes = append(prefixes, candidate)
		}
	}
	return prefixes
}

// IsArrayMarker reports whether a flattened path segment is the
// empty-array marker.
func IsArrayMarker(segment string) bool {
	return segment == arrayMarker
}

// ArrayMarker returns the canonical array-index placeholder segment.
func ArrayMarker() string {
	return arrayMarker
}
