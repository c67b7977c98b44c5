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
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Direction is the per-field ordering of a compound index entry: ascending,
// descending, or hashed.
type Direction int

const (
	// Ascending orders the field's values from smallest to largest.
	Ascending Direction = 1
	// Descending orders the field's values from largest to smallest.
	Descending Direction = -1
	// Hashed indexes the field by hash of its value rather than by value.
	Hashed Direction = 0
)

func (d Direction) String() string {
	switch d {
	case Ascending:
		return "1"
	case Descending:
		return "-1"
	case Hashed:
		return "hashed"
	default:
		return "?"
	}
}

// IndexField is one (path, direction) entry of a CompoundIndex.
type IndexField struct {
	Path      string
	Direction Direction
}

// CompoundIndex is an ordered sequence of (path, direction) pairs bound to a
// collection. Two CompoundIndex values are "the same" iff they share a
// namespace and their Fields sequences are pointwise equal; construct canonical, shared
// instances via the QuerySet reduction pass rather than comparing by Go
// pointer identity.
type CompoundIndex struct {
	Namespace string
	Fields    []IndexField
}

// NewCompoundIndex builds a CompoundIndex for a namespace from an ordered
// field list.
func NewCompoundIndex(namespace string, fields ...IndexField) *CompoundIndex {
	out := make([]IndexField, len(fields))
	copy(out, fields)
	return &CompoundIndex{Namespace: namespace, Fields: out}
}

// Sequence returns the canonical serialized form of the index's field
// sequence, used both for equality comparisons and as the input to the
// canonical name hash.
func (c *CompoundIndex) Sequence() string {
	var b strings.Builder
	for i, f := range c.Fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(f.Path)
		b.WriteByte(':')
		b.WriteString(f.Direction.String())
	}
	return b.String()
}

// Key returns a string uniquely identifying this index within its
// namespace, suitable for use as a map key when canonicalizing shared index
// objects during reduction.
func (c *CompoundIndex) Key() string {
	return c.Namespace + "\x00" + c.Sequence()
}

// Equal reports whether two indexes have the same namespace and pointwise
// equal field sequences.
func (c *CompoundIndex) Equal(other *CompoundIndex) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.Key() == other.Key()
}

// IsIndexPrefixOf reports whether c is a strict index-prefix of other: c's
// sequence equals the first len(c.Fields) entries of other's sequence, and
// len(c.Fields) < len(other.Fields).
func (c *CompoundIndex) IsIndexPrefixOf(other *CompoundIndex) bool {
	if c == nil || other == nil || c.Namespace != other.Namespace {
		return false
	}
	if len(c.Fields) >= len(other.Fields) {
		return false
	}
	for i, f := range c.Fields {
		of := other.Fields[i]
		if f.Path != of.Path || f.Direction != of.Direction {
			return false
		}
	}
	return true
}

// NamePrefix is the ownership marker that authorizes the engine to alter or
// drop an index; any index lacking it is treated as user-owned.
const NamePrefix = "auto_"

// Name returns the canonical engine-owned name for this index:
// "auto_" + sha256(serialized sequence).
func (c *CompoundIndex) Name() string {
	sum := sha256.Sum256([]byte(c.Sequence()))
	return NamePrefix + hex.EncodeToString(sum[:])
}

// OwnedByEngine reports whether an existing index's name carries the
// "auto_" ownership marker and may therefore be dropped or altered by the
// engine.
func OwnedByEngine(name string) bool {
	return strings.HasPrefix(name, NamePrefix)
}

// ExistingIndex is a named index as reported by the database's listIndexes
// call; unlike CompoundIndex (always an engine recommendation with a
// canonical computed name) an ExistingIndex may carry an arbitrary
// user-assigned name.
type ExistingIndex struct {
	Name  string
	Index *CompoundIndex
}
