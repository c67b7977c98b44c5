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

// Package decompose turns one observed (predicate, sort) pair into one or
// more model.QueryProfile values.
package decompose

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/go-logr/logr"

	"github.com/kedacore/index-advisor/internal/model"
)

// rangeOperators is the set of $-operators that mark a field as a
// range/multi-value predicate rather than an exact match.
var rangeOperators = map[string]struct{}{
	"$lt": {}, "$lte": {}, "$gt": {}, "$gte": {},
	"$in": {}, "$nin": {}, "$ne": {}, "$neq": {},
	"$exists": {}, "$mod": {}, "$all": {}, "$regex": {}, "$size": {},
}

// ignoredOperators are recognized but contribute nothing to a profile.
var ignoredOperators = map[string]struct{}{
	"$options": {}, "$hint": {}, "$explain": {}, "$text": {},
}

// subprofile is the decomposer's working accumulator: the partial
// exact/sort/range sets built up while walking the predicate tree, plus any
// $comment-derived source metadata collected along the way.
type subprofile struct {
	exact   map[string]struct{}
	ranges  map[string]struct{}
	sources []model.Source
}

func newSubprofile() *subprofile {
	return &subprofile{exact: map[string]struct{}{}, ranges: map[string]struct{}{}}
}

func (s *subprofile) clone() *subprofile {
	c := newSubprofile()
	for k := range s.exact {
		c.exact[k] = struct{}{}
	}
	for k := range s.ranges {
		c.ranges[k] = struct{}{}
	}
	c.sources = append([]model.Source(nil), s.sources...)
	return c
}

// Decompose walks predicate (and, if given, sort) into a set of
// QueryProfiles for namespace, expanding $or disjuncts into independent
// profiles by cartesian product. primaryKey identifies the field that
// alone does not qualify a profile for coverage.
//
// log receives one Info/Error call per unrecognized operator encountered;
// decomposition never aborts because of one.
func Decompose(log logr.Logger, namespace string, predicate bson.M, sort bson.D, primaryKey string, observedAt time.Time) []*model.QueryProfile {
	subs := analyze(log, predicate, []*subprofile{newSubprofile()})

	sortKeys, sortDir := sortSpec(sort)

	profiles := make([]*model.QueryProfile, 0, len(subs))
	for _, s := range subs {
		p := model.NewQueryProfile(namespace)
		for f := range s.exact {
			p.Exact[f] = struct{}{}
		}
		for f := range s.ranges {
			p.Range[f] = struct{}{}
		}
		p.SetSort(sortKeys, sortDir)
		p.UsageCount = 1
		p.LastQueryTime = observedAt
		p.Sources = s.sources

		if model.Empty(p, primaryKey) {
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles
}

func sortSpec(sort bson.D) ([]string, map[string]model.Direction) {
	if len(sort) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(sort))
	dir := make(map[string]model.Direction, len(sort))
	for _, e := range sort {
		keys = append(keys, e.Key)
		dir[e.Key] = directionOf(e.Value)
	}
	return keys, dir
}

func directionOf(v interface{}) model.Direction {
	switch n := v.(type) {
	case int32:
		if n < 0 {
			return model.Descending
		}
	case int64:
		if n < 0 {
			return model.Descending
		}
	case float64:
		if n < 0 {
			return model.Descending
		}
	case int:
		if n < 0 {
			return model.Descending
		}
	}
	return model.Ascending
}

// analyze walks a predicate document, returning the (possibly expanded) set
// of subprofiles produced by merging it into every subprofile in cur.
func analyze(log logr.Logger, predicate bson.M, cur []*subprofile) []*subprofile {
	for field, value := range predicate {
		switch field {
		case "$and":
			cur = analyzeAnd(log, value, cur)
		case "$or":
			cur = analyzeOr(log, value, cur)
		case "$comment":
			cur = analyzeComment(value, cur)
		case "$not":
			// $not wraps a subtree that applies to the same implied
			// path set as its argument: merge its analysis into the
			// current subprofiles.
			if sub, ok := value.(bson.M); ok {
				cur = analyze(log, sub, cur)
			} else if sub, ok := value.(map[string]interface{}); ok {
				cur = analyze(log, bson.M(sub), cur)
			}
		default:
			if len(field) > 0 && field[0] == '$' {
				if _, ok := ignoredOperators[field]; !ok {
					log.Info("unrecognized top-level operator, skipping", "operator", field)
				}
				continue
			}
			cur = analyzeField(log, field, value, cur)
		}
	}
	return cur
}

// analyzeField applies one leaf path=value predicate to every subprofile.
func analyzeField(log logr.Logger, path string, value interface{}, cur []*subprofile) []*subprofile {
	opDoc, isOpDoc := asOperatorDoc(value)
	if !isOpDoc {
		for _, s := range cur {
			s.exact[path] = struct{}{}
		}
		return cur
	}

	// An $elemMatch at this path analyzes its subtree rooted under path,
	// cartesian-joined under the current subprofiles.
	if elem, ok := opDoc["$elemMatch"]; ok {
		sub, _ := asOperatorDoc(elem)
		rewritten := rewritePaths(sub, path+model.PathSeparator)
		return analyze(log, rewritten, cur)
	}

	for op, opVal := range opDoc {
		switch op {
		case "$eq":
			for _, s := range cur {
				s.exact[path] = struct{}{}
			}
		case "$not":
			notDoc, ok := asOperatorDoc(opVal)
			if ok {
				cur = analyzeField(log, path, notDoc, cur)
			} else {
				for _, s := range cur {
					s.ranges[path] = struct{}{}
				}
			}
		default:
			if _, ok := rangeOperators[op]; ok {
				for _, s := range cur {
					s.ranges[path] = struct{}{}
				}
			} else if _, ok := ignoredOperators[op]; ok {
				// contributes nothing
			} else {
				log.Info("unrecognized operator, skipping", "path", path, "operator", op)
			}
		}
	}
	return cur
}

// analyzeAnd sequentially merges each operand's analysis into the current
// subprofiles; any disjunction an operand contains is carried through via
// the normal cartesian expansion that analyze/analyzeOr perform.
func analyzeAnd(log logr.Logger, value interface{}, cur []*subprofile) []*subprofile {
	operands, ok := asDocSlice(value)
	if !ok {
		log.Info("malformed $and operand, skipping")
		return cur
	}
	for _, operand := range operands {
		cur = analyze(log, operand, cur)
	}
	return cur
}

// analyzeOr expands the current subprofile list by cartesian product with
// each disjunct's analysis: every disjunct becomes an independent
// subprofile, and nested $or multiplies.
func analyzeOr(log logr.Logger, value interface{}, cur []*subprofile) []*subprofile {
	operands, ok := asDocSlice(value)
	if !ok {
		log.Info("malformed $or operand, skipping")
		return cur
	}
	var expanded []*subprofile
	for _, operand := range operands {
		for _, base := range cur {
			branch := analyze(log, operand, []*subprofile{base.clone()})
			expanded = append(expanded, branch...)
		}
	}
	return expanded
}

// analyzeComment records {source, version} metadata on every
// current subprofile.
func analyzeComment(value interface{}, cur []*subprofile) []*subprofile {
	doc, ok := asOperatorDoc(value)
	if !ok {
		return cur
	}
	src := model.Source{
		Source:  fmt.Sprint(doc["source"]),
		Version: fmt.Sprint(doc["version"]),
	}
	for _, s := range cur {
		s.sources = append(s.sources, src)
	}
	return cur
}

func asOperatorDoc(value interface{}) (bson.M, bool) {
	switch v := value.(type) {
	case bson.M:
		return v, true
	case map[string]interface{}:
		return bson.M(v), true
	case bson.D:
		m := make(bson.M, len(v))
		for _, e := range v {
			m[e.Key] = e.Value
		}
		return m, true
	default:
		return nil, false
	}
}

func asDocSlice(value interface{}) ([]bson.M, bool) {
	switch v := value.(type) {
	case bson.A:
		out := make([]bson.M, 0, len(v))
		for _, item := range v {
			if doc, ok := asOperatorDoc(item); ok {
				out = append(out, doc)
			}
		}
		return out, true
	case []interface{}:
		out := make([]bson.M, 0, len(v))
		for _, item := range v {
			if doc, ok := asOperatorDoc(item); ok {
				out = append(out, doc)
			}
		}
		return out, true
	case []bson.M:
		return v, true
	default:
		return nil, false
	}
}

// rewritePaths rebuilds a predicate document with every top-level field
// path prefixed, used to root an $elemMatch subtree under its array path.
func rewritePaths(doc bson.M, prefix string) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		if len(k) > 0 && k[0] == '$' {
			out[k] = v
			continue
		}
		out[prefix+k] = v
	}
	return out
}
