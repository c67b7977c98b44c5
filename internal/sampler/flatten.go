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

package sampler

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/kedacore/index-advisor/internal/model"
)

// flatEntry is one (path, value) pair produced by flattening a sampled
// document, annotated with whether the path passed through an array.
type flatEntry struct {
	path        string
	value       interface{}
	underArray  bool
	arrayPrefix string // nearest enclosing array path, if underArray
}

// flattenDocument walks a decoded document into {path -> value} pairs.
// Array positions collapse out of the path entirely, so "names.0.first"
// and "names.1.first" both land on "names.first", with "names" recorded as
// the entry's nearest enclosing array. A field repeated across array
// elements therefore yields multiple entries at the same path. Empty
// arrays produce an entry at "path.[]" with a nil value so the array
// prefix is still recorded.
func flattenDocument(doc bson.M) []flatEntry {
	var out []flatEntry
	var walk func(prefix string, arrayPrefix string, v interface{})
	walk = func(prefix string, arrayPrefix string, v interface{}) {
		switch val := v.(type) {
		case bson.M:
			for k, child := range val {
				path := k
				if prefix != "" {
					path = prefix + model.PathSeparator + k
				}
				walk(path, arrayPrefix, child)
			}
		case map[string]interface{}:
			walk(prefix, arrayPrefix, bson.M(val))
		case bson.D:
			for _, e := range val {
				path := e.Key
				if prefix != "" {
					path = prefix + model.PathSeparator + e.Key
				}
				walk(path, arrayPrefix, e.Value)
			}
		case bson.A:
			if len(val) == 0 {
				out = append(out, flatEntry{
					path:        prefix + model.PathSeparator + model.ArrayMarker(),
					value:       nil,
					underArray:  true,
					arrayPrefix: prefix,
				})
				return
			}
			for _, elem := range val {
				walk(prefix, prefix, elem)
			}
		case []interface{}:
			walk(prefix, arrayPrefix, bson.A(val))
		default:
			out = append(out, flatEntry{
				path:        prefix,
				value:       val,
				underArray:  arrayPrefix != "",
				arrayPrefix: arrayPrefix,
			})
		}
	}
	walk("", "", doc)
	return out
}

// fingerprint returns a short, comparable representation of a scalar value
// suitable for use as a set element when estimating cardinality.
func fingerprint(v interface{}) string {
	return fmt.Sprintf("%T:%v", v, v)
}

// stringLength returns the length of a value's stringified form, used to
// track the "longest" statistic.
func stringLength(v interface{}) int {
	return len(fmt.Sprint(v))
}
