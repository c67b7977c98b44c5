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

// Package reconcile diffs a recommended model.IndexSet against a
// collection's existing indexes into create/keep/drop actions, honoring
// the auto_ ownership rule.
package reconcile

import "github.com/kedacore/index-advisor/internal/model"

// Actions is one collection's reconciliation plan.
type Actions struct {
	Namespace string
	Create    []*model.CompoundIndex
	Keep      []*model.ExistingIndex
	Drop      []*model.ExistingIndex
}

// Plan computes create/keep/drop actions for one collection:
//
//   - create = recommended - existing, by canonical sequence equality.
//   - drop   = (existing - recommended) filtered to auto_-owned names.
//   - keep   = intersection, plus (existing - recommended) whose names
//     lack the auto_ prefix.
//
// The primary-key-only index (existing entries with a nil Index, or whose
// Index is the empty sequence) is never emitted as create or drop.
func Plan(namespace string, recommended []*model.CompoundIndex, existing []*model.ExistingIndex) Actions {
	recByKey := make(map[string]*model.CompoundIndex, len(recommended))
	for _, idx := range recommended {
		recByKey[idx.Key()] = idx
	}

	existingByKey := make(map[string]*model.ExistingIndex, len(existing))
	for _, ex := range existing {
		if isPrimaryKeyIndex(ex) {
			continue
		}
		existingByKey[ex.Index.Key()] = ex
	}

	actions := Actions{Namespace: namespace}

	for key, idx := range recByKey {
		if _, ok := existingByKey[key]; !ok {
			actions.Create = append(actions.Create, idx)
		}
	}

	for key, ex := range existingByKey {
		if _, ok := recByKey[key]; ok {
			actions.Keep = append(actions.Keep, ex)
			continue
		}
		if model.OwnedByEngine(ex.Name) {
			actions.Drop = append(actions.Drop, ex)
		} else {
			actions.Keep = append(actions.Keep, ex)
		}
	}

	return actions
}

// isPrimaryKeyIndex reports whether an existing index is the collection's
// primary-key index, which the reconciler never touches.
func isPrimaryKeyIndex(ex *model.ExistingIndex) bool {
	return ex.Index == nil || len(ex.Index.Fields) == 0
}
