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

package reconcile

import (
	"context"
	"strings"

	"github.com/go-logr/logr"

	"github.com/kedacore/index-advisor/internal/model"
)

// Store is the subset of database transport Apply needs: creating and
// dropping indexes by canonical name. The real implementation
// lives in internal/mongostore; tests use an in-memory fake.
type Store interface {
	CreateIndex(ctx context.Context, namespace string, idx *model.CompoundIndex) error
	DropIndex(ctx context.Context, namespace, name string) error
}

// HashDemoter is the sampler-side hook Apply invokes when a create fails
// with "value too large to index": the field with the longest observed
// values among the index's paths is marked hash-mode so the next
// optimization pass avoids the combination.
type HashDemoter interface {
	DemoteLongest(namespace string, paths []string)
}

// errIndexTooLarge is the substring MongoDB's createIndex error carries
// when a field value exceeds the index key size limit.
const errIndexTooLarge = "key too large"

// Apply executes actions against store: create the missing indexes, drop
// the auto_-owned superfluous ones. Both failure modes are non-fatal:
// reconciliation continues with the remaining actions.
func Apply(ctx context.Context, log logr.Logger, store Store, demoter HashDemoter, actions Actions) {
	for _, idx := range actions.Create {
		if err := store.CreateIndex(ctx, actions.Namespace, idx); err != nil {
			if isIndexTooLarge(err) {
				log.Info("index too large to create, demoting longest field to hash mode", "namespace", actions.Namespace, "index", idx.Name())
				if demoter != nil {
					demoter.DemoteLongest(actions.Namespace, indexPaths(idx))
				}
				continue
			}
			log.Error(err, "failed to create index", "namespace", actions.Namespace, "index", idx.Name())
			continue
		}
		log.Info("created index", "namespace", actions.Namespace, "index", idx.Name())
	}

	for _, ex := range actions.Drop {
		if err := store.DropIndex(ctx, actions.Namespace, ex.Name); err != nil {
			log.Error(err, "failed to drop index", "namespace", actions.Namespace, "index", ex.Name)
			continue
		}
		log.Info("dropped index", "namespace", actions.Namespace, "index", ex.Name)
	}
}

func isIndexTooLarge(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), errIndexTooLarge)
}

// indexPaths lists the non-hashed field paths of an index; hashed entries
// are already hash-mode and cannot be the oversized value.
func indexPaths(idx *model.CompoundIndex) []string {
	out := make([]string, 0, len(idx.Fields))
	for _, f := range idx.Fields {
		if f.Direction == model.Hashed {
			continue
		}
		out = append(out, f.Path)
	}
	return out
}
