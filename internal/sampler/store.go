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
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Store is the subset of database transport the sampler needs: counting a
// collection and opening an ascending primary-key cursor over it. The real implementation lives in internal/mongostore; tests
// use an in-memory fake.
type Store interface {
	// CountDocuments returns the current document count for namespace.
	CountDocuments(ctx context.Context, namespace string) (int64, error)

	// OpenAscendingCursor returns a cursor walking namespace in ascending
	// primary-key order, used by a single sampling session so repeated
	// skip calls are deltas from the previous position rather than
	// rescans from the start.
	OpenAscendingCursor(ctx context.Context, namespace string) (Cursor, error)
}

// Cursor walks a collection in ascending primary-key order. One Cursor
// backs exactly one sampling session and is not safe for concurrent use.
type Cursor interface {
	// Skip advances the cursor by delta documents and returns the
	// document now at the cursor, or found=false if that slot was empty
	// (document deleted concurrently); the cursor still advances, so the
	// next Skip's delta is relative to the attempted position.
	Skip(ctx context.Context, delta int64) (doc bson.Raw, found bool, err error)
	// Close releases any resources held by the cursor.
	Close(ctx context.Context) error
}
