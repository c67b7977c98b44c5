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

package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kedacore/index-advisor/internal/sampler"
)

// CountDocuments implements sampler.Store.
func (c *Client) CountDocuments(ctx context.Context, namespace string) (int64, error) {
	coll, err := c.collection(namespace)
	if err != nil {
		return 0, err
	}
	return coll.EstimatedDocumentCount(ctx)
}

// OpenAscendingCursor implements sampler.Store: an ascending _id cursor the
// sampler walks forward with Skip deltas so a whole sampling session scans
// the collection only once.
func (c *Client) OpenAscendingCursor(ctx context.Context, namespace string) (sampler.Cursor, error) {
	coll, err := c.collection(namespace)
	if err != nil {
		return nil, err
	}
	cur, err := coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	return &ascendingCursor{mongo: cur}, nil
}

// ascendingCursor adapts a *mongo.Cursor to sampler.Cursor's skip-delta
// contract.
type ascendingCursor struct {
	mongo *mongo.Cursor
}

func (a *ascendingCursor) Skip(ctx context.Context, delta int64) (bson.Raw, bool, error) {
	var i int64
	for i = 0; i < delta; i++ {
		if !a.mongo.Next(ctx) {
			return nil, false, a.mongo.Err()
		}
	}
	if !a.mongo.Next(ctx) {
		return nil, false, a.mongo.Err()
	}
	return a.mongo.Current, true, nil
}

func (a *ascendingCursor) Close(ctx context.Context) error {
	return a.mongo.Close(ctx)
}
