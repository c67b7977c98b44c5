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

	"github.com/kedacore/index-advisor/internal/model"
)

// primaryKeyIndexName is the name MongoDB assigns the mandatory _id index,
// never eligible for create/drop.
const primaryKeyIndexName = "_id_"

// CreateIndex implements reconcile.Store: builds the index's bson key
// document from its field sequence and creates it under its canonical
// auto_ name.
func (c *Client) CreateIndex(ctx context.Context, namespace string, idx *model.CompoundIndex) error {
	coll, err := c.collection(namespace)
	if err != nil {
		return err
	}
	name := idx.Name()
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    keyDocument(idx),
		Options: options.Index().SetName(name),
	})
	return err
}

// DropIndex implements reconcile.Store.
func (c *Client) DropIndex(ctx context.Context, namespace, name string) error {
	coll, err := c.collection(namespace)
	if err != nil {
		return err
	}
	_, err = coll.Indexes().DropOne(ctx, name)
	return err
}

// ListIndexes returns every index currently defined on namespace, parsed
// into model.ExistingIndex. The primary-key index is returned
// with a nil Index so reconcile.Plan's isPrimaryKeyIndex check skips it.
func (c *Client) ListIndexes(ctx context.Context, namespace string) ([]*model.ExistingIndex, error) {
	coll, err := c.collection(namespace)
	if err != nil {
		return nil, err
	}
	cur, err := coll.Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*model.ExistingIndex
	for cur.Next(ctx) {
		// The key pattern must keep its field order, so decode it as bson.D
		// rather than a map.
		var spec struct {
			Name string `bson:"name"`
			Key  bson.D `bson:"key"`
		}
		if err := cur.Decode(&spec); err != nil {
			return nil, err
		}
		if spec.Name == primaryKeyIndexName {
			out = append(out, &model.ExistingIndex{Name: spec.Name, Index: nil})
			continue
		}
		out = append(out, &model.ExistingIndex{Name: spec.Name, Index: parseKeyDocument(namespace, spec.Key)})
	}
	return out, cur.Err()
}

// keyDocument builds the bson index-key document from a CompoundIndex's
// field sequence, mapping model.Hashed to mongo's "hashed" index type.
func keyDocument(idx *model.CompoundIndex) bson.D {
	doc := make(bson.D, 0, len(idx.Fields))
	for _, f := range idx.Fields {
		var v interface{}
		if f.Direction == model.Hashed {
			v = "hashed"
		} else {
			v = int32(f.Direction)
		}
		doc = append(doc, bson.E{Key: f.Path, Value: v})
	}
	return doc
}

// parseKeyDocument parses an existing index's ordered key document back
// into a CompoundIndex, the inverse of keyDocument.
func parseKeyDocument(namespace string, key bson.D) *model.CompoundIndex {
	fields := make([]model.IndexField, 0, len(key))
	for _, e := range key {
		fields = append(fields, model.IndexField{Path: e.Key, Direction: directionOf(e.Value)})
	}
	return model.NewCompoundIndex(namespace, fields...)
}

func directionOf(v interface{}) model.Direction {
	switch val := v.(type) {
	case string:
		if val == "hashed" {
			return model.Hashed
		}
	case int32:
		if val < 0 {
			return model.Descending
		}
	case int64:
		if val < 0 {
			return model.Descending
		}
	case float64:
		if val < 0 {
			return model.Descending
		}
	}
	return model.Ascending
}
