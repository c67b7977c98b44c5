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
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// stateDocumentID is the fixed _id of the engine's single state document.
const stateDocumentID = "indexAdvisorState"

// UpsertState implements state.Store: last-writer-wins upsert of the single
// state document.
func (c *Client) UpsertState(ctx context.Context, database, collection string, doc bson.M) error {
	coll := c.driver.Database(database).Collection(collection)
	doc["_id"] = stateDocumentID
	_, err := coll.ReplaceOne(ctx, bson.M{"_id": stateDocumentID}, doc, options.Replace().SetUpsert(true))
	return err
}

// ReadState implements state.Store: reads the single state document, or
// returns (nil, nil) if none has been persisted yet (fresh engine start).
func (c *Client) ReadState(ctx context.Context, database, collection string) (bson.M, error) {
	coll := c.driver.Database(database).Collection(collection)
	var doc bson.M
	err := coll.FindOne(ctx, bson.M{"_id": stateDocumentID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}
