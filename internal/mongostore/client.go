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

// Package mongostore is the engine's only connection to the database: a
// go.mongodb.org/mongo-driver client wrapping profiler-stream tailing,
// random-sample cursors, index create/drop/list, and the state-document
// upsert/read. The engine packages (sampler, reconcile, engine, state)
// depend on narrow interfaces this package satisfies, not on *mongo.Client
// directly.
package mongostore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// defaultConnectTimeout bounds the initial connect+ping.
const defaultConnectTimeout = 10 * time.Second

// Client is the mongo-driver-backed implementation of every transport
// interface the engine needs.
type Client struct {
	driver *mongo.Client
}

// Connect dials connStr and pings the primary so a bad connection string
// or unreachable server fails fast.
func Connect(ctx context.Context, connStr string) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	opt := options.Client().ApplyURI(connStr)
	driver, err := mongo.Connect(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to establish connection with mongoDB, because of %w", err)
	}
	if err := driver.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping mongoDB, because of %w", err)
	}
	return &Client{driver: driver}, nil
}

// Close disposes of the underlying connection.
func (c *Client) Close(ctx context.Context) error {
	if c.driver == nil {
		return nil
	}
	return c.driver.Disconnect(ctx)
}

// collection resolves a "database.collection" namespace to a *mongo.Collection.
func (c *Client) collection(namespace string) (*mongo.Collection, error) {
	db, coll, err := splitNamespace(namespace)
	if err != nil {
		return nil, err
	}
	return c.driver.Database(db).Collection(coll), nil
}

// splitNamespace splits a "database.collection" profile `ns` field, as
// carries.
func splitNamespace(namespace string) (db, coll string, err error) {
	idx := strings.Index(namespace, ".")
	if idx < 0 {
		return "", "", fmt.Errorf("malformed namespace %q: expected database.collection", namespace)
	}
	return namespace[:idx], namespace[idx+1:], nil
}
