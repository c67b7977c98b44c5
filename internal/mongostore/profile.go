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
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ProfileRecord is the subset of a system.profile document the engine
// consumes. IndexesUsed lists the key patterns of the IXSCAN stages in the
// record's execution stats, when present.
type ProfileRecord struct {
	Namespace   string
	Query       bson.M
	Sort        bson.D
	IndexesUsed []string
}

// EnableProfiling sets the profiling level on database. Level -1 is a
// sentinel meaning "leave the profiler as-is".
func (c *Client) EnableProfiling(ctx context.Context, database string, level int) error {
	if level < 0 {
		return nil
	}
	return c.driver.Database(database).RunCommand(ctx, bson.D{{Key: "profile", Value: level}}).Err()
}

// TailProfile opens a tailable-awaitdata cursor over database.system.profile
// and emits every record it observes on the returned channel, in arrival
// order, until ctx is canceled or the cursor terminates. A cursor end while
// the context is still live (profiling disabled mid-run) is reported on the
// error channel as fatal.
func (c *Client) TailProfile(ctx context.Context, database string) (<-chan ProfileRecord, <-chan error) {
	records := make(chan ProfileRecord)
	errs := make(chan error, 1)

	go func() {
		defer close(records)
		defer close(errs)

		coll := c.driver.Database(database).Collection("system.profile")
		cur, err := coll.Find(ctx, bson.D{}, options.Find().
			SetCursorType(options.TailableAwait).
			SetNoCursorTimeout(true))
		if err != nil {
			errs <- fmt.Errorf("failed to open profile cursor: %w", err)
			return
		}
		defer cur.Close(ctx)

		for cur.Next(ctx) {
			var raw bson.M
			if err := cur.Decode(&raw); err != nil {
				// Transient decode failure on one record: skip it silently
				// and keep tailing.
				continue
			}
			rec, ok := parseProfileRecord(raw)
			if !ok {
				continue
			}
			select {
			case records <- rec:
			case <-ctx.Done():
				return
			}
		}
		if err := cur.Err(); err != nil {
			errs <- fmt.Errorf("profile cursor error: %w", err)
			return
		}
		if ctx.Err() == nil {
			// Cursor closed without a context cancellation: profiling was
			// disabled mid-run. Fatal.
			errs <- fmt.Errorf("profile cursor ended unexpectedly: profiling may have been disabled")
		}
	}()

	return records, errs
}

// parseProfileRecord extracts ns/query/orderby from a decoded
// system.profile document, accepting both the modern "query" field and the
// legacy "$query"/"query" wrapper.
func parseProfileRecord(raw bson.M) (ProfileRecord, bool) {
	ns, _ := raw["ns"].(string)
	if ns == "" {
		return ProfileRecord{}, false
	}

	query, _ := raw["query"].(bson.M)
	if query == nil {
		if wrapper, ok := raw["query"].(bson.D); ok {
			query = docToM(wrapper)
		}
	}
	if query == nil {
		if wrapper, ok := raw["command"].(bson.M); ok {
			if inner, ok := wrapper["filter"].(bson.M); ok {
				query = inner
			}
		}
	}
	if nested, ok := query["$query"].(bson.M); ok {
		query = nested
	}
	if query == nil {
		query = bson.M{}
	}

	var sort bson.D
	if s, ok := raw["orderby"].(bson.D); ok {
		sort = s
	} else if s, ok := raw["orderby"].(bson.M); ok {
		sort = mToDoc(s)
	}

	return ProfileRecord{
		Namespace:   ns,
		Query:       query,
		Sort:        sort,
		IndexesUsed: indexesUsed(raw["execStats"]),
	}, true
}

// indexesUsed walks an execStats tree collecting the keyPattern of every
// IXSCAN stage, so reports can show which index served an observed query.
func indexesUsed(v interface{}) []string {
	var out []string
	var walk func(node interface{})
	walk = func(node interface{}) {
		switch n := node.(type) {
		case bson.M:
			if stage, _ := n["stage"].(string); stage == "IXSCAN" {
				if pattern, ok := n["keyPattern"].(string); ok {
					out = append(out, pattern)
				}
			}
			// Legacy records spell the operator type differently.
			if typ, _ := n["type"].(string); typ == "IXSCAN" {
				if pattern, ok := n["keyPattern"].(string); ok {
					out = append(out, pattern)
				}
			}
			for _, child := range n {
				walk(child)
			}
		case bson.D:
			m := make(bson.M, len(n))
			for _, e := range n {
				m[e.Key] = e.Value
			}
			walk(m)
		case bson.A:
			for _, child := range n {
				walk(child)
			}
		case []interface{}:
			for _, child := range n {
				walk(child)
			}
		}
	}
	walk(v)
	return out
}

func docToM(d bson.D) bson.M {
	m := make(bson.M, len(d))
	for _, e := range d {
		m[e.Key] = e.Value
	}
	return m
}

func mToDoc(m bson.M) bson.D {
	d := make(bson.D, 0, len(m))
	for k, v := range m {
		d = append(d, bson.E{Key: k, Value: v})
	}
	return d
}
