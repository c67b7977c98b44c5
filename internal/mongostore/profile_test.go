package mongostore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestParseProfileRecordPlainQuery(t *testing.T) {
	rec, ok := parseProfileRecord(bson.M{
		"ns":      "app.users",
		"query":   bson.M{"name": "brad"},
		"orderby": bson.M{"birthday": int32(-1)},
	})
	require.True(t, ok)
	assert.Equal(t, "app.users", rec.Namespace)
	assert.Equal(t, "brad", rec.Query["name"])
	require.Len(t, rec.Sort, 1)
	assert.Equal(t, "birthday", rec.Sort[0].Key)
}

func TestParseProfileRecordQueryWrapper(t *testing.T) {
	rec, ok := parseProfileRecord(bson.M{
		"ns": "app.users",
		"query": bson.M{
			"$query": bson.M{"name": "brad"},
		},
	})
	require.True(t, ok)
	assert.Equal(t, "brad", rec.Query["name"])
}

func TestParseProfileRecordCommandFilter(t *testing.T) {
	rec, ok := parseProfileRecord(bson.M{
		"ns": "app.users",
		"command": bson.M{
			"find":   "users",
			"filter": bson.M{"status": "active"},
		},
	})
	require.True(t, ok)
	assert.Equal(t, "active", rec.Query["status"])
}

func TestParseProfileRecordIndexesUsed(t *testing.T) {
	rec, ok := parseProfileRecord(bson.M{
		"ns":    "app.users",
		"query": bson.M{"name": "brad"},
		"execStats": bson.M{
			"stage": "FETCH",
			"inputStage": bson.M{
				"stage":      "IXSCAN",
				"keyPattern": "{ name: 1 }",
			},
		},
	})
	require.True(t, ok)
	assert.Equal(t, []string{"{ name: 1 }"}, rec.IndexesUsed)
}

func TestParseProfileRecordMissingNamespace(t *testing.T) {
	_, ok := parseProfileRecord(bson.M{"query": bson.M{"name": "brad"}})
	assert.False(t, ok)
}

func TestSplitNamespace(t *testing.T) {
	db, coll, err := splitNamespace("app.users")
	require.NoError(t, err)
	assert.Equal(t, "app", db)
	assert.Equal(t, "users", coll)

	db, coll, err = splitNamespace("app.system.profile")
	require.NoError(t, err)
	assert.Equal(t, "app", db)
	assert.Equal(t, "system.profile", coll)

	_, _, err = splitNamespace("noseparator")
	assert.Error(t, err)
}
