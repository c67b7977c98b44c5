package decompose

import (
	"sort"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/kedacore/index-advisor/internal/model"
)

var testObservedAt = time.Date(2024, 5, 17, 12, 0, 0, 0, time.UTC)

func decomposeTestQuery(t *testing.T, predicate bson.M, sortDoc bson.D) []*model.QueryProfile {
	t.Helper()
	return Decompose(logr.Discard(), "app.users", predicate, sortDoc, "_id", testObservedAt)
}

func exactFields(p *model.QueryProfile) []string {
	out := make([]string, 0, len(p.Exact))
	for f := range p.Exact {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func rangeFields(p *model.QueryProfile) []string {
	out := make([]string, 0, len(p.Range))
	for f := range p.Range {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func TestDecomposeSimpleEquality(t *testing.T) {
	profiles := decomposeTestQuery(t, bson.M{"name": "brad"}, nil)
	require.Len(t, profiles, 1)
	assert.Equal(t, []string{"name"}, exactFields(profiles[0]))
	assert.Empty(t, rangeFields(profiles[0]))
	assert.Equal(t, 1, profiles[0].UsageCount)
	assert.Equal(t, testObservedAt, profiles[0].LastQueryTime)
}

func TestDecomposeRangeOperators(t *testing.T) {
	for _, op := range []string{"$lt", "$lte", "$gt", "$gte", "$in", "$nin", "$ne", "$neq", "$exists", "$mod", "$all", "$regex", "$size"} {
		profiles := decomposeTestQuery(t, bson.M{"age": bson.M{op: 1}}, nil)
		require.Len(t, profiles, 1, "operator %s", op)
		assert.Equal(t, []string{"age"}, rangeFields(profiles[0]), "operator %s", op)
		assert.Empty(t, exactFields(profiles[0]), "operator %s", op)
	}
}

func TestDecomposeEqOperatorIsExact(t *testing.T) {
	profiles := decomposeTestQuery(t, bson.M{"status": bson.M{"$eq": "active"}}, nil)
	require.Len(t, profiles, 1)
	assert.Equal(t, []string{"status"}, exactFields(profiles[0]))
}

func TestDecomposeOrExpansion(t *testing.T) {
	// {name:"brad", $or:[{email:{$exists:true}}, {status:"registered", email:"x"}]}
	// sorted by {birthday:-1} expands into two profiles.
	profiles := decomposeTestQuery(t, bson.M{
		"name": "brad",
		"$or": bson.A{
			bson.M{"email": bson.M{"$exists": true}},
			bson.M{"status": "registered", "email": "x"},
		},
	}, bson.D{{Key: "birthday", Value: -1}})
	require.Len(t, profiles, 2)

	sort.Slice(profiles, func(i, j int) bool {
		return len(profiles[i].Exact) < len(profiles[j].Exact)
	})

	assert.Equal(t, []string{"name"}, exactFields(profiles[0]))
	assert.Equal(t, []string{"email"}, rangeFields(profiles[0]))
	assert.Equal(t, []string{"birthday"}, profiles[0].SortKeys)
	assert.Equal(t, model.Descending, profiles[0].SortDir["birthday"])

	assert.Equal(t, []string{"email", "name", "status"}, exactFields(profiles[1]))
	assert.Empty(t, rangeFields(profiles[1]))
	assert.Equal(t, []string{"birthday"}, profiles[1].SortKeys)
}

func TestDecomposeNestedOrMultiplies(t *testing.T) {
	profiles := decomposeTestQuery(t, bson.M{
		"$or": bson.A{
			bson.M{"a": 1, "$or": bson.A{bson.M{"b": 1}, bson.M{"c": 1}}},
			bson.M{"d": 1},
		},
	}, nil)
	assert.Len(t, profiles, 3)
}

func TestDecomposeAndMergesSequentially(t *testing.T) {
	profiles := decomposeTestQuery(t, bson.M{
		"$and": bson.A{
			bson.M{"a": 1},
			bson.M{"b": bson.M{"$gt": 5}},
		},
	}, nil)
	require.Len(t, profiles, 1)
	assert.Equal(t, []string{"a"}, exactFields(profiles[0]))
	assert.Equal(t, []string{"b"}, rangeFields(profiles[0]))
}

func TestDecomposeAndWithDisjunctionExpands(t *testing.T) {
	profiles := decomposeTestQuery(t, bson.M{
		"$and": bson.A{
			bson.M{"a": 1},
			bson.M{"$or": bson.A{bson.M{"b": 1}, bson.M{"c": 1}}},
		},
	}, nil)
	require.Len(t, profiles, 2)
	for _, p := range profiles {
		assert.Contains(t, exactFields(p), "a")
	}
}

func TestDecomposeElemMatchRootsSubtree(t *testing.T) {
	profiles := decomposeTestQuery(t, bson.M{
		"names": bson.M{"$elemMatch": bson.M{"first": "brad"}},
	}, nil)
	require.Len(t, profiles, 1)
	assert.Equal(t, []string{"names.first"}, exactFields(profiles[0]))
}

func TestDecomposeNotMergesSubtree(t *testing.T) {
	profiles := decomposeTestQuery(t, bson.M{
		"age": bson.M{"$not": bson.M{"$gt": 21}},
	}, nil)
	require.Len(t, profiles, 1)
	assert.Equal(t, []string{"age"}, rangeFields(profiles[0]))
}

func TestDecomposeCommentRecordsSource(t *testing.T) {
	profiles := decomposeTestQuery(t, bson.M{
		"name":     "brad",
		"$comment": bson.M{"source": "webapp", "version": "2.1"},
	}, nil)
	require.Len(t, profiles, 1)
	require.Len(t, profiles[0].Sources, 1)
	assert.Equal(t, model.Source{Source: "webapp", Version: "2.1"}, profiles[0].Sources[0])
}

func TestDecomposeIgnoredOperators(t *testing.T) {
	profiles := decomposeTestQuery(t, bson.M{
		"name":     "brad",
		"$hint":    "someIndex",
		"$explain": true,
	}, nil)
	require.Len(t, profiles, 1)
	assert.Equal(t, []string{"name"}, exactFields(profiles[0]))
}

func TestDecomposeUnrecognizedOperatorSkipped(t *testing.T) {
	profiles := decomposeTestQuery(t, bson.M{
		"name": "brad",
		"age":  bson.M{"$weirdOp": 3},
	}, nil)
	require.Len(t, profiles, 1)
	assert.Equal(t, []string{"name"}, exactFields(profiles[0]))
	assert.Empty(t, rangeFields(profiles[0]))
}

func TestDecomposeDiscardsEmptyAndPrimaryKeyOnly(t *testing.T) {
	assert.Empty(t, decomposeTestQuery(t, bson.M{}, nil))
	assert.Empty(t, decomposeTestQuery(t, bson.M{"_id": "abc"}, nil))
}

func TestDecomposeLeafCoverageIsExclusive(t *testing.T) {
	// Every referenced path lands in exactly one of exact/range.
	profiles := decomposeTestQuery(t, bson.M{
		"a": 1,
		"b": bson.M{"$in": bson.A{1, 2}},
		"$or": bson.A{
			bson.M{"c": "x"},
			bson.M{"c": bson.M{"$gt": 0}},
		},
	}, nil)
	require.Len(t, profiles, 2)
	for _, p := range profiles {
		for f := range p.Exact {
			assert.NotContains(t, rangeFields(p), f)
		}
	}
}
