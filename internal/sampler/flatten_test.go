package sampler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func entriesAt(entries []flatEntry, path string) []flatEntry {
	var out []flatEntry
	for _, e := range entries {
		if e.path == path {
			out = append(out, e)
		}
	}
	return out
}

func TestFlattenNestedDocument(t *testing.T) {
	entries := flattenDocument(bson.M{
		"name": "brad",
		"address": bson.M{
			"city": "portland",
			"geo":  bson.M{"lat": 45.5},
		},
	})

	assert.Len(t, entriesAt(entries, "name"), 1)
	assert.Len(t, entriesAt(entries, "address.city"), 1)
	assert.Len(t, entriesAt(entries, "address.geo.lat"), 1)
}

func TestFlattenCollapsesArrayPositions(t *testing.T) {
	entries := flattenDocument(bson.M{
		"names": bson.A{
			bson.M{"first": "brad", "last": "jones"},
			bson.M{"first": "anna", "last": "smith"},
		},
	})

	firsts := entriesAt(entries, "names.first")
	assert.Len(t, firsts, 2, "both array elements land on the same collapsed path")
	for _, e := range firsts {
		assert.True(t, e.underArray)
		assert.Equal(t, "names", e.arrayPrefix)
	}
}

func TestFlattenScalarArray(t *testing.T) {
	entries := flattenDocument(bson.M{"tags": bson.A{"go", "db"}})
	tags := entriesAt(entries, "tags")
	assert.Len(t, tags, 2)
	assert.Equal(t, "tags", tags[0].arrayPrefix)
}

func TestFlattenEmptyArray(t *testing.T) {
	entries := flattenDocument(bson.M{"tags": bson.A{}})
	markers := entriesAt(entries, "tags.[]")
	assert.Len(t, markers, 1)
	assert.Nil(t, markers[0].value)
	assert.Equal(t, "tags", markers[0].arrayPrefix)
}

func TestFlattenNestedArrayPrefixIsNearest(t *testing.T) {
	entries := flattenDocument(bson.M{
		"orders": bson.A{
			bson.M{"items": bson.A{bson.M{"sku": "x1"}}},
		},
	})
	skus := entriesAt(entries, "orders.items.sku")
	assert.Len(t, skus, 1)
	assert.Equal(t, "orders.items", skus[0].arrayPrefix)
}

func TestFingerprintDistinguishesTypes(t *testing.T) {
	assert.NotEqual(t, fingerprint(int32(1)), fingerprint("1"))
	assert.Equal(t, fingerprint("a"), fingerprint("a"))
}
