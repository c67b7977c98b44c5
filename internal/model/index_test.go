package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompoundIndexEqual(t *testing.T) {
	a := NewCompoundIndex("app.users", IndexField{Path: "name", Direction: Ascending}, IndexField{Path: "age", Direction: Descending})
	b := NewCompoundIndex("app.users", IndexField{Path: "name", Direction: Ascending}, IndexField{Path: "age", Direction: Descending})
	assert.True(t, a.Equal(b))

	flipped := NewCompoundIndex("app.users", IndexField{Path: "name", Direction: Ascending}, IndexField{Path: "age", Direction: Ascending})
	assert.False(t, a.Equal(flipped))

	otherNS := NewCompoundIndex("app.orders", IndexField{Path: "name", Direction: Ascending}, IndexField{Path: "age", Direction: Descending})
	assert.False(t, a.Equal(otherNS))
}

func TestIsIndexPrefixOf(t *testing.T) {
	x := NewCompoundIndex("app.users", IndexField{Path: "x", Direction: Ascending})
	xy := NewCompoundIndex("app.users", IndexField{Path: "x", Direction: Ascending}, IndexField{Path: "y", Direction: Ascending})
	xyz := NewCompoundIndex("app.users", IndexField{Path: "x", Direction: Ascending}, IndexField{Path: "y", Direction: Ascending}, IndexField{Path: "z", Direction: Ascending})

	assert.True(t, x.IsIndexPrefixOf(xy))
	assert.True(t, x.IsIndexPrefixOf(xyz))
	assert.True(t, xy.IsIndexPrefixOf(xyz))
	assert.False(t, xyz.IsIndexPrefixOf(xy))
	assert.False(t, x.IsIndexPrefixOf(x), "an index is not a strict prefix of itself")

	xDesc := NewCompoundIndex("app.users", IndexField{Path: "x", Direction: Descending})
	assert.False(t, xDesc.IsIndexPrefixOf(xy), "directions participate in prefix matching")
}

func TestIndexName(t *testing.T) {
	idx := NewCompoundIndex("app.users", IndexField{Path: "name", Direction: Ascending})
	name := idx.Name()
	assert.True(t, strings.HasPrefix(name, NamePrefix))
	assert.Len(t, name, len(NamePrefix)+64)

	same := NewCompoundIndex("app.orders", IndexField{Path: "name", Direction: Ascending})
	assert.Equal(t, name, same.Name(), "the name derives from the sequence only")

	hashed := NewCompoundIndex("app.users", IndexField{Path: "name", Direction: Hashed})
	assert.NotEqual(t, name, hashed.Name())
}

func TestOwnedByEngine(t *testing.T) {
	assert.True(t, OwnedByEngine("auto_abcdef"))
	assert.False(t, OwnedByEngine("user_email_unique"))
	assert.False(t, OwnedByEngine("_id_"))
}

func TestArrayPrefixesOf(t *testing.T) {
	known := map[string]struct{}{"names": {}, "a.b": {}}
	assert.Equal(t, []string{"names"}, ArrayPrefixesOf("names.first", known))
	assert.Equal(t, []string{"a.b"}, ArrayPrefixesOf("a.b.c.d", known))
	assert.Empty(t, ArrayPrefixesOf("password", known))
	assert.Empty(t, ArrayPrefixesOf("names", known), "only strict ancestors count")
}
