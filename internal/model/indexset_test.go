package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexSetCanonicalizesOnAdd(t *testing.T) {
	s := NewIndexSet()
	a := NewCompoundIndex("app.users", IndexField{Path: "x", Direction: Ascending})
	b := NewCompoundIndex("app.users", IndexField{Path: "x", Direction: Ascending})

	first := s.Add(a)
	second := s.Add(b)
	assert.Same(t, first, second)
	assert.Equal(t, 1, s.Len())
}

func TestIndexSetByCollection(t *testing.T) {
	s := NewIndexSet()
	s.Add(NewCompoundIndex("app.users", IndexField{Path: "x", Direction: Ascending}))
	s.Add(NewCompoundIndex("app.users", IndexField{Path: "y", Direction: Ascending}))
	s.Add(NewCompoundIndex("app.orders", IndexField{Path: "z", Direction: Ascending}))

	grouped := s.ByCollection()
	require.Len(t, grouped, 2)
	assert.Len(t, grouped["app.users"], 2)
	assert.Len(t, grouped["app.orders"], 1)
}

func TestIndexSetDiffAndIntersect(t *testing.T) {
	a := NewIndexSet()
	x := a.Add(NewCompoundIndex("app.users", IndexField{Path: "x", Direction: Ascending}))
	a.Add(NewCompoundIndex("app.users", IndexField{Path: "y", Direction: Ascending}))

	b := NewIndexSet()
	b.Add(NewCompoundIndex("app.users", IndexField{Path: "x", Direction: Ascending}))

	diff := a.Diff(b)
	require.Len(t, diff, 1)
	assert.Equal(t, "y:1", diff[0].Sequence())

	inter := a.Intersect(b)
	require.Len(t, inter, 1)
	assert.Same(t, x, inter[0])
}
