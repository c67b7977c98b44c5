package queryset

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kedacore/index-advisor/internal/config"
	"github.com/kedacore/index-advisor/internal/model"
)

// fakeStats serves canned statistics, keyed by index sequence so tests can
// set them up without computing canonical names.
type fakeStats struct {
	collections map[string]*model.CollectionStatistics
	bySequence  map[string]map[string]*model.IndexStatistics
	collErr     error
}

func (f *fakeStats) CollectionStatistics(_ context.Context, namespace string) (*model.CollectionStatistics, error) {
	if f.collErr != nil {
		return nil, f.collErr
	}
	cs, ok := f.collections[namespace]
	if !ok {
		cs = model.NewCollectionStatistics()
	}
	return cs, nil
}

func (f *fakeStats) IndexStatistics(_ context.Context, namespace string, indexes []*model.CompoundIndex) (map[string]*model.IndexStatistics, error) {
	out := make(map[string]*model.IndexStatistics)
	for _, idx := range indexes {
		if st, ok := f.bySequence[namespace][idx.Sequence()]; ok {
			out[idx.Name()] = st
		}
	}
	return out, nil
}

func testProfile(namespace string, exact []string, sortKeys []string, sortDir map[string]model.Direction, rng []string) *model.QueryProfile {
	p := model.NewQueryProfile(namespace)
	for _, f := range exact {
		p.Exact[f] = struct{}{}
	}
	for _, f := range rng {
		p.Range[f] = struct{}{}
	}
	p.SetSort(sortKeys, sortDir)
	p.UsageCount = 1
	p.LastQueryTime = time.Now()
	return p
}

func asc(paths ...string) []model.IndexField {
	out := make([]model.IndexField, 0, len(paths))
	for _, p := range paths {
		out = append(out, model.IndexField{Path: p, Direction: model.Ascending})
	}
	return out
}

func indexStats(reductions map[string]float64) *model.IndexStatistics {
	st := &model.IndexStatistics{ByPath: make(map[string]model.IndexPrefixStatistics), LastSampleTime: time.Now()}
	for path, r := range reductions {
		st.ByPath[path] = model.IndexPrefixStatistics{Reduction: r}
	}
	return st
}

func TestAddDeduplicatesEquivalentProfiles(t *testing.T) {
	qs := New(&fakeStats{}, logr.Discard(), config.Defaults())

	first := testProfile("app.users", []string{"name"}, nil, nil, nil)
	second := testProfile("app.users", []string{"name"}, nil, nil, nil)
	second.Sources = []model.Source{{Source: "webapp", Version: "2"}}

	canonical := qs.Add(first)
	merged := qs.Add(second)

	assert.Same(t, canonical, merged)
	assert.Equal(t, 1, qs.Len())
	assert.Equal(t, 2, canonical.UsageCount)
	assert.Len(t, canonical.Sources, 1)
}

func TestPruneDropsStaleProfiles(t *testing.T) {
	cfg := config.Defaults()
	cfg.RecentQueriesOnlyDays = 7
	qs := New(&fakeStats{}, logr.Discard(), cfg)

	fresh := testProfile("app.users", []string{"name"}, nil, nil, nil)
	stale := testProfile("app.users", []string{"email"}, nil, nil, nil)
	stale.LastQueryTime = time.Now().AddDate(0, 0, -30)
	qs.Add(fresh)
	qs.Add(stale)

	removed := qs.Prune(time.Now())
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, qs.Len())
}

func TestReduceIndexesAbsorbsPrefixes(t *testing.T) {
	x := model.NewCompoundIndex("app.users", asc("x")...)
	xy := model.NewCompoundIndex("app.users", asc("x", "y")...)
	xyz := model.NewCompoundIndex("app.users", asc("x", "y", "z")...)

	entries := []*entry{
		{profile: testProfile("app.users", []string{"x"}, nil, nil, nil), candidates: []*model.CompoundIndex{x}},
		{profile: testProfile("app.users", []string{"x", "y"}, nil, nil, nil), candidates: []*model.CompoundIndex{xy}},
		{profile: testProfile("app.users", []string{"x", "y", "z"}, nil, nil, nil), candidates: []*model.CompoundIndex{xyz}},
	}
	reduceIndexes(entries)

	unique := uniqueCandidates(entries)
	require.Len(t, unique, 1)
	assert.Equal(t, "x:1,y:1,z:1", unique[0].Sequence())

	for _, e := range entries {
		require.Len(t, e.candidates, 1)
		assert.Same(t, unique[0], e.candidates[0], "all entries share the canonical index object")
	}
}

func TestReduceIndexesCanonicalizesDuplicates(t *testing.T) {
	a := model.NewCompoundIndex("app.users", asc("x", "y")...)
	b := model.NewCompoundIndex("app.users", asc("x", "y")...)

	entries := []*entry{
		{profile: testProfile("app.users", []string{"x", "y"}, nil, nil, nil), candidates: []*model.CompoundIndex{a}},
		{profile: testProfile("app.users", []string{"y", "x"}, nil, nil, []string{"q"}), candidates: []*model.CompoundIndex{b}},
	}
	reduceIndexes(entries)
	assert.Same(t, entries[0].candidates[0], entries[1].candidates[0])

	relation := servedBy(entries)
	assert.Len(t, relation[entries[0].candidates[0].Key()], 2)
}

func TestReduceIndexesFixedPointIsPrefixFree(t *testing.T) {
	candidates := [][]string{
		{"a"}, {"a", "b"}, {"a", "b", "c"}, {"d"}, {"d", "e"}, {"f"},
	}
	var entries []*entry
	for _, paths := range candidates {
		entries = append(entries, &entry{
			profile:    testProfile("app.users", paths, nil, nil, nil),
			candidates: []*model.CompoundIndex{model.NewCompoundIndex("app.users", asc(paths...)...)},
		})
	}
	reduceIndexes(entries)

	unique := uniqueCandidates(entries)
	for _, a := range unique {
		for _, b := range unique {
			assert.False(t, a.IsIndexPrefixOf(b), "%s is a prefix of %s", a.Sequence(), b.Sequence())
		}
	}
}

func TestSimplifyRemovesRightmostWeakField(t *testing.T) {
	cfg := config.Defaults()
	nameBirthday := model.NewCompoundIndex("app.users", asc("name", "birthday")...)

	stats := &fakeStats{
		bySequence: map[string]map[string]*model.IndexStatistics{
			"app.users": {
				nameBirthday.Sequence(): indexStats(map[string]float64{"name": 0.33, "birthday": 0.75}),
			},
		},
	}
	qs := New(stats, logr.Discard(), cfg)

	e := &entry{
		profile:    testProfile("app.users", []string{"name", "birthday"}, nil, nil, nil),
		candidates: []*model.CompoundIndex{nameBirthday},
	}
	group := []*entry{e}

	err := qs.simplify(context.Background(), map[string][]*entry{"app.users": group})
	require.NoError(t, err)
	require.Len(t, e.candidates, 1)
	assert.Equal(t, "name:1", e.candidates[0].Sequence())
}

func TestSimplifyNeverRemovesSortFields(t *testing.T) {
	cfg := config.Defaults()
	nameBirthday := model.NewCompoundIndex("app.users", asc("name", "birthday")...)

	stats := &fakeStats{
		bySequence: map[string]map[string]*model.IndexStatistics{
			"app.users": {
				nameBirthday.Sequence(): indexStats(map[string]float64{"name": 0.8, "birthday": 0.9}),
			},
		},
	}
	qs := New(stats, logr.Discard(), cfg)

	e := &entry{
		profile: testProfile("app.users", []string{"name"},
			[]string{"birthday"}, map[string]model.Direction{"birthday": model.Ascending}, nil),
		candidates: []*model.CompoundIndex{nameBirthday},
	}

	err := qs.simplify(context.Background(), map[string][]*entry{"app.users": {e}})
	require.NoError(t, err)
	require.Len(t, e.candidates, 1)
	assert.Equal(t, "birthday:1", e.candidates[0].Sequence(), "only the non-sort field may go")
}

func TestSimplifyRemovesAtMostOneFieldPerPass(t *testing.T) {
	cfg := config.Defaults()
	abc := model.NewCompoundIndex("app.users", asc("a", "b", "c")...)

	stats := &fakeStats{
		bySequence: map[string]map[string]*model.IndexStatistics{
			"app.users": {
				abc.Sequence(): indexStats(map[string]float64{"a": 0.9, "b": 0.9, "c": 0.9}),
			},
		},
	}
	qs := New(stats, logr.Discard(), cfg)

	e := &entry{
		profile:    testProfile("app.users", []string{"a", "b", "c"}, nil, nil, nil),
		candidates: []*model.CompoundIndex{abc},
	}
	group := []*entry{e}

	changed, err := qs.simplifyPass(context.Background(), "app.users", group)
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, e.candidates, 1)
	assert.Equal(t, "a:1,b:1", e.candidates[0].Sequence(), "one pass removes only the rightmost weak field")
}

func TestExtendAppendsHighestVotedField(t *testing.T) {
	cfg := config.Defaults()
	stats := &fakeStats{
		collections: map[string]*model.CollectionStatistics{
			"app.users": func() *model.CollectionStatistics {
				cs := model.NewCollectionStatistics()
				cs.Fields["x"] = model.FieldStatistics{Cardinality: 50, Mode: model.ModeNormal}
				cs.Fields["y"] = model.FieldStatistics{Cardinality: 40, Mode: model.ModeNormal}
				cs.Fields["z"] = model.FieldStatistics{Cardinality: 30, Mode: model.ModeNormal}
				return cs
			}(),
		},
	}
	qs := New(stats, logr.Discard(), cfg)

	x := model.NewCompoundIndex("app.users", asc("x")...)
	p1 := testProfile("app.users", []string{"x", "y"}, nil, nil, nil)
	p1.UsageCount = 5
	p2 := testProfile("app.users", []string{"x", "z"}, nil, nil, nil)
	p2.UsageCount = 3

	final := model.NewIndexSet()
	canonical := final.Add(x)
	relation := map[string][]*model.QueryProfile{canonical.Key(): {p1, p2}}

	extended := qs.extend(context.Background(), final, relation)
	all := extended.All()
	require.Len(t, all, 1)
	assert.Equal(t, "x:1,y:1", all[0].Sequence(), "y wins the vote and z's voter drops out")
}

func TestExtendSkipsHashAndArrayFields(t *testing.T) {
	cfg := config.Defaults()
	cs := model.NewCollectionStatistics()
	cs.Fields["x"] = model.FieldStatistics{Cardinality: 50, Mode: model.ModeNormal}
	cs.Fields["blob"] = model.FieldStatistics{Cardinality: 90, Mode: model.ModeHash}
	cs.Fields["names.first"] = model.FieldStatistics{Cardinality: 40, Mode: model.ModeNormal, ArrayPrefixes: []string{"names"}}
	stats := &fakeStats{collections: map[string]*model.CollectionStatistics{"app.users": cs}}
	qs := New(stats, logr.Discard(), cfg)

	x := model.NewCompoundIndex("app.users", asc("x")...)
	p := testProfile("app.users", []string{"x", "blob", "names.first"}, nil, nil, nil)
	p.UsageCount = 10

	final := model.NewIndexSet()
	canonical := final.Add(x)
	relation := map[string][]*model.QueryProfile{canonical.Key(): {p}}

	extended := qs.extend(context.Background(), final, relation)
	all := extended.All()
	require.Len(t, all, 1)
	assert.Equal(t, "x:1", all[0].Sequence())
}

func TestRecommendEndToEnd(t *testing.T) {
	cfg := config.Defaults()
	cfg.IndexExtension = false

	cs := model.NewCollectionStatistics()
	cs.Fields["x"] = model.FieldStatistics{Cardinality: 50, Mode: model.ModeNormal}
	cs.Fields["y"] = model.FieldStatistics{Cardinality: 40, Mode: model.ModeNormal}
	cs.LastSampleTime = time.Now()

	stats := &fakeStats{collections: map[string]*model.CollectionStatistics{"app.users": cs}}
	qs := New(stats, logr.Discard(), cfg)

	qs.Add(testProfile("app.users", []string{"x"}, nil, nil, nil))
	qs.Add(testProfile("app.users", []string{"x", "y"}, nil, nil, nil))

	rec, err := qs.Recommend(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rec.Indexes.Len(), "the single-field candidate is absorbed")
	assert.Equal(t, "x:1,y:1", rec.Indexes.All()[0].Sequence())
}

func TestRecommendHonorsMinimumQueryCount(t *testing.T) {
	cfg := config.Defaults()
	cfg.MinimumQueryCount = 2
	cfg.IndexExtension = false

	stats := &fakeStats{}
	qs := New(stats, logr.Discard(), cfg)
	qs.Add(testProfile("app.users", []string{"x"}, nil, nil, nil))

	rec, err := qs.Recommend(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Indexes.Len())
}

func TestRecommendFallsBackToNaiveOnStatsError(t *testing.T) {
	cfg := config.Defaults()
	cfg.IndexExtension = false

	stats := &fakeStats{collErr: assert.AnError}
	qs := New(stats, logr.Discard(), cfg)
	qs.Add(testProfile("app.users", []string{"x"}, nil, nil, nil))

	rec, err := qs.Recommend(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rec.Indexes.Len())
	assert.Equal(t, "x:1", rec.Indexes.All()[0].Sequence())
}
