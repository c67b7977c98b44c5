package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/kedacore/index-advisor/internal/model"
)

type fakeStateStore struct {
	doc bson.M
}

func (f *fakeStateStore) UpsertState(_ context.Context, _, _ string, doc bson.M) error {
	f.doc = doc
	return nil
}

func (f *fakeStateStore) ReadState(_ context.Context, _, _ string) (bson.M, error) {
	return f.doc, nil
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := &fakeStateStore{}
	m := NewManager(store, "admin", "indexAdvisorState")

	observed := time.Date(2024, 5, 17, 12, 0, 0, 0, time.UTC)
	p := model.NewQueryProfile("app.users")
	p.Exact["name"] = struct{}{}
	p.Range["email"] = struct{}{}
	p.SetSort([]string{"birthday"}, map[string]model.Direction{"birthday": model.Descending})
	p.UsageCount = 4
	p.LastQueryTime = observed
	p.Sources = []model.Source{{Source: "webapp", Version: "2.1"}}

	cs := model.NewCollectionStatistics()
	cs.Fields["names.first"] = model.FieldStatistics{
		Cardinality:   40,
		Longest:       12,
		Mode:          model.ModeNormal,
		ArrayPrefixes: []string{"names"},
	}
	cs.KnownArrayPrefixes["names"] = struct{}{}
	cs.LastSampleTime = observed

	is := &model.IndexStatistics{
		ByPath: map[string]model.IndexPrefixStatistics{
			"names.first": {CurrentAverageDistinct: 2.5, LastAverageDistinct: 10, Reduction: 0.25},
		},
		LastSampleTime: observed,
	}

	err := m.Save(context.Background(),
		[]*model.QueryProfile{p},
		map[string]*model.CollectionStatistics{"app.users": cs},
		map[string]*model.IndexStatistics{"app.users-auto_xyz": is})
	require.NoError(t, err)

	profiles, collStats, idxStats, err := m.Load(context.Background())
	require.NoError(t, err)

	require.Len(t, profiles, 1)
	got := profiles[0]
	assert.Equal(t, "app.users", got.Namespace)
	assert.Contains(t, got.Exact, "name")
	assert.Contains(t, got.Range, "email")
	assert.Equal(t, []string{"birthday"}, got.SortKeys)
	assert.Equal(t, model.Descending, got.SortDir["birthday"])
	assert.Equal(t, 4, got.UsageCount)
	assert.Equal(t, observed, got.LastQueryTime)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, model.Source{Source: "webapp", Version: "2.1"}, got.Sources[0])
	assert.True(t, got.Equivalent(p))

	require.Contains(t, collStats, "app.users")
	fs, ok := collStats["app.users"].FieldStats("names.first")
	require.True(t, ok)
	assert.Equal(t, 40, fs.Cardinality)
	assert.Equal(t, []string{"names"}, fs.ArrayPrefixes)
	assert.Contains(t, collStats["app.users"].KnownArrayPrefixes, "names")
	assert.Equal(t, observed, collStats["app.users"].LastSampleTime)

	require.Contains(t, idxStats, "app.users-auto_xyz")
	ps := idxStats["app.users-auto_xyz"].ByPath["names.first"]
	assert.InDelta(t, 2.5, ps.CurrentAverageDistinct, 1e-9)
	assert.InDelta(t, 0.25, ps.Reduction, 1e-9)
}

func TestSaveEncodesDottedKeys(t *testing.T) {
	store := &fakeStateStore{}
	m := NewManager(store, "admin", "indexAdvisorState")

	cs := model.NewCollectionStatistics()
	cs.Fields["address.geo.lat"] = model.FieldStatistics{Cardinality: 10}

	err := m.Save(context.Background(), nil,
		map[string]*model.CollectionStatistics{"app.users": cs}, nil)
	require.NoError(t, err)

	samplerDoc := store.doc["sampler"].(bson.M)
	collDoc := samplerDoc["collectionStatistics"].(bson.M)
	require.Contains(t, collDoc, "app_____users")

	fields := collDoc["app_____users"].(bson.M)["fields"].(bson.M)
	assert.Contains(t, fields, "address_____geo_____lat")

	// No persisted map key may carry a dot.
	var checkKeys func(v interface{})
	checkKeys = func(v interface{}) {
		doc, ok := v.(bson.M)
		if !ok {
			return
		}
		for k, child := range doc {
			assert.NotContains(t, k, ".", "key %q", k)
			checkKeys(child)
		}
	}
	checkKeys(store.doc)
}

func TestLoadMissingStateReturnsEmpty(t *testing.T) {
	m := NewManager(&fakeStateStore{}, "admin", "indexAdvisorState")
	profiles, collStats, idxStats, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, profiles)
	assert.Nil(t, collStats)
	assert.Nil(t, idxStats)
}
