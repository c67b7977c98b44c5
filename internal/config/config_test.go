package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, 100_000, cfg.SampleSize)
	assert.Equal(t, 600*time.Second, cfg.SampleSpeed)
	assert.Equal(t, 30*24*time.Hour, cfg.CardinalityUpdateInterval)
	assert.Equal(t, 3, cfg.MinimumCardinality)
	assert.InDelta(t, 0.70, cfg.MinimumReduction, 1e-9)
	assert.True(t, cfg.IndexExtension)
	assert.Equal(t, 500, cfg.LongestIndexableValue)
	assert.Equal(t, -1, cfg.RecentQueriesOnlyDays)
	assert.Equal(t, 1, cfg.MinimumQueryCount)
	assert.Equal(t, 60*time.Second, cfg.IndexSynchronizationInterval)
	assert.Equal(t, 2, cfg.ProfileLevel)
	assert.False(t, cfg.DoChanges)
}

func TestCollectionSampleSize(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 10_000, cfg.CollectionSampleSize())

	cfg.SampleSize = 5
	assert.Equal(t, 1, cfg.CollectionSampleSize(), "never below one document")
}
