package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveAndGetExchange(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	ex := &Exchange{
		TurnID:   "turn-1",
		Source:   "http",
		Prompt:   "What is 2+2?",
		Response: "4",
		Success:  true,
		Attempts: 2,
		Duration: 1500 * time.Millisecond,
	}
	id, err := db.SaveExchange(ctx, ex)
	require.NoError(t, err)
	assert.Equal(t, id, ex.ID)
	assert.False(t, ex.CreatedAt.IsZero())

	got, err := db.GetExchange(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "turn-1", got.TurnID)
	assert.Equal(t, "http", got.Source)
	assert.Equal(t, "What is 2+2?", got.Prompt)
	assert.Equal(t, "4", got.Response)
	assert.True(t, got.Success)
	assert.Empty(t, got.Error)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.WithinDuration(t, ex.CreatedAt, got.CreatedAt, time.Second)
}

func TestGetExchange_NotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetExchange(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecentExchanges_NewestFirst(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i, prompt := range []string{"one", "two", "three"} {
		_, err := db.SaveExchange(ctx, &Exchange{
			Source:    "cli",
			Prompt:    prompt,
			Success:   i != 1,
			Error:     map[bool]string{true: "", false: "timed out"}[i != 1],
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	recent, err := db.RecentExchanges(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "three", recent[0].Prompt)
	assert.Equal(t, "two", recent[1].Prompt)
	assert.False(t, recent[1].Success)
	assert.Equal(t, "timed out", recent[1].Error)
	assert.Empty(t, recent[1].TurnID)
}

func TestRecentExchanges_Empty(t *testing.T) {
	db := openTestDB(t)
	recent, err := db.RecentExchanges(context.Background(), 0)
	require.NoError(t, err)
	assert.NotNil(t, recent)
	assert.Empty(t, recent)
}

func TestGetStatistics(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	stats, err := db.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
	assert.Nil(t, stats.Last)

	for _, ex := range []*Exchange{
		{Source: "http", Prompt: "a", Success: true, Duration: time.Second},
		{Source: "http", Prompt: "b", Success: true, Duration: 3 * time.Second},
		{Source: "ws", Prompt: "c", Success: false, Error: "boom", Duration: 2 * time.Second},
	} {
		_, err := db.SaveExchange(ctx, ex)
		require.NoError(t, err)
	}

	stats, err = db.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 2*time.Second, stats.AvgDuration)
	require.NotNil(t, stats.Last)
	assert.WithinDuration(t, time.Now(), *stats.Last, time.Minute)
}

func TestParseTimestamp(t *testing.T) {
	got, err := parseTimestamp("2026-01-02 03:04:05.123+00:00")
	require.NoError(t, err)
	assert.Equal(t, 2026, got.Year())

	_, err = parseTimestamp("yesterday")
	assert.Error(t, err)
}
