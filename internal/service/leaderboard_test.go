package service

import (
	"context"
	"testing"
	"time"

	"referral_engine/internal/errs"
	"referral_engine/internal/model"
	"referral_engine/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedLeaderboard(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()

	users := []struct {
		id        string
		refs      int
		earned    float64
		quests    int
		xp        int
		withXPDoc bool
	}{
		{id: "u1", refs: 5, earned: 10, quests: 1, xp: 100, withXPDoc: true},
		{id: "u2", refs: 5, earned: 0, quests: 3, xp: 300, withXPDoc: true},
		{id: "u3", refs: 2, earned: 40, quests: 0},
		{id: "u4", refs: 5, earned: 0, quests: 3, xp: 300, withXPDoc: true},
	}

	for _, u := range users {
		require.NoError(t, env.store.Put(ctx, store.CollectionUsers, u.id, &model.UserAggregate{
			UserID:          u.id,
			TotalReferrals:  u.refs,
			TotalEarned:     u.earned,
			QuestsCompleted: u.quests,
		}))
		if u.withXPDoc {
			require.NoError(t, env.store.Put(ctx, store.CollectionXP, u.id, &model.XPRecord{
				UserID:          u.id,
				TotalXP:         u.xp,
				QuestsCompleted: u.quests,
			}))
		}
	}
}

func rankedIDs(entries []*model.LeaderboardEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.UserID
	}
	return ids
}

func TestLeaderboardRanker_Rank(t *testing.T) {
	env := newTestEnv(t)
	seedLeaderboard(t, env)

	tests := []struct {
		dimension model.Dimension
		expected  []string
		topScore  float64
	}{
		{dimension: model.DimensionReferrals, expected: []string{"u2", "u4", "u1", "u3"}, topScore: 5},
		{dimension: model.DimensionEarnings, expected: []string{"u3", "u1", "u2", "u4"}, topScore: 40},
		{dimension: model.DimensionQuests, expected: []string{"u2", "u4", "u1", "u3"}, topScore: 3},
		{dimension: model.DimensionXP, expected: []string{"u2", "u4", "u1", "u3"}, topScore: 300},
		{dimension: model.DimensionOverall, expected: []string{"u1", "u3", "u2", "u4"}, topScore: 62},
	}

	for _, tt := range tests {
		t.Run(string(tt.dimension), func(t *testing.T) {
			entries, err := env.svc.Leaderboard.Rank(context.Background(), tt.dimension, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, rankedIDs(entries))
			assert.Equal(t, tt.topScore, entries[0].Score)

			for i, e := range entries {
				assert.Equal(t, i+1, e.Rank)
			}
		})
	}
}

func TestLeaderboardRanker_LimitAndUserRank(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedLeaderboard(t, env)

	top, err := env.svc.Leaderboard.Rank(ctx, model.DimensionReferrals, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "u4"}, rankedIDs(top))
	assert.Equal(t, 1, top[0].Level)

	rank, err := env.svc.Leaderboard.UserRank(ctx, "u4", model.DimensionReferrals)
	require.NoError(t, err)
	assert.Equal(t, 2, rank)

	rank, err = env.svc.Leaderboard.UserRank(ctx, "u3", model.DimensionEarnings)
	require.NoError(t, err)
	assert.Equal(t, 1, rank)

	rank, err = env.svc.Leaderboard.UserRank(ctx, "nobody", model.DimensionXP)
	require.NoError(t, err)
	assert.Equal(t, 0, rank)

	_, err = env.svc.Leaderboard.Rank(ctx, "points", 10)
	assert.ErrorIs(t, err, ErrInvalidDimension)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestLeaderboardRanker_Cache(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedLeaderboard(t, env)

	ranker := NewLeaderboardRanker(env.store, time.Minute, Options{Clock: env.clock})

	entries, err := ranker.Rank(ctx, model.DimensionReferrals, 1)
	require.NoError(t, err)
	assert.Equal(t, "u2", entries[0].UserID)

	entries[0].UserID = "mutated"
	require.NoError(t, env.store.Increment(ctx, store.CollectionUsers, "u3", "totalReferrals", 10))

	entries, err = ranker.Rank(ctx, model.DimensionReferrals, 1)
	require.NoError(t, err)
	assert.Equal(t, "u2", entries[0].UserID, "cached ranking is served until it expires")

	env.clock.Advance(2 * time.Minute)
	entries, err = ranker.Rank(ctx, model.DimensionReferrals, 1)
	require.NoError(t, err)
	assert.Equal(t, "u3", entries[0].UserID)

	require.NoError(t, env.store.Increment(ctx, store.CollectionUsers, "u1", "totalReferrals", 100))
	ranker.Invalidate()
	entries, err = ranker.Rank(ctx, model.DimensionReferrals, 1)
	require.NoError(t, err)
	assert.Equal(t, "u1", entries[0].UserID)
}
