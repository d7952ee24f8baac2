package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"referral_engine/internal/errs"
	"referral_engine/internal/model"
	"referral_engine/internal/store"

	"github.com/jonboulle/clockwork"
)

// rankKey orders entries within a dimension: primary score, then a secondary
// score, then user id ascending.
type rankKey struct {
	primary   float64
	secondary float64
}

var rankKeys = map[model.Dimension]func(e *model.LeaderboardEntry) rankKey{
	model.DimensionReferrals: func(e *model.LeaderboardEntry) rankKey {
		return rankKey{float64(e.TotalReferrals), float64(e.TotalXP)}
	},
	model.DimensionEarnings: func(e *model.LeaderboardEntry) rankKey {
		return rankKey{e.TotalEarned, float64(e.TotalReferrals)}
	},
	model.DimensionQuests: func(e *model.LeaderboardEntry) rankKey {
		return rankKey{float64(e.QuestsCompleted), float64(e.TotalXP)}
	},
	model.DimensionXP: func(e *model.LeaderboardEntry) rankKey {
		return rankKey{float64(e.TotalXP), float64(e.TotalReferrals)}
	},
	model.DimensionOverall: func(e *model.LeaderboardEntry) rankKey {
		return rankKey{overallScore(e), float64(e.TotalXP)}
	},
}

func overallScore(e *model.LeaderboardEntry) float64 {
	return float64(e.TotalReferrals)*10 + e.TotalEarned + float64(e.QuestsCompleted)*2
}

type cachedRanking struct {
	entries []*model.LeaderboardEntry
	expires time.Time
}

// LeaderboardRanker ranks users by a single dimension. Rankings are computed
// from a full read of the aggregates and optionally cached for ttl.
type LeaderboardRanker struct {
	store store.Store
	clock clockwork.Clock
	ttl   time.Duration

	mu    sync.Mutex
	cache map[model.Dimension]cachedRanking
}

func NewLeaderboardRanker(st store.Store, ttl time.Duration, opts Options) *LeaderboardRanker {
	opts = opts.withDefaults()
	return &LeaderboardRanker{
		store: st,
		clock: opts.Clock,
		ttl:   ttl,
		cache: make(map[model.Dimension]cachedRanking),
	}
}

// Rank returns the top limit entries for dim. limit <= 0 returns everyone.
func (l *LeaderboardRanker) Rank(ctx context.Context, dim model.Dimension, limit int) ([]*model.LeaderboardEntry, error) {
	entries, err := l.ranking(ctx, dim)
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	out := make([]*model.LeaderboardEntry, len(entries))
	for i, e := range entries {
		entry := *e
		out[i] = &entry
	}
	return out, nil
}

// UserRank returns the 1-based position of userID in the full ranking for dim,
// or 0 when the user has no aggregate.
func (l *LeaderboardRanker) UserRank(ctx context.Context, userID string, dim model.Dimension) (int, error) {
	entries, err := l.ranking(ctx, dim)
	if err != nil {
		return 0, err
	}

	for _, e := range entries {
		if e.UserID == userID {
			return e.Rank, nil
		}
	}
	return 0, nil
}

// Invalidate drops every cached ranking.
func (l *LeaderboardRanker) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[model.Dimension]cachedRanking)
}

func (l *LeaderboardRanker) ranking(ctx context.Context, dim model.Dimension) ([]*model.LeaderboardEntry, error) {
	key, ok := rankKeys[dim]
	if !ok {
		return nil, errs.Validation(fmt.Errorf("%w: %q", ErrInvalidDimension, dim))
	}

	now := l.clock.Now()
	if l.ttl > 0 {
		l.mu.Lock()
		cached, hit := l.cache[dim]
		l.mu.Unlock()
		if hit && now.Before(cached.expires) {
			return cached.entries, nil
		}
	}

	entries, err := l.loadEntries(ctx)
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := key(entries[i]), key(entries[j])
		if a.primary != b.primary {
			return a.primary > b.primary
		}
		if a.secondary != b.secondary {
			return a.secondary > b.secondary
		}
		return entries[i].UserID < entries[j].UserID
	})
	for i, e := range entries {
		e.Rank = i + 1
		e.Score = key(e).primary
	}

	if l.ttl > 0 {
		l.mu.Lock()
		l.cache[dim] = cachedRanking{entries: entries, expires: now.Add(l.ttl)}
		l.mu.Unlock()
	}
	return entries, nil
}

func (l *LeaderboardRanker) loadEntries(ctx context.Context) ([]*model.LeaderboardEntry, error) {
	userDocs, err := l.store.Query(ctx, store.CollectionUsers, store.Query{})
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	xpDocs, err := l.store.Query(ctx, store.CollectionXP, store.Query{})
	if err != nil {
		return nil, fmt.Errorf("failed to load xp: %w", err)
	}

	totalXP := make(map[string]int, len(xpDocs))
	for _, doc := range xpDocs {
		var xp model.XPRecord
		if err := doc.DataTo(&xp); err != nil {
			return nil, err
		}
		totalXP[doc.ID] = xp.TotalXP
	}

	entries := make([]*model.LeaderboardEntry, 0, len(userDocs))
	for _, doc := range userDocs {
		var user model.UserAggregate
		if err := doc.DataTo(&user); err != nil {
			return nil, err
		}

		xp := totalXP[doc.ID]
		entries = append(entries, &model.LeaderboardEntry{
			UserID:          doc.ID,
			Username:        user.Username,
			TotalEarned:     user.TotalEarned,
			TotalReferrals:  user.TotalReferrals,
			QuestsCompleted: user.QuestsCompleted,
			TotalXP:         xp,
			Level:           model.LevelFor(xp),
		})
	}
	return entries, nil
}
