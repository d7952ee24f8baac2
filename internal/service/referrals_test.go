package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"referral_engine/internal/errs"
	"referral_engine/internal/model"
	"referral_engine/internal/service/mocks"
	"referral_engine/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestReferralTracker_TrackReferralValidation(t *testing.T) {
	tests := []struct {
		name          string
		referrerID    string
		referredID    string
		policy        model.RewardPolicy
		expectedError error
	}{
		{
			name:          "Empty referrer",
			referredID:    "b",
			policy:        pendingPolicy,
			expectedError: ErrEmptyUserID,
		},
		{
			name:          "Self referral",
			referrerID:    "a",
			referredID:    "a",
			policy:        pendingPolicy,
			expectedError: ErrSelfReferral,
		},
		{
			name:          "Unknown policy mode",
			referrerID:    "a",
			referredID:    "b",
			policy:        model.RewardPolicy{Mode: "bonus"},
			expectedError: ErrInvalidRewardPolicy,
		},
		{
			name:          "Negative amount",
			referrerID:    "a",
			referredID:    "b",
			policy:        model.RewardPolicy{Mode: model.RewardImmediate, Amount: -1},
			expectedError: ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			_, err := env.svc.Referrals.TrackReferral(context.Background(), tt.referrerID, tt.referredID, tt.policy)

			assert.ErrorIs(t, err, tt.expectedError)
			assert.Equal(t, errs.KindValidation, errs.KindOf(err))

			events, err := env.store.Query(context.Background(), store.CollectionReferrals, store.Query{})
			require.NoError(t, err)
			assert.Empty(t, events)
		})
	}
}

func TestReferralTracker_TrackReferralIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	first, err := env.svc.Referrals.TrackReferral(ctx, "a", "b", pendingPolicy)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, model.ReferralPending, first.Event.Status)

	env.clock.Advance(time.Hour)
	second, err := env.svc.Referrals.TrackReferral(ctx, "a", "b", pendingPolicy)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Event.ID, second.Event.ID)
	assert.True(t, first.Event.CreatedAt.Equal(second.Event.CreatedAt))

	a := env.user(t, "a")
	assert.Equal(t, 1, a.TotalReferrals)

	b := env.user(t, "b")
	require.NotNil(t, b.ReferredBy)
	assert.Equal(t, "a", *b.ReferredBy)
}

func TestReferralTracker_ConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.svc.Referrals.TrackReferral(ctx, "a", "b", pendingPolicy)
			if !assert.NoError(t, err) {
				return
			}
			if res.Created {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 1, env.user(t, "a").TotalReferrals)
}

func TestReferralTracker_SingleReferrer(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.svc.Referrals.TrackReferral(ctx, "a", "b", pendingPolicy)
	require.NoError(t, err)

	_, err = env.svc.Referrals.TrackReferral(ctx, "c", "b", pendingPolicy)
	assert.ErrorIs(t, err, ErrAlreadyReferred)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))

	b := env.user(t, "b")
	require.NotNil(t, b.ReferredBy)
	assert.Equal(t, "a", *b.ReferredBy)
	assert.Equal(t, 1, env.user(t, "a").TotalReferrals)

	_, err = env.store.Get(ctx, store.CollectionReferrals, ReferralID("c", "b"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReferralTracker_RewardPolicies(t *testing.T) {
	tests := []struct {
		name           string
		policy         model.RewardPolicy
		expectedStatus model.ReferralStatus
		expectedEarned float64
		completed      bool
		notified       int
	}{
		{
			name:           "Pending",
			policy:         pendingPolicy,
			expectedStatus: model.ReferralPending,
		},
		{
			name:           "Tracked",
			policy:         model.RewardPolicy{Mode: model.RewardTracked},
			expectedStatus: model.ReferralTracked,
			completed:      true,
		},
		{
			name:           "Rewarded immediately",
			policy:         model.RewardPolicy{Mode: model.RewardImmediate, Amount: 5, NFTsMinted: 1},
			expectedStatus: model.ReferralRewarded,
			expectedEarned: 5,
			completed:      true,
			notified:       1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			res, err := env.svc.Referrals.TrackReferral(context.Background(), "a", "b", tt.policy)
			require.NoError(t, err)

			ev := env.event(t, "a", "b")
			assert.Equal(t, tt.expectedStatus, ev.Status)
			assert.Equal(t, tt.expectedEarned, ev.RewardAmount)
			assert.Equal(t, tt.completed, ev.CompletedAt != nil)
			assert.Equal(t, tt.policy.NFTsMinted, res.Event.NFTsMinted)

			assert.Equal(t, tt.expectedEarned, env.user(t, "a").TotalEarned)
			assert.Len(t, env.notifier.rewards, tt.notified)
		})
	}
}

func TestReferralTracker_TrackReferralByCode(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.register(t, "a")

	code := env.user(t, "a").ReferralCode
	res, err := env.svc.Referrals.TrackReferralByCode(ctx, " "+code+" ", "b", pendingPolicy)
	require.NoError(t, err)
	assert.Equal(t, "a", res.Event.ReferrerID)

	_, err = env.svc.Referrals.TrackReferralByCode(ctx, "NOPE0000", "c", pendingPolicy)
	assert.ErrorIs(t, err, ErrReferralCodeNotFound)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestReferralTracker_CompleteReferral(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.svc.Referrals.TrackReferral(ctx, "a", "b", pendingPolicy)
	require.NoError(t, err)

	ok, err := env.svc.Referrals.CompleteReferral(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)

	ev := env.event(t, "a", "b")
	assert.Equal(t, model.ReferralCompleted, ev.Status)
	assert.NotNil(t, ev.CompletedAt)

	ok, err = env.svc.Referrals.CompleteReferral(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = env.svc.Referrals.CompleteReferral(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReferralTracker_ProcessReward(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.svc.Referrals.TrackReferral(ctx, "a", "b", pendingPolicy)
	require.NoError(t, err)

	paid, err := env.svc.Referrals.ProcessReward(ctx, "b", 10)
	require.NoError(t, err)
	assert.False(t, paid, "pending events are not payable")

	_, err = env.svc.Referrals.ProcessReward(ctx, "b", -3)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = env.svc.Referrals.CompleteReferral(ctx, "b")
	require.NoError(t, err)

	paid, err = env.svc.Referrals.ProcessReward(ctx, "b", 10)
	require.NoError(t, err)
	assert.True(t, paid)

	paid, err = env.svc.Referrals.ProcessReward(ctx, "b", 10)
	require.NoError(t, err)
	assert.False(t, paid)

	ev := env.event(t, "a", "b")
	assert.Equal(t, model.ReferralRewarded, ev.Status)
	assert.Equal(t, 10.0, ev.RewardAmount)
	assert.NotNil(t, ev.RewardedAt)
	assert.Equal(t, 10.0, env.user(t, "a").TotalEarned)
	assert.Equal(t, []float64{10}, env.notifier.rewards)
}

func TestReferralTracker_ProcessRewardConcurrent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.svc.Referrals.TrackReferral(ctx, "a", "b", pendingPolicy)
	require.NoError(t, err)
	_, err = env.svc.Referrals.CompleteReferral(ctx, "b")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Referrals.ProcessReward(ctx, "b", 4)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 4.0, env.user(t, "a").TotalEarned)
}

func TestReferralTracker_ProcessRewardFinishesInterruptedPayout(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.svc.Referrals.TrackReferral(ctx, "a", "b", pendingPolicy)
	require.NoError(t, err)
	_, err = env.svc.Referrals.CompleteReferral(ctx, "b")
	require.NoError(t, err)

	eventID := ReferralID("a", "b")
	_, err = env.store.Create(ctx, store.CollectionReferralPayouts, eventID, &model.ReferralPayout{
		EventID:  eventID,
		Amount:   7,
		PaidAt:   env.clock.Now(),
		Referrer: "a",
	})
	require.NoError(t, err)

	paid, err := env.svc.Referrals.ProcessReward(ctx, "b", 10)
	require.NoError(t, err)
	assert.False(t, paid)

	ev := env.event(t, "a", "b")
	assert.Equal(t, model.ReferralRewarded, ev.Status)
	assert.Equal(t, 7.0, ev.RewardAmount)

	reconciled, err := env.svc.Reconciler.Reconcile(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 7.0, reconciled.TotalEarned)
}

func TestReferralTracker_ThresholdScenario(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.ensureCatalog(t)

	for _, referred := range []string{"b", "c", "d"} {
		_, err := env.svc.Referrals.TrackReferral(ctx, "a", referred, pendingPolicy)
		require.NoError(t, err)
		env.clock.Advance(time.Minute)
	}

	a := env.user(t, "a")
	assert.Equal(t, 3, a.TotalReferrals)
	assert.Equal(t, 1, a.QuestsCompleted)

	progress, err := env.svc.Quests.getProgress(ctx, ProgressID("a", inviteThreeID))
	require.NoError(t, err)
	assert.Equal(t, model.QuestClaimed, progress.Status)
	assert.Equal(t, 3, progress.Progress)
	assert.NotNil(t, progress.CompletedAt)
	assert.NotNil(t, progress.ClaimedAt)
	assert.Equal(t, 150, env.xp(t, "a").TotalXP)

	_, err = env.svc.Referrals.TrackReferral(ctx, "a", "e", pendingPolicy)
	require.NoError(t, err)

	assert.Equal(t, 4, env.user(t, "a").TotalReferrals)
	assert.Equal(t, 150, env.xp(t, "a").TotalXP)
	assert.Equal(t, 1, env.xp(t, "a").QuestsCompleted)

	_, err = env.svc.Quests.getProgress(ctx, ProgressID("a", inviteTenID))
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, []string{"Invite 3 Friends"}, env.notifier.quests)
}

func TestReferralTracker_StoreFailureIsTransient(t *testing.T) {
	mockStore := &mocks.MockStore{}
	svc := NewService(mockStore, Config{}, Options{})

	mockStore.On("Create", mock.Anything, store.CollectionReferralClaims, "b", mock.Anything).
		Return(false, errs.Transient("create", errors.New("connection reset")))

	_, err := svc.Referrals.TrackReferral(context.Background(), "a", "b", pendingPolicy)

	assert.Error(t, err)
	assert.True(t, errs.IsRetryable(err))
	mockStore.AssertExpectations(t)
}
