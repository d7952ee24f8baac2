package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"referral_engine/internal/errs"
	"referral_engine/internal/model"
	"referral_engine/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService_RegisterUser(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	user, err := env.svc.Users.RegisterUser(ctx, "u1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.UserID)
	assert.Equal(t, "alice", user.Username)
	assert.Len(t, user.ReferralCode, referralCodeLength)
	assert.Equal(t, strings.ToUpper(user.ReferralCode), user.ReferralCode)
	assert.Nil(t, user.ReferredBy)

	env.clock.Advance(time.Hour)
	again, err := env.svc.Users.RegisterUser(ctx, "u1", "renamed")
	require.NoError(t, err)
	assert.Equal(t, user.ReferralCode, again.ReferralCode)
	assert.Equal(t, "alice", again.Username)
	assert.True(t, user.RegisteredAt.Equal(again.RegisteredAt))

	owner, err := env.svc.Users.ResolveReferralCode(ctx, strings.ToLower(user.ReferralCode))
	require.NoError(t, err)
	assert.Equal(t, "u1", owner)

	_, err = env.svc.Users.RegisterUser(ctx, " ", "")
	assert.ErrorIs(t, err, ErrEmptyUserID)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestUserService_RegisterUserCodeCollision(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	taken := referralCodeFor("u1", 0)
	_, err := env.store.Create(ctx, store.CollectionReferralCodes, taken, &model.ReferralCodeClaim{Code: taken, UserID: "someone"})
	require.NoError(t, err)

	user, err := env.svc.Users.RegisterUser(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, referralCodeFor("u1", 1), user.ReferralCode)
}

func TestUserService_RegisterUserConcurrent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	var wg sync.WaitGroup
	codes := make([]string, 8)
	for i := range codes {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			user, err := env.svc.Users.RegisterUser(ctx, "u1", "")
			if assert.NoError(t, err) {
				codes[i] = user.ReferralCode
			}
		}()
	}
	wg.Wait()

	for _, code := range codes {
		assert.Equal(t, codes[0], code)
	}
}

func TestUserService_GetUserAndXP(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.svc.Users.GetUser(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	xp := env.xp(t, "ghost")
	assert.Equal(t, 0, xp.TotalXP)
	assert.Equal(t, 1, xp.Level)

	require.NoError(t, env.store.Increment(ctx, store.CollectionXP, "u1", "totalXP", 1250))
	xp = env.xp(t, "u1")
	assert.Equal(t, "u1", xp.UserID)
	assert.Equal(t, 3, xp.Level)
	assert.Equal(t, 250, xp.CurrentLevelXP)
}

func TestUserService_ListReferrals(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	for _, referred := range []string{"b", "c", "d"} {
		_, err := env.svc.Referrals.TrackReferral(ctx, "a", referred, pendingPolicy)
		require.NoError(t, err)
		env.clock.Advance(time.Minute)
	}
	_, err := env.svc.Referrals.TrackReferral(ctx, "x", "y", pendingPolicy)
	require.NoError(t, err)

	events, err := env.svc.Users.ListReferrals(ctx, "a")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "d", events[0].ReferredID)
	assert.Equal(t, "c", events[1].ReferredID)
	assert.Equal(t, "b", events[2].ReferredID)

	events, err = env.svc.Users.ListReferrals(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestUserService_Touch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.register(t, "u1")

	env.clock.Advance(time.Hour)
	require.NoError(t, env.svc.Users.Touch(ctx, "u1"))
	assert.True(t, env.user(t, "u1").LastActive.Equal(env.clock.Now()))

	err := env.svc.Users.Touch(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
