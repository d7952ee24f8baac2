package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"referral_engine/internal/errs"
	"referral_engine/internal/model"
	"referral_engine/internal/store"
	"referral_engine/pkg/logger"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	referralCodeLength      = 8
	maxReferralCodeAttempts = 5
)

type UserService struct {
	store store.Store
	clock clockwork.Clock
}

func NewUserService(st store.Store, opts Options) *UserService {
	opts = opts.withDefaults()
	return &UserService{
		store: st,
		clock: opts.Clock,
	}
}

// RegisterUser creates the user's aggregate if it does not exist yet and
// returns the stored aggregate either way.
func (s *UserService) RegisterUser(ctx context.Context, userID, username string) (*model.UserAggregate, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errs.Validation(ErrEmptyUserID)
	}
	return s.ensureUser(ctx, userID, username)
}

func (s *UserService) ensureUser(ctx context.Context, userID, username string) (*model.UserAggregate, error) {
	user, err := s.GetUser(ctx, userID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	code, err := s.claimReferralCode(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	created, err := s.store.Create(ctx, store.CollectionUsers, userID, &model.UserAggregate{
		UserID:       userID,
		Username:     username,
		ReferralCode: code,
		RegisteredAt: now,
		LastActive:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user %s: %w", userID, err)
	}
	if created {
		logger.Logger().Info("Registered user", zap.String("user_id", userID), zap.String("referral_code", code))
	}

	return s.GetUser(ctx, userID)
}

// claimReferralCode reserves a short code for userID. Codes are derived from
// the user id, so a retried registration reclaims the same code.
func (s *UserService) claimReferralCode(ctx context.Context, userID string) (string, error) {
	for attempt := 0; attempt < maxReferralCodeAttempts; attempt++ {
		code := referralCodeFor(userID, attempt)

		created, err := s.store.Create(ctx, store.CollectionReferralCodes, code, &model.ReferralCodeClaim{
			Code:   code,
			UserID: userID,
		})
		if err != nil {
			return "", fmt.Errorf("failed to claim referral code: %w", err)
		}
		if created {
			return code, nil
		}

		owner, _, err := getDoc[model.ReferralCodeClaim](ctx, s.store, store.CollectionReferralCodes, code)
		if err != nil {
			return "", fmt.Errorf("failed to read referral code %s: %w", code, err)
		}
		if owner.UserID == userID {
			return code, nil
		}
	}

	return "", ErrReferralCodeExhausted
}

func referralCodeFor(userID string, attempt int) string {
	seed := fmt.Sprintf("code|%s|%d", userID, attempt)
	hex := strings.ReplaceAll(uuid.NewSHA1(idNamespace, []byte(seed)).String(), "-", "")
	return strings.ToUpper(hex[:referralCodeLength])
}

func (s *UserService) GetUser(ctx context.Context, userID string) (*model.UserAggregate, error) {
	user, _, err := getDoc[model.UserAggregate](ctx, s.store, store.CollectionUsers, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.NotFound("user", userID, ErrUserNotFound)
		}
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	user.UserID = userID
	return user, nil
}

// GetXP returns the user's XP record. Users who never completed a quest get a
// zero record.
func (s *UserService) GetXP(ctx context.Context, userID string) (*model.XPRecord, error) {
	record, _, err := getDoc[model.XPRecord](ctx, s.store, store.CollectionXP, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.NewXPRecord(userID, 0, 0), nil
		}
		return nil, fmt.Errorf("failed to get xp for %s: %w", userID, err)
	}
	record.UserID = userID
	return record.Derive(), nil
}

func (s *UserService) ResolveReferralCode(ctx context.Context, code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", errs.Validation(ErrReferralCodeNotFound)
	}

	claim, _, err := getDoc[model.ReferralCodeClaim](ctx, s.store, store.CollectionReferralCodes, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", errs.NotFound("referral code", code, ErrReferralCodeNotFound)
		}
		return "", fmt.Errorf("failed to resolve referral code: %w", err)
	}
	return claim.UserID, nil
}

// ListReferrals returns the events where referrerID is the referrer, newest
// first.
func (s *UserService) ListReferrals(ctx context.Context, referrerID string) ([]*model.ReferralEvent, error) {
	events, err := referralsOf(ctx, s.store, referrerID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].CreatedAt.After(events[j].CreatedAt)
		}
		return events[i].ID < events[j].ID
	})
	return events, nil
}

func (s *UserService) Touch(ctx context.Context, userID string) error {
	err := s.store.Update(ctx, store.CollectionUsers, userID, store.Fields{
		"lastActive": s.clock.Now().UTC(),
	})
	if errors.Is(err, store.ErrNotFound) {
		return errs.NotFound("user", userID, ErrUserNotFound)
	}
	return err
}

func referralsOf(ctx context.Context, st store.Store, referrerID string) ([]*model.ReferralEvent, error) {
	docs, err := st.Query(ctx, store.CollectionReferrals, store.Query{
		Filters: []store.Filter{store.Where("referrerId", store.OpEq, referrerID)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query referrals of %s: %w", referrerID, err)
	}

	events, err := store.Decode[model.ReferralEvent](docs)
	if err != nil {
		return nil, err
	}
	for i, doc := range docs {
		events[i].ID = doc.ID
	}
	return events, nil
}
