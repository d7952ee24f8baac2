package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"referral_engine/internal/errs"
	"referral_engine/internal/metrics"
	"referral_engine/internal/model"
	"referral_engine/internal/notify"
	"referral_engine/internal/store"
	"referral_engine/pkg/logger"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type TrackResult struct {
	Event *model.ReferralEvent
	// Created is false when the pair had already been recorded and the call
	// changed nothing.
	Created bool
}

// ReferralTracker records referral events and keeps the referrer's counters
// in step with them. Every write is guarded by a create-if-absent ledger
// document so retries never double count.
type ReferralTracker struct {
	store    store.Store
	users    *UserService
	quests   ThresholdChecker
	clock    clockwork.Clock
	notifier notify.Notifier
	metrics  *metrics.Metrics
}

func NewReferralTracker(st store.Store, users *UserService, quests ThresholdChecker, opts Options) *ReferralTracker {
	opts = opts.withDefaults()
	return &ReferralTracker{
		store:    st,
		users:    users,
		quests:   quests,
		clock:    opts.Clock,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
	}
}

func validatePolicy(policy model.RewardPolicy) error {
	switch policy.Mode {
	case model.RewardPending, model.RewardTracked, model.RewardImmediate:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRewardPolicy, policy.Mode)
	}
	if err := validateAmount(policy.Amount); err != nil {
		return err
	}
	if policy.NFTsMinted < 0 {
		return fmt.Errorf("%w: negative nft count", ErrInvalidRewardPolicy)
	}
	return nil
}

func validateAmount(amount float64) error {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ErrInvalidAmount
	}
	return nil
}

// TrackReferral records that referrerID brought in referredID. Repeating the
// same pair returns the stored event. A referred user can only ever have one
// referrer.
func (t *ReferralTracker) TrackReferral(ctx context.Context, referrerID, referredID string, policy model.RewardPolicy) (*TrackResult, error) {
	if referrerID == "" || referredID == "" {
		return nil, errs.Validation(ErrEmptyUserID)
	}
	if referrerID == referredID {
		t.metrics.ReferralTracked("self_referral")
		return nil, errs.Validation(ErrSelfReferral)
	}
	if err := validatePolicy(policy); err != nil {
		return nil, errs.Validation(err)
	}

	log := logger.Logger().With(zap.String("referrer_id", referrerID), zap.String("referred_id", referredID))
	eventID := ReferralID(referrerID, referredID)
	now := t.clock.Now().UTC()

	if err := t.claimReferred(ctx, referrerID, referredID, eventID, now); err != nil {
		return nil, err
	}

	existing, err := t.getEvent(ctx, eventID)
	if err == nil {
		t.metrics.ReferralTracked("duplicate")
		return &TrackResult{Event: existing}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if _, err := t.users.ensureUser(ctx, referrerID, ""); err != nil {
		return nil, err
	}
	if _, err := t.users.ensureUser(ctx, referredID, ""); err != nil {
		return nil, err
	}

	event := newReferralEvent(eventID, referrerID, referredID, policy, now)
	created, err := t.store.Create(ctx, store.CollectionReferrals, eventID, event)
	if err != nil {
		return nil, fmt.Errorf("failed to record referral: %w", err)
	}
	if !created {
		existing, err := t.getEvent(ctx, eventID)
		if err != nil {
			return nil, err
		}
		t.metrics.ReferralTracked("duplicate")
		return &TrackResult{Event: existing}, nil
	}

	if err := t.applyNewReferral(ctx, event); err != nil {
		log.Warn("Referral recorded but counters not updated, reconciliation will repair them", zap.Error(err))
		return nil, err
	}

	t.checkThresholds(ctx, referrerID)
	t.metrics.ReferralTracked("created")
	log.Info("Referral tracked", zap.String("status", string(event.Status)))

	if event.Status == model.ReferralRewarded {
		t.metrics.ReferralRewarded()
		t.notifyReward(ctx, event)
	}

	return &TrackResult{Event: event, Created: true}, nil
}

// TrackReferralByCode resolves a referral code to its owner and tracks the
// referral from them.
func (t *ReferralTracker) TrackReferralByCode(ctx context.Context, code, referredID string, policy model.RewardPolicy) (*TrackResult, error) {
	referrerID, err := t.users.ResolveReferralCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return t.TrackReferral(ctx, referrerID, referredID, policy)
}

func newReferralEvent(id, referrerID, referredID string, policy model.RewardPolicy, now time.Time) *model.ReferralEvent {
	event := &model.ReferralEvent{
		ID:         id,
		ReferrerID: referrerID,
		ReferredID: referredID,
		Status:     policy.InitialStatus(),
		NFTsMinted: policy.NFTsMinted,
		CreatedAt:  now,
	}

	switch event.Status {
	case model.ReferralTracked:
		event.CompletedAt = &now
	case model.ReferralRewarded:
		event.RewardAmount = policy.Amount
		event.CompletedAt = &now
		event.RewardedAt = &now
	}

	return event
}

// claimReferred pins referredID to referrerID. It succeeds when the claim is
// new or already belongs to the same referrer.
func (t *ReferralTracker) claimReferred(ctx context.Context, referrerID, referredID, eventID string, now time.Time) error {
	created, err := t.store.Create(ctx, store.CollectionReferralClaims, referredID, &model.ReferralClaim{
		ReferredID: referredID,
		ReferrerID: referrerID,
		EventID:    eventID,
		ClaimedAt:  now,
	})
	if err != nil {
		return fmt.Errorf("failed to claim referred user: %w", err)
	}
	if created {
		return nil
	}

	claim, err := t.getClaim(ctx, referredID)
	if err != nil {
		return err
	}
	if claim.ReferrerID != referrerID {
		t.metrics.ReferralTracked("already_referred")
		return errs.Conflict(fmt.Errorf("%w: %s", ErrAlreadyReferred, referredID))
	}
	return nil
}

func (t *ReferralTracker) applyNewReferral(ctx context.Context, event *model.ReferralEvent) error {
	if err := t.store.Increment(ctx, store.CollectionUsers, event.ReferrerID, "totalReferrals", 1); err != nil {
		return fmt.Errorf("failed to increment referrals: %w", err)
	}
	if event.RewardAmount > 0 {
		if err := t.store.Increment(ctx, store.CollectionUsers, event.ReferrerID, "totalEarned", event.RewardAmount); err != nil {
			return fmt.Errorf("failed to increment earnings: %w", err)
		}
	}

	referred, err := t.users.GetUser(ctx, event.ReferredID)
	if err != nil {
		return err
	}
	if referred.ReferredBy == nil {
		err := t.store.Update(ctx, store.CollectionUsers, event.ReferredID, store.Fields{
			"referredBy": event.ReferrerID,
		})
		if err != nil {
			return fmt.Errorf("failed to set referredBy: %w", err)
		}
	}

	return t.users.Touch(ctx, event.ReferrerID)
}

// CompleteReferral moves the referred user's pending event to completed. It
// reports false when there is no pending event.
func (t *ReferralTracker) CompleteReferral(ctx context.Context, referredID string) (bool, error) {
	if referredID == "" {
		return false, errs.Validation(ErrEmptyUserID)
	}

	event, err := t.eventForReferred(ctx, referredID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if event.Status != model.ReferralPending {
		return false, nil
	}

	now := t.clock.Now().UTC()
	err = t.store.Update(ctx, store.CollectionReferrals, event.ID, store.Fields{
		"status":      model.ReferralCompleted,
		"completedAt": now,
	})
	if err != nil {
		return false, fmt.Errorf("failed to complete referral: %w", err)
	}

	logger.Logger().Info("Referral completed",
		zap.String("referrer_id", event.ReferrerID),
		zap.String("referred_id", referredID),
	)
	t.checkThresholds(ctx, event.ReferrerID)

	return true, nil
}

// ProcessReward pays amount for the referred user's completed event. The
// payout ledger makes the earnings increment happen once per event; the call
// reports whether it was the one that paid.
func (t *ReferralTracker) ProcessReward(ctx context.Context, referredID string, amount float64) (bool, error) {
	if referredID == "" {
		return false, errs.Validation(ErrEmptyUserID)
	}
	if err := validateAmount(amount); err != nil {
		return false, errs.Validation(err)
	}

	event, err := t.eventForReferred(ctx, referredID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if event.Status != model.ReferralCompleted {
		return false, nil
	}

	now := t.clock.Now().UTC()
	created, err := t.store.Create(ctx, store.CollectionReferralPayouts, event.ID, &model.ReferralPayout{
		EventID:  event.ID,
		Amount:   amount,
		PaidAt:   now,
		Referrer: event.ReferrerID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to record payout: %w", err)
	}

	if !created {
		// An earlier attempt paid but stopped before marking the event.
		payout, _, err := getDoc[model.ReferralPayout](ctx, t.store, store.CollectionReferralPayouts, event.ID)
		if err != nil {
			return false, fmt.Errorf("failed to read payout: %w", err)
		}
		if err := t.markRewarded(ctx, event.ID, payout.Amount, payout.PaidAt); err != nil {
			return false, err
		}
		return false, nil
	}

	if err := t.markRewarded(ctx, event.ID, amount, now); err != nil {
		return false, err
	}
	if amount > 0 {
		if err := t.store.Increment(ctx, store.CollectionUsers, event.ReferrerID, "totalEarned", amount); err != nil {
			return false, fmt.Errorf("failed to increment earnings: %w", err)
		}
	}

	event.Status = model.ReferralRewarded
	event.RewardAmount = amount
	event.RewardedAt = &now

	t.metrics.ReferralRewarded()
	logger.Logger().Info("Referral rewarded",
		zap.String("referrer_id", event.ReferrerID),
		zap.String("referred_id", referredID),
		zap.Float64("amount", amount),
	)
	t.notifyReward(ctx, event)

	return true, nil
}

func (t *ReferralTracker) markRewarded(ctx context.Context, eventID string, amount float64, at time.Time) error {
	err := t.store.Update(ctx, store.CollectionReferrals, eventID, store.Fields{
		"status":       model.ReferralRewarded,
		"rewardAmount": amount,
		"rewardedAt":   at,
	})
	if err != nil {
		return fmt.Errorf("failed to mark referral rewarded: %w", err)
	}
	return nil
}

func (t *ReferralTracker) checkThresholds(ctx context.Context, referrerID string) {
	if t.quests == nil {
		return
	}
	if _, err := t.quests.CheckThresholdQuests(ctx, referrerID); err != nil {
		logger.Logger().Warn("Threshold quest check failed",
			zap.String("user_id", referrerID),
			zap.Error(err),
		)
	}
}

func (t *ReferralTracker) notifyReward(ctx context.Context, event *model.ReferralEvent) {
	if event.RewardAmount <= 0 {
		return
	}
	if err := t.notifier.ReferralRewarded(ctx, event.ReferrerID, event.ReferredID, event.RewardAmount); err != nil {
		logger.Logger().Warn("Failed to send referral reward notification",
			zap.String("referrer_id", event.ReferrerID),
			zap.Error(err),
		)
	}
}

func (t *ReferralTracker) eventForReferred(ctx context.Context, referredID string) (*model.ReferralEvent, error) {
	claim, err := t.getClaim(ctx, referredID)
	if err != nil {
		return nil, err
	}
	return t.getEvent(ctx, claim.EventID)
}

func (t *ReferralTracker) getClaim(ctx context.Context, referredID string) (*model.ReferralClaim, error) {
	claim, _, err := getDoc[model.ReferralClaim](ctx, t.store, store.CollectionReferralClaims, referredID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get referral claim: %w", err)
	}
	return claim, nil
}

func (t *ReferralTracker) getEvent(ctx context.Context, eventID string) (*model.ReferralEvent, error) {
	event, doc, err := getDoc[model.ReferralEvent](ctx, t.store, store.CollectionReferrals, eventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get referral event: %w", err)
	}
	event.ID = doc.ID
	return event, nil
}
