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
	"referral_engine/internal/store"
	"referral_engine/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const driftTolerance = 1e-6

type ReconcileConfig struct {
	BatchSize   int           `mapstructure:"batchSize"`
	Concurrency int           `mapstructure:"concurrency"`
	BatchDelay  time.Duration `mapstructure:"batchDelay"`
	ItemTimeout time.Duration `mapstructure:"itemTimeout"`
	MaxRetries  uint64        `mapstructure:"maxRetries"`
	RetryDelay  time.Duration `mapstructure:"retryDelay"`
}

func (c ReconcileConfig) withDefaults() ReconcileConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 100 * time.Millisecond
	}
	return c
}

// Inconsistency is one aggregate field that disagrees with its source
// records. Difference is Stored minus Expected.
type Inconsistency struct {
	UserID     string  `json:"userId"`
	Field      string  `json:"field"`
	Stored     float64 `json:"stored"`
	Expected   float64 `json:"expected"`
	Difference float64 `json:"difference"`
}

type ItemResult struct {
	UserID   string `json:"userId"`
	Attempts int    `json:"attempts"`
	Err      error  `json:"-"`
}

type BatchResult struct {
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Items     []ItemResult `json:"items"`
}

// Reconciler recomputes user aggregates and XP records from the referral
// events and quest award ledger they summarize.
type Reconciler struct {
	store   store.Store
	cfg     ReconcileConfig
	clock   clockwork.Clock
	metrics *metrics.Metrics
}

func NewReconciler(st store.Store, cfg ReconcileConfig, opts Options) *Reconciler {
	opts = opts.withDefaults()
	return &Reconciler{
		store:   st,
		cfg:     cfg.withDefaults(),
		clock:   opts.Clock,
		metrics: opts.Metrics,
	}
}

// expectedTotals is what a user's counters should hold according to the
// source records.
type expectedTotals struct {
	totalReferrals  int
	totalEarned     float64
	questsCompleted int
	totalXP         int
}

// recompute derives the expected totals from the ledgers. totalReferrals
// counts every referral event, pending ones included, since tracking a
// referral increments the counter before it completes. totalEarned only sums
// completed or rewarded events.
func (r *Reconciler) recompute(ctx context.Context, userID string) (*expectedTotals, error) {
	events, err := referralsOf(ctx, r.store, userID)
	if err != nil {
		return nil, err
	}

	totals := &expectedTotals{totalReferrals: len(events)}
	for _, event := range events {
		if event.Status.Earned() {
			totals.totalEarned += event.RewardAmount
		}
	}

	docs, err := r.store.Query(ctx, store.CollectionQuestAwards, store.Query{
		Filters: []store.Filter{store.Where("userId", store.OpEq, userID)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query quest awards of %s: %w", userID, err)
	}
	awards, err := store.Decode[model.QuestAward](docs)
	if err != nil {
		return nil, err
	}
	totals.questsCompleted = len(awards)
	for _, award := range awards {
		totals.totalXP += award.RewardXP
	}

	return totals, nil
}

func (r *Reconciler) drift(user *model.UserAggregate, xp *model.XPRecord, want *expectedTotals) []Inconsistency {
	fields := []struct {
		name     string
		stored   float64
		expected float64
	}{
		{"totalReferrals", float64(user.TotalReferrals), float64(want.totalReferrals)},
		{"totalEarned", user.TotalEarned, want.totalEarned},
		{"questsCompleted", float64(user.QuestsCompleted), float64(want.questsCompleted)},
		{"totalXP", float64(xp.TotalXP), float64(want.totalXP)},
		{"xpQuestsCompleted", float64(xp.QuestsCompleted), float64(want.questsCompleted)},
	}

	var out []Inconsistency
	for _, f := range fields {
		if math.Abs(f.stored-f.expected) <= driftTolerance {
			continue
		}
		out = append(out, Inconsistency{
			UserID:     user.UserID,
			Field:      f.name,
			Stored:     f.stored,
			Expected:   f.expected,
			Difference: f.stored - f.expected,
		})
	}
	return out
}

// Validate compares up to sampleSize users, in id order, with their source
// records and reports every mismatch. It never writes.
func (r *Reconciler) Validate(ctx context.Context, sampleSize int) ([]Inconsistency, error) {
	if sampleSize <= 0 {
		return nil, errs.Validation(ErrInvalidSampleSize)
	}

	docs, err := r.store.Query(ctx, store.CollectionUsers, store.Query{Limit: sampleSize})
	if err != nil {
		return nil, fmt.Errorf("failed to sample users: %w", err)
	}

	var out []Inconsistency
	for _, doc := range docs {
		var user model.UserAggregate
		if err := doc.DataTo(&user); err != nil {
			return nil, err
		}
		user.UserID = doc.ID

		xp, err := r.xpRecord(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		want, err := r.recompute(ctx, doc.ID)
		if err != nil {
			return nil, err
		}

		for _, inc := range r.drift(&user, xp, want) {
			r.metrics.Drift(inc.Field)
			out = append(out, inc)
		}
	}

	return out, nil
}

// Reconcile overwrites the user's counters and XP record with values
// recomputed from the source records. Repeating it is harmless. Pending
// referrals count toward totalReferrals (see recompute).
func (r *Reconciler) Reconcile(ctx context.Context, userID string) (*model.UserAggregate, error) {
	user, _, err := getDoc[model.UserAggregate](ctx, r.store, store.CollectionUsers, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.NotFound("user", userID, ErrUserNotFound)
		}
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	user.UserID = userID

	xp, err := r.xpRecord(ctx, userID)
	if err != nil {
		return nil, err
	}
	want, err := r.recompute(ctx, userID)
	if err != nil {
		return nil, err
	}

	drift := r.drift(user, xp, want)
	for _, inc := range drift {
		r.metrics.Drift(inc.Field)
	}

	err = r.store.Update(ctx, store.CollectionUsers, userID, store.Fields{
		"totalReferrals":  want.totalReferrals,
		"totalEarned":     want.totalEarned,
		"questsCompleted": want.questsCompleted,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write reconciled user: %w", err)
	}

	err = r.store.Put(ctx, store.CollectionXP, userID, &model.XPRecord{
		UserID:          userID,
		TotalXP:         want.totalXP,
		QuestsCompleted: want.questsCompleted,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write reconciled xp: %w", err)
	}

	if len(drift) > 0 {
		logger.Logger().Info("Reconciled user aggregate",
			zap.String("user_id", userID),
			zap.Int("fields_repaired", len(drift)),
		)
	}

	user.TotalReferrals = want.totalReferrals
	user.TotalEarned = want.totalEarned
	user.QuestsCompleted = want.questsCompleted
	return user, nil
}

// BatchReconcile reconciles userIDs in batches. Transient failures are retried
// per user; a failed user never stops the batch.
func (r *Reconciler) BatchReconcile(ctx context.Context, userIDs []string) *BatchResult {
	items := make([]ItemResult, len(userIDs))

	for start := 0; start < len(userIDs); start += r.cfg.BatchSize {
		if start > 0 && r.cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
			case <-r.clock.After(r.cfg.BatchDelay):
			}
		}

		end := min(start+r.cfg.BatchSize, len(userIDs))

		var g errgroup.Group
		g.SetLimit(r.cfg.Concurrency)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				items[i] = r.reconcileOne(ctx, userIDs[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	result := &BatchResult{Items: items}
	for _, item := range items {
		if item.Err != nil {
			result.Failed++
			r.metrics.Reconciled("failed")
			continue
		}
		result.Succeeded++
		r.metrics.Reconciled("succeeded")
	}

	logger.Logger().Info("Batch reconciliation finished",
		zap.Int("users", len(userIDs)),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
	)
	return result
}

func (r *Reconciler) reconcileOne(ctx context.Context, userID string) ItemResult {
	item := ItemResult{UserID: userID}
	if err := ctx.Err(); err != nil {
		item.Err = err
		return item
	}

	itemCtx := ctx
	if r.cfg.ItemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, r.cfg.ItemTimeout)
		defer cancel()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.RetryDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(b, r.cfg.MaxRetries), itemCtx)

	item.Err = backoff.Retry(func() error {
		item.Attempts++
		_, err := r.Reconcile(itemCtx, userID)
		if err != nil && !errs.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)

	if item.Err != nil {
		logger.Logger().Warn("Failed to reconcile user",
			zap.String("user_id", userID),
			zap.Int("attempts", item.Attempts),
			zap.Error(item.Err),
		)
	}
	return item
}

func (r *Reconciler) ListUserIDs(ctx context.Context) ([]string, error) {
	docs, err := r.store.Query(ctx, store.CollectionUsers, store.Query{})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}
	return ids, nil
}

func (r *Reconciler) xpRecord(ctx context.Context, userID string) (*model.XPRecord, error) {
	xp, _, err := getDoc[model.XPRecord](ctx, r.store, store.CollectionXP, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.NewXPRecord(userID, 0, 0), nil
		}
		return nil, fmt.Errorf("failed to get xp for %s: %w", userID, err)
	}
	xp.UserID = userID
	return xp.Derive(), nil
}
