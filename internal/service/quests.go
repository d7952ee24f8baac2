package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"referral_engine/internal/errs"
	"referral_engine/internal/metrics"
	"referral_engine/internal/model"
	"referral_engine/internal/notify"
	"referral_engine/internal/store"
	"referral_engine/pkg/logger"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// thresholdCounters maps requirement types that complete automatically to the
// aggregate counter they are measured against.
var thresholdCounters = map[model.RequirementType]func(*model.UserAggregate) int{
	model.RequirementReferFriends: func(u *model.UserAggregate) int { return u.TotalReferrals },
}

// QuestProgressEngine drives per-user quest progress and grants XP exactly
// once per completed quest.
type QuestProgressEngine struct {
	store    store.Store
	users    *UserService
	clock    clockwork.Clock
	notifier notify.Notifier
	metrics  *metrics.Metrics
	defaults []model.QuestDefinition
}

func NewQuestProgressEngine(st store.Store, users *UserService, opts Options) *QuestProgressEngine {
	opts = opts.withDefaults()
	return &QuestProgressEngine{
		store:    st,
		users:    users,
		clock:    opts.Clock,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		defaults: opts.DefaultQuests,
	}
}

func (e *QuestProgressEngine) GetQuest(ctx context.Context, questID string) (*model.QuestDefinition, error) {
	quest, doc, err := getDoc[model.QuestDefinition](ctx, e.store, store.CollectionQuests, questID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.NotFound("quest", questID, ErrQuestNotFound)
		}
		return nil, fmt.Errorf("failed to get quest %s: %w", questID, err)
	}
	return withDocument(quest, doc), nil
}

// withDocument applies the store's id and creation time, which take
// precedence over the copies inside the body.
func withDocument(quest *model.QuestDefinition, doc *store.Document) *model.QuestDefinition {
	quest.ID = doc.ID
	quest.CreatedAt = doc.CreatedAt
	return quest
}

// StartQuest creates the user's progress record for an active quest. Starting
// an already started quest returns the existing record.
func (e *QuestProgressEngine) StartQuest(ctx context.Context, userID, questID string) (*model.QuestProgress, error) {
	if userID == "" {
		return nil, errs.Validation(ErrEmptyUserID)
	}
	if _, err := e.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	quest, err := e.GetQuest(ctx, questID)
	if err != nil {
		return nil, err
	}
	if !quest.IsActive {
		return nil, errs.Validation(fmt.Errorf("%w: %s", ErrQuestInactive, quest.Title))
	}

	return e.startQuest(ctx, userID, quest)
}

func (e *QuestProgressEngine) startQuest(ctx context.Context, userID string, quest *model.QuestDefinition) (*model.QuestProgress, error) {
	id := ProgressID(userID, quest.ID)
	now := e.clock.Now().UTC()

	_, err := e.store.Create(ctx, store.CollectionQuestProgress, id, &model.QuestProgress{
		ID:          id,
		UserID:      userID,
		QuestID:     quest.ID,
		Status:      model.QuestInProgress,
		MaxProgress: quest.RequiredCount,
		RewardXP:    quest.RewardXP,
		StartedAt:   &now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start quest: %w", err)
	}

	return e.getProgress(ctx, id)
}

// UpdateProgress verifies v against the quest requirement and advances the
// user's progress by increment. Reaching the target grants the reward and
// leaves the record claimed.
func (e *QuestProgressEngine) UpdateProgress(ctx context.Context, userID, questID string, increment int, v model.Verification) (*model.QuestProgress, error) {
	if userID == "" {
		return nil, errs.Validation(ErrEmptyUserID)
	}
	if increment <= 0 {
		return nil, errs.Validation(fmt.Errorf("%w: got %d", ErrInvalidIncrement, increment))
	}
	if _, err := e.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	quest, err := e.GetQuest(ctx, questID)
	if err != nil {
		return nil, err
	}
	if !quest.IsActive {
		return nil, errs.Validation(fmt.Errorf("%w: %s", ErrQuestInactive, quest.Title))
	}

	if err := e.verify(ctx, userID, quest, v); err != nil {
		return nil, err
	}

	progress, err := e.startQuest(ctx, userID, quest)
	if err != nil {
		return nil, err
	}
	if !progress.Status.CanAdvanceTo(model.QuestClaimed) {
		return progress, nil
	}

	step := min(increment, progress.MaxProgress-progress.Progress)
	if step > 0 && !progress.Status.Done() {
		if err := e.store.Increment(ctx, store.CollectionQuestProgress, progress.ID, "progress", float64(step)); err != nil {
			return nil, fmt.Errorf("failed to advance quest progress: %w", err)
		}
		if progress, err = e.getProgress(ctx, progress.ID); err != nil {
			return nil, err
		}
	}

	if progress.Progress < progress.MaxProgress && !progress.Status.Done() {
		return progress, nil
	}

	return e.award(ctx, quest, progress)
}

// award grants the quest reward through the award ledger and marks the
// progress claimed. A retried award finishes the status write without paying
// again.
func (e *QuestProgressEngine) award(ctx context.Context, quest *model.QuestDefinition, progress *model.QuestProgress) (*model.QuestProgress, error) {
	log := logger.Logger().With(zap.String("user_id", progress.UserID), zap.String("quest_id", quest.ID))
	now := e.clock.Now().UTC()

	created, err := e.store.Create(ctx, store.CollectionQuestAwards, progress.ID, &model.QuestAward{
		ProgressID: progress.ID,
		UserID:     progress.UserID,
		QuestID:    quest.ID,
		RewardXP:   progress.RewardXP,
		AwardedAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record quest award: %w", err)
	}

	if created {
		if err := e.applyReward(ctx, progress.UserID, progress.RewardXP); err != nil {
			log.Warn("Quest award recorded but counters not updated, reconciliation will repair them", zap.Error(err))
			return nil, err
		}
	}

	if progress.Status.CanAdvanceTo(model.QuestClaimed) {
		err = e.store.Update(ctx, store.CollectionQuestProgress, progress.ID, store.Fields{
			"status":      model.QuestClaimed,
			"progress":    progress.MaxProgress,
			"completedAt": now,
			"claimedAt":   now,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to claim quest: %w", err)
		}
	}

	claimed, err := e.getProgress(ctx, progress.ID)
	if err != nil {
		return nil, err
	}

	if created {
		e.metrics.QuestClaimed()
		log.Info("Quest claimed", zap.Int("reward_xp", progress.RewardXP))
		if err := e.notifier.QuestClaimed(ctx, progress.UserID, quest.Title, progress.RewardXP); err != nil {
			log.Warn("Failed to send quest notification", zap.Error(err))
		}
	}

	return claimed, nil
}

func (e *QuestProgressEngine) applyReward(ctx context.Context, userID string, rewardXP int) error {
	if rewardXP != 0 {
		if err := e.store.Increment(ctx, store.CollectionXP, userID, "totalXP", float64(rewardXP)); err != nil {
			return fmt.Errorf("failed to add xp: %w", err)
		}
	}
	if err := e.store.Increment(ctx, store.CollectionXP, userID, "questsCompleted", 1); err != nil {
		return fmt.Errorf("failed to count completed quest: %w", err)
	}
	if err := e.store.Increment(ctx, store.CollectionUsers, userID, "questsCompleted", 1); err != nil {
		return fmt.Errorf("failed to count completed quest: %w", err)
	}
	return nil
}

// CheckThresholdQuests completes every active counter-based quest whose
// target the user already meets. It returns the progress records it claimed.
func (e *QuestProgressEngine) CheckThresholdQuests(ctx context.Context, userID string) ([]*model.QuestProgress, error) {
	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	quests, err := e.activeQuests(ctx)
	if err != nil {
		return nil, err
	}

	var (
		claimed []*model.QuestProgress
		errList []error
	)
	for _, quest := range quests {
		counter, ok := thresholdCounters[quest.RequirementType]
		if !ok {
			continue
		}

		value := counter(user)
		if value < quest.RequiredCount {
			continue
		}

		current := 0
		progress, err := e.getProgress(ctx, ProgressID(userID, quest.ID))
		switch {
		case err == nil:
			if !progress.Status.CanAdvanceTo(model.QuestClaimed) {
				continue
			}
			current = progress.Progress
		case errors.Is(err, store.ErrNotFound):
		default:
			errList = append(errList, err)
			continue
		}

		increment := max(quest.RequiredCount-current, 1)
		updated, err := e.UpdateProgress(ctx, userID, quest.ID, increment, model.ReferFriendsVerification{
			TotalReferrals: &value,
			Auto:           true,
		})
		if err != nil {
			errList = append(errList, fmt.Errorf("quest %s: %w", quest.ID, err))
			continue
		}
		if updated.Status == model.QuestClaimed {
			claimed = append(claimed, updated)
		}
	}

	return claimed, errors.Join(errList...)
}

// UserQuests lists active quests with the user's progress on each. Quests the
// user never started carry a not_started placeholder.
func (e *QuestProgressEngine) UserQuests(ctx context.Context, userID string) ([]*model.UserQuest, error) {
	if _, err := e.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	quests, err := e.ListQuests(ctx, true)
	if err != nil {
		return nil, err
	}

	out := make([]*model.UserQuest, 0, len(quests))
	for _, quest := range quests {
		id := ProgressID(userID, quest.ID)
		progress, err := e.getProgress(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			progress = &model.QuestProgress{
				ID:          id,
				UserID:      userID,
				QuestID:     quest.ID,
				Status:      model.QuestNotStarted,
				MaxProgress: quest.RequiredCount,
				RewardXP:    quest.RewardXP,
			}
		} else if err != nil {
			return nil, err
		}
		out = append(out, &model.UserQuest{Quest: quest, Progress: progress})
	}

	return out, nil
}

func (e *QuestProgressEngine) getProgress(ctx context.Context, id string) (*model.QuestProgress, error) {
	progress, doc, err := getDoc[model.QuestProgress](ctx, e.store, store.CollectionQuestProgress, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get quest progress: %w", err)
	}

	progress.ID = doc.ID
	// Concurrent increments may overshoot before the claim clamps them.
	if progress.Progress > progress.MaxProgress {
		progress.Progress = progress.MaxProgress
	}
	return progress, nil
}

func (e *QuestProgressEngine) activeQuests(ctx context.Context) ([]*model.QuestDefinition, error) {
	return e.queryQuests(ctx, store.Query{
		Filters: []store.Filter{store.Where("isActive", store.OpEq, true)},
	})
}

// queryQuests returns quests oldest first.
func (e *QuestProgressEngine) queryQuests(ctx context.Context, q store.Query) ([]*model.QuestDefinition, error) {
	docs, err := e.store.Query(ctx, store.CollectionQuests, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query quests: %w", err)
	}

	quests, err := store.Decode[model.QuestDefinition](docs)
	if err != nil {
		return nil, err
	}
	for i, doc := range docs {
		withDocument(quests[i], doc)
	}

	sort.SliceStable(quests, func(i, j int) bool {
		if !quests[i].CreatedAt.Equal(quests[j].CreatedAt) {
			return quests[i].CreatedAt.Before(quests[j].CreatedAt)
		}
		return quests[i].ID < quests[j].ID
	})
	return quests, nil
}
