package service

import (
	"context"
	"fmt"
	"strings"

	"referral_engine/internal/errs"
	"referral_engine/internal/model"
	"referral_engine/internal/store"
	"referral_engine/pkg/logger"

	"go.uber.org/zap"
)

// DefaultQuests is the catalog every deployment starts with.
var DefaultQuests = []model.QuestDefinition{
	{
		Title:           "Invite 3 Friends",
		Description:     "Invite three friends to join.",
		RequirementType: model.RequirementReferFriends,
		RequiredCount:   3,
		RewardXP:        150,
	},
	{
		Title:           "Invite 10 Friends",
		Description:     "Invite ten friends to join.",
		RequirementType: model.RequirementReferFriends,
		RequiredCount:   10,
		RewardXP:        600,
	},
	{
		Title:           "Connect Discord",
		Description:     "Link your Discord account.",
		RequirementType: model.RequirementConnectAccount,
		RequiredCount:   1,
		RewardXP:        50,
	},
	{
		Title:           "Connect Twitter",
		Description:     "Link your Twitter account.",
		RequirementType: model.RequirementConnectAccount,
		RequiredCount:   1,
		RewardXP:        50,
	},
	{
		Title:           "Share on X",
		Description:     "Share your referral link on X.",
		RequirementType: model.RequirementShare,
		RequiredCount:   1,
		RewardXP:        25,
	},
	{
		Title:           "Play Minigame",
		Description:     "Play three rounds of the minigame.",
		RequirementType: model.RequirementPlayMinigame,
		RequiredCount:   3,
		RewardXP:        75,
	},
	{
		Title:           "7-Day Login Streak",
		Description:     "Log in seven days in a row.",
		RequirementType: model.RequirementLoginStreak,
		RequiredCount:   7,
		RewardXP:        100,
	},
	{
		Title:           "Attend Community Event",
		Description:     "Check in at a community event.",
		RequirementType: model.RequirementAttendEvent,
		RequiredCount:   1,
		RewardXP:        200,
	},
}

type CatalogReport struct {
	Removed  []string `json:"removed"`
	Inserted []string `json:"inserted"`
}

// EnsureQuestCatalogIntegrity removes duplicate quests, keeping the earliest
// created of each title, and inserts any missing default quest. Running it
// again on a clean catalog changes nothing.
func (e *QuestProgressEngine) EnsureQuestCatalogIntegrity(ctx context.Context) (*CatalogReport, error) {
	quests, err := e.queryQuests(ctx, store.Query{})
	if err != nil {
		return nil, err
	}

	report := &CatalogReport{Removed: []string{}, Inserted: []string{}}
	byTitle := make(map[string]*model.QuestDefinition)
	keeperActive := make(map[string]bool)

	// quests are ordered oldest first, so the first of each title is kept.
	for _, quest := range quests {
		title := normalizeTitle(quest.Title)
		if _, seen := byTitle[title]; !seen {
			byTitle[title] = quest
			keeperActive[title] = quest.IsActive
			continue
		}

		if err := e.store.Delete(ctx, store.CollectionQuests, quest.ID); err != nil {
			return report, fmt.Errorf("failed to remove duplicate quest %s: %w", quest.ID, err)
		}
		report.Removed = append(report.Removed, quest.ID)
		if quest.IsActive {
			keeperActive[title] = true
		}
	}

	for title, keeper := range byTitle {
		if keeperActive[title] && !keeper.IsActive {
			err := e.store.Update(ctx, store.CollectionQuests, keeper.ID, store.Fields{"isActive": true})
			if err != nil {
				return report, fmt.Errorf("failed to activate quest %s: %w", keeper.ID, err)
			}
		}
	}

	for _, def := range e.defaults {
		title := normalizeTitle(def.Title)
		if _, exists := byTitle[title]; exists {
			continue
		}

		// Another instance may have inserted it since the catalog was read.
		existing, err := e.questsWithTitle(ctx, title)
		if err != nil {
			return report, err
		}
		if len(existing) > 0 {
			continue
		}

		def.ID = QuestIDForTitle(title)
		def.Title = title
		def.IsActive = true
		def.CreatedAt = e.clock.Now().UTC()

		created, err := e.store.Create(ctx, store.CollectionQuests, def.ID, &def)
		if err != nil {
			return report, fmt.Errorf("failed to insert quest %q: %w", title, err)
		}
		if created {
			report.Inserted = append(report.Inserted, def.ID)
		}
	}

	if len(report.Removed) > 0 || len(report.Inserted) > 0 {
		logger.Logger().Info("Quest catalog repaired",
			zap.Strings("removed", report.Removed),
			zap.Strings("inserted", report.Inserted),
		)
	}

	return report, nil
}

func (e *QuestProgressEngine) questsWithTitle(ctx context.Context, title string) ([]*model.QuestDefinition, error) {
	return e.queryQuests(ctx, store.Query{
		Filters: []store.Filter{store.Where("title", store.OpEq, title)},
	})
}

// ListQuests repairs the catalog and returns it oldest first.
func (e *QuestProgressEngine) ListQuests(ctx context.Context, activeOnly bool) ([]*model.QuestDefinition, error) {
	if _, err := e.EnsureQuestCatalogIntegrity(ctx); err != nil {
		return nil, err
	}

	if activeOnly {
		return e.activeQuests(ctx)
	}
	return e.queryQuests(ctx, store.Query{})
}

func validateQuest(def model.QuestDefinition) error {
	switch {
	case normalizeTitle(def.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalidQuest)
	case !def.RequirementType.Valid():
		return fmt.Errorf("%w: unknown requirement type %q", ErrInvalidQuest, def.RequirementType)
	case def.RequiredCount <= 0:
		return fmt.Errorf("%w: required count must be positive", ErrInvalidQuest)
	case def.RewardXP < 0:
		return fmt.Errorf("%w: reward xp must not be negative", ErrInvalidQuest)
	}
	return nil
}

// CreateQuest adds an active quest. Titles are unique among active quests.
func (e *QuestProgressEngine) CreateQuest(ctx context.Context, def model.QuestDefinition) (*model.QuestDefinition, error) {
	if err := validateQuest(def); err != nil {
		return nil, errs.Validation(err)
	}

	def.Title = normalizeTitle(def.Title)
	if err := e.ensureTitleFree(ctx, def.Title, ""); err != nil {
		return nil, err
	}

	def.ID = QuestIDForTitle(def.Title)
	def.IsActive = true
	def.CreatedAt = e.clock.Now().UTC()

	created, err := e.store.Create(ctx, store.CollectionQuests, def.ID, &def)
	if err != nil {
		return nil, fmt.Errorf("failed to create quest: %w", err)
	}
	if !created {
		existing, err := e.GetQuest(ctx, def.ID)
		if err != nil {
			return nil, err
		}
		if !existing.IsActive {
			return nil, errs.Conflict(fmt.Errorf("%w: %s (quest %s)", ErrQuestTitleRetired, def.Title, def.ID))
		}
		return nil, errs.Conflict(fmt.Errorf("%w: %s", ErrDuplicateQuestTitle, def.Title))
	}

	logger.Logger().Info("Quest created", zap.String("quest_id", def.ID), zap.String("title", def.Title))
	return e.GetQuest(ctx, def.ID)
}

// SetQuestActive toggles a quest. Activating fails if another active quest
// already uses the title.
func (e *QuestProgressEngine) SetQuestActive(ctx context.Context, questID string, active bool) (*model.QuestDefinition, error) {
	quest, err := e.GetQuest(ctx, questID)
	if err != nil {
		return nil, err
	}
	if quest.IsActive == active {
		return quest, nil
	}

	if active {
		if err := e.ensureTitleFree(ctx, quest.Title, quest.ID); err != nil {
			return nil, err
		}
	}

	if err := e.store.Update(ctx, store.CollectionQuests, questID, store.Fields{"isActive": active}); err != nil {
		return nil, fmt.Errorf("failed to update quest: %w", err)
	}
	return e.GetQuest(ctx, questID)
}

func (e *QuestProgressEngine) ensureTitleFree(ctx context.Context, title, exceptID string) error {
	quests, err := e.questsWithTitle(ctx, title)
	if err != nil {
		return err
	}
	for _, q := range quests {
		if q.IsActive && q.ID != exceptID {
			return errs.Conflict(fmt.Errorf("%w: %s", ErrDuplicateQuestTitle, strings.TrimSpace(title)))
		}
	}
	return nil
}
