package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"referral_engine/internal/errs"
	"referral_engine/internal/model"
	"referral_engine/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureQuestCatalogIntegrity_SeedsDefaults(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	report, err := env.svc.Quests.EnsureQuestCatalogIntegrity(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Inserted, len(testCatalog))
	assert.Empty(t, report.Removed)

	for _, def := range testCatalog {
		quest, err := env.svc.Quests.GetQuest(ctx, QuestIDForTitle(def.Title))
		require.NoError(t, err)
		assert.True(t, quest.IsActive)
		assert.Equal(t, def.RequiredCount, quest.RequiredCount)
	}

	report, err = env.svc.Quests.EnsureQuestCatalogIntegrity(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Inserted)
	assert.Empty(t, report.Removed)
}

func TestEnsureQuestCatalogIntegrity_RemovesDuplicates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	for _, id := range []string{"discord-b", "discord-a", "discord-c"} {
		_, err := env.store.Create(ctx, store.CollectionQuests, id, &model.QuestDefinition{
			Title:           "Connect Discord",
			RequirementType: model.RequirementConnectAccount,
			RequiredCount:   1,
			RewardXP:        50,
			IsActive:        true,
		})
		require.NoError(t, err)
		env.clock.Advance(time.Second)
	}

	report, err := env.svc.Quests.EnsureQuestCatalogIntegrity(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"discord-a", "discord-c"}, report.Removed)
	assert.NotContains(t, report.Inserted, connectDiscordID)

	quests, err := env.svc.Quests.ListQuests(ctx, true)
	require.NoError(t, err)

	var discord []*model.QuestDefinition
	for _, q := range quests {
		if q.Title == "Connect Discord" {
			discord = append(discord, q)
		}
	}
	require.Len(t, discord, 1)
	assert.Equal(t, "discord-b", discord[0].ID)

	report, err = env.svc.Quests.EnsureQuestCatalogIntegrity(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Removed)
	assert.Empty(t, report.Inserted)
}

func TestEnsureQuestCatalogIntegrity_KeeperInheritsActive(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	for i, id := range []string{"old", "new"} {
		_, err := env.store.Create(ctx, store.CollectionQuests, id, &model.QuestDefinition{
			Title:           "Play Minigame",
			RequirementType: model.RequirementPlayMinigame,
			RequiredCount:   3,
			IsActive:        i == 1,
		})
		require.NoError(t, err)
		env.clock.Advance(time.Second)
	}

	_, err := env.svc.Quests.EnsureQuestCatalogIntegrity(ctx)
	require.NoError(t, err)

	quest, err := env.svc.Quests.GetQuest(ctx, "old")
	require.NoError(t, err)
	assert.True(t, quest.IsActive)

	_, err = env.svc.Quests.GetQuest(ctx, "new")
	assert.ErrorIs(t, err, ErrQuestNotFound)
}

func TestEnsureQuestCatalogIntegrity_Concurrent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Quests.EnsureQuestCatalogIntegrity(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	docs, err := env.store.Query(ctx, store.CollectionQuests, store.Query{})
	require.NoError(t, err)
	assert.Len(t, docs, len(testCatalog))
}

func TestQuestProgressEngine_CreateQuest(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.ensureCatalog(t)

	tests := []struct {
		name         string
		def          model.QuestDefinition
		expectedKind errs.Kind
	}{
		{
			name:         "Missing title",
			def:          model.QuestDefinition{RequirementType: model.RequirementShare, RequiredCount: 1},
			expectedKind: errs.KindValidation,
		},
		{
			name:         "Unknown requirement",
			def:          model.QuestDefinition{Title: "Dance", RequirementType: "dance", RequiredCount: 1},
			expectedKind: errs.KindValidation,
		},
		{
			name:         "Zero required count",
			def:          model.QuestDefinition{Title: "Share", RequirementType: model.RequirementShare},
			expectedKind: errs.KindValidation,
		},
		{
			name:         "Duplicate active title",
			def:          model.QuestDefinition{Title: "Connect Discord", RequirementType: model.RequirementConnectAccount, RequiredCount: 1},
			expectedKind: errs.KindConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Quests.CreateQuest(ctx, tt.def)
			assert.Equal(t, tt.expectedKind, errs.KindOf(err))
		})
	}

	quest, err := env.svc.Quests.CreateQuest(ctx, model.QuestDefinition{
		Title:           " Share on X ",
		RequirementType: model.RequirementShare,
		RequiredCount:   1,
		RewardXP:        25,
	})
	require.NoError(t, err)
	assert.Equal(t, "Share on X", quest.Title)
	assert.Equal(t, QuestIDForTitle("Share on X"), quest.ID)
	assert.True(t, quest.IsActive)
	assert.False(t, quest.CreatedAt.IsZero())
}

func TestQuestProgressEngine_SetQuestActive(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.ensureCatalog(t)

	quest, err := env.svc.Quests.SetQuestActive(ctx, connectDiscordID, false)
	require.NoError(t, err)
	assert.False(t, quest.IsActive)

	_, err = env.store.Create(ctx, store.CollectionQuests, "discord-v2", &model.QuestDefinition{
		Title:           "Connect Discord",
		RequirementType: model.RequirementConnectAccount,
		RequiredCount:   1,
		IsActive:        true,
	})
	require.NoError(t, err)

	_, err = env.svc.Quests.SetQuestActive(ctx, connectDiscordID, true)
	assert.ErrorIs(t, err, ErrDuplicateQuestTitle)

	_, err = env.svc.Quests.SetQuestActive(ctx, "missing", true)
	assert.ErrorIs(t, err, ErrQuestNotFound)
}

func TestQuestProgressEngine_CreateQuestWithRetiredTitle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.ensureCatalog(t)

	_, err := env.svc.Quests.SetQuestActive(ctx, connectDiscordID, false)
	require.NoError(t, err)

	_, err = env.svc.Quests.CreateQuest(ctx, model.QuestDefinition{
		Title:           "Connect Discord",
		RequirementType: model.RequirementConnectAccount,
		RequiredCount:   1,
		RewardXP:        10,
	})
	assert.ErrorIs(t, err, ErrQuestTitleRetired)
	assert.NotErrorIs(t, err, ErrDuplicateQuestTitle)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))

	quest, err := env.svc.Quests.SetQuestActive(ctx, connectDiscordID, true)
	require.NoError(t, err)
	assert.True(t, quest.IsActive)
}
