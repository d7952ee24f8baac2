package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestXPRecordDerive(t *testing.T) {
	tests := []struct {
		totalXP        int
		level          int
		currentLevelXP int
	}{
		{totalXP: 0, level: 1, currentLevelXP: 0},
		{totalXP: 499, level: 1, currentLevelXP: 499},
		{totalXP: 500, level: 2, currentLevelXP: 0},
		{totalXP: 1250, level: 3, currentLevelXP: 250},
	}

	for _, tt := range tests {
		r := NewXPRecord("u1", tt.totalXP, 0)
		assert.Equal(t, tt.level, r.Level, "level for %d", tt.totalXP)
		assert.Equal(t, tt.currentLevelXP, r.CurrentLevelXP, "current level xp for %d", tt.totalXP)
	}
}

func TestQuestStatusTransitions(t *testing.T) {
	assert.True(t, QuestNotStarted.CanAdvanceTo(QuestInProgress))
	assert.True(t, QuestInProgress.CanAdvanceTo(QuestClaimed))
	assert.False(t, QuestClaimed.CanAdvanceTo(QuestCompleted))
	assert.False(t, QuestClaimed.CanAdvanceTo(QuestClaimed))
	assert.False(t, QuestCompleted.CanAdvanceTo(QuestInProgress))

	assert.False(t, QuestInProgress.Done())
	assert.True(t, QuestCompleted.Done())
	assert.True(t, QuestClaimed.Done())
}

func TestParseDimension(t *testing.T) {
	d, err := ParseDimension("xp")
	assert.NoError(t, err)
	assert.Equal(t, DimensionXP, d)

	_, err = ParseDimension("points")
	assert.Error(t, err)
}
