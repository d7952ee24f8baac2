package model

import "time"

type RequirementType string

const (
	RequirementReferFriends   RequirementType = "refer_friends"
	RequirementConnectAccount RequirementType = "connect_account"
	RequirementShare          RequirementType = "share"
	RequirementPlayMinigame   RequirementType = "play_minigame"
	RequirementLoginStreak    RequirementType = "login_streak"
	RequirementAttendEvent    RequirementType = "attend_event"
)

func (r RequirementType) Valid() bool {
	switch r {
	case RequirementReferFriends, RequirementConnectAccount, RequirementShare,
		RequirementPlayMinigame, RequirementLoginStreak, RequirementAttendEvent:
		return true
	}
	return false
}

type QuestDefinition struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	RequirementType RequirementType `json:"requirementType"`
	RequiredCount   int             `json:"requiredCount"`
	RewardXP        int             `json:"rewardXP"`
	IsActive        bool            `json:"isActive"`
	CreatedAt       time.Time       `json:"createdAt"`
}

type QuestStatus string

const (
	QuestNotStarted QuestStatus = "not_started"
	QuestInProgress QuestStatus = "in_progress"
	QuestCompleted  QuestStatus = "completed"
	QuestClaimed    QuestStatus = "claimed"
)

func (s QuestStatus) order() int {
	switch s {
	case QuestInProgress:
		return 1
	case QuestCompleted:
		return 2
	case QuestClaimed:
		return 3
	default:
		return 0
	}
}

// Done reports whether the quest reward has been (or is being) granted.
func (s QuestStatus) Done() bool {
	return s == QuestCompleted || s == QuestClaimed
}

// CanAdvanceTo reports whether moving from s to next keeps the state machine
// monotonic. Claimed is terminal.
func (s QuestStatus) CanAdvanceTo(next QuestStatus) bool {
	return next.order() > s.order()
}

type QuestProgress struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	QuestID     string      `json:"questId"`
	Status      QuestStatus `json:"status"`
	Progress    int         `json:"progress"`
	MaxProgress int         `json:"maxProgress"`
	RewardXP    int         `json:"rewardXP"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	ClaimedAt   *time.Time  `json:"claimedAt,omitempty"`
}

// QuestAward is the ledger entry written once per (user, quest) reward.
type QuestAward struct {
	ProgressID string    `json:"progressId"`
	UserID     string    `json:"userId"`
	QuestID    string    `json:"questId"`
	RewardXP   int       `json:"rewardXP"`
	AwardedAt  time.Time `json:"awardedAt"`
}

type UserQuest struct {
	Quest    *QuestDefinition
	Progress *QuestProgress
}
