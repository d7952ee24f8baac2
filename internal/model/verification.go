package model

// Verification is the evidence submitted with a quest progress update. Each
// requirement type has its own variant carrying only what its check needs.
type Verification interface {
	RequirementType() RequirementType
}

// ReferFriendsVerification checks the referrer's totalReferrals. Auto marks
// updates issued by threshold checks, and only those may supply
// TotalReferrals. Otherwise the stored aggregate is read.
type ReferFriendsVerification struct {
	TotalReferrals *int
	Auto           bool
}

type ConnectAccountVerification struct {
	Provider  string
	AccountID string
}

type ShareVerification struct {
	Platform string
	URL      string
}

type PlayMinigameVerification struct {
	GameID string
	Score  int
}

type LoginStreakVerification struct {
	Days int
}

type AttendEventVerification struct {
	EventID     string
	CheckInCode string
}

func (ReferFriendsVerification) RequirementType() RequirementType   { return RequirementReferFriends }
func (ConnectAccountVerification) RequirementType() RequirementType { return RequirementConnectAccount }
func (ShareVerification) RequirementType() RequirementType          { return RequirementShare }
func (PlayMinigameVerification) RequirementType() RequirementType   { return RequirementPlayMinigame }
func (LoginStreakVerification) RequirementType() RequirementType    { return RequirementLoginStreak }
func (AttendEventVerification) RequirementType() RequirementType    { return RequirementAttendEvent }
