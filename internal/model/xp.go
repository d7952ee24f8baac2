package model

const XPPerLevel = 500

type XPRecord struct {
	UserID          string `json:"userId"`
	TotalXP         int    `json:"totalXP"`
	QuestsCompleted int    `json:"questsCompleted"`
	Level           int    `json:"-"`
	CurrentLevelXP  int    `json:"-"`
}

func LevelFor(totalXP int) int {
	if totalXP < 0 {
		totalXP = 0
	}
	return totalXP/XPPerLevel + 1
}

func CurrentLevelXPFor(totalXP int) int {
	if totalXP < 0 {
		totalXP = 0
	}
	return totalXP % XPPerLevel
}

// Derive fills the level fields from TotalXP. Level data is never persisted.
func (r *XPRecord) Derive() *XPRecord {
	r.Level = LevelFor(r.TotalXP)
	r.CurrentLevelXP = CurrentLevelXPFor(r.TotalXP)
	return r
}

func NewXPRecord(userID string, totalXP, questsCompleted int) *XPRecord {
	r := &XPRecord{
		UserID:          userID,
		TotalXP:         totalXP,
		QuestsCompleted: questsCompleted,
	}
	return r.Derive()
}
