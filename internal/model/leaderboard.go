package model

import "fmt"

type Dimension string

const (
	DimensionReferrals Dimension = "referrals"
	DimensionEarnings  Dimension = "earnings"
	DimensionQuests    Dimension = "quests"
	DimensionXP        Dimension = "xp"
	DimensionOverall   Dimension = "overall"
)

var Dimensions = []Dimension{
	DimensionReferrals,
	DimensionEarnings,
	DimensionQuests,
	DimensionXP,
	DimensionOverall,
}

func ParseDimension(s string) (Dimension, error) {
	for _, d := range Dimensions {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown leaderboard dimension %q", s)
}

type LeaderboardEntry struct {
	Rank            int     `json:"rank"`
	UserID          string  `json:"userId"`
	Username        string  `json:"username,omitempty"`
	Score           float64 `json:"score"`
	TotalEarned     float64 `json:"totalEarned"`
	TotalReferrals  int     `json:"totalReferrals"`
	QuestsCompleted int     `json:"questsCompleted"`
	TotalXP         int     `json:"totalXP"`
	Level           int     `json:"level"`
}
