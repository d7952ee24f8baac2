package model

import "time"

type UserAggregate struct {
	UserID          string    `json:"userId"`
	Username        string    `json:"username,omitempty"`
	ReferralCode    string    `json:"referralCode"`
	ReferredBy      *string   `json:"referredBy,omitempty"`
	TotalReferrals  int       `json:"totalReferrals"`
	TotalEarned     float64   `json:"totalEarned"`
	NFTsMinted      int       `json:"nftsMinted"`
	QuestsCompleted int       `json:"questsCompleted"`
	RegisteredAt    time.Time `json:"registeredAt"`
	LastActive      time.Time `json:"lastActive"`
}

type ReferralCodeClaim struct {
	Code   string `json:"code"`
	UserID string `json:"userId"`
}
