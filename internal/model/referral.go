package model

import "time"

type ReferralStatus string

const (
	ReferralPending   ReferralStatus = "pending"
	ReferralCompleted ReferralStatus = "completed"
	ReferralRewarded  ReferralStatus = "rewarded"
	ReferralTracked   ReferralStatus = "tracked"
)

// Earned reports whether events in this status contribute to totalEarned.
func (s ReferralStatus) Earned() bool {
	return s == ReferralCompleted || s == ReferralRewarded
}

type ReferralEvent struct {
	ID           string         `json:"id"`
	ReferrerID   string         `json:"referrerId"`
	ReferredID   string         `json:"referredId"`
	Status       ReferralStatus `json:"status"`
	RewardAmount float64        `json:"rewardAmount"`
	NFTsMinted   int            `json:"nftsMinted"`
	CreatedAt    time.Time      `json:"createdAt"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
	RewardedAt   *time.Time     `json:"rewardedAt,omitempty"`
}

// ReferralClaim pins a referred user to the first referrer ever recorded.
type ReferralClaim struct {
	ReferredID string    `json:"referredId"`
	ReferrerID string    `json:"referrerId"`
	EventID    string    `json:"eventId"`
	ClaimedAt  time.Time `json:"claimedAt"`
}

type ReferralPayout struct {
	EventID  string    `json:"eventId"`
	Amount   float64   `json:"amount"`
	PaidAt   time.Time `json:"paidAt"`
	Referrer string    `json:"referrerId"`
}

type RewardMode string

const (
	RewardPending   RewardMode = "pending"
	RewardTracked   RewardMode = "tracked"
	RewardImmediate RewardMode = "rewarded"
)

type RewardPolicy struct {
	Mode       RewardMode
	Amount     float64
	NFTsMinted int
}

func (p RewardPolicy) InitialStatus() ReferralStatus {
	switch p.Mode {
	case RewardTracked:
		return ReferralTracked
	case RewardImmediate:
		return ReferralRewarded
	default:
		return ReferralPending
	}
}
