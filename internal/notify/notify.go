// Package notify tells users about rewards they received.
package notify

import "context"

type Notifier interface {
	QuestClaimed(ctx context.Context, userID, questTitle string, rewardXP int) error
	ReferralRewarded(ctx context.Context, referrerID, referredID string, amount float64) error
}

type Nop struct{}

func (Nop) QuestClaimed(context.Context, string, string, int) error { return nil }

func (Nop) ReferralRewarded(context.Context, string, string, float64) error { return nil }
