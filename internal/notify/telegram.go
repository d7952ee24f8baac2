package notify

import (
	"context"
	"fmt"
	"strconv"

	"referral_engine/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier messages users through the mini-app bot. User ids that are
// not Telegram chat ids are skipped.
type TelegramNotifier struct {
	bot sender
}

func NewTelegramNotifier(botToken string, debug bool) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize bot: %w", err)
	}

	bot.Debug = debug

	return &TelegramNotifier{bot: bot}, nil
}

func (n *TelegramNotifier) QuestClaimed(ctx context.Context, userID, questTitle string, rewardXP int) error {
	text := fmt.Sprintf("Quest completed: %s. You earned %d XP!", questTitle, rewardXP)
	return n.send(userID, text)
}

func (n *TelegramNotifier) ReferralRewarded(ctx context.Context, referrerID, referredID string, amount float64) error {
	text := fmt.Sprintf("Your referral reward of %.2f has been credited. Thanks for inviting friends!", amount)
	return n.send(referrerID, text)
}

func (n *TelegramNotifier) send(userID, text string) error {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		logger.Logger().Debug("skipping notification for non-telegram user", zap.String("user_id", userID))
		return nil
	}

	if _, err := n.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}

	return nil
}
