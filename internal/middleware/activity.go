package middleware

import (
	"context"
	"errors"
	"net/http"

	"referral_engine/internal/service"
	"referral_engine/pkg/auth"
	"referral_engine/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Toucher interface {
	Touch(ctx context.Context, userID string) error
}

type Activity struct {
	users Toucher
}

func NewActivity(users Toucher) *Activity {
	return &Activity{
		users: users,
	}
}

// TrackActivity refreshes the caller's lastActive after a successful request.
// It runs after the handler, so it sees the user set by the Telegram auth
// middleware of the matched route group.
func (a *Activity) TrackActivity() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Status() >= http.StatusBadRequest {
			return
		}

		user, ok := auth.UserFromContext(c)
		if !ok {
			return
		}

		err := a.users.Touch(c.Request.Context(), user.UserID())
		if err != nil && !errors.Is(err, service.ErrUserNotFound) {
			logger.Logger().Warn("failed to record user activity",
				zap.String("user_id", user.UserID()),
				zap.Error(err))
		}
	}
}
