package api

import (
	"net/http"
	"strconv"

	"referral_engine/internal/errs"
	"referral_engine/pkg/auth"
	"referral_engine/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with the status matching its kind. Server side
// failures are reported with msg only.
func respondError(c *gin.Context, msg string, err error) {
	log := logger.Logger()
	status := statusFor(err)

	if status >= http.StatusInternalServerError {
		log.Error(msg, zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(status, gin.H{"error": msg})
		return
	}

	log.Info(msg, zap.Error(err), zap.String("path", c.FullPath()))
	c.JSON(status, gin.H{"error": err.Error()})
}

func callerID(c *gin.Context) (string, bool) {
	user, ok := auth.UserFromContext(c)
	if !ok {
		logger.Logger().Error("telegram user data not found in context")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return "", false
	}
	return user.UserID(), true
}

func queryInt(c *gin.Context, key string, fallback int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, true
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		logger.Logger().Info("failed to parse query parameter", zap.String("key", key), zap.String("value", raw))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
		return 0, false
	}
	return n, true
}
