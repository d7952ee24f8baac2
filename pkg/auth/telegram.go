package auth

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"referral_engine/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	initdata "github.com/telegram-mini-apps/init-data-golang"
	"go.uber.org/zap"
)

const (
	expTime    = 24 * time.Hour
	contextKey = "telegram_user"
	scheme     = "Telegram "
)

type TelegramAuth struct {
	botToken  string
	debugMode bool
}

// NewTelegramAuth validates Mini App init data signed with botToken. In debug
// mode signatures are not checked.
func NewTelegramAuth(botToken string, debugMode bool) *TelegramAuth {
	return &TelegramAuth{
		botToken:  botToken,
		debugMode: debugMode,
	}
}

func (t *TelegramAuth) TelegramAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.Logger()

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Info("missing authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header is required"})
			return
		}

		if !strings.HasPrefix(authHeader, scheme) {
			log.Info("invalid authorization header format")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}

		initData := strings.TrimPrefix(authHeader, scheme)
		if !t.debugMode {
			if err := initdata.Validate(initData, t.botToken, expTime); err != nil {
				log.Info("invalid telegram init data", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid telegram auth data"})
				return
			}
		}

		telegramUserData, err := ExtractTelegramData(initData)
		if err != nil {
			log.Info("failed to extract telegram data", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid telegram data"})
			return
		}

		c.Set(contextKey, telegramUserData)
		c.Next()
	}
}

type TelegramUserData struct {
	ID       int64
	Username string
	AuthDate time.Time
	// StartParam is the deep-link payload the Mini App was opened with. The
	// engine uses it to carry referral codes.
	StartParam string
}

// UserID is the engine user id for the Telegram account.
func (d *TelegramUserData) UserID() string {
	return strconv.FormatInt(d.ID, 10)
}

// UserFromContext returns the authenticated Telegram user set by the
// middleware.
func UserFromContext(c *gin.Context) (*TelegramUserData, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*TelegramUserData)
	return user, ok
}

func ExtractTelegramData(initData string) (*TelegramUserData, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, errors.Wrap(err, "parse init data")
	}

	authDateUnix, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse auth_date")
	}

	var userData struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal([]byte(values.Get("user")), &userData); err != nil {
		return nil, errors.Wrap(err, "decode user")
	}
	if userData.ID == 0 {
		return nil, errors.New("init data has no user id")
	}

	return &TelegramUserData{
		ID:         userData.ID,
		Username:   userData.Username,
		AuthDate:   time.Unix(authDateUnix, 0),
		StartParam: values.Get("start_param"),
	}, nil
}
