package api

import (
	"net/http"
	"strings"
	"time"

	"referral_engine/internal/model"
	"referral_engine/internal/service"
	"referral_engine/pkg/auth"
	"referral_engine/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type userRoutes struct {
	us     service.UserServiceI
	rs     service.ReferralServiceI
	qs     service.QuestServiceI
	policy model.RewardPolicy
}

func NewUserRoutes(handler *gin.RouterGroup, us service.UserServiceI, rs service.ReferralServiceI, qs service.QuestServiceI, policy model.RewardPolicy, a *auth.TelegramAuth) {
	r := &userRoutes{us: us, rs: rs, qs: qs, policy: policy}
	h := handler.Group("/users")
	h.Use(a.TelegramAuthMiddleware())
	{
		h.POST("", r.RegisterUser)
		h.GET("/:user_id", r.GetUser)
		h.GET("/:user_id/referrals", r.GetUserReferrals)
		h.GET("/:user_id/quests", r.GetUserQuests)
	}
}

type RegisterUserRequest struct {
	Username     string `json:"username"`
	ReferralCode string `json:"referral_code"`
}

type RegisterUserResponse struct {
	User          *model.UserAggregate `json:"user"`
	Referral      *model.ReferralEvent `json:"referral,omitempty"`
	ReferralError string               `json:"referral_error,omitempty"`
}

// RegisterUser registers the caller. A referral code from the body, or the
// Mini App start parameter, attributes the caller to its owner.
func (r *userRoutes) RegisterUser(c *gin.Context) {
	log := logger.Logger()

	var req RegisterUserRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			log.Info("failed to bind request", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}

	caller, ok := auth.UserFromContext(c)
	if !ok {
		log.Error("telegram user data not found in context")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	username := req.Username
	if username == "" {
		username = caller.Username
	}

	user, err := r.us.RegisterUser(c.Request.Context(), caller.UserID(), username)
	if err != nil {
		respondError(c, "failed to register user", err)
		return
	}

	out := RegisterUserResponse{User: user}

	code := strings.TrimSpace(req.ReferralCode)
	if code == "" {
		code = strings.TrimSpace(caller.StartParam)
	}
	if code != "" {
		res, err := r.rs.TrackReferralByCode(c.Request.Context(), code, user.UserID, r.policy)
		if err != nil {
			log.Info("referral not recorded on registration",
				zap.String("user_id", user.UserID),
				zap.String("code", code),
				zap.Error(err))
			out.ReferralError = err.Error()
		} else {
			out.Referral = res.Event
			if user, err = r.us.GetUser(c.Request.Context(), user.UserID); err == nil {
				out.User = user
			}
		}
	}

	c.JSON(http.StatusCreated, out)
}

type xpResponse struct {
	TotalXP         int `json:"totalXP"`
	QuestsCompleted int `json:"questsCompleted"`
	Level           int `json:"level"`
	CurrentLevelXP  int `json:"currentLevelXP"`
}

func (r *userRoutes) GetUser(c *gin.Context) {
	userID := c.Param("user_id")

	user, err := r.us.GetUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, "failed to get user", err)
		return
	}

	xp, err := r.us.GetXP(c.Request.Context(), userID)
	if err != nil {
		respondError(c, "failed to get user xp", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": user,
		"xp": xpResponse{
			TotalXP:         xp.TotalXP,
			QuestsCompleted: xp.QuestsCompleted,
			Level:           xp.Level,
			CurrentLevelXP:  xp.CurrentLevelXP,
		},
	})
}

func (r *userRoutes) GetUserReferrals(c *gin.Context) {
	referrals, err := r.us.ListReferrals(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		respondError(c, "failed to get user referrals", err)
		return
	}

	c.JSON(http.StatusOK, referrals)
}

type userQuestResponse struct {
	Quest       *model.QuestDefinition `json:"quest"`
	Status      model.QuestStatus      `json:"status"`
	Progress    int                    `json:"progress"`
	MaxProgress int                    `json:"maxProgress"`
	StartedAt   *time.Time             `json:"startedAt,omitempty"`
	CompletedAt *time.Time             `json:"completedAt,omitempty"`
	ClaimedAt   *time.Time             `json:"claimedAt,omitempty"`
}

func (r *userRoutes) GetUserQuests(c *gin.Context) {
	quests, err := r.qs.UserQuests(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		respondError(c, "failed to get user quests", err)
		return
	}

	out := make([]userQuestResponse, len(quests))
	for i, q := range quests {
		out[i] = userQuestResponse{
			Quest:       q.Quest,
			Status:      q.Progress.Status,
			Progress:    q.Progress.Progress,
			MaxProgress: q.Progress.MaxProgress,
			StartedAt:   q.Progress.StartedAt,
			CompletedAt: q.Progress.CompletedAt,
			ClaimedAt:   q.Progress.ClaimedAt,
		}
	}

	c.JSON(http.StatusOK, out)
}
