package api

import (
	"net/http"
	"strings"

	"referral_engine/internal/model"
	"referral_engine/internal/service"
	"referral_engine/pkg/auth"
	"referral_engine/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type referralRoutes struct {
	rs     service.ReferralServiceI
	policy model.RewardPolicy
}

func NewReferralRoutes(handler *gin.RouterGroup, rs service.ReferralServiceI, policy model.RewardPolicy, a *auth.TelegramAuth) {
	r := &referralRoutes{rs: rs, policy: policy}
	h := handler.Group("/referrals")
	h.Use(a.TelegramAuthMiddleware())
	{
		h.POST("", r.TrackReferral)
	}
}

// TrackReferralRequest attributes the caller to a referrer given either by id
// or by referral code.
type TrackReferralRequest struct {
	ReferrerID   string `json:"referrer_id"`
	ReferralCode string `json:"referral_code"`
}

type TrackReferralResponse struct {
	Referral *model.ReferralEvent `json:"referral"`
	Created  bool                 `json:"created"`
}

func (r *referralRoutes) TrackReferral(c *gin.Context) {
	log := logger.Logger()

	var req TrackReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Info("failed to bind request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	referredID, ok := callerID(c)
	if !ok {
		return
	}

	var (
		res *service.TrackResult
		err error
	)
	switch {
	case strings.TrimSpace(req.ReferralCode) != "":
		res, err = r.rs.TrackReferralByCode(c.Request.Context(), req.ReferralCode, referredID, r.policy)
	case strings.TrimSpace(req.ReferrerID) != "":
		res, err = r.rs.TrackReferral(c.Request.Context(), req.ReferrerID, referredID, r.policy)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "referrer_id or referral_code is required"})
		return
	}
	if err != nil {
		respondError(c, "failed to track referral", err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, TrackReferralResponse{Referral: res.Event, Created: res.Created})
}
