package api

import (
	"net/http"

	"referral_engine/internal/model"
	"referral_engine/internal/service"
	"referral_engine/pkg/auth"
	"referral_engine/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultSampleSize = 100

type adminRoutes struct {
	qs     service.QuestServiceI
	rs     service.ReferralServiceI
	rc     service.ReconcileServiceI
	lb     service.LeaderboardServiceI
	policy model.RewardPolicy
}

func NewAdminRoutes(handler *gin.RouterGroup, svc *service.Service, policy model.RewardPolicy, a *auth.TelegramAuth) {
	r := &adminRoutes{
		qs:     svc.Quests,
		rs:     svc.Referrals,
		rc:     svc.Reconciler,
		lb:     svc.Leaderboard,
		policy: policy,
	}
	h := handler.Group("/admin")
	h.Use(a.TelegramAuthMiddleware())
	{
		h.GET("/consistency", r.Validate)
		h.POST("/reconcile", r.ReconcileAll)
		h.POST("/reconcile/:user_id", r.ReconcileUser)

		h.POST("/quests", r.CreateQuest)
		h.PATCH("/quests/:quest_id", r.SetQuestActive)
		h.POST("/quests/ensure", r.EnsureCatalog)

		h.POST("/referrals/:referred_id/complete", r.CompleteReferral)
		h.POST("/referrals/:referred_id/reward", r.ProcessReward)
	}
}

func (r *adminRoutes) Validate(c *gin.Context) {
	sample, ok := queryInt(c, "sample", defaultSampleSize)
	if !ok {
		return
	}

	inconsistencies, err := r.rc.Validate(c.Request.Context(), sample)
	if err != nil {
		respondError(c, "failed to validate consistency", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"consistent":      len(inconsistencies) == 0,
		"inconsistencies": inconsistencies,
	})
}

func (r *adminRoutes) ReconcileUser(c *gin.Context) {
	user, err := r.rc.Reconcile(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		respondError(c, "failed to reconcile user", err)
		return
	}
	r.lb.Invalidate()

	c.JSON(http.StatusOK, user)
}

// ReconcileRequest selects users to reconcile. An empty list means everyone.
type ReconcileRequest struct {
	UserIDs []string `json:"user_ids"`
}

type itemResponse struct {
	UserID   string `json:"user_id"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

func (r *adminRoutes) ReconcileAll(c *gin.Context) {
	log := logger.Logger()

	var req ReconcileRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			log.Info("failed to bind request", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}

	ids := req.UserIDs
	if len(ids) == 0 {
		var err error
		if ids, err = r.rc.ListUserIDs(c.Request.Context()); err != nil {
			respondError(c, "failed to list users", err)
			return
		}
	}

	result := r.rc.BatchReconcile(c.Request.Context(), ids)
	r.lb.Invalidate()

	items := make([]itemResponse, len(result.Items))
	for i, item := range result.Items {
		items[i] = itemResponse{UserID: item.UserID, Attempts: item.Attempts}
		if item.Err != nil {
			items[i].Error = item.Err.Error()
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"items":     items,
	})
}

type CreateQuestRequest struct {
	Title           string                `json:"title" binding:"required"`
	Description     string                `json:"description"`
	RequirementType model.RequirementType `json:"requirement_type" binding:"required"`
	RequiredCount   int                   `json:"required_count" binding:"required,min=1"`
	RewardXP        int                   `json:"reward_xp" binding:"min=0"`
}

func (r *adminRoutes) CreateQuest(c *gin.Context) {
	log := logger.Logger()

	var req CreateQuestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Info("failed to bind request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	quest, err := r.qs.CreateQuest(c.Request.Context(), model.QuestDefinition{
		Title:           req.Title,
		Description:     req.Description,
		RequirementType: req.RequirementType,
		RequiredCount:   req.RequiredCount,
		RewardXP:        req.RewardXP,
	})
	if err != nil {
		respondError(c, "failed to create quest", err)
		return
	}

	c.JSON(http.StatusCreated, quest)
}

type SetQuestActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func (r *adminRoutes) SetQuestActive(c *gin.Context) {
	log := logger.Logger()

	var req SetQuestActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Info("failed to bind request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	quest, err := r.qs.SetQuestActive(c.Request.Context(), c.Param("quest_id"), *req.IsActive)
	if err != nil {
		respondError(c, "failed to update quest", err)
		return
	}

	c.JSON(http.StatusOK, quest)
}

func (r *adminRoutes) EnsureCatalog(c *gin.Context) {
	report, err := r.qs.EnsureQuestCatalogIntegrity(c.Request.Context())
	if err != nil {
		respondError(c, "failed to repair quest catalog", err)
		return
	}

	c.JSON(http.StatusOK, report)
}

func (r *adminRoutes) CompleteReferral(c *gin.Context) {
	changed, err := r.rs.CompleteReferral(c.Request.Context(), c.Param("referred_id"))
	if err != nil {
		respondError(c, "failed to complete referral", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"completed": changed})
}

// ProcessReward pays the referrer of referred_id the configured referral
// amount.
func (r *adminRoutes) ProcessReward(c *gin.Context) {
	paid, err := r.rs.ProcessReward(c.Request.Context(), c.Param("referred_id"), r.policy.Amount)
	if err != nil {
		respondError(c, "failed to process referral reward", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"rewarded": paid})
}
