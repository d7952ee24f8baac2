package api

import (
	"net/http"

	"referral_engine/internal/model"
	"referral_engine/internal/service"
	"referral_engine/pkg/auth"
	"referral_engine/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type questRoutes struct {
	qs service.QuestServiceI
}

func NewQuestRoutes(handler *gin.RouterGroup, qs service.QuestServiceI, a *auth.TelegramAuth) {
	r := &questRoutes{qs: qs}
	h := handler.Group("/quests")
	h.Use(a.TelegramAuthMiddleware())
	{
		h.GET("", r.ListQuests)
		h.POST("/:quest_id/start", r.StartQuest)
		h.POST("/:quest_id/progress", r.UpdateProgress)
	}
}

func (r *questRoutes) ListQuests(c *gin.Context) {
	quests, err := r.qs.ListQuests(c.Request.Context(), c.Query("all") != "true")
	if err != nil {
		respondError(c, "failed to list quests", err)
		return
	}

	c.JSON(http.StatusOK, quests)
}

func (r *questRoutes) StartQuest(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	progress, err := r.qs.StartQuest(c.Request.Context(), userID, c.Param("quest_id"))
	if err != nil {
		respondError(c, "failed to start quest", err)
		return
	}

	c.JSON(http.StatusOK, progress)
}

// UpdateProgressRequest carries the evidence for one progress step. The shape
// of Verification depends on RequirementType.
type UpdateProgressRequest struct {
	Increment       *int                  `json:"increment"`
	RequirementType model.RequirementType `json:"requirement_type"`
	Verification    json.RawMessage       `json:"verification"`
}

type connectAccountPayload struct {
	Provider  string `json:"provider"`
	AccountID string `json:"account_id"`
}

type sharePayload struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
}

type playMinigamePayload struct {
	GameID string `json:"game_id"`
	Score  int    `json:"score"`
}

type loginStreakPayload struct {
	Days int `json:"days"`
}

type attendEventPayload struct {
	EventID     string `json:"event_id"`
	CheckInCode string `json:"check_in_code"`
}

func decodeVerification(rt model.RequirementType, raw json.RawMessage) (model.Verification, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	switch rt {
	case model.RequirementReferFriends:
		// Referral counts always come from the stored aggregate.
		return model.ReferFriendsVerification{}, nil
	case model.RequirementConnectAccount:
		var p connectAccountPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, errors.Wrap(err, "decode connect_account verification")
		}
		return model.ConnectAccountVerification{Provider: p.Provider, AccountID: p.AccountID}, nil
	case model.RequirementShare:
		var p sharePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, errors.Wrap(err, "decode share verification")
		}
		return model.ShareVerification{Platform: p.Platform, URL: p.URL}, nil
	case model.RequirementPlayMinigame:
		var p playMinigamePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, errors.Wrap(err, "decode play_minigame verification")
		}
		return model.PlayMinigameVerification{GameID: p.GameID, Score: p.Score}, nil
	case model.RequirementLoginStreak:
		var p loginStreakPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, errors.Wrap(err, "decode login_streak verification")
		}
		return model.LoginStreakVerification{Days: p.Days}, nil
	case model.RequirementAttendEvent:
		var p attendEventPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, errors.Wrap(err, "decode attend_event verification")
		}
		return model.AttendEventVerification{EventID: p.EventID, CheckInCode: p.CheckInCode}, nil
	default:
		return nil, errors.Errorf("unknown requirement type %q", rt)
	}
}

func (r *questRoutes) UpdateProgress(c *gin.Context) {
	log := logger.Logger()

	body, err := c.GetRawData()
	if err != nil {
		log.Info("failed to read request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	var req UpdateProgressRequest
	if err := json.Unmarshal(body, &req); err != nil {
		log.Info("failed to decode request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	increment := 1
	if req.Increment != nil {
		increment = *req.Increment
	}

	verification, err := decodeVerification(req.RequirementType, req.Verification)
	if err != nil {
		log.Info("invalid verification", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, ok := callerID(c)
	if !ok {
		return
	}

	progress, err := r.qs.UpdateProgress(c.Request.Context(), userID, c.Param("quest_id"), increment, verification)
	if err != nil {
		respondError(c, "failed to update quest progress", err)
		return
	}

	c.JSON(http.StatusOK, progress)
}
