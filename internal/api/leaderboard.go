package api

import (
	"context"
	"net/http"
	"time"

	"referral_engine/internal/model"
	"referral_engine/internal/service"
	"referral_engine/pkg/auth"
	"referral_engine/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const defaultStreamInterval = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type LeaderboardConfig struct {
	DefaultLimit   int
	StreamInterval time.Duration
}

type leaderboardRoutes struct {
	lb  service.LeaderboardServiceI
	cfg LeaderboardConfig
}

// NewLeaderboardRoutes registers the ranking endpoints. The websocket stream
// is public since browsers cannot attach the authorization header to it.
func NewLeaderboardRoutes(handler *gin.RouterGroup, lb service.LeaderboardServiceI, cfg LeaderboardConfig, a *auth.TelegramAuth) {
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = defaultStreamInterval
	}

	r := &leaderboardRoutes{lb: lb, cfg: cfg}
	h := handler.Group("/leaderboard")

	h.GET("/ws", r.Stream)

	authorized := h.Group("")
	authorized.Use(a.TelegramAuthMiddleware())
	{
		authorized.GET("", r.GetLeaderboard)
		authorized.GET("/:user_id/rank", r.GetUserRank)
	}
}

func dimensionParam(c *gin.Context) model.Dimension {
	return model.Dimension(c.DefaultQuery("dimension", string(model.DimensionOverall)))
}

func (r *leaderboardRoutes) GetLeaderboard(c *gin.Context) {
	limit, ok := queryInt(c, "limit", r.cfg.DefaultLimit)
	if !ok {
		return
	}

	entries, err := r.lb.Rank(c.Request.Context(), dimensionParam(c), limit)
	if err != nil {
		respondError(c, "failed to get leaderboard", err)
		return
	}

	c.JSON(http.StatusOK, entries)
}

func (r *leaderboardRoutes) GetUserRank(c *gin.Context) {
	dim := dimensionParam(c)
	userID := c.Param("user_id")

	rank, err := r.lb.UserRank(c.Request.Context(), userID, dim)
	if err != nil {
		respondError(c, "failed to get user rank", err)
		return
	}
	if rank == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "user is not ranked"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":   userID,
		"dimension": dim,
		"rank":      rank,
	})
}

type leaderboardMessage struct {
	Type        string                    `json:"type"`
	Dimension   model.Dimension           `json:"dimension"`
	Entries     []*model.LeaderboardEntry `json:"entries"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

// Stream pushes the ranking right after the upgrade and then every stream
// interval until the client goes away.
func (r *leaderboardRoutes) Stream(c *gin.Context) {
	log := logger.Logger()
	ctx := c.Request.Context()

	dim := dimensionParam(c)
	limit, ok := queryInt(c, "limit", r.cfg.DefaultLimit)
	if !ok {
		return
	}
	if _, err := r.lb.Rank(ctx, dim, 1); err != nil {
		respondError(c, "failed to get leaderboard", err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Info("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Info("websocket unexpected close", zap.Error(err))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(r.cfg.StreamInterval)
	defer ticker.Stop()

	for {
		if err := r.push(ctx, conn, dim, limit); err != nil {
			log.Warn("failed to push leaderboard", zap.Error(err))
			return
		}

		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *leaderboardRoutes) push(ctx context.Context, conn *websocket.Conn, dim model.Dimension, limit int) error {
	entries, err := r.lb.Rank(ctx, dim, limit)
	if err != nil {
		return err
	}

	data, err := json.Marshal(leaderboardMessage{
		Type:        "leaderboard",
		Dimension:   dim,
		Entries:     entries,
		GeneratedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	return conn.WriteMessage(websocket.TextMessage, data)
}
