package api

import (
	"net/http"
	"time"

	"referral_engine/internal/middleware"
	"referral_engine/internal/model"
	"referral_engine/internal/service"
	"referral_engine/pkg/auth"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Deps struct {
	Service     *service.Service
	Auth        *auth.TelegramAuth
	Policy      model.RewardPolicy
	Leaderboard LeaderboardConfig
	// Gatherer backs /metrics. The route is not registered when nil.
	Gatherer prometheus.Gatherer
}

func NewRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{
		http.MethodHead,
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
	}
	config.AllowHeaders = []string{"*"}
	config.MaxAge = 12 * time.Hour

	router.Use(cors.New(config))

	if d.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	svc := d.Service
	v1 := router.Group("/api/v1")
	v1.Use(middleware.NewActivity(svc.Users).TrackActivity())
	NewUserRoutes(v1, svc.Users, svc.Referrals, svc.Quests, d.Policy, d.Auth)
	NewReferralRoutes(v1, svc.Referrals, d.Policy, d.Auth)
	NewQuestRoutes(v1, svc.Quests, d.Auth)
	NewLeaderboardRoutes(v1, svc.Leaderboard, d.Leaderboard, d.Auth)
	NewAdminRoutes(v1, svc, d.Policy, d.Auth)

	return router
}
