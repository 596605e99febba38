package router

import (
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"

	"github.com/ignatzorin/timemarket-backend/internal/auth"
	"github.com/ignatzorin/timemarket-backend/internal/config"
	"github.com/ignatzorin/timemarket-backend/internal/http/middleware"
	"github.com/ignatzorin/timemarket-backend/internal/interface/http/handler"
	"github.com/ignatzorin/timemarket-backend/internal/metrics"
)

// Handlers: все HTTP обработчики приложения.
type Handlers struct {
	Sessions   *handler.SessionHandler
	Wallets    *handler.WalletHandler
	Commission *handler.CommissionHandler
	Payouts    *handler.PayoutHandler
	WS         *handler.WSHandler
	Health     *handler.HealthHandler
}

func SetupRouter(cfg *config.Config, tokens *auth.TokenManager, limitStore limiter.Store, h Handlers) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	if cfg.MetricsEnabled {
		r.Use(middleware.Metrics())
		r.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	r.GET("/health", h.Health.Health)

	api := r.Group("/api")
	api.GET("/ws", h.WS.Handle)

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(tokens))
	protected.Use(middleware.RateLimitMiddleware(limitStore, cfg.RateLimitLimit, cfg.RateLimitPeriod))

	sessions := protected.Group("/sessions")
	{
		sessions.POST("", h.Sessions.RequestSession)
		sessions.GET("", h.Sessions.ListSessions)

		byID := sessions.Group("/:id", middleware.UUIDValidator("id"))
		byID.GET("", h.Sessions.GetSession)
		byID.GET("/payout", h.Sessions.GetPayout)
		byID.POST("/accept", h.Sessions.Accept)
		byID.POST("/decline", h.Sessions.Decline)
		byID.POST("/cancel", h.Sessions.Cancel)
		byID.POST("/deliver", h.Sessions.Deliver)
		byID.POST("/confirm", h.Sessions.Confirm)
		byID.POST("/rate", h.Sessions.Rate)
	}

	wallets := protected.Group("/wallets")
	{
		wallets.GET("", h.Wallets.ListMine)
		wallets.GET("/as-seller", h.Wallets.ListAsSeller)
		wallets.GET("/:sellerId", middleware.UUIDValidator("sellerId"), h.Wallets.GetWallet)
		wallets.POST("/:sellerId/purchase", middleware.RequireRole(auth.RoleAdmin), middleware.UUIDValidator("sellerId"), h.Wallets.Purchase)
	}

	commission := protected.Group("/commission")
	{
		commission.GET("/rates", h.Commission.GetRates)

		overrides := commission.Group("/overrides", middleware.RequireRole(auth.RoleAdmin))
		sellers := overrides.Group("/sellers/:id", middleware.UUIDValidator("id"))
		sellers.GET("", h.Commission.GetSellerOverride)
		sellers.PUT("", h.Commission.SetSellerOverride)
		sellers.DELETE("", h.Commission.ClearSellerOverride)

		communities := overrides.Group("/communities/:id", middleware.UUIDValidator("id"))
		communities.GET("", h.Commission.GetCommunityOverride)
		communities.PUT("", h.Commission.SetCommunityOverride)
		communities.DELETE("", h.Commission.ClearCommunityOverride)
	}

	payouts := protected.Group("/payouts", middleware.RequireRole(auth.RoleAdmin))
	{
		payouts.GET("/eligible", h.Payouts.ListEligible)
		payouts.POST("/run", h.Payouts.Run)
	}

	return r
}
