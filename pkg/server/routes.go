package server

import (
	"retail-loyalty/pkg/config"
	"retail-loyalty/pkg/middleware"

	"github.com/casbin/casbin/v2"
	"github.com/gin-gonic/gin"
)

// Routes groups the engine by audience so services only register handlers.
type Routes struct {
	Engine  *gin.Engine
	User    *gin.RouterGroup
	Admin   *gin.RouterGroup
	Webhook *gin.RouterGroup
}

func NewRoutes(cfg *config.Config, engine *gin.Engine, issuer *middleware.TokenIssuer, enforcer *casbin.Enforcer) *Routes {
	return &Routes{
		Engine:  engine,
		User:    engine.Group("/v1", middleware.Auth(issuer), middleware.Access(enforcer)),
		Admin:   engine.Group("/admin", middleware.Auth(issuer), middleware.Access(enforcer)),
		Webhook: engine.Group("/webhooks", middleware.WebhookToken(cfg.Webhook.Token)),
	}
}
