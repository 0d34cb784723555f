package modules

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oksasatya/go-user-store/internal/container"
	handlers "github.com/oksasatya/go-user-store/internal/interface/http"
	"github.com/oksasatya/go-user-store/internal/interface/middleware"
	"github.com/oksasatya/go-user-store/pkg/helpers"
)

type AuthModule struct {
	Handler *handlers.AuthHandler
	JWT     *helpers.JWTManager
}

func NewAuthModule(h *handlers.AuthHandler, jwt *helpers.JWTManager) *AuthModule {
	return &AuthModule{Handler: h, JWT: jwt}
}

func (m *AuthModule) Register(rg *gin.RouterGroup) {
	loginLimiter := middleware.RateLimit(container.GetRedis(), 10, time.Minute, middleware.KeyByIP(), nil) // 10 req/min per IP

	rg.POST("/auth/login", loginLimiter, m.Handler.Login)
	rg.POST("/auth/logout", m.Handler.Logout)

	auth := rg.Group("/")
	auth.Use(middleware.JWTAuth(m.JWT))
	{
		auth.GET("/profile", m.Handler.Profile)
	}
}
