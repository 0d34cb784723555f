package modules

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oksasatya/go-user-store/internal/container"
	handlers "github.com/oksasatya/go-user-store/internal/interface/http"
	"github.com/oksasatya/go-user-store/internal/interface/middleware"
	"github.com/oksasatya/go-user-store/pkg/helpers"
)

// UserModule wires the users controller.
// Public: POST/GET /api/users, GET /api/users/:id, /by-email, /search
// Protected: PATCH/DELETE /api/users/:id (owner), POST /api/admin/backup (admins)
type UserModule struct {
	Handler  *handlers.UserHandler
	JWT      *helpers.JWTManager
	AdminIDs []string
}

func NewUserModule(h *handlers.UserHandler, jwt *helpers.JWTManager, adminIDs []string) *UserModule {
	return &UserModule{Handler: h, JWT: jwt, AdminIDs: adminIDs}
}

func (m *UserModule) Register(rg *gin.RouterGroup) {
	rdb := container.GetRedis()
	createLimiter := middleware.RateLimit(rdb, 20, time.Minute, middleware.KeyByIPAndPath(), nil)
	readLimiter := middleware.RateLimit(rdb, 300, time.Minute, middleware.KeyByIP(), nil)

	users := rg.Group("/users")
	users.POST("", createLimiter, m.Handler.Create)
	users.GET("", readLimiter, m.Handler.List)
	users.GET("/by-email", readLimiter, m.Handler.GetByEmail)
	users.GET("/search", readLimiter, m.Handler.Search)
	users.GET("/:id", readLimiter, m.Handler.Get)

	auth := rg.Group("/")
	auth.Use(middleware.JWTAuth(m.JWT))
	auth.Use(middleware.RateLimit(rdb, 120, time.Minute, middleware.KeyByUserID(), nil))
	{
		auth.PATCH("/users/:id", m.Handler.Update)
		auth.DELETE("/users/:id", m.Handler.Delete)
		auth.POST("/admin/backup", middleware.RequireUser(m.AdminIDs), m.Handler.Backup)
	}
}
