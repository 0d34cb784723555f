package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	userapp "github.com/oksasatya/go-user-store/internal/application"
	"github.com/oksasatya/go-user-store/internal/interface/middleware"
	"github.com/oksasatya/go-user-store/pkg/helpers"
	"github.com/oksasatya/go-user-store/pkg/response"
	"github.com/oksasatya/go-user-store/pkg/validation"
)

type AuthHandler struct {
	Svc     *userapp.Service
	Logger  *logrus.Logger
	Cookies *helpers.Manager
}

func NewAuthHandler(svc *userapp.Service, logger *logrus.Logger, cookieDomain string, cookieSecure bool) *AuthHandler {
	return &AuthHandler{Svc: svc, Logger: logger, Cookies: helpers.NewCookie(cookieDomain, cookieSecure)}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}

	res, err := h.Svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, userapp.ErrInvalidCredentials) {
			response.Error[any](c, http.StatusUnauthorized, "invalid credentials", nil)
			return
		}
		helpers.LogError(h.Logger, "login failed", err, logrus.Fields{"request_id": c.GetString("request_id")})
		response.Error[any](c, http.StatusInternalServerError, "login failed", nil)
		return
	}
	h.Cookies.SetAccess(c, res.AccessToken, res.ExpiresAt)
	response.Success(c, http.StatusOK, gin.H{
		"user":         toUserResponse(res.User),
		"access_token": res.AccessToken,
	}, "login successful", map[string]any{"access_expires_at": res.ExpiresAt})
}

// Logout POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	h.Cookies.Clear(c)
	response.Success[any](c, http.StatusOK, map[string]any{"logged_out": true}, "logged out", nil)
}

// Profile GET /api/profile
func (h *AuthHandler) Profile(c *gin.Context) {
	uid := c.GetString(middleware.CtxUserIDKey)
	u, err := h.Svc.Get(c.Request.Context(), uid)
	if err != nil {
		if errors.Is(err, userapp.ErrUserNotFound) {
			response.Error[any](c, http.StatusNotFound, "user not found", nil)
			return
		}
		helpers.LogError(h.Logger, "load profile failed", err, logrus.Fields{"user_id": uid})
		response.Error[any](c, http.StatusInternalServerError, "failed to load profile", nil)
		return
	}
	response.Success(c, http.StatusOK, toUserResponse(u), "profile", nil)
}
