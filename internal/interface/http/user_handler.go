package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	userapp "github.com/oksasatya/go-user-store/internal/application"
	"github.com/oksasatya/go-user-store/internal/domain/dto"
	"github.com/oksasatya/go-user-store/internal/domain/entity"
	"github.com/oksasatya/go-user-store/internal/interface/middleware"
	"github.com/oksasatya/go-user-store/pkg/helpers"
	"github.com/oksasatya/go-user-store/pkg/response"
	"github.com/oksasatya/go-user-store/pkg/validation"
)

type UserHandler struct {
	Svc    *userapp.Service
	Logger *logrus.Logger
}

func NewUserHandler(svc *userapp.Service, logger *logrus.Logger) *UserHandler {
	return &UserHandler{Svc: svc, Logger: logger}
}

// userResponse is the public projection of a user; the password hash never leaves the service.
type userResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func toUserResponse(u *entity.User) userResponse {
	return userResponse{ID: u.ID, Name: u.Name, Email: u.Email}
}

// Create POST /api/users
func (h *UserHandler) Create(c *gin.Context) {
	var req dto.CreateUserInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	u, err := h.Svc.Create(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err, "failed to create user")
		return
	}
	response.Success(c, http.StatusCreated, toUserResponse(u), "user created", nil)
}

// List GET /api/users
func (h *UserHandler) List(c *gin.Context) {
	users, err := h.Svc.List(c.Request.Context())
	if err != nil {
		h.fail(c, err, "failed to list users")
		return
	}
	out := make([]userResponse, 0, len(users))
	for i := range users {
		out = append(out, toUserResponse(&users[i]))
	}
	response.Success(c, http.StatusOK, out, "users", map[string]any{"count": len(out)})
}

// Get GET /api/users/:id
func (h *UserHandler) Get(c *gin.Context) {
	u, err := h.Svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "failed to load user")
		return
	}
	response.Success(c, http.StatusOK, toUserResponse(u), "user", nil)
}

// GetByEmail GET /api/users/by-email?email=
func (h *UserHandler) GetByEmail(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", map[string]string{"email": "is required"})
		return
	}
	u, err := h.Svc.GetByEmail(c.Request.Context(), email)
	if err != nil {
		h.fail(c, err, "failed to load user")
		return
	}
	response.Success(c, http.StatusOK, toUserResponse(u), "user", nil)
}

// ownsTarget rejects callers acting on a record other than their own.
func ownsTarget(c *gin.Context) bool {
	if c.GetString(middleware.CtxUserIDKey) != c.Param("id") {
		response.Error[any](c, http.StatusForbidden, "cannot modify another user", nil)
		return false
	}
	return true
}

// Update PATCH /api/users/:id (own record only)
func (h *UserHandler) Update(c *gin.Context) {
	if !ownsTarget(c) {
		return
	}
	var req dto.UpdateUserInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	u, err := h.Svc.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.fail(c, err, "failed to update user")
		return
	}
	response.Success(c, http.StatusOK, toUserResponse(u), "user updated", nil)
}

// Delete DELETE /api/users/:id (own record only)
func (h *UserHandler) Delete(c *gin.Context) {
	if !ownsTarget(c) {
		return
	}
	if err := h.Svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err, "failed to delete user")
		return
	}
	c.Status(http.StatusNoContent)
}

// Search GET /api/users/search?q=&size=
func (h *UserHandler) Search(c *gin.Context) {
	q := c.Query("q")
	size, _ := strconv.Atoi(c.DefaultQuery("size", "10"))
	hits, err := h.Svc.SearchUsers(c.Request.Context(), q, size)
	if err != nil {
		helpers.LogError(h.Logger, "user search failed", err, logrus.Fields{"q": q})
		response.Error[any](c, http.StatusBadGateway, "search failed", nil)
		return
	}
	response.Success(c, http.StatusOK, hits, "search results", map[string]any{"count": len(hits)})
}

// Backup POST /api/admin/backup
func (h *UserHandler) Backup(c *gin.Context) {
	uri, err := h.Svc.Backup(c.Request.Context())
	if err != nil {
		h.fail(c, err, "backup failed")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"object": uri}, "backup stored", nil)
}

// fail maps service errors onto HTTP statuses.
func (h *UserHandler) fail(c *gin.Context, err error, msg string) {
	var ve *validation.ValidationError
	switch {
	case errors.As(err, &ve):
		response.Error[any](c, http.StatusBadRequest, "invalid payload", ve.Details())
	case errors.Is(err, userapp.ErrUserNotFound):
		response.Error[any](c, http.StatusNotFound, "user not found", nil)
	case errors.Is(err, userapp.ErrEmailTaken):
		response.Error[any](c, http.StatusConflict, "email already registered", nil)
	case errors.Is(err, userapp.ErrBackupDisabled):
		response.Error[any](c, http.StatusServiceUnavailable, "backup storage not configured", nil)
	default:
		helpers.LogError(h.Logger, msg, err, logrus.Fields{
			"request_id": c.GetString("request_id"),
			"path":       c.FullPath(),
		})
		response.Error[any](c, http.StatusInternalServerError, msg, nil)
	}
}
