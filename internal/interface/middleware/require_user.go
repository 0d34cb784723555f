package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/oksasatya/go-user-store/pkg/response"
)

// RequireUser lets through only the listed user ids. It must run after JWTAuth.
// An empty list denies everyone.
func RequireUser(ids []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}
	return func(c *gin.Context) {
		uid := c.GetString(CtxUserIDKey)
		if _, ok := allowed[uid]; uid == "" || !ok {
			response.Error[any](c, http.StatusForbidden, "forbidden", nil)
			return
		}
		c.Next()
	}
}
