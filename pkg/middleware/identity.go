package middleware

import (
	"strings"

	"reviewhub/pkg/errutil"
	"reviewhub/pkg/identity"

	"github.com/gin-gonic/gin"
)

// Headers forwarded by the identity-aware proxy in front of the API.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
	HeaderUserName = "X-User-Name"
)

// Identity attaches the forwarded user, if any, to the request context.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if id != "" {
			u := &identity.User{
				ID:   id,
				Name: c.GetHeader(HeaderUserName),
				Role: identity.Role(strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderUserRole)))),
			}
			c.Request = c.Request.WithContext(identity.WithUser(c.Request.Context(), u))
		}
		c.Next()
	}
}

func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := identity.FromContext(c.Request.Context()); !ok {
			_ = c.Error(errutil.Unauthorized("sign in required", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
