package middleware

import (
	"context"

	"promohive/pkg/access"
	"promohive/pkg/errutil"

	"github.com/gin-gonic/gin"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// Identity is the authenticated caller supplied by the session layer in front
// of this service. It is trusted as-is.
type Identity struct {
	UserID string
	Role   access.Role
}

func (i Identity) Actor() access.Actor {
	return access.Actor{ID: i.UserID, Role: i.Role}
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// Authenticate reads the identity headers. Requests without a user id are let
// through anonymously; handlers that need one call RequireIdentity.
func Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(HeaderUserID)
		if userID == "" {
			c.Next()
			return
		}

		role := access.RoleUser
		if raw := c.GetHeader(HeaderUserRole); raw != "" {
			parsed, err := access.ParseRole(raw)
			if err != nil {
				_ = c.Error(err)
				c.Abort()
				return
			}
			role = parsed
		}

		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), Identity{UserID: userID, Role: role}))
		c.Next()
	}
}

// RequireIdentity returns the caller or records an Unauthorized error on c.
func RequireIdentity(c *gin.Context) (Identity, bool) {
	id, ok := IdentityFrom(c.Request.Context())
	if !ok {
		_ = c.Error(errutil.Unauthorized("authentication required", nil))
		return Identity{}, false
	}
	return id, true
}
