package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/creditgate/internal/observability/context"
)

const (
	contextAPIKeyIDKey   = "api_key_id"
	contextAPIKeyRoleKey = "api_key_role"
)

// APIKeyRequired authenticates service callers with a bearer API key.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		key, err := s.apiKeySvc.Authenticate(c.Request.Context(), parts[1])
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextAPIKeyIDKey, key.KeyID)
		c.Set(contextAPIKeyRoleKey, key.Role)
		ctx := obscontext.WithActor(c.Request.Context(), string(ActorAPIKey), key.KeyID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
