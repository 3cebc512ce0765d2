package server

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
)

type ActorType string

const (
	ActorAPIKey ActorType = "api_key"
)

type Actor struct {
	Type ActorType
	ID   string
	Role string
}

func (s *Server) authorizeAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		err := s.authzSvc.Authorize(c.Request.Context(), actor.subject(), actor.Role, strings.TrimSpace(object), strings.TrimSpace(action))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func actorFromContext(c *gin.Context) (Actor, bool) {
	if c == nil {
		return Actor{}, false
	}
	keyID := strings.TrimSpace(c.GetString(contextAPIKeyIDKey))
	role := strings.TrimSpace(c.GetString(contextAPIKeyRoleKey))
	if keyID == "" || role == "" {
		return Actor{}, false
	}
	return Actor{Type: ActorAPIKey, ID: keyID, Role: role}, true
}

func (a Actor) subject() string {
	switch a.Type {
	case ActorAPIKey:
		return fmt.Sprintf("api_key:%s", a.ID)
	default:
		return ""
	}
}
