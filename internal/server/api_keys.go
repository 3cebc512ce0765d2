package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/creditgate/internal/apikey/domain"
	obslogger "github.com/smallbiznis/creditgate/internal/observability/logger"
	"go.uber.org/zap"
)

type createAPIKeyRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

func (s *Server) ListAPIKeys(c *gin.Context) {
	keys, err := s.apiKeySvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, keys)
}

func (s *Server) CreateAPIKey(c *gin.Context) {
	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.apiKeySvc.Create(c.Request.Context(), apikeydomain.CreateRequest{
		Name: strings.TrimSpace(req.Name),
		Role: strings.ToLower(strings.TrimSpace(req.Role)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditKeyEvent(c, "api_key.created", resp.KeyID)
	c.JSON(http.StatusCreated, resp)
}

// RotateAPIKey issues a replacement secret. The old key keeps working for a
// short grace period so callers can roll over.
func (s *Server) RotateAPIKey(c *gin.Context) {
	keyID := strings.TrimSpace(c.Param("key_id"))
	resp, err := s.apiKeySvc.Rotate(c.Request.Context(), keyID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditKeyEvent(c, "api_key.rotated", resp.KeyID, zap.String("rotated_from_key_id", keyID))
	c.JSON(http.StatusOK, resp)
}

func (s *Server) RevokeAPIKey(c *gin.Context) {
	keyID := strings.TrimSpace(c.Param("key_id"))
	if err := s.apiKeySvc.Revoke(c.Request.Context(), keyID); err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditKeyEvent(c, "api_key.revoked", keyID)
	c.Status(http.StatusNoContent)
}

func (s *Server) auditKeyEvent(c *gin.Context, event, keyID string, fields ...zap.Field) {
	actor, _ := actorFromContext(c)
	fields = append(fields,
		zap.String("event", event),
		zap.String("key_id", keyID),
		zap.String("actor", actor.subject()),
	)
	obslogger.WithContext(c.Request.Context(), s.log).Info("api key changed", fields...)
}
