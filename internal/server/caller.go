package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	admissiondomain "github.com/smallbiznis/creditgate/internal/admission/domain"
	obslogger "github.com/smallbiznis/creditgate/internal/observability/logger"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"go.uber.org/zap"
)

const (
	HeaderAccountID         = "X-Account-ID"
	HeaderDeviceFingerprint = "X-Device-Fingerprint"

	contextCallerKey = "caller"
)

// resolveCaller identifies the end user behind a gateway request: a signed-in
// account when the gateway forwards one, otherwise an anonymous visitor keyed
// by client IP and device fingerprint.
func resolveCaller(c *gin.Context) (admissiondomain.Caller, error) {
	if cached, ok := c.Get(contextCallerKey); ok {
		if caller, ok := cached.(admissiondomain.Caller); ok {
			return caller, nil
		}
	}

	var caller admissiondomain.Caller
	if accountID := strings.TrimSpace(c.GetHeader(HeaderAccountID)); accountID != "" {
		caller = admissiondomain.AuthenticatedAccount(accountID)
	} else {
		identity, err := anonymousIdentity(c)
		if err != nil {
			return admissiondomain.Caller{}, err
		}
		caller = admissiondomain.AnonymousIdentity(identity)
	}
	c.Set(contextCallerKey, caller)
	return caller, nil
}

func anonymousIdentity(c *gin.Context) (string, error) {
	return quotadomain.DeriveIdentity(c.ClientIP(), c.GetHeader(HeaderDeviceFingerprint))
}

// CallerRateLimit throttles request bursts per end user ahead of admission.
func (s *Server) CallerRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.callerLimiter.Enabled() {
			c.Next()
			return
		}

		caller, err := resolveCaller(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := c.Request.Context()
		decision, err := s.callerLimiter.Allow(ctx, string(caller.Kind)+":"+caller.ID)
		if err != nil {
			// Throttling is a guard, not a correctness control: fail open.
			obslogger.WithContext(ctx, s.log).Warn("caller rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			retryAfter := int(decision.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			obslogger.WithContext(ctx, s.log).Debug("caller rate limited",
				zap.String("caller_kind", string(caller.Kind)),
			)
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
