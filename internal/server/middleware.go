package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strings"

	"github.com/engineerpark/cdulog/internal/identity"
	obscontext "github.com/engineerpark/cdulog/internal/observability/context"
	"github.com/engineerpark/cdulog/internal/observability/logger"
	userdomain "github.com/engineerpark/cdulog/internal/user/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	contextActorKey = "actor"
	maxBodyBytes    = 1 << 20
)

// Authenticate verifies the bearer token and resolves the caller against the
// user directory. The stored role wins over any role claim in the token.
func (s *Server) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := identity.BearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			s.rejectToken(c, identity.ErrMissingToken)
			return
		}

		claims, err := s.verifier.Verify(raw)
		if err != nil {
			s.rejectToken(c, err)
			return
		}

		actor, err := s.users.Resolve(c.Request.Context(), userdomain.Principal{
			Subject: claims.Subject,
			Name:    claims.Name,
			Email:   claims.Email,
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := identity.WithActor(c.Request.Context(), actor)
		ctx = obscontext.WithActor(ctx, string(actor.Role), actor.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextActorKey, actor)
		c.Next()
	}
}

func (s *Server) rejectToken(c *gin.Context, err error) {
	if s.metrics != nil {
		reason := "invalid"
		switch {
		case errors.Is(err, identity.ErrMissingToken):
			reason = "missing"
		case errors.Is(err, identity.ErrTokenExpired):
			reason = "expired"
		}
		s.metrics.RecordTokenRejected(c.Request.Context(), reason)
	}
	AbortWithError(c, err)
}

// WriteRateLimit applies the per-actor token bucket to mutating routes. Redis
// failures fail open so an outage never blocks maintenance entry.
func (s *Server) WriteRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || !s.limiter.Enabled() {
			c.Next()
			return
		}

		actor := actorFrom(c)
		ctx := c.Request.Context()
		res, err := s.limiter.Allow(ctx, actor.ID)
		if err != nil {
			logger.FromContext(ctx).Warn("write rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			seconds := int(math.Ceil(res.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			AbortWithError(c, &RateLimitedError{RetryAfterSeconds: seconds})
			return
		}
		c.Next()
	}
}

func (s *Server) authorize(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authz.Authorize(c.Request.Context(), actorFrom(c), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) identity.Actor {
	if v, ok := c.Get(contextActorKey); ok {
		if actor, ok := v.(identity.Actor); ok {
			return actor
		}
	}
	actor, _ := identity.ActorFromContext(c.Request.Context())
	return actor
}

// decodeJSON rejects unknown fields so that typos in partial updates surface
// as validation errors instead of silent no-ops.
func decodeJSON(c *gin.Context, dst any) error {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		return invalidRequestError()
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return newValidationError("body", "empty_body", "request body is required")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &typeErr):
			return newValidationError(typeErr.Field, "invalid_type", typeErr.Field+" has the wrong type")
		// encoding/json has no typed error for unknown fields. This match
		// depends on its exact message: json: unknown field "name".
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
			return newValidationError(field, "unknown_field", "unknown field "+field)
		default:
			return invalidRequestError()
		}
	}
	return nil
}
