package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/hornet-soc/hornet/pkg/metrics"
	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/tenant"
)

const (
	requestIDKey     = "request_id"
	requestIDHeader  = "X-Request-ID"
	identityKey      = "identity"
	apiKeyHeader     = "X-API-Key"
	apiKeyQueryParam = "api_key"
)

// requestID attaches a correlation id to every request, honoring one
// supplied by the client.
func requestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := c.Request().Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.New().String()
			}
			c.Set(requestIDKey, id)
			c.Response().Header().Set(requestIDHeader, id)
			return next(c)
		}
	}
}

// requestIDFrom returns the correlation id set by requestID.
func requestIDFrom(c *echo.Context) string {
	if id, ok := c.Get(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// securityHeaders sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// requestLogging records one structured log line and the request counter
// per request.
func (s *Server) requestLogging() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			err := next(c)

			status := 0
			if res, uerr := echo.UnwrapResponse(c.Response()); uerr == nil {
				status = res.Status
			}
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			metrics.HTTPRequests.WithLabelValues(
				c.Request().Method, route, strconv.Itoa(status)).Inc()
			s.logger.Info("Request",
				"request_id", requestIDFrom(c),
				"method", c.Request().Method,
				"route", route,
				"status", status,
				"tenant_id", tenant.IDFromContext(c.Request().Context()),
				"duration_ms", time.Since(start).Milliseconds())
			return err
		}
	}
}

// credential extracts the presented API key: Authorization bearer token,
// X-API-Key header, or api_key query parameter, in that order. The query
// form exists for WebSocket clients that cannot set headers.
func credential(c *echo.Context) string {
	if h := c.Request().Header.Get("Authorization"); h != "" {
		if key, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(key)
		}
	}
	if key := c.Request().Header.Get(apiKeyHeader); key != "" {
		return key
	}
	return c.QueryParam(apiKeyQueryParam)
}

// authenticate resolves the presented API key to a tenant identity and
// attaches it to the request context. All failures map to 401.
func (s *Server) authenticate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id, err := s.auth.Authenticate(c.Request().Context(), credential(c))
			if err != nil {
				if isAuthError(err) {
					return echo.NewHTTPError(http.StatusUnauthorized, "authentication failed")
				}
				return err
			}
			c.Set(identityKey, id)
			c.SetRequest(c.Request().WithContext(
				tenant.NewContext(c.Request().Context(), id)))
			return next(c)
		}
	}
}

// identityFrom returns the identity attached by authenticate.
func identityFrom(c *echo.Context) *tenant.Identity {
	id, _ := c.Get(identityKey).(*tenant.Identity)
	return id
}

// rateLimit enforces the per-(tenant, route) token bucket, parameterized
// by subscription tier. Runs after authenticate.
func (s *Server) rateLimit() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if s.limiter == nil {
				return next(c)
			}
			id := identityFrom(c)
			if id == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication failed")
			}
			tier := id.Tier
			if tier == "" {
				tier = models.TierFree
			}
			key := id.TenantID + ":" + c.Path()
			allowed, err := s.limiter.Allow(c.Request().Context(), key,
				s.cfg.RateLimit.RequestsPerMinute[tier], s.cfg.RateLimit.Burst[tier])
			if err != nil {
				return err
			}
			if !allowed {
				metrics.RateLimited.WithLabelValues(tier).Inc()
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

// auditMutations writes an audit record for every successful mutating call.
// Reads are not audited; the log captures who changed what.
func (s *Server) auditMutations() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			err := next(c)
			if err != nil {
				return err
			}
			switch c.Request().Method {
			case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
			default:
				return nil
			}
			id := identityFrom(c)
			if id == nil || s.store == nil {
				return nil
			}
			status := 0
			if res, uerr := echo.UnwrapResponse(c.Response()); uerr == nil {
				status = res.Status
			}
			entry := &models.AuditLogEntry{
				Actor:        "api_key:" + id.KeyID,
				Action:       c.Request().Method + " " + c.Path(),
				ResourceType: "http_request",
				ResourceID:   requestIDFrom(c),
				IPAddress:    c.RealIP(),
				Details: map[string]any{
					"status": status,
				},
			}
			if err := s.store.RecordAudit(c.Request().Context(), entry); err != nil {
				s.logger.Warn("Audit record failed",
					"request_id", requestIDFrom(c), "error", err)
			}
			return nil
		}
	}
}
