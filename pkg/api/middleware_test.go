package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	echo "github.com/labstack/echo/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hornet-soc/hornet/pkg/bus"
	"github.com/hornet-soc/hornet/pkg/config"
	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/tenant"
)

const testTenantID = "11111111-1111-1111-1111-111111111111"

func testBusClient(t *testing.T) *bus.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return bus.NewClientFromRedis(rdb)
}

type fakeKeySource struct {
	key    *models.APIKey
	tenant *models.Tenant
}

func (f *fakeKeySource) LookupAPIKey(ctx context.Context, keyHash string) (*models.APIKey, *models.Tenant, error) {
	if f.key == nil || f.key.KeyHash != keyHash {
		return nil, nil, tenant.ErrKeyNotFound
	}
	return f.key, f.tenant, nil
}

func (f *fakeKeySource) TouchAPIKey(ctx context.Context, keyID string) error { return nil }

func newAuthedServer(t *testing.T) (*Server, string) {
	t.Helper()
	const clear = "hsk_test_key"
	source := &fakeKeySource{
		key: &models.APIKey{ID: "key-1", TenantID: testTenantID, KeyHash: tenant.HashKey(clear)},
		tenant: &models.Tenant{
			ID:               testTenantID,
			Name:             "acme",
			IsActive:         true,
			SubscriptionTier: models.TierFree,
		},
	}
	s := &Server{
		cfg:    &config.Config{RateLimit: config.DefaultRateLimitConfig()},
		auth:   tenant.NewAuthenticator(source),
		logger: slog.Default(),
	}
	return s, clear
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	e := echo.New()
	e.Use(requestID())
	e.GET("/test", func(c *echo.Context) error {
		return c.String(http.StatusOK, requestIDFrom(c))
	})

	t.Run("generated when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
		assert.Equal(t, rec.Header().Get(requestIDHeader), rec.Body.String())
	})

	t.Run("client-supplied id is honored", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(requestIDHeader, "req-42")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
		assert.Equal(t, "req-42", rec.Body.String())
	})
}

func TestCredentialExtractionOrder(t *testing.T) {
	e := echo.New()

	newCtx := func(configure func(r *http.Request)) *echo.Context {
		req := httptest.NewRequest(http.MethodGet, "/?api_key=from_query", nil)
		configure(req)
		return e.NewContext(req, httptest.NewRecorder())
	}

	c := newCtx(func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer from_bearer")
		r.Header.Set(apiKeyHeader, "from_header")
	})
	assert.Equal(t, "from_bearer", credential(c))

	c = newCtx(func(r *http.Request) {
		r.Header.Set(apiKeyHeader, "from_header")
	})
	assert.Equal(t, "from_header", credential(c))

	c = newCtx(func(r *http.Request) {})
	assert.Equal(t, "from_query", credential(c))
}

func TestAuthenticateMiddleware(t *testing.T) {
	s, clear := newAuthedServer(t)

	e := echo.New()
	e.Use(s.authenticate())
	e.GET("/whoami", func(c *echo.Context) error {
		return c.String(http.StatusOK, tenant.IDFromContext(c.Request().Context()))
	})

	t.Run("valid key attaches tenant context", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+clear)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, testTenantID, rec.Body.String())
	})

	t.Run("missing credential is 401", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown key is 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer hsk_wrong")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRateLimitExhaustsBurst(t *testing.T) {
	s, _ := newAuthedServer(t)
	s.limiter = bus.NewRateLimiter(testBusClient(t))
	s.cfg.RateLimit = &config.RateLimitConfig{
		RequestsPerMinute: map[string]int{models.TierFree: 60},
		Burst:             map[string]int{models.TierFree: 3},
	}

	e := echo.New()
	handler := s.rateLimit()(func(c *echo.Context) error { return c.NoContent(http.StatusOK) })

	do := func(id *tenant.Identity) int {
		req := httptest.NewRequest(http.MethodGet, "/limited", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.Set(identityKey, id)
		if err := handler(c); err != nil {
			he, ok := err.(*echo.HTTPError)
			require.True(t, ok)
			return he.Code
		}
		return rec.Code
	}

	id := &tenant.Identity{TenantID: testTenantID, Tier: models.TierFree}
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do(id), "request %d should pass", i)
	}
	assert.Equal(t, http.StatusTooManyRequests, do(id), "burst exhausted")

	// Buckets are per tenant; another tenant is unaffected.
	other := &tenant.Identity{TenantID: "22222222-2222-2222-2222-222222222222", Tier: models.TierFree}
	assert.Equal(t, http.StatusOK, do(other))
}
