package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"credit": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("credit")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/credit/open", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusTooManyRequests, res.Code)
	require.NotEmpty(t, res.Header().Get("Retry-After"))
}

func TestRateLimiterSeparatesCallers(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"credit": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("credit")(okHandler())

	for _, hex := range []string{"0x00000000000000000000000000000000000000a1", "0x00000000000000000000000000000000000000b2"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/credit/open", nil)
		req = req.WithContext(WithCaller(req.Context(), common.HexToAddress(hex)))
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		require.Equal(t, http.StatusOK, res.Code, hex)
	}
}

func TestRateLimiterUnknownKeyPassesThrough(t *testing.T) {
	limiter := NewRateLimiter(nil, nil)
	handler := limiter.Middleware("reads")(okHandler())
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/vaults/WETH", nil))
		require.Equal(t, http.StatusOK, res.Code, "request %d", i)
	}
}

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	now := time.Unix(0, 0)
	limiter := NewRateLimiter(map[string]RateLimit{"credit": {RatePerSecond: 1, Burst: 1}}, nil)
	limiter.clockNow = func() time.Time { return now }
	handler := limiter.Middleware("credit")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/credit/open", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, 1, limiter.size())

	now = now.Add(10 * time.Minute)
	other := httptest.NewRequest(http.MethodPost, "/v1/credit/open", nil)
	other.Header.Set("X-Real-IP", "10.0.0.9")
	handler.ServeHTTP(httptest.NewRecorder(), other)
	require.Equal(t, 1, limiter.size())
}
