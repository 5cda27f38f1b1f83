package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "gateway-test-secret"

func signed(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func callerEcho(t *testing.T, want common.Address) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFrom(r.Context())
		assert.True(t, ok)
		assert.Equal(t, want, caller)
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticatorAcceptsValidToken(t *testing.T) {
	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: "creditd"}, nil)
	handler := auth.Middleware(callerEcho(t, alice))

	req := httptest.NewRequest(http.MethodPost, "/v1/credit/open", nil)
	req.Header.Set("Authorization", "Bearer "+signed(t, testSecret, jwt.RegisteredClaims{
		Subject:   alice.Hex(),
		Issuer:    "creditd",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusNoContent, res.Code, res.Body.String())
}

func TestIssueTokenRoundTrip(t *testing.T) {
	bob := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	token, err := IssueToken(testSecret, "creditd", bob, time.Hour, time.Now())
	require.NoError(t, err)
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: "creditd"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/credit/repay", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	auth.Middleware(callerEcho(t, bob)).ServeHTTP(res, req)
	require.Equal(t, http.StatusNoContent, res.Code)

	_, err = IssueToken("", "creditd", bob, time.Hour, time.Now())
	require.Error(t, err)
}

func TestAuthenticatorRejects(t *testing.T) {
	alice := "0x00000000000000000000000000000000000000a1"
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))
	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic abc",
		"wrong secret":   "Bearer " + signed(t, "other", jwt.RegisteredClaims{Subject: alice, Issuer: "creditd", ExpiresAt: future}),
		"expired":        "Bearer " + signed(t, testSecret, jwt.RegisteredClaims{Subject: alice, Issuer: "creditd", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}),
		"no expiry":      "Bearer " + signed(t, testSecret, jwt.RegisteredClaims{Subject: alice, Issuer: "creditd"}),
		"wrong issuer":   "Bearer " + signed(t, testSecret, jwt.RegisteredClaims{Subject: alice, Issuer: "other", ExpiresAt: future}),
		"bad subject":    "Bearer " + signed(t, testSecret, jwt.RegisteredClaims{Subject: "alice", Issuer: "creditd", ExpiresAt: future}),
	}
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: "creditd"}, nil)
	handler := auth.Middleware(okHandler())
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/credit/open", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)
			require.Equal(t, http.StatusUnauthorized, res.Code)
		})
	}
}

func TestRequestIDPropagates(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "9b2f4f4e-3c1d-4a55-8a8e-2b8f0d6f6c11")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, "9b2f4f4e-3c1d-4a55-8a8e-2b8f0d6f6c11", seen)
	require.Equal(t, seen, res.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.NotEmpty(t, seen)
	require.NotEqual(t, "not-a-uuid", seen)
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://app.example"}})(okHandler())
	req := httptest.NewRequest(http.MethodOptions, "/v1/credit/open", nil)
	req.Header.Set("Origin", "https://app.example")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusNoContent, res.Code)
	require.Equal(t, "https://app.example", res.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/v1/vaults/WETH", nil)
	req.Header.Set("Origin", "https://evil.example")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Empty(t, res.Header().Get("Access-Control-Allow-Origin"))
}
