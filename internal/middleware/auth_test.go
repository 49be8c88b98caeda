package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protected(g *Gate) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(ActorFromContext(r.Context())))
	})
	return g.WithAuth(RequireRole("facilitator", inner))
}

func call(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/participants", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestGateAcceptsFacilitatorToken(t *testing.T) {
	g := NewGate("test-secret")
	tok, err := g.Sign("fac@x.edu", "facilitator", time.Hour)
	require.NoError(t, err)

	rr := call(protected(g), tok)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "fac@x.edu", rr.Body.String())
}

func TestGateRejectsBadTokens(t *testing.T) {
	g := NewGate("test-secret")
	other := NewGate("other-secret")
	wrongKey, _ := other.Sign("fac@x.edu", "facilitator", time.Hour)
	wrongRole, _ := g.Sign("judge@x.edu", "judge", time.Hour)

	past := NewGate("test-secret")
	past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := past.Sign("fac@x.edu", "facilitator", time.Hour)

	none := `eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJmYWNAeC5lZHUiLCJyb2xlIjoiZmFjaWxpdGF0b3IifQ.`

	for name, tok := range map[string]string{"missing": "", "garbage": "abc", "wrong key": wrongKey, "wrong role": wrongRole, "expired": expired, "alg none": none} {
		rr := call(protected(g), tok)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, name)
		assert.JSONEq(t, `{"error":"invalid or expired token","code":"unauthorized"}`, rr.Body.String(), name)
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://scan.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodOptions, "/api/checkpoints/meal", nil)
	req.Header.Set("Origin", "https://scan.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://scan.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))

	rr = httptest.NewRecorder()
	CORS(nil)(http.NotFoundHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
