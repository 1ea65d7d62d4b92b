package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(GetUserID(r.Context())))
})

func TestLocalOnly(t *testing.T) {
	tests := []struct {
		remote string
		want   int
	}{
		{"127.0.0.1:5000", http.StatusOK},
		{"[::1]:5000", http.StatusOK},
		{"10.1.2.3:80", http.StatusOK},
		{"203.0.113.7:80", http.StatusForbidden},
		{"garbage", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
		req.RemoteAddr = tt.remote
		rec := httptest.NewRecorder()
		LocalOnly(ok).ServeHTTP(rec, req)
		assert.Equal(t, tt.want, rec.Code, tt.remote)
	}
}

func TestLocalOnlyIgnoresForwardedHeaders(t *testing.T) {
	h := LocalOnly(chimw.RealIP(ok))

	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req.RemoteAddr = "203.0.113.7:80"
	req.Header.Set("X-Real-Ip", "127.0.0.1")
	req.Header.Set("X-Forwarded-For", "127.0.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req.RemoteAddr = "127.0.0.1:5000"
	req.Header.Set("X-Real-Ip", "203.0.113.7")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWithUserAndRateLimit(t *testing.T) {
	h := WithUser("42")(RateLimit(2)(ok))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chats/1/typing", nil))
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusOK {
			assert.Equal(t, "42", rec.Body.String())
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimiterWindow(t *testing.T) {
	l := newRateLimiter(1, time.Minute)
	now := time.Now()
	assert.True(t, l.allow("k", now))
	assert.False(t, l.allow("k", now.Add(time.Second)))
	assert.True(t, l.allow("k", now.Add(2*time.Minute)))
	assert.True(t, l.allow("other", now))
}

func TestRecoverJSON(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}
