package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-mfa/internal/config"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit(t *testing.T) {
	handler := RateLimit(RateLimitConfig{
		Requests: 2,
		Window:   time.Minute,
		Logger:   testLogger,
	})(okHandler())

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i, code := range want {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != code {
			t.Errorf("request %d: got status %d, want %d", i+1, w.Code, code)
		}
	}
}

func TestRateLimit_PerUser(t *testing.T) {
	handler := RateLimit(RateLimitConfig{
		Requests: 1,
		Window:   time.Minute,
		Logger:   testLogger,
		PerUser:  true,
	})(okHandler())

	userID := uuid.New()
	send := func(addr string, user uuid.UUID) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/mfa/verify", nil)
		req.RemoteAddr = addr
		req = req.WithContext(context.WithValue(req.Context(), UserIDKey, user))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	if code := send("10.0.0.1:1000", userID); code != http.StatusOK {
		t.Fatalf("first request: got status %d", code)
	}
	// Changing address does not reset the budget of the same account
	if code := send("10.0.0.2:1000", userID); code != http.StatusTooManyRequests {
		t.Errorf("same user from new IP: got status %d, want %d", code, http.StatusTooManyRequests)
	}
	if code := send("10.0.0.1:1000", uuid.New()); code != http.StatusOK {
		t.Errorf("other user: got status %d, want %d", code, http.StatusOK)
	}
}

func TestNoRateLimit(t *testing.T) {
	handler := NoRateLimit()(okHandler())

	for i := 0; i < 100; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Request %d: got status %d, want %d", i, w.Code, http.StatusOK)
		}
	}
}

func TestCreateRateLimiters_Disabled(t *testing.T) {
	limiters := CreateRateLimiters(config.RateLimitConfig{Enabled: false}, testLogger)

	for _, key := range []string{LimitAuth, LimitVerify, LimitChallenge, LimitProfile} {
		handler := limiters[key](okHandler())
		for i := 0; i < 50; i++ {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("%s request %d: got status %d, want %d", key, i, w.Code, http.StatusOK)
			}
		}
	}
}

func TestCreateRateLimiters_Enabled(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:                    true,
		AuthRequestsPerMinute:      5,
		AuthWindowMinutes:          1,
		VerifyRequestsPerWindow:    10,
		VerifyWindowMinutes:        15,
		ChallengeRequestsPerWindow: 1,
		ChallengeWindowMinutes:     15,
		ProfileRequestsPerMinute:   60,
		ProfileWindowMinutes:       1,
	}

	limiters := CreateRateLimiters(cfg, testLogger)

	for _, key := range []string{LimitAuth, LimitVerify, LimitChallenge, LimitProfile} {
		if limiters[key] == nil {
			t.Errorf("%s limiter should not be nil", key)
		}
	}

	handler := limiters[LimitChallenge](okHandler())
	codes := make([]int, 2)
	for i := range codes {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/mfa/verify", nil)
		req.RemoteAddr = "172.16.0.1:4000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("challenge limiter codes = %v, want [200 429]", codes)
	}
}
