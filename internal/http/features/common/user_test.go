package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-mfa/internal/httputil"
	"github.com/tendant/simple-mfa/pkg/domain"
)

func TestWriteError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"resend too soon", domain.ErrResendTooSoon, http.StatusTooManyRequests, "Please wait at least 1 minute before requesting a new code."},
		{"dispatch failure", fmt.Errorf("send: %w", domain.ErrDispatchFailure), http.StatusBadGateway, "failed to send email. please try again"},
		{"precondition", domain.ErrEmailNotVerified, http.StatusConflict, "email not verified"},
		{"not found", domain.ErrMFANotConfigured, http.StatusNotFound, "MFA is not configured for this account"},
		{"unknown purpose", domain.ErrUnknownPurpose, http.StatusBadRequest, "unknown verification purpose"},
		{"unclassified", errors.New("db down"), http.StatusInternalServerError, "fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, logger, tt.err, "fallback")

			assert.Equal(t, tt.wantStatus, w.Code)
			var body httputil.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.wantError, body.Error)
		})
	}
}
