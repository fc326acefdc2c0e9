package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-establishment-auth/internal/domain"
)

var kindStatus = map[domain.ErrorKind]int{
	domain.KindInvalidCredentials:   http.StatusUnauthorized,
	domain.KindAccountInactive:      http.StatusForbidden,
	domain.KindMethodUnavailable:    http.StatusBadRequest,
	domain.KindInvalidPre2FAToken:   http.StatusUnauthorized,
	domain.KindInvalidTwoFactorCode: http.StatusBadRequest,
	domain.KindInvalidTOTPCode:      http.StatusBadRequest,
	domain.KindInvalidRefreshToken:  http.StatusUnauthorized,
	domain.KindEncryptionFailure:    http.StatusInternalServerError,
	domain.KindStorageFailure:       http.StatusInternalServerError,
	domain.KindTooManyAttempts:      http.StatusTooManyRequests,
}

// statusFor maps a service error to an HTTP status.
func statusFor(err error) int {
	if st, ok := kindStatus[domain.KindOf(err)]; ok {
		return st
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// writeServiceError responds with the client-safe message of err. Internal
// causes are logged, never returned.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := http.StatusText(status)
	var de *domain.Error
	if errors.As(err, &de) {
		msg = de.Msg
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
	}
	writeError(w, status, msg)
}
