package auth

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-invoice/internal/common"
)

// TokenParser resolves a bearer token to a user identifier.
type TokenParser interface {
	ParseAccessToken(token string) (string, error)
}

// Middleware wires authentication context into HTTP handlers.
type Middleware struct {
	Parser TokenParser
	Logger zerolog.Logger
}

// RequireAuth rejects requests without a valid bearer token with 401.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Parser == nil {
			common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "authentication not configured", nil)
			return
		}
		token := BearerToken(r)
		if token == "" {
			common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "Unauthorized", nil)
			return
		}
		userID, err := m.Parser.ParseAccessToken(token)
		if err != nil || userID == "" {
			m.Logger.Debug().Err(err).Msg("bearer token rejected")
			var appErr *common.AppError
			if errors.As(err, &appErr) {
				common.WriteError(w, appErr)
				return
			}
			common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "Unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithUserID(r.Context(), userID)))
	})
}
