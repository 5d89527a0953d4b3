package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/eddynotadi/mosquito-hunter/internal/common"
	"github.com/eddynotadi/mosquito-hunter/internal/common/security"

	"github.com/go-chi/jwtauth/v5"
)

type contextKey string

const (
	UserIDCtxKey   contextKey = "userID"
	UsernameCtxKey contextKey = "username"
)

// Authenticator rejects requests without a valid bearer token. It expects
// jwtauth.Verifier to have run first.
func Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, claims, err := jwtauth.FromContext(r.Context())

		if err != nil {
			if errors.Is(err, jwtauth.ErrNoTokenFound) {
				respondUnauthorized(w, common.CodeTokenRequired, "Authorization token required")
			} else {
				respondUnauthorized(w, common.CodeInvalidToken, "Invalid token: "+err.Error())
			}
			return
		}

		if token == nil {
			respondUnauthorized(w, common.CodeTokenRequired, "Authorization token required")
			return
		}

		userID, err := security.GetUserIDFromClaims(claims)
		if err != nil {
			respondUnauthorized(w, common.CodeInvalidToken, "Invalid token claims: "+err.Error())
			return
		}
		username, err := security.GetUsernameFromClaims(claims)
		if err != nil {
			respondUnauthorized(w, common.CodeInvalidToken, "Invalid token claims: "+err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), UserIDCtxKey, userID)
		ctx = context.WithValue(ctx, UsernameCtxKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func respondUnauthorized(w http.ResponseWriter, code, message string) {
	common.RespondWithAppError(w, common.NewAppError(common.ErrUnauthorized, code, message, nil))
}

// Helper to get user ID from context
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDCtxKey).(string)
	return userID, ok
}

func GetUsernameFromContext(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(UsernameCtxKey).(string)
	return username, ok
}
