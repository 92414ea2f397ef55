package httpapi

import (
	"net/http"
	"strings"

	"github.com/cadencehq/cadence/internal/auth"
	"github.com/cadencehq/cadence/internal/problem"
)

// RequireAuth validates the bearer access token and attaches the principal.
// All token failures collapse to the same client-visible response.
func (a *API) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			problem.Write(w, problem.KindInvalidToken, "Authentication required.")
			return
		}
		claims, err := a.auth.Sessions().Authenticate(strings.TrimSpace(token))
		if err != nil {
			problem.Write(w, tokenProblemKind(err), "Authentication required.")
			return
		}
		user, err := a.auth.Profile(r.Context(), claims.Subject)
		if err != nil {
			problem.Write(w, problem.KindInvalidToken, "Authentication required.")
			return
		}
		if !user.IsActive {
			problem.Write(w, problem.KindAccountDisabled, "Account disabled.")
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), auth.Principal{
			UserID: user.ID,
			Admin:  user.IsAdmin,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
