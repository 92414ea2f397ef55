package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cadencehq/cadence/internal/auth"
	"github.com/cadencehq/cadence/internal/problem"
)

// handleSuspiciousIP reports whether the abuse guard currently flags the IP.
// System admins only; used by the ops tooling to check a caller before
// lifting a block.
func (a *API) handleSuspiciousIP(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	if !principal.Admin {
		problem.Write(w, problem.KindPermissionDenied, "Admin access required.")
		return
	}
	ip := chi.URLParam(r, "ip")
	if ip == "" {
		problem.Write(w, problem.KindValidation, "ip is required.")
		return
	}
	flagged, err := a.guard.Suspicious(r, ip)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ip": ip, "suspicious": flagged})
}
