package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cadencehq/cadence/internal/audit"
	"github.com/cadencehq/cadence/internal/auth"
	"github.com/cadencehq/cadence/internal/authz"
	"github.com/cadencehq/cadence/internal/problem"
)

type createOrgRequest struct {
	Name            string `json:"name"`
	SeedDepartments bool   `json:"seed_departments"`
}

func (a *API) handleCreateOrg(w http.ResponseWriter, r *http.Request) {
	var req createOrgRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	org, err := a.bootstrap.Create(r.Context(), authz.CreateInput{
		Name:            req.Name,
		OwnerID:         principal.UserID,
		SeedDepartments: req.SeedDepartments,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "org.created", map[string]any{
		"org_id": org.ID, "slug": org.Slug,
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         org.ID,
		"slug":       org.Slug,
		"name":       org.Name,
		"owner_id":   org.OwnerID,
		"created_at": org.CreatedAt,
	})
}

type authzCheckRequest struct {
	Perm       string `json:"perm"`
	ObjectType string `json:"object_type,omitempty"`
	ObjectID   string `json:"object_id,omitempty"`
}

// handleAuthzCheck answers an allow/deny question for the calling principal
// in the org named by the path.
func (a *API) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	var req authzCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.Perm == "" {
		problem.Write(w, problem.KindValidation, "perm is required.")
		return
	}
	if req.ObjectType != "" && !authz.ValidObjectType(req.ObjectType) {
		problem.Write(w, problem.KindValidation, "unknown object_type.")
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	allowed, err := a.resolver.Authorize(r.Context(), authz.CheckInput{
		UserID:     principal.UserID,
		OrgID:      chi.URLParam(r, "orgID"),
		Perm:       req.Perm,
		ObjectType: authz.ObjectType(req.ObjectType),
		ObjectID:   req.ObjectID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}
