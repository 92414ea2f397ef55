package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/cadencehq/cadence/internal/audit"
	"github.com/cadencehq/cadence/internal/auth"
	"github.com/cadencehq/cadence/internal/guard"
	"github.com/cadencehq/cadence/internal/obs"
	"github.com/cadencehq/cadence/internal/problem"
)

type registerRequest struct {
	Username      string `json:"username"`
	Email         string `json:"email"`
	Password      string `json:"password"`
	AcceptedTerms bool   `json:"accepted_terms"`
}

type userResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Username    string     `json:"username"`
	IsVerified  bool       `json:"is_verified"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

func toUserResponse(u *auth.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		Username:    u.Username,
		IsVerified:  u.IsVerified,
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	user, err := a.auth.Register(r.Context(), auth.RegisterInput{
		Username:      req.Username,
		Email:         req.Email,
		Password:      req.Password,
		AcceptedTerms: req.AcceptedTerms,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "auth.register", map[string]any{
		"user_id": user.ID, "ip": guard.ClientIP(r),
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":    toUserResponse(user),
		"message": "Check your inbox for a verification link.",
	})
}

type verifyRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := a.auth.VerifyEmail(r.Context(), req.Email, req.Token); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Email verified."})
}

type emailRequest struct {
	Email string `json:"email"`
}

func (a *API) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := a.auth.ResendVerification(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "If the address exists, a verification link is on its way.",
	})
}

type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DeviceLabel string `json:"device_label"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	ip := guard.ClientIP(r)
	pair, user, err := a.auth.Login(r.Context(), auth.LoginInput{
		Email:       req.Email,
		Password:    req.Password,
		DeviceLabel: req.DeviceLabel,
		IP:          ip,
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		obs.LoginsTotal.WithLabelValues("failure").Inc()
		audit.LogEvent(r.Context(), "auth.login_failed", map[string]any{
			"ip": ip, "reason": loginFailureReason(err),
		})
		writeError(w, r, err)
		return
	}
	obs.LoginsTotal.WithLabelValues("success").Inc()
	audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id": user.ID, "ip": ip,
	})
	a.setRefreshCookie(w, pair)
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": pair.AccessToken,
		"expires_at":   pair.AccessExpiresAt,
		"user":         toUserResponse(user),
	})
}

// loginFailureReason keeps the server-side distinction the client response
// collapses.
func loginFailureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrUnverified):
		return "unverified"
	case errors.Is(err, auth.ErrAccountDisabled):
		return "disabled"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "bad_credentials"
	default:
		return "error"
	}
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := a.refreshTokenFrom(r)
	if token == "" {
		problem.Write(w, problem.KindInvalidToken, "Authentication required.")
		return
	}
	pair, err := a.auth.Sessions().Refresh(r.Context(), token, guard.ClientIP(r), r.UserAgent())
	if err != nil {
		if errors.Is(err, auth.ErrRefreshReuse) {
			audit.LogEvent(r.Context(), "auth.refresh_reuse", map[string]any{
				"ip": guard.ClientIP(r),
			})
		}
		a.clearRefreshCookie(w)
		writeError(w, r, err)
		return
	}
	a.setRefreshCookie(w, pair)
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": pair.AccessToken,
		"expires_at":   pair.AccessExpiresAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := a.refreshTokenFrom(r); token != "" {
		if err := a.auth.Sessions().Logout(r.Context(), token); err != nil {
			writeError(w, r, err)
			return
		}
	}
	a.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out."})
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	n, err := a.auth.Sessions().LogoutAll(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "auth.logout_all", map[string]any{"sessions": n})
	a.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"sessions_revoked": n})
}

func (a *API) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := a.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	// The response never reveals whether the address exists.
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "If the address exists, a reset link is on its way.",
	})
}

type resetConfirmRequest struct {
	Email       string `json:"email"`
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (a *API) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := a.auth.ConfirmPasswordReset(r.Context(), req.Email, req.Token, req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "auth.password_reset", map[string]any{
		"ip": guard.ClientIP(r),
	})
	a.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated. Log in again."})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	user, err := a.auth.Profile(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// refreshTokenFrom prefers the HTTP-only cookie; a JSON body with a
// refresh_token field is accepted for non-browser clients.
func (a *API) refreshTokenFrom(r *http.Request) string {
	if c, err := r.Cookie(a.cfg.RefreshCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &body); err == nil {
		return body.RefreshToken
	}
	return ""
}

func (a *API) setRefreshCookie(w http.ResponseWriter, pair auth.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.RefreshCookieName,
		Value:    pair.RefreshToken,
		Path:     a.cfg.APIPrefix + "/auth",
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   a.cfg.RefreshCookieSecure,
		SameSite: a.cfg.RefreshCookieSameSite,
	})
}

func (a *API) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.RefreshCookieName,
		Value:    "",
		Path:     a.cfg.APIPrefix + "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cfg.RefreshCookieSecure,
		SameSite: a.cfg.RefreshCookieSameSite,
	})
}
