// Package problem renders RFC 7807 style problem documents. Every error the
// API surfaces to clients goes through this shape.
package problem

import (
	"encoding/json"
	"net/http"

	"github.com/cadencehq/cadence/internal/obs"
)

// Kind names a client-visible error class.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindUnverified         Kind = "unverified"
	KindAccountDisabled    Kind = "account_disabled"
	KindTokenExpired       Kind = "token_expired"
	KindInvalidToken       Kind = "invalid_token"
	KindInvalidTokenType   Kind = "invalid_token_type"
	KindCSRF               Kind = "csrf_validation_failed"
	KindRateLimited        Kind = "rate_limited"
	KindRequestTooLarge    Kind = "request_too_large"
	KindPermissionDenied   Kind = "permission_denied"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindUnavailable        Kind = "unavailable"
	KindInternal           Kind = "internal"
)

// statusOf maps each kind to its fixed HTTP status.
var statusOf = map[Kind]int{
	KindValidation:         http.StatusBadRequest,
	KindInvalidCredentials: http.StatusUnauthorized,
	KindUnverified:         http.StatusForbidden,
	KindAccountDisabled:    http.StatusForbidden,
	KindTokenExpired:       http.StatusUnauthorized,
	KindInvalidToken:       http.StatusUnauthorized,
	KindInvalidTokenType:   http.StatusUnauthorized,
	KindCSRF:               http.StatusForbidden,
	KindRateLimited:        http.StatusTooManyRequests,
	KindRequestTooLarge:    http.StatusRequestEntityTooLarge,
	KindPermissionDenied:   http.StatusForbidden,
	KindNotFound:           http.StatusNotFound,
	KindConflict:           http.StatusConflict,
	KindUnavailable:        http.StatusServiceUnavailable,
	KindInternal:           http.StatusInternalServerError,
}

// titleOf carries the human titles. Token-related kinds share one title so
// clients cannot distinguish them.
var titleOf = map[Kind]string{
	KindValidation:         "Validation failed",
	KindInvalidCredentials: "Invalid credentials",
	KindUnverified:         "Email not verified",
	KindAccountDisabled:    "Account disabled",
	KindTokenExpired:       "Authentication required",
	KindInvalidToken:       "Authentication required",
	KindInvalidTokenType:   "Authentication required",
	KindCSRF:               "CSRF validation failed",
	KindRateLimited:        "Too many requests",
	KindRequestTooLarge:    "Request body too large",
	KindPermissionDenied:   "Permission denied",
	KindNotFound:           "Not found",
	KindConflict:           "Conflict",
	KindUnavailable:        "Service unavailable",
	KindInternal:           "Internal server error",
}

// Doc is the wire shape.
type Doc struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Status int    `json:"status"`
}

// Status reports the HTTP status of a kind.
func Status(kind Kind) int {
	if s, ok := statusOf[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds the document for a kind.
func New(kind Kind, detail string) Doc {
	return Doc{
		Type:   "urn:problem:" + string(kind),
		Title:  titleOf[kind],
		Detail: detail,
		Status: Status(kind),
	}
}

// Write renders the document. Extra headers must be set before calling.
func Write(w http.ResponseWriter, kind Kind, detail string) {
	doc := New(kind, detail)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(doc.Status)
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		obs.Error("problem.encode_failed", err, nil)
	}
}
