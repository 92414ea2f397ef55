package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                      "/",
		"/metrics":                              "/metrics",
		"/api/auth/login":                       "/api/auth/login",
		"/api/orgs/01J2XYZ":                     "/api/orgs/:id",
		"/api/orgs/01J2XYZ/authz/check":         "/api/orgs/:id/authz/check",
		"/api/auth/login?next=1":                "/api/auth/login",
		"/api/admin/suspicious-ips/203.0.113.9": "/api/admin/suspicious-ips/:id",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
