package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                             "/",
		"/metrics":                     "/metrics",
		"/v1/users/abc/role":           "/v1/users/:id/role",
		"/v1/users/abc/role/extra":     "/v1/users/abc/role/extra",
		"/v1/audit/events":             "/v1/audit/events",
		"/v1/audit/events?limit=10":    "/v1/audit/events",
		"/v1/audit/export?severity=HI": "/v1/audit/export",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
