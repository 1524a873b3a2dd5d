package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/metrics":                       "/metrics",
		"/v1/requests":                   "/v1/requests",
		"/v1/requests/01HZX":             "/v1/requests/:id",
		"/v1/entries/abc/decision":       "/v1/entries/:id/decision",
		"/v1/entries/abc/override":       "/v1/entries/:id/override",
		"/v1/entries/abc/revoke":         "/v1/entries/:id/revoke",
		"/v1/entries/abc/extra":          "/v1/entries/abc/extra",
		"/v1/users/u-1/role":             "/v1/users/:id/role",
		"/v1/queue?view=history":         "/v1/queue",
		"/v1/requests/01HZX?verbose=yes": "/v1/requests/:id",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
