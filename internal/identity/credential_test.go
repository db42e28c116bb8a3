package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCredentialExtractor_Extract(t *testing.T) {
	t.Parallel()

	extractor := CredentialExtractor{Cookie: "token", Header: "Authorization"}

	tests := []struct {
		name   string
		cookie string
		header string
		want   string
	}{
		{name: "none", want: ""},
		{name: "cookie", cookie: "tok-cookie", want: "tok-cookie"},
		{name: "bearer header", header: "Bearer tok-header", want: "tok-header"},
		{name: "lowercase scheme", header: "bearer tok-header", want: "tok-header"},
		{name: "cookie wins over header", cookie: "tok-cookie", header: "Bearer tok-header", want: "tok-cookie"},
		{name: "basic scheme ignored", header: "Basic dXNlcjpwYXNz", want: ""},
		{name: "bare scheme", header: "Bearer ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "token", Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, extractor.Extract(req))
		})
	}
}

func TestCredentialExtractor_HeaderDisabled(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Authorization", "Bearer tok")

	assert.Empty(t, CredentialExtractor{Cookie: "token"}.Extract(req))
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	fp := Fingerprint("tok-A")
	assert.Len(t, fp, 12)
	assert.Equal(t, fp, Fingerprint("tok-A"))
	assert.NotEqual(t, fp, Fingerprint("tok-B"))
	assert.NotContains(t, fp, "tok")
	assert.Empty(t, Fingerprint(""))
}
