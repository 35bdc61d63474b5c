package auth

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogoutURLCarriesStateAndHint(t *testing.T) {
	client := &OIDCClient{
		enabled:               true,
		endSessionEndpoint:    "https://idp.example/logout",
		postLogoutRedirectURL: "https://mail.example/sso/logout",
	}

	raw := client.LogoutURL("the-id-token", "the-state")

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "the-id-token", q.Get("id_token_hint"))
	assert.Equal(t, "https://mail.example/sso/logout", q.Get("post_logout_redirect_uri"))
	// The provider echoes state back on the post-logout redirect; without it
	// the return leg could never match the session
	assert.Equal(t, "the-state", q.Get("state"))
}

func TestLogoutURLOmitsEmptyParameters(t *testing.T) {
	client := &OIDCClient{
		enabled:            true,
		endSessionEndpoint: "https://idp.example/logout",
	}

	raw := client.LogoutURL("", "")

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Empty(t, u.RawQuery)
}

func TestLogoutURLFallsBackWithoutEndSessionEndpoint(t *testing.T) {
	client := &OIDCClient{
		enabled:               true,
		postLogoutRedirectURL: "https://mail.example/sso/logout",
	}

	assert.Equal(t, "https://mail.example/sso/logout", client.LogoutURL("idt", "st"))
}

func TestLogoutURLDisabledClient(t *testing.T) {
	client := &OIDCClient{enabled: false}

	assert.Empty(t, client.LogoutURL("idt", "st"))
}
