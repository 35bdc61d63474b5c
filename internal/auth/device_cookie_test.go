package auth_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/posternhq/postern/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceCookieRoundTrip(t *testing.T) {
	manager := auth.NewDeviceCookieManager("test-secret-key")

	token, err := manager.Issue("user@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	deviceID, username := manager.Parse(token)
	assert.NotEmpty(t, deviceID)
	assert.Equal(t, "user@example.com", username)
}

func TestDeviceCookieUniqueDeviceIDs(t *testing.T) {
	manager := auth.NewDeviceCookieManager("test-secret-key")

	first, err := manager.Issue("user@example.com")
	require.NoError(t, err)
	second, err := manager.Issue("user@example.com")
	require.NoError(t, err)

	firstID, _ := manager.Parse(first)
	secondID, _ := manager.Parse(second)
	assert.NotEqual(t, firstID, secondID)
}

func TestDeviceCookieParseFailsSoft(t *testing.T) {
	manager := auth.NewDeviceCookieManager("test-secret-key")

	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"structurally valid but unsigned", "eyJhbGciOiJub25lIn0.eyJzdWIiOiJ4In0."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			deviceID, username := manager.Parse(tc.raw)
			assert.Empty(t, deviceID)
			assert.Empty(t, username)
		})
	}
}

func TestDeviceCookieRejectsForgedSignature(t *testing.T) {
	manager := auth.NewDeviceCookieManager("test-secret-key")
	attacker := auth.NewDeviceCookieManager("different-secret")

	forged, err := attacker.Issue("victim@example.com")
	require.NoError(t, err)

	deviceID, username := manager.Parse(forged)
	assert.Empty(t, deviceID)
	assert.Empty(t, username)
}

func TestDeviceCookieRejectsTampering(t *testing.T) {
	manager := auth.NewDeviceCookieManager("test-secret-key")

	token, err := manager.Issue("user@example.com")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	deviceID, username := manager.Parse(tampered)
	assert.Empty(t, deviceID)
	assert.Empty(t, username)
}

func TestSetDeviceCookieAttributes(t *testing.T) {
	rec := httptest.NewRecorder()

	auth.SetDeviceCookie(rec, "token-value", "/sso/login", true)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	cookie := cookies[0]

	assert.Equal(t, auth.DeviceCookieName, cookie.Name)
	assert.Equal(t, "token-value", cookie.Value)
	assert.Equal(t, "/sso/login", cookie.Path)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Greater(t, cookie.MaxAge, 0)
}

func TestReadDeviceCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/sso/login", nil)
	assert.Empty(t, auth.ReadDeviceCookie(req))

	req.AddCookie(&http.Cookie{Name: auth.DeviceCookieName, Value: "stored-token"})
	assert.Equal(t, "stored-token", auth.ReadDeviceCookie(req))
}
