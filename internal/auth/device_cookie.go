package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DeviceCookieName is the cookie correlating a browser with a previously
// successful username, used to relax per-user throttling for trusted devices.
const DeviceCookieName = "rate_limit"

// DeviceCookieMaxAge is one year, matching the cookie's Max-Age attribute
const DeviceCookieMaxAge = 365 * 24 * time.Hour

// deviceClaims binds a device ID to the last successfully authenticated username
type deviceClaims struct {
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

// DeviceCookieManager issues and parses signed device-correlation tokens
type DeviceCookieManager struct {
	secret []byte
	maxAge time.Duration
}

// NewDeviceCookieManager creates a DeviceCookieManager signing with the given secret
func NewDeviceCookieManager(secret string) *DeviceCookieManager {
	return &DeviceCookieManager{
		secret: []byte(secret),
		maxAge: DeviceCookieMaxAge,
	}
}

// Issue produces a signed token binding a fresh device ID to the username
func (m *DeviceCookieManager) Issue(username string) (string, error) {
	now := time.Now()
	claims := &deviceClaims{
		DeviceID: uuid.New().String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.maxAge)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign device cookie: %w", err)
	}
	return signed, nil
}

// Parse decodes a device token into (deviceID, username). It fails soft:
// an absent, malformed, expired or forged token yields ("", "").
func (m *DeviceCookieManager) Parse(raw string) (deviceID, username string) {
	if raw == "" {
		return "", ""
	}

	claims := &deviceClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ""
	}

	return claims.DeviceID, claims.Subject
}

// SetDeviceCookie stores the token client-side, path-scoped to the login endpoint
func SetDeviceCookie(w http.ResponseWriter, token, path string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     DeviceCookieName,
		Value:    token,
		Path:     path,
		MaxAge:   int(DeviceCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(DeviceCookieMaxAge),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ReadDeviceCookie returns the raw device token from the request, or "" when absent
func ReadDeviceCookie(r *http.Request) string {
	cookie, err := r.Cookie(DeviceCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
