package auth

import (
	"encoding/gob"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	pkghttp "github.com/posternhq/postern/pkg/http"
)

const sessionName = "postern_session"

// Session value keys
const (
	sessionKeyPrincipal = "principal"
	sessionKeyIssuedAt  = "issued_at"
	sessionKeyOIDCToken = "oidc_token"
	sessionKeyState     = "state"
)

// TokenSet holds the federation tokens bound to an authenticated session
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expiry       time.Time
}

func init() {
	gob.Register(TokenSet{})
}

// SessionManager binds an authenticated principal to the browser session.
// Sessions are client-side securecookie payloads; "regeneration" replaces
// the whole payload so nothing survives a login boundary.
type SessionManager struct {
	store *sessions.CookieStore
}

// SessionOptions configures the session cookie
type SessionOptions struct {
	AuthKey       string
	EncryptionKey string
	Secure        bool
	MaxAge        time.Duration
}

// NewSessionManager creates a SessionManager. An empty encryption key
// produces signed-but-unencrypted sessions; an empty auth key generates an
// ephemeral one (sessions then die with the process, acceptable in tests).
func NewSessionManager(opts SessionOptions) *SessionManager {
	authKey := []byte(opts.AuthKey)
	if len(authKey) == 0 {
		authKey = securecookie.GenerateRandomKey(32)
	}

	var store *sessions.CookieStore
	if opts.EncryptionKey != "" {
		store = sessions.NewCookieStore(authKey, []byte(opts.EncryptionKey))
	} else {
		store = sessions.NewCookieStore(authKey)
	}

	maxAge := opts.MaxAge
	if maxAge == 0 {
		maxAge = 12 * time.Hour
	}

	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}

	return &SessionManager{store: store}
}

// LoginUser regenerates the session and binds the principal to it.
// All previously stored session data is discarded.
func (m *SessionManager) LoginUser(w http.ResponseWriter, r *http.Request, email string) error {
	session, _ := m.store.Get(r, sessionName)

	session.Values = map[interface{}]interface{}{
		sessionKeyPrincipal: email,
		sessionKeyIssuedAt:  time.Now().Unix(),
	}

	return session.Save(r, w)
}

// LoginFederatedUser regenerates the session, binds the principal and
// stores the federation token set. The pending state parameter survives the
// regeneration so federated logout can validate it later.
func (m *SessionManager) LoginFederatedUser(w http.ResponseWriter, r *http.Request, email string, tok TokenSet) error {
	session, _ := m.store.Get(r, sessionName)

	state := session.Values[sessionKeyState]

	session.Values = map[interface{}]interface{}{
		sessionKeyPrincipal: email,
		sessionKeyIssuedAt:  time.Now().Unix(),
		sessionKeyOIDCToken: tok,
	}
	if state != nil {
		session.Values[sessionKeyState] = state
	}

	return session.Save(r, w)
}

// LogoutUser destroys all session data and expires the cookie
func (m *SessionManager) LogoutUser(w http.ResponseWriter, r *http.Request) error {
	session, _ := m.store.Get(r, sessionName)

	session.Values = map[interface{}]interface{}{}
	session.Options.MaxAge = -1

	return session.Save(r, w)
}

// Principal returns the authenticated user's email, if any
func (m *SessionManager) Principal(r *http.Request) (string, bool) {
	session, err := m.store.Get(r, sessionName)
	if err != nil {
		return "", false
	}

	email, ok := session.Values[sessionKeyPrincipal].(string)
	if !ok || email == "" {
		return "", false
	}
	return email, true
}

// OIDCToken returns the federation token set held in the session, if any
func (m *SessionManager) OIDCToken(r *http.Request) (TokenSet, bool) {
	session, err := m.store.Get(r, sessionName)
	if err != nil {
		return TokenSet{}, false
	}

	tok, ok := session.Values[sessionKeyOIDCToken].(TokenSet)
	return tok, ok
}

// SetState stores the federation state parameter in the session
func (m *SessionManager) SetState(w http.ResponseWriter, r *http.Request, state string) error {
	session, _ := m.store.Get(r, sessionName)
	session.Values[sessionKeyState] = state
	return session.Save(r, w)
}

// State returns the federation state parameter held in the session, if any
func (m *SessionManager) State(r *http.Request) (string, bool) {
	session, err := m.store.Get(r, sessionName)
	if err != nil {
		return "", false
	}

	state, ok := session.Values[sessionKeyState].(string)
	return state, ok
}

// RequireAuth rejects requests without an authenticated principal.
// Routes behind it may assume upstream access control is enforced.
func (m *SessionManager) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := m.Principal(r); !ok {
			pkghttp.WriteUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
