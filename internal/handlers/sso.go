package handlers

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/csrf"
	"github.com/posternhq/postern/internal/auth"
	"github.com/posternhq/postern/internal/models"
	pkgauth "github.com/posternhq/postern/pkg/auth"
	pkghttp "github.com/posternhq/postern/pkg/http"
	pkglogger "github.com/posternhq/postern/pkg/logger"
)

// wrongCredentialsMessage is the single generic message for every
// credential failure: wrong password, unknown user, and failed federation
// exchange are indistinguishable to the caller.
const wrongCredentialsMessage = "Wrong e-mail or password"

// LimiterService defines the throttling interface consumed by the SSO flows
type LimiterService interface {
	ParseDeviceCookie(raw string) (deviceID, username string)
	DeviceCookie(username string) (string, error)
	ShouldRateLimitIP(ctx context.Context, ip string) bool
	ShouldRateLimitUser(ctx context.Context, username, ip, deviceID, deviceUsername string) bool
	RateLimitIP(ctx context.Context, ip string)
	RateLimitUser(ctx context.Context, username, ip, deviceID, deviceUsername string)
}

// DirectoryService defines the user directory interface
type DirectoryService interface {
	Get(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, email string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*models.User, error)
	Provision(ctx context.Context, email string) (*models.User, error)
}

// FederationClient defines the identity-provider interface
type FederationClient interface {
	Enabled() bool
	AuthURL(state string) string
	ExchangeCode(ctx context.Context, code string) (string, *auth.TokenSet, error)
	LogoutURL(idToken, state string) string
}

// SessionService defines the session-manager interface
type SessionService interface {
	LoginUser(w http.ResponseWriter, r *http.Request, email string) error
	LoginFederatedUser(w http.ResponseWriter, r *http.Request, email string, tok auth.TokenSet) error
	LogoutUser(w http.ResponseWriter, r *http.Request) error
	Principal(r *http.Request) (string, bool)
	OIDCToken(r *http.Request) (auth.TokenSet, bool)
	SetState(w http.ResponseWriter, r *http.Request, state string) error
	State(r *http.Request) (string, bool)
}

// WelcomeMailer sends the notification for proxy-provisioned accounts
type WelcomeMailer interface {
	SendWelcome(ctx context.Context, email string) error
}

// SSOConfig holds the deployment configuration consumed by the SSO flows
type SSOConfig struct {
	WebAdminURL     string
	WebWebmailURL   string
	AdminEnabled    bool
	WebmailEnabled  bool
	SecureCookies   bool
	LoginPath       string
	ProxyAllowList  []*net.IPNet
	ProxyHeader     string
	ProxyAutoCreate bool
}

// SSOHandler orchestrates the login, logout and proxy-trust flows
type SSOHandler struct {
	limiter     LimiterService
	directory   DirectoryService
	federation  FederationClient
	sessions    SessionService
	mailer      WelcomeMailer
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
	config      SSOConfig
	tmpl        *template.Template
}

// NewSSOHandler creates a new SSOHandler
func NewSSOHandler(
	limiter LimiterService,
	directory DirectoryService,
	federation FederationClient,
	sessions SessionService,
	mailer WelcomeMailer,
	auditLogger *pkglogger.AuditLogger,
	logger *slog.Logger,
	config SSOConfig,
) *SSOHandler {
	return &SSOHandler{
		limiter:     limiter,
		directory:   directory,
		federation:  federation,
		sessions:    sessions,
		mailer:      mailer,
		auditLogger: auditLogger,
		logger:      logger,
		config:      config,
		tmpl:        template.Must(template.New("login").Parse(loginTemplate)),
	}
}

// destination is one target application a user can sign in to
type destination struct {
	Key   string
	Label string
	URL   string
}

// enabledDestinations derives the selectable destinations from deployment
// configuration at request time; a disabled application is simply absent.
func (h *SSOHandler) enabledDestinations() []destination {
	var dests []destination
	if h.config.WebmailEnabled {
		dests = append(dests, destination{Key: "webmail", Label: "Sign in to Webmail", URL: h.config.WebWebmailURL})
	}
	if h.config.AdminEnabled {
		dests = append(dests, destination{Key: "admin", Label: "Sign in to Admin", URL: h.config.WebAdminURL})
	}
	return dests
}

// resolveDestination maps a submit control to an enabled destination.
// Submissions naming a disabled application are rejected.
func (h *SSOHandler) resolveDestination(key string) (destination, bool) {
	for _, dest := range h.enabledDestinations() {
		if dest.Key == key {
			return dest, true
		}
	}
	return destination{}, false
}

// LoginForm is the credentials form payload
type LoginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
	Submit   string `validate:"required"`
}

// Login handles GET and POST on the login endpoint, covering the federated
// code-exchange return leg, the credentials form, and the initial render.
func (h *SSOHandler) Login(w http.ResponseWriter, r *http.Request) {
	deviceID, deviceUsername := h.limiter.ParseDeviceCookie(auth.ReadDeviceCookie(r))
	clientIP := pkghttp.ClientIP(r)

	if code := r.URL.Query().Get("code"); code != "" {
		h.federatedLogin(w, r, code, clientIP, deviceID, deviceUsername)
		return
	}

	if r.Method == http.MethodPost {
		h.passwordLogin(w, r, clientIP, deviceID, deviceUsername)
		return
	}

	h.renderLoginForm(w, r, "")
}

// federatedLogin completes the authorization-code exchange leg
func (h *SSOHandler) federatedLogin(w http.ResponseWriter, r *http.Request, code, clientIP, deviceID, deviceUsername string) {
	ctx := r.Context()

	// The state echoed by the provider must equal the value stored when the
	// form was rendered. The oauth2 exchange does not check it; without this
	// comparison a forged return leg could establish a session (login CSRF).
	state := r.URL.Query().Get("state")
	stored, ok := h.sessions.State(r)
	if !ok || state == "" || state != stored {
		h.recordFailedAttempt(ctx, "", clientIP, deviceID, deviceUsername)
		h.logger.Warn("federated login rejected",
			slog.String("ip_address", clientIP),
			slog.String("reason", "state_mismatch"))
		h.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			IPAddress:     clientIP,
			FailureReason: "state_mismatch",
		})
		h.renderLoginForm(w, r, wrongCredentialsMessage)
		return
	}

	username, tok, err := h.federation.ExchangeCode(ctx, code)
	if err != nil {
		h.recordFailedAttempt(ctx, username, clientIP, deviceID, deviceUsername)
		h.logger.Warn("federated login failed",
			slog.String("ip_address", clientIP),
			slog.Any("error", err))
		h.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			Username:      username,
			IPAddress:     clientIP,
			FailureReason: "federation_exchange_failed",
		})
		h.renderLoginForm(w, r, wrongCredentialsMessage)
		return
	}

	user, err := h.directory.Get(ctx, username)
	if errors.Is(err, models.ErrNotFound) {
		// First federated login: provision the account just in time, with
		// no usable local password.
		user, err = h.directory.Create(ctx, username)
	}
	if err != nil {
		h.logger.Error("directory failure during federated login",
			slog.String("username", pkglogger.SanitizedEmail(username)),
			slog.Any("error", err))
		h.renderLoginForm(w, r, wrongCredentialsMessage)
		return
	}

	if err := h.sessions.LoginFederatedUser(w, r, user.Email, *tok); err != nil {
		h.logger.Error("failed to establish session", slog.Any("error", err))
		http.Error(w, "failed to establish session", http.StatusInternalServerError)
		return
	}

	h.setDeviceCookie(w, user.Email)

	h.logger.Info("login succeeded",
		slog.String("username", pkglogger.SanitizedEmail(user.Email)),
		slog.String("ip_address", clientIP),
		slog.String("method", "federation"))
	h.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		Username:  user.Email,
		IPAddress: clientIP,
		DeviceID:  deviceID,
		Success:   true,
	})

	http.Redirect(w, r, h.config.WebAdminURL, http.StatusSeeOther)
}

// passwordLogin handles the credentials form submission
func (h *SSOHandler) passwordLogin(w http.ResponseWriter, r *http.Request, clientIP, deviceID, deviceUsername string) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		h.renderLoginForm(w, r, "Invalid form submission")
		return
	}

	form := LoginForm{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("pw"),
		Submit:   r.PostFormValue("submit"),
	}
	if err := ValidateRequest(form); err != nil {
		h.renderLoginForm(w, r, err.Error())
		return
	}

	dest, ok := h.resolveDestination(form.Submit)
	if !ok {
		h.renderLoginForm(w, r, "Unknown destination")
		return
	}

	username := form.Email

	// The rate-limit checks run before any credential verification and
	// record no attempt themselves. The IP check is skipped when the device
	// cookie is bound to the submitted username.
	if username != deviceUsername && h.limiter.ShouldRateLimitIP(ctx, clientIP) {
		h.renderLoginForm(w, r, "Too many attempts from your IP (rate-limit)")
		return
	}
	if h.limiter.ShouldRateLimitUser(ctx, username, clientIP, deviceID, deviceUsername) {
		h.renderLoginForm(w, r, "Too many attempts for this user (rate-limit)")
		return
	}

	user, err := h.directory.Login(ctx, username, form.Password)
	if err != nil {
		failureReason := "invalid_credentials"
		if errors.Is(err, models.ErrInternalServer) {
			// Store outage: same generic message, but the failure is the
			// infrastructure's, not the caller's, so it never counts
			// toward lockout.
			failureReason = "directory_unavailable"
			h.logger.Error("directory unavailable during login",
				slog.String("ip_address", clientIP))
		} else {
			h.recordFailedAttempt(ctx, username, clientIP, deviceID, deviceUsername)
		}
		h.logger.Warn("login failed",
			slog.String("username", pkglogger.SanitizedEmail(username)),
			slog.String("ip_address", clientIP))
		h.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			Username:      username,
			IPAddress:     clientIP,
			DeviceID:      deviceID,
			FailureReason: failureReason,
		})
		h.renderLoginForm(w, r, wrongCredentialsMessage)
		return
	}

	if err := h.sessions.LoginUser(w, r, user.Email); err != nil {
		// No device cookie and no redirect when session establishment fails
		h.logger.Error("failed to establish session", slog.Any("error", err))
		http.Error(w, "failed to establish session", http.StatusInternalServerError)
		return
	}

	h.setDeviceCookie(w, user.Email)

	pwned := pkgauth.IsCompromised(form.Password)
	h.logger.Info("login succeeded",
		slog.String("username", pkglogger.SanitizedEmail(user.Email)),
		slog.String("ip_address", clientIP),
		slog.Bool("pwned", pwned))
	h.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		Username:  user.Email,
		IPAddress: clientIP,
		DeviceID:  deviceID,
		Success:   true,
	})

	if pwned {
		// Advisory only: the user is warned, the login still succeeds
		setFlashCookie(w, "Your password appears in known breach data. Please change it.")
	}

	http.Redirect(w, r, dest.URL, http.StatusSeeOther)
}

// Logout terminates the session. Reachable only behind RequireAuth.
func (h *SSOHandler) Logout(w http.ResponseWriter, r *http.Request) {
	principal, _ := h.sessions.Principal(r)

	if h.federation.Enabled() {
		tok, ok := h.sessions.OIDCToken(r)
		if !ok {
			// Session was established locally; nothing to tell the provider
			h.localLogout(w, r, principal)
			return
		}

		// Return leg: the provider echoes the state it was sent. Only a
		// value matching the session-stored one completes the logout
		// locally; anything else leaves the session intact.
		if state := r.URL.Query().Get("state"); state != "" {
			if stored, ok := h.sessions.State(r); ok && stored == state {
				h.localLogout(w, r, principal)
				return
			}
		}

		// First leg: send the provider a state it can echo back to us
		state, ok := h.sessions.State(r)
		if !ok || state == "" {
			state = uuid.New().String()
			if err := h.sessions.SetState(w, r, state); err != nil {
				h.logger.Error("failed to store logout state", slog.Any("error", err))
				h.localLogout(w, r, principal)
				return
			}
		}

		http.Redirect(w, r, h.federation.LogoutURL(tok.IDToken, state), http.StatusSeeOther)
		return
	}

	h.localLogout(w, r, principal)
}

// localLogout destroys the session and returns to the login page
func (h *SSOHandler) localLogout(w http.ResponseWriter, r *http.Request, principal string) {
	h.destroySession(w, r, principal)
	http.Redirect(w, r, h.config.LoginPath, http.StatusSeeOther)
}

func (h *SSOHandler) destroySession(w http.ResponseWriter, r *http.Request, principal string) {
	if err := h.sessions.LogoutUser(w, r); err != nil {
		h.logger.Error("failed to destroy session", slog.Any("error", err))
	}
	h.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "logout",
		Username:  principal,
		IPAddress: pkghttp.ClientIP(r),
		Success:   true,
	})
}

// Proxy implements the proxy-trust flow: a reverse proxy inside the
// allow-list asserts identity via header, bypassing password checks. The
// allow-list is the sole defense on this path; it is checked against the
// direct peer address, never a forwardable header.
func (h *SSOHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	target := chi.URLParam(r, "target")
	if target == "" {
		target = "webmail"
	}

	remoteIP := pkghttp.RemoteIP(r)
	if !pkghttp.IPAllowed(remoteIP, h.config.ProxyAllowList) {
		pkghttp.WriteInternalError(w, fmt.Sprintf("%s is not on the proxy auth allow-list", remoteIP))
		return
	}

	email := r.Header.Get(h.config.ProxyHeader)
	if email == "" {
		pkghttp.WriteInternalError(w, fmt.Sprintf("missing %s header", h.config.ProxyHeader))
		return
	}

	clientIP := pkghttp.ClientIP(r)

	user, err := h.directory.Get(ctx, email)
	if err == nil {
		h.proxyEstablishSession(w, r, user.Email, clientIP, target)
		return
	}
	if !errors.Is(err, models.ErrNotFound) {
		h.logger.Error("directory failure during proxy auth", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "directory unavailable")
		return
	}

	if !h.config.ProxyAutoCreate {
		pkghttp.WriteInternalError(w, "unknown user")
		return
	}

	user, err = h.directory.Provision(ctx, email)
	if err != nil {
		h.logger.Error("proxy auto-provisioning failed",
			slog.String("username", pkglogger.SanitizedEmail(email)),
			slog.String("ip_address", clientIP),
			slog.Any("error", err))
		switch {
		case errors.Is(err, models.ErrMalformedAddress):
			pkghttp.WriteInternalError(w, "unknown user")
		case errors.Is(err, models.ErrUnknownDomain):
			pkghttp.WriteInternalError(w, "unknown domain")
		case errors.Is(err, models.ErrDomainFull):
			pkghttp.WriteInternalError(w, "domain user quota exceeded")
		default:
			pkghttp.WriteInternalError(w, "provisioning failed")
		}
		return
	}

	// Welcome notification is best-effort; provisioning already committed
	if err := h.mailer.SendWelcome(ctx, user.Email); err != nil {
		h.logger.Warn("failed to send welcome email", slog.Any("error", err))
	}

	h.auditLogger.LogProvision(user.Email, clientIP, remoteIP)

	h.proxyEstablishSession(w, r, user.Email, clientIP, target)
}

func (h *SSOHandler) proxyEstablishSession(w http.ResponseWriter, r *http.Request, email, clientIP, target string) {
	if err := h.sessions.LoginUser(w, r, email); err != nil {
		h.logger.Error("failed to establish session", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to establish session")
		return
	}

	h.logger.Info("login succeeded",
		slog.String("username", pkglogger.SanitizedEmail(email)),
		slog.String("ip_address", clientIP),
		slog.String("method", "proxy"))
	h.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		Username:  email,
		IPAddress: clientIP,
		Success:   true,
	})

	if target == "admin" {
		http.Redirect(w, r, h.config.WebAdminURL, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, h.config.WebWebmailURL, http.StatusSeeOther)
}

// recordFailedAttempt records a failure against the user bucket when the
// username resolves to an existing account, else against the IP bucket.
// The lookup and the branch are explicit steps, not an inline expression.
func (h *SSOHandler) recordFailedAttempt(ctx context.Context, username, ip, deviceID, deviceUsername string) {
	if username != "" {
		_, err := h.directory.Get(ctx, username)
		if err == nil {
			h.limiter.RateLimitUser(ctx, username, ip, deviceID, deviceUsername)
			return
		}
	}
	h.limiter.RateLimitIP(ctx, ip)
}

// setDeviceCookie issues the device-correlation cookie bound to the
// authenticated username. Only called after the session is established.
func (h *SSOHandler) setDeviceCookie(w http.ResponseWriter, username string) {
	token, err := h.limiter.DeviceCookie(username)
	if err != nil {
		h.logger.Error("failed to issue device cookie", slog.Any("error", err))
		return
	}
	auth.SetDeviceCookie(w, token, h.config.LoginPath, h.config.SecureCookies)
}

// renderLoginForm renders the credentials form, optionally with an error
func (h *SSOHandler) renderLoginForm(w http.ResponseWriter, r *http.Request, errMsg string) {
	data := struct {
		Destinations []destination
		Error        string
		OpenID       bool
		OpenIDURL    string
		CSRFField    template.HTML
	}{
		Destinations: h.enabledDestinations(),
		Error:        errMsg,
		CSRFField:    csrf.TemplateField(r),
	}

	if h.federation.Enabled() {
		state := uuid.New().String()
		if err := h.sessions.SetState(w, r, state); err != nil {
			h.logger.Error("failed to store federation state", slog.Any("error", err))
		} else {
			data.OpenID = true
			data.OpenIDURL = h.federation.AuthURL(state)
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.Execute(w, data); err != nil {
		h.logger.Error("failed to render login form", slog.Any("error", err))
	}
}

// setFlashCookie stores a one-time advisory the destination app may surface
func setFlashCookie(w http.ResponseWriter, msg string) {
	http.SetCookie(w, &http.Cookie{
		Name:   "postern_flash",
		Value:  msg,
		Path:   "/",
		MaxAge: 60,
	})
}

const loginTemplate = `<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<form method="POST">
  {{.CSRFField}}
  <label>E-mail <input type="email" name="email" required></label>
  <label>Password <input type="password" name="pw" required></label>
  {{range .Destinations}}
  <button type="submit" name="submit" value="{{.Key}}">{{.Label}}</button>
  {{end}}
</form>
{{if .OpenID}}<p><a href="{{.OpenIDURL}}">Sign in with your identity provider</a></p>{{end}}
</body>
</html>
`
