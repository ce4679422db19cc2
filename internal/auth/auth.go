// Package auth authenticates diary owners with HTTP Basic Auth against
// Argon2id password hashes from the configuration.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"pictocal/internal/config"
	appLog "pictocal/internal/log"
)

// LocalUser owns the diary when no users are configured.
const LocalUser = "local"

type ctxKey struct{}

// WithUser returns a context carrying the authenticated username.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// CurrentUser returns the username stored by Middleware.
func CurrentUser(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(ctxKey{}).(string)
	return u, ok && u != ""
}

// Authenticator checks Basic Auth credentials against configured users.
type Authenticator struct {
	realm string
	users map[string]string // username -> encoded hash
}

// New builds an Authenticator. Users with an empty name or hash are skipped.
func New(cfg config.AuthConfig) *Authenticator {
	a := &Authenticator{
		realm: cfg.Realm,
		users: make(map[string]string, len(cfg.Users)),
	}
	if a.realm == "" {
		a.realm = "Pictocal"
	}
	for _, u := range cfg.Users {
		name := strings.TrimSpace(u.Username)
		if name == "" || u.PasswordHash == "" {
			appLog.Warn("auth: skipping incomplete user entry", "username", name)
			continue
		}
		a.users[name] = u.PasswordHash
	}
	return a
}

// Open reports whether no users are configured. Requests then run as
// LocalUser without credentials.
func (a *Authenticator) Open() bool {
	return len(a.users) == 0
}

// Owners lists configured usernames, or LocalUser in open mode.
func (a *Authenticator) Owners() []string {
	if a.Open() {
		return []string{LocalUser}
	}
	out := make([]string, 0, len(a.users))
	for u := range a.users {
		out = append(out, u)
	}
	return out
}

// Check verifies one username/password pair.
func (a *Authenticator) Check(user, pass string) bool {
	var (
		hash  string
		known bool
	)
	// Walk every entry so the lookup time does not depend on which user matched.
	for name, h := range a.users {
		if subtle.ConstantTimeCompare([]byte(name), []byte(user)) == 1 {
			hash, known = h, true
		}
	}
	if !known {
		return false
	}
	ok, err := VerifyPassword(pass, hash)
	if err != nil {
		appLog.Error("auth: stored hash unusable", err, "username", user)
		return false
	}
	return ok
}

// Credentials returns the Basic Auth pair of the request, if it is valid.
func (a *Authenticator) Credentials(r *http.Request) (user, pass string, ok bool) {
	user, pass, ok = r.BasicAuth()
	if !ok || !a.Check(user, pass) {
		return "", "", false
	}
	return user, pass, true
}

// Middleware wraps all handlers except /health with HTTP Basic Auth and puts
// the username into the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	if a.Open() {
		appLog.Warn("auth: no users configured, serving without authentication", "user", LocalUser)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if a.Open() {
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), LocalUser)))
			return
		}

		user, _, ok := a.Credentials(r)
		if !ok {
			attempted, _, _ := r.BasicAuth()
			if attempted != "" {
				appLog.Warn("auth: failed attempt", "remote", r.RemoteAddr, "user", attempted)
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="`+a.realm+`", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}
