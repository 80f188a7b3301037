package identity

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"mockdash/internal/core"
)

const (
	ProfileCookie = "mockdash_profile"

	// SessionHeader carries the tab's session token on requests and echoes
	// the token in force on responses. The page keeps it in sessionStorage.
	SessionHeader = "X-Dash-Session"
	// SessionParam carries the session token where headers cannot be set,
	// such as the websocket handshake.
	SessionParam = "session"
)

type contextKey string

const scopeKey contextKey = "scope"

// Middleware resolves the request's profile from its cookie and its session
// from SessionHeader or SessionParam. Missing or invalid identities are
// replaced: the profile with a persistent cookie, the session with a fresh
// token returned in SessionHeader. Session tokens do not expire, so a tab
// keeps its session until the tab is closed.
func Middleware(tokens *TokenService, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			profileID := resolveProfile(w, r, tokens, secure)
			sessionID := resolveSession(w, r, tokens)
			if profileID == "" || sessionID == "" {
				http.Error(w, "Failed to establish session", http.StatusInternalServerError)
				return
			}

			scope := core.Scope{ProfileID: profileID, SessionID: sessionID}
			next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), scope)))
		})
	}
}

func resolveProfile(w http.ResponseWriter, r *http.Request, tokens *TokenService, secure bool) string {
	if c, err := r.Cookie(ProfileCookie); err == nil {
		if id, ok := verify(r, tokens, KindProfile, c.Value); ok {
			return id
		}
	}

	id, token := mint(r, tokens, KindProfile)
	if id == "" {
		return ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:     ProfileCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(tokens.TTL(KindProfile).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func resolveSession(w http.ResponseWriter, r *http.Request, tokens *TokenService) string {
	token := SessionToken(r)
	if token != "" {
		if id, ok := verify(r, tokens, KindSession, token); ok {
			w.Header().Set(SessionHeader, token)
			return id
		}
	}

	id, token := mint(r, tokens, KindSession)
	if id == "" {
		return ""
	}
	w.Header().Set(SessionHeader, token)
	return id
}

// SessionToken returns the raw session token sent with r, if any.
func SessionToken(r *http.Request) string {
	if token := r.Header.Get(SessionHeader); token != "" {
		return token
	}
	return r.URL.Query().Get(SessionParam)
}

func verify(r *http.Request, tokens *TokenService, kind Kind, token string) (string, bool) {
	id, err := tokens.Verify(kind, token)
	if err != nil {
		slog.DebugContext(r.Context(), "Replacing invalid identity token", "kind", kind, "error", err)
		return "", false
	}
	return id, true
}

func mint(r *http.Request, tokens *TokenService, kind Kind) (id, token string) {
	id = uuid.NewString()
	token, err := tokens.Issue(kind, id)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to issue identity token", "kind", kind, "error", err)
		return "", ""
	}
	return id, token
}

// WithScope stores scope in ctx.
func WithScope(ctx context.Context, scope core.Scope) context.Context {
	return context.WithValue(ctx, scopeKey, scope)
}

// ScopeFromContext retrieves the scope set by Middleware.
func ScopeFromContext(ctx context.Context) (core.Scope, bool) {
	scope, ok := ctx.Value(scopeKey).(core.Scope)
	return scope, ok
}
