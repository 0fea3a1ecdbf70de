package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/pjuts-monitor/pjutsauth"
)

// ErrUnknownToken is returned by resolvers for tokens they do not recognise.
var ErrUnknownToken = errors.New("unknown bearer token")

const codeUnauthorized = "UNAUTHORIZED"

// PrincipalResolver maps a bearer token to the authenticated caller. The
// session layer that owns login tokens implements it.
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, token string) (pjutsauth.Principal, error)
}

// ResolverFunc adapts a function to [PrincipalResolver].
type ResolverFunc func(ctx context.Context, token string) (pjutsauth.Principal, error)

func (f ResolverFunc) ResolvePrincipal(ctx context.Context, token string) (pjutsauth.Principal, error) {
	return f(ctx, token)
}

// StaticTokenResolver serves a fixed token table, used for operator tokens
// configured at startup. Tokens are kept as SHA-256 digests and compared in
// constant time.
type StaticTokenResolver struct {
	entries []staticEntry
}

type staticEntry struct {
	digest    [32]byte
	principal pjutsauth.Principal
}

func NewStaticTokenResolver(tokens map[string]pjutsauth.Principal) *StaticTokenResolver {
	r := &StaticTokenResolver{entries: make([]staticEntry, 0, len(tokens))}
	for token, p := range tokens {
		if token == "" {
			continue
		}
		r.entries = append(r.entries, staticEntry{digest: sha256.Sum256([]byte(token)), principal: p})
	}
	return r
}

func (r *StaticTokenResolver) ResolvePrincipal(_ context.Context, token string) (pjutsauth.Principal, error) {
	digest := sha256.Sum256([]byte(token))
	var (
		found pjutsauth.Principal
		match int
	)
	// Visit every entry so timing does not depend on the match position.
	for _, e := range r.entries {
		if subtle.ConstantTimeCompare(digest[:], e.digest[:]) == 1 {
			found = e.principal
			match = 1
		}
	}
	if match == 0 {
		return pjutsauth.Principal{}, ErrUnknownToken
	}
	return found, nil
}

type principalContextKey struct{}

// PrincipalFromContext returns the principal stored by [Guard].
func PrincipalFromContext(ctx context.Context) (pjutsauth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(pjutsauth.Principal)
	return p, ok
}

// WithPrincipal stores p on ctx. Guard uses it; tests may too.
func WithPrincipal(ctx context.Context, p pjutsauth.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// Guard rejects requests without a resolvable bearer token with 401.
func Guard(resolver PrincipalResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver == nil {
				writeGateError(w, http.StatusUnauthorized, codeUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeGateError(w, http.StatusUnauthorized, codeUnauthorized)
				return
			}

			p, err := resolver.ResolvePrincipal(r.Context(), token)
			if err != nil || p.ID == "" {
				writeGateError(w, http.StatusUnauthorized, codeUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireAdmin must run after [Guard]. Non-admin principals get 403.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			writeGateError(w, http.StatusUnauthorized, codeUnauthorized)
			return
		}
		if !p.IsAdmin() {
			writeGateError(w, http.StatusForbidden, pjutsauth.CodeForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(value string) (string, bool) {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}

	return token, true
}
