package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/pjuts-monitor/pjutsauth"
)

// ShareAccessChecker is implemented by *pjutsauth.Engine.
type ShareAccessChecker interface {
	CheckShareAccess(ctx context.Context, code string) (*pjutsauth.ShareCode, error)
}

// ShareCookie describes the access cookie set after a successful
// verify-share-code call.
type ShareCookie struct {
	Name     string
	Path     string
	MaxAge   time.Duration
	Secure   bool
	SameSite http.SameSite
}

// ShareCookieFromConfig builds the cookie settings from engine config.
func ShareCookieFromConfig(cfg pjutsauth.ShareCodeConfig) ShareCookie {
	return ShareCookie{
		Name:     cfg.CookieName,
		Path:     "/",
		MaxAge:   cfg.CookieMaxAge,
		Secure:   cfg.CookieSecure,
		SameSite: cfg.CookieSameSite,
	}
}

// Set writes the cookie carrying the raw code.
func (c ShareCookie) Set(w http.ResponseWriter, code string, now time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    code,
		Path:     c.Path,
		Expires:  now.Add(c.MaxAge),
		MaxAge:   int(c.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

// Clear expires the cookie on the client.
func (c ShareCookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     c.Path,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

type shareCodeContextKey struct{}

// ShareCodeFromContext returns the code admitted by [ShareGate].
func ShareCodeFromContext(ctx context.Context) (*pjutsauth.ShareCode, bool) {
	sc, ok := ctx.Value(shareCodeContextKey{}).(*pjutsauth.ShareCode)
	return sc, ok
}

// ShareGate re-validates the access cookie against the store on every
// request. An invalid or expired code clears the cookie and answers 401; a
// backend failure answers 503 and leaves the cookie alone.
func ShareGate(checker ShareAccessChecker, cookie ShareCookie) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(cookie.Name)
			if err != nil || c.Value == "" {
				writeGateError(w, http.StatusUnauthorized, "SHARE_ACCESS_REQUIRED")
				return
			}

			sc, err := checker.CheckShareAccess(r.Context(), c.Value)
			switch {
			case err == nil:
			case errors.Is(err, pjutsauth.ErrShareCodeExpired),
				errors.Is(err, pjutsauth.ErrShareCodeInvalid),
				errors.Is(err, pjutsauth.ErrValidation):
				cookie.Clear(w)
				writeGateError(w, http.StatusUnauthorized, pjutsauth.CodeOf(err))
				return
			default:
				writeGateError(w, http.StatusServiceUnavailable, pjutsauth.CodeInternal)
				return
			}

			ctx := context.WithValue(r.Context(), shareCodeContextKey{}, sc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeGateError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
