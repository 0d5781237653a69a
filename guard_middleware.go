package session

import (
	"net/http"
	"net/url"
	"time"

	"github.com/goliatone/go-router"
)

// FactsFromCookies reads mirrored AuthFacts off the request's cookie
// records. The guard never touches the Credential Store.
func FactsFromCookies(c router.Context) AuthFacts {
	return AuthFacts{
		Authenticated:     c.Cookies(FactAuthenticated) == "true",
		UserCategory:      c.Cookies(FactUserType),
		ProfileCompleted:  c.Cookies(FactProfileCompleted) == "true",
		RecoveryInitiated: c.Cookies(FactRecoveryInitiated) == "true",
		RecoveryEmailSent: c.Cookies(FactRecoveryEmailSent) == "true",
	}
}

// WriteFactCookies mirrors AuthFacts into response cookies so the edge
// guard can decide on the next request.
func WriteFactCookies(c router.Context, facts AuthFacts, maxAge time.Duration) {
	expires := time.Now().Add(maxAge)

	set := func(name, value string) {
		c.Cookie(&router.Cookie{
			Name:     name,
			Value:    value,
			Expires:  expires,
			SameSite: "Lax",
		})
	}

	if facts.Authenticated {
		set(FactAuthenticated, "true")
		if facts.UserCategory != "" {
			set(FactUserType, facts.UserCategory)
		}
		if facts.ProfileCompleted {
			set(FactProfileCompleted, "true")
		} else {
			set(FactProfileCompleted, "false")
		}
		return
	}

	set(FactAuthenticated, "false")
	clearFactCookie(c, FactUserType)
	clearFactCookie(c, FactProfileCompleted)
}

func clearFactCookie(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		SameSite: "Lax",
	})
}

// GuardMiddleware applies Decide at the network edge, reading facts from
// the mirrored cookies and redirecting when the guard says so.
func GuardMiddleware(logger Logger) router.MiddlewareFunc {
	if logger == nil {
		logger = defLogger{}
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			target, err := url.Parse(c.OriginalURL())
			if err != nil {
				logger.Warn("guard could not parse request URL: %s", c.OriginalURL())
				return next(c)
			}

			decision := Decide(target.Path, target.Query(), FactsFromCookies(c))
			if decision.Allowed() {
				return next(c)
			}

			logger.Debug("guard redirect from %s to %s", target.Path, decision.Redirect)

			status := http.StatusSeeOther
			if c.Method() == string(router.GET) {
				status = http.StatusFound
			}
			return c.Redirect(decision.Redirect, status)
		}
	}
}
