package session

import (
	"net/url"
	"strings"
)

// Route paths for the triage application.
const (
	PathLogin           = "/auth/login"
	PathRegister        = "/auth/register"
	PathProfileType     = "/auth/profile-type"
	PathRecoverPassword = "/auth/recover-password"
	PathVerifyCode      = "/auth/verify-code"

	PathDashboard             = "/dashboard"
	PathHome                  = "/home"
	PathProfile               = "/profile"
	PathProfileComplete       = "/profile/complete"
	PathProfileEdit           = "/profile/edit"
	PathProfileChangePassword = "/profile/change-password"
	PathProfileDeleteAccount  = "/profile/delete-account"
	PathChat                  = "/chat"
	PathMedicalData           = "/medical-data"

	PathDoctorPatients    = "/doctor/patients"
	PathDoctorMedicalData = "/doctor/medical-data"
)

// RouteClass classifies a requested path. Classification is static and
// independent of auth state.
type RouteClass string

const (
	RoutePublic     RouteClass = "public"
	RouteProtected  RouteClass = "protected"
	RouteDoctorOnly RouteClass = "doctor-only"
)

var publicRoutes = []string{
	PathLogin,
	PathRegister,
	PathProfileType,
	PathRecoverPassword,
	PathVerifyCode,
}

var protectedRoutes = []string{
	PathDashboard,
	PathHome,
	PathProfile,
	PathChat,
	PathMedicalData,
}

var doctorRoutes = []string{
	PathDoctorPatients,
	PathDoctorMedicalData,
}

// Classify maps a path onto exactly one RouteClass via prefix matching.
// Unlisted paths are public: the guard only ever restricts known surfaces.
func Classify(path string) RouteClass {
	switch {
	case matchesAny(path, doctorRoutes):
		return RouteDoctorOnly
	case matchesAny(path, protectedRoutes):
		return RouteProtected
	default:
		return RoutePublic
	}
}

func matchesAny(path string, routes []string) bool {
	for _, route := range routes {
		if path == route || strings.HasPrefix(path, route+"/") {
			return true
		}
	}
	return false
}

// Decision is the Route Guard's verdict: allow, or redirect elsewhere.
type Decision struct {
	Redirect string
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool {
	return d.Redirect == ""
}

func allow() Decision {
	return Decision{}
}

func redirect(path string) Decision {
	return Decision{Redirect: path}
}

// Decide classifies the requested path and decides allow/redirect using
// only mirrored AuthFacts. It is pure: no store access, no side effects.
//
// Loop avoidance: the only redirect targets are the login, dashboard,
// profile-type, recovery, and profile-completion surfaces, and a "from"
// parameter naming the login path is treated as absent, so no facts
// combination can produce a redirect cycle.
func Decide(path string, query url.Values, facts AuthFacts) Decision {
	// The register page requires a chosen profile type.
	if path == PathRegister && query.Get("type") == "" {
		return redirect(PathProfileType)
	}

	// Password-recovery flow gates.
	if path == PathRecoverPassword {
		if !facts.RecoveryInitiated && query.Get("fromLogin") != "true" {
			return redirect(PathLogin)
		}
		return allow()
	}
	if path == PathVerifyCode {
		if !facts.RecoveryEmailSent {
			return redirect(PathRecoverPassword)
		}
		return allow()
	}

	if Classify(path) == RoutePublic {
		// An authenticated user never re-enters the login form.
		if facts.Authenticated && path == PathLogin {
			if !facts.ProfileCompleted {
				return redirect(PathProfileComplete)
			}
			return redirect(PathDashboard)
		}
		return allow()
	}

	if !facts.Authenticated {
		return redirect(loginRedirect(path))
	}

	// Profile completion outranks the doctor check once authenticated.
	if !facts.ProfileCompleted && path != PathProfileComplete {
		return redirect(PathProfileComplete)
	}

	if Classify(path) == RouteDoctorOnly && facts.UserCategory != CategoryDoctor {
		return redirect(PathDashboard)
	}

	return allow()
}

// loginRedirect builds the login target carrying the original path for
// post-login return. The login path itself never rides along.
func loginRedirect(from string) string {
	if from == "" || from == PathLogin {
		return PathLogin
	}

	q := url.Values{}
	q.Set("from", from)
	return PathLogin + "?" + q.Encode()
}

// ReturnPath extracts a usable post-login return path from query
// parameters. A value naming the login path is treated as absent; this is
// the guard's primary loop-avoidance invariant.
func ReturnPath(query url.Values) string {
	from := query.Get("from")
	if from == "" || from == PathLogin {
		return ""
	}
	return from
}
