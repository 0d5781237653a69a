package session

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeCredentialMissing = "CREDENTIAL_MISSING"
	textCodeCredentialExpired = "CREDENTIAL_EXPIRED"
	textCodeRefreshFailed     = "REFRESH_FAILED"
	textCodeNetworkFailure    = "NETWORK_FAILURE"
	textCodeClaimsUndecodable = "CLAIMS_UNDECODABLE"
	textCodeExchangeInFlight  = "EXCHANGE_IN_FLIGHT"
)

// ErrCredentialMissing is returned when a request requires a token and none
// is held. Consumers redirect; they do not crash.
var ErrCredentialMissing = goerrors.New("no credential available", goerrors.CategoryAuth).
	WithTextCode(textCodeCredentialMissing).
	WithCode(goerrors.CodeUnauthorized)

// ErrCredentialExpired marks an authorization failure after the single
// silent retry was already consumed.
var ErrCredentialExpired = goerrors.New("credential expired", goerrors.CategoryAuth).
	WithTextCode(textCodeCredentialExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrRefreshFailed is unrecoverable: the refresh token itself was rejected
// or absent. The store is already cleared when this surfaces.
var ErrRefreshFailed = goerrors.New("token refresh failed", goerrors.CategoryAuth).
	WithTextCode(textCodeRefreshFailed).
	WithCode(goerrors.CodeUnauthorized)

// ErrNetworkFailure marks a transient transport problem. The credential is
// untouched and the operation may be retried.
var ErrNetworkFailure = goerrors.New("network failure", goerrors.CategoryInternal).
	WithTextCode(textCodeNetworkFailure).
	WithCode(goerrors.CodeInternal)

// ErrClaimsUndecodable is returned for malformed bearer tokens. Callers
// treat it as "claims unknown", never as authenticated-with-defaults.
var ErrClaimsUndecodable = goerrors.New("unable to decode token claims", goerrors.CategoryValidation).
	WithTextCode(textCodeClaimsUndecodable).
	WithCode(goerrors.CodeBadRequest)

// ErrExchangeInFlight reports a login/federated-login call that was ignored
// because another credential exchange is already running.
var ErrExchangeInFlight = goerrors.New("credential exchange already in flight", goerrors.CategoryConflict).
	WithTextCode(textCodeExchangeInFlight).
	WithCode(goerrors.CodeConflict)

// IsRefreshFailed checks for the unrecoverable refresh error.
func IsRefreshFailed(err error) bool {
	return hasTextCode(err, textCodeRefreshFailed)
}

// IsCredentialMissing checks for the missing-credential error.
func IsCredentialMissing(err error) bool {
	return hasTextCode(err, textCodeCredentialMissing)
}

// IsNetworkFailure checks for transient transport errors.
func IsNetworkFailure(err error) bool {
	return hasTextCode(err, textCodeNetworkFailure)
}

// IsClaimsUndecodable checks for malformed-token decode errors.
func IsClaimsUndecodable(err error) bool {
	return hasTextCode(err, textCodeClaimsUndecodable)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}
