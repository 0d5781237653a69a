package session

import (
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// User categories carried in the access token's "tipo" claim.
const (
	CategoryPatient = "patient"
	CategoryDoctor  = "doctor"
)

// Claims is the decoded, untrusted view of an access token. It is derived on
// demand from the current token and never stored independently.
type Claims struct {
	UserCategory     string
	ProfileCompleted bool
}

// tokenClaims mirrors the custom fields the triage API embeds in its JWTs.
type tokenClaims struct {
	jwt.RegisteredClaims
	Tipo               string `json:"tipo,omitempty"`
	IsProfileCompleted bool   `json:"is_profile_completed,omitempty"`
}

// DecodeClaims decodes the claims embedded in an access token without
// verifying its signature. The result is a client-side routing hint only;
// it must never gate a privileged server operation.
//
// Malformed tokens return ErrClaimsUndecodable. Callers treat that as
// "claims unknown, assume profile incomplete and category unknown".
func DecodeClaims(accessToken string) (*Claims, error) {
	if accessToken == "" {
		return nil, ErrClaimsUndecodable
	}

	parsed := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, parsed); err != nil {
		return nil, goerrors.Wrap(err, ErrClaimsUndecodable.Category, ErrClaimsUndecodable.Message).
			WithTextCode(ErrClaimsUndecodable.TextCode)
	}

	return &Claims{
		UserCategory:     parsed.Tipo,
		ProfileCompleted: parsed.IsProfileCompleted,
	}, nil
}
