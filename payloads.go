package session

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
)

var (
	reUpper   = regexp.MustCompile(`[A-Z]`)
	reLower   = regexp.MustCompile(`[a-z]`)
	reDigit   = regexp.MustCompile(`[0-9]`)
	reSpecial = regexp.MustCompile(`[@$!%*?&.]`)
)

// LoginRequest is the identifier/password exchange payload.
type LoginRequest struct {
	Identifier string `json:"email"`
	Password   string `json:"password"`
}

// GetIdentifier returns the identifier
func (r LoginRequest) GetIdentifier() string {
	return r.Identifier
}

// GetPassword will return the password
func (r LoginRequest) GetPassword() string {
	return r.Password
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Identifier,
			validation.Required,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

// FederatedLoginRequest exchanges an external identity token for a
// Credential. Category defaults upstream when absent.
type FederatedLoginRequest struct {
	Token    string `json:"token"`
	Category string `json:"tipo"`
}

// Validate will run validation rules
func (r FederatedLoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Token,
			validation.Required,
		),
		validation.Field(
			&r.Category,
			validation.In(CategoryPatient, CategoryDoctor),
		),
	)
}

// RegisterData is the registration payload. Registration never creates a
// session; success routes the user back to login.
type RegisterData struct {
	Email           string `json:"email"`
	Username        string `json:"username"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Category        string `json:"tipo"`
	Phone           string `json:"telefono,omitempty"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Validate will validate the payload
func (r RegisterData) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Username, validation.Required, validation.Length(3, 100)),
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Category, validation.Required, validation.In(CategoryPatient, CategoryDoctor)),
		validation.Field(&r.Phone, validation.By(validPhoneNumber)),
		validation.Field(
			&r.Password,
			validation.Required,
			validation.Length(8, 100),
			validation.Match(reUpper).Error("must contain an uppercase letter"),
			validation.Match(reLower).Error("must contain a lowercase letter"),
			validation.Match(reDigit).Error("must contain a digit"),
			validation.Match(reSpecial).Error("must contain a special character (@$!%*?&.)"),
		),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(stringEquals(r.Password, "passwords do not match")),
		),
	)
}

// validPhoneNumber accepts empty values; phone is optional at registration
// and completed later with the profile.
func validPhoneNumber(value any) error {
	raw, _ := value.(string)
	if raw == "" {
		return nil
	}

	num, err := phonenumbers.Parse(raw, "ES")
	if err != nil {
		return goerrors.New("invalid phone number", goerrors.CategoryValidation)
	}
	if !phonenumbers.IsValidNumber(num) {
		return goerrors.New("invalid phone number", goerrors.CategoryValidation)
	}
	return nil
}

func stringEquals(expected, message string) validation.RuleFunc {
	return func(value any) error {
		actual, _ := value.(string)
		if actual != expected {
			return goerrors.New(message, goerrors.CategoryValidation)
		}
		return nil
	}
}
