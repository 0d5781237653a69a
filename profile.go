package session

import "github.com/google/uuid"

// Profile is the full profile record fetched from the API. The fetched
// is_profile_completed value, not the decoded claim, drives post-login
// navigation once available.
type Profile struct {
	ID               string          `json:"id"`
	Email            string          `json:"email"`
	Username         string          `json:"username,omitempty"`
	FirstName        string          `json:"first_name"`
	LastName         string          `json:"last_name"`
	Category         string          `json:"tipo"`
	BirthDate        string          `json:"fecha_nacimiento,omitempty"`
	Phone            string          `json:"telefono,omitempty"`
	Address          string          `json:"direccion,omitempty"`
	Gender           string          `json:"genero,omitempty"`
	ProfileCompleted bool            `json:"is_profile_completed"`
	Patient          *PatientRecord  `json:"patient,omitempty"`
	Doctor           *DoctorRecord   `json:"doctor,omitempty"`
}

// PatientRecord carries the patient-specific profile extension.
type PatientRecord struct {
	Occupation string `json:"ocupacion,omitempty"`
	Allergies  string `json:"allergies,omitempty"`
}

// DoctorRecord carries the doctor-specific profile extension.
type DoctorRecord struct {
	Specialty     string `json:"especialidad,omitempty"`
	LicenseNumber string `json:"numero_licencia,omitempty"`
}

// GetUserUUID parses the profile id as a UUID.
func (p *Profile) GetUserUUID() (uuid.UUID, error) {
	return uuid.Parse(p.ID)
}

// IsDoctor reports whether the profile belongs to the doctor category.
func (p *Profile) IsDoctor() bool {
	return p.Category == CategoryDoctor
}
