package identity

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/medibook/internal/platform/auth"
)

// UnknownDoctorName is shown when a doctor row has no profile name.
const UnknownDoctorName = "Dr. Unknown"

const minPasswordLength = 8

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail applies the simple shape check used for sign-up and guest
// bookings.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// NormalizeEmail lower-cases and trims an address before storage or lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// User maps to the users table. Credentials live with the identity provider.
type User struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	FullName  string    `db:"full_name" json:"full_name"`
	Role      string    `db:"role" json:"role"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Doctor maps to the doctors table joined with the owning user.
type Doctor struct {
	ID              uuid.UUID `db:"id" json:"id"`
	FullName        string    `db:"full_name" json:"full_name"`
	Email           string    `db:"email" json:"email,omitempty"`
	Specialization  string    `db:"specialization" json:"specialization"`
	LicenseNumber   *string   `db:"license_number" json:"license_number,omitempty"`
	ExperienceYears int       `db:"experience_years" json:"experience_years"`
	ConsultationFee float64   `db:"consultation_fee" json:"consultation_fee"`
	Rating          float64   `db:"rating" json:"rating"`
	IsActive        bool      `db:"is_active" json:"is_active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// DisplayName returns the name shown to patients.
func (d *Doctor) DisplayName() string {
	name := strings.TrimSpace(d.FullName)
	if name == "" {
		return UnknownDoctorName
	}
	return name
}

// Contact is the subset of a user shown to the counterpart of an appointment.
type Contact struct {
	ID       uuid.UUID
	FullName string
	Email    string
	Phone    *string
}

// Credential maps to auth_identities.
type Credential struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type RegisterRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	FullName string  `json:"full_name"`
	Role     string  `json:"role"`
	Phone    *string `json:"phone,omitempty"`
}

type DoctorRequest struct {
	DoctorID        uuid.UUID `json:"doctor_id"`
	Specialization  string    `json:"specialization"`
	LicenseNumber   *string   `json:"license_number,omitempty"`
	ExperienceYears int       `json:"experience_years"`
	ConsultationFee float64   `json:"consultation_fee"`
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Session is returned by sign-in and refresh.
type Session struct {
	auth.TokenPair
	User *User `json:"user"`
}

// DoctorFilter narrows the doctor directory.
type DoctorFilter struct {
	Specialization string
	Limit          int
	Offset         int
}

var selfRegisterRoles = map[string]bool{
	auth.RolePatient: true,
	auth.RoleDoctor:  true,
}
