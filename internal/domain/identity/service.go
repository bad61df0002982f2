package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/platform/apperr"
	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/internal/platform/db"
)

// Transactor runs fn in a single database transaction.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	users        UserRepository
	doctors      DoctorRepository
	provider     Provider
	tx           Transactor
	tokens       *auth.Issuer
	revocations  auth.RevocationStore
	logger       zerolog.Logger
	storeTimeout time.Duration
}

type Options struct {
	Users        UserRepository
	Doctors      DoctorRepository
	Provider     Provider
	Tx           Transactor
	Tokens       *auth.Issuer
	Revocations  auth.RevocationStore
	Logger       zerolog.Logger
	StoreTimeout time.Duration
}

func NewService(opts Options) *Service {
	return &Service{
		users:        opts.Users,
		doctors:      opts.Doctors,
		provider:     opts.Provider,
		tx:           opts.Tx,
		tokens:       opts.Tokens,
		revocations:  opts.Revocations,
		logger:       opts.Logger.With().Str("component", "identity").Logger(),
		storeTimeout: opts.StoreTimeout,
	}
}

func (s *Service) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

// -- Registration --

func validateRegistration(req *RegisterRequest) error {
	req.Email = NormalizeEmail(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)
	req.Role = strings.TrimSpace(req.Role)
	if req.Email == "" {
		return apperr.Validation("email", "email is required")
	}
	if !ValidEmail(req.Email) {
		return apperr.Validation("email", "email is not a valid address")
	}
	if len(req.Password) < minPasswordLength {
		return apperr.Validation("password", "password must be at least 8 characters")
	}
	if req.FullName == "" {
		return apperr.Validation("full_name", "full_name is required")
	}
	if req.Role == "" {
		req.Role = auth.RolePatient
	}
	if !selfRegisterRoles[req.Role] {
		return apperr.Validation("role", "role must be patient or doctor")
	}
	return nil
}

// Register creates the credential and then the profile. If the profile write
// fails the credential is deleted again and the profile error is returned.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if err := validateRegistration(&req); err != nil {
		return nil, err
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	id, err := s.provider.CreateIdentity(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}

	u := &User{ID: id, Email: req.Email, FullName: req.FullName, Role: req.Role, Phone: req.Phone}
	if err := s.users.Create(ctx, u); err != nil {
		profileErr := s.mapUserWrite(err)
		// The request context may already be spent; compensation gets its own.
		cctx, ccancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout())
		defer ccancel()
		if derr := s.provider.DeleteIdentity(cctx, id); derr != nil {
			s.logger.Error().Err(derr).Str("identity_id", id.String()).Msg("identity compensation failed")
		} else {
			s.logger.Warn().Err(err).Str("identity_id", id.String()).Msg("identity compensation")
		}
		return nil, profileErr
	}
	return u, nil
}

func (s *Service) compensationTimeout() time.Duration {
	if s.storeTimeout > 0 {
		return s.storeTimeout
	}
	return 5 * time.Second
}

func (s *Service) mapUserWrite(err error) error {
	if db.IsUniqueViolation(err, "users_email_key") {
		return apperr.Conflict(apperr.CodeDuplicate, "email already registered")
	}
	return apperr.FromStorage(err, "user")
}

// RegisterDoctor attaches the doctor record to an existing doctor user.
func (s *Service) RegisterDoctor(ctx context.Context, actor auth.Actor, req DoctorRequest) (*Doctor, error) {
	req.Specialization = strings.TrimSpace(req.Specialization)
	switch {
	case req.DoctorID == uuid.Nil:
		return nil, apperr.Validation("doctor_id", "doctor_id is required")
	case req.Specialization == "":
		return nil, apperr.Validation("specialization", "specialization is required")
	case req.ExperienceYears < 0:
		return nil, apperr.Validation("experience_years", "experience_years must not be negative")
	case req.ConsultationFee < 0:
		return nil, apperr.Validation("consultation_fee", "consultation_fee must not be negative")
	}
	if actor.IsGuest() {
		return nil, apperr.Unauthorized("authentication required")
	}
	if !actor.IsAdmin() && !actor.Is(req.DoctorID) {
		return nil, apperr.Forbidden("doctors may only register their own profile")
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	d := &Doctor{
		ID:              req.DoctorID,
		Specialization:  req.Specialization,
		LicenseNumber:   req.LicenseNumber,
		ExperienceYears: req.ExperienceYears,
		ConsultationFee: req.ConsultationFee,
		Rating:          5.0,
		IsActive:        true,
	}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		u, err := s.users.GetByID(ctx, req.DoctorID)
		if err != nil {
			return apperr.FromStorage(err, "user")
		}
		if u.Role != auth.RoleDoctor {
			return apperr.Validation("doctor_id", "user is not registered as a doctor")
		}
		if err := s.doctors.Create(ctx, d); err != nil {
			if db.IsUniqueViolation(err, "") {
				return apperr.Conflict(apperr.CodeDuplicate, "doctor profile already exists")
			}
			return apperr.FromStorage(err, "doctor")
		}
		d.FullName = u.FullName
		d.Email = u.Email
		return nil
	})
	if err != nil {
		return nil, apperr.FromStorage(err, "doctor")
	}
	return d, nil
}

// -- Sessions --

func (s *Service) SignIn(ctx context.Context, req SignInRequest) (*Session, error) {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return nil, apperr.Validation("email", "email and password are required")
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	id, err := s.provider.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, apperr.Unauthorized(ErrInvalidCredentials.Error())
		}
		return nil, err
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.Unauthorized("account has no profile")
		}
		return nil, apperr.FromStorage(err, "user")
	}
	return s.session(u)
}

func (s *Service) session(u *User) (*Session, error) {
	pair, err := s.tokens.IssuePair(u.ID.String(), u.Role)
	if err != nil {
		return nil, apperr.Upstream("token issuance failed", err)
	}
	return &Session{TokenPair: *pair, User: u}, nil
}

// Refresh rotates a refresh token. The presented token is revoked and the
// role is re-read so demoted users do not keep stale claims.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, apperr.Validation("refresh_token", "refresh_token is required")
	}
	claims, err := s.tokens.Parse(refreshToken, auth.TokenRefresh)
	if err != nil {
		return nil, apperr.Unauthorized("invalid refresh token")
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if s.revocations != nil {
		revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, apperr.Upstream("revocation check failed", err)
		}
		if revoked {
			return nil, apperr.Unauthorized("refresh token has been revoked")
		}
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, apperr.Unauthorized("invalid refresh token")
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.Unauthorized("account no longer exists")
		}
		return nil, apperr.FromStorage(err, "user")
	}

	if s.revocations != nil && claims.ExpiresAt != nil {
		if err := s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
			return nil, apperr.Upstream("token revocation failed", err)
		}
	}
	return s.session(u)
}

// SignOut revokes the access token identified by jti and, when given, the
// refresh token of the same session.
func (s *Service) SignOut(ctx context.Context, jti string, expiresAt time.Time, refreshToken string) error {
	if s.revocations == nil {
		return nil
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if jti != "" {
		if err := s.revocations.Revoke(ctx, jti, expiresAt); err != nil {
			return apperr.Upstream("token revocation failed", err)
		}
	}
	if refreshToken == "" {
		return nil
	}
	claims, err := s.tokens.Parse(refreshToken, auth.TokenRefresh)
	if err != nil {
		// Already expired or foreign; nothing to revoke.
		return nil
	}
	if err := s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return apperr.Upstream("token revocation failed", err)
	}
	return nil
}

func (s *Service) Me(ctx context.Context, actor auth.Actor) (*User, error) {
	if actor.IsGuest() {
		return nil, apperr.Unauthorized("authentication required")
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	u, err := s.users.GetByID(ctx, actor.UserID)
	if err != nil {
		return nil, apperr.FromStorage(err, "user")
	}
	return u, nil
}

// -- Directory --

func (s *Service) ListDoctors(ctx context.Context, f DoctorFilter) ([]*Doctor, int, error) {
	f.Specialization = strings.TrimSpace(f.Specialization)
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	items, total, err := s.doctors.List(ctx, f)
	if err != nil {
		return nil, 0, apperr.FromStorage(err, "doctor")
	}
	for _, d := range items {
		d.FullName = d.DisplayName()
	}
	return items, total, nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.FromStorage(err, "doctor")
	}
	d.FullName = d.DisplayName()
	return d, nil
}

func (s *Service) ListSpecializations(ctx context.Context) ([]string, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	out, err := s.doctors.Specializations(ctx)
	if err != nil {
		return nil, apperr.FromStorage(err, "specialization")
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// DoctorNames resolves display names for the given doctor ids.
func (s *Service) DoctorNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	names, err := s.doctors.Names(ctx, ids)
	if err != nil {
		return nil, apperr.FromStorage(err, "doctor")
	}
	return names, nil
}

// Contacts resolves user contact details for the given ids.
func (s *Service) Contacts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Contact, error) {
	contacts, err := s.users.Contacts(ctx, ids)
	if err != nil {
		return nil, apperr.FromStorage(err, "user")
	}
	return contacts, nil
}

// -- Admin --

func (s *Service) ListUsers(ctx context.Context, role string, limit, offset int) ([]*User, int, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	items, total, err := s.users.List(ctx, role, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromStorage(err, "user")
	}
	return items, total, nil
}

func (s *Service) CountUsersByRole(ctx context.Context) (map[string]int, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	counts, err := s.users.CountByRole(ctx)
	if err != nil {
		return nil, apperr.FromStorage(err, "user")
	}
	return counts, nil
}
