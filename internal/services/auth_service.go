package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/soaringjerry/Gatepass/internal/models"
)

type AuthStore interface {
	FindProfileByEmail(ctx context.Context, email string) (*models.FacilitatorProfile, error)
	// CreateProfile returns ErrAlreadyExists when the email is taken.
	CreateProfile(ctx context.Context, p *models.FacilitatorProfile) error
	// SetPasswordHash only writes when no hash is stored yet and reports
	// whether it did.
	SetPasswordHash(ctx context.Context, email string, hash []byte) (bool, error)
}

type TokenSigner func(subject, role string, ttl time.Duration) (string, error)

type AuthService struct {
	store     AuthStore
	now       func() time.Time
	signToken TokenSigner
	tokenTTL  time.Duration
}

type AuthResult struct {
	Token     string    `json:"access_token"`
	TokenType string    `json:"token_type"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

const invalidCredentials = "Invalid email or password"

func NewAuthService(store AuthStore, signer TokenSigner, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AuthService{
		store:     store,
		now:       func() time.Time { return time.Now().UTC() },
		signToken: signer,
		tokenTTL:  ttl,
	}
}

// Signup sets the password of a facilitator profile. It succeeds only
// while no password is stored; afterwards the account must log in.
func (s *AuthService) Signup(ctx context.Context, email, password string) error {
	email = NormalizeEmail(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return NewInvalidError("email/password required")
	}
	existing, err := s.store.FindProfileByEmail(ctx, email)
	if err != nil {
		return ExternalError("load profile", err)
	}
	if existing != nil && existing.Role != models.RoleFacilitator {
		return NewForbiddenError("profile is not a facilitator")
	}
	if existing != nil && len(existing.PasswordHash) > 0 {
		return NewConflictError("Password already set. Please log in.")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if existing == nil {
		err := s.store.CreateProfile(ctx, &models.FacilitatorProfile{Email: email, Role: models.RoleFacilitator, PasswordHash: hash, CreatedAt: s.now()})
		if errors.Is(err, ErrAlreadyExists) {
			return NewConflictError("Password already set. Please log in.")
		}
		if err != nil {
			return ExternalError("create profile", err)
		}
		return nil
	}
	ok, err := s.store.SetPasswordHash(ctx, email, hash)
	if err != nil {
		return ExternalError("set password", err)
	}
	if !ok {
		return NewConflictError("Password already set. Please log in.")
	}
	return nil
}

// Provision creates a facilitator directly; used by operators to seed
// accounts.
func (s *AuthService) Provision(ctx context.Context, email, password string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return NewInvalidError("email required")
	}
	var hash []byte
	if strings.TrimSpace(password) != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		hash = h
	}
	err := s.store.CreateProfile(ctx, &models.FacilitatorProfile{Email: email, Role: models.RoleFacilitator, PasswordHash: hash, CreatedAt: s.now()})
	if errors.Is(err, ErrAlreadyExists) {
		return NewConflictError("facilitator exists")
	}
	if err != nil {
		return ExternalError("create profile", err)
	}
	return nil
}

// Login never says whether the email or the password was wrong.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = NormalizeEmail(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return nil, NewInvalidError("email/password required")
	}
	p, err := s.store.FindProfileByEmail(ctx, email)
	if err != nil {
		return nil, ExternalError("load profile", err)
	}
	if p == nil || p.Role != models.RoleFacilitator || len(p.PasswordHash) == 0 {
		// Burn a comparison so unknown accounts take as long as known ones.
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		return nil, NewUnauthorizedError(invalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword(p.PasswordHash, []byte(password)); err != nil {
		return nil, NewUnauthorizedError(invalidCredentials)
	}
	if s.signToken == nil {
		return nil, NewInvalidError("token signer not configured")
	}
	token, err := s.signToken(p.Email, p.Role, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, TokenType: "bearer", Email: p.Email, Role: p.Role, ExpiresAt: s.now().Add(s.tokenTTL)}, nil
}

func (s *AuthService) TokenTTL() time.Duration {
	return s.tokenTTL
}

var (
	dummyOnce sync.Once
	dummy     []byte
)

func dummyHash() []byte {
	dummyOnce.Do(func() {
		dummy, _ = bcrypt.GenerateFromPassword([]byte("gatepass-unknown-account"), bcrypt.DefaultCost)
	})
	return dummy
}
