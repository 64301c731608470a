package services

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/opencohort/fieldlink/internal/models"
)

type StaffStore interface {
	FindStaffByName(name string) (*models.StaffUser, error)
	AddStaff(u *models.StaffUser) error
}

// TokenSigner issues a control-API token for an authenticated staff member.
type TokenSigner func(staffID, name, role string, ttl time.Duration) (string, error)

// StaffAuthService authenticates field staff by name and PIN for the local
// control API. Sessions are short-lived; the device is shared between staff
// during a shift.
type StaffAuthService struct {
	store     StaffStore
	now       func() time.Time
	idGen     func(prefix string, n int) string
	signToken TokenSigner
	tokenTTL  time.Duration
}

type StaffAuthResult struct {
	Token   string
	StaffID string
	Role    string
}

func NewStaffAuthService(store StaffStore, signer TokenSigner) *StaffAuthService {
	return &StaffAuthService{
		store:     store,
		now:       func() time.Time { return time.Now().UTC() },
		idGen:     func(prefix string, n int) string { return prefix + shortID(n) },
		signToken: signer,
		tokenTTL:  12 * time.Hour,
	}
}

func (s *StaffAuthService) Register(name, pin, role string) (*models.StaffUser, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(pin) == "" {
		return nil, NewInvalidError("name/pin required")
	}
	existing, err := s.store.FindStaffByName(name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, NewConflictError("staff name exists")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	if role == "" {
		role = "interviewer"
	}
	u := &models.StaffUser{
		ID:        s.idGen("u", 7),
		Name:      name,
		PINHash:   hash,
		Role:      role,
		CreatedAt: s.now(),
	}
	if err := s.store.AddStaff(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *StaffAuthService) Login(name, pin string) (*StaffAuthResult, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(pin) == "" {
		return nil, NewInvalidError("name/pin required")
	}
	u, err := s.store.FindStaffByName(name)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(u.PINHash, []byte(pin)); err != nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if s.signToken == nil {
		return nil, NewInvalidError("token signer not configured")
	}
	token, err := s.signToken(u.ID, u.Name, u.Role, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &StaffAuthResult{Token: token, StaffID: u.ID, Role: u.Role}, nil
}

func (s *StaffAuthService) TokenTTL() time.Duration { return s.tokenTTL }
