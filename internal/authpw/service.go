// Package authpw provides email/password authentication for researchers.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/rbac"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/store"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/util"
)

const MinPasswordLength = 8

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrDeactivated        = errors.New("account is deactivated")
	ErrEmailTaken         = errors.New("email already registered")
)

// ResearcherStore defines the storage interface for auth
type ResearcherStore interface {
	GetResearcherByEmail(ctx context.Context, email string) (store.Researcher, error)
	CreateResearcher(ctx context.Context, researcher store.Researcher) error
	CountResearchers(ctx context.Context) (int, error)
}

type Service struct {
	store ResearcherStore
	cost  int
}

func NewService(store ResearcherStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

// NewServiceWithCost is for tests, where the default bcrypt cost is slow.
func NewServiceWithCost(store ResearcherStore, cost int) *Service {
	return &Service{store: store, cost: cost}
}

type RegisterRequest struct {
	Email       string
	Password    string
	DisplayName string
	Role        rbac.Role
}

// Register creates a researcher account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.Researcher, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	name := strings.TrimSpace(req.DisplayName)
	if email == "" || req.Password == "" || name == "" {
		return store.Researcher{}, errors.New("email, password, and display name are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return store.Researcher{}, fmt.Errorf("invalid email %q", req.Email)
	}
	if len(req.Password) < MinPasswordLength {
		return store.Researcher{}, fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	role := req.Role
	if role != rbac.RoleAdmin {
		role = rbac.RoleResearcher
	}

	_, err := s.store.GetResearcherByEmail(ctx, email)
	if err == nil {
		return store.Researcher{}, ErrEmailTaken
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Researcher{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.Researcher{}, fmt.Errorf("hash password: %w", err)
	}
	researcher := store.Researcher{
		ID:           util.NewID("res"),
		Email:        email,
		DisplayName:  name,
		PasswordHash: string(hash),
		Role:         string(role),
	}
	if err := s.store.CreateResearcher(ctx, researcher); err != nil {
		return store.Researcher{}, fmt.Errorf("create researcher: %w", err)
	}
	return researcher, nil
}

// Bootstrap creates the first admin account when no researcher exists yet.
// It reports whether an account was created.
func (s *Service) Bootstrap(ctx context.Context, email, password string) (bool, error) {
	if email == "" || password == "" {
		return false, nil
	}
	count, err := s.store.CountResearchers(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	if _, err := s.Register(ctx, RegisterRequest{Email: email, Password: password, DisplayName: "Administrator", Role: rbac.RoleAdmin}); err != nil {
		return false, err
	}
	return true, nil
}

// SignIn checks the password of an active account.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.Researcher, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return store.Researcher{}, errors.New("email and password are required")
	}
	researcher, err := s.store.GetResearcherByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return store.Researcher{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.Researcher{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(researcher.PasswordHash), []byte(password)); err != nil {
		return store.Researcher{}, ErrInvalidCredentials
	}
	if researcher.DeactivatedAt != nil {
		return store.Researcher{}, ErrDeactivated
	}
	return researcher, nil
}
