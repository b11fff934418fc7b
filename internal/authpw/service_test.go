package authpw

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/rbac"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/store"
)

type mockResearcherStore struct {
	byEmail map[string]store.Researcher
}

func newMockStore() *mockResearcherStore {
	return &mockResearcherStore{byEmail: map[string]store.Researcher{}}
}

func (m *mockResearcherStore) GetResearcherByEmail(ctx context.Context, email string) (store.Researcher, error) {
	if researcher, ok := m.byEmail[strings.ToLower(strings.TrimSpace(email))]; ok {
		return researcher, nil
	}
	return store.Researcher{}, store.ErrNotFound
}

func (m *mockResearcherStore) CreateResearcher(ctx context.Context, researcher store.Researcher) error {
	m.byEmail[researcher.Email] = researcher
	return nil
}

func (m *mockResearcherStore) CountResearchers(ctx context.Context) (int, error) {
	return len(m.byEmail), nil
}

func newTestService() (*Service, *mockResearcherStore) {
	mock := newMockStore()
	return NewServiceWithCost(mock, bcrypt.MinCost), mock
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc, mock := newTestService()

	researcher, err := svc.Register(ctx, RegisterRequest{Email: " Lab@Example.org ", Password: "password123", DisplayName: "Lab"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if researcher.Email != "lab@example.org" || researcher.Role != string(rbac.RoleResearcher) {
		t.Fatalf("unexpected researcher: %+v", researcher)
	}
	if !strings.HasPrefix(researcher.ID, "res_") {
		t.Fatalf("unexpected id %q", researcher.ID)
	}
	if researcher.PasswordHash == "password123" || mock.byEmail["lab@example.org"].PasswordHash == "" {
		t.Fatal("password must be stored hashed")
	}

	if _, err := svc.Register(ctx, RegisterRequest{Email: "lab@example.org", Password: "password123", DisplayName: "Lab"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("duplicate Register() error = %v, want ErrEmailTaken", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	cases := []struct {
		name string
		req  RegisterRequest
	}{
		{name: "missing email", req: RegisterRequest{Password: "password123", DisplayName: "x"}},
		{name: "bad email", req: RegisterRequest{Email: "nope", Password: "password123", DisplayName: "x"}},
		{name: "short password", req: RegisterRequest{Email: "a@b.de", Password: "short", DisplayName: "x"}},
		{name: "missing name", req: RegisterRequest{Email: "a@b.de", Password: "password123"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Register(ctx, tc.req); err == nil {
				t.Fatal("expected Register() to fail")
			}
		})
	}
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	svc, mock := newTestService()
	if _, err := svc.Register(ctx, RegisterRequest{Email: "lab@example.org", Password: "password123", DisplayName: "Lab"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	researcher, err := svc.SignIn(ctx, "LAB@example.org", "password123")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if researcher.DisplayName != "Lab" {
		t.Fatalf("unexpected researcher: %+v", researcher)
	}

	if _, err := svc.SignIn(ctx, "lab@example.org", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password error = %v", err)
	}
	if _, err := svc.SignIn(ctx, "nobody@example.org", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email error = %v", err)
	}

	deactivated := mock.byEmail["lab@example.org"]
	now := time.Now()
	deactivated.DeactivatedAt = &now
	mock.byEmail["lab@example.org"] = deactivated
	if _, err := svc.SignIn(ctx, "lab@example.org", "password123"); !errors.Is(err, ErrDeactivated) {
		t.Fatalf("deactivated error = %v", err)
	}
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()
	svc, mock := newTestService()

	created, err := svc.Bootstrap(ctx, "", "")
	if err != nil || created {
		t.Fatalf("Bootstrap() without credentials = %v, %v", created, err)
	}

	created, err = svc.Bootstrap(ctx, "admin@example.org", "password123")
	if err != nil || !created {
		t.Fatalf("Bootstrap() = %v, %v; want account created", created, err)
	}
	if mock.byEmail["admin@example.org"].Role != string(rbac.RoleAdmin) {
		t.Fatalf("bootstrap account role = %q", mock.byEmail["admin@example.org"].Role)
	}

	created, err = svc.Bootstrap(ctx, "second@example.org", "password123")
	if err != nil || created {
		t.Fatalf("second Bootstrap() = %v, %v; want no account", created, err)
	}
}
