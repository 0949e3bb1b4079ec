package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vovakirdan/quill-server/internal/core"
	"github.com/vovakirdan/quill-server/internal/store/sqlite"
)

var testJWTConfig = &JWTConfig{
	Secret:   []byte("test-secret-change-me"),
	Issuer:   "test",
	Audience: "test",
	TTL:      24 * time.Hour,
}

func newTestStore(t *testing.T) *sqlite.SQLiteStore {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestAuthService(t *testing.T) *Service {
	t.Helper()
	return NewService(newTestStore(t), testJWTConfig)
}

func TestRegister_RejectsInvalidUsername(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "ab", "password123"); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}

	// Should be validated after trimming whitespace.
	if _, _, err := svc.Register(ctx, " ab ", "password123"); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}
}

func TestRegister_RejectsInvalidPassword(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	for _, pw := range []string{"12345", strings.Repeat("x", 73)} {
		if _, _, err := svc.Register(ctx, "abc", pw); !errors.Is(err, ErrInvalidPassword) {
			t.Fatalf("len %d: expected ErrInvalidPassword, got %v", len(pw), err)
		}
	}
}

func TestRegister_TrimsUsernameAndCreatesUser(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	token, user, err := svc.Register(ctx, " alice ", "password123")
	if err != nil {
		t.Fatalf("expected registration success, got %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}
	if user.Username != "alice" {
		t.Fatalf("expected trimmed username, got %q", user.Username)
	}

	// Should collide because the stored username is trimmed.
	if _, _, err := svc.Register(ctx, "alice", "password123"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "alice", "password123"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, _, err := svc.Login(ctx, "alice", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	token, user, err := svc.Login(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != user.ID || claims.Username != "alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateToken_RejectsWrongAudienceAndSecret(t *testing.T) {
	token, err := GenerateToken(testJWTConfig, 42, "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	other := *testJWTConfig
	other.Audience = "someone-else"
	if _, err := ValidateToken(&other, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for audience, got %v", err)
	}

	other = *testJWTConfig
	other.Secret = []byte("another-secret")
	if _, err := ValidateToken(&other, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for secret, got %v", err)
	}
}

func TestVerifier(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	alice, err := st.CreateUser(ctx, "alice", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := GenerateToken(testJWTConfig, alice.ID, alice.Username)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	tests := []struct {
		name     string
		required bool
		claimed  int64
		token    string
		wantID   int64
		wantErr  bool
	}{
		{name: "bare id accepted", claimed: alice.ID, wantID: alice.ID},
		{name: "unknown user", claimed: alice.ID + 100, wantErr: true},
		{name: "missing id", wantErr: true},
		{name: "token wins", token: token, wantID: alice.ID},
		{name: "token matches claim", claimed: alice.ID, token: token, wantID: alice.ID},
		{name: "token for another user", claimed: alice.ID + 1, token: token, wantErr: true},
		{name: "garbage token", claimed: alice.ID, token: "not-a-jwt", wantErr: true},
		{name: "token required", required: true, claimed: alice.ID, wantErr: true},
		{name: "token required and given", required: true, token: token, wantID: alice.ID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(st, testJWTConfig, tt.required)
			got, err := v.Verify(ctx, tt.claimed, tt.token)
			if tt.wantErr {
				if !errors.Is(err, core.ErrUnauthorized) {
					t.Fatalf("expected unauthorized, got id=%d err=%v", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.wantID {
				t.Fatalf("got user %d, want %d", got, tt.wantID)
			}
		})
	}
}
