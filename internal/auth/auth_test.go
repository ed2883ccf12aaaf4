package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"camperpark/internal/models"
	"camperpark/internal/store/memory"
)

func TestTokenRoundTrip(t *testing.T) {
	tokens := NewTokenService("test-secret", time.Minute)

	signed, err := tokens.Generate("ana", "operator")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := tokens.Verify(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Username != "ana" || claims.Role != "operator" {
		t.Errorf("claims = %+v", claims)
	}

	other := NewTokenService("different-secret", time.Minute)
	if _, err := other.Verify(signed); err == nil {
		t.Error("token accepted under wrong secret")
	}
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	st := memory.New(nil)

	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	st.SeedUser(models.User{Username: "ana", PasswordHash: hash, Role: "operator", Active: true})
	st.SeedUser(models.User{Username: "gone", PasswordHash: hash, Role: "operator", Active: false})

	svc := NewService(st, NewTokenService("test-secret", time.Minute), zap.NewNop())

	token, user, err := svc.Login(ctx, "  Ana ", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token == "" || user.Username != "ana" {
		t.Errorf("token = %q user = %+v", token, user)
	}

	tests := []struct {
		name               string
		username, password string
	}{
		{"wrong password", "ana", "nope"},
		{"unknown user", "nobody", "s3cret"},
		{"disabled user", "gone", "s3cret"},
		{"empty password", "ana", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := svc.Login(ctx, tt.username, tt.password); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("err = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}
