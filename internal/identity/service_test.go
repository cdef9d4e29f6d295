package identity

import (
	"context"
	"testing"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{Phone: "+244911111111", Name: "Ana", PIN: "1234"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Status != StatusActive {
		t.Fatalf("expected ACTIVE status, got %s", user.Status)
	}
	if user.ID == "" {
		t.Fatalf("expected generated user id")
	}

	authed, err := svc.Authenticate(ctx, Credentials{Phone: "+244911111111", PIN: "1234"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if authed.ID != user.ID {
		t.Fatalf("authenticated wrong user: %s", authed.ID)
	}
}

func TestAuthenticateWrongPIN(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Phone: "+244911111111", Name: "Ana", PIN: "1234"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Authenticate(ctx, Credentials{Phone: "+244911111111", PIN: "9999"}); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, Credentials{Phone: "+244900000000", PIN: "1234"}); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials for unknown phone, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Name: "Ana", PIN: "1234"}); err == nil {
		t.Fatalf("expected error for missing phone")
	}
	if _, err := svc.Register(ctx, RegisterInput{Phone: "+244911111111", Name: "Ana", PIN: "12"}); err == nil {
		t.Fatalf("expected error for short pin")
	}
}

func TestRegisterDuplicatePhone(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Phone: "+244911111111", Name: "Ana", PIN: "1234"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, RegisterInput{Phone: "+244911111111", Name: "Bela", PIN: "5678"}); err == nil {
		t.Fatalf("expected error for duplicate phone")
	}
}

func TestClosedAccountCannotAuthenticate(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{Phone: "+244911111111", Name: "Ana", PIN: "1234"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := svc.SetStatus(ctx, user.ID, StatusClosed); err != nil {
		t.Fatalf("set status: %v", err)
	}

	if _, err := svc.Authenticate(ctx, Credentials{Phone: "+244911111111", PIN: "1234"}); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials for closed account, got %v", err)
	}
}
