package authpw

import (
	"errors"
	"testing"

	"inkwell/api/internal/users"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(users.NewStore(t.TempDir()))
}

func TestSignUpAndSignIn(t *testing.T) {
	svc := newTestService(t)

	user, err := svc.SignUp(SignUpRequest{Username: "alice", Password: "correct-horse", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if user.PasswordHash == "correct-horse" {
		t.Fatal("password must be stored hashed")
	}

	signed, err := svc.SignIn("alice", "correct-horse")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if signed.Username != "alice" || signed.DisplayName != "Alice" {
		t.Fatalf("unexpected user: %+v", signed)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.SignUp(SignUpRequest{Username: "alice", Password: "correct-horse"}); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.SignIn("alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.SignIn("ghost", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user error = %v, want ErrInvalidCredentials", err)
	}
}

func TestSignUpValidation(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.SignUp(SignUpRequest{Username: "alice", Password: "short"}); err == nil {
		t.Fatal("short password must be rejected")
	}
	if _, err := svc.SignUp(SignUpRequest{Username: "Bad Name", Password: "long-enough"}); !errors.Is(err, users.ErrInvalidUsername) {
		t.Fatalf("invalid username error = %v", err)
	}
	if _, err := svc.SignUp(SignUpRequest{Username: "", Password: "long-enough"}); err == nil {
		t.Fatal("empty username must be rejected")
	}
}

func TestSignUpDuplicateUsername(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.SignUp(SignUpRequest{Username: "alice", Password: "correct-horse"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SignUp(SignUpRequest{Username: "alice", Password: "other-secret"}); !errors.Is(err, users.ErrAlreadyExists) {
		t.Fatalf("duplicate sign-up error = %v, want ErrAlreadyExists", err)
	}
}

func TestChangePassword(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.SignUp(SignUpRequest{Username: "alice", Password: "correct-horse"}); err != nil {
		t.Fatal(err)
	}

	if err := svc.ChangePassword("alice", "wrong", "new-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("change with wrong current password error = %v", err)
	}
	if err := svc.ChangePassword("alice", "correct-horse", "new-password"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if _, err := svc.SignIn("alice", "correct-horse"); err == nil {
		t.Fatal("old password must stop working")
	}
	if _, err := svc.SignIn("alice", "new-password"); err != nil {
		t.Fatalf("new password must work: %v", err)
	}
}
