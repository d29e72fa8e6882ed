// Package authpw provides username/password authentication.
package authpw

import (
	"errors"
	"fmt"

	"inkwell/api/internal/users"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

// UserStore defines the storage interface for auth
type UserStore interface {
	Get(username string) (users.User, error)
	Create(user users.User) error
	Update(user users.User) error
}

// Service provides username/password authentication
type Service struct {
	store UserStore
}

// NewService creates a new auth service
func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Username    string
	Password    string
	DisplayName string
}

// SignUp creates a new user account
func (s *Service) SignUp(req SignUpRequest) (users.User, error) {
	if req.Username == "" || req.Password == "" {
		return users.User{}, errors.New("username and password are required")
	}
	if len(req.Password) < 8 {
		return users.User{}, errors.New("password must be at least 8 characters")
	}
	if !users.ValidUsername(req.Username) {
		return users.User{}, users.ErrInvalidUsername
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return users.User{}, fmt.Errorf("hash password: %w", err)
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Username
	}

	user := users.User{
		Username:     req.Username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
	}
	if err := s.store.Create(user); err != nil {
		return users.User{}, err
	}
	return s.store.Get(req.Username)
}

// SignIn authenticates a user. Failures do not reveal whether the username
// exists.
func (s *Service) SignIn(username, password string) (users.User, error) {
	if username == "" || password == "" {
		return users.User{}, ErrInvalidCredentials
	}

	user, err := s.store.Get(username)
	if err != nil {
		return users.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return users.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// ChangePassword verifies the current password before setting a new one.
func (s *Service) ChangePassword(username, current, next string) error {
	if len(next) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	user, err := s.SignIn(username, current)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = string(hash)
	return s.store.Update(user)
}
