package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/vnmchuo/medcost/internal/apperr"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

type User struct {
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, user *User) error
}

// Authenticator checks credentials against a UserStore.
type Authenticator struct {
	users UserStore
	cost  int
}

func NewAuthenticator(users UserStore, bcryptCost int) *Authenticator {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Authenticator{users: users, cost: bcryptCost}
}

// Authenticate reports whether password matches the stored credentials for
// email. A store failure is returned as a CollaboratorError.
func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (bool, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return false, nil
	}

	u, err := a.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, nil
		}
		return false, &apperr.CollaboratorError{Collaborator: "users", Err: err}
	}
	return checkPassword(u.PasswordHash, password), nil
}

// Register creates a user with a bcrypt-hashed password.
func (a *Authenticator) Register(ctx context.Context, name, email, password string) (*User, error) {
	email = normalizeEmail(email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, &apperr.ValidationError{Field: "email", Message: "a valid email address is required"}
	}
	if len(password) < 6 {
		return nil, &apperr.ValidationError{Field: "password", Message: "password must be at least 6 characters"}
	}

	_, err := a.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, ErrUserExists
	case !errors.Is(err, ErrUserNotFound):
		return nil, &apperr.CollaboratorError{Collaborator: "users", Err: err}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &User{Email: email, Name: strings.TrimSpace(name), PasswordHash: string(hash)}
	if err := a.users.Create(ctx, u); err != nil {
		if errors.Is(err, ErrUserExists) {
			return nil, err
		}
		return nil, &apperr.CollaboratorError{Collaborator: "users", Err: err}
	}
	return u, nil
}

// checkPassword accepts bcrypt hashes and, for rows written before hashing
// was introduced, plaintext values compared in constant time.
func checkPassword(stored, password string) bool {
	if isBcrypt(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
}

func isBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
