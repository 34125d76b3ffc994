package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultUsername is the only account of the web panel
const DefaultUsername = "admin"

// ErrInvalidCredentials is returned for a wrong username or password
var ErrInvalidCredentials = errors.New("invalid credentials")

// User represents the authenticated panel user
type User struct {
	Username string `json:"username"`
}

// PasswordAuth checks logins against the bcrypt hash stored in the unit record.
// An empty hash means the panel is open and login is not required.
type PasswordAuth struct {
	hash func() string
}

// NewPasswordAuth creates an authenticator reading the current hash from hash
func NewPasswordAuth(hash func() string) *PasswordAuth {
	return &PasswordAuth{hash: hash}
}

// Required reports whether a login password is set
func (a *PasswordAuth) Required() bool {
	return a.hash() != ""
}

// Authenticate verifies username and password
func (a *PasswordAuth) Authenticate(username, password string) (*User, error) {
	hash := a.hash()
	if hash == "" {
		return &User{Username: DefaultUsername}, nil
	}
	if username != DefaultUsername {
		// same cost as a wrong password
		_ = bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &User{Username: username}, nil
}

// HashPassword returns the bcrypt hash of password, or "" for an empty password
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
