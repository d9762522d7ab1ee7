// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
)

var (
	ErrUsernameEmpty = errors.New("username empty")
	ErrInvalidUserID = errors.New("invalid user id")
)

type UserID int64

// User is the identity carried by a verified credential.
// It does not change for the lifetime of a connection.
type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id UserID, username string) (User, error) {
	if id <= 0 {
		return User{}, ErrInvalidUserID
	}
	if len(username) == 0 {
		return User{}, ErrUsernameEmpty
	}
	return User{ID: id, Username: username}, nil
}
