package api

import (
	"encoding/json"
	"strings"
)

// User is the identity returned by GET /auth/me.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"full_name,omitempty"`
}

// DisplayName returns the full name if set, otherwise the username.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}

	return u.Username
}

// TokenResponse is the body of a successful POST /auth/login.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	User         *User // nil if the backend did not embed the user
}

// userResponse mirrors the backend user JSON. The id is numeric on some
// deployments and a string on others.
// Unexported; callers use User via toUser().
type userResponse struct {
	ID       json.RawMessage `json:"id"`
	Email    string          `json:"email"`
	Username string          `json:"username"`
	FullName *string         `json:"full_name"`
}

func (u *userResponse) toUser() *User {
	user := &User{
		ID:       strings.Trim(string(u.ID), `"`),
		Email:    u.Email,
		Username: u.Username,
	}

	if user.ID == "null" {
		user.ID = ""
	}

	if u.FullName != nil {
		user.FullName = *u.FullName
	}

	return user
}

// tokenResponse mirrors the login and refresh JSON bodies.
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type"`
	User         *userResponse `json:"user"`
}

// refreshRequest is the JSON body of POST /auth/refresh.
type refreshRequest struct {
	Token string `json:"token"`
}
