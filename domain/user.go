package domain

import (
	"net/mail"
	"strings"
	"time"
)

type UserRole string

const (
	UserRoleUser  UserRole = "USER"
	UserRoleAdmin UserRole = "ADMIN"
)

// User is an authenticated account. The GitHub token never leaves the server.
type User struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Image       *string   `json:"image"`
	Role        UserRole  `json:"role"`
	GithubID    int64     `json:"-"`
	GithubLogin string    `json:"githubLogin"`
	GithubToken string    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// IsAdmin reports whether the user may manage the whitelist.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == UserRoleAdmin
}

// Profile returns the public subset of the user shown to other members.
func (u *User) Profile() UserProfile {
	return UserProfile{ID: u.ID, Name: u.Name, Email: u.Email, Image: u.Image}
}

type UserProfile struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Email string  `json:"email"`
	Image *string `json:"image"`
}

// GitHubIdentity is what the OAuth callback learns about the signing-in user.
type GitHubIdentity struct {
	ID          int64
	Login       string
	Name        string
	Email       string
	AvatarURL   string
	AccessToken string
}

type WaitlistEntry struct {
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

type WhitelistEntry struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// NormalizeEmail lowercases and validates an address.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", &ValidationError{Field: "email", Reason: "is required"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", &ValidationError{Field: "email", Reason: "is invalid"}
	}
	return email, nil
}
