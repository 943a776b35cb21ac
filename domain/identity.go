package domain

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
)

// UserStorage defines the persistence needed by IdentityService.
type UserStorage interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	FindUserByGitHubID(ctx context.Context, githubID int64) (*User, error)
	CreateUser(ctx context.Context, u *User) error
	UpdateUserLogin(ctx context.Context, u *User) error

	IsWhitelisted(ctx context.Context, email string) (bool, error)
	ListWhitelist(ctx context.Context) ([]WhitelistEntry, error)
	AddWhitelist(ctx context.Context, email string) (*WhitelistEntry, error)
	RemoveWhitelist(ctx context.Context, email string) error

	UpsertWaitlist(ctx context.Context, email string) error
	ListWaitlist(ctx context.Context) ([]WaitlistEntry, error)
}

// IdentityService signs users in and manages the waitlist and whitelist.
type IdentityService struct {
	st     UserStorage
	admins map[string]struct{}
}

// NewIdentityService returns a service that grants ADMIN to the given emails.
func NewIdentityService(st UserStorage, adminEmails []string) IdentityService {
	admins := make(map[string]struct{}, len(adminEmails))
	for _, e := range adminEmails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			admins[e] = struct{}{}
		}
	}
	return IdentityService{st: st, admins: admins}
}

func (s IdentityService) roleFor(email string) UserRole {
	if _, ok := s.admins[strings.ToLower(email)]; ok {
		return UserRoleAdmin
	}
	return UserRoleUser
}

// SignIn records a GitHub login. Existing users always get in; new users must
// be on the whitelist unless they are configured admins.
func (s IdentityService) SignIn(ctx context.Context, id GitHubIdentity) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(id.Email))
	var image *string
	if id.AvatarURL != "" {
		image = &id.AvatarURL
	}
	name := id.Name
	if name == "" {
		name = id.Login
	}

	u, err := s.st.FindUserByGitHubID(ctx, id.ID)
	switch {
	case err == nil:
		u.Name = name
		u.Image = image
		u.GithubLogin = id.Login
		u.GithubToken = id.AccessToken
		if email != "" {
			u.Email = email
		}
		if s.roleFor(u.Email) == UserRoleAdmin {
			u.Role = UserRoleAdmin
		}
		if err := s.st.UpdateUserLogin(ctx, u); err != nil {
			return nil, err
		}
		return u, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	if email == "" {
		return nil, &ValidationError{Field: "email", Reason: "is not available from GitHub"}
	}
	role := s.roleFor(email)
	if role != UserRoleAdmin {
		ok, err := s.st.IsWhitelisted(ctx, email)
		if err != nil {
			return nil, err
		}
		if !ok {
			log.WithField("email", email).Info("sign-in rejected, not on whitelist")
			return nil, ErrAccessDenied
		}
	}
	u = &User{
		Name:        name,
		Email:       email,
		Image:       image,
		Role:        role,
		GithubID:    id.ID,
		GithubLogin: id.Login,
		GithubToken: id.AccessToken,
	}
	if err := s.st.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s IdentityService) User(ctx context.Context, userID string) (*User, error) {
	return s.st.GetUser(ctx, userID)
}

// JoinWaitlist records interest from email. Repeated calls are harmless.
func (s IdentityService) JoinWaitlist(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	return s.st.UpsertWaitlist(ctx, email)
}

func (s IdentityService) ListWaitlist(ctx context.Context) ([]WaitlistEntry, error) {
	return s.st.ListWaitlist(ctx)
}

func (s IdentityService) ListWhitelist(ctx context.Context) ([]WhitelistEntry, error) {
	return s.st.ListWhitelist(ctx)
}

// AddToWhitelist is idempotent and returns the stored entry.
func (s IdentityService) AddToWhitelist(ctx context.Context, email string) (*WhitelistEntry, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	return s.st.AddWhitelist(ctx, email)
}

func (s IdentityService) RemoveFromWhitelist(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	return s.st.RemoveWhitelist(ctx, email)
}
