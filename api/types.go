package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"tandem/domain"
	"tandem/githubapi"
)

// Projects is the project and task surface used by handlers.
type Projects interface {
	Authorize(ctx context.Context, userID, projectID string) error
	CreateProject(ctx context.Context, userID string, in domain.NewProject) (*domain.Project, error)
	ListProjects(ctx context.Context, userID string) ([]domain.Project, error)
	GetProject(ctx context.Context, userID, projectID string) (*domain.ProjectDetail, error)
	CreateTask(ctx context.Context, userID, projectID string, in domain.NewTask) (*domain.Task, error)
	UpdateTask(ctx context.Context, userID, taskID string, upd domain.TaskUpdate) (*domain.Task, error)
	MoveTask(ctx context.Context, userID, taskID string, mv domain.MoveRequest) (*domain.Task, error)
}

// Identities covers sign-in, the waitlist and the admin whitelist.
type Identities interface {
	SignIn(ctx context.Context, id domain.GitHubIdentity) (*domain.User, error)
	User(ctx context.Context, userID string) (*domain.User, error)
	JoinWaitlist(ctx context.Context, email string) error
	ListWaitlist(ctx context.Context) ([]domain.WaitlistEntry, error)
	ListWhitelist(ctx context.Context) ([]domain.WhitelistEntry, error)
	AddToWhitelist(ctx context.Context, email string) (*domain.WhitelistEntry, error)
	RemoveFromWhitelist(ctx context.Context, email string) error
}

// Sessions stores server-side login sessions.
type Sessions interface {
	Create(ctx context.Context, userID string) (string, error)
	Lookup(ctx context.Context, sid string) (string, error)
	Revoke(ctx context.Context, sid string) error
	TTL() time.Duration
}

// GitHub proxies repository data with the user's own token.
type GitHub interface {
	Owners(ctx context.Context, token string) ([]githubapi.Owner, error)
	Repos(ctx context.Context, token, owner string) ([]githubapi.Repo, error)
	Identity(ctx context.Context, token string) (domain.GitHubIdentity, error)
}

// BoardFeed opens a pub/sub subscription to one project's board events.
type BoardFeed interface {
	Subscribe(ctx context.Context, projectID string) *redis.PubSub
}

// ActivityReader returns recent board events for a project.
type ActivityReader interface {
	Recent(ctx context.Context, projectID string, limit int) ([]domain.BoardEvent, error)
}

// Idempotency guards task creation against replays of the same request.
type Idempotency interface {
	Begin(ctx context.Context, userID, key string) (stored []byte, started bool, err error)
	Complete(ctx context.Context, userID, key string, payload []byte) error
	Remove(ctx context.Context, userID, key string) error
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error
