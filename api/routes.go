package api

import (
	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// Deps are the collaborators handlers need. Activity and Idempotency may be
// nil when the corresponding backends are not configured.
type Deps struct {
	Projects    Projects
	Identity    Identities
	Auth        *Auth
	GitHub      GitHub
	OAuth       *oauth2.Config
	OAuthState  sessions.Store
	Feed        BoardFeed
	Activity    ActivityReader
	Idempotency Idempotency
	Health      map[string]HealthCheck
	Logger      *log.Logger

	FrontendURL  string
	CookieSecure bool
	Version      string
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	if d.Version == "" {
		d.Version = "1.0.0"
	}

	e.GET("/", root(d.Version))
	e.GET("/api/health", health)
	e.GET("/status", status(d.Health))
	e.GET("/status/ping", ping)

	oauth := e.Group("/api/auth/github", session.Middleware(d.OAuthState))
	oauth.GET("/login", githubLogin(d.OAuth))
	oauth.GET("/callback", githubCallback(d))
	e.POST("/api/auth/sign-out", signOut(d))
	e.POST("/api/waitlist", joinWaitlist(d.Identity))

	// SSE authenticates itself so EventSource clients can pass ?token=.
	e.GET("/api/projects/:id/stream", streamBoard(d.Projects, d.Auth, d.Feed, d.Logger))

	authed := e.Group("/api", requireSession(d.Auth))
	authed.GET("/auth/session", getSession(d.Identity))

	authed.GET("/github/owners", githubOwners(d.Identity, d.GitHub))
	authed.GET("/github/repos/:owner", githubRepos(d.Identity, d.GitHub))

	authed.GET("/projects", listProjects(d.Projects))
	authed.POST("/projects", createProject(d.Projects))
	authed.GET("/projects/:id", getProject(d.Projects))
	authed.GET("/projects/:id/activity", projectActivity(d.Projects, d.Activity))
	authed.POST("/projects/:id/tasks", createTask(d.Projects, d.Idempotency, d.Logger))
	authed.PATCH("/projects/tasks/:taskId", updateTask(d.Projects, d.Logger))
	authed.POST("/projects/tasks/:taskId/move", moveTask(d.Projects, d.Logger))

	admin := authed.Group("/admin", requireAdmin(d.Identity))
	admin.GET("/whitelist", listWhitelist(d.Identity))
	admin.POST("/whitelist", addWhitelist(d.Identity))
	admin.DELETE("/whitelist/:email", removeWhitelist(d.Identity))
	admin.GET("/waitlist", listWaitlist(d.Identity))
}
