package api

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/oauth2"

	"tandem/domain"
	"tandem/githubapi"
	"tandem/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type mockGitHub struct {
	identity domain.GitHubIdentity
	owners   []githubapi.Owner
	repos    map[string][]githubapi.Repo
	err      error
	tokens   []string
}

func (m *mockGitHub) Owners(ctx context.Context, token string) ([]githubapi.Owner, error) {
	m.tokens = append(m.tokens, token)
	return m.owners, m.err
}

func (m *mockGitHub) Repos(ctx context.Context, token, owner string) ([]githubapi.Repo, error) {
	m.tokens = append(m.tokens, token)
	return m.repos[owner], m.err
}

func (m *mockGitHub) Identity(ctx context.Context, token string) (domain.GitHubIdentity, error) {
	m.tokens = append(m.tokens, token)
	id := m.identity
	id.AccessToken = token
	return id, m.err
}

type syncPublisher struct{ bus *storage.BoardBus }

func (p syncPublisher) Publish(ctx context.Context, ev domain.BoardEvent) {
	_ = p.bus.Send(ctx, ev)
}

type testEnv struct {
	e        *echo.Echo
	db       *storage.DB
	rc       *redis.Client
	mr       *miniredis.Miniredis
	auth     *Auth
	gh       *mockGitHub
	bus      *storage.BoardBus
	logger   *log.Logger
	hook     *test.Hook
	projects domain.ProjectService
	ids      domain.IdentityService
}

type envOption func(*Deps)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.DriverSQLite, ":memory:", storage.PoolOptions{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	logger, hook := test.NewNullLogger()
	bus := storage.NewBoardBus(rc)
	env := &testEnv{
		db:       db,
		rc:       rc,
		mr:       mr,
		auth:     NewAuth([]byte(testSecret), storage.NewSessionStore(rc, time.Hour), nil, "", ""),
		gh:       &mockGitHub{repos: map[string][]githubapi.Repo{}},
		bus:      bus,
		logger:   logger,
		hook:     hook,
		projects: domain.NewProjectService(db, syncPublisher{bus: bus}),
		ids:      domain.NewIdentityService(db, []string{"admin@example.com"}),
	}

	deps := Deps{
		Projects: env.projects,
		Identity: env.ids,
		Auth:     env.auth,
		GitHub:   env.gh,
		OAuth: &oauth2.Config{
			ClientID:     "client",
			ClientSecret: "secret",
			Endpoint:     oauth2.Endpoint{AuthURL: "https://github.test/login/oauth/authorize", TokenURL: "https://github.test/login/oauth/access_token"},
			RedirectURL:  "http://api.test/api/auth/github/callback",
			Scopes:       []string{"read:user", "user:email"},
		},
		OAuthState:  NewOAuthStateStore([]byte(testSecret), false),
		Feed:        bus,
		Idempotency: NewRedisIdempotency(rc, time.Hour),
		Logger:      logger,
		FrontendURL: "http://app.test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(logger)
	e.Use(GzipRequestMiddleware())
	Register(e, deps)
	env.e = e
	return env
}

func (env *testEnv) user(t *testing.T, githubID int64, email string) *domain.User {
	t.Helper()
	u := &domain.User{Name: email, Email: email, GithubID: githubID, GithubLogin: strings.Split(email, "@")[0], GithubToken: "gh-" + email}
	if email == "admin@example.com" {
		u.Role = domain.UserRoleAdmin
	}
	if err := env.db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (env *testEnv) login(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := env.auth.StartSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return token
}

func (env *testEnv) project(t *testing.T, ownerID, title string) *domain.Project {
	t.Helper()
	p, err := env.projects.CreateProject(context.Background(), ownerID, domain.NewProject{Title: title})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func (env *testEnv) do(t *testing.T, method, path, body, token string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := sonic.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, want int) errorResponse {
	t.Helper()
	expectStatus(t, rec, want)
	body := decodeBody[errorResponse](t, rec)
	if body.Status != "error" || body.Message == "" {
		t.Fatalf("unexpected error body %s", rec.Body.String())
	}
	return body
}
