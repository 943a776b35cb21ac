// Package githubapi reads owners, repositories and identities from GitHub on
// behalf of a signed-in user.
package githubapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/go-github/v66/github"

	"tandem/domain"
)

// ErrTokenRejected is returned when GitHub refuses the stored OAuth token.
var ErrTokenRejected = errors.New("github token rejected")

type Owner struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatarUrl"`
	Type      string `json:"type"`
	ID        int64  `json:"id"`
}

type Repo struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	FullName    string  `json:"fullName"`
	Description *string `json:"description"`
	Private     bool    `json:"private"`
	URL         string  `json:"url"`
}

// Client builds per-token GitHub clients sharing one HTTP client.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
}

func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient}
}

// WithBaseURL points the client at another API root, such as GitHub Enterprise
// or a test server.
func (c *Client) WithBaseURL(raw string) (*Client, error) {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &Client{httpClient: c.httpClient, baseURL: u}, nil
}

func (c *Client) forToken(token string) *github.Client {
	gh := github.NewClient(c.httpClient).WithAuthToken(token)
	if c.baseURL != nil {
		gh.BaseURL = c.baseURL
	}
	return gh
}

func wrap(err error, op string) error {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", op, ErrTokenRejected)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Owners lists the authenticated user followed by their organisations.
func (c *Client) Owners(ctx context.Context, token string) ([]Owner, error) {
	gh := c.forToken(token)

	var (
		wg      sync.WaitGroup
		user    *github.User
		orgs    []*github.Organization
		userErr error
		orgsErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		user, _, userErr = gh.Users.Get(ctx, "")
	}()
	go func() {
		defer wg.Done()
		orgs, _, orgsErr = gh.Organizations.List(ctx, "", &github.ListOptions{PerPage: 100})
	}()
	wg.Wait()
	if userErr != nil {
		return nil, wrap(userErr, "get user")
	}
	if orgsErr != nil {
		return nil, wrap(orgsErr, "list orgs")
	}

	owners := make([]Owner, 0, len(orgs)+1)
	owners = append(owners, Owner{Login: user.GetLogin(), AvatarURL: user.GetAvatarURL(), Type: "User", ID: user.GetID()})
	for _, o := range orgs {
		owners = append(owners, Owner{Login: o.GetLogin(), AvatarURL: o.GetAvatarURL(), Type: "Organization", ID: o.GetID()})
	}
	return owners, nil
}

// Repos lists repositories for owner. The user's own login lists everything
// they can access; any other owner is treated as an organisation.
func (c *Client) Repos(ctx context.Context, token, owner string) ([]Repo, error) {
	gh := c.forToken(token)
	user, _, err := gh.Users.Get(ctx, "")
	if err != nil {
		return nil, wrap(err, "get user")
	}

	var repos []*github.Repository
	if strings.EqualFold(owner, user.GetLogin()) {
		repos, _, err = gh.Repositories.ListByAuthenticatedUser(ctx, &github.RepositoryListByAuthenticatedUserOptions{
			Visibility:  "all",
			Sort:        "updated",
			Affiliation: "owner,collaborator,organization_member",
			ListOptions: github.ListOptions{PerPage: 100},
		})
	} else {
		repos, _, err = gh.Repositories.ListByOrg(ctx, owner, &github.RepositoryListByOrgOptions{
			Sort:        "updated",
			ListOptions: github.ListOptions{PerPage: 10},
		})
	}
	if err != nil {
		return nil, wrap(err, "list repos for "+owner)
	}

	out := make([]Repo, 0, len(repos))
	for _, r := range repos {
		out = append(out, Repo{
			ID:          strconv.FormatInt(r.GetID(), 10),
			Name:        r.GetName(),
			FullName:    r.GetFullName(),
			Description: r.Description,
			Private:     r.GetPrivate(),
			URL:         r.GetHTMLURL(),
		})
	}
	return out, nil
}

// Identity resolves the user behind token. When the public profile hides the
// email address the primary verified one is used.
func (c *Client) Identity(ctx context.Context, token string) (domain.GitHubIdentity, error) {
	gh := c.forToken(token)
	user, _, err := gh.Users.Get(ctx, "")
	if err != nil {
		return domain.GitHubIdentity{}, wrap(err, "get user")
	}
	id := domain.GitHubIdentity{
		ID:          user.GetID(),
		Login:       user.GetLogin(),
		Name:        user.GetName(),
		Email:       user.GetEmail(),
		AvatarURL:   user.GetAvatarURL(),
		AccessToken: token,
	}
	if id.Email != "" {
		return id, nil
	}
	emails, _, err := gh.Users.ListEmails(ctx, &github.ListOptions{PerPage: 100})
	if err != nil {
		return domain.GitHubIdentity{}, wrap(err, "list emails")
	}
	for _, e := range emails {
		if e.GetPrimary() && e.GetVerified() {
			id.Email = e.GetEmail()
			break
		}
	}
	return id, nil
}
