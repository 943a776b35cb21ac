package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// githubToken returns the OAuth token stored for the current user.
func githubToken(c echo.Context, ids Identities) (string, error) {
	u, err := ids.User(c.Request().Context(), currentUserID(c))
	if err != nil {
		return "", err
	}
	return u.GithubToken, nil
}

func githubOwners(ids Identities, gh GitHub) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, err := githubToken(c, ids)
		if err != nil {
			return writeError(c, err)
		}
		if token == "" {
			return c.JSON(http.StatusUnauthorized, errorBody("No GitHub token on file, sign in again"))
		}
		owners, err := gh.Owners(c.Request().Context(), token)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, owners)
	}
}

func githubRepos(ids Identities, gh GitHub) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner := strings.TrimSpace(c.Param("owner"))
		if owner == "" {
			return c.JSON(http.StatusBadRequest, errorBody("owner is required"))
		}
		token, err := githubToken(c, ids)
		if err != nil {
			return writeError(c, err)
		}
		if token == "" {
			return c.JSON(http.StatusUnauthorized, errorBody("No GitHub token on file, sign in again"))
		}
		repos, err := gh.Repos(c.Request().Context(), token, owner)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, repos)
	}
}
