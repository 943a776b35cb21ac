package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"tandem/domain"
)

const (
	oauthSessionName = "tandem_oauth"
	oauthStateKey    = "state"
	oauthStateMaxAge = 10 * 60
)

// NewOAuthStateStore returns the cookie store holding the OAuth state between
// the login redirect and the callback.
func NewOAuthStateStore(secret []byte, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/api/auth/github",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

func githubLogin(conf *oauth2.Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := session.Get(oauthSessionName, c)
		if sess == nil {
			return err
		}
		if err != nil {
			// a stale or tampered cookie yields a fresh session alongside the error
			log.WithError(err).Debug("discarding oauth state cookie")
		}
		state := uuid.NewString()
		sess.Values[oauthStateKey] = state
		if err := sess.Save(c.Request(), c.Response()); err != nil {
			return err
		}
		return c.Redirect(http.StatusFound, conf.AuthCodeURL(state))
	}
}

func githubCallback(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		sess, err := session.Get(oauthSessionName, c)
		if sess == nil {
			return err
		}
		expected, _ := sess.Values[oauthStateKey].(string)
		delete(sess.Values, oauthStateKey)
		sess.Options.MaxAge = -1
		if err := sess.Save(c.Request(), c.Response()); err != nil {
			return err
		}

		if msg := c.QueryParam("error"); msg != "" {
			return c.JSON(http.StatusBadRequest, errorBody("GitHub sign-in failed: "+msg))
		}
		if expected == "" || c.QueryParam("state") != expected {
			return c.JSON(http.StatusBadRequest, errorBody("invalid oauth state"))
		}
		code := c.QueryParam("code")
		if code == "" {
			return c.JSON(http.StatusBadRequest, errorBody("missing code"))
		}

		tok, err := d.OAuth.Exchange(ctx, code)
		if err != nil {
			d.Logger.WithError(err).Warn("oauth code exchange failed")
			return c.JSON(http.StatusUnauthorized, errorBody("GitHub authorization failed"))
		}
		identity, err := d.GitHub.Identity(ctx, tok.AccessToken)
		if err != nil {
			return writeError(c, err)
		}
		user, err := d.Identity.SignIn(ctx, identity)
		if errors.Is(err, domain.ErrAccessDenied) {
			return c.JSON(http.StatusForbidden, errorBody("Access denied. You are not on the whitelist."))
		}
		if err != nil {
			return writeError(c, err)
		}

		token, expires, err := d.Auth.StartSession(ctx, user.ID)
		if err != nil {
			return err
		}
		setSessionCookie(c, d.Auth.CookieName, token, expires, d.CookieSecure)
		d.Logger.WithFields(log.Fields{"user": user.ID, "login": user.GithubLogin}).Info("signed in")
		return c.Redirect(http.StatusFound, d.FrontendURL)
	}
}

func signOut(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := d.Auth.EndSession(c.Request()); err != nil {
			return err
		}
		clearSessionCookie(c, d.Auth.CookieName, d.CookieSecure)
		return c.NoContent(http.StatusNoContent)
	}
}

type sessionResponse struct {
	User domain.UserProfile `json:"user"`
	Role domain.UserRole    `json:"role"`
}

func getSession(ids Identities) echo.HandlerFunc {
	return func(c echo.Context) error {
		u, err := ids.User(c.Request().Context(), currentUserID(c))
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusUnauthorized, errorBody("Unauthorized"))
		}
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, sessionResponse{User: u.Profile(), Role: u.Role})
	}
}
