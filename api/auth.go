package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"

	"tandem/domain"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	defaultCookieName   = "tandem_session"
	sessionIssuer       = "tandem"
	ctxUserID           = "userID"
	ctxAuthDuration     = "authDuration"
)

var errSessionRevoked = errors.New("session expired")

// Auth validates session tokens issued after GitHub sign-in and, when a JWKS
// is configured, RS256 bearer tokens from an external identity provider whose
// subject is a tandem user id.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	Secret     []byte
	CookieName string

	sessions    Sessions
	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates an Auth signing sessions with secret.
func NewAuth(secret []byte, sessions Sessions, jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	methods := []string{"HS256"}
	if jwks != nil {
		methods = append(methods, "RS256")
	}
	return &Auth{
		JWKS:        jwks,
		Audience:    audience,
		Issuer:      issuer,
		Secret:      secret,
		CookieName:  defaultCookieName,
		sessions:    sessions,
		parser:      jwt.NewParser(jwt.WithValidMethods(methods)),
		keyCacheTTL: defaultJWKSCacheTTL,
	}
}

// StartSession opens a server-side session for userID and returns the signed
// token to place in the session cookie.
func (a *Auth) StartSession(ctx context.Context, userID string) (string, time.Time, error) {
	sid, err := a.sessions.Create(ctx, userID)
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now()
	expires := now.Add(a.sessions.TTL())
	claims := jwt.MapClaims{
		"sub": userID,
		"sid": sid,
		"iss": sessionIssuer,
		"iat": now.Unix(),
		"exp": expires.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
	if err != nil {
		_ = a.sessions.Revoke(ctx, sid)
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return signed, expires, nil
}

// EndSession revokes the session carried by r. Requests without a valid
// session token are ignored.
func (a *Auth) EndSession(r *http.Request) error {
	token, err := a.tokenFromRequest(r)
	if err != nil {
		return nil
	}
	parsed, claims, err := a.parse(token)
	if err != nil || parsed.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil
	}
	sid, _ := claims["sid"].(string)
	if sid == "" {
		return nil
	}
	return a.sessions.Revoke(r.Context(), sid)
}

// UserIDFromRequest authenticates the session cookie, falling back to the
// Authorization header.
func (a *Auth) UserIDFromRequest(r *http.Request) (string, error) {
	token, err := a.tokenFromRequest(r)
	if err != nil {
		return "", err
	}
	return a.UserIDFromToken(r.Context(), token)
}

func (a *Auth) tokenFromRequest(r *http.Request) (string, error) {
	if c, err := r.Cookie(a.CookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return bearerTokenFromHeader(r.Header)
}

// UserIDFromToken validates a raw JWT and returns its subject.
func (a *Auth) UserIDFromToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", errBadAuthorization
	}
	parsed, claims, err := a.parse(token)
	if err != nil {
		return "", err
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return "", errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return "", errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now, false) {
		return "", errors.New("token used before issued")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}

	if parsed.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		if a.Audience != "" && !claims.VerifyAudience(a.Audience, false) {
			return "", errors.New("invalid audience")
		}
		if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false) {
			return "", errors.New("invalid issuer")
		}
		return sub, nil
	}

	if !claims.VerifyIssuer(sessionIssuer, true) {
		return "", errors.New("invalid issuer")
	}
	sid, _ := claims["sid"].(string)
	if sid == "" {
		return "", errors.New("missing sid")
	}
	owner, err := a.sessions.Lookup(ctx, sid)
	if errors.Is(err, domain.ErrNotFound) {
		return "", errSessionRevoked
	}
	if err != nil {
		return "", err
	}
	if owner != sub {
		return "", errSessionRevoked
	}
	return sub, nil
}

func (a *Auth) parse(token string) (*jwt.Token, jwt.MapClaims, error) {
	parsed, err := a.parser.Parse(token, func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			return a.Secret, nil
		case *jwt.SigningMethodRSA:
			return a.keyForToken(t)
		}
		return nil, errors.New("invalid signing method")
	})
	if err != nil {
		return nil, nil, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, nil, errors.New("invalid claims")
	}
	return parsed, claims, nil
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}

func requireSession(auth *Auth) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			userID, err := auth.UserIDFromRequest(c.Request())
			c.Set(ctxAuthDuration, time.Since(start))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, errorBody("Unauthorized"))
			}
			c.Set(ctxUserID, userID)
			return next(c)
		}
	}
}

// requireAdmin must run after requireSession.
func requireAdmin(ids Identities) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u, err := ids.User(c.Request().Context(), currentUserID(c))
			if errors.Is(err, domain.ErrNotFound) {
				return c.JSON(http.StatusUnauthorized, errorBody("Unauthorized"))
			}
			if err != nil {
				return err
			}
			if !u.IsAdmin() {
				return c.JSON(http.StatusForbidden, errorBody("Forbidden"))
			}
			return next(c)
		}
	}
}

func currentUserID(c echo.Context) string {
	id, _ := c.Get(ctxUserID).(string)
	return id
}

func authDuration(c echo.Context) time.Duration {
	d, _ := c.Get(ctxAuthDuration).(time.Duration)
	return d
}

func setSessionCookie(c echo.Context, name, token string, expires time.Time, secure bool) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(c echo.Context, name string, secure bool) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
