package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tandem/domain"
	"tandem/githubapi"
)

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func errorBody(msg string) errorResponse {
	return errorResponse{Status: "error", Message: msg}
}

// statusFor maps domain errors to HTTP status codes. Unknown errors map to 500.
// A signed-in user who is not a member of an existing project gets 403, not 401.
func statusFor(err error) (int, string) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden, "You are not a member of this project"
	case errors.Is(err, domain.ErrAccessDenied):
		return http.StatusForbidden, "Access denied. You are not on the whitelist."
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "Repository is already linked to a project"
	case errors.Is(err, githubapi.ErrTokenRejected):
		return http.StatusUnauthorized, "GitHub token rejected, sign in again"
	}
	return http.StatusInternalServerError, "Internal server error"
}

// writeError renders known errors and hands the rest to the HTTP error handler.
func writeError(c echo.Context, err error) error {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		return err
	}
	return c.JSON(status, errorBody(msg))
}

// ErrorHandler renders every unhandled error as {status, message} JSON.
func ErrorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := http.StatusInternalServerError
		msg := "Internal server error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(status)
			}
		} else {
			status, msg = statusFor(err)
		}
		if status >= http.StatusInternalServerError {
			logger.WithFields(log.Fields{
				"method": c.Request().Method,
				"uri":    c.Request().RequestURI,
			}).WithError(err).Error("request failed")
		}
		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, errorBody(msg))
		}
		if writeErr != nil {
			logger.WithError(writeErr).Warn("write error response")
		}
	}
}
