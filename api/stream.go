package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const streamKeepAlive = 25 * time.Second

// streamBoard pushes every board event of a project to the client as SSE.
// Clients refetch the board on each event. Browsers that cannot set headers
// on EventSource may pass the session token as ?token=.
func streamBoard(svc Projects, auth *Auth, feed BoardFeed, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromRequest(c.Request())
		if err != nil {
			if token := c.QueryParam("token"); token != "" {
				userID, err = auth.UserIDFromToken(ctx, token)
			}
		}
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorBody("Unauthorized"))
		}
		projectID := c.Param("id")
		if err := svc.Authorize(ctx, userID, projectID); err != nil {
			return writeError(c, err)
		}
		if feed == nil {
			return c.JSON(http.StatusServiceUnavailable, errorBody("stream unavailable"))
		}
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.JSON(http.StatusInternalServerError, errorBody("stream unsupported"))
		}

		sub := feed.Subscribe(ctx, projectID)
		defer sub.Close()
		// wait for the subscription to be confirmed so no event is missed
		if _, err := sub.Receive(ctx); err != nil {
			return err
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)

		fields := log.Fields{"project": projectID, "user": userID}
		logger.WithFields(fields).Debug("stream opened")
		defer logger.WithFields(fields).Debug("stream closed")

		if _, err := fmt.Fprintf(c.Response(), "event: ready\ndata: {\"projectId\":%q}\n\n", projectID); err != nil {
			return nil
		}
		flusher.Flush()

		msgs := sub.Channel()
		ticker := time.NewTicker(streamKeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-msgs:
				if !ok {
					return nil
				}
				if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", msg.Payload); err != nil {
					logger.WithFields(fields).WithError(err).Debug("stream write failed")
					return nil
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := c.Response().Write([]byte(": keep-alive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}
