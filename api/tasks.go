package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tandem/domain"
)

const replayedHeader = "Idempotent-Replayed"

// responseStatus is the status the request will finish with once err, if any,
// has gone through the error handler.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	code, _ := statusFor(err)
	return code
}

func createTask(svc Projects, idem Idempotency, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newBoardRequestMetrics(c.Request().Context(), logger, "/api/projects/:id/tasks")
		c.SetRequest(c.Request().WithContext(ctx))
		var opErr error
		defer func() {
			if opErr == nil {
				opErr = err
			}
			metrics.Log(responseStatus(c, err), opErr)
		}()
		metrics.ObserveAuth(authDuration(c))

		userID := currentUserID(c)
		projectID := c.Param("id")
		metrics.SetProject(projectID)

		var in domain.NewTask
		if decodeErr := decodeStrict(c, &in); decodeErr != nil {
			metrics.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, errorBody("invalid body"))
		}

		key := strings.TrimSpace(c.Request().Header.Get(idempotencyHeader))
		if len(key) > maxIdempotencyKey {
			metrics.SetErrorStage("idempotency")
			return c.JSON(http.StatusBadRequest, errorBody("Idempotency-Key too long"))
		}
		scoped := projectID + ":" + key
		owned := false
		if key != "" && idem != nil {
			stored, started, beginErr := idem.Begin(ctx, userID, scoped)
			switch {
			case beginErr != nil:
				// degrade to a plain create rather than rejecting the request
				logger.WithError(beginErr).Warn("idempotency store unavailable")
			case !started && stored == nil:
				metrics.SetErrorStage("idempotency")
				return c.JSON(http.StatusConflict, errorBody("A request with this Idempotency-Key is still in progress"))
			case !started:
				metrics.SetReplayed(true)
				c.Response().Header().Set(replayedHeader, "true")
				return c.JSONBlob(http.StatusCreated, stored)
			default:
				owned = true
			}
		}

		storeStart := time.Now()
		t, opErr := svc.CreateTask(ctx, userID, projectID, in)
		metrics.ObserveStore(time.Since(storeStart))
		if opErr != nil {
			if owned {
				if rmErr := idem.Remove(ctx, userID, scoped); rmErr != nil {
					logger.WithError(rmErr).Warn("release idempotency key")
				}
			}
			metrics.SetErrorStage("store")
			return writeError(c, opErr)
		}
		metrics.SetTask(t.ID)

		body, err := sonic.Marshal(t)
		if err != nil {
			metrics.SetErrorStage("encode_response")
			return err
		}
		if owned {
			if doneErr := idem.Complete(ctx, userID, scoped, body); doneErr != nil {
				logger.WithError(doneErr).Warn("record idempotent response")
			}
		}
		return c.JSONBlob(http.StatusCreated, body)
	}
}

func updateTask(svc Projects, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newBoardRequestMetrics(c.Request().Context(), logger, "/api/projects/tasks/:taskId")
		c.SetRequest(c.Request().WithContext(ctx))
		var opErr error
		defer func() {
			if opErr == nil {
				opErr = err
			}
			metrics.Log(responseStatus(c, err), opErr)
		}()
		metrics.ObserveAuth(authDuration(c))

		taskID := c.Param("taskId")
		metrics.SetTask(taskID)

		var upd domain.TaskUpdate
		if decodeErr := decodePatch(c, &upd); decodeErr != nil {
			metrics.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, errorBody("invalid body"))
		}

		storeStart := time.Now()
		t, opErr := svc.UpdateTask(ctx, currentUserID(c), taskID, upd)
		metrics.ObserveStore(time.Since(storeStart))
		if opErr != nil {
			metrics.SetErrorStage("store")
			return writeError(c, opErr)
		}
		metrics.SetProject(t.ProjectID)
		return c.JSON(http.StatusOK, t)
	}
}

func moveTask(svc Projects, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newBoardRequestMetrics(c.Request().Context(), logger, "/api/projects/tasks/:taskId/move")
		c.SetRequest(c.Request().WithContext(ctx))
		var opErr error
		defer func() {
			if opErr == nil {
				opErr = err
			}
			metrics.Log(responseStatus(c, err), opErr)
		}()
		metrics.ObserveAuth(authDuration(c))

		taskID := c.Param("taskId")
		metrics.SetTask(taskID)

		var mv domain.MoveRequest
		if decodeErr := decodeStrict(c, &mv); decodeErr != nil {
			metrics.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, errorBody("invalid body"))
		}

		storeStart := time.Now()
		t, opErr := svc.MoveTask(ctx, currentUserID(c), taskID, mv)
		metrics.ObserveStore(time.Since(storeStart))
		if opErr != nil {
			metrics.SetErrorStage("store")
			return writeError(c, opErr)
		}
		metrics.SetProject(t.ProjectID)
		return c.JSON(http.StatusOK, t)
	}
}
