package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
)

const healthTimeout = 2 * time.Second

type rootResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type statusResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	System    string            `json:"system"`
	Checks    map[string]string `json:"checks,omitempty"`
}

func root(version string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, rootResponse{Name: "Tandem API", Version: version})
	}
}

func health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func ping(c echo.Context) error {
	return c.String(http.StatusOK, "pong")
}

// status runs every dependency check and reports degraded with 503 when one fails.
func status(checks map[string]HealthCheck) echo.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		resp := statusResponse{Status: "operational", Timestamp: time.Now().UTC(), System: "Tandem Backend"}
		code := http.StatusOK
		if len(names) > 0 {
			resp.Checks = make(map[string]string, len(names))
		}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		return c.JSON(code, resp)
	}
}
