package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"tandem/domain"
)

func listProjects(svc Projects) echo.HandlerFunc {
	return func(c echo.Context) error {
		projects, err := svc.ListProjects(c.Request().Context(), currentUserID(c))
		if err != nil {
			return writeError(c, err)
		}
		if projects == nil {
			projects = []domain.Project{}
		}
		return c.JSON(http.StatusOK, projects)
	}
}

func getProject(svc Projects) echo.HandlerFunc {
	return func(c echo.Context) error {
		detail, err := svc.GetProject(c.Request().Context(), currentUserID(c), c.Param("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, detail)
	}
}

func createProject(svc Projects) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.NewProject
		if err := decodeStrict(c, &in); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("invalid body"))
		}
		p, err := svc.CreateProject(c.Request().Context(), currentUserID(c), in)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, p)
	}
}

func projectActivity(svc Projects, activity ActivityReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		projectID := c.Param("id")
		if err := svc.Authorize(ctx, currentUserID(c), projectID); err != nil {
			return writeError(c, err)
		}
		if activity == nil {
			return c.JSON(http.StatusOK, []domain.BoardEvent{})
		}
		events, err := activity.Recent(ctx, projectID, activityPageSize)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, events)
	}
}
