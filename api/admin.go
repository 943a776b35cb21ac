package api

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"tandem/domain"
)

type emailRequest struct {
	Email string `json:"email"`
}

type waitlistResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func joinWaitlist(ids Identities) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req emailRequest
		if err := decodeStrict(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("invalid body"))
		}
		if err := ids.JoinWaitlist(c.Request().Context(), req.Email); err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, waitlistResponse{Success: true, Message: "Added to waitlist"})
	}
}

func listWaitlist(ids Identities) echo.HandlerFunc {
	return func(c echo.Context) error {
		entries, err := ids.ListWaitlist(c.Request().Context())
		if err != nil {
			return err
		}
		if entries == nil {
			entries = []domain.WaitlistEntry{}
		}
		return c.JSON(http.StatusOK, entries)
	}
}

func listWhitelist(ids Identities) echo.HandlerFunc {
	return func(c echo.Context) error {
		entries, err := ids.ListWhitelist(c.Request().Context())
		if err != nil {
			return err
		}
		if entries == nil {
			entries = []domain.WhitelistEntry{}
		}
		return c.JSON(http.StatusOK, entries)
	}
}

func addWhitelist(ids Identities) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req emailRequest
		if err := decodeStrict(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("invalid body"))
		}
		entry, err := ids.AddToWhitelist(c.Request().Context(), req.Email)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, entry)
	}
}

func removeWhitelist(ids Identities) echo.HandlerFunc {
	return func(c echo.Context) error {
		email, err := url.PathUnescape(c.Param("email"))
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("invalid email"))
		}
		if err := ids.RemoveFromWhitelist(c.Request().Context(), email); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
