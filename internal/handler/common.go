package handler // handler defines the HTTP handlers for the reception desk and the staff console

import (
	"context"
	"errors"  // errors.Is / errors.As against the package sentinels
	"net/http"
	"strconv" // strconv converts path parameters to ids
	"time"

	"github.com/labstack/echo/v4" // echo defines request context types

	"github.com/iliyamo/escape-reception/internal/booking"
	"github.com/iliyamo/escape-reception/internal/game"
	"github.com/iliyamo/escape-reception/internal/logger"
	"github.com/iliyamo/escape-reception/internal/repository"
	"github.com/iliyamo/escape-reception/internal/token"
)

// dbTimeout bounds the storage work done by a single request.
const dbTimeout = 5 * time.Second

func requestCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), dbTimeout)
}

// parseID reads the :id path parameter as a positive reservation id.
func parseID(c echo.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	return id, err == nil && id != 0
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

// writeError maps domain errors onto HTTP responses.  Anything it does not
// recognise is logged with the request id and reported as a bare 500.
func writeError(c echo.Context, err error) error {
	var capErr *booking.CapacityError
	switch {
	case errors.As(err, &capErr):
		return c.JSON(http.StatusConflict, echo.Map{
			"error":     "slot full",
			"remaining": capErr.Remaining,
			"max":       capErr.Max,
		})
	case booking.IsValidation(err), errors.Is(err, game.ErrBadPayload):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, token.ErrInvalidToken):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
	case errors.Is(err, repository.ErrReservationNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
	case game.IsStateConflict(err):
		return c.JSON(http.StatusConflict, echo.Map{"error": "state conflict", "reason": err.Error()})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "state conflict", "reason": "game in progress"})
	case errors.Is(err, context.DeadlineExceeded):
		logger.WarnContext(c.Request().Context(), "request timed out", "error", err)
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "timeout"})
	}
	logger.ErrorContext(c.Request().Context(), "request failed", "error", err,
		"method", c.Request().Method, "route", c.Path())
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
