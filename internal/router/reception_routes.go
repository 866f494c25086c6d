package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/escape-reception/internal/handler"
)

// RegisterReception registers the guest endpoints under /v1.  None of them
// require a JWT; the reservation token is checked by the handlers.  limit
// is applied to every route and cache only to the leaderboard.
func RegisterReception(e *echo.Echo, h *handler.ReceptionHandler, limit, cache echo.MiddlewareFunc) {
	g := e.Group("/v1", limit)

	g.GET("/slots/availability", h.Availability)
	g.POST("/slots/book", h.Book)

	// check-id lookup behind the printed QR code
	g.GET("/reservations/:id", h.GetReservation)
	g.POST("/reservations/:id/check-in", h.CheckIn)
	g.DELETE("/reservations/:id", h.Cancel)

	g.GET("/ranking", h.Ranking, cache)
}
