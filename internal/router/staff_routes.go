package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/escape-reception/internal/handler"
	"github.com/iliyamo/escape-reception/internal/middleware"
	"github.com/iliyamo/escape-reception/internal/model"
)

// RegisterStaff registers the reception desk and game floor endpoints under
// /v1/staff.  All routes require a valid JWT and the STAFF role.
func RegisterStaff(e *echo.Echo, s *handler.StaffHandler, g *handler.GameHandler, a *handler.AuthHandler, jwtSecret string) {
	staff := e.Group(
		"/v1/staff",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleStaff),
	)

	// ---- Accounts ----
	staff.POST("/users", a.CreateStaff)

	// ---- Reservations ----
	staff.GET("/receptions", s.Receptions)
	staff.GET("/reservations/:id/token", s.FreshToken)
	staff.POST("/reservations/:id/check", s.SetChecked)
	staff.DELETE("/reservations/:id", s.Delete)

	// ---- Game floor ----
	staff.GET("/game", g.State)
	staff.POST("/game/queue", g.Queue)
	staff.POST("/game/difficulty", g.Difficulty)
	staff.POST("/game/start", g.StartBatch)
	staff.POST("/game/stop-all", g.StopAll)
	staff.POST("/game/scan", g.Scan)
	staff.POST("/game/reset", g.Reset)
	staff.POST("/game/:id/start", g.Start)
	staff.POST("/game/:id/stop", g.Stop)
}
