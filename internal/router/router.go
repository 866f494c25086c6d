package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/escape-reception/internal/handler"    // import the handlers that implement business logic
	"github.com/iliyamo/escape-reception/internal/middleware" // import middleware for JWT authentication and role enforcement
	"github.com/iliyamo/escape-reception/internal/model"
)

// New returns an Echo instance with the process wide middleware installed:
// panic recovery, request ids and access logging.  Request bodies are
// capped since no endpoint takes more than a few fields.
func New() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.Use(
		echomw.Recover(),
		middleware.RequestID(),
		middleware.AccessLog(),
		echomw.BodyLimit("64K"),
	)
	return e
}

// RegisterRoutes registers routes that do not require authentication and
// are not part of the guest API.  Currently it exposes only the health
// check, backed by the given dependency probes.
func RegisterRoutes(e *echo.Echo, checks map[string]handler.Check) {
	e.GET("/healthz", handler.Health(checks))
}

// RegisterAuth registers the staff authentication routes.  Token exchange
// lives under /v1/auth and needs no session; /v1/me requires a valid
// staff access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/login", a.Login)
	// rotates the refresh token
	g.POST("/refresh", a.Refresh)
	// new access token, same refresh token
	g.POST("/refresh-access", a.RefreshAccess)
	// accepts a refresh token in the body or a bearer access token
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleStaff),
	)
	auth.GET("/me", a.Me)
}
