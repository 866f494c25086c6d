package handler // declare the package name; contains HTTP handlers

import (
	"context"
	"net/http" // net/http provides status codes and response helpers
	"sort"
	"time"

	"github.com/labstack/echo/v4" // echo is the web framework used for this project
)

// Check probes one dependency; nil means healthy.
type Check func(ctx context.Context) error

// Health returns the health‑check endpoint used by load balancers.  With no
// checks it answers a plain "ok".  Otherwise every check runs with a short
// timeout and any failure turns the answer into 503 listing the broken
// dependencies.
func Health(checks map[string]Check) echo.HandlerFunc {
	names := make([]string, 0, len(checks))
	for n := range checks {
		names = append(names, n)
	}
	sort.Strings(names)

	return func(c echo.Context) error {
		if len(names) == 0 {
			return c.String(http.StatusOK, "ok")
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		report := make(map[string]string, len(names))
		for _, n := range names {
			if err := checks[n](ctx); err != nil {
				report[n] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			report[n] = "ok"
		}
		return c.JSON(status, report)
	}
}
