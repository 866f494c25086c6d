package middleware

// identity.go exposes the authenticated staff identity stored by JWTAuth and
// the subject string used to key rate limit buckets.

import (
	"context"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/escape-reception/internal/logger"
)

// StaffID returns the account id set by JWTAuth.  ok is false on routes
// that are not behind JWTAuth.
func StaffID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(ctxUserID).(uint64)
	return id, ok && id != 0
}

// Role returns the role claim set by JWTAuth, or "".
func Role(c echo.Context) string {
	r, _ := c.Get(ctxRole).(string)
	return r
}

// subject identifies the caller for rate limiting.  Guests have no
// account, so they all share "anon" and are told apart by IP.
func subject(c echo.Context) string {
	if id, ok := StaffID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}

func withUserID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, logger.UserIDKey, id)
}
