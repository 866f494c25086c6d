package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/escape-reception/internal/game"
	"github.com/iliyamo/escape-reception/internal/logger"
	"github.com/iliyamo/escape-reception/internal/middleware"
	"github.com/iliyamo/escape-reception/internal/repository"
	"github.com/iliyamo/escape-reception/internal/token"
)

// StaffHandler serves the reception desk views that act on single
// reservations: the arrivals list, reissuing a QR token, overrides and hard
// deletes.
type StaffHandler struct {
	Store   repository.ReservationStore
	Auth    *token.Authority
	Game    *game.Controller
	BaseURL string
}

// Receptions handles GET /v1/staff/receptions: checked-in, non-cancelled
// reservations ordered by slot.
func (h *StaffHandler) Receptions(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()

	rows, err := h.Game.ListActiveReceptions(ctx)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]reservationView, 0, len(rows))
	for _, r := range rows {
		out = append(out, viewOf(r))
	}
	return c.JSON(http.StatusOK, out)
}

// FreshToken handles GET /v1/staff/reservations/:id/token.  It returns the
// token valid right now, for reprinting a lost or expired QR code.
func (h *StaffHandler) FreshToken(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	r, err := h.Store.Get(ctx, id)
	if err != nil {
		return writeError(c, err)
	}
	tok := h.Auth.TokenFor(r)
	return c.JSON(http.StatusOK, echo.Map{
		"id":     r.ID,
		"token":  tok,
		"url":    token.CheckURL(h.BaseURL, r.ID, tok),
		"pinned": r.GameStarted(),
	})
}

// Delete handles DELETE /v1/staff/reservations/:id.  Unlike the guest
// cancel this removes the row, including any recorded result.
func (h *StaffHandler) Delete(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	if err := h.Store.Delete(ctx, id); err != nil {
		return writeError(c, err)
	}
	h.Game.Registry().Dequeue(id)
	h.Game.Registry().Forget(id)
	staff, _ := middleware.StaffID(c)
	logger.InfoContext(ctx, "reservation deleted", "reservation_id", id, "staff_id", staff)
	return c.NoContent(http.StatusNoContent)
}

type checkReq struct {
	Checked *bool `json:"checked" validate:"required"`
}

// SetChecked handles POST /v1/staff/reservations/:id/check, the manual
// check-in override for guests who cannot scan.
func (h *StaffHandler) SetChecked(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	var req checkReq
	if !bindValid(c, &req, fieldMessages{"Checked": {"required": "checked is required"}}, "") {
		return nil
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	if err := h.Store.SetCheckedIn(ctx, id, *req.Checked); err != nil {
		return writeError(c, err)
	}
	if !*req.Checked {
		h.Game.Registry().Dequeue(id)
	}
	r, err := h.Store.Get(ctx, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(r))
}
