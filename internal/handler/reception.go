package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/escape-reception/internal/booking"
	"github.com/iliyamo/escape-reception/internal/game"
	"github.com/iliyamo/escape-reception/internal/logger"
	"github.com/iliyamo/escape-reception/internal/model"
	"github.com/iliyamo/escape-reception/internal/queue"
	"github.com/iliyamo/escape-reception/internal/repository"
	"github.com/iliyamo/escape-reception/internal/token"
)

// rankingSize is how many groups the leaderboard shows per difficulty.
const rankingSize = 5

// ReceptionHandler serves the guest endpoints: availability, booking, the
// check-id lookup behind the printed QR code, check-in, cancellation and
// the leaderboard.  None of them require an account; the reservation
// token is the guest's credential.
type ReceptionHandler struct {
	Ledger   *booking.Ledger
	Auth     *token.Authority
	Store    repository.ReservationStore
	Game     *game.Controller
	Notifier game.Notifier // optional
	VenueTZ  *time.Location
	BaseURL  string
	Now      func() time.Time
}

func (h *ReceptionHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *ReceptionHandler) publish(c echo.Context, ev queue.ReceptionEvent) {
	if h.Notifier == nil {
		return
	}
	if err := h.Notifier.Publish(c.Request().Context(), ev); err != nil {
		logger.WarnContext(c.Request().Context(), "event dropped", "type", ev.Type, "error", err)
	}
}

// Availability handles GET /v1/slots/availability?time=.
func (h *ReceptionHandler) Availability(c echo.Context) error {
	slot, err := booking.ParseSlot(c.QueryParam("time"), h.VenueTZ, h.now())
	if err != nil {
		return writeError(c, err)
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	a, err := h.Ledger.RemainingCapacity(ctx, slot)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

type bookReq struct {
	Start string `json:"start" validate:"required"`
	Count int    `json:"count" validate:"required,min=1"`
}

var bookMessages = fieldMessages{
	"Start": {"required": "start is required"},
	"Count": {"required": "count is required", "min": "count must be at least 1"},
}

// bookingResp is what a guest needs to print their QR code.
type bookingResp struct {
	ID       uint64    `json:"id"`
	Token    string    `json:"token"`
	URL      string    `json:"url"`
	SlotTime time.Time `json:"slot_time"`
}

// Book handles POST /v1/slots/book.  It returns 201 with the reservation id
// and its current token, or 409 with the remaining capacity.
func (h *ReceptionHandler) Book(c echo.Context) error {
	var req bookReq
	if !bindValid(c, &req, bookMessages, "invalid booking") {
		return nil
	}
	slot, err := booking.ParseSlot(req.Start, h.VenueTZ, h.now())
	if err != nil {
		return writeError(c, err)
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	r, err := h.Ledger.Reserve(ctx, slot, req.Count)
	if err != nil {
		return writeError(c, err)
	}
	tok := h.Auth.TokenFor(r)
	slotTime := r.SlotTime
	h.publish(c, queue.ReceptionEvent{
		Type:          queue.EventBooked,
		ReservationID: r.ID,
		PartySize:     r.PartySize,
		SlotTime:      &slotTime,
		OccurredAt:    h.now().UTC(),
	})
	return c.JSON(http.StatusCreated, bookingResp{
		ID:       r.ID,
		Token:    tok,
		URL:      token.CheckURL(h.BaseURL, r.ID, tok),
		SlotTime: r.SlotTime,
	})
}

// reservationView is the guest facing summary of a reservation.
type reservationView struct {
	ID             uint64     `json:"id"`
	SlotTime       time.Time  `json:"slot_time"`
	PartySize      int        `json:"party_size"`
	CheckedIn      bool       `json:"checked_in"`
	Cancelled      bool       `json:"cancelled"`
	DisplayName    string     `json:"display_name"`
	Difficulty     string     `json:"difficulty"`
	Status         string     `json:"status"`
	GameStartedAt  *time.Time `json:"game_started_at,omitempty"`
	ElapsedSeconds *int       `json:"elapsed_seconds,omitempty"`
}

func viewOf(r *model.Reservation) reservationView {
	status := "booked"
	switch {
	case r.Cancelled:
		status = "cancelled"
	case r.Ended():
		status = "finished"
	case r.Running():
		status = "playing"
	case r.CheckedIn:
		status = "checked_in"
	}
	return reservationView{
		ID:             r.ID,
		SlotTime:       r.SlotTime,
		PartySize:      r.PartySize,
		CheckedIn:      r.CheckedIn,
		Cancelled:      r.Cancelled,
		DisplayName:    r.Name(),
		Difficulty:     string(r.Difficulty),
		Status:         status,
		GameStartedAt:  r.GameStartedAt,
		ElapsedSeconds: r.ElapsedSeconds,
	}
}

// GetReservation handles GET /v1/reservations/:id?token=.  This is the page
// the QR code opens; it fails closed on a bad or expired token.
func (h *ReceptionHandler) GetReservation(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	r, err := h.Auth.Verify(ctx, h.Store, id, c.QueryParam("token"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(r))
}

type checkInReq struct {
	Token string `json:"token" validate:"required"`
	Name  string `json:"name" validate:"displayname"`
}

var checkInMessages = fieldMessages{
	"Token": {"required": "token is required"},
	"Name":  {"displayname": "name must be 32 characters or fewer without control characters"},
}

// CheckIn handles POST /v1/reservations/:id/check-in.  A first check-in (or
// a rename) answers 200; repeating it under the same name answers 202 and
// changes nothing.
func (h *ReceptionHandler) CheckIn(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	var req checkInReq
	if !bindValid(c, &req, checkInMessages, "invalid check-in") {
		return nil
	}
	name, _ := normalizeDisplayName(req.Name)

	ctx, cancel := requestCtx(c)
	defer cancel()

	res, err := h.Game.CheckIn(ctx, id, strings.TrimSpace(req.Token), name)
	if err != nil {
		return writeError(c, err)
	}
	if res.AlreadyCheckedIn {
		return c.JSON(http.StatusAccepted, echo.Map{"accepted": true, "already_checked_in": true})
	}
	return c.JSON(http.StatusOK, echo.Map{"accepted": true, "reservation": viewOf(res.Reservation)})
}

type cancelReq struct {
	Token string `json:"token" query:"token"`
}

// Cancel handles DELETE /v1/reservations/:id.  The booking is kept with its
// cancelled flag set so it stops counting toward the slot.  A group whose
// game is running cannot cancel.
func (h *ReceptionHandler) Cancel(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	var req cancelReq
	if err := c.Bind(&req); err != nil && c.Request().ContentLength != 0 {
		return badRequest(c, "invalid body")
	}
	if req.Token == "" {
		req.Token = c.QueryParam("token")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	r, err := h.Auth.Verify(ctx, h.Store, id, req.Token)
	if err != nil {
		return writeError(c, err)
	}
	if !r.Cancelled {
		if err := h.Store.Cancel(ctx, id); err != nil {
			return writeError(c, err)
		}
		h.Game.Registry().Dequeue(id)
		h.publish(c, queue.ReceptionEvent{
			Type:          queue.EventCancelled,
			ReservationID: id,
			PartySize:     r.PartySize,
			DisplayName:   r.Name(),
			OccurredAt:    h.now().UTC(),
		})
	}
	return c.NoContent(http.StatusNoContent)
}

// Ranking handles GET /v1/ranking?difficulty=.  Only games that finished
// within the ceiling are ranked.
func (h *ReceptionHandler) Ranking(c echo.Context) error {
	raw := c.QueryParam("difficulty")
	if raw == "" {
		raw = string(model.DifficultyEasy)
	}
	tier, ok := model.ParseDifficulty(raw)
	if !ok {
		return badRequest(c, "difficulty must be EASY or HARD")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	maxElapsed := int(h.Game.Ceiling() / time.Second)
	rows, err := h.Store.Ranking(ctx, tier, rankingSize, maxElapsed)
	if err != nil {
		return writeError(c, err)
	}
	if rows == nil {
		rows = []model.RankingEntry{}
	}
	return c.JSON(http.StatusOK, echo.Map{"difficulty": tier, "entries": rows})
}
