package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/escape-reception/internal/game"
	"github.com/iliyamo/escape-reception/internal/logger"
	"github.com/iliyamo/escape-reception/internal/model"
)

// Purger drops cached leaderboard responses once a new result is recorded.
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// GameHandler exposes the game floor to staff: queueing scanned groups,
// starting and stopping timers and the QR "clear" command.
type GameHandler struct {
	Game  *game.Controller
	Cache Purger // optional
}

func (h *GameHandler) purge(ctx context.Context) {
	if h.Cache == nil {
		return
	}
	if _, err := h.Cache.Purge(ctx); err != nil {
		logger.WarnContext(ctx, "ranking cache purge failed", "error", err)
	}
}

// sessionView adds the time left before the forced stop.
type sessionView struct {
	model.GameSession
	RemainingSeconds int `json:"remaining_seconds"`
}

func (h *GameHandler) views(sessions []model.GameSession) []sessionView {
	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionView{GameSession: s, RemainingSeconds: int(h.Game.Remaining(s) / time.Second)})
	}
	return out
}

// State handles GET /v1/staff/game.  The registry is reconciled with the
// store first, so a restarted server shows games that were running.
func (h *GameHandler) State(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()

	snap, err := h.Game.State(ctx)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"origin":          snap.Origin,
		"queued":          snap.Queued,
		"sessions":        h.views(snap.Sessions),
		"ceiling_seconds": snap.CeilingSeconds,
		"server_time":     snap.ServerTime,
	})
}

type queueReq struct {
	ID    uint64 `json:"id" validate:"required"`
	Token string `json:"token" validate:"required"`
}

// Queue handles POST /v1/staff/game/queue.
func (h *GameHandler) Queue(c echo.Context) error {
	var req queueReq
	if !bindValid(c, &req, fieldMessages{
		"ID":    {"required": "id is required"},
		"Token": {"required": "token is required"},
	}, "") {
		return nil
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	e, err := h.Game.Enqueue(ctx, req.ID, req.Token)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, e)
}

type difficultyReq struct {
	Difficulty string `json:"difficulty" validate:"required,difficulty"`
}

// Difficulty handles POST /v1/staff/game/difficulty; it applies to every
// queued group.
func (h *GameHandler) Difficulty(c echo.Context) error {
	var req difficultyReq
	if !bindValid(c, &req, nil, "difficulty must be EASY or HARD") {
		return nil
	}
	tier, _ := model.ParseDifficulty(req.Difficulty)
	ctx, cancel := requestCtx(c)
	defer cancel()

	n, err := h.Game.SetQueueDifficulty(ctx, tier)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"difficulty": tier, "updated": n})
}

// StartBatch handles POST /v1/staff/game/start: every queued group starts
// under one shared display origin.
func (h *GameHandler) StartBatch(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()

	res, err := h.Game.StartQueued(ctx)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Start handles POST /v1/staff/game/:id/start.
func (h *GameHandler) Start(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	s, err := h.Game.Start(ctx, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, s)
}

type stopReq struct {
	Elapsed *int `json:"elapsed" validate:"omitempty,min=0"`
}

// Stop handles POST /v1/staff/game/:id/stop.  The optional elapsed value
// from the client display is only compared with the server's own figure.
func (h *GameHandler) Stop(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	var req stopReq
	if c.Request().ContentLength != 0 && !bindValid(c, &req, nil, "elapsed must be a non-negative integer") {
		return nil
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	s, err := h.Game.Stop(ctx, id, req.Elapsed)
	if err != nil {
		return writeError(c, err)
	}
	h.purge(ctx)
	return c.JSON(http.StatusOK, s)
}

// StopAll handles POST /v1/staff/game/stop-all.  Games that fail to stop
// stay running; the response lists what did stop.
func (h *GameHandler) StopAll(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()

	stopped, err := h.Game.StopAll(ctx)
	if len(stopped) > 0 {
		h.purge(ctx)
	}
	return h.stoppedResponse(c, stopped, err)
}

func (h *GameHandler) stoppedResponse(c echo.Context, stopped []model.GameSession, err error) error {
	if stopped == nil {
		stopped = []model.GameSession{}
	}
	if err != nil {
		logger.ErrorContext(c.Request().Context(), "stop all incomplete", "error", err)
		return c.JSON(http.StatusMultiStatus, echo.Map{"stopped": stopped, "error": "some games could not be stopped"})
	}
	return c.JSON(http.StatusOK, echo.Map{"stopped": stopped})
}

type scanReq struct {
	Data string `json:"data" validate:"required"`
}

// Scan handles POST /v1/staff/game/scan with the raw QR payload.
func (h *GameHandler) Scan(c echo.Context) error {
	var req scanReq
	if !bindValid(c, &req, fieldMessages{"Data": {"required": "data is required"}}, "") {
		return nil
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	res, err := h.Game.Scan(ctx, req.Data)
	if res.Action == "stop_all" {
		if len(res.Stopped) > 0 {
			h.purge(ctx)
		}
		if err != nil {
			return h.stoppedResponse(c, res.Stopped, err)
		}
		return c.JSON(http.StatusOK, res)
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// Reset handles POST /v1/staff/game/reset.  Stored results survive it.
func (h *GameHandler) Reset(c echo.Context) error {
	h.Game.Reset(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

