package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/escape-reception/internal/booking"
	"github.com/iliyamo/escape-reception/internal/config"
	"github.com/iliyamo/escape-reception/internal/game"
	"github.com/iliyamo/escape-reception/internal/middleware"
	"github.com/iliyamo/escape-reception/internal/model"
	"github.com/iliyamo/escape-reception/internal/queue"
	"github.com/iliyamo/escape-reception/internal/repository"
	"github.com/iliyamo/escape-reception/internal/token"
	"github.com/iliyamo/escape-reception/internal/utils"
)

const jwtSecret = "handler-test-jwt"

var (
	quiet = slog.New(slog.NewTextHandler(io.Discard, nil))
	jst   = time.FixedZone("JST", 9*60*60)
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type events struct {
	mu    sync.Mutex
	types []string
}

func (e *events) Publish(_ context.Context, ev queue.ReceptionEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types = append(e.types, ev.Type)
	return nil
}

type purgeCounter struct{ n int }

func (p *purgeCounter) Purge(context.Context) (int, error) {
	p.n++
	return 0, nil
}

type app struct {
	e      *echo.Echo
	clock  *clock
	store  *repository.MemoryStore
	auth   *token.Authority
	ctrl   *game.Controller
	users  *repository.MemoryUserRepo
	events *events
	purges *purgeCounter
}

// newApp wires the handlers over in-memory stores the same way the server
// does.  The clock starts at 2024-05-01 14:00 JST.
func newApp(t *testing.T) *app {
	t.Helper()
	clk := &clock{t: time.Date(2024, 5, 1, 5, 0, 0, 0, time.UTC)}
	auth, err := token.NewAuthority("secret", token.ModeSecure, time.Hour)
	require.NoError(t, err)
	auth.WithClock(clk.Now)

	a := &app{
		clock:  clk,
		store:  repository.NewMemoryStore().WithClock(clk.Now),
		auth:   auth,
		users:  repository.NewMemoryUserRepo(),
		events: &events{},
		purges: &purgeCounter{},
	}
	a.ctrl = game.NewController(a.store, auth, game.Options{Notifier: a.events, Logger: quiet, Now: clk.Now})

	cfg := config.Config{JWTSecret: jwtSecret, AccessTTLMin: 15, RefreshTTLDays: 1, BcryptCost: 4}
	authH := NewAuthHandler(cfg, a.users, repository.NewMemoryTokenRepo())
	rec := &ReceptionHandler{
		Ledger:   booking.NewLedger(a.store, 8, model.PolicyBooked, quiet),
		Auth:     auth,
		Store:    a.store,
		Game:     a.ctrl,
		Notifier: a.events,
		VenueTZ:  jst,
		BaseURL:  "https://escape.test",
		Now:      clk.Now,
	}
	staff := &StaffHandler{Store: a.store, Auth: auth, Game: a.ctrl, BaseURL: "https://escape.test"}
	gh := &GameHandler{Game: a.ctrl, Cache: a.purges}

	e := echo.New()
	e.Validator = NewValidator()
	e.GET("/healthz", Health(nil))
	e.POST("/v1/auth/login", authH.Login)
	e.POST("/v1/auth/refresh", authH.Refresh)
	e.POST("/v1/auth/refresh-access", authH.RefreshAccess)
	e.POST("/v1/auth/logout", authH.Logout)
	e.GET("/v1/slots/availability", rec.Availability)
	e.POST("/v1/slots/book", rec.Book)
	e.GET("/v1/reservations/:id", rec.GetReservation)
	e.POST("/v1/reservations/:id/check-in", rec.CheckIn)
	e.DELETE("/v1/reservations/:id", rec.Cancel)
	e.GET("/v1/ranking", rec.Ranking)

	s := e.Group("/v1/staff", middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleStaff))
	s.GET("/me", authH.Me)
	s.POST("/users", authH.CreateStaff)
	s.GET("/receptions", staff.Receptions)
	s.GET("/reservations/:id/token", staff.FreshToken)
	s.POST("/reservations/:id/check", staff.SetChecked)
	s.DELETE("/reservations/:id", staff.Delete)
	s.GET("/game", gh.State)
	s.POST("/game/queue", gh.Queue)
	s.POST("/game/difficulty", gh.Difficulty)
	s.POST("/game/start", gh.StartBatch)
	s.POST("/game/stop-all", gh.StopAll)
	s.POST("/game/scan", gh.Scan)
	s.POST("/game/reset", gh.Reset)
	s.POST("/game/:id/start", gh.Start)
	s.POST("/game/:id/stop", gh.Stop)
	a.e = e
	return a
}

func (a *app) do(t *testing.T, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(bs)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

// staffToken creates a staff account and returns an access token for it.
func (a *app) staffToken(t *testing.T) string {
	t.Helper()
	id, err := a.users.Create(context.Background(), "desk@escape.test", "password1", model.RoleStaff, 4)
	require.NoError(t, err)
	at, err := utils.NewAccessToken(jwtSecret, id, model.RoleStaff, 15)
	require.NoError(t, err)
	return at.Token
}

// book books party guests at 14:00 through the API.
func (a *app) book(t *testing.T, party int) bookingResp {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/v1/slots/book", echo.Map{"start": "14:00", "count": party}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out bookingResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func jsonDecode(rec *httptest.ResponseRecorder, v any) error {
	return json.Unmarshal(rec.Body.Bytes(), v)
}
