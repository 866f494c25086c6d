// Package game drives groups through check-in, queueing, timed play and
// results.  The Controller is the only writer of game timestamps; the
// Registry is a process local view over them that can always be rebuilt
// from the store.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/escape-reception/internal/model"
	"github.com/iliyamo/escape-reception/internal/queue"
	"github.com/iliyamo/escape-reception/internal/repository"
	"github.com/iliyamo/escape-reception/internal/token"
)

// DefaultCeiling is the forced-stop limit on a single game.
const DefaultCeiling = 600 * time.Second

// ClearCommand is the QR payload that stops every running game.
const ClearCommand = "clear"

// Store is the persistence the controller needs.
type Store interface {
	Get(ctx context.Context, id uint64) (*model.Reservation, error)
	CheckIn(ctx context.Context, id uint64, name string) (bool, error)
	MarkStarted(ctx context.Context, id uint64, at time.Time) (bool, error)
	MarkStopped(ctx context.Context, id uint64, elapsedSeconds int) (bool, error)
	SetDifficulty(ctx context.Context, id uint64, d model.Difficulty) error
	ListRunning(ctx context.Context) ([]*model.Reservation, error)
	ListActiveReceptions(ctx context.Context) ([]*model.Reservation, error)
}

// Notifier receives reception events.  Delivery failures are logged by the
// caller and never fail the operation that produced the event.
type Notifier interface {
	Publish(ctx context.Context, ev queue.ReceptionEvent) error
}

// Options configures a Controller.  Zero values select defaults.
type Options struct {
	Ceiling  time.Duration
	Notifier Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

// Controller implements the game lifecycle on top of a Store.
type Controller struct {
	store    Store
	auth     *token.Authority
	registry *Registry
	ceiling  time.Duration
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
}

// NewController wires a controller with an empty registry.  Call Reconcile
// before serving requests to pick up games that were running before a
// restart.
func NewController(store Store, auth *token.Authority, opts Options) *Controller {
	c := &Controller{
		store:    store,
		auth:     auth,
		registry: NewRegistry(),
		ceiling:  opts.Ceiling,
		notifier: opts.Notifier,
		log:      opts.Logger,
		now:      opts.Now,
	}
	if c.ceiling <= 0 {
		c.ceiling = DefaultCeiling
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Registry exposes the in-memory session view.
func (c *Controller) Registry() *Registry { return c.registry }

// Ceiling returns the forced-stop limit.
func (c *Controller) Ceiling() time.Duration { return c.ceiling }

// CheckInResult is returned by CheckIn.  AlreadyCheckedIn marks a repeated
// scan under the same name, which changes nothing.
type CheckInResult struct {
	Reservation      *model.Reservation
	AlreadyCheckedIn bool
}

// CheckIn validates the guest's token and marks the reservation as checked
// in under name.
func (c *Controller) CheckIn(ctx context.Context, id uint64, tok, name string) (CheckInResult, error) {
	r, err := c.auth.Verify(ctx, c.store, id, tok)
	if err != nil {
		return CheckInResult{}, err
	}
	if r.Cancelled {
		return CheckInResult{}, ErrCancelled
	}
	name = strings.TrimSpace(name)
	already, err := c.store.CheckIn(ctx, id, name)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return CheckInResult{}, ErrCancelled
		}
		return CheckInResult{}, fmt.Errorf("check in %d: %w", id, err)
	}
	if !already {
		if r, err = c.store.Get(ctx, id); err != nil {
			return CheckInResult{}, fmt.Errorf("reload %d: %w", id, err)
		}
		c.log.InfoContext(ctx, "guest checked in", slog.Uint64("reservation_id", id), slog.String("name", name))
	}
	return CheckInResult{Reservation: r, AlreadyCheckedIn: already}, nil
}

// Enqueue adds a checked-in group to the waiting queue after validating the
// token printed on its QR code.
func (c *Controller) Enqueue(ctx context.Context, id uint64, tok string) (QueueEntry, error) {
	r, err := c.store.Get(ctx, id)
	if err != nil {
		return QueueEntry{}, err
	}
	if s, ok := c.registry.Session(id); (ok && s.Active()) || r.Running() {
		return QueueEntry{}, ErrAlreadyRunning
	}
	if r.Ended() {
		return QueueEntry{}, ErrAlreadyFinished
	}
	if !c.auth.Check(r, tok) {
		return QueueEntry{}, token.ErrInvalidToken
	}
	if r.Cancelled {
		return QueueEntry{}, ErrCancelled
	}
	if !r.CheckedIn {
		return QueueEntry{}, ErrNotCheckedIn
	}
	entry := QueueEntry{ID: id, Token: tok, QueuedAt: c.now().UTC()}
	if err := c.registry.Enqueue(id, tok, entry.QueuedAt); err != nil {
		return QueueEntry{}, err
	}
	c.notify(ctx, eventFor(queue.EventQueued, r, nil, entry.QueuedAt))
	return entry, nil
}

// SetQueueDifficulty applies tier to every queued group and returns how
// many were updated.
func (c *Controller) SetQueueDifficulty(ctx context.Context, tier model.Difficulty) (int, error) {
	n := 0
	for _, e := range c.registry.Queued() {
		if err := c.store.SetDifficulty(ctx, e.ID, tier); err != nil {
			if errors.Is(err, repository.ErrReservationNotFound) {
				c.registry.Dequeue(e.ID)
				continue
			}
			return n, fmt.Errorf("set difficulty on %d: %w", e.ID, err)
		}
		n++
	}
	return n, nil
}

// Start begins the group's game.  Starting a game that is already running
// returns the existing session unchanged.
func (c *Controller) Start(ctx context.Context, id uint64) (model.GameSession, error) {
	r, err := c.store.Get(ctx, id)
	if err != nil {
		return model.GameSession{}, err
	}
	if s, done, err := c.startedState(r); done {
		return s, err
	}
	if !r.CheckedIn {
		return model.GameSession{}, ErrNotCheckedIn
	}

	at := c.now().UTC().Truncate(time.Millisecond)
	changed, err := c.store.MarkStarted(ctx, id, at)
	if err != nil {
		return model.GameSession{}, fmt.Errorf("mark started %d: %w", id, err)
	}
	if !changed {
		// Lost a race with another start, or the row changed underneath us.
		if r, err = c.store.Get(ctx, id); err != nil {
			return model.GameSession{}, err
		}
		if s, done, err := c.startedState(r); done {
			return s, err
		}
		return model.GameSession{}, fmt.Errorf("start %d: row not updated", id)
	}
	r.GameStartedAt = &at
	s := c.registry.Admit(c.sessionFrom(r))
	c.registry.Dequeue(id)
	c.registry.ClaimOrigin(at)
	c.log.InfoContext(ctx, "game started",
		slog.Uint64("reservation_id", id), slog.Int64("session_id", s.SessionID))
	c.notify(ctx, eventFor(queue.EventStarted, r, &s, at))
	return s, nil
}

// startedState resolves a start request against a reservation that may
// already have left the Booked/CheckedIn states.  done is false when the
// caller should go on and start the game.
func (c *Controller) startedState(r *model.Reservation) (model.GameSession, bool, error) {
	switch {
	case r.Cancelled:
		return model.GameSession{}, true, ErrCancelled
	case r.Ended():
		return model.GameSession{}, true, ErrAlreadyFinished
	case r.GameStarted():
		s := c.registry.Admit(c.sessionFrom(r))
		c.registry.Dequeue(r.ID)
		return s, true, nil
	}
	return model.GameSession{}, false, nil
}

// BatchFailure describes a queued group that could not be started.
type BatchFailure struct {
	ID    uint64 `json:"id"`
	Error string `json:"error"`
}

// BatchResult is returned by StartQueued.
type BatchResult struct {
	Origin  time.Time           `json:"origin"`
	Started []model.GameSession `json:"started"`
	Failed  []BatchFailure      `json:"failed"`
}

// StartQueued starts every queued group in insertion order.  All of them
// share one display origin.  Groups that fail on a storage error go back
// on the queue; groups rejected by a state conflict are dropped.
func (c *Controller) StartQueued(ctx context.Context) (BatchResult, error) {
	entries := c.registry.DrainQueue()
	if len(entries) == 0 {
		return BatchResult{}, ErrEmptyQueue
	}
	origin := c.now().UTC().Truncate(time.Millisecond)
	c.registry.SetOrigin(origin)

	res := BatchResult{Origin: origin, Started: []model.GameSession{}, Failed: []BatchFailure{}}
	for _, e := range entries {
		s, err := c.Start(ctx, e.ID)
		if err != nil {
			res.Failed = append(res.Failed, BatchFailure{ID: e.ID, Error: err.Error()})
			if !IsStateConflict(err) && !errors.Is(err, repository.ErrReservationNotFound) {
				_ = c.registry.Enqueue(e.ID, e.Token, e.QueuedAt)
			}
			c.log.WarnContext(ctx, "batch start failed", slog.Uint64("reservation_id", e.ID), slog.Any("err", err))
			continue
		}
		res.Started = append(res.Started, s)
	}
	return res, nil
}

// Stop ends the group's game.  The persisted elapsed time is always computed
// from the stored start; clientElapsed is only compared against it.  Stopping
// a game that has already stopped returns the stored result.
func (c *Controller) Stop(ctx context.Context, id uint64, clientElapsed *int) (model.GameSession, error) {
	return c.stop(ctx, id, clientElapsed, model.OutcomeCompleted)
}

func (c *Controller) stop(ctx context.Context, id uint64, clientElapsed *int, outcome model.Outcome) (model.GameSession, error) {
	r, err := c.store.Get(ctx, id)
	if err != nil {
		return model.GameSession{}, err
	}
	if !r.GameStarted() {
		return model.GameSession{}, ErrNotRunning
	}
	if r.Ended() {
		return c.registry.Finish(c.sessionFrom(r)), nil
	}

	elapsed := int(c.now().Sub(*r.GameStartedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	if clientElapsed != nil && *clientElapsed != elapsed {
		c.log.WarnContext(ctx, "client elapsed time ignored",
			slog.Uint64("reservation_id", id),
			slog.Int("client_elapsed", *clientElapsed),
			slog.Int("server_elapsed", elapsed))
	}

	changed, err := c.store.MarkStopped(ctx, id, elapsed)
	if err != nil {
		return model.GameSession{}, fmt.Errorf("mark stopped %d: %w", id, err)
	}
	if !changed {
		if r, err = c.store.Get(ctx, id); err != nil {
			return model.GameSession{}, err
		}
		if !r.Ended() {
			return model.GameSession{}, fmt.Errorf("stop %d: row not updated", id)
		}
		return c.registry.Finish(c.sessionFrom(r)), nil
	}
	r.ElapsedSeconds = &elapsed
	s := c.sessionFrom(r)
	if outcome == model.OutcomeRetired {
		s.Outcome = outcome
	}
	s = c.registry.Finish(s)
	c.log.InfoContext(ctx, "game stopped",
		slog.Uint64("reservation_id", id),
		slog.Int("elapsed_seconds", elapsed),
		slog.String("outcome", string(s.Outcome)))
	c.notify(ctx, eventFor(queue.EventStopped, r, &s, c.now().UTC()))
	return s, nil
}

// StopAll stops every persisted running game.  It keeps going past
// individual failures and reports them joined.
func (c *Controller) StopAll(ctx context.Context) ([]model.GameSession, error) {
	running, err := c.store.ListRunning(ctx)
	if err != nil {
		return nil, fmt.Errorf("list running: %w", err)
	}
	stopped := []model.GameSession{}
	var errs []error
	for _, r := range running {
		s, err := c.stop(ctx, r.ID, nil, model.OutcomeCompleted)
		if err != nil {
			errs = append(errs, fmt.Errorf("stop %d: %w", r.ID, err))
			continue
		}
		stopped = append(stopped, s)
	}
	return stopped, errors.Join(errs...)
}

// ScanResult reports what a staff QR scan did.
type ScanResult struct {
	Action  string              `json:"action"`
	Entry   *QueueEntry         `json:"entry,omitempty"`
	Stopped []model.GameSession `json:"stopped,omitempty"`
}

// Scan interprets a QR payload read at the staff desk.  The clear command
// stops every game; anything else must be a check-in URL (or its query
// string) and enqueues that group.
func (c *Controller) Scan(ctx context.Context, data string) (ScanResult, error) {
	data = strings.TrimSpace(data)
	if strings.EqualFold(data, ClearCommand) {
		stopped, err := c.StopAll(ctx)
		return ScanResult{Action: "stop_all", Stopped: stopped}, err
	}
	id, tok, err := ParseCheckPayload(data)
	if err != nil {
		return ScanResult{}, err
	}
	e, err := c.Enqueue(ctx, id, tok)
	if err != nil {
		return ScanResult{}, err
	}
	return ScanResult{Action: "queued", Entry: &e}, nil
}

// ErrBadPayload is returned by ParseCheckPayload for unreadable QR data.
var ErrBadPayload = errors.New("unrecognised scan payload")

// ParseCheckPayload extracts id and token from a check-in URL.
func ParseCheckPayload(data string) (uint64, string, error) {
	raw := data
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[i+1:]
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	id, err := strconv.ParseUint(q.Get("id"), 10, 64)
	if err != nil || id == 0 || q.Get("token") == "" {
		return 0, "", ErrBadPayload
	}
	return id, q.Get("token"), nil
}

// Reset forgets the queue, all sessions and the display origin.  Persisted
// results are untouched; games still running in the store come back on the
// next Reconcile.
func (c *Controller) Reset(ctx context.Context) {
	c.registry.Reset()
	c.log.InfoContext(ctx, "game state reset")
	c.notify(ctx, queue.ReceptionEvent{Type: queue.EventReset, OccurredAt: c.now().UTC()})
}

// Reconcile rebuilds the running sessions from the store.  Reservations the
// store reports as running are admitted with their persisted start; running
// registry entries the store no longer reports are finished or dropped.
func (c *Controller) Reconcile(ctx context.Context) error {
	running, err := c.store.ListRunning(ctx)
	if err != nil {
		return fmt.Errorf("list running: %w", err)
	}
	live := make(map[uint64]bool, len(running))
	for _, r := range running {
		live[r.ID] = true
		c.registry.Admit(c.sessionFrom(r))
		c.registry.Dequeue(r.ID)
	}
	for _, id := range c.registry.Running() {
		if live[id] {
			continue
		}
		r, err := c.store.Get(ctx, id)
		switch {
		case errors.Is(err, repository.ErrReservationNotFound):
			c.registry.Forget(id)
		case err != nil:
			return fmt.Errorf("reload %d: %w", id, err)
		case r.Ended():
			c.registry.Finish(c.sessionFrom(r))
		default:
			c.registry.Forget(id)
		}
	}
	return nil
}

// Snapshot is the staff view of the game floor.
type Snapshot struct {
	Origin         *time.Time          `json:"origin"`
	Queued         []QueueEntry        `json:"queued"`
	Sessions       []model.GameSession `json:"sessions"`
	CeilingSeconds int                 `json:"ceiling_seconds"`
	ServerTime     time.Time           `json:"server_time"`
}

// State reconciles against the store and returns a snapshot.
func (c *Controller) State(ctx context.Context) (Snapshot, error) {
	if err := c.Reconcile(ctx); err != nil {
		return Snapshot{}, err
	}
	q := c.registry.Queued()
	if q == nil {
		q = []QueueEntry{}
	}
	return Snapshot{
		Origin:         c.registry.Origin(),
		Queued:         q,
		Sessions:       c.registry.Sessions(),
		CeilingSeconds: int(c.ceiling / time.Second),
		ServerTime:     c.now().UTC(),
	}, nil
}

// ListActiveReceptions returns checked-in reservations that are not cancelled.
func (c *Controller) ListActiveReceptions(ctx context.Context) ([]*model.Reservation, error) {
	return c.store.ListActiveReceptions(ctx)
}

func (c *Controller) sessionFrom(r *model.Reservation) model.GameSession {
	s := model.GameSession{
		SessionID:     model.SessionIDFor(*r.GameStartedAt),
		ParticipantID: r.ID,
		Status:        model.SessionRunning,
		StartedAt:     *r.GameStartedAt,
		DisplayName:   r.Name(),
		Difficulty:    r.Difficulty,
		PartySize:     r.PartySize,
	}
	if r.Ended() {
		e := *r.ElapsedSeconds
		s.Status = model.SessionStopped
		s.ElapsedSeconds = &e
		s.EndedAt = r.GameEndedAt()
		s.Outcome = model.OutcomeCompleted
		if time.Duration(e)*time.Second >= c.ceiling {
			s.Outcome = model.OutcomeRetired
		}
	}
	return s
}

func (c *Controller) notify(ctx context.Context, ev queue.ReceptionEvent) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Publish(ctx, ev); err != nil {
		c.log.WarnContext(ctx, "publish event failed", slog.String("type", ev.Type), slog.Any("err", err))
	}
}

func eventFor(kind string, r *model.Reservation, s *model.GameSession, at time.Time) queue.ReceptionEvent {
	slot := r.SlotTime
	ev := queue.ReceptionEvent{
		Type:          kind,
		ReservationID: r.ID,
		DisplayName:   r.Name(),
		Difficulty:    string(r.Difficulty),
		PartySize:     r.PartySize,
		SlotTime:      &slot,
		OccurredAt:    at,
	}
	if s != nil {
		started := s.StartedAt
		ev.SessionID = s.SessionID
		ev.StartedAt = &started
		ev.ElapsedSeconds = s.ElapsedSeconds
		ev.Outcome = string(s.Outcome)
	}
	return ev
}
