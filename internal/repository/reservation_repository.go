package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/escape-reception/internal/model"
)

// ReservationRepo stores reservations in MySQL.  All timestamps are written
// and read in UTC (the DSN sets loc=UTC).
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const reservationColumns = `id, slot_time, party_size, checked_in, cancelled,
       game_started_at, elapsed_seconds, difficulty, display_name, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(s rowScanner) (*model.Reservation, error) {
	var (
		r       model.Reservation
		started sql.NullTime
		elapsed sql.NullInt64
		name    sql.NullString
		tier    string
	)
	if err := s.Scan(&r.ID, &r.SlotTime, &r.PartySize, &r.CheckedIn, &r.Cancelled,
		&started, &elapsed, &tier, &name, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.SlotTime = r.SlotTime.UTC()
	r.Difficulty = model.Difficulty(tier)
	if started.Valid {
		t := started.Time.UTC()
		r.GameStartedAt = &t
	}
	if elapsed.Valid {
		e := int(elapsed.Int64)
		r.ElapsedSeconds = &e
	}
	if name.Valid {
		n := name.String
		r.DisplayName = &n
	}
	return &r, nil
}

func queryReservations(ctx context.Context, q querier, query string, args ...any) ([]*model.Reservation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func getReservation(ctx context.Context, q querier, id uint64, forUpdate bool) (*model.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	r, err := scanReservation(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	return r, err
}

func slotUsage(ctx context.Context, q querier, slot time.Time, policy model.CapacityPolicy) (int, error) {
	query := `SELECT COALESCE(SUM(party_size), 0) FROM reservations
	          WHERE slot_time = ? AND cancelled = 0 AND elapsed_seconds IS NULL`
	if policy == model.PolicyCheckedIn {
		query += ` AND checked_in = 1`
	}
	var used int
	if err := q.QueryRowContext(ctx, query, slot.UTC()).Scan(&used); err != nil {
		return 0, err
	}
	return used, nil
}

// mysqlSlotTx is the SlotTx handed to InSlotTx callbacks.
type mysqlSlotTx struct {
	tx *sql.Tx
}

func (t *mysqlSlotTx) SlotUsage(ctx context.Context, slot time.Time, policy model.CapacityPolicy) (int, error) {
	return slotUsage(ctx, t.tx, slot, policy)
}

// CreateReservation inserts r inside the slot transaction and reads the row
// back to populate generated columns.
func (t *mysqlSlotTx) CreateReservation(ctx context.Context, r *model.Reservation) error {
	tier := r.Difficulty
	if tier == "" {
		tier = model.DifficultyEasy
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO reservations (slot_time, party_size, difficulty) VALUES (?, ?, ?)`,
		r.SlotTime.UTC(), r.PartySize, string(tier))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	saved, err := getReservation(ctx, t.tx, uint64(id), false)
	if err != nil {
		return err
	}
	*r = *saved
	return nil
}

// slotTxAttempts bounds how often InSlotTx retries after MySQL picks it as
// a deadlock victim.
const slotTxAttempts = 3

// InSlotTx runs fn inside a transaction holding the row lock for slot in
// slot_locks.  Concurrent callers for the same slot are serialized; other
// slots proceed in parallel.  The transaction commits only when fn returns
// nil.  A transaction rolled back by a deadlock is retried from the start.
func (r *ReservationRepo) InSlotTx(ctx context.Context, slot time.Time, fn func(SlotTx) error) error {
	var err error
	for attempt := 0; attempt < slotTxAttempts; attempt++ {
		if err = r.inSlotTx(ctx, slot, fn); !isDeadlock(err) {
			return err
		}
	}
	return err
}

func (r *ReservationRepo) inSlotTx(ctx context.Context, slot time.Time, fn func(SlotTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin slot tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// the upsert takes the exclusive lock whether or not the row exists
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO slot_locks (slot_time) VALUES (?) ON DUPLICATE KEY UPDATE slot_time = slot_time`,
		slot.UTC()); err != nil {
		return fmt.Errorf("lock slot: %w", err)
	}

	if err := fn(&mysqlSlotTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit slot tx: %w", err)
	}
	committed = true
	return nil
}

// SlotUsage reports the current headcount at slot without locking it.
func (r *ReservationRepo) SlotUsage(ctx context.Context, slot time.Time, policy model.CapacityPolicy) (int, error) {
	return slotUsage(ctx, r.db, slot, policy)
}

// Get returns the reservation with the given id or ErrReservationNotFound.
func (r *ReservationRepo) Get(ctx context.Context, id uint64) (*model.Reservation, error) {
	return getReservation(ctx, r.db, id, false)
}

// CheckIn marks the reservation as checked in under name.  When it is
// already checked in under the same name (or name is empty) nothing is
// written and already is true.  Cancelled reservations yield ErrConflict.
func (r *ReservationRepo) CheckIn(ctx context.Context, id uint64, name string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	cur, err := getReservation(ctx, tx, id, true)
	if err != nil {
		return false, err
	}
	if cur.Cancelled {
		return false, ErrConflict
	}
	if cur.CheckedIn && (name == "" || name == cur.Name()) {
		return true, nil
	}
	var display any
	if name != "" {
		display = name
	} else if cur.DisplayName != nil {
		display = *cur.DisplayName
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE reservations SET checked_in = 1, display_name = ? WHERE id = ?`, display, id); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true
	return false, nil
}

// SetCheckedIn overrides the checked-in flag.  Used by staff to correct a
// mistaken scan.
func (r *ReservationRepo) SetCheckedIn(ctx context.Context, id uint64, checked bool) error {
	return r.execExisting(ctx, id, `UPDATE reservations SET checked_in = ? WHERE id = ?`, checked, id)
}

// MarkStarted persists the game start instant.  It only writes when no
// start has been recorded yet and reports whether this call set it.
func (r *ReservationRepo) MarkStarted(ctx context.Context, id uint64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE reservations SET game_started_at = ?
		 WHERE id = ? AND game_started_at IS NULL AND cancelled = 0`, at.UTC(), id)
	if err != nil {
		return false, err
	}
	return r.affectedOrMissing(ctx, res, id)
}

// MarkStopped persists the elapsed time of a started game.  It only writes
// when no elapsed time has been recorded yet and reports whether this call
// set it.
func (r *ReservationRepo) MarkStopped(ctx context.Context, id uint64, elapsedSeconds int) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE reservations SET elapsed_seconds = ?
		 WHERE id = ? AND game_started_at IS NOT NULL AND elapsed_seconds IS NULL`, elapsedSeconds, id)
	if err != nil {
		return false, err
	}
	return r.affectedOrMissing(ctx, res, id)
}

// SetDifficulty changes the room variant of a reservation.
func (r *ReservationRepo) SetDifficulty(ctx context.Context, id uint64, d model.Difficulty) error {
	return r.execExisting(ctx, id, `UPDATE reservations SET difficulty = ? WHERE id = ?`, string(d), id)
}

// Cancel soft-deletes a reservation.  A reservation whose game is running
// cannot be cancelled and yields ErrConflict.
func (r *ReservationRepo) Cancel(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE reservations SET cancelled = 1
		 WHERE id = ? AND NOT (game_started_at IS NOT NULL AND elapsed_seconds IS NULL)`, id)
	if err != nil {
		return err
	}
	changed, err := r.affectedOrMissing(ctx, res, id)
	if err != nil {
		return err
	}
	if !changed {
		cur, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if cur.Running() {
			return ErrConflict
		}
	}
	return nil
}

// Delete removes the reservation row.  Administrative override.
func (r *ReservationRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrReservationNotFound
	}
	return nil
}

// ListRunning returns reservations whose game started but has no recorded
// elapsed time, oldest start first.
func (r *ReservationRepo) ListRunning(ctx context.Context) ([]*model.Reservation, error) {
	return queryReservations(ctx, r.db, `SELECT `+reservationColumns+` FROM reservations
		WHERE game_started_at IS NOT NULL AND elapsed_seconds IS NULL AND cancelled = 0
		ORDER BY game_started_at, id`)
}

// ListActiveReceptions returns checked-in, non-cancelled reservations.
func (r *ReservationRepo) ListActiveReceptions(ctx context.Context) ([]*model.Reservation, error) {
	return queryReservations(ctx, r.db, `SELECT `+reservationColumns+` FROM reservations
		WHERE checked_in = 1 AND cancelled = 0
		ORDER BY slot_time, id`)
}

// Ranking returns the fastest finished games for a difficulty.  Results
// slower than maxElapsed are excluded.
func (r *ReservationRepo) Ranking(ctx context.Context, tier model.Difficulty, limit, maxElapsed int) ([]model.RankingEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, elapsed_seconds, party_size, display_name, slot_time FROM reservations
		 WHERE difficulty = ? AND elapsed_seconds IS NOT NULL AND elapsed_seconds <= ? AND cancelled = 0
		 ORDER BY elapsed_seconds ASC, id ASC LIMIT ?`, string(tier), maxElapsed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.RankingEntry{}
	for rows.Next() {
		var (
			e    model.RankingEntry
			name sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ElapsedSeconds, &e.PartySize, &name, &e.SlotTime); err != nil {
			return nil, err
		}
		e.SlotTime = e.SlotTime.UTC()
		if name.Valid {
			n := name.String
			e.DisplayName = &n
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// execExisting runs an UPDATE keyed by id.  MySQL reports zero affected rows
// when the new value equals the old one, so a zero count is confirmed
// against the table before ErrReservationNotFound is returned.
func (r *ReservationRepo) execExisting(ctx context.Context, id uint64, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	_, err = r.affectedOrMissing(ctx, res, id)
	return err
}

func (r *ReservationRepo) affectedOrMissing(ctx context.Context, res sql.Result, id uint64) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var one int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM reservations WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrReservationNotFound
	}
	return false, err
}
