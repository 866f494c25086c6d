package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/escape-reception/internal/model"
)

var (
	lockSQL   = regexp.QuoteMeta(`INSERT INTO slot_locks (slot_time) VALUES (?) ON DUPLICATE KEY UPDATE slot_time = slot_time`)
	existsSQL = regexp.QuoteMeta(`SELECT 1 FROM reservations WHERE id = ?`)
	deadlock  = &mysql.MySQLError{Number: errLockDeadlock, Message: "Deadlock found when trying to get lock"}

	reservationCols = []string{"id", "slot_time", "party_size", "checked_in", "cancelled",
		"game_started_at", "elapsed_seconds", "difficulty", "display_name", "created_at", "updated_at"}
)

func newMockRepo(t *testing.T) (*ReservationRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewReservationRepo(db), mock
}

// reservationRows returns one reservation row at slot.
func reservationRows(id int64, checked bool, started *time.Time, name *string) *sqlmock.Rows {
	var startedVal, nameVal driver.Value
	if started != nil {
		startedVal = *started
	}
	if name != nil {
		nameVal = *name
	}
	return sqlmock.NewRows(reservationCols).AddRow(
		id, slot, 2, checked, false, startedVal, nil, "EASY", nameVal, slot, slot)
}

func TestInSlotTxTakesExclusiveLockThenCommits(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(lockSQL).WithArgs(slot).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(SUM(party_size), 0) FROM reservations`)).
		WithArgs(slot).
		WillReturnRows(sqlmock.NewRows([]string{"used"}).AddRow(5))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO reservations (slot_time, party_size, difficulty)`)).
		WithArgs(slot, 2, "EASY").
		WillReturnResult(sqlmock.NewResult(9, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM reservations WHERE id = ?`)).
		WithArgs(9).
		WillReturnRows(reservationRows(9, false, nil, nil))
	mock.ExpectCommit()

	r := &model.Reservation{SlotTime: slot, PartySize: 2}
	err := repo.InSlotTx(ctx, slot, func(tx SlotTx) error {
		used, err := tx.SlotUsage(ctx, slot, model.PolicyBooked)
		require.NoError(t, err)
		assert.Equal(t, 5, used)
		return tx.CreateReservation(ctx, r)
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(9), r.ID)
	assert.Equal(t, model.DifficultyEasy, r.Difficulty)
}

func TestInSlotTxRetriesDeadlockVictim(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(lockSQL).WithArgs(slot).WillReturnError(deadlock)
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(lockSQL).WithArgs(slot).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	calls := 0
	err := repo.InSlotTx(context.Background(), slot, func(SlotTx) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestInSlotTxGivesUpAfterRepeatedDeadlocks(t *testing.T) {
	repo, mock := newMockRepo(t)
	for i := 0; i < slotTxAttempts; i++ {
		mock.ExpectBegin()
		mock.ExpectExec(lockSQL).WithArgs(slot).WillReturnError(deadlock)
		mock.ExpectRollback()
	}

	err := repo.InSlotTx(context.Background(), slot, func(SlotTx) error {
		t.Fatal("callback must not run without the lock")
		return nil
	})
	assert.True(t, isDeadlock(err))
}

func TestInSlotTxRollsBackCallbackError(t *testing.T) {
	repo, mock := newMockRepo(t)
	full := errors.New("slot full")

	mock.ExpectBegin()
	mock.ExpectExec(lockSQL).WithArgs(slot).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := repo.InSlotTx(context.Background(), slot, func(SlotTx) error { return full })
	assert.ErrorIs(t, err, full)
}

func TestSlotUsageCheckedInPolicy(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE slot_time = ? AND cancelled = 0 AND elapsed_seconds IS NULL AND checked_in = 1`)).
		WithArgs(slot).
		WillReturnRows(sqlmock.NewRows([]string{"used"}).AddRow(3))

	used, err := repo.SlotUsage(context.Background(), slot, model.PolicyCheckedIn)
	require.NoError(t, err)
	assert.Equal(t, 3, used)
}

func TestMySQLMarkStartedWritesOnce(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()
	at := slot.Add(time.Minute)
	startSQL := regexp.QuoteMeta(`UPDATE reservations SET game_started_at = ? WHERE id = ? AND game_started_at IS NULL AND cancelled = 0`)

	mock.ExpectExec(startSQL).WithArgs(at, 7).WillReturnResult(sqlmock.NewResult(0, 1))
	changed, err := repo.MarkStarted(ctx, 7, at)
	require.NoError(t, err)
	assert.True(t, changed)

	mock.ExpectExec(startSQL).WithArgs(at, 7).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(existsSQL).WithArgs(7).WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	changed, err = repo.MarkStarted(ctx, 7, at)
	require.NoError(t, err)
	assert.False(t, changed)

	mock.ExpectExec(startSQL).WithArgs(at, 8).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(existsSQL).WithArgs(8).WillReturnRows(sqlmock.NewRows([]string{"1"}))
	_, err = repo.MarkStarted(ctx, 8, at)
	assert.ErrorIs(t, err, ErrReservationNotFound)
}

func TestMySQLMarkStoppedNeedsStartAndNoResult(t *testing.T) {
	repo, mock := newMockRepo(t)
	stopSQL := regexp.QuoteMeta(`UPDATE reservations SET elapsed_seconds = ? WHERE id = ? AND game_started_at IS NOT NULL AND elapsed_seconds IS NULL`)

	mock.ExpectExec(stopSQL).WithArgs(300, 7).WillReturnResult(sqlmock.NewResult(0, 1))
	changed, err := repo.MarkStopped(context.Background(), 7, 300)
	require.NoError(t, err)
	assert.True(t, changed)

	mock.ExpectExec(stopSQL).WithArgs(900, 7).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(existsSQL).WithArgs(7).WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	changed, err = repo.MarkStopped(context.Background(), 7, 900)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestMySQLCancelRunningConflicts(t *testing.T) {
	repo, mock := newMockRepo(t)
	cancelSQL := regexp.QuoteMeta(`UPDATE reservations SET cancelled = 1 WHERE id = ? AND NOT (game_started_at IS NOT NULL AND elapsed_seconds IS NULL)`)
	started := slot

	mock.ExpectExec(cancelSQL).WithArgs(7).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(existsSQL).WithArgs(7).WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM reservations WHERE id = ?`)).
		WithArgs(7).
		WillReturnRows(reservationRows(7, true, &started, nil))
	assert.ErrorIs(t, repo.Cancel(context.Background(), 7), ErrConflict)

	mock.ExpectExec(cancelSQL).WithArgs(8).WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, repo.Cancel(context.Background(), 8))
}

func TestMySQLCheckInSameNameWritesNothing(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()
	name := "Owls"
	getForUpdate := regexp.QuoteMeta(`FROM reservations WHERE id = ? FOR UPDATE`)

	mock.ExpectBegin()
	mock.ExpectQuery(getForUpdate).WithArgs(7).WillReturnRows(reservationRows(7, true, nil, &name))
	mock.ExpectRollback()
	already, err := repo.CheckIn(ctx, 7, "Owls")
	require.NoError(t, err)
	assert.True(t, already)

	mock.ExpectBegin()
	mock.ExpectQuery(getForUpdate).WithArgs(7).WillReturnRows(reservationRows(7, true, nil, &name))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE reservations SET checked_in = 1, display_name = ? WHERE id = ?`)).
		WithArgs("Night Owls", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	already, err = repo.CheckIn(ctx, 7, "Night Owls")
	require.NoError(t, err)
	assert.False(t, already)
}

func TestMySQLExecExistingConfirmsZeroRows(t *testing.T) {
	repo, mock := newMockRepo(t)
	diffSQL := regexp.QuoteMeta(`UPDATE reservations SET difficulty = ? WHERE id = ?`)

	// unchanged value: zero rows affected but the row exists
	mock.ExpectExec(diffSQL).WithArgs("HARD", 7).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(existsSQL).WithArgs(7).WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	assert.NoError(t, repo.SetDifficulty(context.Background(), 7, model.DifficultyHard))

	mock.ExpectExec(diffSQL).WithArgs("HARD", 8).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(existsSQL).WithArgs(8).WillReturnRows(sqlmock.NewRows([]string{"1"}))
	assert.ErrorIs(t, repo.SetDifficulty(context.Background(), 8, model.DifficultyHard), ErrReservationNotFound)
}

func TestMySQLDeleteMissing(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM reservations WHERE id = ?`)).
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Delete(context.Background(), 7), ErrReservationNotFound)
}

func TestUserRepoDuplicateEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users (email, password_hash, role)`)).
		WithArgs("desk@escape.test", sqlmock.AnyArg(), model.RoleStaff).
		WillReturnError(&mysql.MySQLError{Number: errDupEntry, Message: "Duplicate entry"})

	_, err = NewUserRepo(db).Create(context.Background(), "Desk@Escape.test", "password1", model.RoleStaff, 4)
	assert.ErrorIs(t, err, ErrEmailExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}
