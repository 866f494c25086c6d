// Package repository persists reservations, staff users and refresh tokens.
// Two reservation stores are provided: ReservationRepo backed by MySQL and
// MemoryStore held in process memory.  Both honour the same contract, so
// higher layers and tests can swap one for the other.
//
// The sentinel values below let handlers distinguish failure scenarios
// without inspecting driver specific errors.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrReservationNotFound is returned when no reservation exists with the
// requested id.  Handlers translate it into HTTP 404.
var ErrReservationNotFound = errors.New("reservation not found")

// ErrConflict is returned when an update cannot be applied because of the
// row's current state, such as checking in a cancelled reservation.
// Handlers translate it into HTTP 409.
var ErrConflict = errors.New("conflict")

// MySQL server error numbers the repositories react to.
const (
	errDupEntry     = 1062 // ER_DUP_ENTRY
	errLockDeadlock = 1213 // ER_LOCK_DEADLOCK
)

func isMySQLError(err error, number uint16) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == number
}

func isDeadlock(err error) bool { return isMySQLError(err, errLockDeadlock) }
