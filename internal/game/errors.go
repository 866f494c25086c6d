package game

import "errors"

// State conflicts.  Handlers map each of them to HTTP 409 with the error
// text as the reason.
var (
	ErrAlreadyQueued   = errors.New("already queued")
	ErrAlreadyRunning  = errors.New("already running")
	ErrAlreadyFinished = errors.New("already finished")
	ErrNotCheckedIn    = errors.New("not checked in")
	ErrNotRunning      = errors.New("not running")
	ErrCancelled       = errors.New("reservation cancelled")
	ErrEmptyQueue      = errors.New("queue is empty")
)

var conflicts = []error{
	ErrAlreadyQueued, ErrAlreadyRunning, ErrAlreadyFinished,
	ErrNotCheckedIn, ErrNotRunning, ErrCancelled, ErrEmptyQueue,
}

// IsStateConflict reports whether err is one of the lifecycle conflicts.
func IsStateConflict(err error) bool {
	for _, c := range conflicts {
		if errors.Is(err, c) {
			return true
		}
	}
	return false
}
