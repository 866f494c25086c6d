// Package token issues and validates the credentials embedded in a guest's
// check-in URL.  Tokens are never stored: each one is a pure function of the
// reservation id, an epoch bucket and the server secret, and is re-derived
// whenever it has to be checked.
package token

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/escape-reception/internal/model"
	"github.com/iliyamo/escape-reception/internal/repository"
)

// Mode selects the token encoding.
type Mode string

const (
	// ModeSecure signs the input with HMAC-SHA256.  Requires a secret.
	ModeSecure Mode = "secure"
	// ModeLegacy base64 encodes the raw input.  Kept so URLs printed by
	// earlier deployments keep working during a migration.
	ModeLegacy Mode = "legacy"
)

var (
	// ErrInvalidToken is returned when a token is missing or does not match.
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingSecret is returned by NewAuthority in secure mode without a secret.
	ErrMissingSecret = errors.New("token secret is required in secure mode")
	// ErrWindowTooSmall is returned by NewAuthority for windows of MinWindow or less.
	ErrWindowTooSmall = errors.New("token window too small")
)

// ParseMode maps a config string onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeSecure:
		return ModeSecure, nil
	case ModeLegacy:
		return ModeLegacy, nil
	}
	return "", fmt.Errorf("unknown token mode %q", s)
}

// Lookup loads a reservation by id.  The repository stores satisfy it.
type Lookup interface {
	Get(ctx context.Context, id uint64) (*model.Reservation, error)
}

// Authority issues and validates reservation tokens.
type Authority struct {
	secret string
	mode   Mode
	clock  ClockWindow
	now    func() time.Time
}

// NewAuthority builds an Authority.  An empty secret in secure mode is a
// configuration error and the caller is expected to abort startup.
func NewAuthority(secret string, mode Mode, window time.Duration) (*Authority, error) {
	if mode == "" {
		mode = ModeSecure
	}
	if mode != ModeSecure && mode != ModeLegacy {
		return nil, fmt.Errorf("unknown token mode %q", mode)
	}
	if mode == ModeSecure && secret == "" {
		return nil, ErrMissingSecret
	}
	if window > 0 && window <= MinWindow {
		return nil, fmt.Errorf("%w: %s (must exceed %s)", ErrWindowTooSmall, window, MinWindow)
	}
	return &Authority{
		secret: secret,
		mode:   mode,
		clock:  NewClockWindow(window),
		now:    time.Now,
	}, nil
}

// WithClock replaces the time source.  Intended for tests.
func (a *Authority) WithClock(now func() time.Time) *Authority {
	a.now = now
	return a
}

// Window exposes the ClockWindow used for coarse epochs.
func (a *Authority) Window() ClockWindow { return a.clock }

// Issue returns the token for id in epoch e.  Equal inputs always produce
// equal tokens.
func (a *Authority) Issue(id uint64, e Epoch) string {
	input := strconv.FormatUint(id, 10) + "-" + e.String() + "-" + a.secret
	var encoded string
	switch a.mode {
	case ModeLegacy:
		encoded = base64.StdEncoding.EncodeToString([]byte(input))
	default:
		mac := hmac.New(sha256.New, []byte(a.secret))
		mac.Write([]byte(input))
		encoded = base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	}
	return stripNonAlnum(encoded)
}

// Validate recomputes the token for (id, e) and compares it byte for byte.
func (a *Authority) Validate(id uint64, tok string, e Epoch) bool {
	if id == 0 || tok == "" {
		return false
	}
	want := a.Issue(id, e)
	return subtle.ConstantTimeCompare([]byte(want), []byte(tok)) == 1
}

// EpochFor selects the reference epoch for a reservation: pinned to the game
// start once it is set, otherwise the coarse bucket containing now.
func (a *Authority) EpochFor(r *model.Reservation, now time.Time) Epoch {
	if r != nil && r.GameStartedAt != nil {
		return a.clock.Pinned(*r.GameStartedAt)
	}
	return a.clock.Coarse(now)
}

// TokenFor mints the token currently valid for r.
func (a *Authority) TokenFor(r *model.Reservation) string {
	return a.Issue(r.ID, a.EpochFor(r, a.now()))
}

// Check validates tok against an already loaded reservation.
func (a *Authority) Check(r *model.Reservation, tok string) bool {
	if r == nil {
		return false
	}
	return a.Validate(r.ID, tok, a.EpochFor(r, a.now()))
}

// Verify loads the reservation and validates tok against it.  It returns
// repository.ErrReservationNotFound for unknown ids, ErrInvalidToken for a
// mismatch, and a wrapped error for any other lookup failure.  A nil error
// always comes with a non-nil reservation.
func (a *Authority) Verify(ctx context.Context, lookup Lookup, id uint64, tok string) (*model.Reservation, error) {
	if id == 0 || strings.TrimSpace(tok) == "" {
		return nil, ErrInvalidToken
	}
	r, err := lookup.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrReservationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load reservation %d: %w", id, err)
	}
	if !a.Check(r, tok) {
		return nil, ErrInvalidToken
	}
	return r, nil
}

// CheckURL builds the URL printed into the guest's QR code.
func CheckURL(base string, id uint64, tok string) string {
	q := url.Values{}
	q.Set("id", strconv.FormatUint(id, 10))
	q.Set("token", tok)
	return strings.TrimRight(base, "/") + "/check-id?" + q.Encode()
}

func stripNonAlnum(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
		}
	}
	return b.String()
}
