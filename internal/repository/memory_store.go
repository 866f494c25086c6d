package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/escape-reception/internal/model"
)

// MemoryStore keeps reservations in process memory.  It backs STORAGE=memory
// deployments and serves as the store in package tests.  Reservations handed
// out are copies; mutating them does not affect the store.
type MemoryStore struct {
	slotMu sync.Mutex // serializes InSlotTx callbacks

	mu     sync.Mutex
	nextID uint64
	rows   map[uint64]*model.Reservation
	now    func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, rows: map[uint64]*model.Reservation{}, now: time.Now}
}

// WithClock replaces the time source used for created_at/updated_at.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Put inserts or replaces a reservation verbatim.  A zero ID is assigned
// the next free id.  Used to seed fixtures.
func (s *MemoryStore) Put(r *model.Reservation) *model.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := r.Clone()
	if c.ID == 0 {
		c.ID = s.nextID
	}
	if c.ID >= s.nextID {
		s.nextID = c.ID + 1
	}
	if c.Difficulty == "" {
		c.Difficulty = model.DifficultyEasy
	}
	s.rows[c.ID] = c
	return c.Clone()
}

type memorySlotTx struct{ s *MemoryStore }

func (t memorySlotTx) SlotUsage(ctx context.Context, slot time.Time, policy model.CapacityPolicy) (int, error) {
	return t.s.SlotUsage(ctx, slot, policy)
}

func (t memorySlotTx) CreateReservation(ctx context.Context, r *model.Reservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	c := &model.Reservation{
		ID:         s.nextID,
		SlotTime:   r.SlotTime.UTC(),
		PartySize:  r.PartySize,
		Difficulty: r.Difficulty,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if c.Difficulty == "" {
		c.Difficulty = model.DifficultyEasy
	}
	s.nextID++
	s.rows[c.ID] = c
	*r = *c.Clone()
	return nil
}

// InSlotTx runs fn while holding the store wide slot lock.  Writes made by
// fn are not rolled back on error; fn is expected to write last.
func (s *MemoryStore) InSlotTx(ctx context.Context, slot time.Time, fn func(SlotTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	return fn(memorySlotTx{s: s})
}

func (s *MemoryStore) SlotUsage(ctx context.Context, slot time.Time, policy model.CapacityPolicy) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	slot = slot.UTC()
	used := 0
	for _, r := range s.rows {
		if r.SlotTime.Equal(slot) && r.CountsToward(policy) {
			used += r.PartySize
		}
	}
	return used, nil
}

func (s *MemoryStore) Get(ctx context.Context, id uint64) (*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) CheckIn(ctx context.Context, id uint64, name string) (bool, error) {
	var already bool
	err := s.update(ctx, id, func(r *model.Reservation) error {
		if r.Cancelled {
			return ErrConflict
		}
		if r.CheckedIn && (name == "" || name == r.Name()) {
			already = true
			return nil
		}
		r.CheckedIn = true
		if name != "" {
			n := name
			r.DisplayName = &n
		}
		return nil
	})
	return already, err
}

func (s *MemoryStore) SetCheckedIn(ctx context.Context, id uint64, checked bool) error {
	return s.update(ctx, id, func(r *model.Reservation) error {
		r.CheckedIn = checked
		return nil
	})
}

func (s *MemoryStore) MarkStarted(ctx context.Context, id uint64, at time.Time) (bool, error) {
	var changed bool
	err := s.update(ctx, id, func(r *model.Reservation) error {
		if r.GameStartedAt != nil || r.Cancelled {
			return nil
		}
		t := at.UTC()
		r.GameStartedAt = &t
		changed = true
		return nil
	})
	return changed, err
}

func (s *MemoryStore) MarkStopped(ctx context.Context, id uint64, elapsedSeconds int) (bool, error) {
	var changed bool
	err := s.update(ctx, id, func(r *model.Reservation) error {
		if r.GameStartedAt == nil || r.ElapsedSeconds != nil {
			return nil
		}
		e := elapsedSeconds
		r.ElapsedSeconds = &e
		changed = true
		return nil
	})
	return changed, err
}

func (s *MemoryStore) SetDifficulty(ctx context.Context, id uint64, d model.Difficulty) error {
	return s.update(ctx, id, func(r *model.Reservation) error {
		r.Difficulty = d
		return nil
	})
}

func (s *MemoryStore) Cancel(ctx context.Context, id uint64) error {
	return s.update(ctx, id, func(r *model.Reservation) error {
		if r.Running() {
			return ErrConflict
		}
		r.Cancelled = true
		return nil
	})
}

func (s *MemoryStore) Delete(ctx context.Context, id uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return ErrReservationNotFound
	}
	delete(s.rows, id)
	return nil
}

func (s *MemoryStore) ListRunning(ctx context.Context) ([]*model.Reservation, error) {
	out, err := s.filter(ctx, func(r *model.Reservation) bool { return r.Running() && !r.Cancelled })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].GameStartedAt.Equal(*out[j].GameStartedAt) {
			return out[i].GameStartedAt.Before(*out[j].GameStartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ListActiveReceptions(ctx context.Context) ([]*model.Reservation, error) {
	out, err := s.filter(ctx, func(r *model.Reservation) bool { return r.CheckedIn && !r.Cancelled })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SlotTime.Equal(out[j].SlotTime) {
			return out[i].SlotTime.Before(out[j].SlotTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) Ranking(ctx context.Context, tier model.Difficulty, limit, maxElapsed int) ([]model.RankingEntry, error) {
	rows, err := s.filter(ctx, func(r *model.Reservation) bool {
		return r.Difficulty == tier && r.Ended() && !r.Cancelled && *r.ElapsedSeconds <= maxElapsed
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if *rows[i].ElapsedSeconds != *rows[j].ElapsedSeconds {
			return *rows[i].ElapsedSeconds < *rows[j].ElapsedSeconds
		}
		return rows[i].ID < rows[j].ID
	})
	if limit >= 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]model.RankingEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.RankingEntry{
			ID:             r.ID,
			ElapsedSeconds: *r.ElapsedSeconds,
			PartySize:      r.PartySize,
			DisplayName:    r.DisplayName,
			SlotTime:       r.SlotTime,
		})
	}
	return out, nil
}

func (s *MemoryStore) update(ctx context.Context, id uint64, fn func(*model.Reservation) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return ErrReservationNotFound
	}
	work := r.Clone()
	if err := fn(work); err != nil {
		return err
	}
	work.UpdatedAt = s.now().UTC()
	s.rows[id] = work
	return nil
}

func (s *MemoryStore) filter(ctx context.Context, keep func(*model.Reservation) bool) ([]*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*model.Reservation{}
	for _, r := range s.rows {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}
