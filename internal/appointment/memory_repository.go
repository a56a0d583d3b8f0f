package appointment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps appointments in process memory. A single mutex
// covers both the occupancy index and the records.
type MemoryRepository struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]Appointment
	active map[string]uuid.UUID // slot key -> id of the active appointment
	events []EventLog
	now    func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[uuid.UUID]Appointment),
		active: make(map[string]uuid.UUID),
		now:    time.Now,
	}
}

func (r *MemoryRepository) List(ctx context.Context, f Filter) ([]Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Appointment, 0, len(r.byID))
	for _, a := range r.byID {
		if f.Match(a) {
			out = append(out, a)
		}
	}
	sortBySlot(out)
	return out, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) Insert(ctx context.Context, a Appointment) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if a.Status.Active() {
		if _, taken := r.active[a.SlotKey()]; taken {
			return nil, ErrSlotTaken
		}
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := r.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	a.Version = 1

	r.byID[a.ID] = a
	if a.Status.Active() {
		r.active[a.SlotKey()] = a.ID
	}
	return &a, nil
}

func (r *MemoryRepository) Update(ctx context.Context, a Appointment) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[a.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if current.Version != a.Version {
		return nil, ErrConcurrentModification
	}

	if a.Status.Active() {
		if holder, taken := r.active[a.SlotKey()]; taken && holder != a.ID {
			return nil, ErrSlotTaken
		}
	}

	if current.Status.Active() {
		delete(r.active, current.SlotKey())
	}
	if a.Status.Active() {
		r.active[a.SlotKey()] = a.ID
	}

	a.ClientID = current.ClientID
	a.CreatedAt = current.CreatedAt
	a.UpdatedAt = r.now()
	a.Version = current.Version + 1
	r.byID[a.ID] = a
	return &a, nil
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the audit trail.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]EventLog, len(r.events))
	copy(out, r.events)
	return out
}
