package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pointdist/internal/points/models"
	"pointdist/pkg/identity"
	"pointdist/pkg/platform/sentinel"
	"pointdist/pkg/week"
)

type groupWeek struct {
	group string
	week  week.Key
}

type allocationKey struct {
	from identity.Identifier
	to   identity.Identifier
	week week.Key
}

type memState struct {
	distributions map[models.DistributionID]*models.Distribution
	byWeek        map[groupWeek]models.DistributionID
	allocations   map[models.DistributionID]map[allocationKey]models.Allocation
	archive       []models.ArchivedAllocation
}

func newMemState() memState {
	return memState{
		distributions: make(map[models.DistributionID]*models.Distribution),
		byWeek:        make(map[groupWeek]models.DistributionID),
		allocations:   make(map[models.DistributionID]map[allocationKey]models.Allocation),
	}
}

func (st memState) clone() memState {
	out := newMemState()
	for id, d := range st.distributions {
		cp := *d
		out.distributions[id] = &cp
	}
	for k, v := range st.byWeek {
		out.byWeek[k] = v
	}
	for id, rows := range st.allocations {
		cp := make(map[allocationKey]models.Allocation, len(rows))
		for k, v := range rows {
			cp[k] = v
		}
		out.allocations[id] = cp
	}
	out.archive = append([]models.ArchivedAllocation(nil), st.archive...)
	return out
}

type inMemoryTxKey struct{}

// InMemory is a map-backed distribution store. Transactions are serialized
// and rolled back by restoring a snapshot.
type InMemory struct {
	mu    sync.RWMutex
	txMu  sync.Mutex
	state memState
}

// NewInMemory returns an empty store.
func NewInMemory() *InMemory {
	return &InMemory{state: newMemState()}
}

// RunInTx runs fn with all-or-nothing semantics. Nested calls join the
// outer transaction.
func (s *InMemory) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, inMemoryTxKey{}, true)); err != nil {
		s.mu.Lock()
		s.state = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(inMemoryTxKey{}).(bool)
	return v
}

// write serializes a mutation against running transactions.
func (s *InMemory) write(ctx context.Context, fn func(st *memState) error) error {
	if !inTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.state)
}

func (s *InMemory) GetOrCreate(ctx context.Context, d *models.Distribution) (*models.Distribution, error) {
	var out models.Distribution
	err := s.write(ctx, func(st *memState) error {
		key := groupWeek{group: d.GroupID, week: d.Week}
		if id, ok := st.byWeek[key]; ok {
			out = *st.distributions[id]
			return nil
		}
		created := *d
		created.Final = false
		created.FinalizedAt = nil
		st.distributions[created.ID] = &created
		st.byWeek[key] = created.ID
		out = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *InMemory) FindByWeek(_ context.Context, group string, wk week.Key) (*models.Distribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.state.byWeek[groupWeek{group: group, week: wk}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	d := *s.state.distributions[id]
	return &d, nil
}

func (s *InMemory) ListFinal(_ context.Context, group string) ([]*models.Distribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Distribution
	for _, d := range s.state.distributions {
		if d.GroupID == group && d.Final {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Week.Before(out[j].Week)
	})
	return out, nil
}

func (s *InMemory) MarkFinal(ctx context.Context, id models.DistributionID, at time.Time) error {
	return s.write(ctx, func(st *memState) error {
		d, ok := st.distributions[id]
		if !ok {
			return sentinel.ErrNotFound
		}
		if d.Final {
			return fmt.Errorf("distribution %s: %w", d.Week, sentinel.ErrInvalidState)
		}
		d.Final = true
		finalizedAt := at
		d.FinalizedAt = &finalizedAt
		return nil
	})
}

func (s *InMemory) UpsertAllocation(ctx context.Context, a *models.Allocation) error {
	return s.write(ctx, func(st *memState) error {
		d, ok := st.distributions[a.DistributionID]
		if !ok {
			return sentinel.ErrNotFound
		}
		if d.Final {
			return fmt.Errorf("distribution %s: %w", d.Week, sentinel.ErrInvalidState)
		}
		rows, ok := st.allocations[a.DistributionID]
		if !ok {
			rows = make(map[allocationKey]models.Allocation)
			st.allocations[a.DistributionID] = rows
		}
		rows[allocationKey{from: a.From, to: a.To, week: a.Week}] = *a
		return nil
	})
}

func (s *InMemory) FindAllocation(_ context.Context, id models.DistributionID, from, to identity.Identifier) (*models.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.state.distributions[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	a, ok := s.state.allocations[id][allocationKey{from: from, to: to, week: d.Week}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &a, nil
}

func (s *InMemory) ListAllocations(_ context.Context, id models.DistributionID) ([]models.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.state.allocations[id]
	out := make([]models.Allocation, 0, len(rows))
	for _, a := range rows {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out, nil
}

func (s *InMemory) DeleteAllocations(ctx context.Context, id models.DistributionID) error {
	return s.write(ctx, func(st *memState) error {
		delete(st.allocations, id)
		return nil
	})
}

func (s *InMemory) Archive(ctx context.Context, a *models.ArchivedAllocation) error {
	return s.write(ctx, func(st *memState) error {
		if _, ok := st.distributions[a.DistributionID]; !ok {
			return sentinel.ErrNotFound
		}
		for _, existing := range st.archive {
			if existing.ID == a.ID {
				return sentinel.ErrAlreadyUsed
			}
		}
		st.archive = append(st.archive, *a)
		return nil
	})
}

func (s *InMemory) ListArchivedByDistribution(_ context.Context, id models.DistributionID) ([]models.ArchivedAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ArchivedAllocation
	for _, a := range s.state.archive {
		if a.DistributionID == id {
			out = append(out, a)
		}
	}
	sortArchived(out)
	return out, nil
}

func (s *InMemory) ListArchivedByRecipient(_ context.Context, group string, to identity.Identifier) ([]models.ArchivedAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ArchivedAllocation
	for _, a := range s.state.archive {
		if a.GroupID == group && a.To == to {
			out = append(out, a)
		}
	}
	sortArchived(out)
	return out, nil
}

// sortArchived orders by week, then recipient, then points, then id, the
// same order the SQL stores use.
func sortArchived(rows []models.ArchivedAllocation) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Week != rows[j].Week {
			return rows[i].Week.Before(rows[j].Week)
		}
		if rows[i].To != rows[j].To {
			return rows[i].To < rows[j].To
		}
		if rows[i].Points != rows[j].Points {
			return rows[i].Points < rows[j].Points
		}
		return rows[i].ID.String() < rows[j].ID.String()
	})
}
