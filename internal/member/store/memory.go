package store

import (
	"context"
	"sort"
	"sync"

	"pointdist/internal/member/models"
	"pointdist/pkg/email"
	"pointdist/pkg/identity"
	"pointdist/pkg/platform/sentinel"
)

type memberKey struct {
	group string
	id    identity.Identifier
}

// InMemory is a map-backed member store.
type InMemory struct {
	mu      sync.RWMutex
	members map[memberKey]*models.Member
}

// NewInMemory returns an empty store.
func NewInMemory() *InMemory {
	return &InMemory{members: make(map[memberKey]*models.Member)}
}

// Create inserts m, or returns sentinel.ErrAlreadyUsed when the group already
// has a member with the same email.
func (s *InMemory) Create(_ context.Context, m *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memberKey{group: m.GroupID, id: m.Identifier}
	if _, ok := s.members[key]; ok {
		return sentinel.ErrAlreadyUsed
	}
	for _, existing := range s.members {
		if existing.GroupID == m.GroupID && existing.Email == m.Email {
			return sentinel.ErrAlreadyUsed
		}
	}
	cp := *m
	s.members[key] = &cp
	return nil
}

func (s *InMemory) FindByIdentifier(_ context.Context, group string, id identity.Identifier) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[memberKey{group: group, id: id}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *InMemory) FindByEmail(ctx context.Context, group, address string) (*models.Member, error) {
	return s.FindByIdentifier(ctx, group, identity.ForEmail(email.Normalize(address), group))
}

// ListByGroup returns the group's members ordered by email.
func (s *InMemory) ListByGroup(_ context.Context, group string) ([]*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*models.Member{}
	for _, m := range s.members {
		if m.GroupID == group {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Email < out[j].Email
	})
	return out, nil
}
