package models

import (
	"strings"
	"time"

	dErrors "pointdist/pkg/domain-errors"
	"pointdist/pkg/email"
	"pointdist/pkg/identity"
)

// Member is a person inside a group.
//
// Invariants:
//   - Identifier is derived from (Email, GroupID) and never chosen by callers
//   - Email is unique within a group, stored normalized
//   - immutable once created
type Member struct {
	Identifier identity.Identifier `json:"identifier"`
	GroupID    string              `json:"group_id"`
	Name       string              `json:"name"`
	Email      string              `json:"email"`
	CreatedAt  time.Time           `json:"created_at"`
}

// NewMember validates and builds a member. An empty name is derived from the
// email address.
func NewMember(group, name, address string, now time.Time) (*Member, error) {
	group = strings.TrimSpace(group)
	if group == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "group_id is required")
	}
	address = email.Normalize(address)
	if !email.Valid(address) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "email is invalid")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = email.DisplayName(address)
	}
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "name must be 128 characters or less")
	}
	return &Member{
		Identifier: identity.ForEmail(address, group),
		GroupID:    group,
		Name:       name,
		Email:      address,
		CreatedAt:  now,
	}, nil
}
