package models

import (
	"time"

	"github.com/google/uuid"

	"pointdist/pkg/identity"
	"pointdist/pkg/week"
)

// PointsPerMember is the pool every member distributes each week.
const PointsPerMember = 100

// DistributionID is derived from (week, group) so the same week of the same
// group always maps to the same distribution.
type DistributionID string

// NewDistributionID derives the identifier of the (group, week) distribution.
func NewDistributionID(group string, wk week.Key) DistributionID {
	return DistributionID(identity.Pseudonymize(wk.String(), group))
}

// Distribution is the set of all allocations of a group for one week.
//
// Invariants:
//   - at most one Distribution per (GroupID, Week)
//   - Final flips false -> true exactly once, never back
//   - allocations may only change while Final is false
type Distribution struct {
	ID          DistributionID `json:"-"`
	GroupID     string         `json:"group_id"`
	Week        week.Key       `json:"week"`
	Final       bool           `json:"is_final"`
	Date        time.Time      `json:"date"`
	CreatedAt   time.Time      `json:"created_at"`
	FinalizedAt *time.Time     `json:"finalized_at,omitempty"`
}

// NewDistribution builds a provisional distribution for the week containing date.
func NewDistribution(group string, date, now time.Time) *Distribution {
	wk := week.Normalize(date)
	return &Distribution{
		ID:        NewDistributionID(group, wk),
		GroupID:   group,
		Week:      wk,
		Date:      date,
		CreatedAt: now,
	}
}

// IsProvisional reports whether the distribution still accepts amendments.
func (d *Distribution) IsProvisional() bool {
	return !d.Final
}

// Status is the human-readable lifecycle state.
func (d *Distribution) Status() string {
	if d.Final {
		return "final"
	}
	return "provisional"
}

func (d *Distribution) String() string {
	return d.Week.String() + ", " + d.Status()
}

// Allocation is one member's points for one recipient in one week.
type Allocation struct {
	DistributionID DistributionID      `json:"-"`
	From           identity.Identifier `json:"from_member"`
	To             identity.Identifier `json:"to_member"`
	Week           week.Key            `json:"week"`
	Points         int                 `json:"points"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// Key is the uniqueness key of an allocation inside its distribution.
func (a Allocation) Key() AllocationKey {
	return AllocationKey{From: a.From, To: a.To}
}

func (a Allocation) String() string {
	return a.Week.String() + ", from " + a.From.String() + " to " + a.To.String()
}

// AllocationKey is (from, to); distribution and week are implied by the owner.
type AllocationKey struct {
	From identity.Identifier
	To   identity.Identifier
}

// ArchivedAllocation is the anonymized, immutable record of a finalized
// allocation. It has no from-member field.
type ArchivedAllocation struct {
	ID             uuid.UUID           `json:"id"`
	DistributionID DistributionID      `json:"-"`
	GroupID        string              `json:"group_id"`
	Week           week.Key            `json:"week"`
	To             identity.Identifier `json:"to_member"`
	Points         int                 `json:"points"`
	ArchivedAt     time.Time           `json:"archived_at"`
}

// Anonymize is the only way to build an ArchivedAllocation; the submitter is
// dropped and cannot be recovered from the result.
func Anonymize(a Allocation, group string, at time.Time) ArchivedAllocation {
	return ArchivedAllocation{
		ID:             uuid.New(),
		DistributionID: a.DistributionID,
		GroupID:        group,
		Week:           a.Week,
		To:             a.To,
		Points:         a.Points,
		ArchivedAt:     at,
	}
}

// Grant is a (from, to, points) triple as submitted by a caller, members named by email.
type Grant struct {
	FromEmail string
	ToEmail   string
	Points    int
}

// Submission is a batch of grants for the week containing Date.
type Submission struct {
	GroupID string
	Date    time.Time
	Grants  []Grant
}

// MemberScore is a member's aggregated total for a finalized week.
type MemberScore struct {
	Member identity.Identifier `json:"member"`
	Total  int                 `json:"total"`
	Rank   int                 `json:"rank"`
}
