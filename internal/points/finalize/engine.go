// Package finalize decides whether a provisional distribution may be locked.
//
// Evaluate runs four checks against the full allocation set and the group's
// member list, in this order, returning the first failure:
//
//  1. completeness: each member allocated exactly once to every member, self included
//  2. sum: each member's allocations add up to models.PointsPerMember
//  3. reciprocal consistency: for every pair {A, B}, A's self-allocation equals
//     what B gives A, and B's self-allocation equals what A gives B
//  4. ties: totals received are pairwise distinct
//
// For groups larger than two, check 3 applied to every pair means every member
// must have submitted the same allocation vector.
package finalize

import (
	"fmt"
	"sort"

	"pointdist/internal/points/models"
	dErrors "pointdist/pkg/domain-errors"
	"pointdist/pkg/identity"
)

const (
	MsgIncomplete  = "Not all members gave points to their colleagues"
	MsgSumMismatch = "Sum of points different than 100"
	MsgConflict    = "There is a conflict of points with at least one member in the group"
	MsgDuplicate   = "Several team members have the same amount of points"
)

// Result is the outcome of a successful evaluation.
type Result struct {
	Totals  map[identity.Identifier]int
	Ranking []models.MemberScore
}

// matrix[from][to] = points
type matrix map[identity.Identifier]map[identity.Identifier]int

// Evaluate checks allocations against members and computes the ranking.
func Evaluate(allocations []models.Allocation, members []identity.Identifier) (*Result, error) {
	m, err := checkComplete(allocations, members)
	if err != nil {
		return nil, err
	}
	if err := checkSums(m, members); err != nil {
		return nil, err
	}
	if err := checkReciprocal(m, members); err != nil {
		return nil, err
	}
	totals := received(m, members)
	if err := checkTies(totals); err != nil {
		return nil, err
	}
	return &Result{Totals: totals, Ranking: rank(totals)}, nil
}

func checkComplete(allocations []models.Allocation, members []identity.Identifier) (matrix, error) {
	if len(members) == 0 {
		return nil, dErrors.New(dErrors.CodeIncompleteSubmission, MsgIncomplete)
	}
	known := make(map[identity.Identifier]struct{}, len(members))
	for _, id := range members {
		known[id] = struct{}{}
	}

	m := make(matrix, len(members))
	for _, a := range allocations {
		if _, ok := known[a.From]; !ok {
			return nil, incomplete(fmt.Errorf("allocation from unknown member %s", a.From))
		}
		if _, ok := known[a.To]; !ok {
			return nil, incomplete(fmt.Errorf("allocation to unknown member %s", a.To))
		}
		row, ok := m[a.From]
		if !ok {
			row = make(map[identity.Identifier]int, len(members))
			m[a.From] = row
		}
		if _, dup := row[a.To]; dup {
			return nil, incomplete(fmt.Errorf("duplicate allocation %s", a))
		}
		row[a.To] = a.Points
	}

	for _, from := range members {
		if len(m[from]) != len(known) {
			return nil, dErrors.New(dErrors.CodeIncompleteSubmission, MsgIncomplete)
		}
	}
	return m, nil
}

func incomplete(cause error) error {
	return dErrors.Wrap(cause, dErrors.CodeIncompleteSubmission, MsgIncomplete)
}

func checkSums(m matrix, members []identity.Identifier) error {
	for _, from := range members {
		sum := 0
		for _, points := range m[from] {
			sum += points
		}
		if sum != models.PointsPerMember {
			return dErrors.New(dErrors.CodeSumMismatch, MsgSumMismatch)
		}
	}
	return nil
}

func checkReciprocal(m matrix, members []identity.Identifier) error {
	for i, a := range members {
		for _, b := range members[i+1:] {
			if m[a][a] != m[b][a] || m[b][b] != m[a][b] {
				return dErrors.New(dErrors.CodePointConflict, MsgConflict)
			}
		}
	}
	return nil
}

func received(m matrix, members []identity.Identifier) map[identity.Identifier]int {
	totals := make(map[identity.Identifier]int, len(members))
	for _, to := range members {
		totals[to] = 0
	}
	for _, row := range m {
		for to, points := range row {
			totals[to] += points
		}
	}
	return totals
}

func checkTies(totals map[identity.Identifier]int) error {
	seen := make(map[int]struct{}, len(totals))
	for _, total := range totals {
		if _, ok := seen[total]; ok {
			return dErrors.New(dErrors.CodeDuplicateScore, MsgDuplicate)
		}
		seen[total] = struct{}{}
	}
	return nil
}

func rank(totals map[identity.Identifier]int) []models.MemberScore {
	scores := make([]models.MemberScore, 0, len(totals))
	for id, total := range totals {
		scores = append(scores, models.MemberScore{Member: id, Total: total})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Total != scores[j].Total {
			return scores[i].Total > scores[j].Total
		}
		return scores[i].Member < scores[j].Member
	})
	for i := range scores {
		scores[i].Rank = i + 1
	}
	return scores
}

// RankArchived rebuilds the ranking of a finalized week from its archive rows.
func RankArchived(rows []models.ArchivedAllocation) []models.MemberScore {
	totals := make(map[identity.Identifier]int)
	for _, r := range rows {
		totals[r.To] += r.Points
	}
	return rank(totals)
}
