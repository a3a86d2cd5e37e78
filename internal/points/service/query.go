package service

import (
	"context"
	"errors"
	"sort"

	"pointdist/internal/points/finalize"
	"pointdist/internal/points/models"
	dErrors "pointdist/pkg/domain-errors"
	"pointdist/pkg/email"
	"pointdist/pkg/identity"
	"pointdist/pkg/platform/sentinel"
	"pointdist/pkg/week"
)

// WeekView is a distribution with its points. A provisional week carries the
// live allocations; a final week carries the anonymized archive and ranking.
type WeekView struct {
	Distribution *models.Distribution
	Allocations  []models.Allocation
	Archived     []models.ArchivedAllocation
	Ranking      []models.MemberScore

	emails map[identity.Identifier]string
}

// EmailOf renders a member identifier as the member's email. Unknown
// identifiers are returned as-is.
func (v *WeekView) EmailOf(id identity.Identifier) string {
	if e, ok := v.emails[id]; ok {
		return e
	}
	return id.String()
}

// WeekTotal is the points a member received in one finalized week.
type WeekTotal struct {
	Week   week.Key `json:"week"`
	Points int      `json:"points"`
}

// Get returns the week's distribution of group.
func (s *Service) Get(ctx context.Context, group string, wk week.Key) (*WeekView, error) {
	group, err := normalizeGroup(group)
	if err != nil {
		return nil, err
	}
	d, err := s.store.FindByWeek(ctx, group, wk)
	if err != nil {
		return nil, translateStoreErr(err, "no points were submitted for week "+wk.String(), "load distribution")
	}
	r, err := s.loadRoster(ctx, group)
	if err != nil {
		return nil, err
	}

	view := &WeekView{Distribution: d, emails: r.byID}
	if d.IsProvisional() {
		view.Allocations, err = s.store.ListAllocations(ctx, d.ID)
		if err != nil {
			return nil, translateStoreErr(err, "distribution not found", "list allocations")
		}
		return view, nil
	}

	view.Archived, err = s.store.ListArchivedByDistribution(ctx, d.ID)
	if err != nil {
		return nil, translateStoreErr(err, "distribution not found", "list archive")
	}
	view.Ranking = finalize.RankArchived(view.Archived)
	return view, nil
}

// History lists the finalized distributions of group, oldest week first.
func (s *Service) History(ctx context.Context, group string) ([]*models.Distribution, error) {
	group, err := normalizeGroup(group)
	if err != nil {
		return nil, err
	}
	dists, err := s.store.ListFinal(ctx, group)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list distributions")
	}
	return dists, nil
}

// MemberHistory sums the archived points a member received, per finalized week.
func (s *Service) MemberHistory(ctx context.Context, group, address string) ([]WeekTotal, error) {
	group, err := normalizeGroup(group)
	if err != nil {
		return nil, err
	}
	m, err := s.members.FindByEmail(ctx, group, address)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "member not found: "+email.Normalize(address))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load member")
	}
	rows, err := s.store.ListArchivedByRecipient(ctx, group, m.Identifier)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list archive")
	}

	byWeek := make(map[week.Key]int)
	for _, r := range rows {
		byWeek[r.Week] += r.Points
	}
	totals := make([]WeekTotal, 0, len(byWeek))
	for wk, points := range byWeek {
		totals = append(totals, WeekTotal{Week: wk, Points: points})
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Week.Before(totals[j].Week) })
	return totals, nil
}
