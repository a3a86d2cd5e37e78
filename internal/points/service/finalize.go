package service

import (
	"context"
	"sort"
	"time"

	"pointdist/internal/points/events"
	"pointdist/internal/points/finalize"
	"pointdist/internal/points/models"
	dErrors "pointdist/pkg/domain-errors"
	"pointdist/pkg/requestcontext"
	"pointdist/pkg/week"
)

const msgFinalizeStaleWeek = "Only the current week can be finalized"

// Finalize evaluates the week's allocations and, when they pass, locks the
// distribution. Locking, archiving and deleting the provisional allocations
// happen in one transaction; a rejected evaluation changes nothing.
func (s *Service) Finalize(ctx context.Context, group string, wk week.Key) (view *WeekView, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "points.Finalize", group)
	defer func() {
		endSpan(span, err)
		s.observeFinalize(start, err)
	}()

	group, err = normalizeGroup(group)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	current := week.Normalize(now)
	if wk != current && (!s.allowPastFinalization || current.Before(wk)) {
		return nil, dErrors.New(dErrors.CodeStaleWeek, msgFinalizeStaleWeek)
	}

	d, err := s.store.FindByWeek(ctx, group, wk)
	if err != nil {
		return nil, translateStoreErr(err, "no points were submitted for week "+wk.String(), "load distribution")
	}
	if !d.IsProvisional() {
		return nil, dErrors.New(dErrors.CodeAlreadyFinal, msgAlreadyFinal)
	}

	r, err := s.loadRoster(ctx, group)
	if err != nil {
		return nil, err
	}

	var (
		result   *finalize.Result
		archived []models.ArchivedAllocation
	)
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		// The conditional flip goes first: it locks the row, so a racing
		// finalization fails here instead of evaluating a half-archived week.
		// A rejected evaluation rolls the flip back.
		if err := s.store.MarkFinal(ctx, d.ID, now); err != nil {
			return translateStoreErr(err, "distribution not found", "finalize distribution")
		}
		allocations, err := s.store.ListAllocations(ctx, d.ID)
		if err != nil {
			return translateStoreErr(err, "distribution not found", "list allocations")
		}
		result, err = finalize.Evaluate(allocations, r.ids)
		if err != nil {
			return err
		}
		for _, a := range allocations {
			row := models.Anonymize(a, group, now)
			if err := s.store.Archive(ctx, &row); err != nil {
				return translateStoreErr(err, "distribution not found", "archive allocation")
			}
			archived = append(archived, row)
		}
		if err := s.store.DeleteAllocations(ctx, d.ID); err != nil {
			return translateStoreErr(err, "distribution not found", "delete allocations")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "distribution_finalized",
		"group_id", group,
		"week", wk.String(),
		"members", len(result.Ranking),
	)

	// The week is final from here on; nothing below may report failure.
	d.Final = true
	d.FinalizedAt = &now
	sortArchived(archived)
	committed := &WeekView{
		Distribution: d,
		Archived:     archived,
		Ranking:      finalize.RankArchived(archived),
		emails:       r.byID,
	}
	s.publishFinalized(ctx, committed)

	fresh, getErr := s.Get(ctx, group, wk)
	if getErr != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "finalized week could not be re-read",
				"group_id", group,
				"week", wk.String(),
				"error", getErr,
			)
		}
		return committed, nil
	}
	return fresh, nil
}

// sortArchived matches the stores' archive order: week, recipient, points, id.
func sortArchived(rows []models.ArchivedAllocation) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Week != b.Week {
			return a.Week.Before(b.Week)
		}
		if a.To != b.To {
			return a.To < b.To
		}
		if a.Points != b.Points {
			return a.Points < b.Points
		}
		return a.ID.String() < b.ID.String()
	})
}

// publishFinalized runs after commit, so a broker failure is logged and
// counted but never undoes the finalization.
func (s *Service) publishFinalized(ctx context.Context, view *WeekView) {
	if s.events == nil {
		return
	}
	d := view.Distribution
	ev := events.DistributionFinalized{
		GroupID: d.GroupID,
		Week:    d.Week.String(),
		Ranking: make([]events.Score, 0, len(view.Ranking)),
	}
	if d.FinalizedAt != nil {
		ev.FinalizedAt = *d.FinalizedAt
	}
	for _, score := range view.Ranking {
		ev.Ranking = append(ev.Ranking, events.Score{
			Email: view.EmailOf(score.Member),
			Total: score.Total,
			Rank:  score.Rank,
		})
	}
	if err := s.events.DistributionFinalized(ctx, ev); err != nil {
		if s.metrics != nil {
			s.metrics.IncrementEventsFailed()
		}
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to publish finalization event",
				"group_id", d.GroupID,
				"week", ev.Week,
				"error", err,
			)
		}
	}
}

func (s *Service) observeFinalize(start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveFinalize(start)
	if err == nil {
		s.metrics.IncrementFinalized()
		return
	}
	code := dErrors.CodeInternal
	if de, ok := dErrors.As(err); ok {
		code = de.Code
	}
	s.metrics.IncrementRejected(string(code))
}
