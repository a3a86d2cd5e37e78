package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pointdist/internal/points/models"
	"pointdist/internal/points/validation"
	dErrors "pointdist/pkg/domain-errors"
	"pointdist/pkg/email"
	"pointdist/pkg/platform/sentinel"
	"pointdist/pkg/requestcontext"
)

const msgAlreadyFinal = "Distribution for this week is already final"

// Submit validates a batch and writes it into the week's provisional
// distribution, creating the distribution on first use. Re-submitting a
// (from, to) pair replaces its points.
func (s *Service) Submit(ctx context.Context, sub models.Submission) (view *WeekView, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "points.Submit", sub.GroupID)
	defer func() { endSpan(span, err) }()

	group, err := normalizeGroup(sub.GroupID)
	if err != nil {
		return nil, err
	}
	sub.GroupID = group
	now := requestcontext.Now(ctx)

	r, err := s.loadRoster(ctx, group)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateSubmission(sub, r.emails, now); err != nil {
		return nil, err
	}

	var dist *models.Distribution
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		d, err := s.store.GetOrCreate(ctx, models.NewDistribution(group, sub.Date, now))
		if err != nil {
			return translateStoreErr(err, "distribution not found", "load distribution")
		}
		if !d.IsProvisional() {
			return dErrors.New(dErrors.CodeAlreadyFinal, msgAlreadyFinal)
		}
		dist = d
		return s.writeGrants(ctx, d, r, sub.Grants, now)
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.AddAllocations(len(sub.Grants))
		s.metrics.ObserveSubmit(start)
	}
	s.logAudit(ctx, "distribution_submitted",
		"group_id", group,
		"week", dist.Week.String(),
		"allocations", len(sub.Grants),
	)
	return s.Get(ctx, group, dist.Week)
}

// Amend changes the points of allocations that already exist in the week's
// provisional distribution. Unlike Submit it accepts partial batches.
func (s *Service) Amend(ctx context.Context, sub models.Submission) (view *WeekView, err error) {
	ctx, span := s.startSpan(ctx, "points.Amend", sub.GroupID)
	defer func() { endSpan(span, err) }()

	group, err := normalizeGroup(sub.GroupID)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	r, err := s.loadRoster(ctx, group)
	if err != nil {
		return nil, err
	}
	if err := validation.CheckCurrentWeek(sub.Date, now); err != nil {
		return nil, err
	}
	if err := validation.CheckPointValues(sub.Grants); err != nil {
		return nil, err
	}
	if err := validation.CheckKnownMembers(sub.Grants, r.emails); err != nil {
		return nil, err
	}

	wk := models.NewDistribution(group, sub.Date, now).Week
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		d, err := s.store.FindByWeek(ctx, group, wk)
		if err != nil {
			return translateStoreErr(err, "no points were submitted for week "+wk.String(), "load distribution")
		}
		if !d.IsProvisional() {
			return dErrors.New(dErrors.CodeAlreadyFinal, msgAlreadyFinal)
		}
		for _, g := range sub.Grants {
			from, to := r.byMail[email.Normalize(g.FromEmail)], r.byMail[email.Normalize(g.ToEmail)]
			if _, err := s.store.FindAllocation(ctx, d.ID, from, to); err != nil {
				if errors.Is(err, sentinel.ErrNotFound) {
					return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("no points from %s to %s this week",
						email.Normalize(g.FromEmail), email.Normalize(g.ToEmail)))
				}
				return translateStoreErr(err, "allocation not found", "load allocation")
			}
		}
		return s.writeGrants(ctx, d, r, sub.Grants, now)
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "distribution_amended",
		"group_id", group,
		"week", wk.String(),
		"allocations", len(sub.Grants),
	)
	return s.Get(ctx, group, wk)
}

func (s *Service) writeGrants(ctx context.Context, d *models.Distribution, r *roster, grants []models.Grant, now time.Time) error {
	for _, g := range grants {
		a := &models.Allocation{
			DistributionID: d.ID,
			From:           r.byMail[email.Normalize(g.FromEmail)],
			To:             r.byMail[email.Normalize(g.ToEmail)],
			Week:           d.Week,
			Points:         g.Points,
			UpdatedAt:      now,
		}
		if err := s.store.UpsertAllocation(ctx, a); err != nil {
			return translateStoreErr(err, "distribution not found", "save allocation")
		}
	}
	return nil
}
