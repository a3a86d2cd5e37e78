// Package validation holds the checks a submitted batch must pass before any
// allocation is written. Every check is pure; the service runs them in order
// and stops at the first failure so a rejected batch never reaches the store.
package validation

import (
	"fmt"
	"time"

	"pointdist/internal/points/models"
	dErrors "pointdist/pkg/domain-errors"
	"pointdist/pkg/email"
	"pointdist/pkg/week"
)

const (
	MsgStaleWeek        = "Points can only be submitted for the current week"
	MsgMissingSubmitter = "Some members haven't been graded yet"
	MsgEmptyBatch       = "At least one allocation is required"
)

// CheckCurrentWeek rejects dates outside the week that contains now.
func CheckCurrentWeek(date, now time.Time) error {
	if !week.IsCurrent(date, now) {
		return dErrors.New(dErrors.CodeStaleWeek, MsgStaleWeek)
	}
	return nil
}

// CheckPointValues requires every value to lie in [0, PointsPerMember].
func CheckPointValues(grants []models.Grant) error {
	if len(grants) == 0 {
		return dErrors.New(dErrors.CodeInvalidValue, MsgEmptyBatch)
	}
	for _, g := range grants {
		if g.Points < 0 || g.Points > models.PointsPerMember {
			return dErrors.New(dErrors.CodeInvalidValue,
				fmt.Sprintf("points for %s must be between 0 and %d", g.ToEmail, models.PointsPerMember))
		}
	}
	return nil
}

// CheckKnownMembers rejects grants naming an email outside members.
func CheckKnownMembers(grants []models.Grant, members []string) error {
	known := emailSet(members)
	for _, g := range grants {
		for _, addr := range []string{g.FromEmail, g.ToEmail} {
			if _, ok := known[email.Normalize(addr)]; !ok {
				return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("member %s not found", email.Normalize(addr)))
			}
		}
	}
	return nil
}

// CheckBatchIncludesAllMembers requires every known member to be graded by
// the batch, i.e. to appear as a recipient at least once. Each submitter
// grades the whole group, self included, so a partial batch leaves someone
// ungraded.
func CheckBatchIncludesAllMembers(grants []models.Grant, members []string) error {
	graded := make(map[string]struct{}, len(grants))
	for _, g := range grants {
		graded[email.Normalize(g.ToEmail)] = struct{}{}
	}
	for _, m := range email.DedupeNormalized(members) {
		if _, ok := graded[m]; !ok {
			return dErrors.New(dErrors.CodeMissingSubmitter, MsgMissingSubmitter)
		}
	}
	return nil
}

// ValidateSubmission runs every submission check in order.
func ValidateSubmission(sub models.Submission, members []string, now time.Time) error {
	if err := CheckCurrentWeek(sub.Date, now); err != nil {
		return err
	}
	if err := CheckPointValues(sub.Grants); err != nil {
		return err
	}
	if err := CheckKnownMembers(sub.Grants, members); err != nil {
		return err
	}
	return CheckBatchIncludesAllMembers(sub.Grants, members)
}

func emailSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[email.Normalize(v)] = struct{}{}
	}
	return set
}
