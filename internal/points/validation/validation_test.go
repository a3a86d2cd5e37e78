package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pointdist/internal/points/models"
	dErrors "pointdist/pkg/domain-errors"
)

var (
	members = []string{"member1@example.com", "member2@example.com"}
	// Wednesday
	now = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
)

func grant(from, to string, points int) models.Grant {
	return models.Grant{FromEmail: from, ToEmail: to, Points: points}
}

func TestCheckCurrentWeek(t *testing.T) {
	t.Run("any day of the current week is accepted", func(t *testing.T) {
		for _, d := range []time.Time{
			time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 10, 18, 23, 59, 59, 0, time.UTC),
		} {
			assert.NoError(t, CheckCurrentWeek(d, now))
		}
	})

	t.Run("previous and next weeks are stale", func(t *testing.T) {
		for _, d := range []time.Time{
			time.Date(2026, 10, 11, 23, 59, 0, 0, time.UTC),
			time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
		} {
			err := CheckCurrentWeek(d, now)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeStaleWeek), "date %s", d)
		}
	})
}

func TestCheckPointValues(t *testing.T) {
	tests := []struct {
		name    string
		grants  []models.Grant
		wantErr bool
	}{
		{name: "bounds are inclusive", grants: []models.Grant{grant(members[0], members[0], 0), grant(members[0], members[1], 100)}},
		{name: "negative rejected", grants: []models.Grant{grant(members[0], members[1], -1)}, wantErr: true},
		{name: "above pool rejected", grants: []models.Grant{grant(members[0], members[1], 101)}, wantErr: true},
		{name: "empty batch rejected", grants: nil, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPointValues(tt.grants)
			if tt.wantErr {
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidValue))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCheckKnownMembers(t *testing.T) {
	t.Run("emails match case-insensitively", func(t *testing.T) {
		err := CheckKnownMembers([]models.Grant{grant("Member1@Example.com", "member2@example.com ", 10)}, members)
		assert.NoError(t, err)
	})

	t.Run("unknown recipient is not found", func(t *testing.T) {
		err := CheckKnownMembers([]models.Grant{grant(members[0], "ghost@example.com", 10)}, members)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
		assert.Contains(t, err.Error(), "ghost@example.com")
	})

	t.Run("unknown submitter is not found", func(t *testing.T) {
		err := CheckKnownMembers([]models.Grant{grant("ghost@example.com", members[0], 10)}, members)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func TestCheckBatchIncludesAllMembers(t *testing.T) {
	t.Run("single submitter grading everyone passes", func(t *testing.T) {
		err := CheckBatchIncludesAllMembers([]models.Grant{
			grant(members[0], members[0], 0),
			grant(members[0], members[1], 100),
		}, members)
		assert.NoError(t, err)
	})

	t.Run("ungraded member fails", func(t *testing.T) {
		err := CheckBatchIncludesAllMembers([]models.Grant{
			grant(members[0], members[1], 100),
		}, members)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeMissingSubmitter))
		assert.Equal(t, MsgMissingSubmitter, err.Error())
	})
}

func TestValidateSubmission(t *testing.T) {
	valid := models.Submission{
		GroupID: "group-1",
		Date:    now,
		Grants: []models.Grant{
			grant(members[0], members[0], 51),
			grant(members[0], members[1], 49),
		},
	}

	t.Run("valid submission", func(t *testing.T) {
		assert.NoError(t, ValidateSubmission(valid, members, now))
	})

	t.Run("stale week is checked first", func(t *testing.T) {
		sub := valid
		sub.Date = now.AddDate(0, 0, -7)
		sub.Grants = []models.Grant{grant(members[0], members[1], 500)}
		err := ValidateSubmission(sub, members, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeStaleWeek))
	})

	t.Run("values are checked before membership", func(t *testing.T) {
		sub := valid
		sub.Grants = []models.Grant{grant("ghost@example.com", members[1], 500)}
		err := ValidateSubmission(sub, members, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidValue))
	})
}
