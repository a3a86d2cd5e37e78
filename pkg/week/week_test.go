package week

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestNormalize(t *testing.T) {
	monday := date(2026, time.October, 12)

	t.Run("every day of a Mon-Sun window maps to the same key", func(t *testing.T) {
		want := Normalize(monday)
		for i := 0; i < 7; i++ {
			assert.Equal(t, want, Normalize(monday.AddDate(0, 0, i)), "day offset %d", i)
		}
		assert.Equal(t, "2026-10-12", want.String())
	})

	t.Run("adjacent weeks differ", func(t *testing.T) {
		sunday := monday.AddDate(0, 0, -1)
		nextMonday := monday.AddDate(0, 0, 7)
		assert.NotEqual(t, Normalize(monday), Normalize(sunday))
		assert.NotEqual(t, Normalize(monday), Normalize(nextMonday))
		assert.Equal(t, Normalize(monday).Next(), Normalize(nextMonday))
		assert.Equal(t, Normalize(monday).Prev(), Normalize(sunday))
	})

	t.Run("crosses year boundary", func(t *testing.T) {
		// 2027-01-01 is a Friday; its week starts Monday 2026-12-28.
		assert.Equal(t, "2026-12-28", Normalize(date(2027, time.January, 1)).String())
	})

	t.Run("uses the calendar date of the input location", func(t *testing.T) {
		loc := time.FixedZone("UTC-5", -5*60*60)
		lateSunday := time.Date(2026, time.October, 18, 23, 30, 0, 0, loc)
		assert.Equal(t, "2026-10-12", Normalize(lateSunday).String())
	})
}

func TestIsCurrent(t *testing.T) {
	now := date(2026, time.October, 16) // Friday
	assert.True(t, IsCurrent(date(2026, time.October, 12), now))
	assert.True(t, IsCurrent(date(2026, time.October, 18), now))
	assert.False(t, IsCurrent(date(2026, time.October, 11), now))
	assert.False(t, IsCurrent(date(2026, time.October, 19), now))
}

func TestParse(t *testing.T) {
	t.Run("normalizes a mid-week date", func(t *testing.T) {
		k, err := Parse("2017-01-21")
		require.NoError(t, err)
		assert.Equal(t, "2017-01-16", k.String())
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		_, err := Parse("21/01/2017")
		require.Error(t, err)
	})
}

func TestKeyJSON(t *testing.T) {
	type payload struct {
		Week Key `json:"week"`
	}
	in := payload{Week: MustParse("2026-10-14")}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"week":"2026-10-12"}`, string(raw))

	var out payload
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in.Week, out.Week)
}

func TestFromTimeRenormalizes(t *testing.T) {
	k := FromTime(time.Date(2026, time.October, 15, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "2026-10-12", k.String())
	assert.True(t, k.Contains(date(2026, time.October, 17)))
	assert.True(t, k.Before(k.Next()))
}
