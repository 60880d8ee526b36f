package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recAt(title string, t *time.Time, dateText string) Record {
	return Record{Title: title, NormalizedDate: t, DateText: dateText}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestCutoffPolicy_AbsoluteBoundary(t *testing.T) {
	p := CutoffPolicy{
		Mode:     CutoffAbsolute,
		Cutoff:   time.Date(2025, time.January, 3, 0, 0, 0, 0, time.UTC),
		Location: time.UTC,
	}
	now := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, p.Keep(recAt("on cutoff day", timePtr(time.Date(2025, 1, 3, 18, 30, 0, 0, time.UTC)), ""), now))
	assert.True(t, p.Keep(recAt("after", datePtr(2025, time.January, 4), ""), now))
	assert.False(t, p.Keep(recAt("day before", timePtr(time.Date(2025, 1, 2, 23, 59, 0, 0, time.UTC)), ""), now))
}

func TestCutoffPolicy_RollingWindow(t *testing.T) {
	p := CutoffPolicy{Mode: CutoffRolling, RollingDays: 7, Location: time.UTC}
	now := time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2025, time.January, 3, 0, 0, 0, 0, time.UTC), p.Threshold(now))
	assert.True(t, p.Keep(recAt("today", datePtr(2025, time.January, 10), ""), now))
	assert.True(t, p.Keep(recAt("edge", datePtr(2025, time.January, 3), ""), now))
	assert.False(t, p.Keep(recAt("too old", datePtr(2025, time.January, 2), ""), now))
}

func TestCutoffPolicy_UnparsableDates(t *testing.T) {
	now := time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC)
	undated := recAt("undated", nil, "Spring")

	for _, mode := range []string{CutoffAbsolute, CutoffRolling} {
		base := CutoffPolicy{
			Mode:        mode,
			Cutoff:      time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
			RollingDays: 7,
			Location:    time.UTC,
		}

		exclude := base
		assert.False(t, exclude.Keep(undated, now), "%s mode excludes by default", mode)

		include := base
		include.IncludeUnparsable = true
		assert.True(t, include.Keep(undated, now), "%s mode includes when configured", mode)
	}
}

func TestCutoffPolicy_Apply(t *testing.T) {
	p := CutoffPolicy{Mode: CutoffRolling, RollingDays: 2, Location: time.UTC}
	now := time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC)
	records := []Record{
		recAt("a", datePtr(2025, time.January, 9), ""),
		recAt("b", datePtr(2025, time.January, 1), ""),
		recAt("c", datePtr(2025, time.January, 8), ""),
	}

	got := p.Apply(records, now)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Title)
	assert.Equal(t, "c", got[1].Title)
}

func TestNewCutoffPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.CutoffMode = CutoffAbsolute
	cfg.CutoffDate = "2025-01-03"
	cfg.UnparsableDates = UnparsableInclude

	p, err := NewCutoffPolicy(cfg)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-03", p.Cutoff.Format("2006-01-02"))
	assert.True(t, p.IncludeUnparsable)

	cfg.CutoffMode = "weekly"
	_, err = NewCutoffPolicy(cfg)
	assert.ErrorIs(t, err, ErrInvalidCutoffMode)
}

func TestSortNewestFirst(t *testing.T) {
	records := []Record{
		recAt("older", datePtr(2025, time.January, 2), "January 2, 2025"),
		recAt("newer", datePtr(2025, time.January, 5), "January 5, 2025"),
		recAt("middle", datePtr(2025, time.January, 3), "January 3, 2025"),
	}
	SortNewestFirst(records)
	assert.Equal(t, []string{"newer", "middle", "older"}, titles(records))
}

func TestSortNewestFirst_UnparsableFallsBackToRawText(t *testing.T) {
	records := []Record{
		recAt("a", nil, "Autumn"),
		recAt("w", nil, "Winter"),
		recAt("s", nil, "Spring"),
	}
	SortNewestFirst(records)
	assert.Equal(t, []string{"w", "s", "a"}, titles(records))
}

func titles(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Title
	}
	return out
}
