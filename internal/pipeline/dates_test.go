package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateNormalizer_Normalize(t *testing.T) {
	n := NewDateNormalizer(time.UTC)
	want := time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		text string
	}{
		{"long month", "January 5, 2025"},
		{"iso", "2025-01-05"},
		{"short month", "Jan 5, 2025"},
		{"us slashes", "01/05/2025"},
		{"time after line break", "Jan 5, 2025\n10:30 AM EST"},
		{"surrounding whitespace", "   January 5, 2025   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := n.Normalize(tt.text)
			require.True(t, ok, "expected %q to parse", tt.text)
			assert.Equal(t, want.Format("2006-01-02"), got.Format("2006-01-02"))
		})
	}
}

func TestDateNormalizer_Unparsable(t *testing.T) {
	n := NewDateNormalizer(time.UTC)
	for _, text := range []string{"", "TBD", "Coming soon", "Date to be announced"} {
		_, ok := n.Normalize(text)
		assert.False(t, ok, "expected %q to be unparsable", text)
	}
}

func TestDateNormalizer_Apply(t *testing.T) {
	n := NewDateNormalizer(time.UTC)
	scraped := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

	rec := Record{DateText: "March 3, 2025", ScrapedAt: scraped}
	n.Apply(&rec)
	require.True(t, rec.HasDate())
	assert.Equal(t, "2025-03-03", rec.NormalizedDate.Format("2006-01-02"))
	assert.True(t, rec.PublishDate.Equal(*rec.NormalizedDate))

	undated := Record{DateText: "Recently", ScrapedAt: scraped}
	n.Apply(&undated)
	assert.False(t, undated.HasDate())
	assert.True(t, undated.PublishDate.Equal(scraped), "publish date falls back to scrape time")
}

func TestDatePortion(t *testing.T) {
	assert.Equal(t, "Jan 5, 2025", datePortion("  Jan   5, 2025\r\n10:30 AM"))
	assert.Equal(t, "Jan 5", datePortion("\nJan 5"))
}
