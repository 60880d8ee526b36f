package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReleaseProperties(t *testing.T) {
	published := time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC)
	item := CreatedItem{
		Record: Record{
			Title:       "Acme Corp reports Q4 results",
			SourceURL:   "https://example.com/news/acme",
			DedupKey:    "acme-corp-reports-q4-results-2025-01-05",
			PublishDate: published,
		},
		RemoteItemID: "item-42",
	}

	props := releaseProperties(item)

	title, ok := props["Title"].(notionapi.TitleProperty)
	require.True(t, ok)
	require.Len(t, title.Title, 1)
	assert.Equal(t, "Acme Corp reports Q4 results", title.Title[0].Text.Content)

	url, ok := props["URL"].(notionapi.URLProperty)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/news/acme", url.URL)

	date, ok := props["Date"].(notionapi.DateProperty)
	require.True(t, ok)
	require.NotNil(t, date.Date)
	assert.True(t, time.Time(*date.Date.Start).Equal(published))

	slug, ok := props["Slug"].(notionapi.RichTextProperty)
	require.True(t, ok)
	assert.Equal(t, item.Record.DedupKey, slug.RichText[0].Text.Content)

	cmsItem, ok := props["CMS Item"].(notionapi.RichTextProperty)
	require.True(t, ok)
	assert.Equal(t, "item-42", cmsItem.RichText[0].Text.Content)

	status, ok := props["Status"].(notionapi.SelectProperty)
	require.True(t, ok)
	assert.Equal(t, "Draft", status.Select.Name)

	item.Published = true
	status = releaseProperties(item)["Status"].(notionapi.SelectProperty)
	assert.Equal(t, "Published", status.Select.Name)
}

func TestRichTextTruncatesLongValues(t *testing.T) {
	rt := richText(strings.Repeat("あ", notionTextLimit+50))
	require.Len(t, rt, 1)
	assert.Equal(t, notionTextLimit, len([]rune(rt[0].Text.Content)))
}

func TestNewNotionClipper(t *testing.T) {
	_, err := NewNotionClipper("", "db")
	assert.Error(t, err)

	nc, err := NewNotionClipper("secret", "db-1")
	require.NoError(t, err)
	assert.Equal(t, "db-1", nc.DatabaseID())
}
