package pipeline

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publishRecords(keys ...string) []Record {
	out := make([]Record, len(keys))
	for i, k := range keys {
		out[i] = Record{
			Title:       "Release " + k,
			DedupKey:    k,
			SourceURL:   "https://example.com/" + k,
			PublishDate: time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC),
		}
	}
	return out
}

func statusErr(code int) error {
	return &StatusError{Method: http.MethodPost, URL: "/items", Code: code}
}

func TestPublisher_CreatesThenSkipsOnRerun(t *testing.T) {
	cms := &fakeCMS{}
	p := NewPublisher(cms, testConfig(), discardLogger())
	records := publishRecords("a-2025-01-05", "b-2025-01-05", "c-2025-01-05")

	prepared := 0
	prepare := func(_ context.Context, rec *Record) {
		prepared++
		rec.Content = "<p>" + rec.Title + "</p>"
	}

	first := p.CreateItems(context.Background(), records, prepare)
	require.Len(t, first.Created, 3)
	assert.Empty(t, first.Skipped)
	assert.Empty(t, first.Errors)
	assert.Equal(t, "<p>Release a-2025-01-05</p>", cms.created[0].BodyHTML)
	assert.Equal(t, "a-2025-01-05", cms.created[0].Slug)

	second := p.CreateItems(context.Background(), records, prepare)
	assert.Empty(t, second.Created)
	require.Len(t, second.Skipped, 3)
	assert.Equal(t, "slug already exists in collection", second.Skipped[0].Reason)
	assert.Equal(t, first.Created[0].RemoteItemID, second.Skipped[0].RemoteItemID)

	assert.Equal(t, 3, cms.createCalls)
	assert.Equal(t, 3, prepared, "extraction runs only for records that will be created")
}

func TestPublisher_RetriesTransientCreateFailures(t *testing.T) {
	cms := &fakeCMS{createErrs: []error{statusErr(503), statusErr(429)}}
	p := NewPublisher(cms, testConfig(), discardLogger())

	result := p.CreateItems(context.Background(), publishRecords("a"), nil)
	require.Len(t, result.Created, 1)
	assert.Equal(t, 3, cms.createCalls)
	assert.Len(t, cms.items, 1)
}

func TestPublisher_ExhaustedRetriesDoNotStopTheBatch(t *testing.T) {
	cms := &fakeCMS{createErrs: []error{statusErr(500), statusErr(500), statusErr(500)}}
	p := NewPublisher(cms, testConfig(), discardLogger())

	result := p.CreateItems(context.Background(), publishRecords("a", "b"), nil)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "a", result.Errors[0].Record.DedupKey)
	assert.Contains(t, result.Errors[0].Message, "create: ")
	require.Len(t, result.Created, 1)
	assert.Equal(t, "b", result.Created[0].Record.DedupKey)
	assert.Equal(t, 4, cms.createCalls)
}

func TestPublisher_PermanentErrorIsNotRetried(t *testing.T) {
	cms := &fakeCMS{createErrs: []error{statusErr(http.StatusBadRequest)}}
	p := NewPublisher(cms, testConfig(), discardLogger())

	result := p.CreateItems(context.Background(), publishRecords("a"), nil)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 1, cms.createCalls)
}

func TestPublisher_LostCreateResponseDoesNotDuplicate(t *testing.T) {
	cms := &fakeCMS{createLost: true}
	p := NewPublisher(cms, testConfig(), discardLogger())

	result := p.CreateItems(context.Background(), publishRecords("a"), nil)
	require.Len(t, result.Created, 1)
	assert.Equal(t, "item-1", result.Created[0].RemoteItemID)
	assert.Equal(t, 1, cms.createCalls)
	assert.Len(t, cms.items, 1)
}

func TestPublisher_ExistenceCheckFailure(t *testing.T) {
	cms := &fakeCMS{findErr: statusErr(http.StatusForbidden)}
	p := NewPublisher(cms, testConfig(), discardLogger())

	prepared := 0
	result := p.CreateItems(context.Background(), publishRecords("a"), func(context.Context, *Record) { prepared++ })
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "existence check: ")
	assert.Zero(t, prepared)
	assert.Zero(t, cms.createCalls)
}

func TestPublisher_PublishImmediately(t *testing.T) {
	cfg := testConfig()
	cfg.PublishImmediately = true

	t.Run("published", func(t *testing.T) {
		cms := &fakeCMS{}
		result := NewPublisher(cms, cfg, discardLogger()).CreateItems(context.Background(), publishRecords("a"), nil)
		require.Len(t, result.Created, 1)
		assert.True(t, result.Created[0].Published)
		assert.Equal(t, 1, cms.publishCalls)
	})

	t.Run("publish failure keeps the draft", func(t *testing.T) {
		cms := &fakeCMS{publishErr: statusErr(502)}
		result := NewPublisher(cms, cfg, discardLogger()).CreateItems(context.Background(), publishRecords("a"), nil)
		require.Len(t, result.Created, 1)
		assert.False(t, result.Created[0].Published)
		assert.Empty(t, result.Errors)
		assert.Equal(t, 3, cms.publishCalls)
	})
}

func TestPublisher_PacesRecords(t *testing.T) {
	cfg := testConfig()
	cfg.ItemDelay = 40 * time.Millisecond
	p := NewPublisher(&fakeCMS{}, cfg, discardLogger())

	start := time.Now()
	result := p.CreateItems(context.Background(), publishRecords("a", "b", "c"), nil)
	require.Len(t, result.Created, 3)
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestNewItemFields(t *testing.T) {
	rec := publishRecords("acme-2025-01-05")[0]
	rec.Content = "<p>x</p>"

	got := NewItemFields(rec)
	assert.Equal(t, ItemFields{
		Name:       "Release acme-2025-01-05",
		Slug:       "acme-2025-01-05",
		Date:       "2025-01-05T00:00:00Z",
		BodyHTML:   "<p>x</p>",
		SourceLink: "https://example.com/acme-2025-01-05",
	}, got)
}
