package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns a valid configuration with no delays.
func testConfig() *Config {
	return &Config{
		ListingURL:      "https://example.com/disclosures",
		UserAgent:       "disclosure-relay-test",
		HTTPTimeout:     5 * time.Second,
		CMSBaseURL:      "https://cms.example.com/v2",
		CMSToken:        "test-token",
		CMSCollectionID: "col-1",
		RetryAttempts:   3,
		RetryDelay:      0,
		ItemDelay:       0,
		StatePath:       "processed_releases.json",
		StateBackend:    "json",
		ActiveStartHour: 0,
		ActiveEndHour:   24,
		Timezone:        "UTC",
		CutoffMode:      CutoffRolling,
		RollingDays:     7,
		UnparsableDates: UnparsableExclude,
		BrowserTimeout:  5 * time.Second,
		LogLevel:        "info",
	}
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

// -----------------------------------------------------------------------------
// fakeCMS
// -----------------------------------------------------------------------------

type fakeCMS struct {
	mu sync.Mutex

	items  []CMSItem
	nextID int

	// createErrs are returned by successive CreateItem calls before succeeding.
	createErrs []error
	// createLost makes the next create store the item but still return an error.
	createLost    bool
	findErr       error
	publishErr    error
	collectionErr error

	createCalls  int
	publishCalls int
	findCalls    int
	created      []ItemFields
}

func (f *fakeCMS) GetCollection(_ context.Context) (*Collection, error) {
	if f.collectionErr != nil {
		return nil, f.collectionErr
	}
	return &Collection{ID: "col-1", DisplayName: "Disclosures", Slug: "disclosures"}, nil
}

func (f *fakeCMS) FindItemBySlug(_ context.Context, slug string) (*CMSItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	if f.findErr != nil {
		return nil, f.findErr
	}
	for i := range f.items {
		if f.items[i].Slug() == slug {
			item := f.items[i]
			return &item, nil
		}
	}
	return nil, nil
}

func (f *fakeCMS) CreateItem(_ context.Context, fields ItemFields) (*CMSItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		return nil, err
	}

	f.nextID++
	item := CMSItem{
		ID:        fmt.Sprintf("item-%d", f.nextID),
		IsDraft:   true,
		FieldData: map[string]any{"name": fields.Name, "slug": fields.Slug},
	}
	f.items = append(f.items, item)
	f.created = append(f.created, fields)

	if f.createLost {
		f.createLost = false
		return nil, &StatusError{Method: http.MethodPost, URL: "/items", Code: http.StatusGatewayTimeout}
	}
	return &item, nil
}

func (f *fakeCMS) PublishItem(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishCalls++
	return f.publishErr
}

// -----------------------------------------------------------------------------
// fakeBrowser
// -----------------------------------------------------------------------------

type fakeBrowser struct {
	openErr error
	session *fakeSession
	opened  int
}

func (b *fakeBrowser) Open(_ context.Context) (BrowserSession, error) {
	b.opened++
	if b.openErr != nil {
		return nil, b.openErr
	}
	return b.session, nil
}

type fakeSession struct {
	existing    map[string]bool
	outerHTML   map[string]string
	navigateErr error
	clickedErr  error // returned by Exists once a click happened

	// appearAfterClick lists selectors that exist only once they have been
	// checked the given number of times after a click.
	appearAfterClick map[string]int
	checks           map[string]int

	navigated string
	clicked   []string
	closed    bool
}

func (s *fakeSession) Navigate(url string) error {
	s.navigated = url
	return s.navigateErr
}

func (s *fakeSession) Exists(selector string) (bool, error) {
	if s.clickedErr != nil && len(s.clicked) > 0 {
		return false, s.clickedErr
	}
	if n, ok := s.appearAfterClick[selector]; ok && len(s.clicked) > 0 && !s.existing[selector] {
		if s.checks == nil {
			s.checks = map[string]int{}
		}
		s.checks[selector]++
		if s.checks[selector] >= n {
			if s.existing == nil {
				s.existing = map[string]bool{}
			}
			s.existing[selector] = true
		}
	}
	return s.existing[selector], nil
}

func (s *fakeSession) Click(selector string) error {
	s.clicked = append(s.clicked, selector)
	return nil
}

func (s *fakeSession) WaitVisible(selector string) error {
	if !s.existing[selector] {
		return fmt.Errorf("%s never became visible", selector)
	}
	return nil
}

func (s *fakeSession) OuterHTML(selector string) (string, error) {
	markup, ok := s.outerHTML[selector]
	if !ok {
		return "", fmt.Errorf("no node for %s", selector)
	}
	return markup, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

// memoryStore is an in-memory Store.
type memoryStore struct {
	state   *ProcessedStore
	saveErr error
	saves   int
}

func (m *memoryStore) Load(_ context.Context) (*ProcessedStore, error) {
	if m.state == nil {
		return NewProcessedStore(), nil
	}
	cp := *m.state
	cp.ProcessedReleases = append([]ProcessedRelease(nil), m.state.ProcessedReleases...)
	cp.Stats.Errors = append([]ErrorEntry{}, m.state.Stats.Errors...)
	return &cp, nil
}

func (m *memoryStore) Save(_ context.Context, s *ProcessedStore) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.state = s
	return nil
}

func (m *memoryStore) Close() error { return nil }
