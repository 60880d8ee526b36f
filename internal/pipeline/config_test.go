package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig([]string{"--listing-url=https://example.com/list"})
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "https://example.com/list", cfg.ListingURL)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 2*time.Second, cfg.RetryDelay)
	assert.Equal(t, 1100*time.Millisecond, cfg.ItemDelay)
	assert.Equal(t, CutoffRolling, cfg.CutoffMode)
	assert.Equal(t, 7, cfg.RollingDays)
	assert.Equal(t, UnparsableExclude, cfg.UnparsableDates)
	assert.Equal(t, "json", cfg.StateBackend)
	assert.Equal(t, 7, cfg.ActiveStartHour)
	assert.Equal(t, 20, cfg.ActiveEndHour)
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("LISTING_URL", "https://example.com/env")
	t.Setenv("CMS_API_TOKEN", "secret")
	t.Setenv("CMS_COLLECTION_ID", "col-9")
	t.Setenv("ACTIVE_WEEKDAYS", "mon,wed,fri")
	t.Setenv("CUTOFF_MODE", "absolute")
	t.Setenv("CUTOFF_DATE", "2025-01-01")

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/env", cfg.ListingURL)
	assert.Equal(t, []string{"mon", "wed", "fri"}, cfg.ActiveWeekdays)
	assert.NoError(t, cfg.ValidateCredentials())

	cutoff, err := cfg.CutoffTime()
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01", cutoff.Format("2006-01-02"))
}

func TestLoadConfig_ScheduleFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
active_window:
  start_hour: 22
  end_hour: 6
  weekdays: [mon, tue]
timezone: UTC
cutoff:
  mode: absolute
  date: "2025-02-01"
  unparsable: include
`), 0o644))

	cfg, err := LoadConfig([]string{
		"--listing-url=https://example.com/list",
		"--schedule-file=" + path,
		"--rolling-days=3",
	})
	require.NoError(t, err)
	assert.Equal(t, 22, cfg.ActiveStartHour)
	assert.Equal(t, 6, cfg.ActiveEndHour)
	assert.Equal(t, []string{"mon", "tue"}, cfg.ActiveWeekdays)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, CutoffAbsolute, cfg.CutoffMode)
	assert.Equal(t, "2025-02-01", cfg.CutoffDate)
	assert.Equal(t, UnparsableInclude, cfg.UnparsableDates)
	assert.Equal(t, 3, cfg.RollingDays, "keys missing from the file keep their flag value")
}

func TestLoadConfig_MalformedScheduleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.yaml")
	require.NoError(t, os.WriteFile(path, []byte("active_window: [unclosed"), 0o644))

	_, err := LoadConfig([]string{"--listing-url=https://example.com/list", "--schedule-file=" + path})
	assert.ErrorIs(t, err, ErrScheduleFileMalformed)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"missing listing url", func(c *Config) { c.ListingURL = " " }, ErrMissingListingURL},
		{"equal window hours", func(c *Config) { c.ActiveStartHour, c.ActiveEndHour = 5, 5 }, ErrInvalidWindow},
		{"hour out of range", func(c *Config) { c.ActiveEndHour = 25 }, ErrInvalidWindow},
		{"unknown weekday", func(c *Config) { c.ActiveWeekdays = []string{"funday"} }, ErrInvalidWeekday},
		{"zero attempts", func(c *Config) { c.RetryAttempts = 0 }, ErrInvalidRetryAttempts},
		{"negative delay", func(c *Config) { c.ItemDelay = -time.Second }, ErrInvalidDelay},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, ErrInvalidTimezone},
		{"bad cutoff mode", func(c *Config) { c.CutoffMode = "weekly" }, ErrInvalidCutoffMode},
		{"absolute without date", func(c *Config) { c.CutoffMode = CutoffAbsolute }, ErrMissingCutoffDate},
		{"rolling zero days", func(c *Config) { c.RollingDays = 0 }, ErrInvalidRollingDays},
		{"bad unparsable policy", func(c *Config) { c.UnparsableDates = "maybe" }, ErrInvalidUnparsable},
		{"bad backend", func(c *Config) { c.StateBackend = "redis" }, ErrInvalidStateBackend},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, ErrInvalidLogLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}

	assert.NoError(t, testConfig().Validate())
}

func TestConfig_ValidateCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.CMSToken = ""
	assert.ErrorIs(t, cfg.ValidateCredentials(), ErrMissingCMSToken)

	cfg = testConfig()
	cfg.CMSCollectionID = ""
	assert.ErrorIs(t, cfg.ValidateCredentials(), ErrMissingCollectionID)
}

func TestConfig_OptionalIntegrations(t *testing.T) {
	cfg := testConfig()
	assert.False(t, cfg.NotionEnabled())
	assert.False(t, cfg.EmailEnabled())

	cfg.NotionToken = "n"
	cfg.NotionPageID = "page"
	assert.True(t, cfg.NotionEnabled())

	cfg.EmailFrom, cfg.EmailPassword, cfg.EmailTo = "a@example.com", "pw", "b@example.com"
	assert.True(t, cfg.EmailEnabled())
}
