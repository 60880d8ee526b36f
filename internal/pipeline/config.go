// =============================================================================
// config.go - パイプライン設定
// =============================================================================
//
// このファイルはCLIフラグ・環境変数の解析と設定管理を行います。
// go-flagsのstructタグで、フラグと環境変数を1つの構造体にまとめています。
//
// 【設定グループ】
//   - 入力:       一覧ページURL、HTTP設定
//   - CMS:        APIトークン、コレクションID、リトライ、レート制御
//   - 状態:       処理履歴ファイル（json / sqlite）
//   - スケジュール: 稼働時間帯、タイムゾーン、カットオフ方針
//   - 抽出:       ヘッドレスブラウザ設定
//   - 通知:       Notionミラー、エラー通知メール
//
// スケジュール関連はYAMLファイル（--schedule-file）で上書きできる。
//
// =============================================================================
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // LambdaのランタイムにはタイムゾーンDBがない

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

// Configuration validation errors.
var (
	ErrMissingListingURL     = errors.New("listing URL is required")
	ErrMissingCMSToken       = errors.New("CMS API token is required")
	ErrMissingCollectionID   = errors.New("CMS collection ID is required")
	ErrInvalidWindow         = errors.New("active window hours must be within 0-24 and differ")
	ErrInvalidWeekday        = errors.New("unknown weekday in active weekdays")
	ErrInvalidRetryAttempts  = errors.New("retry attempts must be at least 1")
	ErrInvalidDelay          = errors.New("delays must be non-negative")
	ErrInvalidCutoffMode     = errors.New("cutoff mode must be 'absolute' or 'rolling'")
	ErrMissingCutoffDate     = errors.New("cutoff date is required in absolute mode")
	ErrInvalidRollingDays    = errors.New("rolling days must be at least 1")
	ErrInvalidUnparsable     = errors.New("unparsable date policy must be 'include' or 'exclude'")
	ErrInvalidStateBackend   = errors.New("state backend must be 'json' or 'sqlite'")
	ErrInvalidTimezone       = errors.New("timezone could not be loaded")
	ErrInvalidLogLevel       = errors.New("log level must be one of: debug, info, warn, error")
	ErrScheduleFileMalformed = errors.New("schedule file is malformed")
)

// Cutoff modes.
const (
	CutoffAbsolute = "absolute"
	CutoffRolling  = "rolling"
)

// Unparsable date policies.
const (
	UnparsableExclude = "exclude"
	UnparsableInclude = "include"
)

// Config はパイプラインの全設定を保持する
//
// 各コンポーネントはコンストラクタでこの値を受け取り、環境変数を直接読まない。
type Config struct {
	// 入力
	ListingURL  string        `long:"listing-url" env:"LISTING_URL" description:"Disclosure listing page URL"`
	UserAgent   string        `long:"user-agent" env:"USER_AGENT" default:"Mozilla/5.0 (compatible; disclosure-relay/1.0)" description:"User agent for HTTP requests"`
	HTTPTimeout time.Duration `long:"http-timeout" env:"HTTP_TIMEOUT" default:"30s" description:"Timeout for each HTTP request"`

	// CMS
	CMSBaseURL         string        `long:"cms-base-url" env:"CMS_BASE_URL" default:"https://api.webflow.com/v2" description:"CMS REST API base URL"`
	CMSToken           string        `long:"cms-token" env:"CMS_API_TOKEN" description:"CMS bearer token"`
	CMSCollectionID    string        `long:"cms-collection-id" env:"CMS_COLLECTION_ID" description:"CMS collection receiving the drafts"`
	PublishImmediately bool          `long:"publish" env:"CMS_PUBLISH_IMMEDIATELY" description:"Publish items right after creating the draft"`
	RetryAttempts      int           `long:"retry-attempts" env:"RETRY_ATTEMPTS" default:"3" description:"Attempts per external call"`
	RetryDelay         time.Duration `long:"retry-delay" env:"RETRY_DELAY" default:"2s" description:"Fixed delay between attempts"`
	ItemDelay          time.Duration `long:"item-delay" env:"ITEM_DELAY" default:"1100ms" description:"Pacing between records (CMS rate limit)"`

	// 状態
	StatePath    string `long:"state-path" env:"STATE_PATH" default:"processed_releases.json" description:"Processed-release state file"`
	StateBackend string `long:"state-backend" env:"STATE_BACKEND" default:"json" description:"State backend: json|sqlite"`

	// スケジュール
	ScheduleFile    string   `long:"schedule-file" env:"SCHEDULE_FILE" description:"Optional YAML file overriding schedule and cutoff settings"`
	ActiveStartHour int      `long:"active-start-hour" env:"ACTIVE_START_HOUR" default:"7" description:"First active hour (inclusive)"`
	ActiveEndHour   int      `long:"active-end-hour" env:"ACTIVE_END_HOUR" default:"20" description:"Last active hour (exclusive)"`
	ActiveWeekdays  []string `long:"active-weekday" env:"ACTIVE_WEEKDAYS" env-delim:"," description:"Active weekdays (mon..sun); empty means every day"`
	Timezone        string   `long:"timezone" env:"TIMEZONE" default:"America/New_York" description:"Timezone for the active window and dates"`
	Force           bool     `long:"force" env:"FORCE_RUN" description:"Ignore the active window (override/test mode)"`
	CutoffMode      string   `long:"cutoff-mode" env:"CUTOFF_MODE" default:"rolling" description:"Cutoff policy: absolute|rolling"`
	CutoffDate      string   `long:"cutoff-date" env:"CUTOFF_DATE" description:"Absolute cutoff date (YYYY-MM-DD)"`
	RollingDays     int      `long:"rolling-days" env:"ROLLING_DAYS" default:"7" description:"Rolling window size in days"`
	UnparsableDates string   `long:"unparsable-dates" env:"UNPARSABLE_DATES" default:"exclude" description:"Records with unparsable dates: include|exclude"`

	// 抽出
	BrowserURL     string        `long:"browser-url" env:"BROWSER_WS_URL" description:"Remote DevTools websocket URL (local Chrome when empty)"`
	BrowserTimeout time.Duration `long:"browser-timeout" env:"BROWSER_TIMEOUT" default:"45s" description:"Timeout for one modal extraction"`
	MaxItems       int           `long:"max-items" env:"MAX_ITEMS" default:"0" description:"Maximum records per run (0 = unlimited)"`
	DryRun         bool          `long:"dry-run" env:"DRY_RUN" description:"Parse and extract without publishing or saving state"`

	// 運用
	LogLevel string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"debug|info|warn|error"`
	Cron     string `long:"cron" env:"CRON_SPEC" description:"Run repeatedly on this cron spec instead of once (CLI only)"`

	// 通知
	NotionToken      string `long:"notion-token" env:"NOTION_TOKEN" description:"Notion token for the editorial mirror (optional)"`
	NotionDatabaseID string `long:"notion-database-id" env:"NOTION_DATABASE_ID" description:"Notion database for the editorial mirror (optional)"`
	NotionPageID     string `long:"notion-page-id" env:"NOTION_PAGE_ID" description:"Parent page for creating the mirror database when no database ID is set"`
	EmailFrom        string `long:"email-from" env:"EMAIL_FROM" description:"Failure notification sender (optional)"`
	EmailPassword    string `long:"email-password" env:"EMAIL_PASSWORD" description:"SMTP app password (optional)"`
	EmailTo          string `long:"email-to" env:"EMAIL_TO" description:"Failure notification recipients, comma separated (optional)"`
}

// LoadConfig はフラグと環境変数から設定を読み込む
//
// --help が指定された場合は (nil, nil) を返す。
// Lambdaからは args に空スライスを渡し、環境変数のみで設定する。
func LoadConfig(args []string) (*Config, error) {
	var cfg Config

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if cfg.ScheduleFile != "" {
		sf, err := LoadScheduleFile(cfg.ScheduleFile)
		if err != nil {
			return nil, err
		}
		cfg.ApplySchedule(sf)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate は設定値の整合性を検証する（認証情報はValidateCredentialsで別途検証）
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListingURL) == "" {
		return ErrMissingListingURL
	}
	if c.ActiveStartHour < 0 || c.ActiveStartHour > 24 || c.ActiveEndHour < 0 || c.ActiveEndHour > 24 ||
		c.ActiveStartHour == c.ActiveEndHour {
		return fmt.Errorf("%w: %d-%d", ErrInvalidWindow, c.ActiveStartHour, c.ActiveEndHour)
	}
	for _, d := range c.ActiveWeekdays {
		if _, ok := parseWeekday(d); !ok {
			return fmt.Errorf("%w: %q", ErrInvalidWeekday, d)
		}
	}
	if c.RetryAttempts < 1 {
		return ErrInvalidRetryAttempts
	}
	if c.RetryDelay < 0 || c.ItemDelay < 0 {
		return ErrInvalidDelay
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	switch c.CutoffMode {
	case CutoffAbsolute:
		if c.CutoffDate == "" {
			return ErrMissingCutoffDate
		}
		if _, err := c.CutoffTime(); err != nil {
			return err
		}
	case CutoffRolling:
		if c.RollingDays < 1 {
			return ErrInvalidRollingDays
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCutoffMode, c.CutoffMode)
	}

	switch c.UnparsableDates {
	case UnparsableExclude, UnparsableInclude:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidUnparsable, c.UnparsableDates)
	}

	switch c.StateBackend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStateBackend, c.StateBackend)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}
	return nil
}

// ValidateCredentials はCMS呼び出しに必須の認証情報を検証する
//
// 欠けている場合は実行初期化時の致命的エラーとして扱う。
func (c *Config) ValidateCredentials() error {
	if c.CMSToken == "" {
		return ErrMissingCMSToken
	}
	if c.CMSCollectionID == "" {
		return ErrMissingCollectionID
	}
	return nil
}

// Location は設定されたタイムゾーンを返す
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTimezone, c.Timezone, err)
	}
	return loc, nil
}

// CutoffTime は絶対カットオフ日をタイムゾーン上の0時として返す
func (c *Config) CutoffTime() (time.Time, error) {
	loc, err := c.Location()
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(c.CutoffDate), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cutoff date %q: %w", c.CutoffDate, err)
	}
	return t, nil
}

// NotionEnabled はNotionミラーが設定されているかを返す
func (c *Config) NotionEnabled() bool {
	return c.NotionToken != "" && (c.NotionDatabaseID != "" || c.NotionPageID != "")
}

// EmailEnabled はエラー通知メールが設定されているかを返す
func (c *Config) EmailEnabled() bool {
	return c.EmailFrom != "" && c.EmailPassword != "" && c.EmailTo != ""
}

// =============================================================================
// スケジュールファイル（YAML）
// =============================================================================

// ScheduleFile はスケジュールとカットオフ方針のYAML表現
//
// 指定されたキーだけがフラグ・環境変数の値を上書きする。
//
//	active_window:
//	  start_hour: 7
//	  end_hour: 20
//	  weekdays: [mon, tue, wed, thu, fri]
//	timezone: America/New_York
//	cutoff:
//	  mode: absolute
//	  date: "2025-01-01"
//	  unparsable: exclude
type ScheduleFile struct {
	ActiveWindow *struct {
		StartHour *int     `yaml:"start_hour"`
		EndHour   *int     `yaml:"end_hour"`
		Weekdays  []string `yaml:"weekdays"`
	} `yaml:"active_window"`
	Timezone *string `yaml:"timezone"`
	Cutoff   *struct {
		Mode        *string `yaml:"mode"`
		Date        *string `yaml:"date"`
		RollingDays *int    `yaml:"rolling_days"`
		Unparsable  *string `yaml:"unparsable"`
	} `yaml:"cutoff"`
}

// LoadScheduleFile はYAMLのスケジュールファイルを読み込む
func LoadScheduleFile(path string) (*ScheduleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule file: %w", err)
	}

	var sf ScheduleFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScheduleFileMalformed, err)
	}
	return &sf, nil
}

// ApplySchedule はスケジュールファイルの値を設定に反映する
func (c *Config) ApplySchedule(sf *ScheduleFile) {
	if sf == nil {
		return
	}
	if w := sf.ActiveWindow; w != nil {
		if w.StartHour != nil {
			c.ActiveStartHour = *w.StartHour
		}
		if w.EndHour != nil {
			c.ActiveEndHour = *w.EndHour
		}
		if w.Weekdays != nil {
			c.ActiveWeekdays = w.Weekdays
		}
	}
	if sf.Timezone != nil {
		c.Timezone = *sf.Timezone
	}
	if co := sf.Cutoff; co != nil {
		if co.Mode != nil {
			c.CutoffMode = *co.Mode
		}
		if co.Date != nil {
			c.CutoffDate = *co.Date
		}
		if co.RollingDays != nil {
			c.RollingDays = *co.RollingDays
		}
		if co.Unparsable != nil {
			c.UnparsableDates = *co.Unparsable
		}
	}
}
