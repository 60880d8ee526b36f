// =============================================================================
// filter.go - カットオフフィルタと並び替え（RecordFilter / Sorter）
// =============================================================================
//
// 【カットオフ方針】
//   - absolute: normalizedDate >= cutoffDate（日単位、カットオフ当日は含む）
//   - rolling:  直近N日以内（今日を含むN日前の0時以降）
//
// 【解析不能な日付】
// 2つの方針で扱いを変えない。UnparsableDates設定（exclude / include）を
// どちらのモードにも同じように適用する。既定値は exclude。
//
// 【並び替え】
// normalizedDateの降順（新しい順）。どちらかが解析不能な組は、
// 生の日付テキストの文字列比較（降順）にフォールバックする。
//
// =============================================================================
package pipeline

import (
	"fmt"
	"sort"
	"time"
)

// CutoffPolicy はどのレコードを「十分新しい」とみなすかを決める
type CutoffPolicy struct {
	Mode              string
	Cutoff            time.Time // absolute
	RollingDays       int       // rolling
	IncludeUnparsable bool
	Location          *time.Location
}

// NewCutoffPolicy builds the policy described by cfg.
func NewCutoffPolicy(cfg *Config) (CutoffPolicy, error) {
	loc, err := cfg.Location()
	if err != nil {
		return CutoffPolicy{}, err
	}
	p := CutoffPolicy{
		Mode:              cfg.CutoffMode,
		RollingDays:       cfg.RollingDays,
		IncludeUnparsable: cfg.UnparsableDates == UnparsableInclude,
		Location:          loc,
	}
	switch cfg.CutoffMode {
	case CutoffAbsolute:
		if p.Cutoff, err = cfg.CutoffTime(); err != nil {
			return CutoffPolicy{}, err
		}
	case CutoffRolling:
	default:
		return CutoffPolicy{}, fmt.Errorf("%w: %q", ErrInvalidCutoffMode, cfg.CutoffMode)
	}
	return p, nil
}

// Threshold returns the earliest instant still considered new at now.
func (p CutoffPolicy) Threshold(now time.Time) time.Time {
	if p.Mode == CutoffAbsolute {
		return startOfDay(p.Cutoff, p.location())
	}
	return startOfDay(now.In(p.location()).AddDate(0, 0, -p.RollingDays), p.location())
}

// Keep reports whether rec passes the cutoff at now.
func (p CutoffPolicy) Keep(rec Record, now time.Time) bool {
	if !rec.HasDate() {
		return p.IncludeUnparsable
	}
	day := startOfDay(*rec.NormalizedDate, p.location())
	return !day.Before(p.Threshold(now))
}

// Apply returns the records that pass the cutoff, preserving order.
func (p CutoffPolicy) Apply(records []Record, now time.Time) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if p.Keep(r, now) {
			out = append(out, r)
		}
	}
	return out
}

func (p CutoffPolicy) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// SortNewestFirst sorts records in place, newest first.
func SortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.HasDate() && b.HasDate() {
			return a.NormalizedDate.After(*b.NormalizedDate)
		}
		// 片方でも解析不能なら生テキストで比較（時系列としての意味はない）
		return a.DateText > b.DateText
	})
}
