// =============================================================================
// schedule.go - 稼働時間帯の判定（ScheduleGate）
// =============================================================================
//
// 外部スケジューラ（EventBridge / cron）は一定間隔で起動するだけなので、
// 稼働時間帯の外なら何もせずに正常終了する。
//
//	start < end:  start <= hour < end         （例: 7-20）
//	start > end:  hour >= start || hour < end （例: 22-6、日付をまたぐ）
//
// 曜日の指定がなければ毎日稼働する。Forceは時間帯を無視する（手動実行・テスト用）。
//
// =============================================================================
package pipeline

import (
	"strings"
	"time"
)

// ScheduleGate は現在時刻が稼働時間帯に入っているかを判定する
type ScheduleGate struct {
	StartHour int
	EndHour   int
	Weekdays  map[time.Weekday]bool // 空なら毎日
	Location  *time.Location
	Force     bool
}

// NewScheduleGate builds the gate from cfg. cfg must already be validated.
func NewScheduleGate(cfg *Config) (*ScheduleGate, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	g := &ScheduleGate{
		StartHour: cfg.ActiveStartHour,
		EndHour:   cfg.ActiveEndHour,
		Weekdays:  make(map[time.Weekday]bool, len(cfg.ActiveWeekdays)),
		Location:  loc,
		Force:     cfg.Force,
	}
	for _, d := range cfg.ActiveWeekdays {
		if wd, ok := parseWeekday(d); ok {
			g.Weekdays[wd] = true
		}
	}
	return g, nil
}

// Open reports whether a run may proceed at now.
func (g *ScheduleGate) Open(now time.Time) bool {
	if g.Force {
		return true
	}
	local := now.In(g.Location)
	if len(g.Weekdays) > 0 && !g.Weekdays[local.Weekday()] {
		return false
	}

	h := local.Hour()
	if g.StartHour < g.EndHour {
		return h >= g.StartHour && h < g.EndHour
	}
	return h >= g.StartHour || h < g.EndHour
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// parseWeekday は "mon" / "Monday" のような曜日名を解釈する
func parseWeekday(s string) (time.Weekday, bool) {
	wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]
	return wd, ok
}
