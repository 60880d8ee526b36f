// =============================================================================
// dates.go - 日付正規化
// =============================================================================
//
// 一覧ページの日付テキストは形式が揃っていない。
//
//	"January 5, 2025"
//	"2025-01-05"
//	"Jan 5, 2025\n10:30 AM EST"   （改行の後ろに時刻・タイムゾーン）
//
// 改行より前の部分だけをdateparseで解析し、失敗した場合は「解析不能」として扱う。
// 解析不能なレコードをどう扱うかはfilter.goのUnparsableポリシーで決める。
//
// =============================================================================
package pipeline

import (
	"strings"
	"time"
	"unicode"

	"github.com/araddon/dateparse"
)

// DateNormalizer は日付テキストを比較可能な時刻に変換する
type DateNormalizer struct {
	loc *time.Location
}

// NewDateNormalizer は指定タイムゾーンで解釈するDateNormalizerを作成する
func NewDateNormalizer(loc *time.Location) *DateNormalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &DateNormalizer{loc: loc}
}

// Normalize parses dateText. The boolean is false when the text is unparsable.
func (n *DateNormalizer) Normalize(dateText string) (time.Time, bool) {
	text := datePortion(dateText)
	if text == "" || !strings.ContainsFunc(text, unicode.IsDigit) {
		return time.Time{}, false
	}

	t, err := dateparse.ParseIn(text, n.loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Apply sets NormalizedDate and PublishDate on rec.
func (n *DateNormalizer) Apply(rec *Record) {
	if t, ok := n.Normalize(rec.DateText); ok {
		rec.NormalizedDate = &t
		rec.PublishDate = t
		return
	}
	rec.NormalizedDate = nil
	rec.PublishDate = rec.ScrapedAt
}

// datePortion returns the text before the first line break, trimmed and collapsed.
func datePortion(dateText string) string {
	text := strings.TrimSpace(dateText)
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		text = text[:i]
	}
	return normalizeWhitespace(text)
}
