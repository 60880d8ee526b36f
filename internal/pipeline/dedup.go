// =============================================================================
// dedup.go - 重複判定キー（slug）の導出と履歴フィルタ
// =============================================================================
//
// 【dedupKeyの導出】
//
//	dedupKey = slug(title) + "-" + dateKey   （最大100文字。切り詰めるのはタイトル側）
//
//	dateKey: 解析できた日付は "2006-01-02"、できなければ日付テキストのslug、
//	         日付テキストもなければ "undated"
//
// 正規化後のタイトルと日付が同じ2件は必ず同じキーになる。
// これが重複検出の仕組みであり、ハッシュ衝突のバグではない。
// 同じキーはCMSのslugとしても使うため、英小文字・数字・ハイフンのみで構成する。
//
// =============================================================================
package pipeline

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// dedupKeyMaxLength はdedupKey（slug）の最大長
const dedupKeyMaxLength = 100

// Slugify はテキストをCMSで安全なslugに変換する
//
//	Slugify("Société Générale: Q3 Results")  // "societe-generale-q3-results"
func Slugify(s string) string {
	// アクセント記号を分解して除去（é -> e）
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}

// DedupKey はタイトルと日付から決定的な重複判定キーを導出する
func DedupKey(rec Record) string {
	dateKey := "undated"
	switch {
	case rec.HasDate():
		dateKey = rec.NormalizedDate.Format("2006-01-02")
	case Slugify(datePortion(rec.DateText)) != "":
		dateKey = Slugify(datePortion(rec.DateText))
	}

	titleKey := Slugify(rec.Title)
	if titleKey == "" {
		titleKey = "untitled"
	}
	// 日付部分は残し、タイトル側だけを切り詰める
	dateKey = truncateSlug(dateKey, dedupKeyMaxLength/2)
	titleKey = truncateSlug(titleKey, dedupKeyMaxLength-len(dateKey)-1)
	return titleKey + "-" + dateKey
}

// truncateSlug はslugを最大長に切り詰め、末尾のハイフンを除去する
func truncateSlug(slug string, maxLen int) string {
	if len(slug) > maxLen {
		slug = slug[:maxLen]
	}
	return strings.TrimRight(slug, "-")
}

// FilterNew はProcessedStoreに未登録のdedupKeyを持つレコードだけを返す
//
// 同じ実行履歴に対するローカルな重複排除であり、前回の実行が保存前に落ちた場合の
// 重複はPublisherのリモート存在チェックで防ぐ。
func FilterNew(records []Record, store *ProcessedStore) []Record {
	if store == nil {
		return records
	}
	seen := store.Keys()
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if seen[r.DedupKey] {
			continue
		}
		seen[r.DedupKey] = true // 同一ページ内の重複行も1件にまとめる
		out = append(out, r)
	}
	return out
}
