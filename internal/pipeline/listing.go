// =============================================================================
// listing.go - 一覧ページの解析（ListParser）
// =============================================================================
//
// 開示一覧ページには安定したスキーマがない。テーブル、Drupalのviews-row、
// リスト、article など、時期によって構造が変わる。
// そこで「セレクタの優先順位付きリスト」を順に試し、最初に成功したものを採用する。
//
// 【アルゴリズム】
//  1. rowPatterns を先頭から試す
//  2. 最小長を満たすタイトルが取れる行が1つでもあれば、そのパターンをページ全体に使う
//     （以降のパターンは試さない。同じパターン内で個別の行が失敗しても変えない）
//  3. 各行: ヘッダー行（th を含む）はスキップ
//  4. タイトル: titleChain を順に試し、最初に空でないテキストを採用
//     （同じ要素からリンクとノード参照も取得する）
//  5. 日付: dateChain を順に試し、最初に空でないテキストを採用
//  6. タイトルが最小長未満の行はエラーにせず黙って捨てる
//
// 【重要】結果はセレクタの「存在」ではなく「順序」に依存する。
// 順序を入れ替えると曖昧なマークアップでの挙動が変わるので注意。
//
// =============================================================================
package pipeline

import (
	"bytes"
	"fmt"
	"iter"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// minTitleLength はレコードとして採用するタイトルの最小文字数
const minTitleLength = 5

// reModalHref は "#modal-123" / "#node-123" 形式のターゲットからノード参照を取り出す
var reModalHref = regexp.MustCompile(`^#(?:modal|node)-([\w-]+)$`)

// nodeRefAttrs はノード参照を直接持つ属性（優先順）
var nodeRefAttrs = []string{"data-node-ref", "data-nid", "data-node-id"}

// nodeRefTargetAttrs はモーダルのターゲットを指す属性（優先順）
var nodeRefTargetAttrs = []string{"data-target", "data-bs-target", "href"}

// -----------------------------------------------------------------------------
// セレクタチェーン
// -----------------------------------------------------------------------------

// fieldRule は (matcher, extractor) の組
type fieldRule struct {
	selector string
	matcher  goquery.Matcher
	extract  func(*goquery.Selection) string
}

func rule(selector string, extract func(*goquery.Selection) string) fieldRule {
	return fieldRule{
		selector: selector,
		matcher:  cascadia.MustCompile(selector),
		extract:  extract,
	}
}

func textOf(s *goquery.Selection) string {
	return normalizeWhitespace(s.Text())
}

// dateTextOf は表示テキストを優先し、空なら datetime 属性を使う
// 改行は時刻・タイムゾーンとの区切りとして残す
func dateTextOf(s *goquery.Selection) string {
	raw := strings.TrimSpace(s.Text())
	if raw == "" {
		raw, _ = s.Attr("datetime")
	}
	lines := strings.Split(raw, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = normalizeWhitespace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// rowPatterns は行コンテナのセレクタ（優先順）
var rowPatterns = []goquery.Matcher{
	cascadia.MustCompile("table tbody tr"),
	cascadia.MustCompile("table tr"),
	cascadia.MustCompile(".views-row"),
	cascadia.MustCompile(".item-list li"),
	cascadia.MustCompile("article"),
	cascadia.MustCompile(".news-item, .press-release, .release-item"),
}

// headerMarker はヘッダー行の目印
var headerMarker = cascadia.MustCompile("th")

// titleChain はタイトルのサブセレクタ（列位置 → class/タグの順）
var titleChain = []fieldRule{
	rule("td:nth-of-type(2) a", textOf),
	rule("td:nth-of-type(1) a", textOf),
	rule(".views-field-title a", textOf),
	rule(".title a", textOf),
	rule("h3 a", textOf),
	rule("h2 a", textOf),
	rule("h4 a", textOf),
	rule(".views-field-title", textOf),
	rule(".title", textOf),
	rule("h3", textOf),
	rule("h2", textOf),
	rule("a", textOf),
}

// dateChain は日付のサブセレクタ（優先順）
var dateChain = []fieldRule{
	rule("time", dateTextOf),
	rule(".date-display-single", dateTextOf),
	rule(".views-field-created", dateTextOf),
	rule(".views-field-field-date", dateTextOf),
	rule(".date", dateTextOf),
	rule(".datetime", dateTextOf),
	rule(".published", dateTextOf),
	rule("td:nth-of-type(1)", dateTextOf),
}

// titleMatch はタイトルチェーンの結果
type titleMatch struct {
	text    string
	href    string
	nodeRef string
}

// -----------------------------------------------------------------------------
// ListParser
// -----------------------------------------------------------------------------

// ListParser は一覧ページのマークアップからレコード候補を取り出す
type ListParser struct {
	baseURL    string
	normalizer *DateNormalizer
	now        func() time.Time
	logger     *slog.Logger
}

// NewListParser creates a parser that resolves links against baseURL.
func NewListParser(baseURL string, normalizer *DateNormalizer, logger *slog.Logger) *ListParser {
	return &ListParser{
		baseURL:    baseURL,
		normalizer: normalizer,
		now:        time.Now,
		logger:     logger,
	}
}

// ParseHTML parses raw markup. See Parse.
func (p *ListParser) ParseHTML(markup []byte) (iter.Seq[Record], error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse HTML failed: %w", err)
	}
	return p.Parse(doc), nil
}

// Parse returns a lazy, single-pass sequence of records found in doc.
func (p *ListParser) Parse(doc *goquery.Document) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		rows, pattern := p.selectRows(doc.Selection)
		if rows == nil {
			p.logger.Warn("no row pattern matched the listing page")
			return
		}
		p.logger.Debug("row pattern selected", "pattern", pattern, "rows", rows.Length())

		scrapedAt := p.now()
		for i := range rows.Length() {
			rec, ok := p.parseRow(rows.Eq(i), scrapedAt)
			if !ok {
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}
}

// selectRows は最初に有効なタイトルを1つ以上含む行パターンを返す
func (p *ListParser) selectRows(root *goquery.Selection) (*goquery.Selection, int) {
	for i, m := range rowPatterns {
		rows := root.FindMatcher(m)
		found := false
		rows.EachWithBreak(func(_ int, row *goquery.Selection) bool {
			if isHeaderRow(row) {
				return true
			}
			if t, ok := findTitle(row); ok && validTitle(t.text) {
				found = true
				return false
			}
			return true
		})
		if found {
			return rows, i
		}
	}
	return nil, -1
}

// parseRow は1行をRecordに変換する。捨てる行は false を返す。
func (p *ListParser) parseRow(row *goquery.Selection, scrapedAt time.Time) (Record, bool) {
	if isHeaderRow(row) {
		return Record{}, false
	}

	title, ok := findTitle(row)
	if !ok || !validTitle(title.text) {
		return Record{}, false
	}

	sourceURL := p.baseURL
	if title.href != "" && !strings.HasPrefix(title.href, "#") {
		if u := resolveURL(p.baseURL, title.href); u != "" {
			sourceURL = u
		}
	}

	rec := Record{
		Title:     title.text,
		DateText:  firstMatch(row, dateChain),
		SourceURL: sourceURL,
		NodeRef:   title.nodeRef,
		ScrapedAt: scrapedAt,
	}
	if rec.NodeRef == "" {
		rec.NodeRef = nodeRefOf(row)
	}
	p.normalizer.Apply(&rec)
	rec.DedupKey = DedupKey(rec)
	return rec, true
}

func isHeaderRow(row *goquery.Selection) bool {
	return row.FindMatcher(headerMarker).Length() > 0
}

func validTitle(title string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(title)) >= minTitleLength
}

// findTitle はタイトルチェーンを順に試し、最初に空でないテキストを返す
func findTitle(row *goquery.Selection) (titleMatch, bool) {
	for _, r := range titleChain {
		el := row.FindMatcher(r.matcher).First()
		if el.Length() == 0 {
			continue
		}
		text := r.extract(el)
		if text == "" {
			continue
		}

		link := el
		if goquery.NodeName(el) != "a" {
			link = el.Find("a").First()
		}
		href, _ := link.Attr("href")
		ref := nodeRefOf(el)
		if ref == "" && link.Length() > 0 {
			ref = nodeRefOf(link)
		}
		return titleMatch{text: text, href: strings.TrimSpace(href), nodeRef: ref}, true
	}
	return titleMatch{}, false
}

// firstMatch はチェーンを順に試し、最初に空でない値を返す
func firstMatch(row *goquery.Selection, chain []fieldRule) string {
	for _, r := range chain {
		el := row.FindMatcher(r.matcher).First()
		if el.Length() == 0 {
			continue
		}
		if v := r.extract(el); v != "" {
			return v
		}
	}
	return ""
}

// nodeRefOf は要素の属性からノード参照を取り出す
func nodeRefOf(s *goquery.Selection) string {
	for _, attr := range nodeRefAttrs {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	for _, attr := range nodeRefTargetAttrs {
		v, _ := s.Attr(attr)
		if m := reModalHref.FindStringSubmatch(strings.TrimSpace(v)); m != nil {
			return m[1]
		}
	}
	return ""
}
