// =============================================================================
// extractor.go - 本文抽出（ContentExtractor）
// =============================================================================
//
// レコードごとに2つの戦略のどちらかで本文HTMLを取得する。
//
//	NodeRefあり → ModalStrategy   （ヘッドレスブラウザでモーダルを開いて抽出）
//	NodeRefなし → DirectStrategy  （sourceUrlを取得して本文ブロックを抽出）
//	失敗・短すぎ → fallbackContent（タイトル・日付・元記事リンクから合成）
//
// どの経路でも Extract は空でないHTML断片を返し、実行を中断しない。
// 保存前に空白とタグ間の隙間を詰める（冪等）。
//
// =============================================================================
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// minContentLength は抽出結果として採用する本文テキストの最小文字数
const minContentLength = 100

var (
	reWhitespace = regexp.MustCompile(`\s+`)
	reInterTag   = regexp.MustCompile(`>\s+<`)
)

// errNoContent は戦略が本文を見つけられなかったことを表す
var errNoContent = errors.New("no content found")

// ContentStrategy は1つの抽出方法
type ContentStrategy interface {
	Name() string
	Extract(ctx context.Context, rec Record) (string, error)
}

// ContentExtractor は戦略を選び、失敗時は合成コンテンツにフォールバックする
type ContentExtractor struct {
	modal  ContentStrategy
	direct ContentStrategy
	logger *slog.Logger
}

// NewContentExtractor creates an extractor. A nil strategy always falls back.
func NewContentExtractor(modal, direct ContentStrategy, logger *slog.Logger) *ContentExtractor {
	return &ContentExtractor{modal: modal, direct: direct, logger: logger}
}

// strategyFor はNodeRefの有無で戦略を選ぶ
func (e *ContentExtractor) strategyFor(rec Record) ContentStrategy {
	if rec.NodeRef != "" {
		return e.modal
	}
	return e.direct
}

// Extract returns non-empty, whitespace-collapsed HTML content for rec.
func (e *ContentExtractor) Extract(ctx context.Context, rec Record) string {
	strategy := e.strategyFor(rec)
	if strategy == nil {
		return cleanContent(fallbackContent(rec))
	}

	log := e.logger.With("strategy", strategy.Name(), "dedup_key", rec.DedupKey)
	raw, err := strategy.Extract(ctx, rec)
	if err != nil {
		log.Warn("content extraction failed, using fallback", "error", err)
		return cleanContent(fallbackContent(rec))
	}

	content := cleanContent(raw)
	if n := textLength(content); n < minContentLength {
		log.Warn("extracted content too short, using fallback", "text_length", n)
		return cleanContent(fallbackContent(rec))
	}

	log.Debug("content extracted", "length", len(content))
	return content
}

// Populate sets rec.Content. It matches the Publisher's prepare hook.
func (e *ContentExtractor) Populate(ctx context.Context, rec *Record) {
	rec.Content = e.Extract(ctx, *rec)
}

// fallbackContent はタイトル・日付・元記事リンクから最小限の本文を合成する
func fallbackContent(rec Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p><strong>%s</strong></p>\n", html.EscapeString(rec.Title))
	if date := normalizeWhitespace(rec.DateText); date != "" {
		fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(date))
	}
	fmt.Fprintf(&b, "<p><a href=\"%s\">View the original disclosure</a></p>\n", html.EscapeString(rec.SourceURL))
	return b.String()
}

// cleanContent は空白の連続とタグ間の空白を詰める
//
// 既に整形済みの入力に再適用しても変化しない。
func cleanContent(s string) string {
	s = reWhitespace.ReplaceAllString(s, " ")
	s = reInterTag.ReplaceAllString(s, "><")
	return strings.TrimSpace(s)
}

// textLength はHTML断片のテキスト部分の文字数を返す
func textLength(fragment string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return 0
	}
	return utf8.RuneCountInString(normalizeWhitespace(doc.Text()))
}

// paragraphs はテキスト行を <p> 要素に変換する
func paragraphs(lines []string) string {
	var b strings.Builder
	for _, line := range lines {
		if line = normalizeWhitespace(line); line == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(line))
		b.WriteString("</p>")
	}
	return b.String()
}
