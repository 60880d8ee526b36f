// =============================================================================
// extractor_static.go - 直接取得による本文抽出（DirectStrategy）
// =============================================================================
//
// ノード参照のないレコードは sourceUrl を取得して本文ブロックを探す。
//
// 【本文ブロックの探し方】
//  1. ContentLocator を順に試す（最初に見つかったものを採用）
//     - repeatedBlockLocator: 繰り返しレイアウトブロックの3番目
//     - selectorChainLocator: 本文コンテナのセレクタ（優先順）
//  2. 見つかったブロックの複製からナビゲーション・広告・SNS・パンくずを除去
//  3. どれも見つからなければ go-readability で本文を推定
//
// PDFへのリンクは ledongthuc/pdf でテキストを取り出し、段落に変換する。
//
// 詳細リンクのない行は sourceUrl が一覧ページ自身になる。一覧ページには
// 他のレコードも並んでいるので取得せず、errNoContent で合成コンテンツに回す。
//
// =============================================================================
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
)

// ContentLocator は記事ページの中から本文ブロックを1つ選ぶ
type ContentLocator interface {
	Locate(doc *goquery.Document) *goquery.Selection
}

// repeatedBlockLocator は同じレイアウトブロックが繰り返されるページで
// occurrence 番目（1始まり）のブロックを本文とみなす
//
// ページビルダー（WPBakery）のテンプレートでは、ヘッダー・メタ情報・本文の順に
// .wpb_wrapper が並ぶ。テンプレートが変わると壊れるので、他の方法より先に試すが
// 出現回数が足りないときは何も返さない。
type repeatedBlockLocator struct {
	matcher    goquery.Matcher
	occurrence int
}

func (l repeatedBlockLocator) Locate(doc *goquery.Document) *goquery.Selection {
	blocks := doc.FindMatcher(l.matcher)
	if blocks.Length() < l.occurrence {
		return nil
	}
	return blocks.Eq(l.occurrence - 1)
}

// selectorChainLocator は本文コンテナのセレクタを順に試す
type selectorChainLocator []goquery.Matcher

func (l selectorChainLocator) Locate(doc *goquery.Document) *goquery.Selection {
	for _, m := range l {
		sel := doc.FindMatcher(m).First()
		if sel.Length() > 0 && normalizeWhitespace(sel.Text()) != "" {
			return sel
		}
	}
	return nil
}

// defaultLocators は DirectStrategy の既定のロケータ（優先順）
var defaultLocators = []ContentLocator{
	repeatedBlockLocator{matcher: cascadia.MustCompile(".wpb_wrapper"), occurrence: 3},
	selectorChainLocator{
		cascadia.MustCompile("article .entry-content"),
		cascadia.MustCompile(".field--name-body"),
		cascadia.MustCompile(".node__content"),
		cascadia.MustCompile(".news-release"),
		cascadia.MustCompile("#main-content article"),
		cascadia.MustCompile("article"),
		cascadia.MustCompile("main"),
		cascadia.MustCompile("#content"),
		cascadia.MustCompile(".content"),
	},
}

// boilerplate は本文ブロックから取り除く要素
var boilerplate = cascadia.MustCompile(strings.Join([]string{
	"nav", "header", "footer", "aside", "script", "style", "noscript", "iframe", "form",
	".breadcrumb", ".breadcrumbs", "[aria-label=breadcrumb]",
	".social", ".share", ".sharing", ".social-share", ".addthis_toolbox",
	".ad", ".ads", ".advert", ".advertisement", "[id^=google_ads]",
}, ", "))

// -----------------------------------------------------------------------------
// DirectStrategy
// -----------------------------------------------------------------------------

// DirectStrategy は詳細ページ（またはPDF）を取得して本文を抽出する
type DirectStrategy struct {
	fetcher    *fetcher
	listingURL string
	locators   []ContentLocator
	logger     *slog.Logger
}

// NewDirectStrategy creates the direct-navigation strategy for records
// scraped from listingURL.
func NewDirectStrategy(f *fetcher, listingURL string, logger *slog.Logger) *DirectStrategy {
	return &DirectStrategy{fetcher: f, listingURL: listingURL, locators: defaultLocators, logger: logger}
}

func (s *DirectStrategy) Name() string { return "direct" }

// Extract fetches rec.SourceURL and returns the main content markup.
func (s *DirectStrategy) Extract(ctx context.Context, rec Record) (string, error) {
	if rec.SourceURL == "" || samePage(rec.SourceURL, s.listingURL) {
		return "", fmt.Errorf("no detail page for %q: %w", rec.Title, errNoContent)
	}

	page, err := s.fetcher.Get(ctx, rec.SourceURL)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rec.SourceURL, err)
	}

	if isPDF(page) {
		return pdfContent(page.Body)
	}
	return s.htmlContent(page)
}

// samePage はフラグメントと末尾のスラッシュを無視して2つのURLが同じページか判定する
func samePage(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return a == b
	}
	key := func(u *url.URL) string {
		return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) +
			strings.TrimRight(u.EscapedPath(), "/") + "?" + u.RawQuery
	}
	return key(ua) == key(ub)
}

func (s *DirectStrategy) htmlContent(page *fetchedPage) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return "", fmt.Errorf("parse HTML failed: %w", err)
	}

	for _, loc := range s.locators {
		block := loc.Locate(doc)
		if block == nil {
			continue
		}
		clean := block.Clone()
		clean.FindMatcher(boilerplate).Remove()
		markup, err := clean.Html()
		if err != nil {
			return "", fmt.Errorf("render content block: %w", err)
		}
		if normalizeWhitespace(clean.Text()) != "" {
			return markup, nil
		}
	}

	s.logger.Debug("no content block located, trying readability", "url", page.URL)
	return readableContent(page)
}

// readableContent は go-readability で本文を推定する
func readableContent(page *fetchedPage) (string, error) {
	pageURL, _ := url.Parse(page.URL)
	article, err := readability.FromReader(bytes.NewReader(page.Body), pageURL)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	if strings.TrimSpace(article.Content) == "" {
		return "", errNoContent
	}
	return article.Content, nil
}

// -----------------------------------------------------------------------------
// PDF
// -----------------------------------------------------------------------------

func isPDF(page *fetchedPage) bool {
	if strings.Contains(strings.ToLower(page.ContentType), "application/pdf") {
		return true
	}
	if u, err := url.Parse(page.URL); err == nil && strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
		return true
	}
	return bytes.HasPrefix(page.Body, []byte("%PDF-"))
}

// pdfContent はPDFの各ページのテキストを段落に変換する
func pdfContent(data []byte) (content string, err error) {
	// 壊れたPDFでpdfパッケージがpanicすることがある
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to parse PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to parse PDF: %w", err)
	}

	var lines []string
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		lines = append(lines, strings.Split(text, "\n")...)
	}

	if content = paragraphs(lines); content == "" {
		return "", errNoContent
	}
	return content, nil
}
