// =============================================================================
// extractor_modal.go - モーダルからの本文抽出（ModalStrategy）
// =============================================================================
//
// 一覧ページの行がモーダル（ページ内オーバーレイ）で本文を表示する場合、
// 静的HTMLには本文がないのでヘッドレスブラウザで開く。
//
// 【処理の流れ】
//  1. ブラウザを起動し、一覧ページを開く
//  2. ノード参照に対応するトリガー要素をクリック
//  3. 同じノード参照のモーダルがDOMに追加されるまでポーリングし、表示を待つ
//     （クリック後にスクリプトで挿入されるモーダルがあるため。上限 modalWait）
//  4. モーダルのHTMLから本文コンテナを探す（modalContent）
//  5. ブラウザは成功・失敗にかかわらず必ず閉じる
//
// 【本文コンテナの判定】
// 候補を優先順に試し、テキストが minModalTextLength 文字を超え、
// メタ情報（取引所・ティッカー・source・provider）を含まないものを採用する。
// どれも該当しなければ、モーダルのテキストを行単位で走査し、
// メタ情報の行と日付だけの行を捨てた残りを段落にする。
//
// =============================================================================
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/cenkalti/backoff/v5"
)

const (
	// minModalTextLength は本文コンテナとして採用するテキストの最小文字数
	minModalTextLength = 50

	// defaultModalWait はクリック後にモーダルの出現を待つ上限
	defaultModalWait = 10 * time.Second

	// modalPollInterval はモーダルの存在チェックの間隔
	modalPollInterval = 200 * time.Millisecond
)

// triggerTemplates はノード参照からトリガー要素のセレクタを作る（優先順）
var triggerTemplates = []string{
	`[data-node-ref="%s"]`,
	`[data-nid="%s"]`,
	`[data-node-id="%s"]`,
	`[data-target="#modal-%s"]`,
	`[data-bs-target="#modal-%s"]`,
	`a[href="#modal-%s"]`,
	`[data-target="#node-%s"]`,
	`a[href="#node-%s"]`,
}

// modalTemplates はノード参照からモーダル本体のセレクタを作る（優先順）
var modalTemplates = []string{
	`[id="modal-%s"]`,
	`[id="node-%s"]`,
	`[id="node-%s-modal"]`,
	`[data-modal-ref="%s"]`,
}

// modalCandidates は本文コンテナの候補（優先順）
var modalCandidates = []goquery.Matcher{
	cascadia.MustCompile(".modal-body .field--name-body"),
	cascadia.MustCompile(".modal-body .body"),
	cascadia.MustCompile(".modal-body article"),
	cascadia.MustCompile(".field--name-body"),
	cascadia.MustCompile(".node__content"),
	cascadia.MustCompile(".modal-body .content"),
	cascadia.MustCompile(".modal-body"),
}

var (
	// reMetadata は "Source:", "Exchange:", "NYSE: ABC" のようなメタ情報
	reMetadata = regexp.MustCompile(`(?i)\b(source|provider|exchange|ticker|symbol)\s*:|\b(nyse|nasdaq|tsxv?|tsx-v|cse|asx|lse|amex|otc|otcqb|otcqx)\s*:\s*[a-z]`)

	// reDateLine は日付（と時刻）だけの行
	reDateLine = regexp.MustCompile(`(?i)^(\d{4}-\d{1,2}-\d{1,2}|\d{1,2}[/.]\d{1,2}[/.]\d{2,4}|(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4}|\d{1,2}\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{4})(\s+\d{1,2}:\d{2}.{0,20})?$`)
)

// ModalStrategy はヘッドレスブラウザでモーダルを開いて本文を抽出する
type ModalStrategy struct {
	browser      Browser
	listingURL   string
	modalWait    time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewModalStrategy creates the modal strategy for pages under listingURL.
func NewModalStrategy(browser Browser, listingURL string, logger *slog.Logger) *ModalStrategy {
	return &ModalStrategy{
		browser:      browser,
		listingURL:   listingURL,
		modalWait:    defaultModalWait,
		pollInterval: modalPollInterval,
		logger:       logger,
	}
}

func (s *ModalStrategy) Name() string { return "modal" }

// Extract opens the listing page, triggers the modal for rec.NodeRef and
// returns its body markup.
func (s *ModalStrategy) Extract(ctx context.Context, rec Record) (string, error) {
	sess, err := s.browser.Open(ctx)
	if err != nil {
		return "", fmt.Errorf("open browser: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			s.logger.Warn("browser close failed", "error", cerr)
		}
	}()

	if err := sess.Navigate(s.listingURL); err != nil {
		return "", fmt.Errorf("navigate %s: %w", s.listingURL, err)
	}

	trigger, err := firstExisting(sess, triggerTemplates, rec.NodeRef)
	if err != nil {
		return "", fmt.Errorf("trigger for node %q: %w", rec.NodeRef, err)
	}
	if err := sess.Click(trigger); err != nil {
		return "", fmt.Errorf("click %s: %w", trigger, err)
	}

	modal, err := s.waitForModal(ctx, sess, rec.NodeRef)
	if err != nil {
		return "", fmt.Errorf("modal for node %q: %w", rec.NodeRef, err)
	}
	if err := sess.WaitVisible(modal); err != nil {
		return "", fmt.Errorf("wait for %s: %w", modal, err)
	}

	markup, err := sess.OuterHTML(modal)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", modal, err)
	}
	return modalContent(markup, rec.Title)
}

// waitForModal はモーダルのセレクタのどれかがページに現れるまでポーリングする
//
// modalWait を過ぎても現れなければ errNoContent を返す。
// セッション側のエラー（タイムアウト・切断）は待たずに返す。
func (s *ModalStrategy) waitForModal(ctx context.Context, sess BrowserSession, nodeRef string) (string, error) {
	return backoff.Retry(ctx, func() (string, error) {
		sel, err := firstExisting(sess, modalTemplates, nodeRef)
		if err != nil && !errors.Is(err, errNoContent) {
			return "", backoff.Permanent(err)
		}
		return sel, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.pollInterval)),
		backoff.WithMaxElapsedTime(s.modalWait),
	)
}

// firstExisting はテンプレートにノード参照を埋め込み、ページ上に存在する最初のセレクタを返す
func firstExisting(sess BrowserSession, templates []string, nodeRef string) (string, error) {
	ref := cssAttrValue(nodeRef)
	for _, tmpl := range templates {
		sel := fmt.Sprintf(tmpl, ref)
		ok, err := sess.Exists(sel)
		if err != nil {
			return "", err
		}
		if ok {
			return sel, nil
		}
	}
	return "", errNoContent
}

// cssAttrValue は引用符付き属性値として埋め込めるようにエスケープする
func cssAttrValue(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// modalContent はモーダルのHTMLから本文を取り出す
func modalContent(markup, title string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("parse modal HTML: %w", err)
	}

	for _, m := range modalCandidates {
		var found string
		doc.FindMatcher(m).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			text := normalizeWhitespace(sel.Text())
			if utf8.RuneCountInString(text) <= minModalTextLength || reMetadata.MatchString(text) {
				return true
			}
			if h, err := sel.Html(); err == nil {
				found = h
			}
			return found == ""
		})
		if found != "" {
			return found, nil
		}
	}

	return scanModalLines(doc.Text(), title)
}

// scanModalLines はメタ情報の行・日付の行・タイトル行を捨て、残りを段落にする
func scanModalLines(text, title string) (string, error) {
	title = normalizeWhitespace(title)
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = normalizeWhitespace(line)
		switch {
		case line == "", line == title:
		case reMetadata.MatchString(line), reDateLine.MatchString(line):
		default:
			kept = append(kept, line)
		}
	}
	if len(kept) == 0 {
		return "", errNoContent
	}
	return paragraphs(kept), nil
}
