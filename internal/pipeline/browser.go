// =============================================================================
// browser.go - ヘッドレスブラウザ（chromedp）
// =============================================================================
//
// モーダル抽出（extractor_modal.go）が使うブラウザ操作を Browser / BrowserSession
// インターフェースの裏に隠す。テストでは偽のセッションに差し替える。
//
// 【接続先】
//   - --browser-url 未指定: ローカルのChromeをヘッドレスで起動する
//   - --browser-url 指定:   リモートのDevToolsエンドポイントに接続する
//
// セッションは1回の抽出の間だけ生き、--browser-timeout で全体の時間を区切る。
// Close は成功・失敗にかかわらず必ず呼ぶこと。
//
// =============================================================================
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// Browser opens headless browser sessions. A session lives for one extraction.
type Browser interface {
	Open(ctx context.Context) (BrowserSession, error)
}

// BrowserSession is bound to the context passed to Open. Close must always be called.
type BrowserSession interface {
	Navigate(url string) error
	Exists(selector string) (bool, error)
	Click(selector string) error
	WaitVisible(selector string) error
	OuterHTML(selector string) (string, error)
	Close() error
}

// ChromeBrowser launches a local headless Chrome, or attaches to a remote
// DevTools endpoint when remoteURL is set.
type ChromeBrowser struct {
	remoteURL string
	userAgent string
	timeout   time.Duration
}

// NewChromeBrowser はcfgのブラウザ設定からChromeBrowserを作成する
func NewChromeBrowser(cfg *Config) *ChromeBrowser {
	return &ChromeBrowser{
		remoteURL: cfg.BrowserURL,
		userAgent: cfg.UserAgent,
		timeout:   cfg.BrowserTimeout,
	}
}

func (b *ChromeBrowser) Open(ctx context.Context) (BrowserSession, error) {
	var (
		allocCtx    context.Context
		cancelAlloc context.CancelFunc
	)
	if b.remoteURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(ctx, b.remoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.UserAgent(b.userAgent),
			chromedp.NoSandbox,
			chromedp.DisableGPU,
		)
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(ctx, opts...)
	}

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	cancel := func() {
		cancelTab()
		cancelAlloc()
	}
	if b.timeout > 0 {
		var cancelTimeout context.CancelFunc
		tabCtx, cancelTimeout = context.WithTimeout(tabCtx, b.timeout)
		prev := cancel
		cancel = func() {
			cancelTimeout()
			prev()
		}
	}

	// An empty Run starts the browser so launch failures surface here.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return &chromeSession{ctx: tabCtx, cancel: cancel}, nil
}

// chromeSession は1つのタブのコンテキストを保持する
type chromeSession struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *chromeSession) Navigate(url string) error {
	return chromedp.Run(s.ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (s *chromeSession) Exists(selector string) (bool, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return false, err
	}
	var found bool
	expr := fmt.Sprintf("document.querySelector(%s) !== null", quoted)
	if err := chromedp.Run(s.ctx, chromedp.Evaluate(expr, &found)); err != nil {
		return false, err
	}
	return found, nil
}

func (s *chromeSession) Click(selector string) error {
	return chromedp.Run(s.ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (s *chromeSession) WaitVisible(selector string) error {
	return chromedp.Run(s.ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (s *chromeSession) OuterHTML(selector string) (string, error) {
	var markup string
	err := chromedp.Run(s.ctx, chromedp.OuterHTML(selector, &markup, chromedp.ByQuery))
	return markup, err
}

// Close shuts the browser (or detaches from the remote one) and releases contexts.
func (s *chromeSession) Close() error {
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	return err
}
