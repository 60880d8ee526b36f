// =============================================================================
// utils.go - ユーティリティ関数
// =============================================================================
//
// このファイルはシステム全体で使用する汎用的なヘルパー関数を提供します。
//
// 【このファイルで提供する機能】
//   - 文字列操作: 空白正規化、切り詰め
//   - URL操作: 相対URLの解決
//   - JSON操作: ファイル読み込み、アトミック書き込み
//   - HTTP操作: リトライ付きGET（fetcher）、ステータスエラー分類
//
// =============================================================================
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// maxBodyBytes はレスポンスボディの読み込み上限（10MB）
const maxBodyBytes = 10 << 20

// -----------------------------------------------------------------------------
// 文字列操作関数
// -----------------------------------------------------------------------------

// normalizeWhitespace は文字列内の連続する空白を単一スペースに正規化する
//
//	normalizeWhitespace("  hello   world  ")  // "hello world"
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateString は文字列をmaxLen文字（rune単位）に切り詰める
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// resolveURL は相対URLを絶対URLに変換する（失敗時は空文字列）
func resolveURL(baseURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

// -----------------------------------------------------------------------------
// JSON操作関数
// -----------------------------------------------------------------------------

// readJSONFile はJSONファイルを読み込んで指定した型に変換する
func readJSONFile(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// writeJSONFileAtomic は一時ファイルに書いてからrenameする
//
// 書き込み途中でプロセスが落ちても、既存ファイルが壊れない。
func writeJSONFileAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// HTTP操作関数
// -----------------------------------------------------------------------------

// StatusError は2xx以外のHTTPレスポンスを表す
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Code)
	if e.Body != "" {
		msg += ": " + truncateString(normalizeWhitespace(e.Body), 200)
	}
	return msg
}

// isTransient はリトライで回復しうるエラーかを判定する
//
// 【判定ルール】
//   - 408 / 429 / 5xx: 一時的
//   - その他のHTTPステータス: 恒久的（リトライしても結果は変わらない）
//   - コンテキストのキャンセル: 恒久的
//   - それ以外（ネットワークエラー、タイムアウト）: 一時的
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusRequestTimeout ||
			se.Code == http.StatusTooManyRequests ||
			se.Code >= 500
	}
	return true
}

// retrySettings は固定間隔リトライの設定
type retrySettings struct {
	Attempts int
	Delay    time.Duration
}

// withRetry はfnを最大Attempts回、固定間隔で順次リトライする
//
// 恒久的なエラーは即座に返す。並行した試行は行わない。
func withRetry[T any](ctx context.Context, rs retrySettings, logger *slog.Logger, op string, fn func() (T, error)) (T, error) {
	attempts := rs.Attempts
	if attempts < 1 {
		attempts = 1
	}

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !isTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(rs.Delay)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("retrying after transient failure", "op", op, "error", err, "next", next)
		}),
	)
}

// fetchedPage はGETの結果
type fetchedPage struct {
	URL         string
	ContentType string
	Body        []byte
}

// fetcher はUser-Agentとリトライ設定付きでページを取得する
type fetcher struct {
	client    *http.Client
	userAgent string
	retry     retrySettings
	logger    *slog.Logger
}

func newFetcher(cfg *Config, client *http.Client, logger *slog.Logger) *fetcher {
	if client == nil {
		client = &http.Client{
			Timeout: cfg.HTTPTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &fetcher{
		client:    client,
		userAgent: cfg.UserAgent,
		retry:     retrySettings{Attempts: cfg.RetryAttempts, Delay: cfg.RetryDelay},
		logger:    logger,
	}
}

// Get はURLを取得する。一時的な失敗は固定間隔でリトライする。
func (f *fetcher) Get(ctx context.Context, u string) (*fetchedPage, error) {
	return withRetry(ctx, f.retry, f.logger, "GET "+u, func() (*fetchedPage, error) {
		return f.getOnce(ctx, u)
	})
}

func (f *fetcher) getOnce(ctx context.Context, u string) (*fetchedPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("request creation failed: %w", err)
	}
	// ブロッキング回避のため、ブラウザ風のヘッダーを設定
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Method: http.MethodGet, URL: u, Code: resp.StatusCode, Body: string(snippet)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &fetchedPage{
		URL:         u,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
