// =============================================================================
// logging.go - ロガー
// =============================================================================
//
// log/slog のテキストハンドラを標準エラー出力に出す。
// レベルは debug / info / warn / error（不明な値は info）。
//
// =============================================================================
package pipeline

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns a text logger on stderr at the given level (info when unknown).
func NewLogger(level string) *slog.Logger {
	return newLoggerTo(os.Stderr, level)
}

// newLoggerTo は出力先を指定してロガーを作る（テスト用）
func newLoggerTo(w io.Writer, level string) *slog.Logger {
	lvl := new(slog.LevelVar)
	switch strings.ToLower(level) {
	case "debug":
		lvl.Set(slog.LevelDebug)
	case "warn":
		lvl.Set(slog.LevelWarn)
	case "error":
		lvl.Set(slog.LevelError)
	default:
		lvl.Set(slog.LevelInfo)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
