// =============================================================================
// store.go - 処理履歴の永続化（PersistedStore）
// =============================================================================
//
// 処理履歴は実行開始時に丸ごと読み込み、実行終了時に丸ごと書き戻す。
// 途中の部分更新はしない。
//
// 【バックエンド】
//   - json:   processed_releases.json（既定。一時ファイル + renameで書き込む）
//   - sqlite: 同じ内容をSQLiteの3テーブルに保存（store_sqlite.go）
//
// 【読み込み時の扱い】
//   - ファイルがない: 空の履歴から始める
//   - 壊れている:     警告を出して空の履歴から始める
//     （前回作成済みのアイテムはPublisherのリモート存在チェックで重複を防ぐ）
//
// =============================================================================
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Store loads and saves the whole ProcessedStore.
type Store interface {
	Load(ctx context.Context) (*ProcessedStore, error)
	Save(ctx context.Context, s *ProcessedStore) error
	Close() error
}

// NewStore opens the backend selected by cfg.StateBackend.
func NewStore(cfg *Config, logger *slog.Logger) (Store, error) {
	switch cfg.StateBackend {
	case "", "json":
		return NewFileStore(cfg.StatePath, logger), nil
	case "sqlite":
		return OpenSQLiteStore(cfg.StatePath, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStateBackend, cfg.StateBackend)
	}
}

// FileStore はJSONファイルに処理履歴を保存する
type FileStore struct {
	path   string
	logger *slog.Logger
}

func NewFileStore(path string, logger *slog.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// Load reads the state file. A missing or corrupt file yields the default store.
func (f *FileStore) Load(_ context.Context) (*ProcessedStore, error) {
	var s ProcessedStore
	err := readJSONFile(f.path, &s)
	switch {
	case err == nil:
		s.normalize()
		return &s, nil
	case errors.Is(err, fs.ErrNotExist):
		f.logger.Info("no state file yet, starting with empty history", "path", f.path)
		return NewProcessedStore(), nil
	default:
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return nil, fmt.Errorf("read state file: %w", err)
		}
		f.logger.Warn("state file is corrupt, starting with empty history", "path", f.path, "error", err)
		return NewProcessedStore(), nil
	}
}

// Save writes the whole state atomically.
func (f *FileStore) Save(_ context.Context, s *ProcessedStore) error {
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
	}
	if err := writeJSONFileAtomic(f.path, s); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
