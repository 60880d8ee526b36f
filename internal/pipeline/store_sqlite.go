// =============================================================================
// store_sqlite.go - 処理履歴のSQLiteバックエンド
// =============================================================================
//
// --state-backend=sqlite のときに使う。JSONファイルと同じ内容を3テーブルに保存する。
//
// 【テーブル】
//   - processed_releases: 処理済みレコード（seq順 = 追加順）
//   - run_state:          1行だけの累積統計
//   - error_history:      直近のエラー（最大10件）
//
// Save は1トランザクションで全行を入れ替える（JSONの丸ごと書き戻しと同じ意味）。
//
// =============================================================================
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// createStateTablesSQL はテーブルがなければ作成する
const createStateTablesSQL = `
CREATE TABLE IF NOT EXISTS processed_releases (
	seq INTEGER PRIMARY KEY,
	dedup_key TEXT NOT NULL,
	title TEXT,
	source_url TEXT,
	remote_item_id TEXT,
	processed_at TEXT
);

CREATE TABLE IF NOT EXISTS run_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	last_processed TEXT,
	total_processed INTEGER,
	last_run_time TEXT
);

CREATE TABLE IF NOT EXISTS error_history (
	seq INTEGER PRIMARY KEY,
	context TEXT,
	message TEXT,
	timestamp TEXT
);
`

// SQLiteStore keeps the same whole-state semantics as FileStore in a SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLiteStore opens (or creates) the database at path.
func OpenSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: set WAL mode: %w", err)
	}
	if _, err := db.Exec(createStateTablesSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: create tables: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context) (*ProcessedStore, error) {
	st := NewProcessedStore()

	var lastProcessed, lastRun sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT last_processed, total_processed, last_run_time FROM run_state WHERE id = 1`,
	).Scan(&lastProcessed, &st.Stats.TotalProcessed, &lastRun)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("sqlite store: read run state: %w", err)
	}
	st.LastProcessed = parseNullTime(lastProcessed)
	st.Stats.LastRunTime = parseNullTime(lastRun)

	rows, err := s.db.QueryContext(ctx,
		`SELECT dedup_key, title, source_url, remote_item_id, processed_at FROM processed_releases ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: read releases: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			r  ProcessedRelease
			at string
		)
		if err := rows.Scan(&r.DedupKey, &r.Title, &r.SourceURL, &r.RemoteItemID, &at); err != nil {
			return nil, fmt.Errorf("sqlite store: scan release: %w", err)
		}
		r.ProcessedAt, _ = time.Parse(time.RFC3339Nano, at)
		st.ProcessedReleases = append(st.ProcessedReleases, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: read releases: %w", err)
	}

	errRows, err := s.db.QueryContext(ctx,
		`SELECT context, message, timestamp FROM error_history ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: read errors: %w", err)
	}
	defer errRows.Close()
	for errRows.Next() {
		var (
			e  ErrorEntry
			at string
		)
		if err := errRows.Scan(&e.Context, &e.Message, &at); err != nil {
			return nil, fmt.Errorf("sqlite store: scan error entry: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, at)
		st.Stats.Errors = append(st.Stats.Errors, e)
	}
	if err := errRows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: read errors: %w", err)
	}
	return st, nil
}

// Save replaces the stored state in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, st *ProcessedStore) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	for _, stmt := range []string{
		`DELETE FROM processed_releases`,
		`DELETE FROM error_history`,
		`DELETE FROM run_state`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite store: clear: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO run_state (id, last_processed, total_processed, last_run_time) VALUES (1, ?, ?, ?)`,
		formatNullTime(st.LastProcessed), st.Stats.TotalProcessed, formatNullTime(st.Stats.LastRunTime),
	); err != nil {
		return fmt.Errorf("sqlite store: write run state: %w", err)
	}

	for i, r := range st.ProcessedReleases {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO processed_releases (seq, dedup_key, title, source_url, remote_item_id, processed_at) VALUES (?, ?, ?, ?, ?, ?)`,
			i, r.DedupKey, r.Title, r.SourceURL, r.RemoteItemID, r.ProcessedAt.Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("sqlite store: write release %s: %w", r.DedupKey, err)
		}
	}

	for i, e := range st.Stats.Errors {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO error_history (seq, context, message, timestamp) VALUES (?, ?, ?, ?)`,
			i, e.Context, e.Message, e.Timestamp.Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("sqlite store: write error entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit: %w", err)
	}
	return nil
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
