// =============================================================================
// types.go - データ構造定義
// =============================================================================
//
// このファイルはDisclosure Relay全体で使用するデータ構造（型）を定義します。
//
// 【このファイルで定義している型】
//   - Record:           一覧ページから抽出した開示情報1件
//   - ProcessedStore:   実行間で永続化される処理履歴
//   - ProcessedRelease: 公開済みレコードの履歴エントリ
//   - BatchResult:      1回のPublish処理の結果（created / skipped / errors）
//
// =============================================================================
package pipeline

import "time"

// -----------------------------------------------------------------------------
// Record - 開示情報レコード
// -----------------------------------------------------------------------------
//
// 一覧ページの1行から抽出され、コンテンツ抽出・公開まで持ち回される。
//
// 【フィールドの説明】
//
//	Title:          開示タイトル
//	DateText:       一覧ページ上の日付テキスト（生の文字列）
//	NormalizedDate: 解析済みの日付（解析できない場合はnil）
//	SourceURL:      詳細ページURL（リンクがない行は一覧ページURL）
//	NodeRef:        モーダル抽出で使うノード参照（空ならページ直接取得）
//	DedupKey:       タイトルと日付から導出する重複判定キー（CMSのslugにも使用）
//	Content:        抽出済みHTML断片（抽出後は必ず空でない）
//	PublishDate:    表示用の日付
//	ScrapedAt:      スクレイピング時刻
type Record struct {
	Title          string     `json:"title"`
	DateText       string     `json:"dateText"`
	NormalizedDate *time.Time `json:"normalizedDate,omitempty"`
	SourceURL      string     `json:"sourceUrl"`
	NodeRef        string     `json:"nodeRef,omitempty"`
	DedupKey       string     `json:"dedupKey"`
	Content        string     `json:"content,omitempty"`
	PublishDate    time.Time  `json:"publishDate"`
	ScrapedAt      time.Time  `json:"scrapedAt"`
}

// HasDate reports whether the record's date text could be parsed.
func (r Record) HasDate() bool {
	return r.NormalizedDate != nil
}

// -----------------------------------------------------------------------------
// ProcessedStore - 永続化される処理履歴
// -----------------------------------------------------------------------------
//
// 実行開始時に読み込み、実行中はメモリ上でのみ変更し、実行終了時に丸ごと書き戻す。
// 同時に2つの実行が存在することは想定しない（外部スケジューラが直列に起動する）。
type ProcessedStore struct {
	LastProcessed     *time.Time         `json:"lastProcessed"`
	ProcessedReleases []ProcessedRelease `json:"processedReleases"`
	Stats             RunStats           `json:"stats"`
}

// ProcessedRelease は公開済みレコード1件の履歴
type ProcessedRelease struct {
	DedupKey     string    `json:"dedupKey"`
	Title        string    `json:"title"`
	SourceURL    string    `json:"sourceUrl"`
	RemoteItemID string    `json:"remoteItemId"`
	ProcessedAt  time.Time `json:"processedAt"`
}

// RunStats は累積統計と直近のエラー履歴
type RunStats struct {
	TotalProcessed int          `json:"totalProcessed"`
	LastRunTime    *time.Time   `json:"lastRunTime"`
	Errors         []ErrorEntry `json:"errors"`
}

// ErrorEntry はエラー履歴（リングバッファ）の1件
type ErrorEntry struct {
	Context   string    `json:"context"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// errorHistoryLimit はエラー履歴に保持する最大件数
const errorHistoryLimit = 10

// NewProcessedStore returns the empty default structure used when no state exists yet.
func NewProcessedStore() *ProcessedStore {
	return &ProcessedStore{
		ProcessedReleases: []ProcessedRelease{},
		Stats:             RunStats{Errors: []ErrorEntry{}},
	}
}

// Keys returns the set of processed dedup keys.
func (s *ProcessedStore) Keys() map[string]bool {
	keys := make(map[string]bool, len(s.ProcessedReleases))
	for _, r := range s.ProcessedReleases {
		keys[r.DedupKey] = true
	}
	return keys
}

// AppendError records an error, keeping only the newest errorHistoryLimit entries.
func (s *ProcessedStore) AppendError(context, message string, at time.Time) {
	s.Stats.Errors = append(s.Stats.Errors, ErrorEntry{
		Context:   context,
		Message:   message,
		Timestamp: at,
	})
	if n := len(s.Stats.Errors); n > errorHistoryLimit {
		s.Stats.Errors = append([]ErrorEntry(nil), s.Stats.Errors[n-errorHistoryLimit:]...)
	}
}

// normalize fills nil slices so a store decoded from sparse input behaves like the default.
func (s *ProcessedStore) normalize() {
	if s.ProcessedReleases == nil {
		s.ProcessedReleases = []ProcessedRelease{}
	}
	if s.Stats.Errors == nil {
		s.Stats.Errors = []ErrorEntry{}
	}
}

// -----------------------------------------------------------------------------
// BatchResult - Publish処理の結果
// -----------------------------------------------------------------------------
//
// 実行ごとに新しく作られ、直接は永続化しない。
// Createdの各エントリがProcessedStore.ProcessedReleasesに追記される。
type BatchResult struct {
	Created []CreatedItem `json:"created"`
	Skipped []SkippedItem `json:"skipped"`
	Errors  []ItemError   `json:"errors"`
}

// CreatedItem はCMSに作成されたアイテム
type CreatedItem struct {
	Record       Record `json:"record"`
	RemoteItemID string `json:"remoteItemId"`
	Published    bool   `json:"published"`
}

// SkippedItem はCMS側に既に存在したためスキップしたアイテム
type SkippedItem struct {
	Record       Record `json:"record"`
	RemoteItemID string `json:"remoteItemId,omitempty"`
	Reason       string `json:"reason"`
}

// ItemError はリトライを使い切って失敗したアイテム
type ItemError struct {
	Record  Record `json:"record"`
	Message string `json:"message"`
}

func newBatchResult() *BatchResult {
	return &BatchResult{
		Created: []CreatedItem{},
		Skipped: []SkippedItem{},
		Errors:  []ItemError{},
	}
}

// RunSummary はOrchestratorが1回の実行の最後に返す要約
type RunSummary struct {
	RunID         string
	OutsideWindow bool
	Scraped       int
	Candidates    int
	New           int
	Created       int
	Skipped       int
	Errors        int
	ItemErrors    []ItemError // 通知用（Errors件数の内訳）
}
