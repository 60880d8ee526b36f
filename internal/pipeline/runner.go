// =============================================================================
// runner.go - 1回の実行の進行管理（Orchestrator）
// =============================================================================
//
// 【状態遷移】
//
//	Init → ScheduleGate → Fetch → Filter → Publish → Persist → Done
//	                 （どの段階からも Failed に遷移しうる）
//
//	Init:         認証情報の検証（欠けていれば致命的）
//	ScheduleGate: 稼働時間帯の外なら正常終了
//	Fetch:        処理履歴の読み込み、CMSの事前チェック（致命的）、一覧ページの取得
//	              一覧ページの取得失敗はエラー履歴に記録して終了（致命的ではない）
//	Filter:       解析 → カットオフ → 新しい順に並び替え → 処理済みを除外 → 件数上限
//	Publish:      1件ずつ 存在チェック → 本文抽出 → 作成
//	Persist:      created を履歴に追加、統計とエラー履歴を更新して保存
//
// 致命的なエラーはエラー履歴への記録を試みてから呼び出し元に返す
// （CLIは終了コード1で終了する）。
//
// =============================================================================
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Deps は外部依存の差し替え（テスト・特殊な実行環境用）。nilのものは設定から作る。
type Deps struct {
	HTTPClient *http.Client
	CMS        CMS
	Browser    Browser
	Store      Store
	Clipper    Clipper
	Now        func() time.Time
}

// Runner は1回の実行を進める
type Runner struct {
	cfg       *Config
	gate      *ScheduleGate
	fetcher   *fetcher
	parser    *ListParser
	policy    CutoffPolicy
	store     Store
	cms       CMS
	publisher *Publisher
	extractor *ContentExtractor
	clipper   Clipper
	now       func() time.Time
	logger    *slog.Logger
}

// NewRunner wires every component from cfg. cfg must already be validated.
func NewRunner(ctx context.Context, cfg *Config, deps Deps, logger *slog.Logger) (*Runner, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	gate, err := NewScheduleGate(cfg)
	if err != nil {
		return nil, err
	}
	policy, err := NewCutoffPolicy(cfg)
	if err != nil {
		return nil, err
	}

	store := deps.Store
	if store == nil {
		if store, err = NewStore(cfg, logger); err != nil {
			return nil, err
		}
	}

	cms := deps.CMS
	if cms == nil {
		cms = NewCMSClient(cfg, deps.HTTPClient)
	}

	browser := deps.Browser
	if browser == nil {
		browser = NewChromeBrowser(cfg)
	}

	clipper := deps.Clipper
	if clipper == nil && cfg.NotionEnabled() {
		nc, err := NewNotionClipper(cfg.NotionToken, cfg.NotionDatabaseID)
		if err != nil {
			return nil, err
		}
		if nc.DatabaseID() == "" {
			if err := nc.CreateDatabase(ctx, cfg.NotionPageID); err != nil {
				return nil, err
			}
			logger.Info("notion mirror database created", "database_id", nc.DatabaseID())
		}
		clipper = nc
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	f := newFetcher(cfg, deps.HTTPClient, logger)
	parser := NewListParser(cfg.ListingURL, NewDateNormalizer(loc), logger)
	parser.now = now

	return &Runner{
		cfg:       cfg,
		gate:      gate,
		fetcher:   f,
		parser:    parser,
		policy:    policy,
		store:     store,
		cms:       cms,
		publisher: NewPublisher(cms, cfg, logger),
		extractor: NewContentExtractor(
			NewModalStrategy(browser, cfg.ListingURL, logger),
			NewDirectStrategy(f, cfg.ListingURL, logger),
			logger,
		),
		clipper: clipper,
		now:     now,
		logger:  logger,
	}, nil
}

// Close releases the state backend.
func (r *Runner) Close() error {
	return r.store.Close()
}

// Run executes one pipeline run. A nil error with OutsideWindow set means the
// run was skipped by the schedule gate.
func (r *Runner) Run(ctx context.Context) (*RunSummary, error) {
	runID := uuid.NewString()
	log := r.logger.With("run_id", runID)
	summary := &RunSummary{RunID: runID}
	now := r.now()

	// Init
	if err := r.cfg.ValidateCredentials(); err != nil {
		return summary, r.fail(ctx, log, nil, "init", err, now)
	}

	// ScheduleGate
	if !r.gate.Open(now) {
		log.Info("outside active window, skipping run",
			"local_time", now.In(r.gate.Location).Format("Mon 15:04"),
			"window", fmt.Sprintf("%02d-%02d", r.gate.StartHour, r.gate.EndHour))
		summary.OutsideWindow = true
		return summary, nil
	}

	// Fetch
	state, err := r.store.Load(ctx)
	if err != nil {
		return summary, r.fail(ctx, log, nil, "load state", err, now)
	}

	retry := retrySettings{Attempts: r.cfg.RetryAttempts, Delay: r.cfg.RetryDelay}
	col, err := withRetry(ctx, retry, log, "cms pre-flight", func() (*Collection, error) {
		return r.cms.GetCollection(ctx)
	})
	if err != nil {
		return summary, r.fail(ctx, log, state, "cms pre-flight", err, now)
	}
	log.Info("cms collection ready", "collection", col.DisplayName, "id", col.ID)

	page, err := r.fetcher.Get(ctx, r.cfg.ListingURL)
	if err != nil {
		log.Error("listing fetch failed", "url", r.cfg.ListingURL, "error", err)
		state.AppendError("fetch listing", err.Error(), now)
		state.Stats.LastRunTime = &now
		summary.Errors = 1
		if err := r.persist(ctx, state); err != nil {
			return summary, r.fail(ctx, log, nil, "save state", err, now)
		}
		return summary, nil
	}

	// Filter
	seq, err := r.parser.ParseHTML(page.Body)
	if err != nil {
		return summary, r.fail(ctx, log, state, "parse listing", err, now)
	}
	records := slices.Collect(seq)
	summary.Scraped = len(records)

	candidates := r.policy.Apply(records, now)
	SortNewestFirst(candidates)
	summary.Candidates = len(candidates)

	fresh := FilterNew(candidates, state)
	if r.cfg.MaxItems > 0 && len(fresh) > r.cfg.MaxItems {
		log.Info("limiting records for this run", "new", len(fresh), "max_items", r.cfg.MaxItems)
		fresh = fresh[:r.cfg.MaxItems]
	}
	summary.New = len(fresh)
	log.Info("listing filtered",
		"scraped", summary.Scraped,
		"candidates", summary.Candidates,
		"new", summary.New,
		"threshold", r.policy.Threshold(now).Format("2006-01-02"))

	if r.cfg.DryRun {
		for i := range fresh {
			r.extractor.Populate(ctx, &fresh[i])
			log.Info("dry run: would create item",
				"slug", fresh[i].DedupKey,
				"title", fresh[i].Title,
				"content_length", len(fresh[i].Content))
		}
		return summary, nil
	}

	// Publish
	result := r.publisher.CreateItems(ctx, fresh, r.extractor.Populate)
	summary.Created = len(result.Created)
	summary.Skipped = len(result.Skipped)
	summary.Errors = len(result.Errors)
	summary.ItemErrors = result.Errors
	r.mirror(ctx, log, result)

	// Persist
	r.merge(state, result, now)
	if err := r.persist(ctx, state); err != nil {
		return summary, r.fail(ctx, log, nil, "save state", err, now)
	}

	log.Info("run completed",
		"created", summary.Created,
		"skipped", summary.Skipped,
		"errors", summary.Errors,
		"total_processed", state.Stats.TotalProcessed)
	return summary, nil
}

// merge は作成済みアイテムと統計・エラーを処理履歴に反映する
func (r *Runner) merge(state *ProcessedStore, result *BatchResult, now time.Time) {
	for _, c := range result.Created {
		state.ProcessedReleases = append(state.ProcessedReleases, ProcessedRelease{
			DedupKey:     c.Record.DedupKey,
			Title:        c.Record.Title,
			SourceURL:    c.Record.SourceURL,
			RemoteItemID: c.RemoteItemID,
			ProcessedAt:  now,
		})
	}
	if len(result.Created) > 0 {
		state.LastProcessed = &now
	}
	state.Stats.TotalProcessed += len(result.Created)
	state.Stats.LastRunTime = &now
	for _, e := range result.Errors {
		state.AppendError(e.Record.DedupKey, e.Message, now)
	}
}

// mirror は作成済みアイテムをNotionに記録する（失敗は警告のみ）
func (r *Runner) mirror(ctx context.Context, log *slog.Logger, result *BatchResult) {
	if r.clipper == nil {
		return
	}
	for _, c := range result.Created {
		if err := r.clipper.ClipRelease(ctx, c); err != nil {
			log.Warn("notion mirror failed", "slug", c.Record.DedupKey, "error", err)
		}
	}
}

func (r *Runner) persist(ctx context.Context, state *ProcessedStore) error {
	if r.cfg.DryRun {
		return nil
	}
	return r.store.Save(ctx, state)
}

// fail は致命的なエラーをログに出し、エラー履歴への記録を試みる
//
// state が nil の場合は保存済みの履歴を読み直して追記する。
func (r *Runner) fail(ctx context.Context, log *slog.Logger, state *ProcessedStore, stage string, cause error, now time.Time) error {
	err := fmt.Errorf("%s: %w", stage, cause)
	log.Error("run failed", "stage", stage, "error", cause)

	if state == nil {
		loaded, lerr := r.store.Load(ctx)
		if lerr != nil {
			log.Warn("could not record failure in error history", "error", lerr)
			return err
		}
		state = loaded
	}
	state.AppendError(stage, cause.Error(), now)
	if serr := r.persist(ctx, state); serr != nil {
		log.Warn("could not record failure in error history", "error", serr)
	}
	return err
}
