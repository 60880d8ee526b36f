// =============================================================================
// publisher.go - CMSへのドラフト作成（Publisher）
// =============================================================================
//
// 新規レコードを1件ずつ順番にCMSへ作成する。並行処理はしない。
//
// 【1件あたりの処理】
//  1. slugでリモートの存在チェック → 既にあれば skipped
//  2. 本文を抽出（prepare フック）
//  3. ドラフト作成（固定間隔リトライ）
//     2回目以降の試行の前にもう一度存在チェックする
//     （前回の作成がサーバー側では成功していてタイムアウトしただけの場合に二重作成しない）
//  4. 即時公開が有効なら公開（失敗してもドラフトは作成済みなので created のまま）
//
// リトライを使い切ったレコードは errors に入れて次のレコードに進む。
// レコード間はCMSのレート制限（60 req/min）を下回るよう rate.Limiter で間隔を空ける。
//
// 存在チェックは、前回の実行が履歴保存前に落ちた場合の重複作成を防ぐ仕組みでもある。
//
// =============================================================================
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"
)

// Publisher はレコードをCMSのドラフトとして作成する
type Publisher struct {
	cms     CMS
	retry   retrySettings
	limiter *rate.Limiter
	publish bool
	logger  *slog.Logger
}

// NewPublisher creates a publisher pacing records cfg.ItemDelay apart.
func NewPublisher(cms CMS, cfg *Config, logger *slog.Logger) *Publisher {
	return &Publisher{
		cms:     cms,
		retry:   retrySettings{Attempts: cfg.RetryAttempts, Delay: cfg.RetryDelay},
		limiter: rate.NewLimiter(rate.Every(cfg.ItemDelay), 1),
		publish: cfg.PublishImmediately,
		logger:  logger,
	}
}

// CreateItems processes records in order. prepare runs after the existence
// check and before creation; it may be nil.
func (p *Publisher) CreateItems(ctx context.Context, records []Record, prepare func(context.Context, *Record)) *BatchResult {
	result := newBatchResult()
	for _, rec := range records {
		if err := p.limiter.Wait(ctx); err != nil {
			result.Errors = append(result.Errors, ItemError{Record: rec, Message: err.Error()})
			continue
		}
		p.createOne(ctx, rec, prepare, result)
	}

	p.logger.Info("publish batch finished",
		"created", len(result.Created),
		"skipped", len(result.Skipped),
		"errors", len(result.Errors))
	return result
}

func (p *Publisher) createOne(ctx context.Context, rec Record, prepare func(context.Context, *Record), result *BatchResult) {
	slug := rec.DedupKey
	log := p.logger.With("slug", slug)

	existing, err := withRetry(ctx, p.retry, log, "find "+slug, func() (*CMSItem, error) {
		return p.cms.FindItemBySlug(ctx, slug)
	})
	if err != nil {
		log.Error("existence check failed", "error", err)
		result.Errors = append(result.Errors, ItemError{Record: rec, Message: fmt.Sprintf("existence check: %v", err)})
		return
	}
	if existing != nil {
		log.Info("item already exists, skipping", "item_id", existing.ID)
		result.Skipped = append(result.Skipped, SkippedItem{
			Record:       rec,
			RemoteItemID: existing.ID,
			Reason:       "slug already exists in collection",
		})
		return
	}

	if prepare != nil {
		prepare(ctx, &rec)
	}

	attempt := 0
	item, err := withRetry(ctx, p.retry, log, "create "+slug, func() (*CMSItem, error) {
		attempt++
		if attempt > 1 {
			if found, err := p.cms.FindItemBySlug(ctx, slug); err == nil && found != nil {
				log.Info("item appeared after a failed create attempt", "item_id", found.ID)
				return found, nil
			}
		}
		return p.cms.CreateItem(ctx, NewItemFields(rec))
	})
	if err != nil {
		log.Error("create failed", "attempts", attempt, "error", err)
		result.Errors = append(result.Errors, ItemError{Record: rec, Message: fmt.Sprintf("create: %v", err)})
		return
	}

	created := CreatedItem{Record: rec, RemoteItemID: item.ID}
	if p.publish {
		_, err := withRetry(ctx, p.retry, log, "publish "+slug, func() (struct{}, error) {
			return struct{}{}, p.cms.PublishItem(ctx, item.ID)
		})
		if err != nil {
			log.Warn("draft created but publish failed", "item_id", item.ID, "error", err)
		} else {
			created.Published = true
		}
	}

	log.Info("item created", "item_id", item.ID, "published", created.Published)
	result.Created = append(result.Created, created)
}
