// =============================================================================
// disclosure-relay - 開示情報一覧 → CMSドラフト パイプライン（CLI）
// =============================================================================
//
// 開示情報の一覧ページをスクレイピングし、新しいレコードをCMSのドラフトとして作成する。
//
// 【実行モード】
//   - 単発実行（既定）: 1回実行して終了。致命的エラーなら終了コード1
//   - 定期実行（--cron）: cron式に従って繰り返し実行（同時に2回は走らない）
//
// 【使用例】
//
//	# 単発実行（.env の設定を使用）
//	./pipeline
//
//	# 稼働時間帯を無視して実行、CMSには書かない
//	./pipeline --force --dry-run --log-level=debug
//
//	# 30分ごとに実行
//	./pipeline --cron "*/30 * * * *"
//
// 設定の一覧は --help を参照。
//
// =============================================================================
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"disclosure-relay/internal/pipeline"
)

func main() {
	// .env が存在しない場合は環境変数のみで続行する
	envErr := godotenv.Load()

	cfg, err := pipeline.LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(2)
	}
	if cfg == nil { // --help
		return
	}

	logger := pipeline.NewLogger(cfg.LogLevel)
	if envErr != nil {
		logger.Debug(".env file not loaded, using environment variables only", "error", envErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, err := pipeline.NewRunner(ctx, cfg, pipeline.Deps{}, logger)
	if err != nil {
		logger.Error("failed to initialize pipeline", "error", err)
		os.Exit(1)
	}
	defer runner.Close()

	if cfg.Cron != "" {
		if err := runScheduled(ctx, cfg, runner, logger); err != nil {
			logger.Error("scheduler failed", "error", err)
			runner.Close()
			os.Exit(1)
		}
		return
	}

	if err := runOnce(ctx, cfg, runner, logger); err != nil {
		runner.Close()
		os.Exit(1)
	}
}

// runOnce は1回実行し、必要なら通知メールを送る
func runOnce(ctx context.Context, cfg *pipeline.Config, runner *pipeline.Runner, logger *slog.Logger) error {
	summary, err := runner.Run(ctx)
	pipeline.NotifyRun(ctx, cfg, logger, summary, err)
	return err
}

// runScheduled はcron式に従って実行を繰り返す。シグナルを受けたら実行中の回を待って終了する。
func runScheduled(ctx context.Context, cfg *pipeline.Config, runner *pipeline.Runner, logger *slog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(cfg.Cron, func() {
		// 失敗しても次の回は実行する
		_ = runOnce(ctx, cfg, runner, logger)
	}); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", cfg.Cron, err)
	}

	logger.Info("scheduler started", "cron", cfg.Cron, "timezone", loc.String())
	c.Start()

	<-ctx.Done()
	logger.Info("shutting down scheduler")
	<-c.Stop().Done()
	return nil
}
