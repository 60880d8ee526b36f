// =============================================================================
// Lambda: run-pipeline
// =============================================================================
//
// EventBridgeのスケジュールイベントごとにパイプラインを1回実行するLambda関数。
// 設定はすべて環境変数から読み込む（CLIと同じ名前。--help の env 列を参照）。
//
// 必須:
//   - LISTING_URL:       開示一覧ページのURL
//   - CMS_API_TOKEN:     CMSのAPIトークン
//   - CMS_COLLECTION_ID: ドラフトを作成するコレクション
//   - STATE_PATH:        処理履歴ファイル（/tmp 以下、またはマウントしたEFS）
//
// 任意:
//   - BROWSER_WS_URL:    リモートのヘッドレスChrome（Lambda内でChromeを起動しない場合）
//   - NOTION_TOKEN / NOTION_DATABASE_ID
//   - EMAIL_FROM / EMAIL_PASSWORD / EMAIL_TO: 失敗通知メール
//
// =============================================================================
package main

import (
	"context"
	"fmt"
	_ "time/tzdata"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"disclosure-relay/internal/pipeline"
)

// Response はLambdaレスポンス
type Response struct {
	StatusCode    int    `json:"statusCode"`
	Message       string `json:"message"`
	RunID         string `json:"runId,omitempty"`
	OutsideWindow bool   `json:"outsideWindow"`
	Scraped       int    `json:"scraped"`
	New           int    `json:"new"`
	Created       int    `json:"created"`
	Skipped       int    `json:"skipped"`
	Errors        int    `json:"errors"`
}

// Handler はLambdaのメインハンドラー
func Handler(ctx context.Context, event events.CloudWatchEvent) (Response, error) {
	cfg, err := pipeline.LoadConfig([]string{})
	if err != nil {
		return Response{StatusCode: 400, Message: err.Error()}, err
	}

	logger := pipeline.NewLogger(cfg.LogLevel).With("event_id", event.ID)
	logger.Info("scheduled event received", "source", event.Source, "time", event.Time)

	runner, err := pipeline.NewRunner(ctx, cfg, pipeline.Deps{}, logger)
	if err != nil {
		return Response{StatusCode: 500, Message: err.Error()}, err
	}
	defer runner.Close()

	summary, err := runner.Run(ctx)
	pipeline.NotifyRun(ctx, cfg, logger, summary, err)

	resp := newResponse(summary)
	if err != nil {
		resp.StatusCode = 500
		resp.Message = err.Error()
		return resp, err
	}
	return resp, nil
}

func newResponse(s *pipeline.RunSummary) Response {
	resp := Response{StatusCode: 200}
	if s == nil {
		return resp
	}
	resp.RunID = s.RunID
	resp.OutsideWindow = s.OutsideWindow
	resp.Scraped = s.Scraped
	resp.New = s.New
	resp.Created = s.Created
	resp.Skipped = s.Skipped
	resp.Errors = s.Errors

	if s.OutsideWindow {
		resp.Message = "Outside active window, nothing to do"
	} else {
		resp.Message = fmt.Sprintf("Created %d, skipped %d, %d error(s)", s.Created, s.Skipped, s.Errors)
	}
	return resp
}

func main() {
	lambda.Start(Handler)
}
