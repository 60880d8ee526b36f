// =============================================================================
// email.go - 失敗通知メール
// =============================================================================
//
// 実行が致命的に失敗したとき、またはレコード単位のエラーが残ったときに
// Gmail SMTPで運用者に通知する。通知の失敗は実行結果を変えない。
//
// =============================================================================
// 【必要な環境変数】
// =============================================================================
//
//	EMAIL_FROM     - 送信元メールアドレス（Gmail）
//	EMAIL_PASSWORD - Gmailアプリパスワード（通常のパスワードではない！）
//	EMAIL_TO       - 送信先メールアドレス（カンマ区切りで複数可）
//
// 3つすべてが設定されている場合のみ有効になる（Config.EmailEnabled）。
//
// =============================================================================
// 【処理の流れ】
// =============================================================================
//
//  1. FailureReport からプレーンテキストの本文を生成
//  2. RFC 5322準拠のメッセージを構築
//  3. SMTP経由で送信（指数バックオフでリトライ）
//
// =============================================================================
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// emailMaxTries は送信の最大試行回数
const emailMaxTries = 3

// EmailConfig はメール送信の設定を保持する
type EmailConfig struct {
	From     string   // 送信元メールアドレス
	Password string   // Gmailアプリパスワード
	To       []string // 送信先メールアドレス（複数可）
	SMTPHost string   // SMTPサーバーホスト（"smtp.gmail.com"）
	SMTPPort string   // SMTPポート（"587"）
}

// EmailSender はメール送信を担当する
type EmailSender struct {
	config   EmailConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	logger   *slog.Logger
}

// NewEmailSender は新しいメール送信者を作成する
//
// to はカンマ区切りで複数指定できる。
func NewEmailSender(from, password, to string, logger *slog.Logger) (*EmailSender, error) {
	if from == "" {
		return nil, fmt.Errorf("EMAIL_FROM is required")
	}
	if password == "" {
		return nil, fmt.Errorf("EMAIL_PASSWORD is required (use Gmail App Password)")
	}
	if to == "" {
		return nil, fmt.Errorf("EMAIL_TO is required")
	}

	var toList []string
	for _, addr := range strings.Split(to, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			toList = append(toList, addr)
		}
	}

	return &EmailSender{
		config: EmailConfig{
			From:     from,
			Password: password,
			To:       toList,
			SMTPHost: "smtp.gmail.com",
			SMTPPort: "587", // TLSポート
		},
		sendMail: smtp.SendMail,
		logger:   logger,
	}, nil
}

// FailureReport は通知する実行結果
type FailureReport struct {
	RunID      string
	ListingURL string
	Err        error       // 致命的エラー（なければnil）
	ItemErrors []ItemError // レコード単位のエラー
	At         time.Time
}

// SendFailureReport sends one notification for report.
func (es *EmailSender) SendFailureReport(ctx context.Context, report FailureReport) error {
	if report.Err == nil && len(report.ItemErrors) == 0 {
		return fmt.Errorf("nothing to report")
	}

	subject := fmt.Sprintf("Disclosure relay: %d item error(s) - %s",
		len(report.ItemErrors), report.At.Format("2006-01-02 15:04"))
	if report.Err != nil {
		subject = fmt.Sprintf("Disclosure relay: run failed - %s", report.At.Format("2006-01-02 15:04"))
	}

	msg := es.buildEmailMessage(subject, generateFailureBody(report))
	return es.sendWithRetry(ctx, msg)
}

// generateFailureBody はプレーンテキストの本文を生成する
//
// 【出力フォーマット】
//
//	Disclosure relay run report
//	Run ID:  3f2c...
//	Listing: https://...
//	Time:    2025-01-05 10:00:00 EST
//
//	Fatal error:
//	    CMS pre-flight failed: ...
//
//	Item errors (2):
//	[1] Title of the disclosure
//	    https://...
//	    create: POST ...: status 500
func generateFailureBody(report FailureReport) string {
	var sb strings.Builder

	sb.WriteString("Disclosure relay run report\n")
	fmt.Fprintf(&sb, "Run ID:  %s\n", report.RunID)
	fmt.Fprintf(&sb, "Listing: %s\n", report.ListingURL)
	fmt.Fprintf(&sb, "Time:    %s\n\n", report.At.Format("2006-01-02 15:04:05 MST"))

	if report.Err != nil {
		sb.WriteString("Fatal error:\n")
		fmt.Fprintf(&sb, "    %s\n\n", report.Err)
	}

	if len(report.ItemErrors) > 0 {
		fmt.Fprintf(&sb, "Item errors (%d):\n", len(report.ItemErrors))
		for i, e := range report.ItemErrors {
			fmt.Fprintf(&sb, "[%d] %s\n", i+1, e.Record.Title)
			fmt.Fprintf(&sb, "    %s\n", e.Record.SourceURL)
			fmt.Fprintf(&sb, "    %s\n\n", e.Message)
		}
	}

	sb.WriteString("---\n")
	sb.WriteString("Generated by disclosure-relay\n")
	return sb.String()
}

// buildEmailMessage はRFC 5322準拠のメールメッセージを構築する
//
// ヘッダーと本文は空行（\r\n）で区切る。
func (es *EmailSender) buildEmailMessage(subject, body string) []byte {
	var msg strings.Builder

	fmt.Fprintf(&msg, "From: %s\r\n", es.config.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(es.config.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	return []byte(msg.String())
}

// sendWithRetry は指数バックオフでリトライしながらメールを送信する
func (es *EmailSender) sendWithRetry(ctx context.Context, msg []byte) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, es.send(msg)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(emailMaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			es.logger.Warn("email send failed, retrying", "error", err, "next", next)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to send email after %d tries: %w", emailMaxTries, err)
	}
	return nil
}

// send はPLAIN認証でSMTP送信する（ポート587はSTARTTLSで暗号化される）
func (es *EmailSender) send(msg []byte) error {
	auth := smtp.PlainAuth("", es.config.From, es.config.Password, es.config.SMTPHost)
	addr := es.config.SMTPHost + ":" + es.config.SMTPPort

	if err := es.sendMail(addr, auth, es.config.From, es.config.To, msg); err != nil {
		return fmt.Errorf("SMTP send failed: %w (check EMAIL_PASSWORD is a Gmail App Password)", err)
	}
	return nil
}

// NotifyRun は通知メールが設定されていれば、致命的エラーまたは
// レコード単位のエラーを通知する。送信の失敗は警告のみ。
func NotifyRun(ctx context.Context, cfg *Config, logger *slog.Logger, summary *RunSummary, runErr error) {
	if !cfg.EmailEnabled() {
		return
	}
	report := FailureReport{ListingURL: cfg.ListingURL, Err: runErr, At: time.Now()}
	if summary != nil {
		report.RunID = summary.RunID
		report.ItemErrors = summary.ItemErrors
	}
	if report.Err == nil && len(report.ItemErrors) == 0 {
		return
	}

	sender, err := NewEmailSender(cfg.EmailFrom, cfg.EmailPassword, cfg.EmailTo, logger)
	if err != nil {
		logger.Warn("failed to create email sender", "error", err)
		return
	}
	if err := sender.SendFailureReport(ctx, report); err != nil {
		logger.Warn("failed to send failure notification", "error", err)
		return
	}
	logger.Info("failure notification sent", "to", cfg.EmailTo)
}
