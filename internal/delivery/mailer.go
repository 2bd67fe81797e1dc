// Package delivery はメール・SMS配信の外部コラボレーターへの
// 狭いインターフェースを提供する。
//
// 配信の失敗は直前のクレデンシャル変更を取り消さない。プロバイダー資格情報が
// 未設定の場合、配信はリクエストを失敗させずログ出力のみのno-opに縮退する。
package delivery

import (
	"context"
	"log/slog"

	"github.com/wneessen/go-mail"
)

// Mailer はメール配信のインターフェース。
type Mailer interface {
	// Send は1通のHTMLメールを送信する。
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMSSender はSMS配信のインターフェース。
type SMSSender interface {
	// Send は1通のSMSメッセージを送信する。
	Send(ctx context.Context, phone, message string) error
}

// SMTPConfig はSMTPメーラーの設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer はSMTPリレー経由でメールを送信するMailer実装。
type SMTPMailer struct {
	config SMTPConfig
}

// NewSMTPMailer はSMTPMailerを生成する。
func NewSMTPMailer(config SMTPConfig) *SMTPMailer {
	return &SMTPMailer{config: config}
}

// Send は1通のHTMLメールを送信する。
func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.config.From); err != nil {
		return err
	}
	if err := msg.To(to); err != nil {
		return err
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)

	opts := []mail.Option{
		mail.WithPort(m.config.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if m.config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.config.Username),
			mail.WithPassword(m.config.Password),
		)
	}

	client, err := mail.NewClient(m.config.Host, opts...)
	if err != nil {
		return err
	}

	return client.DialAndSendWithContext(ctx, msg)
}

// LogMailer は配信資格情報が未設定の場合に使用するログ出力のみのMailer実装。
// メール本文はログに残さない（検証トークンの漏洩防止）。
type LogMailer struct{}

// NewLogMailer はLogMailerを生成する。
func NewLogMailer() *LogMailer {
	return &LogMailer{}
}

// Send は送信をスキップし、宛先と件名のみをログに出力する。
func (m *LogMailer) Send(_ context.Context, to, subject, _ string) error {
	slog.Info("mail delivery skipped (no provider configured)",
		slog.String("to", to),
		slog.String("subject", subject),
	)
	return nil
}

// LogSMSSender はログ出力のみのSMSSender実装。
// SMSプロバイダーは外部コラボレーターであり、本サブシステムは
// インターフェース境界のみを所有する。メッセージ本文はログに残さない。
type LogSMSSender struct{}

// NewLogSMSSender はLogSMSSenderを生成する。
func NewLogSMSSender() *LogSMSSender {
	return &LogSMSSender{}
}

// Send は送信をスキップし、宛先のみをログに出力する。
func (s *LogSMSSender) Send(_ context.Context, phone, _ string) error {
	slog.Info("sms delivery skipped (no provider configured)",
		slog.String("phone", phone),
	)
	return nil
}

// compile-time interface checks
var _ Mailer = (*SMTPMailer)(nil)
var _ Mailer = (*LogMailer)(nil)
var _ SMSSender = (*LogSMSSender)(nil)
