// Package mail はメール送信を抽象化する。
//
// Brevo のAPIキーが設定されていれば BrevoDispatcher で送信し、無ければ LogDispatcher がログに記録する。
// 送信の失敗は呼び出し元でログに記録し、操作自体は失敗させない。
package mail

import (
	"context"

	"go.uber.org/zap"
)

// Message は送信するメール。
type Message struct {
	// To は宛先のメールアドレス。
	To string
	// Subject は件名。
	Subject string
	// HTML は本文（HTML）。
	HTML string
}

// Dispatcher はメールを送信する。
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// LogDispatcher は送信せずにログに記録するDispatcher。開発環境で使う。
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher は新しいLogDispatcherを生成する。
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Send はメールの宛先と件名をログに記録する。
func (d *LogDispatcher) Send(_ context.Context, msg Message) error {
	d.logger.Info("メール送信（ログのみ）", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}
