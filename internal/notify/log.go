package notify

import (
	"context"
	"log/slog"
)

// LogNotifier はメールを送信せずログに出力する開発用のNotifier実装。
// 本文はDebugレベルでのみ出力する。
type LogNotifier struct {
	logger *slog.Logger
}

// compile-time interface check
var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier はLogNotifierを生成する。loggerがnilの場合はslog.Default()を使う。
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send はメッセージの宛先と件名をログに出力する。
func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	n.logger.InfoContext(ctx, "email delivery skipped (log notifier)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	n.logger.DebugContext(ctx, "email body",
		slog.String("to", msg.To),
		slog.String("text_body", msg.TextBody),
	)
	return nil
}
