package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"os"
	"strconv"
	"time"
)

// implicitTLSPort は接続直後からTLSを使うSMTPSのポート番号。
const implicitTLSPort = 465

// SMTPConfig はSMTPサーバーへの接続設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// SMTPNotifier はSMTPでメールを送信するNotifier実装。
// 465番ポートは暗黙的TLS、それ以外はサーバーが対応していればSTARTTLSを使う。
type SMTPNotifier struct {
	cfg    SMTPConfig
	from   mail.Address
	dialer *net.Dialer
	now    func() time.Time
}

// compile-time interface check
var _ Notifier = (*SMTPNotifier)(nil)

// NewSMTPNotifier はSMTPNotifierを生成する。
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("smtp port must be positive: %d", cfg.Port)
	}
	sender := cfg.From
	if sender == "" {
		sender = cfg.Username
	}
	addr, err := mail.ParseAddress(sender)
	if err != nil {
		return nil, fmt.Errorf("invalid sender address %q: %w", sender, err)
	}
	return &SMTPNotifier{
		cfg:    cfg,
		from:   mail.Address{Name: cfg.FromName, Address: addr.Address},
		dialer: &net.Dialer{},
		now:    time.Now,
	}, nil
}

// Send はメッセージを送信する。ctxの期限を超えた場合は接続を閉じて中断する。
func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	raw, err := buildMessage(n.from, msg, n.now())
	if err != nil {
		return err
	}

	conn, err := n.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect smtp server: %w", err)
	}
	// ctxが終了したら接続を閉じてブロック中の読み書きを解除する
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := n.deliver(conn, msg.To, raw); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("smtp delivery aborted: %w", ctxErr)
		}
		// 接続期限はctxの期限と同じなので、ctxより先に発火した場合もタイムアウトとして扱う
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return fmt.Errorf("smtp delivery aborted: %w", context.DeadlineExceeded)
		}
		return err
	}
	return nil
}

func (n *SMTPNotifier) dial(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	if n.cfg.Port == implicitTLSPort {
		tlsDialer := &tls.Dialer{NetDialer: n.dialer, Config: n.tlsConfig()}
		return tlsDialer.DialContext(ctx, "tcp", addr)
	}
	return n.dialer.DialContext(ctx, "tcp", addr)
}

func (n *SMTPNotifier) tlsConfig() *tls.Config {
	return &tls.Config{ServerName: n.cfg.Host, MinVersion: tls.VersionTLS12}
}

func (n *SMTPNotifier) deliver(conn net.Conn, to string, raw []byte) error {
	client, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start smtp session: %w", err)
	}
	defer client.Close()

	if n.cfg.Port != implicitTLSPort {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(n.tlsConfig()); err != nil {
				return fmt.Errorf("failed to starttls: %w", err)
			}
		}
	}

	if n.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("failed to authenticate: %w", err)
			}
		}
	}

	if err := client.Mail(n.from.Address); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO rejected: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}

	return client.Quit()
}
