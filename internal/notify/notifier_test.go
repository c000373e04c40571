package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/textproto"
	"strings"
	"testing"
	"time"
)

func testMessage() Message {
	return Message{
		To:       "ada@example.com",
		Subject:  "Your Login OTP Code",
		TextBody: "Your code is 123456. It expires in 10 minutes.",
		HTMLBody: "<p>Your code is <strong>123456</strong>.</p>",
	}
}

func TestBuildMessage_MultipartAlternative(t *testing.T) {
	from := mail.Address{Name: "WinnerSOP", Address: "no-reply@winnersop.com"}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	raw, err := buildMessage(from, testMessage(), now)
	if err != nil {
		t.Fatalf("buildMessage error: %v", err)
	}

	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadMessage error: %v", err)
	}

	var dec mime.WordDecoder
	subject, err := dec.DecodeHeader(parsed.Header.Get("Subject"))
	if err != nil {
		t.Fatalf("DecodeHeader error: %v", err)
	}
	if subject != "Your Login OTP Code" {
		t.Errorf("Subject = %q", subject)
	}
	if got := parsed.Header.Get("To"); got != "ada@example.com" {
		t.Errorf("To = %q", got)
	}
	if got := parsed.Header.Get("From"); !strings.Contains(got, "no-reply@winnersop.com") {
		t.Errorf("From = %q", got)
	}
	if !strings.HasSuffix(parsed.Header.Get("Message-ID"), "@winnersop.com>") {
		t.Errorf("Message-ID = %q", parsed.Header.Get("Message-ID"))
	}

	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	if err != nil {
		t.Fatalf("ParseMediaType error: %v", err)
	}
	if mediaType != "multipart/alternative" {
		t.Fatalf("media type = %q", mediaType)
	}

	mr := multipart.NewReader(parsed.Body, params["boundary"])
	bodies := map[string]string{}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextPart error: %v", err)
		}
		ct, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		b, _ := io.ReadAll(part)
		bodies[ct] = string(b)
	}

	if bodies["text/plain"] != testMessage().TextBody {
		t.Errorf("text part = %q", bodies["text/plain"])
	}
	if bodies["text/html"] != testMessage().HTMLBody {
		t.Errorf("html part = %q", bodies["text/html"])
	}
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Message)
	}{
		{"header injection in recipient", func(m *Message) { m.To = "ada@example.com\r\nBcc: x@example.com" }},
		{"header injection in subject", func(m *Message) { m.Subject = "hi\nBcc: x@example.com" }},
		{"invalid recipient", func(m *Message) { m.To = "not-an-address" }},
		{"empty body", func(m *Message) { m.TextBody, m.HTMLBody = "", "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := testMessage()
			tt.mutate(&msg)
			if err := msg.validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestNewSMTPNotifier_Validation(t *testing.T) {
	if _, err := NewSMTPNotifier(SMTPConfig{Port: 465, From: "a@example.com"}); err == nil {
		t.Error("expected error for missing host")
	}
	if _, err := NewSMTPNotifier(SMTPConfig{Host: "smtp.example.com", From: "a@example.com"}); err == nil {
		t.Error("expected error for missing port")
	}
	if _, err := NewSMTPNotifier(SMTPConfig{Host: "smtp.example.com", Port: 465}); err == nil {
		t.Error("expected error for missing sender")
	}

	n, err := NewSMTPNotifier(SMTPConfig{Host: "smtp.example.com", Port: 465, Username: "mailer@example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.from.Address != "mailer@example.com" {
		t.Errorf("sender should fall back to username, got %q", n.from.Address)
	}
}

// startFakeSMTPServer は最小限のSMTP応答を返すサーバーを起動し、受信したDATAを返すチャネルを返す。
func startFakeSMTPServer(t *testing.T) (int, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		tp := textproto.NewConn(conn)
		_ = tp.PrintfLine("220 localhost ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			switch {
			case strings.HasPrefix(line, "EHLO"), strings.HasPrefix(line, "HELO"):
				_ = tp.PrintfLine("250 localhost")
			case strings.HasPrefix(line, "MAIL FROM"), strings.HasPrefix(line, "RCPT TO"):
				_ = tp.PrintfLine("250 OK")
			case line == "DATA":
				_ = tp.PrintfLine("354 go ahead")
				data, err := tp.ReadDotBytes()
				if err != nil {
					return
				}
				received <- string(data)
				_ = tp.PrintfLine("250 queued")
			case line == "QUIT":
				_ = tp.PrintfLine("221 bye")
				return
			default:
				_ = tp.PrintfLine("502 unsupported")
			}
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port, received
}

func TestSMTPNotifier_Send(t *testing.T) {
	port, received := startFakeSMTPServer(t)

	n, err := NewSMTPNotifier(SMTPConfig{
		Host:     "127.0.0.1",
		Port:     port,
		From:     "no-reply@winnersop.com",
		FromName: "WinnerSOP",
	})
	if err != nil {
		t.Fatalf("NewSMTPNotifier error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.Send(ctx, testMessage()); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	select {
	case data := <-received:
		if !strings.Contains(data, "To: ada@example.com") {
			t.Errorf("DATA should contain recipient header, got:\n%s", data)
		}
		if !strings.Contains(data, "multipart/alternative") {
			t.Errorf("DATA should be multipart/alternative, got:\n%s", data)
		}
	case <-time.After(time.Second):
		t.Fatal("server did not receive DATA")
	}
}

func TestSMTPNotifier_Send_TimesOutOnSilentServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		// 接続を受け付けるがグリーティングを返さない
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(2 * time.Second)
	}()

	n, err := NewSMTPNotifier(SMTPConfig{
		Host: "127.0.0.1",
		Port: ln.Addr().(*net.TCPAddr).Port,
		From: "no-reply@winnersop.com",
	})
	if err != nil {
		t.Fatalf("NewSMTPNotifier error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = n.Send(ctx, testMessage())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("want context.DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Send should return near the deadline, took %s", elapsed)
	}
}

func TestLogNotifier_Send(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	n := NewLogNotifier(logger)

	if err := n.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "ada@example.com") {
		t.Errorf("log should contain recipient, got: %s", out)
	}
	if strings.Contains(out, "123456") {
		t.Errorf("body must not be logged above debug level, got: %s", out)
	}
}

func TestLogNotifier_RejectsInvalidMessage(t *testing.T) {
	n := NewLogNotifier(nil)
	if err := n.Send(context.Background(), Message{To: "bad", TextBody: "x"}); err == nil {
		t.Error("expected validation error")
	}
}
