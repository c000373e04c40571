package auth

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/winnersop/winnersop-api/internal/model"
	"github.com/winnersop/winnersop-api/internal/notify"
)

const (
	subjectNewUser       = "Welcome! Your Verification Code"
	subjectReturningUser = "Your Login OTP Code"
)

var otpHTMLTemplate = template.Must(template.New("otp").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; text-align: center;">
  <h2>{{.Greeting}}</h2>
  <p>Your verification code is:</p>
  <div style="background-color: #f4f4f4; padding: 20px; font-size: 32px; font-weight: bold; letter-spacing: 5px; margin: 20px 0;">{{.Code}}</div>
  <p>This code will expire in {{.Minutes}} minutes.</p>
  <p>If you didn't request this code, please ignore this email.</p>
</div>
`))

type otpMessageData struct {
	Greeting string
	Code     string
	Minutes  int
}

// renderOTPMessage はOTP通知メールを組み立てる。新規ユーザーとログインで件名を切り替える。
func renderOTPMessage(account *model.Account, code string, ttl time.Duration) (notify.Message, error) {
	data := otpMessageData{
		Greeting: "Welcome to WinnerSOP!",
		Code:     code,
		Minutes:  expiryMinutes(ttl),
	}
	subject := subjectNewUser
	if !account.IsNewUser() {
		subject = subjectReturningUser
		data.Greeting = fmt.Sprintf("Hello %s, welcome back to WinnerSOP!", account.FirstName)
	}

	var html bytes.Buffer
	if err := otpHTMLTemplate.Execute(&html, data); err != nil {
		return notify.Message{}, fmt.Errorf("failed to render otp email: %w", err)
	}

	text := fmt.Sprintf("%s\n\nYour verification code is: %s\n\nThis code will expire in %d minutes.\nIf you didn't request this code, please ignore this email.\n",
		data.Greeting, code, data.Minutes)

	return notify.Message{
		To:       account.Email,
		Subject:  subject,
		HTMLBody: html.String(),
		TextBody: text,
	}, nil
}

// expiryMinutes は有効期間を分単位に切り上げる。
func expiryMinutes(ttl time.Duration) int {
	minutes := int((ttl + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		return 1
	}
	return minutes
}
