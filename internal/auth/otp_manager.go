// Package auth はOTP認証・ソーシャルログインとトークン発行のフローを提供する。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/winnersop/winnersop-api/internal/metrics"
	"github.com/winnersop/winnersop-api/internal/model"
	"github.com/winnersop/winnersop-api/internal/notify"
	"github.com/winnersop/winnersop-api/internal/repository"
	"github.com/winnersop/winnersop-api/internal/token"
	"github.com/winnersop/winnersop-api/internal/user"
)

const (
	messageOTPSent     = "OTP sent successfully"
	messageOTPVerified = "OTP verified successfully"
)

// AccountResolver はOTPフローで使うアカウント解決のインターフェース。
type AccountResolver interface {
	ResolveForOTP(ctx context.Context, email string) (*model.Account, error)
	FindByEmail(ctx context.Context, email string) (*model.Account, error)
	MarkVerified(ctx context.Context, accountID string) (*model.Account, error)
}

// TokenIssuer はトークンペアを発行するインターフェース。
type TokenIssuer interface {
	MintPair(accountID, email string) (*token.Pair, error)
}

const (
	// MinCodeLength はOTPコードの最小桁数。
	MinCodeLength = 4
	// MaxCodeLength はOTPコードの最大桁数。otps.codeカラムの長さに合わせる。
	MaxCodeLength = 12
)

// OTPConfig はOTPの発行・検証の設定。
type OTPConfig struct {
	CodeLength     int           // コードの桁数（デフォルト: 6）
	TTL            time.Duration // 有効期間（デフォルト: 10分）
	MaxAttempts    int           // 検証失敗の上限回数（デフォルト: 5）
	ResendCooldown time.Duration // 再送までの待機時間（デフォルト: 60秒）
	UsedRetention  time.Duration // 使用済みOTPの保持期間（デフォルト: 24時間）
	NotifyTimeout  time.Duration // メール送信のタイムアウト（デフォルト: 10秒）
}

// DefaultOTPConfig はデフォルトのOTP設定を返す。
func DefaultOTPConfig() OTPConfig {
	return OTPConfig{
		CodeLength:     6,
		TTL:            10 * time.Minute,
		MaxAttempts:    5,
		ResendCooldown: 60 * time.Second,
		UsedRetention:  24 * time.Hour,
		NotifyTimeout:  10 * time.Second,
	}
}

// withDefaults は未設定の項目をデフォルト値で埋める。
func (c OTPConfig) withDefaults() OTPConfig {
	d := DefaultOTPConfig()
	switch {
	case c.CodeLength <= 0:
		c.CodeLength = d.CodeLength
	case c.CodeLength < MinCodeLength:
		c.CodeLength = MinCodeLength
	case c.CodeLength > MaxCodeLength:
		c.CodeLength = MaxCodeLength
	}
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.ResendCooldown < 0 {
		c.ResendCooldown = d.ResendCooldown
	}
	if c.UsedRetention <= 0 {
		c.UsedRetention = d.UsedRetention
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = d.NotifyTimeout
	}
	return c
}

// IssueResult はOTP発行の結果。
type IssueResult struct {
	Message   string
	IsNewUser bool
	Email     string
}

// LoginResult はログイン成功時の結果。OTP検証とソーシャルログインで共通。
type LoginResult struct {
	Message string
	Tokens  *token.Pair
	Account *model.Account
}

// OTPManager はOTPの発行・検証・掃除を行う。
type OTPManager struct {
	accounts AccountResolver
	otps     repository.OTPRepository
	tokens   TokenIssuer
	notifier notify.Notifier
	metrics  metrics.MetricsCollector
	config   OTPConfig
	now      func() time.Time
	random   io.Reader
}

// NewOTPManager はOTPManagerを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewOTPManager(
	accounts AccountResolver,
	otps repository.OTPRepository,
	tokens TokenIssuer,
	notifier notify.Notifier,
	collector metrics.MetricsCollector,
	config OTPConfig,
) *OTPManager {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &OTPManager{
		accounts: accounts,
		otps:     otps,
		tokens:   tokens,
		notifier: notifier,
		metrics:  collector,
		config:   config.withDefaults(),
		now:      time.Now,
		random:   rand.Reader,
	}
}

// Issue はメールアドレス宛にOTPを発行して送信する。
// 未登録のメールアドレスの場合はアカウントを作成する。
// 再送クールダウン中はOTP_RATE_LIMITED、送信失敗時はOTP_DELIVERY_FAILEDを返す。
func (m *OTPManager) Issue(ctx context.Context, rawEmail string) (*IssueResult, error) {
	// 1. 形式チェック（不正な入力ではストアにアクセスしない）
	email, err := user.NormalizeEmail(rawEmail)
	if err != nil {
		return nil, model.NewInvalidEmailError()
	}

	// 2. アカウントの取得または作成
	account, err := m.accounts.ResolveForOTP(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve account: %w", err)
	}

	// 3. クールダウン判定・既存OTP無効化・新規保存
	code, err := generateCode(m.random, m.config.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate otp: %w", err)
	}
	now := m.now()
	record := &model.OTP{
		ID:        uuid.New().String(),
		UserID:    account.ID,
		Email:     email,
		Code:      code,
		ExpiresAt: now.Add(m.config.TTL),
		CreatedAt: now,
	}

	result, err := m.otps.Issue(ctx, record, now.Add(-m.config.ResendCooldown))
	if err != nil {
		return nil, fmt.Errorf("failed to issue otp: %w", err)
	}
	if !result.Issued {
		wait := retryAfterSeconds(m.config.ResendCooldown, now.Sub(result.LatestCreatedAt))
		m.metrics.RecordOTPRateLimited()
		slog.Info("otp issue rate limited",
			slog.String("user_id", account.ID),
			slog.Int("retry_after_seconds", wait),
		)
		return nil, model.NewOTPRateLimitedError(wait)
	}
	m.metrics.RecordOTPIssued()
	slog.Info("otp issued",
		slog.String("user_id", account.ID),
		slog.Int64("invalidated", result.Invalidated),
	)

	// 4. メール送信（失敗してもアカウントとOTPは保存済みのまま）
	msg, err := renderOTPMessage(account, code, m.config.TTL)
	if err != nil {
		return nil, err
	}
	if err := m.deliver(ctx, msg); err != nil {
		m.metrics.RecordOTPDeliveryFailure()
		slog.Error("otp delivery failed",
			slog.String("user_id", account.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewOTPDeliveryFailedError()
	}

	return &IssueResult{
		Message:   messageOTPSent,
		IsNewUser: account.IsNewUser(),
		Email:     email,
	}, nil
}

// deliver は送信タイムアウトを設定してNotifierを呼び出す。
func (m *OTPManager) deliver(ctx context.Context, msg notify.Message) error {
	ctx, cancel := context.WithTimeout(ctx, m.config.NotifyTimeout)
	defer cancel()

	start := time.Now()
	err := m.notifier.Send(ctx, msg)
	m.metrics.RecordNotifyLatency(time.Since(start))
	return err
}

// Verify はOTPを検証し、成功した場合はアカウントを検証済みにしてトークンペアを発行する。
// 失敗理由は外部に区別せず、*VerificationErrorとして返す。
func (m *OTPManager) Verify(ctx context.Context, rawEmail, code string) (*LoginResult, error) {
	email, err := user.NormalizeEmail(rawEmail)
	if err != nil {
		return nil, m.reject(ReasonNoAccount, "")
	}

	account, err := m.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return nil, m.reject(ReasonNoAccount, "")
	}

	record, err := m.otps.FindLatestUnused(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find otp: %w", err)
	}
	if record == nil {
		return nil, m.reject(ReasonNoActiveOTP, account.ID)
	}

	if record.Attempts >= m.config.MaxAttempts {
		if _, err := m.otps.MarkUsed(ctx, record.ID); err != nil {
			return nil, fmt.Errorf("failed to invalidate exhausted otp: %w", err)
		}
		return nil, m.reject(ReasonAttemptsExhausted, account.ID)
	}

	if record.IsExpired(m.now()) {
		if _, err := m.otps.MarkUsed(ctx, record.ID); err != nil {
			return nil, fmt.Errorf("failed to invalidate expired otp: %w", err)
		}
		return nil, m.reject(ReasonExpired, account.ID)
	}

	// 比較の前に試行回数を予約する。並行する推測でも上限を超えて比較されない
	reserved, err := m.otps.ConsumeAttempt(ctx, record.ID, m.config.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to record attempt: %w", err)
	}
	if !reserved {
		if _, err := m.otps.MarkUsed(ctx, record.ID); err != nil {
			return nil, fmt.Errorf("failed to invalidate exhausted otp: %w", err)
		}
		return nil, m.reject(ReasonAttemptsExhausted, account.ID)
	}

	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(code)), []byte(record.Code)) != 1 {
		return nil, m.reject(ReasonWrongCode, account.ID)
	}

	// 並行検証で先に使用済みにされた場合は失敗として扱う
	consumed, err := m.otps.MarkUsed(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to consume otp: %w", err)
	}
	if !consumed {
		return nil, m.reject(ReasonNoActiveOTP, account.ID)
	}

	verified, err := m.accounts.MarkVerified(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark account verified: %w", err)
	}
	if verified == nil {
		return nil, m.reject(ReasonNoAccount, account.ID)
	}

	pair, err := m.tokens.MintPair(verified.ID, verified.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to mint tokens: %w", err)
	}

	m.metrics.RecordOTPVerification("success")
	m.metrics.RecordTokensIssued("otp")
	slog.Info("otp verified", slog.String("user_id", verified.ID))

	return &LoginResult{
		Message: messageOTPVerified,
		Tokens:  pair,
		Account: verified,
	}, nil
}

// reject は検証失敗を記録してVerificationErrorを返す。
func (m *OTPManager) reject(reason VerificationReason, accountID string) error {
	m.metrics.RecordOTPVerification(string(reason))
	slog.Info("otp verification failed",
		slog.String("reason", string(reason)),
		slog.String("user_id", accountID),
	)
	return &VerificationError{Reason: reason}
}

// Sweep は期限切れのOTPと保持期間を過ぎた使用済みOTPを削除し、削除件数を返す。
// 冪等: 削除対象がない場合は0を返す。
func (m *OTPManager) Sweep(ctx context.Context) (int64, error) {
	now := m.now()
	deleted, err := m.otps.DeleteStale(ctx, now, now.Add(-m.config.UsedRetention))
	if err != nil {
		return 0, fmt.Errorf("failed to sweep otps: %w", err)
	}
	m.metrics.RecordOTPSwept(deleted)
	return deleted, nil
}

// generateCode は指定桁数の0埋め数字コードを一様乱数で生成する。
func generateCode(random io.Reader, length int) (string, error) {
	upper := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(random, upper)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", length, n.Int64()), nil
}

// retryAfterSeconds はクールダウン終了までの秒数を切り上げで返す。最小1秒。
func retryAfterSeconds(cooldown, elapsed time.Duration) int {
	wait := int(math.Ceil((cooldown - elapsed).Seconds()))
	if wait < 1 {
		return 1
	}
	return wait
}
