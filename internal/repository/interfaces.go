// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/winnersop/winnersop-api/internal/model"
)

// AccountRepository はアカウントデータの永続化インターフェース。
// 各メソッドは単一文で完結し、アトミックに実行される。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)

	// FindByEmail は正規化済みメールアドレスでアカウントを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Account, error)

	// CreateIfAbsent はメールアドレスが未登録の場合のみアカウントを作成する。
	// 既に存在する場合は既存アカウントとfalseを返す。同時作成は1行に収束する。
	CreateIfAbsent(ctx context.Context, account *model.Account) (*model.Account, bool, error)

	// MarkVerified はアカウントを検証済みにし、最終ログイン日時を更新する。
	// 見つからない場合はnilを返す。
	MarkVerified(ctx context.Context, id string, loginAt time.Time) (*model.Account, error)

	// RecordSocialLogin はソーシャルログインの結果を既存アカウントに反映する。
	// providerが空の場合は既存のプロバイダーを維持する。見つからない場合はnilを返す。
	RecordSocialLogin(ctx context.Context, id, provider string, loginAt time.Time) (*model.Account, error)

	// CompleteRegistration は登録未完了のアカウントにのみプロフィール項目を反映する。
	// 対象が存在しないか既に登録完了済みの場合はnilを返す。
	CompleteRegistration(ctx context.Context, id string, fields model.RegistrationFields, now time.Time) (*model.Account, error)
}

// IssueResult はOTP発行トランザクションの結果。
type IssueResult struct {
	// Issued は新しいOTPが保存されたかどうか。falseの場合はクールダウン中。
	Issued bool
	// LatestCreatedAt はクールダウン判定に使った直近OTPの作成日時（Issued=falseのときのみ）。
	LatestCreatedAt time.Time
	// Invalidated は無効化した未使用OTPの件数。
	Invalidated int64
}

// OTPRepository はOTP発行記録の永続化インターフェース。
type OTPRepository interface {
	// Issue はアカウント行をロックした同一トランザクション内で、
	// cooldownSince以降に作成されたOTPがなければ未使用OTPを全て無効化して新規OTPを保存する。
	Issue(ctx context.Context, otp *model.OTP, cooldownSince time.Time) (*IssueResult, error)

	// FindLatestUnused はアカウントの最新の未使用OTPを取得する。見つからない場合はnilを返す。
	FindLatestUnused(ctx context.Context, userID string) (*model.OTP, error)

	// MarkUsed は未使用のOTPのみを使用済みにする。更新できた場合にtrueを返す。
	MarkUsed(ctx context.Context, id string) (bool, error)

	// ConsumeAttempt は未使用かつ試行回数がmaxAttempts未満の場合のみ試行回数を1増やす。
	// 増やせた場合にtrueを返す。falseは試行回数の上限到達か、既に使用済み・削除済みであることを示す。
	ConsumeAttempt(ctx context.Context, id string, maxAttempts int) (bool, error)

	// DeleteStale は期限切れのOTPと、usedBefore以前に作成された使用済みOTPを削除する。
	DeleteStale(ctx context.Context, now, usedBefore time.Time) (int64, error)
}
