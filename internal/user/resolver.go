// Package user はアカウントの取得・作成・登録完了のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/winnersop/winnersop-api/internal/model"
	"github.com/winnersop/winnersop-api/internal/repository"
)

// TextSanitizer は自由入力欄からマークアップを取り除くインターフェース。
type TextSanitizer interface {
	SanitizeText(raw string) string
}

// SocialIdentity はソーシャルログインで受け取った本人情報。
type SocialIdentity struct {
	Email     string
	Provider  string
	FirstName string
	LastName  string
}

// RegistrationInput は登録完了リクエストの未検証の入力値。
type RegistrationInput struct {
	FirstName        string
	LastName         string
	Country          string
	AcademicLevel    string
	TargetProgram    *string
	TargetUniversity *string
}

// Resolver はOTPとソーシャルログインの両方の入口からアカウントを解決する。
// 同じメールアドレスのアカウントは入口によらず1件に収束する。
type Resolver struct {
	accounts  repository.AccountRepository
	sanitizer TextSanitizer
	now       func() time.Time
}

// NewResolver はResolverを生成する。
func NewResolver(accounts repository.AccountRepository, sanitizer TextSanitizer) *Resolver {
	return &Resolver{
		accounts:  accounts,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// ResolveForOTP は正規化済みメールアドレスのアカウントを取得し、なければ未登録状態で作成する。
func (r *Resolver) ResolveForOTP(ctx context.Context, email string) (*model.Account, error) {
	existing, err := r.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	account, created, err := r.accounts.CreateIfAbsent(ctx, model.NewPlaceholderAccount(uuid.New().String(), email, r.now()))
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	if created {
		slog.Info("account created",
			slog.String("user_id", account.ID),
			slog.String("entry", "otp"),
		)
	}
	return account, nil
}

// FindByEmail は正規化済みメールアドレスでアカウントを取得する。見つからない場合はnilを返す。
func (r *Resolver) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	account, err := r.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return account, nil
}

// MarkVerified はOTP検証成功時にアカウントを検証済みにし、最終ログイン日時を記録する。
// アカウントが既に存在しない場合はnilを返す。
func (r *Resolver) MarkVerified(ctx context.Context, accountID string) (*model.Account, error) {
	account, err := r.accounts.MarkVerified(ctx, accountID, r.now())
	if err != nil {
		return nil, fmt.Errorf("failed to mark account verified: %w", err)
	}
	return account, nil
}

// ResolveForSocial はソーシャルログインのアカウントを取得または作成する。
// 既存アカウント（OTPで作成されたものを含む）には最終ログイン・検証済み・プロバイダーを反映する。
func (r *Resolver) ResolveForSocial(ctx context.Context, identity SocialIdentity) (*model.Account, error) {
	email, err := NormalizeEmail(identity.Email)
	if err != nil {
		return nil, model.NewInvalidEmailError()
	}
	provider := strings.ToLower(strings.TrimSpace(identity.Provider))
	if provider == "" {
		return nil, model.NewInvalidRequestError("provider is required")
	}
	if utf8.RuneCountInString(provider) > model.MaxProviderLength {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("provider must be at most %d characters", model.MaxProviderLength))
	}

	now := r.now()

	existing, err := r.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if existing == nil {
		candidate := model.NewPlaceholderAccount(uuid.New().String(), email, now)
		candidate.IsVerified = true
		candidate.AuthProvider = provider
		candidate.LastLogin = &now
		// プロバイダー由来の名前は拒否せずカラム長に切り詰める
		if name := truncateRunes(r.sanitizer.SanitizeText(identity.FirstName), model.MaxNameLength); name != "" {
			candidate.FirstName = name
		}
		if name := truncateRunes(r.sanitizer.SanitizeText(identity.LastName), model.MaxNameLength); name != "" {
			candidate.LastName = name
		}

		account, created, err := r.accounts.CreateIfAbsent(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("failed to create account: %w", err)
		}
		if created {
			slog.Info("account created",
				slog.String("user_id", account.ID),
				slog.String("entry", "social"),
				slog.String("provider", provider),
			)
			return account, nil
		}
		existing = account
	}

	account, err := r.accounts.RecordSocialLogin(ctx, existing.ID, provider, now)
	if err != nil {
		return nil, fmt.Errorf("failed to record social login: %w", err)
	}
	if account == nil {
		return nil, model.NewUserNotFoundError()
	}

	slog.Info("social login merged into existing account",
		slog.String("user_id", account.ID),
		slog.String("provider", provider),
	)
	return account, nil
}

// CompleteRegistration は登録未完了のアカウントにプロフィール項目を設定する。
// 登録完了は一度きりで、完了済みのアカウントにはConflictを返す。
func (r *Resolver) CompleteRegistration(ctx context.Context, accountID string, input RegistrationInput) (*model.Account, error) {
	fields, err := r.validateRegistration(input)
	if err != nil {
		return nil, err
	}

	account, err := r.accounts.CompleteRegistration(ctx, accountID, *fields, r.now())
	if err != nil {
		return nil, fmt.Errorf("failed to complete registration: %w", err)
	}
	if account != nil {
		slog.Info("registration completed", slog.String("user_id", accountID))
		return account, nil
	}

	// 条件付き更新で0件だった理由を判定する
	existing, err := r.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if existing == nil {
		return nil, model.NewUserNotFoundError()
	}
	return nil, model.NewRegistrationAlreadyCompletedError()
}

func (r *Resolver) validateRegistration(input RegistrationInput) (*model.RegistrationFields, error) {
	fields := &model.RegistrationFields{
		FirstName: r.sanitizer.SanitizeText(input.FirstName),
		LastName:  r.sanitizer.SanitizeText(input.LastName),
		Country:   r.sanitizer.SanitizeText(input.Country),
	}

	var missing []string
	if fields.FirstName == "" {
		missing = append(missing, "firstName")
	}
	if fields.LastName == "" {
		missing = append(missing, "lastName")
	}
	if fields.Country == "" {
		missing = append(missing, "country")
	}
	if strings.TrimSpace(input.AcademicLevel) == "" {
		missing = append(missing, "academicLevel")
	}
	if len(missing) > 0 {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")))
	}

	if tooLong := overLength(map[string]string{
		"firstName": fields.FirstName,
		"lastName":  fields.LastName,
		"country":   fields.Country,
	}, model.MaxNameLength); len(tooLong) > 0 {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("fields must be at most %d characters: %s", model.MaxNameLength, strings.Join(tooLong, ", ")))
	}

	if fields.FirstName == model.PlaceholderName {
		return nil, model.NewInvalidRequestError("firstName must not be the placeholder value")
	}

	level, ok := model.ParseAcademicLevel(input.AcademicLevel)
	if !ok {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("unknown academicLevel: %s", input.AcademicLevel))
	}
	fields.AcademicLevel = level

	fields.TargetProgram = r.optionalText(input.TargetProgram)
	fields.TargetUniversity = r.optionalText(input.TargetUniversity)

	optional := map[string]string{}
	if fields.TargetProgram != nil {
		optional["targetProgram"] = *fields.TargetProgram
	}
	if fields.TargetUniversity != nil {
		optional["targetUniversity"] = *fields.TargetUniversity
	}
	if tooLong := overLength(optional, model.MaxTargetLength); len(tooLong) > 0 {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("fields must be at most %d characters: %s", model.MaxTargetLength, strings.Join(tooLong, ", ")))
	}

	return fields, nil
}

// overLength は文字数がmaxを超える項目名をソートして返す。
func overLength(values map[string]string, max int) []string {
	var names []string
	for name, v := range values {
		if utf8.RuneCountInString(v) > max {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// truncateRunes はsを先頭max文字に切り詰める。
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:max]))
}

// optionalText は未指定または空白のみの任意項目をnilにする。
func (r *Resolver) optionalText(raw *string) *string {
	if raw == nil {
		return nil
	}
	s := r.sanitizer.SanitizeText(*raw)
	if s == "" {
		return nil
	}
	return &s
}

// GetProfile はアカウントのプロフィールを取得する。
func (r *Resolver) GetProfile(ctx context.Context, accountID string) (*model.Account, error) {
	account, err := r.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return nil, model.NewUserNotFoundError()
	}
	return account, nil
}

// Authorize はトークンのsubjectが存在する有効なアカウントかを確認する。
// subjectがUUIDでない場合はDBに問い合わせずUnauthorizedを返す。
func (r *Resolver) Authorize(ctx context.Context, accountID string) (*model.Account, error) {
	// uuid.Parseは波括弧やurn形式も受け付けるため、標準形式の長さに限定する
	if _, err := uuid.Parse(accountID); err != nil || len(accountID) != 36 {
		return nil, model.NewInvalidTokenError()
	}
	account, err := r.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil || !account.IsActive {
		return nil, model.NewInvalidTokenError()
	}
	return account, nil
}
