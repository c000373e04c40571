package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/winnersop/winnersop-api/internal/metrics"
	"github.com/winnersop/winnersop-api/internal/model"
	"github.com/winnersop/winnersop-api/internal/user"
)

const messageSocialLogin = "Social login successful"

// ErrProviderNotConfigured はOAuthプロバイダーが設定されていない場合に返す。
var ErrProviderNotConfigured = errors.New("oauth provider is not configured")

// SocialAccountResolver はソーシャルログインのアカウント解決インターフェース。
type SocialAccountResolver interface {
	ResolveForSocial(ctx context.Context, identity user.SocialIdentity) (*model.Account, error)
}

// SocialLogin はソーシャルログインによるアカウント解決とトークン発行を行う。
type SocialLogin struct {
	accounts SocialAccountResolver
	tokens   TokenIssuer
	google   OAuthProvider
	metrics  metrics.MetricsCollector
}

// NewSocialLogin はSocialLoginを生成する。googleがnilの場合はGoogleログインを無効にする。
func NewSocialLogin(
	accounts SocialAccountResolver,
	tokens TokenIssuer,
	google OAuthProvider,
	collector metrics.MetricsCollector,
) *SocialLogin {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &SocialLogin{
		accounts: accounts,
		tokens:   tokens,
		google:   google,
		metrics:  collector,
	}
}

// Login はクライアントから受け取ったプロバイダー情報でアカウントを解決し、トークンペアを発行する。
// 同じメールアドレスのOTPアカウントが存在する場合はそのアカウントにログインする。
func (s *SocialLogin) Login(ctx context.Context, identity user.SocialIdentity) (*LoginResult, error) {
	account, err := s.accounts.ResolveForSocial(ctx, identity)
	if err != nil {
		return nil, err
	}

	pair, err := s.tokens.MintPair(account.ID, account.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to mint tokens: %w", err)
	}
	s.metrics.RecordTokensIssued("social")

	return &LoginResult{
		Message: messageSocialLogin,
		Tokens:  pair,
		Account: account,
	}, nil
}

// GoogleEnabled はGoogleログインが設定されているかを返す。
func (s *SocialLogin) GoogleEnabled() bool {
	return s.google != nil
}

// GoogleLoginURL はGoogleの認証画面へのURLを生成する。
func (s *SocialLogin) GoogleLoginURL(state string) (string, error) {
	if s.google == nil {
		return "", ErrProviderNotConfigured
	}
	return s.google.GetLoginURL(state), nil
}

// HandleGoogleCallback はGoogleの認可コードを交換してログインする。
// プロバイダーが検証済みとしたメールアドレスのみを受け付ける。
func (s *SocialLogin) HandleGoogleCallback(ctx context.Context, code string) (*LoginResult, error) {
	if s.google == nil {
		return nil, ErrProviderNotConfigured
	}

	info, err := s.google.ExchangeCode(ctx, code)
	if err != nil {
		slog.Warn("google code exchange failed", slog.String("error", err.Error()))
		return nil, model.NewSocialLoginFailedError()
	}
	if !info.EmailVerified {
		slog.Warn("google login rejected: email not verified",
			slog.String("provider_user_id", info.ProviderUserID),
		)
		return nil, model.NewSocialLoginFailedError()
	}

	return s.Login(ctx, user.SocialIdentity{
		Email:     info.Email,
		Provider:  info.Provider,
		FirstName: info.FirstName,
		LastName:  info.LastName,
	})
}
