// Package token はアクセストークン・リフレッシュトークンの発行と検証を提供する。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind はトークン種別。
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// DevelopmentSecret は開発環境でのみ許容される署名鍵の既定値。
const DevelopmentSecret = "dev-insecure-jwt-secret-change-me"

var (
	// ErrInvalidToken は署名・形式・アルゴリズム・種別のいずれかが不正な場合に返す。
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken は有効期限切れの場合に返す。
	ErrExpiredToken = errors.New("token expired")
)

// Claims はトークンのペイロード。subにアカウントIDを格納する。
type Claims struct {
	Email string `json:"email"`
	Type  Kind   `json:"type"`
	jwt.RegisteredClaims
}

// Pair はアクセストークンとリフレッシュトークンの組。
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Config はIssuerの設定。
type Config struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Issuer はHS256署名のトークンを発行・検証する。
type Issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewIssuer はIssuerを生成する。
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, fmt.Errorf("token TTLs must be positive: access=%s refresh=%s", cfg.AccessTTL, cfg.RefreshTTL)
	}
	return &Issuer{
		secret:     []byte(cfg.Secret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}, nil
}

// Mint は指定種別のトークンを発行する。
func (i *Issuer) Mint(accountID, email string, kind Kind) (string, error) {
	var ttl time.Duration
	switch kind {
	case KindAccess:
		ttl = i.accessTTL
	case KindRefresh:
		ttl = i.refreshTTL
	default:
		return "", fmt.Errorf("unknown token kind: %q", kind)
	}

	now := i.now()
	claims := Claims{
		Email: email,
		Type:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", kind, err)
	}
	return signed, nil
}

// MintPair はアクセストークンとリフレッシュトークンを発行する。
func (i *Issuer) MintPair(accountID, email string) (*Pair, error) {
	access, err := i.Mint(accountID, email, KindAccess)
	if err != nil {
		return nil, err
	}
	refresh, err := i.Mint(accountID, email, KindRefresh)
	if err != nil {
		return nil, err
	}
	return &Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// Verify はトークンを検証し、期待する種別であればClaimsを返す。
// アカウントの存在・有効状態の確認は呼び出し側で行う。
func (i *Issuer) Verify(tokenString string, kind Kind) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			return i.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if claims.Type != kind {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrInvalidToken, kind, claims.Type)
	}

	return claims, nil
}
