// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/winnersop/winnersop-api/internal/auth"
	"github.com/winnersop/winnersop-api/internal/middleware"
	"github.com/winnersop/winnersop-api/internal/model"
	"github.com/winnersop/winnersop-api/internal/user"
)

const oauthStateCookie = "oauth_state"

// OTPServiceInterface はOTPの送信と検証を行うサービスインターフェース。
type OTPServiceInterface interface {
	Issue(ctx context.Context, email string) (*auth.IssueResult, error)
	Verify(ctx context.Context, email, code string) (*auth.LoginResult, error)
}

// SocialServiceInterface はソーシャルログインのサービスインターフェース。
type SocialServiceInterface interface {
	Login(ctx context.Context, identity user.SocialIdentity) (*auth.LoginResult, error)
	GoogleEnabled() bool
	GoogleLoginURL(state string) (string, error)
	HandleGoogleCallback(ctx context.Context, code string) (*auth.LoginResult, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
}

// AuthHandler はOTP認証・ソーシャルログインのHTTPハンドラー。
type AuthHandler struct {
	otp    OTPServiceInterface
	social SocialServiceInterface
	config AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(otp OTPServiceInterface, social SocialServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		otp:    otp,
		social: social,
		config: config,
	}
}

type sendOTPRequest struct {
	Email string `json:"email"`
}

type sendOTPResponse struct {
	Message   string `json:"message"`
	IsNewUser bool   `json:"isNewUser"`
	Email     string `json:"email"`
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type socialLoginRequest struct {
	Provider  string `json:"provider"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// loginUserResponse はトークン発行レスポンスに含めるユーザー情報。
type loginUserResponse struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	IsNewUser    bool   `json:"isNewUser"`
	AuthProvider string `json:"authProvider,omitempty"`
}

// loginResponse はOTP検証・ソーシャルログイン成功時のレスポンス。
type loginResponse struct {
	Message      string            `json:"message"`
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token"`
	User         loginUserResponse `json:"user"`
}

func toLoginResponse(result *auth.LoginResult) loginResponse {
	a := result.Account
	return loginResponse{
		Message:      result.Message,
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		User: loginUserResponse{
			ID:           a.ID,
			Email:        a.Email,
			FirstName:    a.FirstName,
			LastName:     a.LastName,
			IsNewUser:    a.IsNewUser(),
			AuthProvider: a.AuthProvider,
		},
	}
}

// SendOTP はメールアドレス宛にワンタイムコードを送信する。
// POST /auth/send-otp
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	result, err := h.otp.Issue(r.Context(), req.Email)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sendOTPResponse{
		Message:   result.Message,
		IsNewUser: result.IsNewUser,
		Email:     result.Email,
	})
}

// VerifyOTP はワンタイムコードを検証し、トークンペアを発行する。
// 失敗理由によらず401を返す。
// POST /auth/verify-otp
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	result, err := h.otp.Verify(r.Context(), req.Email, req.OTP)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toLoginResponse(result))
}

// SocialLogin はクライアントで認証済みのソーシャルアカウントでログインする。
// POST /auth/social
func (h *AuthHandler) SocialLogin(w http.ResponseWriter, r *http.Request) {
	var req socialLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	result, err := h.social.Login(r.Context(), user.SocialIdentity{
		Email:     req.Email,
		Provider:  req.Provider,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toLoginResponse(result))
}

// GoogleLogin はGoogle OAuthフローを開始する。
// GET /auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	url, err := h.social.GoogleLoginURL(state)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理し、トークンペアをJSONで返す。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch")
		handleServiceError(w, model.NewInvalidRequestError("invalid state parameter"))
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		handleServiceError(w, model.NewInvalidRequestError("missing authorization code"))
		return
	}

	// 3. 認証処理
	result, err := h.social.HandleGoogleCallback(r.Context(), code)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toLoginResponse(result))
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
