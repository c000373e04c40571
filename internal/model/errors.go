package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code       string // エラーコード
	Message    string // エラーメッセージ
	Category   string // カテゴリ: auth, validation, account, system
	Action     string // ユーザー向け対処方法
	RetryAfter int    // 再試行までの秒数（OTP_RATE_LIMITEDのみ）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidEmailFormat           = "INVALID_EMAIL_FORMAT"
	ErrCodeInvalidRequest               = "INVALID_REQUEST"
	ErrCodeOTPRateLimited               = "OTP_RATE_LIMITED"
	ErrCodeUnauthorized                 = "UNAUTHORIZED"
	ErrCodeUserNotFound                 = "USER_NOT_FOUND"
	ErrCodeRegistrationAlreadyCompleted = "REGISTRATION_ALREADY_COMPLETED"
	ErrCodeOTPDeliveryFailed            = "OTP_DELIVERY_FAILED"
)

// NewInvalidEmailError はメールアドレス形式エラーを生成する。
func NewInvalidEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmailFormat,
		Message:  "Invalid email format",
		Category: "validation",
		Action:   "Enter a valid email address such as name@example.com.",
	}
}

// NewInvalidRequestError はリクエスト内容の検証エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Invalid request: %s", reason),
		Category: "validation",
		Action:   "Check the request fields and try again.",
	}
}

// NewOTPRateLimitedError は再送クールダウン中のエラーを生成する。
func NewOTPRateLimitedError(retryAfterSeconds int) *APIError {
	return &APIError{
		Code:       ErrCodeOTPRateLimited,
		Message:    fmt.Sprintf("Please wait %d seconds before requesting a new OTP", retryAfterSeconds),
		Category:   "auth",
		Action:     "Wait until the cooldown ends, then request a new code.",
		RetryAfter: retryAfterSeconds,
	}
}

// NewUnauthorizedError は認証失敗エラーを生成する。
// OTP検証の失敗理由は区別せず、常に同一の内容を返す。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Invalid or expired OTP",
		Category: "auth",
		Action:   "Request a new code and sign in again.",
	}
}

// NewInvalidTokenError はBearerトークンが無効な場合のエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Invalid or expired token",
		Category: "auth",
		Action:   "Sign in again to obtain a new token.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "account",
		Action:   "Sign in again.",
	}
}

// NewRegistrationAlreadyCompletedError は登録完了済みアカウントへの再登録エラーを生成する。
func NewRegistrationAlreadyCompletedError() *APIError {
	return &APIError{
		Code:     ErrCodeRegistrationAlreadyCompleted,
		Message:  "Registration already completed",
		Category: "account",
		Action:   "Update your profile from the profile settings instead.",
	}
}

// NewOTPDeliveryFailedError はOTPメール送信失敗エラーを生成する。
func NewOTPDeliveryFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPDeliveryFailed,
		Message:  "Failed to send OTP email",
		Category: "system",
		Action:   "Wait a moment and request a new code.",
	}
}

// NewSocialLoginFailedError はソーシャルログインの本人確認に失敗した場合のエラーを生成する。
func NewSocialLoginFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Social login failed",
		Category: "auth",
		Action:   "Sign in with a verified account or use an email code instead.",
	}
}
