package auth

import "github.com/winnersop/winnersop-api/internal/model"

// VerificationReason はOTP検証失敗の内部理由。ログとメトリクスにのみ使う。
type VerificationReason string

const (
	ReasonNoAccount         VerificationReason = "no_account"
	ReasonNoActiveOTP       VerificationReason = "no_active_otp"
	ReasonAttemptsExhausted VerificationReason = "attempts_exhausted"
	ReasonExpired           VerificationReason = "expired"
	ReasonWrongCode         VerificationReason = "wrong_code"
)

// VerificationError はOTP検証の失敗を表す。
// 外部には理由を区別しない認証エラーとして見える。
type VerificationError struct {
	Reason VerificationReason
}

func (e *VerificationError) Error() string {
	return "otp verification failed: " + string(e.Reason)
}

// Unwrap は理由によらず同一の認証エラーを返す。
func (e *VerificationError) Unwrap() error {
	return model.NewUnauthorizedError()
}
