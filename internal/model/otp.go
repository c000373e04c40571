package model

import "time"

// OTP はメール送信したワンタイムパスコードの発行記録を表す。
// アカウントごとに未使用かつ有効期限内のレコードは高々1件。
type OTP struct {
	ID        string
	UserID    string
	Email     string
	Code      string
	Attempts  int
	IsUsed    bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired は指定時刻の時点で有効期限を過ぎているかを返す。
func (o *OTP) IsExpired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}
