package user

import (
	"errors"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

// ErrInvalidEmail はメールアドレスの形式が不正な場合に返す。
var ErrInvalidEmail = errors.New("invalid email format")

const maxEmailLength = 320

var emailPattern = regexp.MustCompile(
	"^[a-zA-Z0-9.!#$%&'*+/=?^_`{|}~-]+@" +
		`[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`,
)

// NormalizeEmail はメールアドレスをトリム・小文字化し、ドメイン部をPunycodeに変換して検証する。
// 返り値はアカウントの一意キーとして保存する値。
func NormalizeEmail(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" || len(s) > maxEmailLength {
		return "", ErrInvalidEmail
	}

	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 {
		return "", ErrInvalidEmail
	}

	domain, err := idna.Lookup.ToASCII(s[at+1:])
	if err != nil {
		return "", ErrInvalidEmail
	}

	normalized := strings.ToLower(s[:at] + "@" + domain)
	if !emailPattern.MatchString(normalized) {
		return "", ErrInvalidEmail
	}
	return normalized, nil
}
