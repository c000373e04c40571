// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// 登録完了前のアカウントが保持するプレースホルダー値。
const (
	PlaceholderName             = "User"
	PlaceholderCountry          = "Unknown"
	PlaceholderTargetProgram    = "General"
	PlaceholderTargetUniversity = "Unknown"
)

// usersテーブルのカラム長（文字数）。
const (
	MaxNameLength     = 100 // first_name, last_name, country
	MaxTargetLength   = 200 // target_program, target_university
	MaxProviderLength = 50  // auth_provider
)

// プラン・契約状態の初期値。
const (
	DefaultPlan               = "FREE"
	DefaultSubscriptionStatus = "INACTIVE"
)

// AcademicLevel は志望する学位レベルを表す。
type AcademicLevel string

const (
	AcademicLevelHighSchool AcademicLevel = "HIGH_SCHOOL"
	AcademicLevelBachelors  AcademicLevel = "BACHELORS"
	AcademicLevelMasters    AcademicLevel = "MASTERS"
	AcademicLevelPhD        AcademicLevel = "PHD"
	AcademicLevelOther      AcademicLevel = "OTHER"
)

// ParseAcademicLevel は大文字小文字を区別せずにAcademicLevelを解析する。
func ParseAcademicLevel(s string) (AcademicLevel, bool) {
	level := AcademicLevel(strings.ToUpper(strings.TrimSpace(s)))
	switch level {
	case AcademicLevelHighSchool, AcademicLevelBachelors, AcademicLevelMasters,
		AcademicLevelPhD, AcademicLevelOther:
		return level, true
	}
	return "", false
}

// Account はサービス利用者のアカウントを表す。
// メールアドレスは小文字化・トリム済みの値で保持する。
type Account struct {
	ID                 string
	Email              string
	FirstName          string
	LastName           string
	Country            string
	AcademicLevel      AcademicLevel
	TargetProgram      string
	TargetUniversity   string
	IsVerified         bool
	IsActive           bool
	AuthProvider       string
	Plan               string
	SubscriptionStatus string
	Quota              int
	UsedQuota          int
	LastLogin          *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsNewUser は登録が未完了（名前がプレースホルダーのまま）かどうかを返す。
func (a *Account) IsNewUser() bool {
	return a.FirstName == "" || a.FirstName == PlaceholderName
}

// RegistrationComplete は登録完了済みかどうかを返す。
func (a *Account) RegistrationComplete() bool {
	return !a.IsNewUser()
}

// NewPlaceholderAccount はプレースホルダー値で埋めた未登録アカウントを生成する。
func NewPlaceholderAccount(id, email string, now time.Time) *Account {
	return &Account{
		ID:                 id,
		Email:              email,
		FirstName:          PlaceholderName,
		LastName:           PlaceholderName,
		Country:            PlaceholderCountry,
		AcademicLevel:      AcademicLevelBachelors,
		TargetProgram:      PlaceholderTargetProgram,
		TargetUniversity:   PlaceholderTargetUniversity,
		IsActive:           true,
		Plan:               DefaultPlan,
		SubscriptionStatus: DefaultSubscriptionStatus,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// RegistrationFields は登録完了時に設定するプロフィール項目。
// TargetProgramとTargetUniversityはnilの場合は既存値を維持する。
type RegistrationFields struct {
	FirstName        string
	LastName         string
	Country          string
	AcademicLevel    AcademicLevel
	TargetProgram    *string
	TargetUniversity *string
}
