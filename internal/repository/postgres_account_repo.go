package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/winnersop/winnersop-api/internal/model"
)

// accountColumns はusersテーブルから読み出すカラム。scanAccountと順序を揃えること。
const accountColumns = `id, email, first_name, last_name, country, academic_level,
	target_program, target_university, is_verified, is_active, auth_provider,
	plan, subscription_status, quota, used_quota, last_login, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	a := &model.Account{}
	var academicLevel string
	var lastLogin sql.NullTime
	err := row.Scan(
		&a.ID, &a.Email, &a.FirstName, &a.LastName, &a.Country, &academicLevel,
		&a.TargetProgram, &a.TargetUniversity, &a.IsVerified, &a.IsActive, &a.AuthProvider,
		&a.Plan, &a.SubscriptionStatus, &a.Quota, &a.UsedQuota, &lastLogin, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.AcademicLevel = model.AcademicLevel(academicLevel)
	if lastLogin.Valid {
		t := lastLogin.Time
		a.LastLogin = &t
	}
	return a, nil
}

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM users WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by ID: %w", err)
	}
	return a, nil
}

// FindByEmail は正規化済みメールアドレスでアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM users WHERE email = $1`,
		email,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}
	return a, nil
}

// CreateIfAbsent はメールアドレスが未登録の場合のみアカウントを作成する。
// ON CONFLICT DO NOTHINGで競合した場合は既存行を読み直して返す。
func (r *PostgresAccountRepo) CreateIfAbsent(ctx context.Context, account *model.Account) (*model.Account, bool, error) {
	var lastLogin sql.NullTime
	if account.LastLogin != nil {
		lastLogin = sql.NullTime{Time: *account.LastLogin, Valid: true}
	}

	created, err := scanAccount(r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, email, first_name, last_name, country, academic_level,
			target_program, target_university, is_verified, is_active, auth_provider,
			plan, subscription_status, quota, used_quota, last_login, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 ON CONFLICT (email) DO NOTHING
		 RETURNING `+accountColumns,
		account.ID, account.Email, account.FirstName, account.LastName, account.Country,
		string(account.AcademicLevel), account.TargetProgram, account.TargetUniversity,
		account.IsVerified, account.IsActive, account.AuthProvider,
		account.Plan, account.SubscriptionStatus, account.Quota, account.UsedQuota,
		lastLogin, account.CreatedAt, account.UpdatedAt,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert account: %w", err)
	}

	existing, err := r.FindByEmail(ctx, account.Email)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("account %s vanished after insert conflict", account.Email)
	}
	return existing, false, nil
}

// MarkVerified はアカウントを検証済みにし、最終ログイン日時を更新する。
func (r *PostgresAccountRepo) MarkVerified(ctx context.Context, id string, loginAt time.Time) (*model.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`UPDATE users SET is_verified = true, last_login = $2, updated_at = $2
		 WHERE id = $1
		 RETURNING `+accountColumns,
		id, loginAt,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark account verified: %w", err)
	}
	return a, nil
}

// RecordSocialLogin はソーシャルログインの結果を既存アカウントに反映する。
func (r *PostgresAccountRepo) RecordSocialLogin(ctx context.Context, id, provider string, loginAt time.Time) (*model.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`UPDATE users SET is_verified = true, last_login = $3, updated_at = $3,
			auth_provider = COALESCE(NULLIF($2, ''), auth_provider)
		 WHERE id = $1
		 RETURNING `+accountColumns,
		id, provider, loginAt,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record social login: %w", err)
	}
	return a, nil
}

// CompleteRegistration は登録未完了のアカウントにのみプロフィール項目を反映する。
// first_nameがプレースホルダーの行だけを条件付きで更新するため、二重登録は起こらない。
func (r *PostgresAccountRepo) CompleteRegistration(ctx context.Context, id string, fields model.RegistrationFields, now time.Time) (*model.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`UPDATE users SET first_name = $2, last_name = $3, country = $4, academic_level = $5,
			target_program = COALESCE($6, target_program),
			target_university = COALESCE($7, target_university),
			updated_at = $8
		 WHERE id = $1 AND (first_name = $9 OR first_name = '')
		 RETURNING `+accountColumns,
		id, fields.FirstName, fields.LastName, fields.Country, string(fields.AcademicLevel),
		nullString(fields.TargetProgram), nullString(fields.TargetUniversity), now,
		model.PlaceholderName,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to complete registration: %w", err)
	}
	return a, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
