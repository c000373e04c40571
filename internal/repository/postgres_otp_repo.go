package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/winnersop/winnersop-api/internal/model"
)

// ErrAccountNotFound はOTP発行対象のアカウント行が存在しない場合に返す。
var ErrAccountNotFound = errors.New("account not found")

// PostgresOTPRepo はPostgreSQLを使用したOTPリポジトリ。
type PostgresOTPRepo struct {
	db *sql.DB
}

// NewPostgresOTPRepo はPostgresOTPRepoを生成する。
func NewPostgresOTPRepo(db *sql.DB) *PostgresOTPRepo {
	return &PostgresOTPRepo{db: db}
}

// Issue はクールダウン判定・既存OTPの無効化・新規OTPの保存を1トランザクションで行う。
// usersの行をFOR UPDATEでロックするため、同一アカウントへの並行発行は直列化される。
func (r *PostgresOTPRepo) Issue(ctx context.Context, otp *model.OTP, cooldownSince time.Time) (*IssueResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. アカウント行をロック
	var lockedID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM users WHERE id = $1 FOR UPDATE`,
		otp.UserID,
	).Scan(&lockedID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to lock account %s: %w", otp.UserID, ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}

	// 2. クールダウン判定
	var latest time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT created_at FROM otps
		 WHERE user_id = $1 AND created_at >= $2
		 ORDER BY created_at DESC
		 LIMIT 1`,
		otp.UserID, cooldownSince,
	).Scan(&latest)
	if err == nil {
		return &IssueResult{Issued: false, LatestCreatedAt: latest}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check otp cooldown: %w", err)
	}

	// 3. 未使用OTPを全て無効化
	result, err := tx.ExecContext(ctx,
		`UPDATE otps SET is_used = true WHERE user_id = $1 AND is_used = false`,
		otp.UserID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to invalidate otps: %w", err)
	}
	invalidated, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	// 4. 新規OTPを保存
	_, err = tx.ExecContext(ctx,
		`INSERT INTO otps (id, user_id, email, code, attempts, is_used, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		otp.ID, otp.UserID, otp.Email, otp.Code, otp.Attempts, otp.IsUsed, otp.ExpiresAt, otp.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert otp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &IssueResult{Issued: true, Invalidated: invalidated}, nil
}

// FindLatestUnused はアカウントの最新の未使用OTPを取得する。見つからない場合はnilを返す。
func (r *PostgresOTPRepo) FindLatestUnused(ctx context.Context, userID string) (*model.OTP, error) {
	otp := &model.OTP{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, email, code, attempts, is_used, expires_at, created_at
		 FROM otps
		 WHERE user_id = $1 AND is_used = false
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID,
	).Scan(&otp.ID, &otp.UserID, &otp.Email, &otp.Code, &otp.Attempts, &otp.IsUsed, &otp.ExpiresAt, &otp.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest unused otp: %w", err)
	}

	return otp, nil
}

// MarkUsed は未使用のOTPのみを使用済みにする。
// 並行する検証のうち1つだけがtrueを得る。
func (r *PostgresOTPRepo) MarkUsed(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE otps SET is_used = true WHERE id = $1 AND is_used = false`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark otp used: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// ConsumeAttempt は試行回数の予約を条件付きUPDATE1文で行う。
// 並行する検証があってもmaxAttempts回を超えて予約されることはない。
func (r *PostgresOTPRepo) ConsumeAttempt(ctx context.Context, id string, maxAttempts int) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE otps SET attempts = attempts + 1 WHERE id = $1 AND is_used = false AND attempts < $2`,
		id, maxAttempts,
	)
	if err != nil {
		return false, fmt.Errorf("failed to consume otp attempt: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// DeleteStale は期限切れのOTPと保持期間を過ぎた使用済みOTPを削除する。
// 条件ベースのDELETEのみのため冪等に実行できる。
func (r *PostgresOTPRepo) DeleteStale(ctx context.Context, now, usedBefore time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM otps WHERE expires_at < $1 OR (is_used = true AND created_at < $2)`,
		now, usedBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale otps: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ OTPRepository = (*PostgresOTPRepo)(nil)
