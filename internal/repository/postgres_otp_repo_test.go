package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/winnersop/winnersop-api/internal/model"
)

func newTestOTP() *model.OTP {
	return &model.OTP{
		ID:        "otp-2",
		UserID:    "u-1",
		Email:     "ada@example.com",
		Code:      "012345",
		ExpiresAt: testNow.Add(10 * time.Minute),
		CreatedAt: testNow,
	}
}

func TestPostgresOTPRepo_Issue_InvalidatesAndInserts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresOTPRepo(db)
	otp := newTestOTP()
	since := testNow.Add(-60 * time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM users WHERE id = \$1 FOR UPDATE`).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u-1"))
	mock.ExpectQuery(`SELECT created_at FROM otps\s+WHERE user_id = \$1 AND created_at >= \$2`).
		WithArgs("u-1", since).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}))
	mock.ExpectExec(`UPDATE otps SET is_used = true WHERE user_id = \$1 AND is_used = false`).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO otps`).
		WithArgs("otp-2", "u-1", "ada@example.com", "012345", 0, false, otp.ExpiresAt, otp.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := repo.Issue(context.Background(), otp, since)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if !res.Issued {
		t.Error("expected Issued = true")
	}
	if res.Invalidated != 1 {
		t.Errorf("Invalidated = %d, want 1", res.Invalidated)
	}
	expectationsMet(t, mock)
}

func TestPostgresOTPRepo_Issue_CooldownRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresOTPRepo(db)
	latest := testNow.Add(-20 * time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM users WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u-1"))
	mock.ExpectQuery(`SELECT created_at FROM otps`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(latest))
	mock.ExpectRollback()

	res, err := repo.Issue(context.Background(), newTestOTP(), testNow.Add(-60*time.Second))
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if res.Issued {
		t.Error("expected Issued = false during cooldown")
	}
	if !res.LatestCreatedAt.Equal(latest) {
		t.Errorf("LatestCreatedAt = %v, want %v", res.LatestCreatedAt, latest)
	}
	expectationsMet(t, mock)
}

func TestPostgresOTPRepo_Issue_MissingAccount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresOTPRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM users WHERE id = \$1 FOR UPDATE`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Issue(context.Background(), newTestOTP(), testNow)
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("want ErrAccountNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestPostgresOTPRepo_Issue_InsertFailureRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresOTPRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u-1"))
	mock.ExpectQuery(`SELECT created_at FROM otps`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}))
	mock.ExpectExec(`UPDATE otps SET is_used = true`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO otps`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if _, err := repo.Issue(context.Background(), newTestOTP(), testNow); err == nil {
		t.Fatal("expected error")
	}
	expectationsMet(t, mock)
}

func TestPostgresOTPRepo_FindLatestUnused(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresOTPRepo(db)

	mock.ExpectQuery(`SELECT .+ FROM otps\s+WHERE user_id = \$1 AND is_used = false\s+ORDER BY created_at DESC`).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "email", "code", "attempts", "is_used", "expires_at", "created_at"}).
			AddRow("otp-1", "u-1", "ada@example.com", "654321", 2, false, testNow.Add(time.Minute), testNow))

	got, err := repo.FindLatestUnused(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("FindLatestUnused error: %v", err)
	}
	if got.ID != "otp-1" || got.Attempts != 2 || got.Code != "654321" {
		t.Errorf("unexpected otp: %+v", got)
	}
}

func TestPostgresOTPRepo_FindLatestUnused_NoneReturnsNil(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresOTPRepo(db)

	mock.ExpectQuery(`FROM otps`).WillReturnError(sql.ErrNoRows)

	got, err := repo.FindLatestUnused(context.Background(), "u-1")
	if err != nil || got != nil {
		t.Fatalf("FindLatestUnused = (%+v, %v), want (nil, nil)", got, err)
	}
}

func TestPostgresOTPRepo_MarkUsed(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"still unused", 1, true},
		{"already consumed", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewPostgresOTPRepo(db)

			mock.ExpectExec(`UPDATE otps SET is_used = true WHERE id = \$1 AND is_used = false`).
				WithArgs("otp-1").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			got, err := repo.MarkUsed(context.Background(), "otp-1")
			if err != nil {
				t.Fatalf("MarkUsed error: %v", err)
			}
			if got != tt.want {
				t.Errorf("MarkUsed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPostgresOTPRepo_ConsumeAttempt(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"reserved", 1, true},
		{"exhausted or used", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewPostgresOTPRepo(db)

			mock.ExpectExec(`UPDATE otps SET attempts = attempts \+ 1 WHERE id = \$1 AND is_used = false AND attempts < \$2`).
				WithArgs("otp-1", 5).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			got, err := repo.ConsumeAttempt(context.Background(), "otp-1", 5)
			if err != nil {
				t.Fatalf("ConsumeAttempt error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ConsumeAttempt = %v, want %v", got, tt.want)
			}
			expectationsMet(t, mock)
		})
	}
}

func TestPostgresOTPRepo_DeleteStale(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresOTPRepo(db)
	usedBefore := testNow.Add(-24 * time.Hour)

	mock.ExpectExec(`DELETE FROM otps WHERE expires_at < \$1 OR \(is_used = true AND created_at < \$2\)`).
		WithArgs(testNow, usedBefore).
		WillReturnResult(sqlmock.NewResult(0, 5))

	n, err := repo.DeleteStale(context.Background(), testNow, usedBefore)
	if err != nil {
		t.Fatalf("DeleteStale error: %v", err)
	}
	if n != 5 {
		t.Errorf("deleted = %d, want 5", n)
	}
	expectationsMet(t, mock)
}
