package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/winnersop/winnersop-api/internal/middleware"
	"github.com/winnersop/winnersop-api/internal/model"
	"github.com/winnersop/winnersop-api/internal/user"
)

const messageRegistrationCompleted = "Registration completed successfully"

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// CompleteRegistration は登録未完了のアカウントにプロフィールを設定する。
	CompleteRegistration(ctx context.Context, userID string, input user.RegistrationInput) (*profileResponse, error)
	GetProfile(ctx context.Context, userID string) (*profileResponse, error)
}

// profileResponse はプロフィールのレスポンス。
type profileResponse struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	FirstName          string    `json:"firstName"`
	LastName           string    `json:"lastName"`
	Country            string    `json:"country"`
	AcademicLevel      string    `json:"academicLevel"`
	TargetProgram      string    `json:"targetProgram"`
	TargetUniversity   string    `json:"targetUniversity"`
	AuthProvider       string    `json:"authProvider"`
	Plan               string    `json:"plan"`
	SubscriptionStatus string    `json:"subscriptionStatus"`
	Quota              int       `json:"quota"`
	UsedQuota          int       `json:"usedQuota"`
	CreatedAt          time.Time `json:"createdAt"`
	IsVerified         bool      `json:"isVerified"`
}

type completeRegistrationRequest struct {
	FirstName        string  `json:"firstName"`
	LastName         string  `json:"lastName"`
	Country          string  `json:"country"`
	AcademicLevel    string  `json:"academicLevel"`
	TargetProgram    *string `json:"targetProgram"`
	TargetUniversity *string `json:"targetUniversity"`
}

type completeRegistrationResponse struct {
	Message string           `json:"message"`
	User    *profileResponse `json:"user"`
}

// UserHandler はアカウントのプロフィール関連のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// CompleteRegistration は新規アカウントの登録を完了する。
// POST /auth/complete-registration
func (h *UserHandler) CompleteRegistration(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidTokenError())
		return
	}

	var req completeRegistrationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	profile, err := h.service.CompleteRegistration(r.Context(), userID, user.RegistrationInput{
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Country:          req.Country,
		AcademicLevel:    req.AcademicLevel,
		TargetProgram:    req.TargetProgram,
		TargetUniversity: req.TargetUniversity,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, completeRegistrationResponse{
		Message: messageRegistrationCompleted,
		User:    profile,
	})
}

// Profile はログイン中のアカウントのプロフィールを返す。
// GET /auth/profile
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidTokenError())
		return
	}

	profile, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}
