package handler

import (
	"context"

	"github.com/winnersop/winnersop-api/internal/model"
	"github.com/winnersop/winnersop-api/internal/user"
)

// UserServiceAdapter は user.Resolver を UserServiceInterface に適合させるアダプタ。
type UserServiceAdapter struct {
	resolver *user.Resolver
}

// NewUserServiceAdapter はUserServiceAdapterを生成する。
func NewUserServiceAdapter(resolver *user.Resolver) *UserServiceAdapter {
	return &UserServiceAdapter{resolver: resolver}
}

// CompleteRegistration は登録を完了し、handlerレスポンス型で返す。
func (a *UserServiceAdapter) CompleteRegistration(ctx context.Context, userID string, input user.RegistrationInput) (*profileResponse, error) {
	account, err := a.resolver.CompleteRegistration(ctx, userID, input)
	if err != nil {
		return nil, err
	}
	resp := toProfileResponse(account)
	return &resp, nil
}

// GetProfile はプロフィールをhandlerレスポンス型で返す。
func (a *UserServiceAdapter) GetProfile(ctx context.Context, userID string) (*profileResponse, error) {
	account, err := a.resolver.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp := toProfileResponse(account)
	return &resp, nil
}

func toProfileResponse(a *model.Account) profileResponse {
	return profileResponse{
		ID:                 a.ID,
		Email:              a.Email,
		FirstName:          a.FirstName,
		LastName:           a.LastName,
		Country:            a.Country,
		AcademicLevel:      string(a.AcademicLevel),
		TargetProgram:      a.TargetProgram,
		TargetUniversity:   a.TargetUniversity,
		AuthProvider:       a.AuthProvider,
		Plan:               a.Plan,
		SubscriptionStatus: a.SubscriptionStatus,
		Quota:              a.Quota,
		UsedQuota:          a.UsedQuota,
		CreatedAt:          a.CreatedAt,
		IsVerified:         a.IsVerified,
	}
}
