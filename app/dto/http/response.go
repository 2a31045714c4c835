package http

import (
	"time"

	"github.com/abasto-labs/marketplace-auth/app/entity"
)

// UserResponse is the public account projection attached to register, login
// and federated-login responses.
type UserResponse struct {
	ID              uint64     `json:"id"`
	Name            string     `json:"name,omitempty"`
	Email           string     `json:"email"`
	Role            string     `json:"role"`
	EmailVerified   bool       `json:"email_verified"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
}

func NewUserResponse(user *entity.User) UserResponse {
	resp := UserResponse{
		ID:            user.ID,
		Email:         user.Email,
		Role:          user.Role,
		EmailVerified: user.EmailVerified,
	}
	if user.Name.Valid {
		resp.Name = user.Name.String
	}
	if user.EmailVerifiedAt.Valid {
		t := user.EmailVerifiedAt.Time
		resp.EmailVerifiedAt = &t
	}
	return resp
}

type AuthResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
	User         UserResponse `json:"user"`
}

type RefreshTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
