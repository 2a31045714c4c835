package dto

import "github.com/abasto-labs/marketplace-auth/app/entity"

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

type AuthResult struct {
	User   *entity.User
	Tokens TokenPair
}
