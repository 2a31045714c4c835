package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/abasto-labs/marketplace-auth/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrExpiredCredential = errors.New("expired credential")
)

// AccessClaims is the fixed claim schema of access tokens.
type AccessClaims struct {
	UserID uint64 `json:"uid"`
	jwt.RegisteredClaims
}

// RefreshClaims is the fixed claim schema of refresh tokens. The jti is
// carried in RegisteredClaims.ID and correlates to a refresh_sessions row.
type RefreshClaims struct {
	UserID uint64 `json:"uid"`
	jwt.RegisteredClaims
}

type Pair struct {
	AccessToken  string
	RefreshToken string
	JTI          string
}

// Signer mints and verifies the signed bearer tokens. Access and refresh
// tokens use separate secrets and TTLs and never share material, so each
// can be verified independently.
type Signer struct {
	cfg config.JWTConfig
}

func NewSigner(cfg config.JWTConfig) *Signer {
	return &Signer{cfg: cfg}
}

func (s *Signer) IssueAccess(userID uint64) (string, error) {
	now := time.Now()
	claims := &AccessClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.AccessSecret))
}

func (s *Signer) IssueRefresh(userID uint64) (string, string, error) {
	jti := uuid.New().String()
	now := time.Now()
	claims := &RefreshClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.RefreshTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.RefreshSecret))
	if err != nil {
		return "", "", err
	}

	return signed, jti, nil
}

func (s *Signer) IssuePair(userID uint64) (*Pair, error) {
	accessToken, err := s.IssueAccess(userID)
	if err != nil {
		return nil, err
	}

	refreshToken, jti, err := s.IssueRefresh(userID)
	if err != nil {
		return nil, err
	}

	return &Pair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		JTI:          jti,
	}, nil
}

func (s *Signer) VerifyAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := s.verify(tokenString, claims, s.cfg.AccessSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *Signer) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := s.verify(tokenString, claims, s.cfg.RefreshSecret); err != nil {
		return nil, err
	}
	if claims.ID == "" {
		return nil, ErrInvalidCredential
	}
	return claims, nil
}

func (s *Signer) verify(tokenString string, claims jwt.Claims, secret string) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredCredential
		}
		return ErrInvalidCredential
	}
	if !token.Valid {
		return ErrInvalidCredential
	}

	return nil
}
