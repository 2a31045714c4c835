package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/abasto-labs/marketplace-auth/app/dto"
	"github.com/abasto-labs/marketplace-auth/app/entity"
	"github.com/abasto-labs/marketplace-auth/app/identity"
	"github.com/abasto-labs/marketplace-auth/app/repository"
	"github.com/abasto-labs/marketplace-auth/app/token"
	"github.com/abasto-labs/marketplace-auth/config"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrDuplicateAccount      = errors.New("account already exists")
	ErrAccountNotFound       = errors.New("account not found")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrEmailNotVerified      = errors.New("email not verified")
	ErrSessionRevoked        = errors.New("session revoked")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrInvalidAssertion      = errors.New("invalid identity assertion")
	ErrInvalidRole           = errors.New("invalid role")
	ErrPasswordMismatch      = errors.New("old password is incorrect")
	ErrWeakPassword          = errors.New("password does not meet policy requirements")
)

type userRepository interface {
	Create(ctx context.Context, user *entity.User) error
	FindByCanonicalEmail(ctx context.Context, canonicalEmail string) (*entity.User, error)
	FindByID(ctx context.Context, id uint64) (*entity.User, error)
	UpdatePassword(ctx context.Context, userID uint64, passwordHash string, now time.Time) error
	MarkEmailVerified(ctx context.Context, userID uint64, now time.Time) error
	UpdateLastLogin(ctx context.Context, userID uint64, lastLogin time.Time) error
}

type refreshSessionRepository interface {
	Save(ctx context.Context, userID uint64, jti string, now time.Time) error
	IsActive(ctx context.Context, jti string) (bool, error)
	Rotate(ctx context.Context, jti string, now time.Time) (int64, error)
	RevokeAllForUser(ctx context.Context, userID uint64, now time.Time) error
	PurgeRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type actionTokenRepository interface {
	Create(ctx context.Context, token *entity.ActionToken) error
	FindByToken(ctx context.Context, kind, tokenString string) (*entity.ActionToken, error)
	Consume(ctx context.Context, id uint64, now time.Time) (int64, error)
	InvalidatePendingForUser(ctx context.Context, userID uint64, kind string, now time.Time) error
}

// Mailer delivers verification and reset tokens out-of-band. Delivery is
// fire-and-forget: a failed send never rolls back token creation.
type Mailer interface {
	SendVerification(email, tokenString string) error
	SendPasswordReset(email, tokenString string) error
}

type AsyncRunner func(task func())

type AuthServiceOption func(*AuthService)

// AuthService coordinates the signer and the stores for the register, login,
// refresh, logout, verification and reset flows. All collaborators are
// injected; the composition root owns their lifecycle.
type AuthService struct {
	db          *sql.DB
	userRepo    userRepository
	sessionRepo refreshSessionRepository
	actionRepo  actionTokenRepository
	signer      *token.Signer
	verifier    identity.Verifier
	mailer      Mailer
	cfg         *config.Config
	asyncRunner AsyncRunner
}

func NewAuthService(
	db *sql.DB,
	userRepo userRepository,
	sessionRepo refreshSessionRepository,
	actionRepo actionTokenRepository,
	signer *token.Signer,
	verifier identity.Verifier,
	mailer Mailer,
	cfg *config.Config,
	opts ...AuthServiceOption,
) *AuthService {
	svc := &AuthService{
		db:          db,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		actionRepo:  actionRepo,
		signer:      signer,
		verifier:    verifier,
		mailer:      mailer,
		cfg:         cfg,
		asyncRunner: func(task func()) {
			go task()
		},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func WithAsyncRunner(runner AsyncRunner) AuthServiceOption {
	return func(s *AuthService) {
		if runner != nil {
			s.asyncRunner = runner
		}
	}
}

func (s *AuthService) Register(ctx context.Context, name, email, password, role string) (*dto.AuthResult, error) {
	switch role {
	case "":
		role = entity.RoleCustomer
	case entity.RoleCustomer, entity.RoleSeller, entity.RoleProvider:
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}

	canonicalEmail := CanonicalizeEmail(email)

	existing, err := s.userRepo.FindByCanonicalEmail(ctx, canonicalEmail)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDuplicateAccount
	}

	if err = s.cfg.Password.Policy.Validate(password); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWeakPassword, err.Error())
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &entity.User{
		Name:           sql.NullString{String: name, Valid: name != ""},
		Email:          email,
		CanonicalEmail: canonicalEmail,
		PasswordHash:   sql.NullString{String: string(hashedPassword), Valid: true},
		Role:           role,
		EmailVerified:  false,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	verifyToken, err := newActionTokenString()
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err = repository.NewUserRepository(tx).Create(ctx, user); err != nil {
		return nil, err
	}

	actionToken := &entity.ActionToken{
		UserID:    user.ID,
		Kind:      entity.ActionKindEmailVerify,
		Token:     verifyToken,
		ExpiresAt: now.Add(s.cfg.Tokens.ActionTTL),
		CreatedAt: now,
	}
	if err = repository.NewActionTokenRepository(tx).Create(ctx, actionToken); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	s.deliverAsync(user.Email, verifyToken, s.mailer.SendVerification)

	pair, err := s.issueSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return &dto.AuthResult{User: user, Tokens: *pair}, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*dto.AuthResult, error) {
	canonicalEmail := CanonicalizeEmail(email)
	user, err := s.userRepo.FindByCanonicalEmail(ctx, canonicalEmail)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.PasswordHash.Valid {
		return nil, ErrInvalidCredentials
	}

	if err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash.String), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if !user.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	s.asyncRunner(func() {
		updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if updateErr := s.userRepo.UpdateLastLogin(updateCtx, user.ID, time.Now()); updateErr != nil {
			logrus.WithError(updateErr).WithField("user_id", user.ID).Error("failed to update last_login")
		}
	})

	pair, err := s.issueSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return &dto.AuthResult{User: user, Tokens: *pair}, nil
}

// Refresh rotates the presented refresh token and issues a fresh pair. The
// rotate-then-save runs in one transaction so a concurrent refresh with the
// same jti either wins the conditional update or fails with ErrSessionRevoked.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*dto.TokenPair, error) {
	claims, err := s.signer.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	txSessionRepo := repository.NewRefreshSessionRepository(tx)

	active, err := txSessionRepo.IsActive(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrSessionRevoked
	}

	user, err := repository.NewUserRepository(tx).FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrSessionRevoked
	}

	now := time.Now()
	rotated, err := txSessionRepo.Rotate(ctx, claims.ID, now)
	if err != nil {
		return nil, err
	}
	if rotated == 0 {
		// Lost the race against a concurrent refresh of the same token.
		return nil, ErrSessionRevoked
	}

	pair, err := s.signer.IssuePair(user.ID)
	if err != nil {
		return nil, err
	}

	if err = txSessionRepo.Save(ctx, user.ID, pair.JTI, now); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return &dto.TokenPair{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int64(s.cfg.JWT.AccessTokenTTL.Seconds()),
	}, nil
}

// Logout revokes the session of the presented refresh token. Rotating a jti
// that is already gone is a silent success.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.signer.VerifyRefresh(refreshToken)
	if err != nil {
		return err
	}

	_, err = s.sessionRepo.Rotate(ctx, claims.ID, time.Now())
	return err
}

// LogoutAll invalidates every active refresh session of the account.
func (s *AuthService) LogoutAll(ctx context.Context, userID uint64) error {
	return s.sessionRepo.RevokeAllForUser(ctx, userID, time.Now())
}

// VerifyEmail consumes an email-verification token and flips the account's
// verified flag in the same transaction, so the two never diverge.
func (s *AuthService) VerifyEmail(ctx context.Context, tokenString string) error {
	now := time.Now()
	actionToken, err := s.actionRepo.FindByToken(ctx, entity.ActionKindEmailVerify, tokenString)
	if err != nil {
		return err
	}
	if actionToken == nil || !actionToken.Usable(now) {
		return ErrInvalidOrExpiredToken
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	consumed, err := repository.NewActionTokenRepository(tx).Consume(ctx, actionToken.ID, now)
	if err != nil {
		return err
	}
	if consumed == 0 {
		return ErrInvalidOrExpiredToken
	}

	if err = repository.NewUserRepository(tx).MarkEmailVerified(ctx, actionToken.UserID, now); err != nil {
		return err
	}

	return tx.Commit()
}

// ResendVerification invalidates any pending verification token and issues a
// new one. The outcome is uniform whether or not the account exists so the
// endpoint cannot be used to enumerate emails.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	canonicalEmail := CanonicalizeEmail(email)
	user, err := s.userRepo.FindByCanonicalEmail(ctx, canonicalEmail)
	if err != nil {
		return err
	}
	if user == nil || user.EmailVerified {
		return nil
	}

	return s.issueActionToken(ctx, user, entity.ActionKindEmailVerify, s.mailer.SendVerification)
}

// ForgotPassword issues a password-reset token when the account exists and
// reports success either way.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	canonicalEmail := CanonicalizeEmail(email)
	user, err := s.userRepo.FindByCanonicalEmail(ctx, canonicalEmail)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}

	return s.issueActionToken(ctx, user, entity.ActionKindPasswordReset, s.mailer.SendPasswordReset)
}

// ResetPassword consumes the reset token, updates the password hash and
// revokes every active session in one transaction.
func (s *AuthService) ResetPassword(ctx context.Context, tokenString, newPassword string) error {
	now := time.Now()
	actionToken, err := s.actionRepo.FindByToken(ctx, entity.ActionKindPasswordReset, tokenString)
	if err != nil {
		return err
	}
	if actionToken == nil || !actionToken.Usable(now) {
		return ErrInvalidOrExpiredToken
	}

	if err = s.cfg.Password.Policy.Validate(newPassword); err != nil {
		return fmt.Errorf("%w: %s", ErrWeakPassword, err.Error())
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	consumed, err := repository.NewActionTokenRepository(tx).Consume(ctx, actionToken.ID, now)
	if err != nil {
		return err
	}
	if consumed == 0 {
		return ErrInvalidOrExpiredToken
	}

	if err = repository.NewUserRepository(tx).UpdatePassword(ctx, actionToken.UserID, string(hashedPassword), now); err != nil {
		return err
	}

	if err = repository.NewRefreshSessionRepository(tx).RevokeAllForUser(ctx, actionToken.UserID, now); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *AuthService) ChangePassword(ctx context.Context, userID uint64, oldPassword, newPassword string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrAccountNotFound
	}

	if !user.PasswordHash.Valid {
		return ErrPasswordMismatch
	}
	if err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash.String), []byte(oldPassword)); err != nil {
		return ErrPasswordMismatch
	}

	if err = s.cfg.Password.Policy.Validate(newPassword); err != nil {
		return fmt.Errorf("%w: %s", ErrWeakPassword, err.Error())
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	now := time.Now()
	if err = s.userRepo.UpdatePassword(ctx, userID, string(hashedPassword), now); err != nil {
		return err
	}

	return s.sessionRepo.RevokeAllForUser(ctx, userID, now)
}

func (s *AuthService) CurrentUser(ctx context.Context, userID uint64) (*entity.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrAccountNotFound
	}
	return user, nil
}

// LoginWithGoogle verifies the identity assertion and maps it to a local
// account, creating one (verified, no local password) on first sign-in. Token
// issuance then follows the same path as password login.
func (s *AuthService) LoginWithGoogle(ctx context.Context, idToken string) (*dto.AuthResult, error) {
	assertion, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAssertion, err.Error())
	}

	canonicalEmail := CanonicalizeEmail(assertion.Email)
	user, err := s.userRepo.FindByCanonicalEmail(ctx, canonicalEmail)
	if err != nil {
		return nil, err
	}

	if user == nil {
		now := time.Now()
		user = &entity.User{
			Name:            sql.NullString{String: assertion.Name, Valid: assertion.Name != ""},
			Email:           assertion.Email,
			CanonicalEmail:  canonicalEmail,
			Role:            entity.RoleCustomer,
			EmailVerified:   true,
			EmailVerifiedAt: sql.NullTime{Time: now, Valid: true},
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err = s.userRepo.Create(ctx, user); err != nil {
			return nil, err
		}
	}

	pair, err := s.issueSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return &dto.AuthResult{User: user, Tokens: *pair}, nil
}

// PurgeRevokedSessions deletes sessions revoked longer ago than the retention
// window. Run by the sweeper and the purge command.
func (s *AuthService) PurgeRevokedSessions(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return s.sessionRepo.PurgeRevokedBefore(ctx, cutoff)
}

func (s *AuthService) ValidateAccessToken(tokenString string) (*token.AccessClaims, error) {
	return s.signer.VerifyAccess(tokenString)
}

func (s *AuthService) issueSession(ctx context.Context, userID uint64) (*dto.TokenPair, error) {
	pair, err := s.signer.IssuePair(userID)
	if err != nil {
		return nil, err
	}

	if err = s.sessionRepo.Save(ctx, userID, pair.JTI, time.Now()); err != nil {
		return nil, err
	}

	return &dto.TokenPair{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int64(s.cfg.JWT.AccessTokenTTL.Seconds()),
	}, nil
}

func (s *AuthService) issueActionToken(ctx context.Context, user *entity.User, kind string, deliver func(string, string) error) error {
	now := time.Now()
	if err := s.actionRepo.InvalidatePendingForUser(ctx, user.ID, kind, now); err != nil {
		return err
	}

	tokenString, err := newActionTokenString()
	if err != nil {
		return err
	}

	actionToken := &entity.ActionToken{
		UserID:    user.ID,
		Kind:      kind,
		Token:     tokenString,
		ExpiresAt: now.Add(s.cfg.Tokens.ActionTTL),
		CreatedAt: now,
	}
	if err = s.actionRepo.Create(ctx, actionToken); err != nil {
		return err
	}

	s.deliverAsync(user.Email, tokenString, deliver)
	return nil
}

func (s *AuthService) deliverAsync(email, tokenString string, deliver func(string, string) error) {
	s.asyncRunner(func() {
		if err := deliver(email, tokenString); err != nil {
			logrus.WithError(err).WithField("email", email).Error("failed to deliver token email")
		}
	})
}

func newActionTokenString() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
