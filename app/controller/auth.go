package controller

import (
	"errors"
	"net/http"

	dto "github.com/abasto-labs/marketplace-auth/app/dto/http"
	"github.com/abasto-labs/marketplace-auth/app/repository"
	"github.com/abasto-labs/marketplace-auth/app/service"
	"github.com/abasto-labs/marketplace-auth/app/token"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

type AuthController struct {
	authService *service.AuthService
}

func NewAuthController(authService *service.AuthService) *AuthController {
	return &AuthController{authService: authService}
}

func (c *AuthController) Register(ctx echo.Context) error {
	var req dto.RegisterRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
	}

	if err := req.Validate(); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	}

	logrus.WithField("email", req.Email).Info("Register request received")
	result, err := c.authService.Register(ctx.Request().Context(), req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		if errors.Is(err, service.ErrDuplicateAccount) {
			logrus.WithField("email", req.Email).Warn("Register failed: account already exists")
			return ctx.JSON(http.StatusConflict, dto.ErrorResponse{Error: "account already exists"})
		}
		if errors.Is(err, service.ErrWeakPassword) || errors.Is(err, service.ErrInvalidRole) {
			return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		}
		return c.internalError(ctx, err, "Register failed")
	}

	logrus.WithFields(logrus.Fields{
		"user_id": result.User.ID,
		"email":   result.User.Email,
	}).Info("User registered")

	return ctx.JSON(http.StatusCreated, dto.AuthResponse{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		ExpiresIn:    result.Tokens.ExpiresIn,
		User:         dto.NewUserResponse(result.User),
	})
}

func (c *AuthController) Login(ctx echo.Context) error {
	var req dto.LoginRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
	}

	if err := req.Validate(); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	}

	result, err := c.authService.Login(ctx.Request().Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			logrus.WithField("email", req.Email).Warn("Login failed: invalid credentials")
			return ctx.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "invalid credentials"})
		}
		if errors.Is(err, service.ErrEmailNotVerified) {
			logrus.WithField("email", req.Email).Warn("Login failed: email not verified")
			return ctx.JSON(http.StatusForbidden, dto.ErrorResponse{Error: "email not verified"})
		}
		return c.internalError(ctx, err, "Login failed")
	}

	logrus.WithField("email", req.Email).Info("Login successful")
	return ctx.JSON(http.StatusOK, dto.AuthResponse{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		ExpiresIn:    result.Tokens.ExpiresIn,
		User:         dto.NewUserResponse(result.User),
	})
}

func (c *AuthController) GoogleLogin(ctx echo.Context) error {
	var req dto.GoogleLoginRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
	}

	if err := req.Validate(); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	}

	result, err := c.authService.LoginWithGoogle(ctx.Request().Context(), req.IDToken)
	if err != nil {
		if errors.Is(err, service.ErrInvalidAssertion) {
			logrus.Warn("Google login failed: invalid assertion")
			return ctx.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "invalid identity assertion"})
		}
		return c.internalError(ctx, err, "Google login failed")
	}

	logrus.WithField("user_id", result.User.ID).Info("Google login successful")
	return ctx.JSON(http.StatusOK, dto.AuthResponse{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		ExpiresIn:    result.Tokens.ExpiresIn,
		User:         dto.NewUserResponse(result.User),
	})
}

func (c *AuthController) RefreshToken(ctx echo.Context) error {
	var req dto.RefreshTokenRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
	}

	// Clients may send the token in the body or in the X-Refresh-Token header.
	if req.RefreshToken == "" {
		req.RefreshToken = ctx.Request().Header.Get("X-Refresh-Token")
	}
	if err := req.Validate(); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	}

	result, err := c.authService.Refresh(ctx.Request().Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, token.ErrInvalidCredential) || errors.Is(err, token.ErrExpiredCredential) {
			return ctx.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "invalid or expired refresh token"})
		}
		if errors.Is(err, service.ErrSessionRevoked) {
			logrus.Warn("Refresh failed: session revoked")
			return ctx.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "session revoked"})
		}
		return c.internalError(ctx, err, "Refresh failed")
	}

	return ctx.JSON(http.StatusOK, dto.RefreshTokenResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
	})
}

func (c *AuthController) Logout(ctx echo.Context) error {
	var req dto.LogoutRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
	}

	if err := req.Validate(); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	}

	if err := c.authService.Logout(ctx.Request().Context(), req.RefreshToken); err != nil {
		if errors.Is(err, token.ErrInvalidCredential) || errors.Is(err, token.ErrExpiredCredential) {
			return ctx.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "invalid or expired refresh token"})
		}
		return c.internalError(ctx, err, "Logout failed")
	}

	return ctx.JSON(http.StatusOK, dto.MessageResponse{Message: "logged out successfully"})
}

func (c *AuthController) LogoutAll(ctx echo.Context) error {
	userID, ok := ctx.Get("user_id").(uint64)
	if !ok {
		return ctx.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "unauthorized"})
	}

	if err := c.authService.LogoutAll(ctx.Request().Context(), userID); err != nil {
		return c.internalError(ctx, err, "Logout-all failed")
	}

	logrus.WithField("user_id", userID).Info("All sessions revoked")
	return ctx.JSON(http.StatusOK, dto.MessageResponse{Message: "logged out on all devices"})
}

// VerifyEmail accepts the token either as a path parameter or as ?token=,
// the two shapes verification links have used.
func (c *AuthController) VerifyEmail(ctx echo.Context) error {
	tokenString := ctx.Param("token")
	if tokenString == "" {
		tokenString = ctx.QueryParam("token")
	}
	if tokenString == "" {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "token is required"})
	}

	if err := c.authService.VerifyEmail(ctx.Request().Context(), tokenString); err != nil {
		if errors.Is(err, service.ErrInvalidOrExpiredToken) {
			return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid or expired token"})
		}
		return c.internalError(ctx, err, "Email verification failed")
	}

	return ctx.JSON(http.StatusOK, dto.MessageResponse{Message: "email verified successfully"})
}

func (c *AuthController) ResendVerification(ctx echo.Context) error {
	var req dto.ResendVerificationRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
	}

	if err := req.Validate(); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	}

	if err := c.authService.ResendVerification(ctx.Request().Context(), req.Email); err != nil {
		return c.internalError(ctx, err, "Resend verification failed")
	}

	// Uniform response whether or not the account exists.
	return ctx.JSON(http.StatusOK, dto.MessageResponse{Message: "if the email exists, a new verification message has been sent"})
}

func (c *AuthController) ForgotPassword(ctx echo.Context) error {
	var req dto.ForgotPasswordRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
	}

	if err := req.Validate(); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	}

	if err := c.authService.ForgotPassword(ctx.Request().Context(), req.Email); err != nil {
		return c.internalError(ctx, err, "Forgot password failed")
	}

	// Uniform response whether or not the account exists.
	return ctx.JSON(http.StatusOK, dto.MessageResponse{Message: "if the email exists, reset instructions have been sent"})
}

func (c *AuthController) ResetPassword(ctx echo.Context) error {
	var req dto.ResetPasswordRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
	}

	if err := req.Validate(); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	}

	if err := c.authService.ResetPassword(ctx.Request().Context(), req.Token, req.NewPassword); err != nil {
		if errors.Is(err, service.ErrInvalidOrExpiredToken) {
			return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid or expired token"})
		}
		if errors.Is(err, service.ErrWeakPassword) {
			return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		}
		return c.internalError(ctx, err, "Reset password failed")
	}

	return ctx.JSON(http.StatusOK, dto.MessageResponse{Message: "password reset successfully"})
}

func (c *AuthController) ChangePassword(ctx echo.Context) error {
	var req dto.ChangePasswordRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
	}

	if err := req.Validate(); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	}

	userID, ok := ctx.Get("user_id").(uint64)
	if !ok {
		return ctx.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "unauthorized"})
	}

	if err := c.authService.ChangePassword(ctx.Request().Context(), userID, req.OldPassword, req.NewPassword); err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			return ctx.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "account not found"})
		}
		if errors.Is(err, service.ErrPasswordMismatch) {
			return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "old password is incorrect"})
		}
		if errors.Is(err, service.ErrWeakPassword) {
			return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		}
		return c.internalError(ctx, err, "Change password failed")
	}

	return ctx.JSON(http.StatusOK, dto.MessageResponse{Message: "password changed successfully"})
}

func (c *AuthController) Me(ctx echo.Context) error {
	userID, ok := ctx.Get("user_id").(uint64)
	if !ok {
		return ctx.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "unauthorized"})
	}

	user, err := c.authService.CurrentUser(ctx.Request().Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			return ctx.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "account not found"})
		}
		return c.internalError(ctx, err, "Me failed")
	}

	return ctx.JSON(http.StatusOK, dto.NewUserResponse(user))
}

func (c *AuthController) internalError(ctx echo.Context, err error, msg string) error {
	if errors.Is(err, repository.ErrStorageUnavailable) {
		logrus.WithError(err).Error(msg + ": storage unavailable")
		return ctx.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "service temporarily unavailable"})
	}
	logrus.WithError(err).Error(msg)
	return ctx.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
}
