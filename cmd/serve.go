package cmd

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"time"

	"github.com/abasto-labs/marketplace-auth/app/controller"
	"github.com/abasto-labs/marketplace-auth/app/identity"
	"github.com/abasto-labs/marketplace-auth/app/mailer"
	"github.com/abasto-labs/marketplace-auth/app/middleware"
	"github.com/abasto-labs/marketplace-auth/app/repository"
	"github.com/abasto-labs/marketplace-auth/app/service"
	"github.com/abasto-labs/marketplace-auth/app/token"
	"github.com/abasto-labs/marketplace-auth/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Start the HTTP (Echo) server for the authentication service, along with the background session retention sweeper.`,
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	authService := newAuthService(db, cfg)

	go runRetentionSweeper(authService, cfg)

	startHTTPServer(cfg, authService)
}

func newAuthService(db *sql.DB, cfg *config.Config) *service.AuthService {
	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewRefreshSessionRepository(db)
	actionRepo := repository.NewActionTokenRepository(db)
	signer := token.NewSigner(cfg.JWT)

	var verifier identity.Verifier
	if cfg.Google.ClientID != "" {
		googleVerifier, err := identity.NewGoogleVerifier(cfg.Google.ClientID)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to configure google verifier")
		}
		verifier = googleVerifier
	} else {
		logrus.Warn("GOOGLE_CLIENT_ID not set, federated sign-in disabled")
		verifier = disabledVerifier{}
	}

	var mail service.Mailer
	if cfg.Mail.SMTPConfigured() {
		mail = mailer.NewSMTPMailer(cfg.Mail)
	} else {
		logrus.Warn("SMTP not configured, delivery links will be logged")
		mail = mailer.NewLogMailer(cfg.Mail)
	}

	return service.NewAuthService(db, userRepo, sessionRepo, actionRepo, signer, verifier, mail, cfg)
}

func startHTTPServer(cfg *config.Config, authService *service.AuthService) {
	e := echo.New()
	defer e.Close()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	authController := controller.NewAuthController(authService)
	authMiddleware := middleware.NewAuthMiddleware(authService)

	auth := e.Group("/auth")
	auth.POST("/register", authController.Register)
	auth.POST("/login", authController.Login)
	auth.POST("/google", authController.GoogleLogin)
	auth.POST("/refresh-token", authController.RefreshToken)
	auth.POST("/logout", authController.Logout)
	auth.GET("/verify-email", authController.VerifyEmail)
	auth.GET("/verify-email/:token", authController.VerifyEmail)
	auth.POST("/resend-verification", authController.ResendVerification)
	auth.POST("/forgot-password", authController.ForgotPassword)
	auth.POST("/reset-password", authController.ResetPassword)

	authProtected := auth.Group("")
	authProtected.Use(authMiddleware.RequireAuth)
	authProtected.POST("/logout-all", authController.LogoutAll)
	authProtected.POST("/change-password", authController.ChangePassword)
	authProtected.GET("/me", authController.Me)

	httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
	logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
	if err := e.Start(httpAddr); err != nil {
		logrus.WithError(err).Fatal("Failed to start HTTP server")
	}
}

func runRetentionSweeper(authService *service.AuthService, cfg *config.Config) {
	ticker := time.NewTicker(cfg.Tokens.SweepInterval)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		purged, err := authService.PurgeRevokedSessions(ctx, cfg.Tokens.RetentionDays)
		cancel()
		if err != nil {
			logrus.WithError(err).Error("Session retention sweep failed")
			continue
		}
		logrus.WithField("purged", purged).Info("Session retention sweep complete")
	}
}

// disabledVerifier rejects every assertion; used when no client ID is set.
type disabledVerifier struct{}

func (disabledVerifier) Verify(context.Context, string) (*identity.Assertion, error) {
	return nil, errDisabled
}

var errDisabled = errors.New("federated sign-in is not configured")
