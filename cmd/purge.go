package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/abasto-labs/marketplace-auth/app/repository"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var purgeRetentionDays int

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete revoked refresh sessions older than the retention window",
	RunE: func(_ *cobra.Command, _ []string) error {
		if purgeRetentionDays <= 0 {
			return errors.New("retention days must be greater than 0")
		}

		_ = godotenv.Load()

		dsn := strings.TrimSpace(os.Getenv("MYSQL_DSN"))
		if dsn == "" {
			return errors.New("MYSQL_DSN environment variable is required")
		}

		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return err
		}
		defer db.Close()

		if err = db.Ping(); err != nil {
			return err
		}

		sessionRepo := repository.NewRefreshSessionRepository(db)
		cutoff := time.Now().AddDate(0, 0, -purgeRetentionDays)

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		purged, err := sessionRepo.PurgeRevokedBefore(ctx, cutoff)
		if err != nil {
			return err
		}

		fmt.Printf("purged %d revoked session(s) older than %d day(s)\n", purged, purgeRetentionDays)
		return nil
	},
}

func init() {
	purgeCmd.Flags().IntVar(&purgeRetentionDays, "retention-days", 30, "delete revoked sessions older than this many days")
	rootCmd.AddCommand(purgeCmd)
}
