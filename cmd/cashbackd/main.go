package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/perkwise/cashback/internal/backend"
	"github.com/perkwise/cashback/internal/notify"
	"github.com/perkwise/cashback/internal/store/gormstore"
	"github.com/perkwise/cashback/pkg/cashback"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagListenAddr     = "listen-addr"
	flagDBDriver       = "db-driver"
	flagDBDSN          = "db-dsn"
	flagAllowedOrigins = "allowed-origins"
	flagJWTSigningKey  = "jwt-signing-key"
	flagJWTIssuer      = "jwt-issuer"
	flagJWTCookieName  = "jwt-cookie-name"
	flagOtpSecret      = "otp-secret"
	flagOtpTTL         = "otp-ttl"
	flagOtpCodeLength  = "otp-code-length"
	flagSMSEnabled     = "sms-enabled"
	flagSMSAccountSID  = "sms-account-sid"
	flagSMSAuthToken   = "sms-auth-token"
	flagSMSFrom        = "sms-from"
	flagSMSBaseURL     = "sms-base-url"
	envPrefix          = "CASHBACKD"

	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

type runtimeConfig struct {
	Backend       backend.Config
	DBDriver      string
	DBDSN         string
	OtpSecret     string
	OtpTTL        time.Duration
	OtpCodeLength int
	SMSEnabled    bool
	SMS           notify.Config
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cashbackd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "cashbackd",
		Short:         "Cashback accrual and redemption service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	cmd.Flags().String(flagListenAddr, "", "HTTP listen address")
	cmd.Flags().String(flagDBDriver, driverSQLite, "database driver: postgres or sqlite")
	cmd.Flags().String(flagDBDSN, "cashback.db", "database DSN (postgres URL or sqlite path)")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "employee session JWT signing key (required)")
	cmd.Flags().String(flagJWTIssuer, "", "expected JWT issuer")
	cmd.Flags().String(flagJWTCookieName, "", "session cookie name")
	cmd.Flags().String(flagOtpSecret, "", "HMAC secret for OTP code hashes (required)")
	cmd.Flags().Duration(flagOtpTTL, 5*time.Minute, "OTP validity window")
	cmd.Flags().Int(flagOtpCodeLength, cashback.DefaultOtpCodeLength, "OTP code length in digits")
	cmd.Flags().Bool(flagSMSEnabled, false, "send OTP codes over SMS (disabled uses a no-op sender)")
	cmd.Flags().String(flagSMSAccountSID, "", "SMS provider account SID")
	cmd.Flags().String(flagSMSAuthToken, "", "SMS provider auth token")
	cmd.Flags().String(flagSMSFrom, "", "SMS sender phone number")
	cmd.Flags().String(flagSMSBaseURL, "", "SMS provider base URL override")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range []string{
		flagListenAddr, flagDBDriver, flagDBDSN, flagAllowedOrigins,
		flagJWTSigningKey, flagJWTIssuer, flagJWTCookieName,
		flagOtpSecret, flagOtpTTL, flagOtpCodeLength,
		flagSMSEnabled, flagSMSAccountSID, flagSMSAuthToken, flagSMSFrom, flagSMSBaseURL,
	} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.Backend = backend.Config{
		ListenAddr:        v.GetString(flagListenAddr),
		AllowedOrigins:    backend.ParseAllowedOrigins(v.GetString(flagAllowedOrigins)),
		SessionSigningKey: v.GetString(flagJWTSigningKey),
		SessionIssuer:     v.GetString(flagJWTIssuer),
		SessionCookieName: v.GetString(flagJWTCookieName),
	}
	cfg.DBDriver = v.GetString(flagDBDriver)
	cfg.DBDSN = v.GetString(flagDBDSN)
	cfg.OtpSecret = v.GetString(flagOtpSecret)
	cfg.OtpTTL = v.GetDuration(flagOtpTTL)
	cfg.OtpCodeLength = v.GetInt(flagOtpCodeLength)
	cfg.SMSEnabled = v.GetBool(flagSMSEnabled)
	cfg.SMS = notify.Config{
		AccountSID: v.GetString(flagSMSAccountSID),
		AuthToken:  v.GetString(flagSMSAuthToken),
		From:       v.GetString(flagSMSFrom),
		BaseURL:    v.GetString(flagSMSBaseURL),
	}

	if err := cfg.Backend.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.OtpSecret) == "" {
		return fmt.Errorf("%s is required", flagOtpSecret)
	}
	if cfg.SMSEnabled {
		if err := cfg.SMS.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func run(ctx context.Context, cfg runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("zap init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(gormstore.Models()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var sender cashback.CodeSender = notify.NopSender{}
	if cfg.SMSEnabled {
		sender = notify.NewSMSSender(cfg.SMS)
	}

	service, err := cashback.NewService(
		gormstore.New(db),
		func() int64 { return time.Now().UTC().Unix() },
		cashback.GuardConfig{
			Secret:     []byte(cfg.OtpSecret),
			CodeLength: cfg.OtpCodeLength,
			TTLSeconds: int64(cfg.OtpTTL.Seconds()),
			Sender:     sender,
		},
		cashback.WithOperationLogger(operationLogger{logger: logger}),
	)
	if err != nil {
		return fmt.Errorf("wire service: %w", err)
	}

	return backend.Run(ctx, cfg.Backend, service, logger)
}

func openDatabase(cfg runtimeConfig) (*gorm.DB, error) {
	switch cfg.DBDriver {
	case driverPostgres:
		return gorm.Open(postgres.Open(cfg.DBDSN), &gorm.Config{TranslateError: true})
	case driverSQLite:
		return gorm.Open(sqlite.Open(cfg.DBDSN), &gorm.Config{TranslateError: true})
	}
	return nil, fmt.Errorf("unknown db driver %q", cfg.DBDriver)
}

type operationLogger struct {
	logger *zap.Logger
}

func (oplog operationLogger) LogOperation(ctx context.Context, entry cashback.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("company_id", entry.CompanyID.String()),
		zap.String("customer_id", entry.CustomerID.String()),
		zap.String("status", entry.Status),
		zap.Int64("amount_cents", entry.Amount.Int64()),
	}
	if entry.PromotionID != nil {
		fields = append(fields, zap.String("promotion_id", entry.PromotionID.String()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		oplog.logger.Warn("cashback operation failed", fields...)
		return
	}
	oplog.logger.Info("cashback operation", fields...)
}
