package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/munilegis/legis/internal/admin"
	"github.com/munilegis/legis/internal/auth"
	"github.com/munilegis/legis/internal/backup"
	"github.com/munilegis/legis/internal/config"
	"github.com/munilegis/legis/internal/database"
	"github.com/munilegis/legis/internal/feed"
	"github.com/munilegis/legis/internal/logging"
	"github.com/munilegis/legis/internal/notify"
	"github.com/munilegis/legis/internal/records"
	"github.com/munilegis/legis/internal/server"
	"github.com/munilegis/legis/internal/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "legis-api",
		Short: "Municipal legislative records backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("public-base-url", defaults.GetString("http.public_base_url"), "Base URL used in generated file links")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("storage-root", defaults.GetString("storage.root"), "Object storage root directory")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().Int("signed-url-ttl-minutes", defaults.GetInt("storage.signed_url_ttl_minutes"), "Signed download URL TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.public_base_url", "public-base-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "storage.root", "storage-root")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "storage.signed_url_ttl_minutes", "signed-url-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	signer, err := storage.NewURLSigner([]byte(appConfig.SigningSecret), time.Now)
	if err != nil {
		return err
	}
	objects, err := storage.NewFileStore(appConfig.StorageRoot, appConfig.PublicBaseURL, signer)
	if err != nil {
		return err
	}

	dispatcher := feed.NewDispatcher()
	ids := records.NewUUIDProvider()

	serviceConfig := records.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: ids,
		Publisher:  dispatcher,
		Objects:    objects,
		Logger:     logger,
	}

	documents, err := records.NewDocumentService(serviceConfig)
	if err != nil {
		return err
	}
	users, err := records.NewUserService(serviceConfig)
	if err != nil {
		return err
	}
	activity, err := records.NewActivityService(serviceConfig)
	if err != nil {
		return err
	}
	journal, err := records.NewNotificationJournal(serviceConfig)
	if err != nil {
		return err
	}

	var mailer notify.Mailer
	if appConfig.MailEnabled {
		mailer, err = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     appConfig.SMTPHost,
			Port:     appConfig.SMTPPort,
			Username: appConfig.SMTPUser,
			Password: appConfig.SMTPPass,
			From:     appConfig.MailFrom,
		})
		if err != nil {
			return err
		}
	} else {
		mailer = notify.NewLogMailer(logger)
	}

	notifier, err := notify.NewSessionNotifier(users, documents, mailer, journal, logger)
	if err != nil {
		return err
	}
	sessions, err := records.NewSessionService(serviceConfig, notifier)
	if err != nil {
		return err
	}

	tokenIssuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		TokenTTL:      appConfig.TokenTTL,
	})
	authenticator, err := auth.NewAuthenticator(users, tokenIssuer, logger)
	if err != nil {
		return err
	}
	otp, err := auth.NewOTPService(auth.OTPConfig{
		Database:   db,
		IDProvider: ids,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	backups, err := backup.NewCoordinator(backup.Config{
		Database: db,
		Objects:  objects,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	adminService, err := admin.NewService(admin.Config{
		Users:   users,
		OTP:     otp,
		Mailer:  mailer,
		Backups: backups,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Authenticator: authenticator,
		Tokens:        tokenIssuer,
		Documents:     documents,
		Sessions:      sessions,
		Users:         users,
		Activity:      activity,
		Notifications: journal,
		Admin:         adminService,
		Backups:       backups,
		Feed:          dispatcher,
		Objects:       objects,
		Signer:        signer,
		SignedURLTTL:  appConfig.SignedURLTTL,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
