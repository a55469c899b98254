package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/accounts"
	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/config"
	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/database"
	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/images"
	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/server"
	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/users"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	sessionTokenIssuer   = "jewelsketch-auth"
	sessionTokenAudience = "jewelsketch-api"
	shutdownTimeout      = 10 * time.Second
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "jewelsketch-api",
		Short: "JewelSketch authentication and image history service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
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
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("http.allowed_origins"), "Origins allowed by CORS (* allows any)")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Identity store driver (sqlite, mongo)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("mongo-uri", "", "MongoDB connection URI")
	cmd.PersistentFlags().String("mongo-database", defaults.GetString("mongo.database"), "MongoDB database name")
	cmd.PersistentFlags().String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	cmd.PersistentFlags().String("google-jwks-url", defaults.GetString("google.jwks_url"), "Google JWKS URL")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().Int("bcrypt-cost", defaults.GetInt("auth.bcrypt_cost"), "bcrypt work factor")
	cmd.PersistentFlags().Int64("upload-max-bytes", defaults.GetInt64("uploads.max_bytes"), "Maximum size of each uploaded image")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "mongo.uri", "mongo-uri")
	bindFlag(cmd, "mongo.database", "mongo-database")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.jwks_url", "google-jwks-url")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.bcrypt_cost", "bcrypt-cost")
	bindFlag(cmd, "uploads.max_bytes", "upload-max-bytes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file: %w", err)
		}
	}

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

type stores struct {
	users  users.Store
	images images.Store
	close  func()
}

func openStores(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (stores, error) {
	switch appConfig.DatabaseDriver {
	case config.DatabaseDriverMongo:
		db, err := database.OpenMongo(ctx, appConfig.MongoURI, appConfig.MongoDatabase, logger)
		if err != nil {
			return stores{}, err
		}
		closeClient := func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := db.Client().Disconnect(disconnectCtx); err != nil {
				logger.Warn("mongo disconnect failed", zap.Error(err))
			}
		}
		userStore, err := users.NewMongoStore(users.MongoStoreConfig{
			Collection: db.Collection(users.DefaultCollectionName),
			IDProvider: users.NewUUIDProvider(),
			Clock:      time.Now,
		})
		if err != nil {
			closeClient()
			return stores{}, err
		}
		entryStore, err := images.NewMongoStore(db.Collection(images.DefaultCollectionName), users.NewUUIDProvider(), time.Now)
		if err != nil {
			closeClient()
			return stores{}, err
		}
		return stores{users: userStore, images: entryStore, close: closeClient}, nil

	default:
		db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
		if err != nil {
			return stores{}, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return stores{}, err
		}
		closeDB := func() {
			if err := sqlDB.Close(); err != nil {
				logger.Warn("database close failed", zap.Error(err))
			}
		}
		userStore, err := users.NewGormStore(users.GormStoreConfig{
			Database:   db,
			IDProvider: users.NewUUIDProvider(),
			Clock:      time.Now,
		})
		if err != nil {
			closeDB()
			return stores{}, err
		}
		entryStore, err := images.NewGormStore(db, users.NewUUIDProvider(), time.Now)
		if err != nil {
			closeDB()
			return stores{}, err
		}
		return stores{users: userStore, images: entryStore, close: closeDB}, nil
	}
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

	backing, err := openStores(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer backing.close()

	hasher, err := auth.NewPasswordHasher(appConfig.BcryptCost)
	if err != nil {
		return err
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        sessionTokenIssuer,
		Audience:      sessionTokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	googleVerifier, err := auth.NewGoogleVerifier(auth.GoogleVerifierConfig{
		Audience: appConfig.GoogleClientID,
		JWKSURL:  appConfig.GoogleJWKSURL,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	accountService, err := accounts.NewService(accounts.ServiceConfig{
		Store:                     backing.users,
		Hasher:                    hasher,
		Tokens:                    tokenIssuer,
		Google:                    googleVerifier,
		GoogleVerifyTimeout:       appConfig.GoogleVerifyTimeout,
		LinkRequiresVerifiedEmail: appConfig.LinkRequiresVerifiedEmail,
		Logger:                    logger,
	})
	if err != nil {
		return err
	}

	imageService, err := images.NewService(images.ServiceConfig{
		Store:         backing.images,
		MaxImageBytes: appConfig.UploadMaxBytes,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Accounts:       accountService,
		Images:         imageService,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database_driver", appConfig.DatabaseDriver),
		)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
