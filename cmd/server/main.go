package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/storefront/authsession/internal/config"
	"github.com/storefront/authsession/internal/guard"
	"github.com/storefront/authsession/internal/handlers"
	"github.com/storefront/authsession/internal/middleware"
	"github.com/storefront/authsession/internal/repository"
	"github.com/storefront/authsession/internal/service"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	if err := run(logger); err != nil {
		logger.WithError(err).Fatal("Auth session server stopped")
	}
}

func run(logger *logrus.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if level, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dynamoClient, err := newDynamoClient(ctx, &cfg.DynamoDB)
	if err != nil {
		return err
	}
	logger.WithField("table", cfg.DynamoDB.TableName).Info("DynamoDB client ready")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// revocation checks fall back to DynamoDB
		logger.WithError(err).Warn("Redis unavailable at startup")
	}

	users, closeUsers, err := initUserLookup(cfg, dynamoClient, logger)
	if err != nil {
		return fmt.Errorf("user store: %w", err)
	}
	defer closeUsers()

	signer := service.NewTokenSigner(&cfg.JWT, logger)
	sessions := service.NewSessionService(
		signer,
		users,
		repository.NewRefreshTokenRepository(dynamoClient, cfg.DynamoDB.TableName, logger),
		service.NewRevocationCache(redisClient, logger),
		service.BcryptVerifier{},
		logger,
	)

	router := setupRouter(
		cfg,
		handlers.NewAuthHandlers(sessions, logger),
		middleware.NewAuthMiddleware(signer, users, logger),
		logger,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("Server exited")
	return nil
}

// newDynamoClient points the client at cfg.Endpoint when set (DynamoDB Local).
func newDynamoClient(ctx context.Context, cfg *config.DynamoDBConfig) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

func initUserLookup(cfg *config.Config, dynamoClient *dynamodb.Client, logger *logrus.Logger) (service.UserLookup, func(), error) {
	if cfg.Session.UserStore == "postgres" {
		db, err := repository.OpenPostgres(&cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using Postgres user store")
		return repository.NewPostgresUserRepository(db, logger), func() { db.Close() }, nil
	}

	logger.Info("Using DynamoDB user store")
	return repository.NewUserRepository(dynamoClient, cfg.DynamoDB.TableName, logger), func() {}, nil
}

func setupRouter(
	cfg *config.Config,
	authHandlers *handlers.AuthHandlers,
	authMiddleware *middleware.AuthMiddleware,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	api := router.PathPrefix("/api/v1").Subrouter()

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", authHandlers.Login).Methods("POST", "OPTIONS")
	auth.HandleFunc("/refresh", authHandlers.RefreshToken).Methods("POST", "OPTIONS")
	auth.Handle("/logout", authMiddleware.RequireAuth(http.HandlerFunc(authHandlers.Logout))).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("/").Subrouter()
	protected.Use(authMiddleware.RequireAuth)
	protected.HandleFunc("/me", authHandlers.Me).Methods("GET")

	if cfg.Server.AdminDir != "" {
		signedIn := guard.AuthStateFunc(func(ctx context.Context) bool {
			return middleware.GetUser(ctx) != nil
		})
		navGuard := guard.New(signedIn, cfg.Session.LoginRoute, logger)
		admin := http.StripPrefix("/admin/", http.FileServer(http.Dir(cfg.Server.AdminDir)))
		router.PathPrefix("/admin/").Handler(authMiddleware.OptionalAuth(navGuard.Middleware(admin)))
	}

	return router
}
