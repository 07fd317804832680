// dcn-mockd runs the in-memory mock DCN API server for local development.
// It implements the same wire surface as the production API against
// process-local state, so SDK and CLI work can happen offline.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hypermusic-ai/dcn-go/internal/mockapi"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("dcn-mockd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	viper.SetConfigName("dcn-mockd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("DCN_MOCK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("port", 8080)
	viper.SetDefault("version", "0.0.0-mock")
	viper.SetDefault("jwt_secret", "")
	viper.SetDefault("access_ttl", "15m")
	viper.SetDefault("cors_origins", []string{"*"})
	viper.SetDefault("rate_limit_rps", 0)

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	secret := viper.GetString("jwt_secret")
	if secret == "" {
		// Ephemeral secret: restarting the server invalidates all tokens,
		// which is fine for a mock.
		secret = uuid.New().String()
		logger.Info("generated ephemeral JWT secret (set jwt_secret to persist sessions)")
	}

	accessTTL, err := time.ParseDuration(viper.GetString("access_ttl"))
	if err != nil {
		return fmt.Errorf("parse access_ttl: %w", err)
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := mockapi.New(mockapi.Config{
		JWTSecret:    []byte(secret),
		AccessTTL:    accessTTL,
		Version:      viper.GetString("version"),
		CORSOrigins:  viper.GetStringSlice("cors_origins"),
		RateLimitRPS: viper.GetInt("rate_limit_rps"),
	}, logger)

	port := viper.GetInt("port")
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("mock DCN API listening", zap.Int("port", port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("stopped")
	return nil
}
