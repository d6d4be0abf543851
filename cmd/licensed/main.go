// Command licensed runs the local license agent: it owns the installation's
// license record, validates it against the license server, and exposes the
// status/activation API plus license-gated endpoints on localhost.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"licensegate/internal/config"
	"licensegate/internal/infrastructure"
	"licensegate/internal/license"
	"licensegate/internal/middleware"
	"licensegate/internal/security"
	transporthttp "licensegate/internal/transport/http"
)

// appSalt binds the encrypted license file to this application. Combined
// with the machine fingerprint it makes a copied file useless elsewhere.
const appSalt = "licensegate-credential-store-v1"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "licensed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer infrastructure.CloseLogFile()

	ctx := context.Background()
	logger.InfoContext(ctx, "starting license agent",
		slog.Int("port", cfg.Server.Port),
		slog.String("license_file", cfg.License.FilePath),
		slog.String("server_url", cfg.License.ServerURL),
	)

	providers, err := infrastructure.InitializeOTel(nil, logger)
	if err != nil {
		return fmt.Errorf("initialize otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("otel shutdown failed", slog.String("error", err.Error()))
		}
	}()

	fingerprint := security.NewFingerprintManager(cfg.License.InstallID)

	store := license.NewFileStore(cfg.License.FilePath, storeSecret(fingerprint))

	client := license.NewClient(
		cfg.License.ServerURL,
		fingerprint,
		license.Environment{
			AppName:         cfg.License.AppName,
			AppVersion:      cfg.License.AppVersion,
			Platform:        platform(),
			SoftwareVersion: cfg.License.SoftwareVersion,
		},
		license.WithTimeout(cfg.License.ValidationTimeout),
	)

	metrics, err := license.NewMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("register license metrics: %w", err)
	}

	engine := license.NewEngine(store, client, fingerprint,
		license.WithLogger(logger),
		license.WithMetrics(metrics),
	)
	defer engine.Close()

	router := transporthttp.NewRouter(transporthttp.RouterConfig{
		LicenseHandler: transporthttp.NewLicenseHandler(engine, logger,
			cfg.License.ActivationRPS, cfg.License.ActivationBurst),
		HealthHandler:  transporthttp.NewHealthHandler(cfg.License.AppVersion),
		Gate:           middleware.NewLicenseGate(engine, logger),
		MetricsHandler: providers.PrometheusHTTP,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "license agent listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		logger.InfoContext(ctx, "shutting down", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}

// storeSecret derives the license file encryption secret from the app salt
// and the machine fingerprint.
func storeSecret(fm *security.FingerprintManager) []byte {
	secret := []byte(appSalt)
	if fp, err := fm.Generate(); err == nil {
		secret = append(secret, []byte(fp.Fingerprint)...)
	}
	return secret
}

// platform reports the host platform string sent to the license server.
func platform() string {
	return fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
}
