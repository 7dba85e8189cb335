// Command recurso runs the Multas Zero fine analysis and appeal service.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/multaszero/recurso/internal/analyzer"
	"github.com/multaszero/recurso/internal/api"
	"github.com/multaszero/recurso/internal/appeal"
	"github.com/multaszero/recurso/internal/config"
	"github.com/multaszero/recurso/internal/database"
	"github.com/multaszero/recurso/internal/llm"
	"github.com/multaszero/recurso/internal/payment"
	"github.com/multaszero/recurso/internal/session"
	"github.com/multaszero/recurso/internal/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	generateConfig := flag.Bool("generate-config", false, "write a sample configuration file and exit")
	flag.Parse()

	if *generateConfig {
		if err := config.GenerateSample(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write sample config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Sample configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)

	store, err := database.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer store.Close()

	provider, err := llm.NewProvider(&cfg.LLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create LLM provider")
	}

	fineAnalyzer := analyzer.New(provider, cfg.Analyzer.FabricateDefenses)
	writer := appeal.NewWriter(provider)

	var checkout payment.Checkout
	if cfg.Payment.StripeSecretKey != "" {
		stripeCheckout, err := payment.NewStripeCheckout(cfg.Payment, cfg.Server.BaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create checkout gateway")
		}
		checkout = stripeCheckout
	} else {
		log.Warn().Msg("Stripe secret key not set - checkout disabled")
	}

	handler := api.NewHandler(fineAnalyzer, writer, checkout)

	// One limiter instance backs both the JSON analyze endpoint and the UI
	// upload route, so all analyses for an IP draw from the same allowance.
	quota := api.QuotaMiddleware(cfg.RateLimits.AnalysesPerDay)

	var ui http.Handler
	if cfg.Server.EnableUI {
		machine := session.NewMachine(store, fineAnalyzer, writer, checkout)
		ui = web.NewUI(machine, quota, cfg.Payment.PriceCents).Routes()
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(cfg, handler, ui, quota),
	}

	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Str("provider", provider.Name()).
			Bool("ui", cfg.Server.EnableUI).
			Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
