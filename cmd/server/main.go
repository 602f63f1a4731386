// Package main is the entry point for the groove2groove API server
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"

	"github.com/james-see/groove2groove/pkg/api"
	"github.com/james-see/groove2groove/pkg/config"
	"github.com/james-see/groove2groove/pkg/generation"
	"github.com/james-see/groove2groove/pkg/logger"
	"github.com/james-see/groove2groove/pkg/session"
	"github.com/james-see/groove2groove/pkg/slots"
)

const sentryFlushTimeout = 2 * time.Second

func main() {
	err := run(os.Args[1:])
	sentry.Flush(sentryFlushTimeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("server", flag.ContinueOnError)
	configFile := flags.String("config", "", "YAML config file")
	port := flags.Int("port", 0, "Server port (default from PORT)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg := config.Load()
	if *configFile != "" {
		if err := cfg.LoadFile(*configFile); err != nil {
			return fmt.Errorf("config error: %w", err)
		}
	}
	if *port != 0 {
		cfg.Port = *port
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
			Debug:       !cfg.IsProduction(),
		}); err != nil {
			logger.Warn("Failed to initialize Sentry", logger.Fields{"error": err.Error()})
		}
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := slots.NewStore(slots.DefaultGraph)
	if err != nil {
		return fmt.Errorf("slot graph error: %w", err)
	}
	client := generation.New(cfg.InferenceURL, generation.WithTimeout(cfg.RequestTimeout))
	sess := session.New(store, client, session.WithSettings(generation.Options{
		Model:       cfg.ModelName,
		Sample:      cfg.Sample,
		Temperature: cfg.Temperature,
	}))

	fmt.Printf("Starting groove2groove API server on port %d...\n", cfg.Port)
	fmt.Printf("Swagger docs available at http://localhost:%d/swagger/index.html\n", cfg.Port)

	if err := api.StartServer(cfg.Port, sess); err != nil {
		sentry.CaptureException(err)
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
