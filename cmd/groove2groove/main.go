// Package main is the entry point for groove2groove CLI
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"

	"github.com/james-see/groove2groove/pkg/config"
	"github.com/james-see/groove2groove/pkg/generation"
	"github.com/james-see/groove2groove/pkg/logger"
	"github.com/james-see/groove2groove/pkg/session"
	"github.com/james-see/groove2groove/pkg/slots"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const sentryFlushTimeout = 2 * time.Second

var (
	configFile   string
	inferenceURL string
	modelName    string
	temperature  float64
	sample       bool
	outputFile   string
)

func main() {
	err := rootCmd.Execute()
	sentry.Flush(sentryFlushTimeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "groove2groove",
	Short: "Edit performances and generate style transfers and remixes",
	Long: `groove2groove manages four performance slots (content, style, output and
remix), trims and filters them, and calls a Groove2Groove inference service
to render content in the style of another performance.

Examples:
  groove2groove generate --content bach.mid --style funk.mid -o out.mid
  groove2groove remix --content bach.mid --output bach__funk.mid -o remix.mid
  groove2groove inspect bach.mid
  groove2groove trim bach.mid --start 0 --end 16 --instruments 0,DRUMS -o intro.mid
  groove2groove tui
  groove2groove serve --port 8080`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&inferenceURL, "url", "", "Inference service URL (default from INFERENCE_URL)")
	rootCmd.PersistentFlags().StringVarP(&modelName, "model", "m", "", "Style transfer model (default from MODEL_NAME)")
	rootCmd.PersistentFlags().Float64VarP(&temperature, "temperature", "t", -1, "Softmax temperature (default from SOFTMAX_TEMPERATURE)")
	rootCmd.PersistentFlags().BoolVar(&sample, "sample", false, "Sample from the model instead of greedy decoding")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(remixCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(trimCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads the environment, the optional config file and the
// command line flags, in increasing precedence
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Load()
	if configFile != "" {
		if err := cfg.LoadFile(configFile); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.InferenceURL = inferenceURL
	}
	if flags.Changed("model") {
		cfg.ModelName = modelName
	}
	if flags.Changed("temperature") {
		cfg.Temperature = temperature
	}
	if flags.Changed("sample") {
		cfg.Sample = sample
	}
	return cfg, nil
}

func initSentry(cfg *config.Config) {
	if cfg.SentryDSN == "" {
		return
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     "groove2groove@" + version,
		Debug:       !cfg.IsProduction(),
	}); err != nil {
		logger.Warn("Failed to initialize Sentry", logger.Fields{"error": err.Error()})
	}
}

// newSession builds a coordinator wired to the configured inference service
func newSession(cmd *cobra.Command) (*session.Coordinator, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	initSentry(cfg)

	store, err := slots.NewStore(slots.DefaultGraph)
	if err != nil {
		return nil, nil, err
	}
	client := generation.New(cfg.InferenceURL, generation.WithTimeout(cfg.RequestTimeout))
	sess := session.New(store, client, session.WithSettings(generation.Options{
		Model:       cfg.ModelName,
		Sample:      cfg.Sample,
		Temperature: cfg.Temperature,
	}))
	return sess, cfg, nil
}
