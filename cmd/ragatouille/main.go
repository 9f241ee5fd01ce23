// Command ragatouille serves the RAG chat widget, the evaluation dashboard and the test-case board, and
// runs the batch evaluator that produces the dashboard's records.
//
//	ragatouille serve --config config.yaml
//	ragatouille eval --input qa.tsv --output output.json
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/isotope/ragatouille"
	"github.com/isotope/ragatouille/internal/evaluation"
	"github.com/isotope/ragatouille/internal/handlers"
	"github.com/isotope/ragatouille/internal/services"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var version = "dev"

type globalOptions struct {
	configPath string
	debug      bool
}

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "ragatouille",
		Short: "RAG chat widget and evaluation dashboard",
		Long: `RAGatouille serves a chat widget backed by a retrieval service, a dashboard of
scored evaluation results and an editable board of test cases.

Running without a subcommand starts the web server.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			loadEnv()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"Path to YAML configuration file (default $XDG_CONFIG_HOME/ragatouille/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false,
		"Enable debug logging")

	rootCmd.AddCommand(
		buildServeCmd(opts),
		buildEvalCmd(opts),
	)

	return rootCmd
}

func buildServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the web server",
		Long: `Start the web server with the chat widget, the evaluation dashboard and the
test-case board. Prometheus metrics are exposed on /metrics.

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  ragatouille serve

  # Start with custom config and debug logging
  ragatouille serve --config ./config.yaml --debug`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func buildEvalCmd(opts *globalOptions) *cobra.Command {
	var input, output string

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Score a question set against the retrieval service",
		Long: `Ask the retrieval service every question of a tab-separated file (answer,
question, ground truth), grade each generated answer with the configured judge
and write the scored records as one JSON array.`,
		Example: `  ragatouille eval --input qa.tsv --output output.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runEval(ctx, opts, input, output)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "qa.tsv", "Tab-separated question file")
	cmd.Flags().StringVarP(&output, "output", "o", "",
		"Output JSON file (default the configured evaluation records file)")

	return cmd
}

func loadEnv() {
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Failed to load .env file", slog.String("err", err.Error()))
		}
	}
}

func setup(opts *globalOptions) (config, *slog.Logger, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return config{}, nil, err
	}

	level, err := cfg.logLevel()
	if err != nil {
		return config{}, nil, err
	}
	if opts.debug {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newScorer(cfg config, retriever services.Retrieval, logger *slog.Logger) (evaluation.Scorer, error) {
	if cfg.Evaluation.Scorer != scorerJudge {
		return evaluation.PlaceholderScorer{}, nil
	}
	judge, err := cfg.judge(logger)
	if err != nil {
		return nil, fmt.Errorf("error creating judge scorer: %w", err)
	}
	return evaluation.NewJudgeScorer(retriever, judge, logger), nil
}

func runServe(ctx context.Context, opts *globalOptions) error {
	cfg, logger, err := setup(opts)
	if err != nil {
		return err
	}

	retriever := services.NewRetrieval(cfg.Retrieval.URL, cfg.Retrieval.Timeout, logger)
	scorer, err := newScorer(cfg, retriever, logger)
	if err != nil {
		return err
	}
	records := services.NewRecordSource(cfg.Evaluation.Records)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m, err := handlers.NewMain(retriever, records, evaluation.NewStore(scorer), cfg.Theme,
		handlers.NewMetrics(reg), logger)
	if err != nil {
		return err
	}

	staticFS, err := fs.Sub(ragatouille.StaticFS, "static")
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	m.Register(mux)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting",
			slog.String("addr", srv.Addr),
			slog.String("retrieval", retrieverURL(cfg)),
			slog.String("records", records.Location()),
			slog.String("scorer", cfg.Evaluation.Scorer))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		logger.Info("Start shutdown, context done")

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
		if err := srv.Close(); err != nil {
			logger.Error("Forcing server close", slog.String("err", err.Error()))
		}
	}
	return nil
}

func retrieverURL(cfg config) string {
	if cfg.Retrieval.URL == "" {
		return services.DefaultRetrievalURL
	}
	return cfg.Retrieval.URL
}

func runEval(ctx context.Context, opts *globalOptions, input, output string) error {
	cfg, logger, err := setup(opts)
	if err != nil {
		return err
	}

	if output == "" {
		output = cfg.Evaluation.Records
	}
	if strings.HasPrefix(output, "http://") || strings.HasPrefix(output, "https://") {
		return fmt.Errorf("output must be a file path, got %s", output)
	}

	judge, err := cfg.judge(logger)
	if err != nil {
		return err
	}

	in, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("error opening question file: %w", err)
	}
	defer in.Close()

	items, err := evaluation.ReadQATSV(in, logger)
	if err != nil {
		return err
	}

	retriever := services.NewRetrieval(cfg.Retrieval.URL, cfg.Retrieval.Timeout, logger)
	runner := evaluation.NewRunner(retriever, judge, logger)
	runner.Progress = func(done, total int) {
		logger.Info("Evaluated question", slog.Int("done", done), slog.Int("total", total))
	}

	records, err := runner.Run(ctx, items)
	if err != nil {
		return err
	}

	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}
	if err := evaluation.WriteRecords(out, records); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	logger.Info("Evaluation complete",
		slog.Int("records", len(records)),
		slog.String("output", output))
	return nil
}
