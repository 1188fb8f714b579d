package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tobysauze/BookByte-sub001/internal/config"
	"github.com/tobysauze/BookByte-sub001/internal/extract"
	"github.com/tobysauze/BookByte-sub001/internal/generate"
	"github.com/tobysauze/BookByte-sub001/internal/retryhttp"
	"github.com/tobysauze/BookByte-sub001/internal/server"
	"github.com/tobysauze/BookByte-sub001/internal/source"
	"github.com/tobysauze/BookByte-sub001/internal/store"
	"github.com/tobysauze/BookByte-sub001/internal/worker"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the BookByte worker server",
	Long: `Start the BookByte worker HTTP server.

The server exposes:
  - GET  /health                     - health check
  - POST /api/jobs                   - create a generation job
  - GET  /api/jobs/{id}              - job status
  - POST /api/jobs/{id}/process      - advance a job one generation step

The process endpoint is the external trigger; schedulers re-fire it for
the same job until its status is done or error.

Examples:
  bookbyte serve                  # Start on default port 8080
  bookbyte serve --port 3000      # Start on custom port`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		mgr, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		mgr.OnChange(func(*config.Config) {
			logger.Info("configuration reloaded")
		})
		mgr.WatchConfig()
		cfg := mgr.Get()

		if serveHost != "" {
			cfg.Server.Host = serveHost
		}
		if servePort != "" {
			cfg.Server.Port = servePort
		}

		st, err := store.OpenSQLite(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer st.Close()

		httpClient := retryhttp.New(logger)

		fetcher := source.NewFetcher(source.Config{
			Client:       httpClient,
			FileHostBase: cfg.Source.FileHostBase,
		})

		extractor := extract.New(extract.Options{
			MaxPages: cfg.Source.MaxPages,
			MaxChars: cfg.Source.MaxChars,
		}, logger)

		genPolicy := retryhttp.GenerationPolicy()
		if cfg.Generation.Timeout > 0 {
			genPolicy.Deadline = cfg.Generation.Timeout
		}
		generator := generate.New(generate.Config{
			Client: httpClient,
			Policy: genPolicy,
			Primary: generate.Host{
				Name:    cfg.Generation.Primary.Name,
				BaseURL: cfg.Generation.Primary.BaseURL,
				APIKey:  cfg.Generation.Primary.APIKey,
			},
			Fallback: generate.Host{
				Name:    cfg.Generation.Fallback.Name,
				BaseURL: cfg.Generation.Fallback.BaseURL,
				APIKey:  cfg.Generation.Fallback.APIKey,
			},
			Logger: logger,
		})

		orchestrator := worker.NewOrchestrator(worker.Config{
			Store:         st,
			Fetcher:       fetcher,
			Extractor:     extractor,
			Generator:     generator,
			Instructions:  cfg.Generation.Instructions,
			MaxStepTokens: cfg.Generation.MaxStepTokens,
			StaleAfter:    cfg.Worker.StaleAfter,
			Logger:        logger,
		})

		srv, err := server.New(server.Config{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			Secret:       cfg.Server.Secret,
			DefaultModel: cfg.Generation.Model,
			Store:        st,
			Runner:       orchestrator,
			Logger:       logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (overrides config)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (overrides config)")
}
