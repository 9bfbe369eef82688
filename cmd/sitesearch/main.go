package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch/internal/config"
	"github.com/JakeFAU/sitesearch/internal/logging"
	"github.com/JakeFAU/sitesearch/internal/search"
	"github.com/JakeFAU/sitesearch/internal/server"
)

const runtimeKey = "runtime"

type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "sitesearch: %v\n", err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:  "sitesearch",
		Usage: "Crawl configured sites and serve lemma-based full-text search",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Path to a .env file loaded before the environment is read",
				Value: ".env",
			},
		},
		Metadata: map[string]any{},
		Before:   setup,
		After:    syncLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serveCommand,
			},
			{
				Name:   "crawl",
				Usage:  "Index every configured site once and exit",
				Action: crawlCommand,
			},
			{
				Name:   "search",
				Usage:  "Query the index and print the JSON response",
				Action: searchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "query",
						Aliases:  []string{"q"},
						Usage:    "Search query",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "site",
						Usage: "Restrict results to one configured site URL",
					},
					&cli.IntFlag{
						Name:  "offset",
						Usage: "Number of results to skip",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of results",
					},
				},
			},
		},
	}
}

func setup(c *cli.Context) error {
	envFile := c.String("env-file")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	c.App.Metadata[runtimeKey] = &runtime{cfg: cfg, logger: logger}
	return nil
}

func syncLogger(c *cli.Context) error {
	rt, ok := c.App.Metadata[runtimeKey].(*runtime)
	if !ok {
		return nil
	}
	// stderr/stdout sinks return EINVAL on sync; nothing to report.
	_ = rt.logger.Sync()
	return nil
}

func buildApp(c *cli.Context) (*server.App, *runtime, error) {
	rt, ok := c.App.Metadata[runtimeKey].(*runtime)
	if !ok {
		return nil, nil, errors.New("configuration not loaded")
	}
	app, err := server.Build(c.Context, rt.cfg, rt.logger)
	if err != nil {
		return nil, nil, err
	}
	return app, rt, nil
}

func serveCommand(c *cli.Context) error {
	app, _, err := buildApp(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx)
}

func crawlCommand(c *cli.Context) (err error) {
	app, rt, err := buildApp(c)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.ShutdownTimeout())
		defer cancel()
		err = errors.Join(err, app.Close(shutdownCtx))
	}()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID, err := app.Coordinator().StartIndexing(ctx)
	if err != nil {
		return err
	}
	rt.logger.Info("indexing started", zap.String("run_id", runID))
	if waitErr := app.Coordinator().Wait(ctx); waitErr != nil {
		rt.logger.Warn("interrupted, stopping indexing")
		if err := app.Coordinator().StopIndexing(); err != nil {
			return err
		}
		if err := app.Coordinator().Wait(context.Background()); err != nil {
			return err
		}
	}

	sites, err := app.Sites(c.Context)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.App.Writer)
	for _, site := range sites {
		if err := enc.Encode(map[string]any{
			"url":        site.URL,
			"name":       site.Name,
			"status":     site.Status,
			"last_error": site.LastError,
		}); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	return nil
}

func searchCommand(c *cli.Context) (err error) {
	app, rt, err := buildApp(c)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.ShutdownTimeout())
		defer cancel()
		err = errors.Join(err, app.Close(shutdownCtx))
	}()

	resp, err := app.Search().Search(c.Context, search.Request{
		Query:  c.String("query"),
		Site:   c.String("site"),
		Offset: c.Int("offset"),
		Limit:  c.Int("limit"),
	})
	if err != nil {
		return err
	}
	data := resp.Results
	if data == nil {
		data = []search.Result{}
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{"result": true, "count": resp.Count, "data": data}); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}
