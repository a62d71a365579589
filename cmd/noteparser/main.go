package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/MrSnakeDoc/noteparser/internal/app"
	"github.com/MrSnakeDoc/noteparser/internal/config"
	"github.com/MrSnakeDoc/noteparser/internal/integration"
	"github.com/MrSnakeDoc/noteparser/internal/logger"
	"github.com/MrSnakeDoc/noteparser/internal/version"
)

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		log.Fatalf("❌ noteparser: %v", err)
	}
}

// cliEnv carries what the Before hook loaded to the commands.
type cliEnv struct {
	cfg *config.Config
	log logger.Logger
}

func newCLI() *cli.App {
	rt := &cliEnv{}
	return &cli.App{
		Name:    "noteparser",
		Usage:   "Orchestrates the knowledge services behind the note parser",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				EnvVars: []string{"NOTEPARSER_LOG_LEVEL"},
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "services-file",
				Aliases: []string{"s"},
				Usage:   "Path to a services.yml file",
				EnvVars: []string{"NOTEPARSER_SERVICES_FILE"},
			},
		},
		Before: rt.setup,
		After:  rt.teardown,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the services and the HTTP API",
				Action: rt.serve,
			},
			{
				Name:   "health",
				Usage:  "Health check every enabled service once",
				Action: rt.health,
			},
			{
				Name:   "process",
				Usage:  "Index a document, extract insights and create its wiki article",
				Action: rt.process,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Document to process: JSON {content, metadata}, any other file is raw content, - reads stdin",
						Required: true,
					},
				},
			},
			{
				Name:   "query",
				Usage:  "Query the knowledge base and the wiki",
				Action: rt.query,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "q",
						Usage:    "Question to ask",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "filter",
						Usage: "Search filter as key=value, repeatable",
					},
				},
			},
			{
				Name:   "organize",
				Usage:  "Ask the wiki to reorganize its articles",
				Action: rt.organize,
			},
		},
	}
}

func (rt *cliEnv) setup(c *cli.Context) error {
	if f := c.String("services-file"); f != "" {
		if err := os.Setenv("NOTEPARSER_SERVICES_FILE", f); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.LogLevel = c.String("log-level")

	rt.cfg = cfg
	rt.log = logger.New(cfg.LogLevel, cfg.PrettyLog)
	return nil
}

func (rt *cliEnv) teardown(*cli.Context) error {
	if rt.log != nil {
		_ = rt.log.Sync()
	}
	return nil
}

func (rt *cliEnv) serve(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, rt.cfg, rt.log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// oneShot builds an App without Redis, runs fn and closes everything.
func (rt *cliEnv) oneShot(c *cli.Context, fn func(ctx context.Context, a *app.App) (any, error)) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := *rt.cfg
	cfg.RedisAddr = ""
	a, err := app.New(ctx, &cfg, rt.log)
	if err != nil {
		return err
	}

	out, runErr := fn(ctx, a)
	if err := a.Close(context.Background()); err != nil {
		rt.log.Warn("failed to close cleanly", logger.Error(err))
	}
	if out != nil {
		if err := printJSON(c.App.Writer, out); err != nil {
			return err
		}
	}
	return runErr
}

func (rt *cliEnv) health(c *cli.Context) error {
	return rt.oneShot(c, func(ctx context.Context, a *app.App) (any, error) {
		res := a.Clients().HealthCheckAll(ctx)
		var down []string
		for name, ok := range res {
			if !ok {
				down = append(down, name)
			}
		}
		if len(down) > 0 {
			sort.Strings(down)
			return res, cli.Exit(fmt.Sprintf("unhealthy services: %s", strings.Join(down, ", ")), 1)
		}
		return res, nil
	})
}

func (rt *cliEnv) process(c *cli.Context) error {
	doc, err := readDocument(c.String("file"), c.App.Reader)
	if err != nil {
		return err
	}
	return rt.oneShot(c, func(ctx context.Context, a *app.App) (any, error) {
		return a.Integration().ProcessDocument(ctx, doc), nil
	})
}

func (rt *cliEnv) query(c *cli.Context) error {
	filters, err := parseFilters(c.StringSlice("filter"))
	if err != nil {
		return err
	}
	return rt.oneShot(c, func(ctx context.Context, a *app.App) (any, error) {
		return a.Integration().QueryKnowledge(ctx, c.String("q"), filters), nil
	})
}

func (rt *cliEnv) organize(c *cli.Context) error {
	return rt.oneShot(c, func(ctx context.Context, a *app.App) (any, error) {
		return a.Integration().OrganizeKnowledge(ctx), nil
	})
}

// readDocument loads a JSON document, or wraps any other file as raw content
// titled after the file name.
func readDocument(path string, stdin io.Reader) (integration.Document, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return integration.Document{}, fmt.Errorf("failed to read document: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		var doc integration.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return integration.Document{}, fmt.Errorf("failed to parse document: %w", err)
		}
		if strings.TrimSpace(doc.Content) == "" {
			return integration.Document{}, fmt.Errorf("document %s has no content", path)
		}
		return doc, nil
	}

	doc := integration.Document{Content: string(data)}
	if path != "-" {
		base := filepath.Base(path)
		doc.Metadata = map[string]any{
			"title":  strings.TrimSuffix(base, filepath.Ext(base)),
			"source": path,
		}
	}
	if strings.TrimSpace(doc.Content) == "" {
		return integration.Document{}, fmt.Errorf("document is empty")
	}
	return doc, nil
}

func parseFilters(raw []string) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	filters := make(map[string]any, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid filter %q, expected key=value", kv)
		}
		filters[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return filters, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
