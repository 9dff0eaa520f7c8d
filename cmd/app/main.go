package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/assessment"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/bundle"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/mcpserver"
	pkgconfig "github.com/naretakis/mita-state-self-assessment-tool-sub002/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

// withComponents opens the application for a one-shot command. Logs go to
// stderr so stdout carries only the command's output.
func withComponents(ctx context.Context, cmd *cli.Command, fn func(*internal.Components) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	c, err := internal.Open(ctx, internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	return fn(c)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func importCmd(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("usage: import <bundle.json|bundle.zip>")
	}
	src, err := bundle.ReadFile(path)
	if err != nil {
		return err
	}
	return withComponents(ctx, cmd, func(c *internal.Components) error {
		var rep *assessment.Report
		if cmd.Bool("dry-run") {
			rep, err = c.Service.Preview(ctx, src)
		} else {
			rep, err = c.Service.Import(ctx, src, func(p assessment.Progress) {
				c.Logger.Info("import progress", slog.Int("percent", p.Percent), slog.String("status", p.Status))
			})
		}
		if rep != nil {
			if perr := printJSON(os.Stdout, rep); perr != nil && err == nil {
				err = perr
			}
		}
		return err
	})
}

func exportCmd(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("usage: export <file.json|file.zip>")
	}
	return withComponents(ctx, cmd, func(c *internal.Components) error {
		b, blobs, err := c.Service.Export(ctx)
		if err != nil {
			return err
		}
		if err := bundle.WriteFile(path, b, blobs); err != nil {
			return err
		}
		return printJSON(os.Stdout, b.Metadata)
	})
}

func backupCmd(ctx context.Context, cmd *cli.Command) error {
	return withComponents(ctx, cmd, func(c *internal.Components) error {
		obj, err := c.Service.Backup(ctx)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, obj)
	})
}

func listBackupsCmd(ctx context.Context, cmd *cli.Command) error {
	return withComponents(ctx, cmd, func(c *internal.Components) error {
		objs, err := c.Service.ListBackups(ctx)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, objs)
	})
}

func restoreCmd(ctx context.Context, cmd *cli.Command) error {
	key := cmd.Args().First()
	if key == "" {
		return fmt.Errorf("usage: backup restore <key>")
	}
	return withComponents(ctx, cmd, func(c *internal.Components) error {
		rep, err := c.Service.RestoreBackup(ctx, key, nil)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, rep)
	})
}

func mcpCmd(ctx context.Context, cmd *cli.Command) error {
	return withComponents(ctx, cmd, func(c *internal.Components) error {
		return mcpserver.New(c.Service).ServeStdio()
	})
}

func main() {
	cmd := &cli.Command{
		Name:   "mitasat",
		Usage:  "MITA maturity self-assessment: scoring, history and bundle merge",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP server (default)",
				Action: run,
			},
			{
				Name:      "import",
				Usage:     "Merge an export bundle into the local store",
				ArgsUsage: "<bundle.json|bundle.zip>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "dry-run", Usage: "Report what would happen without writing"},
				},
				Action: importCmd,
			},
			{
				Name:      "export",
				Usage:     "Write every assessment to a bundle file",
				ArgsUsage: "<file.json|file.zip>",
				Action:    exportCmd,
			},
			{
				Name:   "backup",
				Usage:  "Snapshot the store into blob storage",
				Action: backupCmd,
				Commands: []*cli.Command{
					{Name: "list", Usage: "List stored backups", Action: listBackupsCmd},
					{Name: "restore", Usage: "Merge a stored backup back in", ArgsUsage: "<key>", Action: restoreCmd},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools over stdio",
				Action: mcpCmd,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
