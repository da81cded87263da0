package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"

	"github.com/starford/timetrail/internal"
	"github.com/starford/timetrail/internal/report"
	"github.com/starford/timetrail/internal/storage"
	"github.com/starford/timetrail/internal/tracker"
	pkgconfig "github.com/starford/timetrail/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.Root().String("config")

	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func options(cmd *cli.Command, extra ...internal.Option) ([]internal.Option, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cwd, _ := os.Getwd()
	return append([]internal.Option{internal.WithConfig(cfg), internal.WithWorkDir(cwd)}, extra...), nil
}

// openQuiet opens the app for one-shot commands; logs go to stderr at the
// configured level so stdout stays machine-readable.
func openQuiet(ctx context.Context, cmd *cli.Command) (*internal.App, error) {
	opts, err := options(cmd, internal.WithLogOutput(os.Stderr))
	if err != nil {
		return nil, err
	}
	return internal.Open(ctx, opts...)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, opts...)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func suggestCmd(ctx context.Context, cmd *cli.Command) error {
	app, err := openQuiet(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if cmd.Bool("here") {
		s, ok := app.Suggest.SuggestForCurrentDirectory(cmd.String("dir"))
		if !ok {
			fmt.Fprintln(os.Stdout, "no project matches this directory")
			return nil
		}
		return printJSON(os.Stdout, s)
	}
	items, err := app.Suggest.GenerateSuggestions(ctx, int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(os.Stdout, "no suggestions")
		return nil
	}
	for i, s := range items {
		fmt.Fprintf(os.Stdout, "%d. %-24s %3.0f%%  %s\n", i+1, label(s.Project, s.Task), s.Confidence*100, s.Reason)
	}
	return nil
}

func label(project, task string) string {
	if task == "" {
		return project
	}
	return project + "/" + task
}

func syncCmd(ctx context.Context, cmd *cli.Command) error {
	app, err := openQuiet(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.Reconciler.SyncCommits(ctx)
	if err != nil {
		return err
	}
	for _, rr := range res.Repositories {
		if rr.Error != "" {
			fmt.Fprintf(os.Stdout, "%s: failed: %s\n", rr.Repository, rr.Error)
			continue
		}
		fmt.Fprintf(os.Stdout, "%s: %d scanned, %d new, %d linked\n", rr.Repository, rr.Scanned, rr.Imported, rr.Linked)
	}
	fmt.Fprintf(os.Stdout, "total: %d new commits, %d links\n", res.Imported(), res.Linked())
	return nil
}

func reportCmd(ctx context.Context, cmd *cli.Command) error {
	from, err := report.ParseBound(cmd.String("from"), false)
	if err != nil {
		return err
	}
	to, err := report.ParseBound(cmd.String("to"), true)
	if err != nil {
		return err
	}
	output := cmd.String("output")

	app, err := openQuiet(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	out, err := app.Reports.Generate(ctx, report.Options{
		Project: cmd.String("project"),
		Task:    cmd.String("task"),
		From:    from,
		To:      to,
		Format:  report.Format(cmd.String("format")),
		GroupBy: report.GroupBy(cmd.String("group")),
		Color:   output == "" && isatty.IsTerminal(os.Stdout.Fd()),
	})
	if err != nil {
		return err
	}
	if output != "" {
		return storage.WriteAtomic(output, []byte(out))
	}
	_, err = io.WriteString(os.Stdout, out)
	return err
}

func startCmd(ctx context.Context, cmd *cli.Command) error {
	app, err := openQuiet(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	cwd, _ := os.Getwd()
	e, err := app.Tracker.StartSession(ctx, tracker.StartRequest{
		Project: cmd.String("project"),
		Task:    cmd.String("task"),
		Notes:   cmd.String("notes"),
		Planned: cmd.Duration("planned"),
		Dir:     cwd,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "started %s (%s)\n", label(e.Project, e.Task), e.ID)
	return nil
}

func transitionCmd(fn func(context.Context, *tracker.Service) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		app, err := openQuiet(ctx, cmd)
		if err != nil {
			return err
		}
		defer app.Close()
		return fn(ctx, app.Tracker)
	}
}

func statusCmd(ctx context.Context, cmd *cli.Command) error {
	app, err := openQuiet(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	st, err := app.Tracker.GetStatus(ctx)
	if err != nil {
		return err
	}
	if !st.Active {
		fmt.Fprintln(os.Stdout, "no active session")
		return nil
	}
	fmt.Fprintf(os.Stdout, "%s %s for %s", st.Entry.Status, label(st.Entry.Project, st.Entry.Task), st.Elapsed.Round(time.Second))
	if st.Remaining > 0 {
		fmt.Fprintf(os.Stdout, " (%s left)", st.Remaining.Round(time.Second))
	}
	fmt.Fprintln(os.Stdout)
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "timetrail",
		Usage:  "Watches your work, suggests what you are working on, and links commits to tracked time",
		Action: serve,
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
				Usage:  "Run the activity watcher, periodic commit sync and the HTTP API",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: serveMCP,
			},
			{
				Name:   "suggest",
				Usage:  "Suggest the current project from recent activity",
				Action: suggestCmd,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 5, Usage: "Maximum suggestions"},
					&cli.BoolFlag{Name: "here", Usage: "Classify the working directory instead"},
					&cli.StringFlag{Name: "dir", Usage: "Directory to classify with --here (default: working directory)"},
				},
			},
			{
				Name:   "sync",
				Usage:  "Import recent commits and link them to completed sessions",
				Action: syncCmd,
			},
			{
				Name:   "report",
				Usage:  "Summarize tracked time",
				Action: reportCmd,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: string(report.FormatTable), Usage: "table, json, csv or markdown"},
					&cli.StringFlag{Name: "group", Aliases: []string{"g"}, Usage: "Group by project, task or date"},
					&cli.StringFlag{Name: "from", Usage: "Window start (RFC 3339 or YYYY-MM-DD)"},
					&cli.StringFlag{Name: "to", Usage: "Window end (RFC 3339 or YYYY-MM-DD, whole day)"},
					&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "Only this project"},
					&cli.StringFlag{Name: "task", Aliases: []string{"t"}, Usage: "Only this task"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write to this file instead of stdout"},
				},
			},
			{
				Name:   "start",
				Usage:  "Start a session; the project is inferred from the working directory when omitted",
				Action: startCmd,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "project", Aliases: []string{"p"}},
					&cli.StringFlag{Name: "task", Aliases: []string{"t"}},
					&cli.StringFlag{Name: "notes"},
					&cli.DurationFlag{Name: "planned", Usage: "Planned length, e.g. 25m"},
				},
			},
			{
				Name:  "pause",
				Usage: "Pause the active session",
				Action: transitionCmd(func(ctx context.Context, s *tracker.Service) error {
					_, err := s.PauseSession(ctx)
					return err
				}),
			},
			{
				Name:  "resume",
				Usage: "Resume the paused session",
				Action: transitionCmd(func(ctx context.Context, s *tracker.Service) error {
					_, err := s.ResumeSession(ctx)
					return err
				}),
			},
			{
				Name:  "stop",
				Usage: "Stop the current session",
				Action: transitionCmd(func(ctx context.Context, s *tracker.Service) error {
					e, err := s.StopSession(ctx)
					if err == nil {
						fmt.Fprintf(os.Stdout, "%s %s\n", e.Status, label(e.Project, e.Task))
					}
					return err
				}),
			},
			{
				Name:   "status",
				Usage:  "Show the current session",
				Action: statusCmd,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
