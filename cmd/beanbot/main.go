// Beanbot is a conversational garden assistant agent.
//
// It keeps a markdown knowledge library about the garden, tracks tasks
// with recurrence, watches the weather for frost and heavy rain, and
// answers questions through a tool-calling loop backed by Gemini.
// Configuration comes from the environment; a .env file in the working
// directory is loaded first if present.
//
// Usage:
//
//	beanbot chat [thread-id]   Interactive conversation on stdin
//	beanbot ask <question>     Ask a single question and exit
//	beanbot prune              Run the retention compaction pass now
//	beanbot version            Print version and build information
//	beanbot -o json version    Output version information as JSON
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/beanbot/beanbot/internal/agent"
	"github.com/beanbot/beanbot/internal/buildinfo"
	"github.com/beanbot/beanbot/internal/checkpoint"
	"github.com/beanbot/beanbot/internal/config"
	"github.com/beanbot/beanbot/internal/fetch"
	"github.com/beanbot/beanbot/internal/knowledge"
	"github.com/beanbot/beanbot/internal/llm"
	"github.com/beanbot/beanbot/internal/retention"
	"github.com/beanbot/beanbot/internal/search"
	"github.com/beanbot/beanbot/internal/tools"
	"github.com/beanbot/beanbot/internal/weather"

	"github.com/joho/godotenv"
)

// main constructs the OS-level environment and delegates to [run] so
// the full lifecycle can be driven from tests without os.Exit.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses arguments by hand. The flag package relies on
// package-level globals, which makes it impossible to call run()
// concurrently from tests, and the argument surface here is small.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var outputFmt string
	var channel string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case args[i] == "-channel" && i+1 < len(args):
			channel = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-channel="):
			channel = strings.TrimPrefix(args[i], "-channel=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "chat":
		threadID := "cli"
		if len(cmdArgs) > 0 {
			threadID = cmdArgs[0]
		}
		return runChat(ctx, stdin, stdout, threadID, channel)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: beanbot ask <question>")
		}
		return runAsk(ctx, stdout, channel, strings.Join(cmdArgs, " "))
	case "prune":
		return runPrune(stdout)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Beanbot - Garden Assistant Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: beanbot [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  chat [thread-id]  Interactive conversation on stdin (default thread: cli)")
	fmt.Fprintln(w, "  ask <question>    Ask a single question and exit")
	fmt.Fprintln(w, "  prune             Run the retention compaction pass now")
	fmt.Fprintln(w, "  version           Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -channel <name>   Conversation context: journal, questions,")
	fmt.Fprintln(w, "                    knowledge_ingest, or onboarding")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	return nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig reads the .env file when present and then the process
// environment. A missing .env is not an error.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return config.FromEnv()
}

// app bundles every long-lived component chat and ask need.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *checkpoint.Store
	client llm.Client
	loop   *agent.Loop
}

func (a *app) close() {
	if a.store != nil {
		_ = a.store.Close()
	}
}

// buildApp wires the whole agent: checkpoint store, knowledge library,
// member registry, optional web search / fetch / weather services, the
// tool registry, and the agent loop on top.
func buildApp(stdout io.Writer) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := newLogger(stdout, level)
	logger.Info("starting Beanbot", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	store, err := checkpoint.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	library, err := knowledge.New(cfg.KnowledgeDir, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open knowledge library: %w", err)
	}
	members := knowledge.NewMembers(filepath.Join(cfg.KnowledgeDir, "members.yaml"))

	// Optional services register their tools only when configured, so
	// the model never sees a capability it cannot use.
	var searcher *search.Manager
	switch {
	case cfg.BraveAPIKey != "":
		searcher = search.NewManager("brave")
		searcher.Register(search.NewBrave(cfg.BraveAPIKey))
		if cfg.SearXNGURL != "" {
			searcher.Register(search.NewSearXNG(cfg.SearXNGURL))
		}
	case cfg.SearXNGURL != "":
		searcher = search.NewManager("searxng")
		searcher.Register(search.NewSearXNG(cfg.SearXNGURL))
	}

	wx := weather.New(cfg.WeatherAPIKey, cfg.WeatherLat, cfg.WeatherLon, logger)

	registry := tools.NewRegistry()
	tools.RegisterGardenTools(registry, tools.GardenDeps{
		Library: library,
		Members: members,
		Search:  searcher,
		Fetch:   fetch.New(),
		Weather: wx,
		Logger:  logger,
	})
	logger.Info("tools registered", "count", len(registry.Names()))

	client := llm.NewGeminiClient(cfg.GeminiAPIKey, cfg.Temperature, logger)

	loop := agent.NewLoop(logger, client, registry, store, agent.Config{
		Model:           cfg.GeminiModel,
		MaxContextTurns: cfg.MaxContextTurns,
		Truncate: agent.TruncateLimits{
			Threshold:  cfg.TruncateThreshold,
			ToolLimit:  cfg.ToolResultLimit,
			HumanLimit: cfg.HumanMessageLimit,
		},
	})

	return &app{cfg: cfg, logger: logger, store: store, client: client, loop: loop}, nil
}

// runChat reads lines from stdin and runs each as one agent turn
// against a persistent thread. The retention compactor runs on its
// nightly schedule for the life of the session.
func runChat(ctx context.Context, stdin io.Reader, stdout io.Writer, threadID, channel string) error {
	a, err := buildApp(stdout)
	if err != nil {
		return err
	}
	defer a.close()

	// SIGINT/SIGTERM cancel the context and end the session cleanly.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hour, minute, err := config.ParseClockTime(a.cfg.PruneTime)
	if err != nil {
		return err
	}
	compactor := retention.New(a.store, a.logger, retention.Config{
		Hour:          hour,
		Minute:        minute,
		RetentionDays: a.cfg.RetentionDays,
		MaxRevisions:  a.cfg.MaxThreadRevisions,
	})
	if err := compactor.Start(); err != nil {
		return err
	}
	defer compactor.Stop()

	// Best effort. A failed ping is worth knowing about but the model
	// backend may still recover before the first turn.
	if err := a.client.Ping(ctx); err != nil {
		a.logger.Warn("model backend unreachable", "error", err)
	}

	fmt.Fprintf(stdout, "Beanbot ready on thread %q. Ctrl-D or Ctrl-C to exit.\n", threadID)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(stdout, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(stdout)
			a.logger.Info("shutting down")
			return nil
		case err := <-scanErr:
			fmt.Fprintln(stdout)
			return err
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			result, err := a.loop.RunTurn(ctx, agent.TurnRequest{
				ThreadID: threadID,
				Channel:  channel,
				Content:  line,
				Timeout:  a.cfg.TurnTimeout,
			})
			if err != nil {
				fmt.Fprintf(stdout, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(stdout, result.Content)
		}
	}
}

// runAsk answers a single question on a throwaway thread.
func runAsk(ctx context.Context, stdout io.Writer, channel, question string) error {
	a, err := buildApp(stdout)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.loop.RunTurn(ctx, agent.TurnRequest{
		ThreadID: "cli",
		Channel:  channel,
		Content:  question,
		Timeout:  a.cfg.TurnTimeout,
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, result.Content)
	return nil
}

// runPrune executes the retention compaction pass immediately instead
// of waiting for the nightly schedule.
func runPrune(stdout io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, level)

	store, err := checkpoint.Open(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer store.Close()

	hour, minute, err := config.ParseClockTime(cfg.PruneTime)
	if err != nil {
		return err
	}
	compactor := retention.New(store, logger, retention.Config{
		Hour:          hour,
		Minute:        minute,
		RetentionDays: cfg.RetentionDays,
		MaxRevisions:  cfg.MaxThreadRevisions,
	})

	stats, err := compactor.RunOnce()
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}

	fmt.Fprintf(stdout, "Pruned %d expired rows, %d excess revisions.\n",
		stats.RowsExpired, stats.RevisionsDeleted)
	return nil
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}
