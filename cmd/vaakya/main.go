// Vaakya is a voice-assistant agent engine for small local models.
//
// It drives an Ollama-compatible model through a text tool-calling
// protocol, dispatching file, search, and application-launch
// capabilities, and exposes the result over an HTTP API with a live
// WebSocket event stream. Configuration is loaded from a single YAML
// file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	vaakya serve             Start the API server
//	vaakya ask <text>        Run a single turn (for testing)
//	vaakya apps [query]      List discovered applications, optionally ranked
//	vaakya version           Print version and build information
//	vaakya -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vaakya/vaakya/internal/api"
	"github.com/vaakya/vaakya/internal/apps"
	"github.com/vaakya/vaakya/internal/buildinfo"
	"github.com/vaakya/vaakya/internal/capability"
	"github.com/vaakya/vaakya/internal/config"
	"github.com/vaakya/vaakya/internal/events"
	"github.com/vaakya/vaakya/internal/files"
	"github.com/vaakya/vaakya/internal/llm"
	"github.com/vaakya/vaakya/internal/search"
	"github.com/vaakya/vaakya/internal/session"
	"github.com/vaakya/vaakya/internal/speech"
	"github.com/vaakya/vaakya/internal/transcribe"
	"github.com/vaakya/vaakya/internal/transcript"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the vaakya command. All OS-level
// dependencies are injected as parameters so tests can drive the full
// lifecycle. Arguments are parsed by hand rather than with the flag
// package: flag relies on package-level globals, which prevents
// calling run() concurrently from tests, and the argument surface here
// is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
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
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: vaakya ask <text>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "apps":
		return runApps(stdout, configPath, cmdArgs, outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
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

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Vaakya - Voice Assistant Agent Engine")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: vaakya [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve         Start the API server")
	fmt.Fprintln(w, "  ask <text>    Run a single turn (for testing)")
	fmt.Fprintln(w, "  apps [query]  List discovered applications, optionally ranked against query")
	fmt.Fprintln(w, "  version       Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./vaakya.yaml, ~/.config/vaakya/config.yaml, /etc/vaakya/config.yaml")
	return nil
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
// Otherwise the default locations are searched; if none exists, the
// built-in defaults apply.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		// No config file anywhere is fine for local use.
		return config.Default(), "(defaults)", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// newLogger creates a structured text logger writing to w at the given
// level. All log output goes through slog; this helper standardizes
// the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// buildRegistry assembles the capability registry from configuration.
// Families whose prerequisites are missing (no workspace roots, no
// search provider) register nothing and the model never sees them.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*capability.Registry, error) {
	registry := capability.NewRegistry()

	sandbox, err := files.NewSandbox(cfg.Workspace.Roots, cfg.Workspace.WriteExtensions)
	if err != nil {
		return nil, fmt.Errorf("configure workspace sandbox: %w", err)
	}
	if err := files.Register(registry, files.NewOps(sandbox)); err != nil {
		return nil, fmt.Errorf("register file capabilities: %w", err)
	}
	if sandbox.Enabled() {
		logger.Info("file capabilities enabled", "roots", sandbox.Roots())
	} else {
		logger.Info("file capabilities disabled (no workspace roots configured)")
	}

	mgr := search.NewManager(cfg.Search.Provider, cfg.Search.MaxResults, cfg.Search.SnippetLength)
	switch cfg.Search.Provider {
	case "searxng":
		if cfg.Search.SearXNGURL == "" {
			return nil, fmt.Errorf("search provider searxng requires searxng_url")
		}
		mgr.Register(search.NewSearXNG(cfg.Search.SearXNGURL))
	case "duckduckgo":
		mgr.Register(search.NewDuckDuckGo(""))
	case "":
		// search disabled
	default:
		return nil, fmt.Errorf("unknown search provider: %q", cfg.Search.Provider)
	}
	if err := search.Register(registry, mgr); err != nil {
		return nil, fmt.Errorf("register search capability: %w", err)
	}
	if mgr.Configured() {
		logger.Info("web search enabled", "provider", cfg.Search.Provider)
	} else {
		logger.Info("web search disabled")
	}

	catalog := apps.NewCatalog(cfg.Apps.ExtraDirs)
	launcher := apps.NewLauncher(catalog, cfg.Apps.MatchThreshold,
		time.Duration(cfg.Apps.LaunchTimeoutSec)*time.Second)
	if err := apps.Register(registry, launcher); err != nil {
		return nil, fmt.Errorf("register app capabilities: %w", err)
	}
	logger.Info("app launcher enabled",
		"applications", len(catalog.Apps()),
		"threshold", cfg.Apps.MatchThreshold,
	)

	return registry, nil
}

// systemPrompt renders the instruction block that teaches the model
// the tool-calling protocol, with the registry's capability specs
// embedded. The registry renders specs in name order, so the prompt is
// stable across runs and a pinned window message stays cheap to cache.
func systemPrompt(registry *capability.Registry) string {
	specs, err := json.MarshalIndent(registry.Specs(), "", "  ")
	if err != nil {
		specs = []byte("[]")
	}

	var b strings.Builder
	b.WriteString("You are Vaakya, a voice assistant. Answer briefly and conversationally; ")
	b.WriteString("your replies are spoken aloud.\n\n")
	b.WriteString("You can use tools. To call one, emit exactly:\n\n")
	b.WriteString("<tool_call>{\"name\": \"<tool name>\", \"arguments\": {...}}</tool_call>\n\n")
	b.WriteString("Each call goes on its own line. After your calls run, their results are ")
	b.WriteString("appended to the conversation and you respond again. When you have what ")
	b.WriteString("you need, answer the user in plain text with no tool_call tags.\n\n")
	b.WriteString("Available tools:\n\n")
	b.Write(specs)
	return b.String()
}

// buildSessionManager wires the model client, dispatcher, and session
// configuration shared by serve and ask.
func buildSessionManager(cfg *config.Config, registry *capability.Registry, bus *events.Bus, logger *slog.Logger) (*session.Manager, llm.Client) {
	backend := llm.NewOllamaClient(cfg.Model.BaseURL, cfg.Model.Name,
		time.Duration(cfg.Model.TimeoutSec)*time.Second)

	dispatcher := capability.NewDispatcher(registry, 30*time.Second, logger)

	sessions := session.NewManager(backend, dispatcher, session.Config{
		SystemPrompt: systemPrompt(registry),
		TokenBudget:  cfg.Model.TokenBudget,
		MaxRounds:    cfg.Model.MaxRounds,
	}, bus, logger)

	return sessions, backend
}

// runAsk handles the "vaakya ask <text>" subcommand. It boots the full
// capability registry but no server or persistence, runs a single turn,
// and prints the speakable response to stdout.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}

	sessions, _ := buildSessionManager(cfg, registry, nil, logger)
	sess := sessions.Create()

	out := sess.Run(ctx, strings.Join(args, " "))
	if out.Err != nil {
		return fmt.Errorf("ask: %w", out.Err)
	}

	fmt.Fprintln(stdout, speech.Speakable(out.Content))
	return nil
}

// runApps handles the "vaakya apps [query]" subcommand. Without a
// query it lists every discovered application; with one it prints the
// ranked candidates and their scores, which is the quickest way to see
// why a launch request resolved the way it did.
func runApps(stdout io.Writer, configPath string, args []string, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	catalog := apps.NewCatalog(cfg.Apps.ExtraDirs)

	if len(args) == 0 {
		all := catalog.Apps()
		if outputFmt == "json" {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(all)
		}
		for _, a := range all {
			fmt.Fprintf(stdout, "%-30s %s\n", a.Name, a.Path)
		}
		fmt.Fprintf(stdout, "%d applications\n", len(all))
		return nil
	}

	query := strings.Join(args, " ")
	ranked := catalog.Rank(query)
	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ranked)
	}
	for _, c := range ranked {
		if c.Score == 0 {
			continue
		}
		fmt.Fprintf(stdout, "%3d  %s\n", c.Score, c.App.Name)
	}
	return nil
}

// runServe handles the "vaakya serve" subcommand. It is the primary
// operating mode: loads config, builds the capability registry, opens
// the transcript store, starts the API server, and blocks until a
// shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Vaakya", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known. The
	// initial Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Model.Name,
		"base_url", cfg.Model.BaseURL,
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}

	bus := events.New()
	sessions, backend := buildSessionManager(cfg, registry, bus, logger)

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, sessions, registry, backend, bus, logger)

	// Transcript store. Every completed turn is persisted so history
	// survives restarts.
	dbPath := cfg.DataDir + "/vaakya.db"
	store, err := transcript.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open transcript store %s: %w", dbPath, err)
	}
	defer store.Close()
	server.SetTranscriptStore(store)
	logger.Info("transcript store opened", "path", dbPath)

	// Speech-to-text is optional. Without it, POST /v1/transcribe
	// reports service unavailable and clients send text turns.
	if cfg.Transcriber.URL != "" {
		server.SetTranscriber(transcribe.New(cfg.Transcriber.URL,
			time.Duration(cfg.Transcriber.TimeoutSec)*time.Second))
		logger.Info("transcriber configured", "url", cfg.Transcriber.URL)
	} else {
		logger.Info("transcriber disabled (no url configured)")
	}

	// Warn early if the model backend is unreachable. Serving continues
	// regardless; the health endpoint reports degraded until it is back.
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := backend.Ping(pingCtx); err != nil {
		logger.Warn("model backend unreachable", "base_url", cfg.Model.BaseURL, "error", err)
	}
	pingCancel()

	// SIGINT/SIGTERM cancellation flows through the same ctx used by
	// all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		_ = server.Shutdown(context.Background())
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Vaakya stopped")
	return nil
}
