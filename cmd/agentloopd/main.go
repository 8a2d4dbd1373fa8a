// agentloopd is the runtime's single binary: it serves the HTTP/WebSocket
// API and runs the Cron Scheduler and Agent Pool in-process, or performs
// one-off administrative operations against the same store and config.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentloop/agentloop/pkg/agentpool"
	"github.com/agentloop/agentloop/pkg/api"
	"github.com/agentloop/agentloop/pkg/config"
	"github.com/agentloop/agentloop/pkg/cron"
	"github.com/agentloop/agentloop/pkg/database"
	"github.com/agentloop/agentloop/pkg/events"
	"github.com/agentloop/agentloop/pkg/llm"
	"github.com/agentloop/agentloop/pkg/models"
	"github.com/agentloop/agentloop/pkg/safety"
	"github.com/agentloop/agentloop/pkg/session"
	"github.com/agentloop/agentloop/pkg/slack"
	"github.com/agentloop/agentloop/pkg/store"
)

// Exit codes, spec.md §6.
const (
	exitOK              = 0
	exitOther           = 1
	exitInvalidArgs     = 2
	exitStoreUnreachable = 3
	exitConfigInvalid   = 4
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: agentloopd <serve|reload-config|list-crons|trigger-cron|end-session> [flags]")
		return exitInvalidArgs
	}

	switch args[0] {
	case "serve":
		return cmdServe(args[1:])
	case "reload-config":
		return cmdReloadConfig(args[1:])
	case "list-crons":
		return cmdListCrons(args[1:])
	case "trigger-cron":
		return cmdTriggerCron(args[1:])
	case "end-session":
		return cmdEndSession(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
		return exitInvalidArgs
	}
}

func loadEnv(configDir string) {
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment", "path", envPath)
	}
}

// loadCatalog loads and validates the Config, translating a load/validation
// failure into the ConfigInvalid exit code.
func loadCatalog(ctx context.Context, configDir string) (*config.Config, int) {
	cfg, err := config.Load(ctx, configDir)
	if err != nil {
		var valErr *config.ValidationError
		var loadErr *config.LoadError
		if errors.As(err, &valErr) || errors.As(err, &loadErr) || errors.Is(err, config.ErrConfigInvalid) {
			fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
			return nil, exitConfigInvalid
		}
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return nil, exitOther
	}
	return cfg, exitOK
}

func connectStore(ctx context.Context) (*database.Client, int) {
	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid database configuration: %v\n", err)
		return nil, exitOther
	}
	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store unreachable: %v\n", err)
		return nil, exitStoreUnreachable
	}
	return dbClient, exitOK
}

// wireRuntime builds every component a live turn needs: store gateway,
// session store, LLM gateway (with breaker knobs from the Catalog), safety
// layer, agent pool and cron scheduler. Shared by "serve" and the one-off
// subcommands that must actually execute a task (trigger-cron).
func wireRuntime(cfg *config.Config, gw *store.Gateway) (*session.Store, *llm.Gateway, *safety.Layer, *agentpool.Pool, *cron.Scheduler) {
	sessions := session.New(gw)
	gateway := llm.New(cfg, gw)
	breaker := cfg.Breaker()
	gateway.SetBreakerConfig(breaker.Threshold, breaker.CooldownBase, breaker.MaxCooldown)
	safetyLayer := safety.New(cfg.Safety(), gateway)

	mindFilesDir := getEnv("MIND_FILES_DIR", "./deploy/mind-files")
	pool := agentpool.New(cfg, sessions, gateway, safetyLayer, mindFilesDir)
	scheduler := cron.New(gw, pool, safetyLayer)

	recovery := cfg.Recovery()
	if notifier := slack.NewService(slack.ServiceConfig{Token: recovery.SlackToken, Channel: recovery.SlackChannel}); notifier != nil {
		scheduler.SetNotifier(notifier)
	}

	return sessions, gateway, safetyLayer, pool, scheduler
}

func cmdServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configDir := fs.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	addr := fs.String("addr", ":"+getEnv("HTTP_PORT", "8080"), "HTTP listen address")
	if err := fs.Parse(args); err != nil {
		return exitInvalidArgs
	}

	loadEnv(*configDir)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, code := loadCatalog(ctx, *configDir)
	if cfg == nil {
		return code
	}

	dbClient, code := connectStore(ctx)
	if dbClient == nil {
		return code
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()

	gw := store.New(dbClient.DB())
	sessions, gateway, _, pool, scheduler := wireRuntime(cfg, gw)

	conns := events.NewConnectionManager(10 * time.Second)
	pool.SetEvents(conns)
	scheduler.SetEvents(conns)

	if err := scheduler.Reload(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load cron entries: %v\n", err)
		return exitOther
	}

	pool.Start(ctx)
	scheduler.Start(ctx)
	defer scheduler.Stop()
	defer pool.Stop()

	srv := api.NewServer(cfg, gw, sessions, pool, scheduler, gateway, conns, os.Getenv("ADMIN_TOKEN"))
	if err := srv.ValidateWiring(); err != nil {
		fmt.Fprintf(os.Stderr, "server wiring incomplete: %v\n", err)
		return exitOther
	}

	serveErrCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", *addr)
		if err := srv.Start(*addr); err != nil {
			serveErrCh <- err
		}
	}()

	// reload-on-SIGHUP: a second signal channel so serve can pick up
	// config edits without a restart, independent of the shutdown
	// context above.
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	defer signal.Stop(hupCh)

	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("error during http shutdown", "error", err)
			}
			return exitOK
		case err := <-serveErrCh:
			fmt.Fprintf(os.Stderr, "http server failed: %v\n", err)
			return exitOther
		case <-hupCh:
			slog.Info("reloading configuration")
			if err := cfg.Reload(ctx); err != nil {
				slog.Error("reload rejected", "error", err)
				continue
			}
			breaker := cfg.Breaker()
			gateway.SetBreakerConfig(breaker.Threshold, breaker.CooldownBase, breaker.MaxCooldown)
			if err := scheduler.Reload(ctx); err != nil {
				slog.Error("cron reload failed", "error", err)
			}
			slog.Info("configuration reloaded")
		}
	}
}

func cmdReloadConfig(args []string) int {
	fs := flag.NewFlagSet("reload-config", flag.ContinueOnError)
	configDir := fs.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	if err := fs.Parse(args); err != nil {
		return exitInvalidArgs
	}

	cfg, code := loadCatalog(context.Background(), *configDir)
	if cfg == nil {
		return code
	}
	stats := cfg.Stats()
	fmt.Printf("configuration valid: %d agents, %d models\n", stats.Agents, stats.Models)
	return exitOK
}

func cmdListCrons(args []string) int {
	fs := flag.NewFlagSet("list-crons", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return exitInvalidArgs
	}

	ctx := context.Background()
	dbClient, code := connectStore(ctx)
	if dbClient == nil {
		return code
	}
	defer dbClient.Close()

	gw := store.New(dbClient.DB())
	entries, err := gw.ListCrons(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list cron entries: %v\n", err)
		return exitOther
	}

	for _, e := range entries {
		nextRun := "none"
		if e.NextRunAt != nil {
			nextRun = e.NextRunAt.Format(time.RFC3339)
		}
		fmt.Printf("%s\t%s\t%s\tenabled=%v\tnext_run_at=%s\n", e.ID, e.Name, e.Schedule, e.Enabled, nextRun)
	}
	return exitOK
}

func cmdTriggerCron(args []string) int {
	fs := flag.NewFlagSet("trigger-cron", flag.ContinueOnError)
	configDir := fs.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	if err := fs.Parse(args); err != nil {
		return exitInvalidArgs
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: agentloopd trigger-cron <id>")
		return exitInvalidArgs
	}
	cronID := fs.Arg(0)

	loadEnv(*configDir)
	ctx := context.Background()

	cfg, code := loadCatalog(ctx, *configDir)
	if cfg == nil {
		return code
	}

	dbClient, code := connectStore(ctx)
	if dbClient == nil {
		return code
	}
	defer dbClient.Close()

	gw := store.New(dbClient.DB())
	entry, err := gw.GetCron(ctx, cronID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cron entry not found: %v\n", err)
		return exitOther
	}

	_, _, _, pool, _ := wireRuntime(cfg, gw)
	pool.Start(ctx)
	defer pool.Stop()

	deadline := time.Now().Add(entry.MaxDuration)
	future, err := pool.Submit(ctx, agentpool.Task{
		AgentID:     entry.TargetAgent,
		Prompt:      entry.Payload,
		Deadline:    deadline,
		TaskTypeTag: "cron",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "trigger rejected: %v\n", err)
		return exitOther
	}

	result, err := future.Wait(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trigger did not complete: %v\n", err)
		return exitOther
	}
	fmt.Printf("outcome=%s session_id=%s\n", result.Outcome, result.SessionID)
	if result.Outcome == agentpool.OutcomeFailed {
		return exitOther
	}
	return exitOK
}

func cmdEndSession(args []string) int {
	fs := flag.NewFlagSet("end-session", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return exitInvalidArgs
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: agentloopd end-session <id>")
		return exitInvalidArgs
	}
	sessionID := fs.Arg(0)

	ctx := context.Background()
	dbClient, code := connectStore(ctx)
	if dbClient == nil {
		return code
	}
	defer dbClient.Close()

	gw := store.New(dbClient.DB())
	sessions := session.New(gw)
	if err := sessions.End(ctx, sessionID, models.SessionEnded); err != nil {
		fmt.Fprintf(os.Stderr, "failed to end session: %v\n", err)
		return exitOther
	}
	fmt.Printf("session %s ended\n", sessionID)
	return exitOK
}
