package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/foreman-dev/foreman/internal/api"
	"github.com/foreman-dev/foreman/internal/config"
	"github.com/foreman-dev/foreman/internal/dispatcher"
	"github.com/foreman-dev/foreman/internal/eventbus"
	"github.com/foreman-dev/foreman/internal/httpapi"
	"github.com/foreman-dev/foreman/internal/merge"
	"github.com/foreman-dev/foreman/internal/protect"
	"github.com/foreman-dev/foreman/internal/router"
	"github.com/foreman-dev/foreman/internal/session"
	"github.com/foreman-dev/foreman/internal/singleton"
	"github.com/foreman-dev/foreman/internal/store"
	"github.com/foreman-dev/foreman/internal/workflow"
	"github.com/foreman-dev/foreman/internal/worktreelock"
)

var (
	startPort          int
	startInterval      time.Duration
	startMaxConcurrent int
	startTokenBudget   int
	startForeground    bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Long: `Start runs the dispatcher, router, merge coordinator, and HTTP API
as one long-lived process, holding an exclusive lock on the home
directory for as long as it runs.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().IntVar(&startPort, "port", 0, "HTTP API port (default: config.yaml's daemon.port)")
	startCmd.Flags().DurationVar(&startInterval, "interval", 0, "dispatch cycle interval (default: config.yaml's daemon.interval)")
	startCmd.Flags().IntVar(&startMaxConcurrent, "max-concurrent", 0, "max agents admitted per cycle (default: config.yaml's daemon.max_concurrent)")
	startCmd.Flags().IntVar(&startTokenBudget, "token-budget", 0, "token budget recorded in config.yaml's daemon.token_budget; the daemon does not read or enforce it")
	startCmd.Flags().BoolVar(&startForeground, "foreground", false, "run attached to this terminal instead of detaching")
}

func runStart(cmd *cobra.Command, args []string) error {
	home := resolveHome(cmd)

	if !startForeground {
		return daemonize(home, cmd)
	}

	lock, err := singleton.Acquire(home)
	if err != nil {
		if err == singleton.ErrAlreadyRunning {
			return fmt.Errorf("daemon already running (see `foreman status`)")
		}
		return err
	}
	defer lock.Release()

	if err := singleton.MigrateFilesystem(home); err != nil {
		return fmt.Errorf("migrate home directory: %w", err)
	}

	cfg, err := config.Load(home)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyStartOverrides(cfg, cmd)

	db, err := openStore(home)
	if err != nil {
		return err
	}
	defer db.Close()

	bus := eventbus.New()
	engine := workflow.New(db, bus)
	locks := worktreelock.New()

	client, err := api.NewClient(api.ClientConfig{
		Model:         anthropic.ModelClaudeSonnet4_20250514,
		APIKey:        cfg.Anthropic.APIKey,
		UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return fmt.Errorf("create anthropic client: %w", err)
	}
	executor := session.NewAPIExecutor(client)

	worktreeBase := filepath.Join(home, "projects")

	allowlist, err := protect.Load(networkPath(home))
	if err != nil {
		return fmt.Errorf("load network allowlist: %w", err)
	}

	disp := dispatcher.New(db, bus, executor, locks, dispatcher.Config{
		Interval:        cfg.Daemon.Interval,
		MaxConcurrent:   cfg.Daemon.MaxConcurrent,
		DrainTimeout:    cfg.Daemon.GracefulTimeout,
		Preamble:        buildPreamble,
		WorktreeBaseDir: worktreeBase,
		AllowedDomains:  allowlist.Allowed,
	})

	rt := router.New(db, bus, router.Config{
		Interval:    cfg.Daemon.Interval,
		HumanMember: cfg.DefaultHuman,
	})

	mc := merge.New(db, bus, engine, locks, worktreeBase)

	srv := httpapi.NewServer(db, bus, engine)

	ctx, cancel := context.WithCancel(context.Background())
	stopSignals := singleton.NotifyShutdown(cancel)
	defer stopSignals()

	if err := allowlist.Watch(ctx); err != nil {
		return fmt.Errorf("watch network allowlist: %w", err)
	}

	go disp.Run(ctx)
	go rt.Run(ctx)
	go mc.Run(ctx)

	addr := fmt.Sprintf(":%d", cfg.Daemon.Port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Routes()}
	go func() {
		log.Printf("[foreman] HTTP API listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[foreman] HTTP server error: %v", err)
		}
	}()

	if !startForeground {
		log.Printf("[foreman] daemon started, home=%s pid written to %s", home, singleton.PIDPath(home))
	}

	<-ctx.Done()
	log.Printf("[foreman] shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Daemon.GracefulTimeout)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	disp.Wait()
	return nil
}

// daemonize re-execs the current binary with --foreground in a detached
// session, then returns immediately so the invoking shell gets its prompt
// back. Go offers no fork(); re-exec-and-detach is the standard
// workaround (the same shape singleton itself uses for the PID file it
// then supervises).
func daemonize(home string, cmd *cobra.Command) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	childArgs := []string{"start", "--foreground"}
	if cmd.Flags().Changed("port") {
		childArgs = append(childArgs, "--port", strconv.Itoa(startPort))
	}
	if cmd.Flags().Changed("interval") {
		childArgs = append(childArgs, "--interval", startInterval.String())
	}
	if cmd.Flags().Changed("max-concurrent") {
		childArgs = append(childArgs, "--max-concurrent", strconv.Itoa(startMaxConcurrent))
	}
	if cmd.Flags().Changed("token-budget") {
		childArgs = append(childArgs, "--token-budget", strconv.Itoa(startTokenBudget))
	}
	if homeFlag, _ := cmd.Flags().GetString("home"); homeFlag != "" {
		childArgs = append(childArgs, "--home", homeFlag)
	}

	logPath := filepath.Join(home, "protected", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("create protected dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open daemon log: %w", err)
	}

	child := exec.Command(exe, childArgs...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("start daemon: %w", err)
	}
	logFile.Close()

	fmt.Printf("daemon started, pid=%d, logs=%s\n", child.Process.Pid, logPath)
	return nil
}

// applyStartOverrides layers explicitly-set CLI flags over the loaded
// config, following cobra's Changed() convention so an absent flag never
// clobbers a value already set in config.yaml.
func applyStartOverrides(cfg *config.Config, cmd *cobra.Command) {
	if cmd.Flags().Changed("port") {
		cfg.Daemon.Port = startPort
	}
	if cmd.Flags().Changed("interval") {
		cfg.Daemon.Interval = startInterval
	}
	if cmd.Flags().Changed("max-concurrent") {
		cfg.Daemon.MaxConcurrent = startMaxConcurrent
	}
	if cmd.Flags().Changed("token-budget") {
		cfg.Daemon.TokenBudget = startTokenBudget
	}
}

// buildPreamble composes an agent's turn-0 role instructions from its
// team and roster row.
func buildPreamble(team *store.Team, agent *store.Participant) string {
	return fmt.Sprintf(
		"You are %s, a %s on team %q. Check your inbox and task queue, then do the next piece of work.",
		agent.Name, roleOrDefault(agent.Role), team.Name,
	)
}

func roleOrDefault(role string) string {
	if role == "" {
		return "agent"
	}
	return role
}
