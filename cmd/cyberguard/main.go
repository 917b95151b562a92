package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cyberguard/internal/config"
	"cyberguard/internal/logging"
	"cyberguard/internal/orchestrator"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string

	logger *zap.Logger
	cfg    *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "cyberguard",
	Short: "CyberGuard - adaptive social engineering training simulator",
	Long: `CyberGuard runs realistic social engineering scenarios (phishing, vishing,
BEC) as interactive training sessions.

A Game Master drives each session's narrative, threat-actor agents generate
the attack content, and an evaluation agent scores every security decision
to adapt difficulty across sessions. All generated links resolve to safe
training endpoints - no real payloads, ever.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		ws := workspace
		if ws == "" {
			ws, _ = os.Getwd()
		}
		return logging.Initialize(ws, logging.Settings{
			Debug:      verbose || cfg.Logging.Debug,
			Level:      cfg.Logging.Level,
			Categories: cfg.Logging.Categories,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd starts the system as a long-running service
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the training system and keep it running",
	Long: `Assembles the full agent system (router, game master, threat actors,
evaluation and memory agents) and keeps it running until interrupted.
Expired sessions are cleaned up on the configured TTL.`,
	RunE: runService,
}

// simulateCmd runs one interactive training session on the terminal
var simulateCmd = &cobra.Command{
	Use:   "simulate [user-id]",
	Short: "Run an interactive training session",
	Long: `Starts a training session for the given user and drives it from the
terminal. Type responses the way you would react at your real desk; the
session completes when you commit to a security decision or hit the
turn limit.

Example:
  cyberguard simulate alice --role finance --type phishing`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

// sessionsCmd lists stored sessions
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions the store considers active",
	RunE:  listSessions,
}

// statusCmd shows system status
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show CyberGuard system status",
	RunE:  showStatus,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "cyberguard.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")

	simulateCmd.Flags().String("role", "", "User role (general, finance, it_admin, hr, manager)")
	simulateCmd.Flags().String("type", "phishing", "Scenario type")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runService keeps the system alive until SIGINT/SIGTERM.
func runService(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sys, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info("CyberGuard running",
		zap.Strings("agents", sys.Status().Agents),
		zap.String("db", cfg.Storage.DatabasePath))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n, err := sys.CleanupExpired(ctx); err != nil {
				logger.Warn("Session cleanup failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("Cleaned up expired sessions", zap.Int("count", n))
			}
		case <-sigCh:
			logger.Info("Shutdown signal received")
			shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
			defer done()
			return sys.Shutdown(shutdownCtx)
		}
	}
}

// runSimulate drives one session interactively.
func runSimulate(cmd *cobra.Command, args []string) error {
	userID := args[0]
	role, _ := cmd.Flags().GetString("role")
	scenarioType, _ := cmd.Flags().GetString("type")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	sys, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		_ = sys.Shutdown(shutdownCtx)
	}()

	sess, err := sys.CreateSession(ctx, userID, scenarioType, role)
	if err != nil {
		return err
	}
	logger.Info("Session started",
		zap.String("session", sess.ID),
		zap.String("user", userID),
		zap.Int("difficulty", sess.Difficulty))

	fmt.Println(sess.Turns[len(sess.Turns)-1].Text)
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	prompted := time.Now()
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "quit" || input == "exit" {
			break
		}

		responseTime := time.Since(prompted).Seconds()
		resp, err := sys.ProcessUserAction(ctx, sess.ID, input, responseTime, nil)
		if err != nil {
			return err
		}
		prompted = time.Now()

		fmt.Println()
		fmt.Println(resp.Content)
		fmt.Println()

		if resp.ScenarioComplete {
			if resp.Completion != nil {
				fmt.Printf("Session complete (%s) in %s.\n",
					resp.Completion.Reason, resp.Completion.Duration.Round(time.Second))
			}
			return nil
		}
	}
	return scanner.Err()
}

// listSessions prints active session ids from the store.
func listSessions(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sys, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = sys.Shutdown(ctx) }()

	ids, err := sys.StoredSessions(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No active sessions.")
		return nil
	}
	fmt.Printf("Active sessions (%d):\n", len(ids))
	for _, id := range ids {
		fmt.Printf("  %s\n", id)
	}
	return nil
}

// showStatus displays system status.
func showStatus(cmd *cobra.Command, args []string) error {
	fmt.Println("CyberGuard System Status")
	fmt.Println("========================")
	fmt.Printf("Version: %s\n", cfg.Version)
	fmt.Printf("Config:  %s\n", configPath)
	fmt.Println()

	if cfg.LLM.Enabled {
		fmt.Printf("✓ LLM enrichment enabled (%s)\n", cfg.LLM.Model)
	} else {
		fmt.Println("✗ LLM enrichment disabled (template-only content)")
	}
	if cfg.Storage.DatabasePath != "" {
		fmt.Printf("✓ Session store: %s\n", cfg.Storage.DatabasePath)
	} else {
		fmt.Println("✓ Session store: in-memory")
	}

	ctx := context.Background()
	sys, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = sys.Shutdown(ctx) }()

	st := sys.Status()
	fmt.Printf("✓ Agents registered: %s\n", strings.Join(st.Agents, ", "))
	fmt.Printf("✓ Max turns per session: %d\n", cfg.Scenario.MaxTurns)
	return nil
}
