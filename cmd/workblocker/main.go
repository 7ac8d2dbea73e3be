// Package main is the CLI entry point for workblocker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wwakabobik/macos-selfblocker/internal/config"
	"github.com/wwakabobik/macos-selfblocker/internal/daemon"
	"github.com/wwakabobik/macos-selfblocker/internal/domain"
	"github.com/wwakabobik/macos-selfblocker/internal/infra"
	"github.com/wwakabobik/macos-selfblocker/internal/schedule"
	"github.com/wwakabobik/macos-selfblocker/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "workblocker",
	Short: "Schedule-driven access control for work resources",
	Long: `workblocker blocks access to work files, applications and domains
outside configured working hours. It removes filesystem permissions,
quits and guards against relaunch of work apps, and installs outbound
pf firewall rules for work domains. Inside working hours everything is
restored exactly as it was.

The schedule is the single source of truth: every invocation evaluates
it and converges the system toward the state it prescribes.`,
	Version: Version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the watchdog daemon (blocks until signaled)",
	Long: `Runs the reconciliation loop in the foreground. Every cycle re-reads
the schedule, evaluates the desired state and applies only the needed
transitions. Between cycles a faster sweep re-quits guarded apps.
Intended to be started by launchd; run it manually for debugging.`,
	RunE: runRun,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation cycle and exit",
	Long: `Evaluates the schedule for the current time and converges the system
toward the prescribed state. Idempotent; safe to run from cron or
launchd triggers.`,
	RunE: runReconcile,
}

var blockCmd = &cobra.Command{
	Use:   "block [targets...]",
	Short: "Block targets now, regardless of schedule",
	Long: `Applies the blocked state immediately. With no arguments all configured
targets are blocked. Positional arguments name ad-hoc targets,
interpreted per --kind (path, app or domain); --file reads one target
per line in the same list format as the config files.`,
	RunE: runBlock,
}

var unblockCmd = &cobra.Command{
	Use:   "unblock [targets...]",
	Short: "Unblock targets (refused while the schedule says blocked)",
	Long: `Restores the unblocked state. While the schedule prescribes blocking
this command refuses to run; --force overrides, for genuine emergencies.
Target selection works like the block command.`,
	RunE: runUnblock,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show schedule state, enforcement sync and daemon liveness",
	RunE:  runStatus,
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Show the normalized weekly schedule",
	Long: `Prints the merged weekly unblocked windows and the state they
prescribe right now. Use --at to evaluate an arbitrary RFC3339 time.`,
	RunE: runSchedule,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install launchd agents for schedule triggers and the watchdog",
	RunE:  runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the launchd agents",
	RunE:  runUninstall,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

var (
	configPath string
	targetKind string
	targetFile string
	forceFlag  bool
	atFlag     string
	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default "+config.DefaultPath()+")")

	for _, c := range []*cobra.Command{blockCmd, unblockCmd} {
		c.Flags().StringVar(&targetKind, "kind", "path", "Kind of ad-hoc targets: path, app or domain")
		c.Flags().StringVarP(&targetFile, "file", "f", "", "Read targets from file, one per line")
	}
	unblockCmd.Flags().BoolVar(&forceFlag, "force", false, "Unblock even while the schedule says blocked")
	scheduleCmd.Flags().StringVar(&atFlag, "at", "", "Evaluate at this RFC3339 time instead of now")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(unblockCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(versionCmd)
}

// components holds everything one invocation wires together.
type components struct {
	cfg        *config.Config
	store      *infra.SQLStateStore
	enforcers  []domain.Enforcer
	appEnf     *usecase.AppEnforcer
	logbook    domain.Logbook
	notifier   domain.Notifier
	registry   domain.RunRegistry
	reconciler *usecase.Reconciler
	logger     *zap.Logger
}

func (c *components) close() {
	if c.store != nil {
		_ = c.store.Close()
	}
	_ = c.logger.Sync()
}

// build wires the full stack against the configured target lists.
func build(logger *zap.Logger) (*components, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	targets, err := config.LoadTargets(cfg)
	if err != nil {
		return nil, err
	}
	return buildWithTargets(logger, cfg, targets)
}

func buildWithTargets(logger *zap.Logger, cfg *config.Config, targets *domain.Targets) (*components, error) {
	keyProvider := infra.NewFileKeyProvider(cfg.StateDir)
	key, err := infra.EnsureKey(keyProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare state encryption key: %w", err)
	}
	store, err := infra.NewStateStore(cfg.StateDir, key)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	pm := infra.NewProcessManager()
	fs := infra.NewFileSystemManager()
	execMode := infra.DetectExecMode()
	agents := infra.NewLaunchdManager(execMode)
	quitter := infra.NewAppQuitter()
	resolver := infra.NewResolver()
	fw := infra.NewPFFirewall(cfg.PFAnchor, cfg.PFAnchorFile, cfg.PFConf)
	logbook := infra.NewFileLogbook(cfg.LogFile)
	notifier := infra.NewNotifier()
	registry := infra.NewRunRegistry(cfg.StateDir, pm)

	appEnf := usecase.NewAppEnforcer(targets.Apps, pm, store, agents, quitter, logger)
	enforcers := []domain.Enforcer{
		usecase.NewPathEnforcer(targets.Paths, fs, store, logger),
		appEnf,
		usecase.NewNetworkEnforcer(targets.Domains, resolver, fw, store, logger),
	}

	reconciler := usecase.NewReconciler(scheduleEval(cfg), enforcers, logbook, notifier, logger)

	return &components{
		cfg:        cfg,
		store:      store,
		enforcers:  enforcers,
		appEnf:     appEnf,
		logbook:    logbook,
		notifier:   notifier,
		registry:   registry,
		reconciler: reconciler,
		logger:     logger,
	}, nil
}

// scheduleEval re-reads the schedule file on every call so edits take
// effect on the next cycle without a restart.
func scheduleEval(cfg *config.Config) usecase.EvalFunc {
	return func(t time.Time) (domain.DesiredState, error) {
		week, err := loadWeek(cfg)
		if err != nil {
			return domain.StateBlocked, err
		}
		return week.DesiredState(t), nil
	}
}

func loadWeek(cfg *config.Config) (*schedule.Week, error) {
	spec, err := config.LoadSchedule(cfg)
	if err != nil {
		return nil, err
	}
	return spec.Normalize()
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := createDaemonLogger(cfg)
	targets, err := config.LoadTargets(cfg)
	if err != nil {
		logger.Error("failed to load targets", zap.Error(err))
		return err
	}

	comps, err := buildWithTargets(logger, cfg, targets)
	if err != nil {
		logger.Error("failed to initialize", zap.Error(err))
		return err
	}
	defer comps.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	wdCfg := daemon.Config{
		ReconcileInterval: cfg.ReconcileInterval.Std(),
		GuardInterval:     cfg.GuardInterval.Std(),
		HeartbeatInterval: 30 * time.Second,
	}
	wd := daemon.NewWatchdog(wdCfg, comps.reconciler, comps.appEnf, comps.registry, logger)

	if err := wd.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	comps, err := build(logger)
	if err != nil {
		return err
	}
	defer comps.close()

	report, err := comps.reconciler.Reconcile(context.Background(), time.Now())
	if err != nil {
		return err
	}
	printReport(report)
	if report.Count(domain.OutcomeFailed) > 0 {
		return fmt.Errorf("%d targets failed", report.Count(domain.OutcomeFailed))
	}
	return nil
}

func runBlock(cmd *cobra.Command, args []string) error {
	return applyState(domain.StateBlocked, args)
}

func runUnblock(cmd *cobra.Command, args []string) error {
	if !forceFlag {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		week, err := loadWeek(cfg)
		if err != nil {
			return fmt.Errorf("cannot verify schedule, refusing to unblock: %w", err)
		}
		if week.DesiredState(time.Now()) == domain.StateBlocked {
			return fmt.Errorf("schedule says blocked right now; use --force to override")
		}
	}
	return applyState(domain.StateUnblocked, args)
}

// applyState runs one cycle with a fixed desired state instead of the
// schedule-evaluated one, over either the configured targets or ad-hoc ones.
func applyState(desired domain.DesiredState, args []string) error {
	logger := createLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	targets, err := selectTargets(cfg, args)
	if err != nil {
		return err
	}

	comps, err := buildWithTargets(logger, cfg, targets)
	if err != nil {
		return err
	}
	defer comps.close()

	fixed := func(time.Time) (domain.DesiredState, error) { return desired, nil }
	rec := usecase.NewReconciler(fixed, comps.enforcers, comps.logbook, comps.notifier, logger)

	report, err := rec.Reconcile(context.Background(), time.Now())
	if err != nil {
		return err
	}
	printReport(report)
	if report.Count(domain.OutcomeFailed) > 0 {
		return fmt.Errorf("%d targets failed", report.Count(domain.OutcomeFailed))
	}
	return nil
}

// selectTargets resolves the target set for block/unblock: configured lists
// when no arguments are given, otherwise ad-hoc entries typed per --kind.
func selectTargets(cfg *config.Config, args []string) (*domain.Targets, error) {
	entries := append([]string(nil), args...)
	if targetFile != "" {
		fromFile, err := config.ReadList(targetFile)
		if err != nil {
			return nil, err
		}
		entries = append(entries, fromFile...)
	}

	if len(entries) == 0 {
		return config.LoadTargets(cfg)
	}

	targets := &domain.Targets{}
	switch targetKind {
	case "path":
		fs := infra.NewFileSystemManager()
		for _, e := range entries {
			targets.Paths = append(targets.Paths, domain.PathTarget{Path: fs.ExpandHome(e)})
		}
	case "app":
		apps, err := config.ParseAppTargets(entries)
		if err != nil {
			return nil, err
		}
		targets.Apps = apps
	case "domain":
		for _, e := range entries {
			targets.Domains = append(targets.Domains, domain.DomainTarget{Hostname: e})
		}
	default:
		return nil, fmt.Errorf("unknown target kind %q (want path, app or domain)", targetKind)
	}
	return targets, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger := zap.NewNop()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Println("\n=== workblocker Status ===")

	week, werr := loadWeek(cfg)
	if werr != nil {
		fmt.Printf("Schedule: ERROR (%v)\n", werr)
		fmt.Println("Desired state: blocked (fail closed)")
	} else {
		desired := week.DesiredState(time.Now())
		fmt.Printf("Desired state: %s\n", desired)
	}

	comps, err := build(logger)
	if err != nil {
		fmt.Printf("Enforcement: unavailable (%v)\n", err)
	} else {
		defer comps.close()
		desired := domain.StateBlocked
		if werr == nil {
			desired = week.DesiredState(time.Now())
		}
		ctx := context.Background()
		for _, enf := range comps.enforcers {
			inSync, err := enf.InSync(ctx, desired)
			switch {
			case err != nil:
				fmt.Printf("  %-8s unknown (%v)\n", enf.Name()+":", err)
			case inSync:
				fmt.Printf("  %-8s in sync\n", enf.Name()+":")
			default:
				fmt.Printf("  %-8s out of sync\n", enf.Name()+":")
			}
		}

		entry, _ := comps.registry.Current()
		pm := infra.NewProcessManager()
		if entry != nil && pm.IsRunning(entry.PID) {
			fmt.Printf("Watchdog: running (pid %d)\n", entry.PID)
			if entry.LastHeartbeat > 0 {
				lastBeat := time.Unix(entry.LastHeartbeat, 0)
				fmt.Printf("Last heartbeat: %s ago\n", time.Since(lastBeat).Round(time.Second))
			}
		} else {
			fmt.Println("Watchdog: not running")
		}
	}

	agents := infra.NewLaunchdManager(infra.DetectExecMode())
	if agents.IsInstalled() {
		fmt.Println("Launchd agents: installed")
	} else {
		fmt.Println("Launchd agents: not installed")
	}

	fmt.Println("==========================")
	return nil
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	week, err := loadWeek(cfg)
	if err != nil {
		return err
	}

	at := time.Now()
	if atFlag != "" {
		at, err = time.Parse(time.RFC3339, atFlag)
		if err != nil {
			return fmt.Errorf("invalid --at time (want RFC3339): %w", err)
		}
	}

	fmt.Println(week.Describe())
	fmt.Printf("\nAt %s: %s\n", at.Format("Mon 2006-01-02 15:04"), week.DesiredState(at))
	return nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	week, err := loadWeek(cfg)
	if err != nil {
		return err
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	unblock, block := week.TriggerPoints()
	agents := infra.NewLaunchdManager(infra.DetectExecMode())
	if err := agents.Install(execPath, unblock, block); err != nil {
		return fmt.Errorf("failed to install launchd agents: %w", err)
	}

	fmt.Println("Installed launchd agents:")
	fmt.Printf("  %d unblock trigger(s), %d block trigger(s), 1 watchdog\n", len(unblock), len(block))
	fmt.Println("The watchdog starts on next login; run 'workblocker run' to start it now.")
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	agents := infra.NewLaunchdManager(infra.DetectExecMode())
	if err := agents.Uninstall(); err != nil {
		return fmt.Errorf("failed to remove launchd agents: %w", err)
	}
	fmt.Println("Removed launchd agents.")
	fmt.Println("Blocked resources stay blocked; run 'workblocker unblock' to restore them.")
	return nil
}

// createLogger returns a console logger for one-shot commands.
func createLogger() *zap.Logger {
	logger, err := zap.NewDevelopment()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}

// createDaemonLogger writes structured logs next to the logbook file.
func createDaemonLogger(cfg *config.Config) *zap.Logger {
	dir := filepath.Dir(cfg.LogFile)
	_ = os.MkdirAll(dir, 0755)

	zcfg := zap.NewProductionConfig()
	zcfg.OutputPaths = []string{filepath.Join(dir, "workblocker.daemon.log")}
	zcfg.ErrorOutputPaths = []string{filepath.Join(dir, "workblocker.daemon.error.log")}
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func printReport(report *domain.Report) {
	if report.FailClosed {
		fmt.Printf("Schedule evaluation failed (%v); failed closed to blocked.\n", report.EvalErr)
	}
	fmt.Printf("Desired state: %s\n", report.Desired)

	for _, o := range report.Outcomes {
		switch o.Status {
		case domain.OutcomeChanged:
			fmt.Printf("  [%s] %s %s\n", o.Enforcer, o.Action, o.Target)
		case domain.OutcomeSkipped:
			fmt.Printf("  [%s] skipped %s (%s)\n", o.Enforcer, o.Target, o.Detail)
		case domain.OutcomeFailed:
			fmt.Printf("  [%s] FAILED %s %s: %v\n", o.Enforcer, o.Action, o.Target, o.Err)
		}
	}

	fmt.Printf("Changed: %d, unchanged: %d, skipped: %d, failed: %d (%dms)\n",
		report.Count(domain.OutcomeChanged),
		report.Count(domain.OutcomeUnchanged),
		report.Count(domain.OutcomeSkipped),
		report.Count(domain.OutcomeFailed),
		report.DurationMs)
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("workblocker %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
