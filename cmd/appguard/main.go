// Package main is the CLI entry point for appguard.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/appguard/internal/config"
	"github.com/eliteGoblin/focusd/appguard/internal/daemon"
	"github.com/eliteGoblin/focusd/appguard/internal/domain"
	"github.com/eliteGoblin/focusd/appguard/internal/infra"
	"github.com/eliteGoblin/focusd/appguard/internal/metrics"
	"github.com/eliteGoblin/focusd/appguard/internal/policy"
	"github.com/eliteGoblin/focusd/appguard/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

// envToken seeds the credential; it is never written to disk.
const envToken = "APPGUARD_TOKEN"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "appguard",
	Short: "Endpoint compliance agent - reports forbidden applications",
	Long: `appguard keeps a locally cached list of forbidden applications,
periodically inspects running processes, and reports violations to the
compliance authority. It keeps enforcing the last known policy while
the network is unavailable.`,
	Version:      Version,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent in the foreground",
	Long: `Runs the monitoring scheduler and the local control server until
interrupted. The agent waits for a credential (APPGUARD_TOKEN or
'appguard token set') before syncing or scanning.`,
	RunE: runRun,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the agent in the background",
	RunE:  runStart,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Sync the policy and run one scan immediately",
	Long: `Runs a one-time policy sync and process scan without the daemon.
Requires --token or APPGUARD_TOKEN. Use --dry-run to list matches
without reporting them.`,
	RunE: runScan,
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show the cached policy",
	RunE:  runPolicy,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running agent's status",
	RunE:  runStatus,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the running agent's credential",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set <token>",
	Short: "Hand the running agent a bearer token",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenSet,
}

var tokenClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the running agent's token (stops syncing and scanning)",
	RunE:  runTokenClear,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent report attempts from the encrypted journal",
	RunE:  runHistory,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath   string
	scanToken    string
	dryRun       bool
	historyLimit int
	jsonOutput   bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (default: per-user config directory)")
	scanCmd.Flags().StringVar(&scanToken, "token", "", "Bearer token (default: $"+envToken+")")
	scanCmd.Flags().BoolVar(&dryRun, "dry-run", false, "List matches without reporting")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of records to show")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	tokenCmd.AddCommand(tokenSetCmd)
	tokenCmd.AddCommand(tokenClearCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

// environment is the resolved configuration plus file locations.
type environment struct {
	cfg       *config.Config
	loader    *config.Loader
	paths     *infra.PathsConfig
	cachePath string
	dataDir   string
	logPath   string
}

func loadEnvironment() (*environment, error) {
	paths := infra.DetectPaths()
	path := configPath
	if path == "" {
		path = paths.ConfigPath
	}

	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	resolved := paths.WithOverrides(cfg.CachePath, cfg.DataDir)
	env := &environment{
		cfg:       cfg,
		loader:    loader,
		paths:     paths,
		cachePath: resolved.CachePath,
		dataDir:   resolved.DataDir,
		logPath:   resolved.LogPath,
	}
	return env, nil
}

// controlClient returns a client carrying the running daemon's control
// secret. Without a readable secret the daemon answers 401.
func (e *environment) controlClient() *daemon.ControlClient {
	client := daemon.NewControlClient(e.cfg.ControlAddr)
	if secret, err := daemon.ReadControlSecret(e.dataDir); err == nil {
		client.WithSecret(secret)
	}
	return client
}

func settingsFrom(cfg *config.Config) daemon.Settings {
	return daemon.Settings{
		AuthorityURL:      cfg.AuthorityURL,
		SyncInterval:      cfg.SyncInterval.Std(),
		ScanInterval:      cfg.ScanInterval.Std(),
		CredentialBackoff: cfg.CredentialBackoff.Std(),
		HeartbeatInterval: cfg.HeartbeatInterval.Std(),
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	if err := env.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration (%s): %w", env.loader.Path(), err)
	}
	if err := os.MkdirAll(env.dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	level, err := zap.ParseAtomicLevel(env.cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := createLogger(env.logPath, level, true)
	defer func() { _ = logger.Sync() }()

	// Set up graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deviceID := infra.DeviceID(ctx)

	creds := infra.NewCredentialStore()
	if token := os.Getenv(envToken); token != "" {
		creds.Set(token)
	}

	authority := infra.NewAuthorityClient(env.cfg.RequestTimeout.Std())
	cache := infra.NewFilePolicyCacheWithPath(env.cachePath)
	syncer := policy.NewSyncer(authority, cache, logger)

	var m *metrics.Metrics
	var metricsHandler http.Handler
	if env.cfg.MetricsEnabled {
		m = metrics.New()
		metricsHandler = m.Handler()
	}

	events := daemon.NewEventBuffer(daemon.DefaultEventCapacity)
	observer := daemon.NewMultiObserver(daemon.NewLogObserver(logger), events)

	detector := usecase.NewDetector(infra.NewProcessInspector(), policy.NewDeduper(), authority, logger).
		WithObserver(observer).
		WithMetrics(m)

	journal, err := infra.OpenJournal(env.dataDir)
	if err != nil {
		logger.Warn("report journal unavailable, continuing without history", zap.Error(err))
	} else {
		defer journal.Close()
		if journal.SetAside() != "" {
			logger.Warn("report journal key did not match, previous history moved aside",
				zap.String("moved_to", journal.SetAside()))
		}
		detector.WithJournal(journal)
	}

	sched := daemon.NewScheduler(settingsFrom(env.cfg), creds, syncer, detector, deviceID, logger).
		WithHeartbeat(authority).
		WithObserver(observer).
		WithMetrics(m)

	secret, err := daemon.WriteControlSecret(env.dataDir)
	if err != nil {
		return err
	}
	control := daemon.NewControlServer(env.cfg.ControlAddr, creds, sched, events, metricsHandler, logger).
		WithSecret(secret)
	if err := control.Start(); err != nil {
		return fmt.Errorf("failed to start control server on %s: %w", env.cfg.ControlAddr, err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := control.Shutdown(shutdownCtx); err != nil {
			logger.Warn("control server shutdown failed", zap.Error(err))
		}
	}()

	current := env.cfg
	watcher, err := config.NewWatcher(env.loader, func(c *config.Config) {
		if changed := config.RestartRequired(current, c); len(changed) > 0 {
			logger.Warn("config changes take effect after restart", zap.Strings("fields", changed))
		}
		current = c
		if l, err := zap.ParseAtomicLevel(c.LogLevel); err == nil {
			level.SetLevel(l.Level())
		}
		sched.UpdateSettings(settingsFrom(c))
	}, logger)
	if err != nil {
		logger.Warn("config hot reload unavailable", zap.Error(err))
	} else {
		defer watcher.Stop()
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("config hot reload unavailable", zap.Error(err))
		}
	}

	logger.Info("appguard started",
		zap.String("version", Version),
		zap.String("device_id", deviceID),
		zap.String("authority_url", env.cfg.AuthorityURL),
		zap.String("cache", env.cachePath),
		zap.Bool("has_credential", creds.Get() != ""))

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("received shutdown signal")
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	if err := env.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration (%s): %w", env.loader.Path(), err)
	}

	if _, err := env.controlClient().Status(cmd.Context()); err == nil {
		fmt.Println("appguard is already running")
		return nil
	}

	var runArgs []string
	if configPath != "" {
		runArgs = append(runArgs, "--config", configPath)
	}
	pid, err := daemon.StartBackground("", "", runArgs...)
	if err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}

	fmt.Printf("appguard started in the background (pid %d)\n", pid)
	fmt.Printf("Log: %s\n", env.logPath)
	fmt.Println("Hand it a credential with: appguard token set <token>")
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	if err := env.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration (%s): %w", env.loader.Path(), err)
	}

	token := scanToken
	if token == "" {
		token = os.Getenv(envToken)
	}
	if token == "" && !dryRun {
		return fmt.Errorf("no credential: pass --token or set %s", envToken)
	}

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	deviceID := infra.DeviceID(ctx)
	authority := infra.NewAuthorityClient(env.cfg.RequestTimeout.Std())
	cache := infra.NewFilePolicyCacheWithPath(env.cachePath)

	fmt.Println("\n=== Running Compliance Scan ===")

	var res domain.SyncResult
	if token != "" {
		res = policy.NewSyncer(authority, cache, logger).Sync(ctx, env.cfg.AuthorityURL, token)
	} else {
		p, err := cache.Load()
		if err != nil {
			logger.Warn("policy cache unreadable", zap.Error(err))
		}
		res = domain.SyncResult{Policy: p, Source: domain.SourceCache}
	}
	fmt.Printf("Policy: %d entries (source: %s)\n", res.Policy.Len(), res.Source)
	if res.Policy.IsEmpty() {
		fmt.Println("\nNo policy available, nothing to scan.")
		return nil
	}

	detector := usecase.NewDetector(infra.NewProcessInspector(), policy.NewDeduper(), authority, logger)

	if dryRun {
		matches, err := detector.DryRun(ctx, deviceID, res.Policy)
		if err != nil {
			return fmt.Errorf("process inspection failed: %w", err)
		}
		printViolations("Matches (not reported)", matches)
		return nil
	}

	if journal, err := infra.OpenJournal(env.dataDir); err == nil {
		defer journal.Close()
		detector.WithJournal(journal)
	} else {
		logger.Warn("report journal unavailable", zap.Error(err))
	}

	result := detector.RunCycle(ctx, env.cfg.AuthorityURL, token, deviceID, res.Policy)
	fmt.Printf("Processes inspected: %d\n", result.ProcessesSeen)
	printViolations("Reported", result.Reported)
	printViolations("Failed to report", result.Failed)
	if len(result.Matched) == 0 {
		fmt.Println("\nNo forbidden applications running.")
	}
	fmt.Println("================================")
	return nil
}

func printViolations(title string, vs []domain.Violation) {
	if len(vs) == 0 {
		return
	}
	fmt.Printf("\n%s: %d\n", title, len(vs))
	for _, v := range vs {
		fmt.Printf("  - %s (pid %d, severity %s)\n", v.AppDetected, v.ProcessID, v.Severity)
	}
}

func runPolicy(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}

	cache := infra.NewFilePolicyCacheWithPath(env.cachePath)
	p, err := cache.Load()
	if err != nil {
		return fmt.Errorf("failed to read policy cache: %w", err)
	}

	fmt.Println("\n=== Forbidden Applications ===")
	fmt.Printf("Cache: %s\n", cache.Path())
	if p.IsEmpty() {
		fmt.Println("\nNo cached policy yet.")
		return nil
	}
	if !p.LastUpdated.IsZero() {
		fmt.Printf("Last updated: %s (%s ago)\n",
			p.LastUpdated.Format(time.RFC3339), time.Since(p.LastUpdated).Round(time.Second))
	}
	fmt.Println()
	for _, e := range p.Entries {
		fmt.Printf("  - %-30s severity: %s\n", e.ProcessNamePattern, e.Severity)
	}
	fmt.Println("==============================")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}

	fmt.Println("\n=== appguard Status ===")

	if host, err := infra.DescribeHost(cmd.Context()); err == nil {
		fmt.Printf("Host: %s (%s %s)\n", host.Hostname, host.Platform, host.PlatformVersion)
	}
	fmt.Printf("Execution mode: %s\n", env.paths.Mode)

	st, err := env.controlClient().Status(cmd.Context())
	if err != nil {
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'appguard start' to enable monitoring.")
		return nil
	}

	fmt.Printf("Status: RUNNING (%s)\n", st.State)
	fmt.Printf("Device ID: %s\n", st.DeviceID)
	fmt.Printf("Credential: %s\n", map[bool]string{true: "set", false: "missing"}[st.HasCredential])
	fmt.Printf("Policy entries: %d\n", st.PolicyEntries)
	if st.LastSync != nil {
		fmt.Printf("Last sync: %s ago (source: %s)\n", time.Since(*st.LastSync).Round(time.Second), st.LastSyncSource)
	}
	if st.LastScan != nil {
		fmt.Printf("Last scan: %s ago\n", time.Since(*st.LastScan).Round(time.Second))
	}
	fmt.Printf("Reported processes: %d\n", st.ReportedPIDs)

	if len(st.RecentEvents) > 0 {
		fmt.Println("\nRecent events:")
		for _, e := range st.RecentEvents {
			switch e.Type {
			case daemon.EventPolicyUpdated:
				fmt.Printf("  %s  policy updated (%d entries)\n", e.Time.Format(time.TimeOnly), e.Count)
			case daemon.EventViolationDetected:
				if e.Violation != nil {
					fmt.Printf("  %s  violation: %s (pid %d)\n", e.Time.Format(time.TimeOnly), e.Violation.AppDetected, e.Violation.ProcessID)
				}
			}
		}
	}
	fmt.Println("=======================")
	return nil
}

func runTokenSet(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	if err := env.controlClient().SetCredential(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Println("Credential set.")
	return nil
}

func runTokenClear(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	if err := env.controlClient().ClearCredential(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Credential cleared. The agent is now waiting for a credential.")
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}

	journal, err := infra.OpenJournal(env.dataDir)
	if err != nil {
		return fmt.Errorf("failed to open report journal: %w", err)
	}
	defer journal.Close()

	records, err := journal.Recent(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read report journal: %w", err)
	}
	counts, err := journal.Counts()
	if err != nil {
		return fmt.Errorf("failed to read report journal: %w", err)
	}

	fmt.Println("\n=== Report History ===")
	fmt.Printf("Sent: %d, failed: %d\n\n", counts[domain.ReportSent], counts[domain.ReportFailed])
	if len(records) == 0 {
		fmt.Println("No reports yet.")
	}
	for _, r := range records {
		line := fmt.Sprintf("  %s  %-6s %s (pid %d, severity %s)",
			r.AttemptedAt.Format(time.DateTime), r.Status, r.Violation.AppDetected, r.Violation.ProcessID, r.Violation.Severity)
		if r.Error != "" {
			line += ": " + r.Error
		}
		fmt.Println(line)
	}
	fmt.Println("======================")
	return nil
}

// createLogger builds the daemon logger: JSON to the log file, plus stderr
// when running in the foreground.
func createLogger(logPath string, level zap.AtomicLevel, foreground bool) *zap.Logger {
	config := zap.NewProductionConfig()
	config.Level = level
	config.OutputPaths = []string{logPath}
	config.ErrorOutputPaths = []string{"stderr"}
	if foreground {
		config.OutputPaths = append(config.OutputPaths, "stderr")
	}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("appguard %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
