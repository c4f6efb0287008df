// Package main is the CLI entry point for commitd.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/commitgate/commitd/internal/config"
	"github.com/commitgate/commitd/internal/daemon"
	"github.com/commitgate/commitd/internal/domain"
	"github.com/commitgate/commitd/internal/engine"
	"github.com/commitgate/commitd/internal/hook"
	"github.com/commitgate/commitd/internal/infra"
	"github.com/commitgate/commitd/internal/ledger"
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
	Use:   "commitd",
	Short: "Commitment enforcement engine - blocks distractions until tasks are done",
	Long: `commitd decides, at any instant, whether distraction-surface access
(apps, websites) should be blocked for a user who committed to finishing
tasks by self-chosen deadlines.

Missed deadlines start a 24h penalty. Earned grace days forgive one
violation each. Setting the clock back does not help.`,
	Version: Version,
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the evaluation loop in the foreground",
	Long: `Runs the periodic evaluation loop: every tick the engine re-checks
tasks, penalties and grace, republishes the blocking state, and the
interception hook sweeps processes matching blocked app rules.`,
	RunE: runDaemon,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one evaluation tick and print the blocking state",
	RunE:  runCheck,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show blocking state, penalty window and grace balance",
	RunE:  runStatus,
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage block rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List block rules",
	RunE:  runRulesList,
}

var rulesAddCmd = &cobra.Command{
	Use:   "add <identifier>",
	Short: "Add or replace a block rule",
	Long: `Adds a block rule for an app package or URL pattern. Examples:

  commitd rules add com.reddit.frontpage --schedule everyday
  commitd rules add steam --schedule custom_days --days sat,sun --start 09:00 --end 23:00
  commitd rules add twitch.tv/* --kind url --schedule custom_range \
      --start-day fri --start 22:00 --end-day mon --end 06:00`,
	Args: cobra.ExactArgs(1),
	RunE: runRulesAdd,
}

var rulesRemoveCmd = &cobra.Command{
	Use:   "remove <identifier>",
	Short: "Remove a block rule",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesRemove,
}

var graceCmd = &cobra.Command{
	Use:   "grace",
	Short: "Show the grace-day balance",
	RunE:  runGrace,
}

var graceExchangeCmd = &cobra.Command{
	Use:   "exchange",
	Short: "Exchange 5 bonus-task credits for one grace day",
	RunE:  runGraceExchange,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

var (
	ruleKind     string
	ruleSchedule string
	ruleDays     string
	ruleStart    string
	ruleEnd      string
	ruleStartDay string
	ruleEndDay   string
	ruleDisabled bool
	jsonOutput   bool
)

func init() {
	rulesAddCmd.Flags().StringVar(&ruleKind, "kind", "app", "Rule kind (app/url)")
	rulesAddCmd.Flags().StringVar(&ruleSchedule, "schedule", "everyday", "Schedule kind (everyday/weekdays/custom_days/custom_range)")
	rulesAddCmd.Flags().StringVar(&ruleDays, "days", "", "Comma-separated days for custom_days (sun,mon,...)")
	rulesAddCmd.Flags().StringVar(&ruleStart, "start", "00:00", "Start time HH:MM")
	rulesAddCmd.Flags().StringVar(&ruleEnd, "end", "23:59", "End time HH:MM")
	rulesAddCmd.Flags().StringVar(&ruleStartDay, "start-day", "", "Start day for custom_range")
	rulesAddCmd.Flags().StringVar(&ruleEndDay, "end-day", "", "End day for custom_range")
	rulesAddCmd.Flags().BoolVar(&ruleDisabled, "disabled", false, "Create the rule disabled")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesAddCmd)
	rulesCmd.AddCommand(rulesRemoveCmd)
	graceCmd.AddCommand(graceExchangeCmd)

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(graceCmd)
	rootCmd.AddCommand(versionCmd)
}

// stack bundles the wired components a command needs.
type stack struct {
	cfg     *config.Config
	store   *infra.EncryptedStore
	penalty *ledger.PenaltyLedger
	grace   *ledger.GraceEconomy
	engine  *engine.Engine
	clock   *infra.SystemClock
	logger  *zap.Logger
}

func (s *stack) close() {
	_ = s.store.Close()
	_ = s.logger.Sync()
}

// openStack loads config, opens the encrypted store and wires the engine.
func openStack(forDaemon bool) (*stack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	var logger *zap.Logger
	if forDaemon {
		logger = createFileLogger(cfg.LogPath)
	} else {
		logger = zap.NewNop()
	}

	key, err := infra.NewFileKeyProvider(cfg.DataDir).EnsureKey()
	if err != nil {
		return nil, fmt.Errorf("failed to prepare encryption key: %w", err)
	}

	store, err := infra.NewEncryptedStore(cfg.DataDir, key)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	clock := infra.NewSystemClock()
	penalty := ledger.NewPenaltyLedger(store, logger)
	grace := ledger.NewGraceEconomy(store, logger)
	eng := engine.New(engine.Config{
		PenaltyDuration: cfg.PenaltyDuration,
		IntegritySlack:  cfg.IntegritySlack,
		GraceExpiry:     cfg.GraceExpiry,
	}, store, penalty, grace, clock, logger)

	return &stack{
		cfg:     cfg,
		store:   store,
		penalty: penalty,
		grace:   grace,
		engine:  eng,
		clock:   clock,
		logger:  logger,
	}, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	s, err := openStack(true)
	if err != nil {
		return err
	}
	defer s.close()

	pm := infra.NewProcessManager()
	interceptor := hook.NewInterceptor(s.store, pm, s.engine, s.logger)

	d := daemon.New(daemon.Config{
		TickInterval: s.cfg.TickInterval,
		HookInterval: s.cfg.HookInterval,
	}, s.engine, interceptor, s.clock, s.logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		s.logger.Info("received shutdown signal")
		cancel()
	}()

	if err := d.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	s, err := openStack(false)
	if err != nil {
		return err
	}
	defer s.close()

	nowMs := s.clock.WallClockMs()
	if err := s.engine.UpdateState(nowMs); err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	if s.engine.IsCurrentlyBlocked() {
		fmt.Println("BLOCKED")
	} else {
		fmt.Println("UNBLOCKED")
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := openStack(false)
	if err != nil {
		return err
	}
	defer s.close()

	nowMs := s.clock.WallClockMs()
	blocked, err := s.engine.IsBlocked(nowMs)
	if err != nil {
		return err
	}

	penaltySnap, err := s.penalty.Snapshot()
	if err != nil {
		return err
	}
	graceSnap, err := s.grace.Snapshot()
	if err != nil {
		return err
	}
	rules, err := s.store.GetAll()
	if err != nil {
		return err
	}

	penaltyStatus := "none"
	if penaltySnap.PenaltyEndMs != 0 && nowMs < penaltySnap.PenaltyEndMs {
		remaining := time.Duration(penaltySnap.PenaltyEndMs-nowMs) * time.Millisecond
		penaltyStatus = fmt.Sprintf("active, %s remaining", remaining.Round(time.Minute))
	}

	state := "UNBLOCKED"
	if blocked {
		state = "BLOCKED"
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendRows([]table.Row{
		{"State", state},
		{"Penalty", penaltyStatus},
		{"Violations (lifetime)", penaltySnap.ViolationCount},
		{"Grace days", fmt.Sprintf("%d / %d", graceSnap.Balance, domain.MaxGraceDays)},
		{"Bonus credits", fmt.Sprintf("%d (need %d per grace day)", graceSnap.BonusAccrual, domain.BonusExchangeThreshold)},
		{"Block rules", len(rules)},
	})
	t.Render()
	return nil
}

func runRulesList(cmd *cobra.Command, args []string) error {
	s, err := openStack(false)
	if err != nil {
		return err
	}
	defer s.close()

	rules, err := s.store.GetAll()
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		fmt.Println("No block rules configured.")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Identifier", "Kind", "Enabled", "Schedule"})
	for _, r := range rules {
		t.AppendRow(table.Row{r.Identifier, r.Kind, r.Enabled, describeSchedule(r.Schedule)})
	}
	t.Render()
	return nil
}

func runRulesAdd(cmd *cobra.Command, args []string) error {
	rule, err := buildRule(args[0])
	if err != nil {
		return err
	}

	s, err := openStack(false)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.store.Upsert(rule); err != nil {
		return err
	}
	fmt.Printf("Rule %q saved.\n", rule.Identifier)
	return nil
}

func runRulesRemove(cmd *cobra.Command, args []string) error {
	s, err := openStack(false)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.store.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Rule %q removed.\n", args[0])
	return nil
}

func runGrace(cmd *cobra.Command, args []string) error {
	s, err := openStack(false)
	if err != nil {
		return err
	}
	defer s.close()

	snap, err := s.grace.Snapshot()
	if err != nil {
		return err
	}
	fmt.Printf("Grace days: %d / %d\n", snap.Balance, domain.MaxGraceDays)
	fmt.Printf("Bonus credits: %d (exchange %d for one grace day)\n",
		snap.BonusAccrual, domain.BonusExchangeThreshold)
	if snap.LastEarnedMs > 0 {
		fmt.Printf("Last earned: %s\n", time.UnixMilli(snap.LastEarnedMs).Format(time.RFC1123))
	}
	return nil
}

func runGraceExchange(cmd *cobra.Command, args []string) error {
	s, err := openStack(false)
	if err != nil {
		return err
	}
	defer s.close()

	ok, err := s.grace.TryExchangeBonusForGrace(s.clock.WallClockMs())
	if err != nil {
		return err
	}
	if !ok {
		snap, snapErr := s.grace.Snapshot()
		if snapErr != nil {
			return snapErr
		}
		if snap.Balance >= domain.MaxGraceDays {
			fmt.Println("Grace balance is already at the cap.")
		} else {
			fmt.Printf("Not enough bonus credits: have %d, need %d.\n",
				snap.BonusAccrual, domain.BonusExchangeThreshold)
		}
		return nil
	}
	fmt.Println("Exchanged 5 bonus credits for one grace day.")
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("commitd %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}

// buildRule assembles a BlockRule from the rules-add flags.
func buildRule(identifier string) (domain.BlockRule, error) {
	rule := domain.BlockRule{
		Identifier: identifier,
		Enabled:    !ruleDisabled,
	}

	switch strings.ToLower(ruleKind) {
	case "app":
		rule.Kind = domain.RuleApp
	case "url":
		rule.Kind = domain.RuleURL
	default:
		return rule, fmt.Errorf("unknown rule kind %q (want app or url)", ruleKind)
	}

	start, err := parseMinute(ruleStart)
	if err != nil {
		return rule, err
	}
	end, err := parseMinute(ruleEnd)
	if err != nil {
		return rule, err
	}
	rule.Schedule.StartMinute = start
	rule.Schedule.EndMinute = end

	switch strings.ToLower(ruleSchedule) {
	case "everyday":
		rule.Schedule.Kind = domain.ScheduleEveryday
	case "weekdays":
		rule.Schedule.Kind = domain.ScheduleWeekdays
	case "custom_days":
		rule.Schedule.Kind = domain.ScheduleCustomDays
		mask, err := parseDayMask(ruleDays)
		if err != nil {
			return rule, err
		}
		rule.Schedule.DayMask = mask
	case "custom_range":
		rule.Schedule.Kind = domain.ScheduleCustomRange
		if ruleStartDay == "" || ruleEndDay == "" {
			return rule, fmt.Errorf("custom_range requires --start-day and --end-day")
		}
		startDay, err := parseDay(ruleStartDay)
		if err != nil {
			return rule, err
		}
		endDay, err := parseDay(ruleEndDay)
		if err != nil {
			return rule, err
		}
		rule.Schedule.StartDay = &startDay
		rule.Schedule.EndDay = &endDay
	default:
		return rule, fmt.Errorf("unknown schedule kind %q", ruleSchedule)
	}

	return rule, nil
}

// parseMinute converts "HH:MM" to minutes since midnight.
func parseMinute(s string) (int, error) {
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q (want HH:MM): %w", s, err)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

var dayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

func parseDay(s string) (time.Weekday, error) {
	day, ok := dayNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown day %q", s)
	}
	return day, nil
}

// parseDayMask converts "sat,sun" to the 7-bit mask (bit 0 = Sunday).
func parseDayMask(s string) (uint8, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("custom_days requires --days")
	}
	var mask uint8
	for _, part := range strings.Split(s, ",") {
		day, err := parseDay(part)
		if err != nil {
			return 0, err
		}
		mask |= 1 << uint(day)
	}
	return mask, nil
}

func describeSchedule(d domain.ScheduleDescriptor) string {
	window := fmt.Sprintf("%s-%s", formatMinute(d.StartMinute), formatMinute(d.EndMinute))
	switch d.Kind {
	case domain.ScheduleEveryday:
		return "everyday " + window
	case domain.ScheduleWeekdays:
		return "weekdays " + window
	case domain.ScheduleCustomDays:
		var days []string
		for day := time.Sunday; day <= time.Saturday; day++ {
			if d.DayMask&(1<<uint(day)) != 0 {
				days = append(days, day.String()[:3])
			}
		}
		return strings.Join(days, ",") + " " + window
	case domain.ScheduleCustomRange:
		if d.StartDay == nil || d.EndDay == nil {
			return "custom range (incomplete, inactive)"
		}
		return fmt.Sprintf("%s %s - %s %s",
			d.StartDay.String()[:3], formatMinute(d.StartMinute),
			d.EndDay.String()[:3], formatMinute(d.EndMinute))
	default:
		return string(d.Kind)
	}
}

func formatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

func createFileLogger(logPath string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{logPath}
	cfg.ErrorOutputPaths = []string{logPath}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}
