package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	"github.com/AliedRevenue/family-concierge-sub000/config"
	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
	"github.com/AliedRevenue/family-concierge-sub000/core/port/out"
	"github.com/AliedRevenue/family-concierge-sub000/core/service/discovery"
	"github.com/AliedRevenue/family-concierge-sub000/core/service/orchestrator"
	"github.com/AliedRevenue/family-concierge-sub000/infra/database"
	"github.com/AliedRevenue/family-concierge-sub000/internal/bootstrap"
	"github.com/AliedRevenue/family-concierge-sub000/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

// Exit codes. Transient mail failures never surface here; the engine retries
// them on the next run.
const (
	exitOK     = 0
	exitConfig = 1
	exitMail   = 2
	exitStore  = 3
	exitUsage  = 64
)

func main() {
	logger.InitFromEnv()

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config: %v", err)
		os.Exit(exitConfig)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "serve":
		runServe(cfg)
	case "discover":
		os.Exit(runDiscover(cfg, args))
	case "digest":
		os.Exit(runDigest(cfg, args))
	case "audit":
		os.Exit(runAudit(cfg, args))
	case "dismiss":
		os.Exit(runDismiss(cfg, args))
	case "backfill":
		os.Exit(runBackfill(cfg, args))
	case "migrate":
		os.Exit(runMigrate(cfg, args))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(exitUsage)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: concierge <command> [arguments]

commands:
  serve                                       run the dashboard API and scheduler
  discover <packId>                           run discovery for one pack
  digest [--mode daily|reconciliation]        build and deliver a digest
  audit <person>                              print the reconciliation view for a person
  audit <person> --add-domain <domain> <category>
                                              add a sender domain going forward
  audit <person> --exclude-keyword <keyword>  exclude a keyword going forward
  dismiss <itemId> <reason>                   dismiss an item with a reason
  backfill --from <date> --to <date> [--dry-run] [--confirm]
                                              scan a historical window (max 100 messages)
  migrate [version|rollback <v>|<v>]          apply or revert schema migrations
`)
}

// exitFor maps a runtime error to the documented exit codes. Permanent mail
// failures take precedence over store failures.
func exitFor(err error) int {
	if err == nil {
		return exitOK
	}
	var mailErr *out.MailError
	if errors.As(err, &mailErr) && !mailErr.Transient() {
		return exitMail
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return exitStore
	}
	return exitConfig
}

// wireDeps builds the dependency graph for the one-shot commands.
func wireDeps(cfg *config.Config) (*bootstrap.Dependencies, func(), int) {
	deps, cleanup, err := bootstrap.NewDependencies(cfg)
	if err != nil {
		logger.Error("failed to initialize: %v", err)
		return nil, nil, exitFor(err)
	}
	return deps, cleanup, exitOK
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// =============================================================================
// serve
// =============================================================================

func runServe(cfg *config.Config) {
	deps, cleanup, code := wireDeps(cfg)
	if code != exitOK {
		os.Exit(code)
	}
	defer cleanup()

	app := bootstrap.NewAPI(cfg, deps)

	var stopWorker func()
	if cfg.SchedulerEnabled {
		sched, err := bootstrap.NewWorker(cfg, deps)
		if err != nil {
			logger.Error("failed to initialize scheduler: %v", err)
			os.Exit(exitConfig)
		}
		sched.Start()
		stopWorker = sched.Stop
		logger.Info("scheduler started")
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down (timeout: %v)...", shutdownTimeout)
		done := make(chan struct{})
		go func() {
			if stopWorker != nil {
				stopWorker()
			}
			if err := app.Shutdown(); err != nil {
				logger.Error("error shutting down API: %v", err)
			}
			close(done)
		}()

		select {
		case <-done:
			logger.Info("shut down gracefully")
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}()

	addr := ":" + cfg.Port
	logger.Info("starting dashboard API on %s (mode=%s)", addr, cfg.Mode)
	if err := app.Listen(addr); err != nil {
		logger.Error("server stopped: %v", err)
		os.Exit(exitConfig)
	}
}

// =============================================================================
// discover
// =============================================================================

func runDiscover(cfg *config.Config, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: concierge discover <packId>")
		return exitUsage
	}
	packID := args[0]

	deps, cleanup, code := wireDeps(cfg)
	if code != exitOK {
		return code
	}
	defer cleanup()

	ctx, cancel := signalContext()
	defer cancel()

	result, err := deps.Orchestrator.RunPack(ctx, packID)
	if errors.Is(err, orchestrator.ErrUnknownPack) {
		fmt.Fprintf(os.Stderr, "pack %q is not configured\n", packID)
		return exitConfig
	}
	if err != nil {
		logger.Error("discovery failed: %v", err)
		return exitFor(err)
	}

	printRun(result)
	return exitOK
}

func printRun(result *orchestrator.RunResult) {
	for _, p := range result.Packs {
		if p.Summary == nil {
			continue
		}
		fmt.Printf("pack %s: listed=%d", p.PackID, p.Summary.Listed)
		for _, state := range []domain.TerminalState{
			domain.StateCreated, domain.StateUpdated, domain.StateSkipped,
			domain.StateDismissed, domain.StateOutOfScope,
		} {
			if n := p.Summary.Counts[state]; n > 0 {
				fmt.Printf(" %s=%d", strings.ToLower(string(state)), n)
			}
		}
		fmt.Println()
	}
	if result.Promoted > 0 {
		fmt.Printf("auto-approved %d items\n", result.Promoted)
	}
}

// =============================================================================
// digest
// =============================================================================

func runDigest(cfg *config.Config, args []string) int {
	mode := "daily"
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--mode":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--mode requires a value")
				return exitUsage
			}
			i++
			mode = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag %q\n", args[i])
			return exitUsage
		}
	}
	if mode != "daily" && mode != "reconciliation" {
		fmt.Fprintf(os.Stderr, "unknown digest mode %q: must be daily or reconciliation\n", mode)
		return exitUsage
	}

	deps, cleanup, code := wireDeps(cfg)
	if code != exitOK {
		return code
	}
	defer cleanup()

	ctx, cancel := signalContext()
	defer cancel()

	days := deps.Agent.Digests.DailyDays
	if mode == "reconciliation" {
		days = deps.Agent.Digests.WeeklyDays
	}
	if err := bootstrap.SendDigest(ctx, cfg, deps, days); err != nil {
		logger.Error("digest failed: %v", err)
		return exitFor(err)
	}
	return exitOK
}

// =============================================================================
// audit
// =============================================================================

func runAudit(cfg *config.Config, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: concierge audit <person> [--add-domain <domain> <category> | --exclude-keyword <keyword>]")
		return exitUsage
	}
	person := args[0]
	rest := args[1:]

	deps, cleanup, code := wireDeps(cfg)
	if code != exitOK {
		return code
	}
	defer cleanup()

	ctx, cancel := signalContext()
	defer cancel()

	switch {
	case len(rest) == 0:
		return printReconciliation(ctx, deps, person)
	case rest[0] == "--add-domain":
		if len(rest) != 3 {
			fmt.Fprintln(os.Stderr, "usage: concierge audit <person> --add-domain <domain> <category>")
			return exitUsage
		}
		return addDomain(ctx, cfg, deps, person, rest[1], rest[2])
	case rest[0] == "--exclude-keyword":
		if len(rest) != 2 {
			fmt.Fprintln(os.Stderr, "usage: concierge audit <person> --exclude-keyword <keyword>")
			return exitUsage
		}
		return excludeKeyword(cfg, deps, rest[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown flag %q\n", rest[0])
		return exitUsage
	}
}

// printReconciliation shows what the pipeline recently saved and dismissed
// for one person, so missed or misrouted mail can be corrected.
func printReconciliation(ctx context.Context, deps *bootstrap.Dependencies, person string) int {
	now := time.Now().UTC()
	filter := domain.ItemFilter{Person: person}

	updates, err := deps.Dashboards.Updates(ctx, filter)
	if err != nil {
		logger.Error("failed to load updates: %v", err)
		return exitFor(err)
	}

	dismissed, err := deps.Dismissals.List(ctx, now.AddDate(0, 0, -30), now, person)
	if err != nil {
		logger.Error("failed to load dismissals: %v", err)
		return exitFor(err)
	}

	fmt.Printf("Reconciliation for %s\n\n", person)

	fmt.Printf("Recent items (%d):\n", len(updates))
	for _, u := range updates {
		date := ""
		if u.Item.ObligationDate != nil {
			date = " due " + u.Item.ObligationDate.Format("Jan 2")
		}
		fmt.Printf("  [%s] %s%s (from %s)\n", u.Item.PrimaryCategory, u.Item.Subject, date, u.Item.FromEmail)
	}
	if len(updates) == 0 {
		fmt.Println("  (none in the last two weeks)")
	}

	fmt.Printf("\nDismissed in the last 30 days (%d):\n", len(dismissed))
	for _, d := range dismissed {
		fmt.Printf("  %s: %s (%s)\n", d.DismissedAt.Format("Jan 2"), d.OriginalSubject, d.Reason)
	}
	if len(dismissed) == 0 {
		fmt.Println("  (none)")
	}
	return exitOK
}

// addDomain writes the new domain into the agent config and reports how many
// in-window messages would now match. Already-received mail is not
// reprocessed retroactively.
func addDomain(ctx context.Context, cfg *config.Config, deps *bootstrap.Dependencies, person, fromDomain, category string) int {
	cat := domain.Category(category)
	if !cat.Valid() {
		fmt.Fprintf(os.Stderr, "unknown category %q\n", category)
		return exitUsage
	}

	packID, ok := deps.Agent.AddDomain(fromDomain, cat, person)
	if !ok {
		fmt.Fprintf(os.Stderr, "no enabled pack carries category %q\n", category)
		return exitConfig
	}
	if err := deps.Agent.Save(cfg.AgentConfigPath); err != nil {
		logger.Error("failed to save agent config: %v", err)
		return exitConfig
	}

	preview := &domain.Pack{
		ID:      "preview",
		Sources: []domain.PackSource{{FromDomains: []string{fromDomain}}},
	}
	limits := discovery.Limits{
		LookbackDays:    deps.Agent.Processing.LookbackDays,
		MaxEmailsPerRun: deps.Agent.Processing.MaxEmailsPerRun,
	}
	n, err := deps.Engine.CountMatches(ctx, preview, limits)
	if err != nil {
		logger.Warn("could not count matching messages: %v", err)
		fmt.Printf("added %s to pack %s; match count unavailable\n", fromDomain, packID)
		return exitOK
	}

	fmt.Printf("added %s to pack %s; %d in-window messages would now match (future runs only)\n", fromDomain, packID, n)
	return exitOK
}

func excludeKeyword(cfg *config.Config, deps *bootstrap.Dependencies, keyword string) int {
	changed := deps.Agent.AddExcludeKeyword(keyword)
	if changed == 0 {
		fmt.Printf("keyword %q already excluded everywhere\n", keyword)
		return exitOK
	}
	if err := deps.Agent.Save(cfg.AgentConfigPath); err != nil {
		logger.Error("failed to save agent config: %v", err)
		return exitConfig
	}
	fmt.Printf("excluded %q in %d packs (future runs only)\n", keyword, changed)
	return exitOK
}

// =============================================================================
// dismiss
// =============================================================================

func runDismiss(cfg *config.Config, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: concierge dismiss <itemId> <reason>")
		return exitUsage
	}
	itemID := args[0]
	reason := strings.TrimSpace(strings.Join(args[1:], " "))
	if reason == "" {
		fmt.Fprintln(os.Stderr, "dismissal requires a non-empty reason")
		return exitUsage
	}

	deps, cleanup, code := wireDeps(cfg)
	if code != exitOK {
		return code
	}
	defer cleanup()

	ctx, cancel := signalContext()
	defer cancel()

	d, err := deps.ItemService.Dismiss(ctx, itemID, reason, "cli")
	if err != nil {
		logger.Error("dismissal failed: %v", err)
		return exitFor(err)
	}
	fmt.Printf("dismissed %q (%s)\n", d.OriginalSubject, d.Reason)
	return exitOK
}

// =============================================================================
// backfill
// =============================================================================

func runBackfill(cfg *config.Config, args []string) int {
	var fromStr, toStr string
	var dryRun, confirm bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--from":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--from requires a date")
				return exitUsage
			}
			i++
			fromStr = args[i]
		case "--to":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--to requires a date")
				return exitUsage
			}
			i++
			toStr = args[i]
		case "--dry-run":
			dryRun = true
		case "--confirm":
			confirm = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag %q\n", args[i])
			return exitUsage
		}
	}

	if fromStr == "" || toStr == "" {
		fmt.Fprintln(os.Stderr, "usage: concierge backfill --from <date> --to <date> [--dry-run] [--confirm]")
		return exitUsage
	}
	from, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --from date %q: use YYYY-MM-DD\n", fromStr)
		return exitUsage
	}
	to, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --to date %q: use YYYY-MM-DD\n", toStr)
		return exitUsage
	}
	if !from.Before(to) {
		fmt.Fprintln(os.Stderr, "--from must be before --to")
		return exitUsage
	}
	if !dryRun && !confirm {
		fmt.Fprintln(os.Stderr, "backfill writes items and calendar operations; re-run with --confirm (or --dry-run to preview)")
		return exitUsage
	}

	deps, cleanup, code := wireDeps(cfg)
	if code != exitOK {
		return code
	}
	defer cleanup()

	ctx, cancel := signalContext()
	defer cancel()

	result, err := deps.Orchestrator.Backfill(ctx, from, to, dryRun)
	if err != nil {
		logger.Error("backfill failed: %v", err)
		return exitFor(err)
	}

	if dryRun {
		total := 0
		for _, p := range result.Packs {
			if p.Summary != nil {
				fmt.Printf("pack %s: %d messages in window\n", p.PackID, p.Summary.Listed)
				total += p.Summary.Listed
			}
		}
		fmt.Printf("dry run: %d messages would be examined, nothing written\n", total)
		return exitOK
	}

	printRun(result)
	if result.Failed() {
		for _, p := range result.Packs {
			if p.Err != nil {
				return exitFor(p.Err)
			}
		}
	}
	return exitOK
}

// =============================================================================
// migrate
// =============================================================================

func runMigrate(cfg *config.Config, args []string) int {
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not configured")
		return exitConfig
	}

	db, err := sqlx.Connect("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database: %v", err)
		return exitConfig
	}
	defer db.Close()

	ctx, cancel := signalContext()
	defer cancel()

	m := database.NewMigrator(db, cfg.MigrationsDir)

	switch {
	case len(args) == 0:
		if err := m.Up(ctx, 0); err != nil {
			logger.Error("migration failed: %v", err)
			return exitConfig
		}
	case args[0] == "version":
		v, err := m.Version(ctx)
		if err != nil {
			logger.Error("failed to read schema version: %v", err)
			return exitConfig
		}
		fmt.Printf("schema version %d\n", v)
		return exitOK
	case args[0] == "rollback":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: concierge migrate rollback <version>")
			return exitUsage
		}
		target, err := strconv.Atoi(args[1])
		if err != nil || target < 0 {
			fmt.Fprintf(os.Stderr, "invalid rollback target %q\n", args[1])
			return exitUsage
		}
		if err := m.Rollback(ctx, target); err != nil {
			logger.Error("rollback failed: %v", err)
			return exitConfig
		}
	default:
		target, err := strconv.Atoi(args[0])
		if err != nil || target <= 0 {
			fmt.Fprintf(os.Stderr, "invalid migration target %q\n", args[0])
			return exitUsage
		}
		if err := m.Up(ctx, target); err != nil {
			logger.Error("migration failed: %v", err)
			return exitConfig
		}
	}

	v, err := m.Version(ctx)
	if err == nil {
		fmt.Printf("schema version %d\n", v)
	}
	return exitOK
}
