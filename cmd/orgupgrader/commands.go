package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/forcetools/orgupgrader/internal/batch"
	"github.com/forcetools/orgupgrader/internal/browserpool"
	"github.com/forcetools/orgupgrader/internal/config"
	"github.com/forcetools/orgupgrader/internal/directory"
	"github.com/forcetools/orgupgrader/internal/domain"
	"github.com/forcetools/orgupgrader/internal/history"
	"github.com/forcetools/orgupgrader/internal/notify"
	"github.com/forcetools/orgupgrader/internal/page"
	"github.com/forcetools/orgupgrader/internal/status"
	"github.com/forcetools/orgupgrader/internal/upgrader"
	"github.com/forcetools/orgupgrader/tui"
	"github.com/forcetools/orgupgrader/web/api"
)

var (
	upgradePackage string
	upgradeSession string
	batchPackage   string
	batchSession   string
	batchConc      int
	historyLimit   int
	historyOffset  int
	tuiSession     string
	servePort      int
)

func init() {
	upgradeCmd := &cobra.Command{
		Use:   "upgrade ORG_ID",
		Short: "Upgrade a package in one org",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpgrade,
	}
	upgradeCmd.Flags().StringVar(&upgradePackage, "package", "", "package id to install")
	upgradeCmd.Flags().StringVar(&upgradeSession, "session", "", "session id (generated if empty)")
	upgradeCmd.MarkFlagRequired("package")
	rootCmd.AddCommand(upgradeCmd)

	batchCmd := &cobra.Command{
		Use:   "batch ORG_ID...",
		Short: "Upgrade a package across several orgs",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runBatch,
	}
	batchCmd.Flags().StringVar(&batchPackage, "package", "", "package id to install")
	batchCmd.Flags().StringVar(&batchSession, "session", "", "session id (generated if empty)")
	batchCmd.Flags().IntVar(&batchConc, "concurrency", 2, "orgs upgraded in parallel")
	batchCmd.MarkFlagRequired("package")
	rootCmd.AddCommand(batchCmd)

	orgsCmd := &cobra.Command{
		Use:   "orgs",
		Short: "List configured orgs",
		RunE:  runOrgs,
	}
	rootCmd.AddCommand(orgsCmd)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show past upgrade attempts",
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "entries to show")
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "entries to skip")
	rootCmd.AddCommand(historyCmd)

	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch the dashboard",
		RunE:  runTUI,
	}
	tuiCmd.Flags().StringVar(&tuiSession, "session", "", "session id to watch")
	rootCmd.AddCommand(tuiCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and scheduled batches",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// engine bundles the wired collaborators behind every command that
// actually drives a browser
type engine struct {
	cfg     *config.Config
	driver  *page.Driver
	pool    *browserpool.Pool
	channel *status.Channel
	store   *history.Store
	orgs    *directory.Directory
	machine *upgrader.Machine
	runner  *batch.Runner
}

func newEngine(cfg *config.Config) (*engine, error) {
	store, err := history.New(cfg.General.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}

	orgs, err := directory.Load(cfg.General.OrgFile)
	if err != nil {
		store.Close()
		return nil, err
	}

	driver := page.NewDriver()
	if err := driver.Start(); err != nil {
		store.Close()
		return nil, fmt.Errorf("starting browser driver: %w", err)
	}

	pool := browserpool.New(driver, browserpool.Config{
		Limit:      cfg.Browser.MaxInstances,
		StaleAfter: cfg.Browser.StaleAfter.Std(),
		Launch: page.Options{
			Headless: cfg.Browser.Headless,
		},
	})

	channel := status.New(status.Config{})
	machine := upgrader.New(pool, channel, store, buildProfile(cfg))
	runner := batch.NewRunner(machine, channel, store, buildNotifier(cfg), batch.Config{
		MaxConcurrency: cfg.Browser.MaxInstances,
		LaunchDelay:    500 * time.Millisecond,
	})

	return &engine{
		cfg:     cfg,
		driver:  driver,
		pool:    pool,
		channel: channel,
		store:   store,
		orgs:    orgs,
		machine: machine,
		runner:  runner,
	}, nil
}

func (e *engine) Close() {
	e.pool.CloseAll()
	e.driver.Stop()
	e.store.Close()
}

func buildProfile(cfg *config.Config) upgrader.Profile {
	p := upgrader.DefaultProfile()
	p.LoginTimeout = cfg.Upgrade.LoginTimeout.Std()
	p.InputTimeout = cfg.Upgrade.InputTimeout.Std()
	p.MaxUpgradeDuration = cfg.Upgrade.MaxUpgradeDuration.Std()
	p.MaxRetries = cfg.Upgrade.MaxRetries
	p.RetryBackoff = cfg.Upgrade.RetryBackoff.Std()
	p.ConfirmVersions = cfg.Upgrade.ConfirmVersions
	return p
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	return notify.NewMultiNotifier(
		notify.NewDesktopNotifier(cfg.Notifications.Desktop),
		notify.NewSlackNotifier(cfg.Notifications.SlackWebhook),
	)
}

func sessionOrNew(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// watchSession prints a session's events to the console and answers
// input prompts from stdin
func watchSession(channel *status.Channel, sessionID string) func() {
	events, cancel := channel.Subscribe(sessionID)
	reader := bufio.NewReader(os.Stdin)

	go func() {
		for ev := range events {
			switch ev.Type {
			case domain.EventPhase:
				fmt.Printf("[%s] %s: %s\n", ev.OrgID, ev.Phase, ev.Message)
			case domain.EventVerificationRequired:
				fmt.Printf("[%s] verification required. Enter code: ", ev.OrgID)
				line, err := reader.ReadString('\n')
				if err != nil {
					continue
				}
				channel.SubmitInput(sessionID, ev.UpgradeID, domain.InputVerificationCode, strings.TrimSpace(line))
			case domain.EventConfirmationRequired:
				fmt.Printf("[%s] upgrade %s -> %s? [y/N] ", ev.OrgID,
					ev.Detail["installed_version"], ev.Detail["target_version"])
				line, err := reader.ReadString('\n')
				if err != nil {
					continue
				}
				channel.SubmitInput(sessionID, ev.UpgradeID, domain.InputConfirmation, strings.TrimSpace(line))
			case domain.EventAttemptFinished:
				fmt.Printf("[%s] finished: %s\n", ev.OrgID, ev.Detail["status"])
			case domain.EventCriticalError:
				fmt.Printf("[%s] error: %s\n", ev.OrgID, ev.Message)
			}
		}
	}()

	return cancel
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	org, err := eng.orgs.GetByID(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	go eng.channel.Run(ctx)

	sessionID := sessionOrNew(upgradeSession)
	stopWatch := watchSession(eng.channel, sessionID)
	defer stopWatch()

	fmt.Printf("Upgrading %s in %s (session %s)\n", upgradePackage, org.ID, sessionID)

	attempt, err := eng.machine.Run(ctx, org, upgradePackage, sessionID, "")
	if err != nil {
		return err
	}

	fmt.Printf("Result: %s", attempt.Status)
	if attempt.Error != "" {
		fmt.Printf(" (%s)", attempt.Error)
	}
	fmt.Printf(" after %s, %d retries\n", attempt.Duration.Round(time.Second), attempt.Retries)

	if attempt.Status != domain.StatusCompleted {
		return fmt.Errorf("upgrade did not complete")
	}
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	orgs, err := eng.orgs.GetByIDs(args)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	go eng.channel.Run(ctx)
	go eng.pool.Run(ctx)

	sessionID := sessionOrNew(batchSession)
	stopWatch := watchSession(eng.channel, sessionID)
	defer stopWatch()

	fmt.Printf("Upgrading %s across %d orgs (session %s)\n", batchPackage, len(orgs), sessionID)

	b := eng.runner.Run(ctx, orgs, batchPackage, sessionID, batchConc)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ORG\tSTATUS\tDURATION\tERROR")
	for _, a := range b.Results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			a.OrgID, a.Status, a.Duration.Round(time.Second), a.Error)
	}
	w.Flush()

	fmt.Printf("Batch %s: %d succeeded, %d failed, %d other\n",
		b.ID, b.SuccessCount, b.FailureCount, b.OtherCount)

	if b.FailureCount > 0 {
		return fmt.Errorf("%d orgs failed", b.FailureCount)
	}
	return nil
}

func runOrgs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	orgs, err := directory.Load(cfg.General.OrgFile)
	if err != nil {
		return err
	}

	ids := orgs.IDs()
	list, err := orgs.GetByIDs(ids)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tURL")
	for _, org := range list {
		name := org.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", org.ID, name, org.URL)
	}
	return w.Flush()
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := history.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Query(historyOffset, historyLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tORG\tPACKAGE\tSTATUS\tDURATION\tSTARTED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.OrgID, e.PackageID, e.Status,
			e.Duration.Round(time.Second), e.StartedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := history.New(cfg.General.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	model := tui.NewModel(tui.ModelConfig{
		SessionID: sessionOrNew(tuiSession),
		History:   store,
	})

	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signalContext()
	defer stop()

	port := servePort
	if port == 0 {
		port = cfg.Web.Port
	}
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, port)

	server := api.NewServer(ctx, eng.orgs, eng.machine, eng.runner, eng.channel, eng.store, addr)

	schedule, err := batch.LoadScheduleConfig(cfg.General.SchedulePath)
	if err != nil {
		return fmt.Errorf("loading batch schedule: %w", err)
	}
	scheduler, err := batch.NewScheduler(schedule.Batches)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		eng.channel.Run(ctx)
		return nil
	})
	g.Go(func() error {
		eng.pool.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return eng.orgs.Watch(ctx)
	})
	g.Go(func() error {
		scheduler.Start(ctx, func(runCtx context.Context, bc batch.BatchConfig) error {
			orgs, err := eng.orgs.GetByIDs(bc.OrgIDs)
			if err != nil {
				return err
			}
			b := eng.runner.Run(runCtx, orgs, bc.PackageID, "scheduled:"+bc.Name, bc.Concurrency)
			log.Printf("scheduled batch %s: %d succeeded, %d failed, %d other",
				bc.Name, b.SuccessCount, b.FailureCount, b.OtherCount)
			return nil
		})
		return nil
	})
	g.Go(func() error {
		fmt.Printf("Serving API at http://%s\n", addr)
		return server.Start()
	})

	return g.Wait()
}
