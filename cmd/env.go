package main

import (
	"context"
	"os"
	"time"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/recruit-intake/internal/extractor"
	"github.com/sells-group/recruit-intake/internal/intake"
	"github.com/sells-group/recruit-intake/internal/ledger"
	"github.com/sells-group/recruit-intake/internal/normalize"
	"github.com/sells-group/recruit-intake/internal/resilience"
	"github.com/sells-group/recruit-intake/internal/selector"
	"github.com/sells-group/recruit-intake/internal/telemetry"
	anthropicpkg "github.com/sells-group/recruit-intake/pkg/anthropic"
	"github.com/sells-group/recruit-intake/pkg/notion"
	sfpkg "github.com/sells-group/recruit-intake/pkg/salesforce"
)

// intakeEnv holds the wired pipeline shared by the process, serve, and
// reconcile commands.
type intakeEnv struct {
	Ledger      ledger.Ledger
	Coordinator *intake.Coordinator
	Reconciler  *intake.Reconciler
	Collector   *telemetry.Collector
	Reviews     *notion.Board
}

// Close releases resources held by the environment.
func (e *intakeEnv) Close() {
	if e.Ledger != nil {
		_ = e.Ledger.Close()
	}
}

func initLedger(ctx context.Context) (ledger.Ledger, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "intake.db"
		}
		return ledger.NewSQLite(dsn)
	case "postgres":
		return ledger.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initSalesforce() (sfpkg.Client, error) {
	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf, sfpkg.WithRateLimit(cfg.Salesforce.RatePerSec)), nil
}

// newReviewBoard opens the Notion review board, or returns nil when it
// is not configured.
func newReviewBoard() *notion.Board {
	if cfg.Notion.Token == "" || cfg.Notion.ReviewDB == "" {
		return nil
	}
	return notion.NewBoard(cfg.Notion.Token, cfg.Notion.ReviewDB)
}

// initNotifier assembles the manual review fan-out from whatever
// channels are configured. Returns nil when none are.
func initNotifier(board *notion.Board) intake.Notifier {
	var notifiers intake.MultiNotifier
	if board != nil {
		notifiers = append(notifiers, intake.NewNotionNotifier(board))
	}
	if cfg.Review.WebhookURL != "" {
		notifiers = append(notifiers, intake.NewWebhookNotifier(cfg.Review.WebhookURL))
	}
	if len(notifiers) == 0 {
		return nil
	}
	return notifiers
}

func newInvoker() *resilience.Invoker {
	return resilience.NewInvoker(resilience.InvokerConfig{
		MaxRetries:   cfg.Invoker.MaxRetries,
		InitialDelay: time.Duration(cfg.Invoker.InitialDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Invoker.MaxDelayMS) * time.Millisecond,
		Base:         cfg.Invoker.Base,
	}, resilience.NewMemoryCooldowns())
}

// initEnv validates config for the given mode, opens the ledger, and
// wires the coordinator and reconciler. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*intakeEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	led, err := initLedger(ctx)
	if err != nil {
		return nil, err
	}

	if err := led.Migrate(ctx); err != nil {
		_ = led.Close()
		return nil, eris.Wrap(err, "migrate ledger")
	}

	env := &intakeEnv{
		Ledger:    led,
		Collector: telemetry.NewCollector(led),
		Reviews:   newReviewBoard(),
	}

	// Ledger tooling never talks to the downstream systems.
	if mode == "ledger" {
		return env, nil
	}

	sfClient, err := initSalesforce()
	if err != nil {
		_ = led.Close()
		return nil, err
	}

	notifier := initNotifier(env.Reviews)
	crm := intake.NewSalesforceCRM(sfClient, cfg.Salesforce.LeadSource)
	invoker := newInvoker()

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	env.Coordinator = intake.NewCoordinator(
		led,
		selector.New(cfg.Selector),
		extractor.NewAdaptive(anthropicClient),
		extractor.NewFallback(),
		normalize.New(),
		crm,
		invoker,
		notifier,
		telemetry.ZapEmitter{},
		intake.Options{
			BudgetUSD:          cfg.Intake.BudgetUSD,
			QualityTarget:      cfg.Intake.QualityTarget,
			ExtractTimeout:     time.Duration(cfg.Intake.ExtractTimeoutSecs) * time.Second,
			CRMTimeout:         time.Duration(cfg.Intake.CRMTimeoutSecs) * time.Second,
			ReplayRecheckDelay: time.Duration(cfg.Intake.ReplayRecheckSecs) * time.Second,
		},
	)

	env.Reconciler = intake.NewReconciler(led, crm, sfClient, invoker, notifier, intake.ReconcilerOptions{
		MinAge:            time.Duration(cfg.Reconcile.MinAgeMins) * time.Minute,
		EscalateAfter:     time.Duration(cfg.Reconcile.EscalateAfterHours) * time.Hour,
		StalePendingAfter: time.Duration(cfg.Reconcile.StalePendingMins) * time.Minute,
		Concurrency:       cfg.Reconcile.Concurrency,
		BatchSize:         cfg.Reconcile.BatchSize,
		FlagDegraded:      cfg.Salesforce.FlagDegraded,
	})

	zap.L().Info("intake environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.Bool("notion_reviews", cfg.Notion.Token != ""),
	)

	return env, nil
}
