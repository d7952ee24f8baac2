// Package worker runs the periodic consistency job: catalog repair followed by
// a reconciliation sweep over every user aggregate.
package worker

import (
	"context"
	"sync"
	"time"

	"referral_engine/internal/service"
	"referral_engine/pkg/logger"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Reconciler interface {
	Validate(ctx context.Context, sampleSize int) ([]service.Inconsistency, error)
	BatchReconcile(ctx context.Context, userIDs []string) *service.BatchResult
	ListUserIDs(ctx context.Context) ([]string, error)
}

type CatalogKeeper interface {
	EnsureQuestCatalogIntegrity(ctx context.Context) (*service.CatalogReport, error)
}

// Invalidator drops cached rankings after aggregates were rewritten.
type Invalidator interface {
	Invalidate()
}

type Config struct {
	Interval   time.Duration
	SampleSize int
}

type Report struct {
	Catalog         *service.CatalogReport
	Inconsistencies []service.Inconsistency
	Batch           *service.BatchResult
}

type ReconcileWorker struct {
	reconciler  Reconciler
	catalog     CatalogKeeper
	leaderboard Invalidator
	cfg         Config
	clock       clockwork.Clock

	mu    sync.Mutex
	sched gocron.Scheduler
}

func NewReconcileWorker(reconciler Reconciler, catalog CatalogKeeper, leaderboard Invalidator, cfg Config, clock clockwork.Clock) *ReconcileWorker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 100
	}
	return &ReconcileWorker{
		reconciler:  reconciler,
		catalog:     catalog,
		leaderboard: leaderboard,
		cfg:         cfg,
		clock:       clock,
	}
}

// Start schedules RunOnce every Interval, beginning immediately. Runs never
// overlap.
func (w *ReconcileWorker) Start(ctx context.Context) error {
	if w.cfg.Interval <= 0 {
		return errors.New("reconcile interval must be positive")
	}

	sched, err := gocron.NewScheduler(gocron.WithClock(w.clock))
	if err != nil {
		return errors.Wrap(err, "create scheduler")
	}

	_, err = sched.NewJob(
		gocron.DurationJob(w.cfg.Interval),
		gocron.NewTask(func() {
			if _, err := w.RunOnce(ctx); err != nil {
				logger.Logger().Error("Reconciliation run failed", zap.Error(err))
			}
		}),
		gocron.WithName("reconcile"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return errors.Wrap(err, "schedule reconciliation")
	}

	w.mu.Lock()
	w.sched = sched
	w.mu.Unlock()

	sched.Start()
	logger.Logger().Info("Reconciliation worker started", zap.Duration("interval", w.cfg.Interval))
	return nil
}

func (w *ReconcileWorker) Stop() error {
	w.mu.Lock()
	sched := w.sched
	w.sched = nil
	w.mu.Unlock()

	if sched == nil {
		return nil
	}
	return sched.Shutdown()
}

// RunOnce repairs the quest catalog, reports drift on a sample of users and
// reconciles every user. Catalog or sampling failures do not prevent the
// sweep.
func (w *ReconcileWorker) RunOnce(ctx context.Context) (*Report, error) {
	log := logger.Logger()
	report := &Report{}
	var runErr error

	catalog, err := w.catalog.EnsureQuestCatalogIntegrity(ctx)
	if err != nil {
		log.Warn("Quest catalog repair failed", zap.Error(err))
		runErr = errors.Wrap(err, "repair quest catalog")
	}
	report.Catalog = catalog

	inconsistencies, err := w.reconciler.Validate(ctx, w.cfg.SampleSize)
	if err != nil {
		log.Warn("Consistency sample failed", zap.Error(err))
	} else if len(inconsistencies) > 0 {
		log.Warn("Aggregate drift detected", zap.Int("fields", len(inconsistencies)))
	}
	report.Inconsistencies = inconsistencies

	ids, err := w.reconciler.ListUserIDs(ctx)
	if err != nil {
		return report, errors.Wrap(err, "list users")
	}

	report.Batch = w.reconciler.BatchReconcile(ctx, ids)
	if w.leaderboard != nil {
		w.leaderboard.Invalidate()
	}

	return report, runErr
}
