package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	backfilldomain "github.com/shelfsync/shelfsync/internal/backfill/domain"
	"github.com/shelfsync/shelfsync/internal/clock"
	"github.com/shelfsync/shelfsync/internal/credential"
	eventdomain "github.com/shelfsync/shelfsync/internal/event/domain"
	"github.com/shelfsync/shelfsync/internal/event/queue"
	"github.com/shelfsync/shelfsync/internal/marketplace"
	obsmetrics "github.com/shelfsync/shelfsync/internal/observability/metrics"
	relistdomain "github.com/shelfsync/shelfsync/internal/relist/domain"
	subscriptiondomain "github.com/shelfsync/shelfsync/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	Clock           clock.Clock
	GenID           *snowflake.Node
	Queue           *queue.Queue
	SubscriptionSvc subscriptiondomain.Service
	RelistSvc       relistdomain.Service
	Marketplace     marketplace.Client
	Vault           *credential.Vault
	BackfillRepo    backfilldomain.Repository
	Locker          *Locker `optional:"true"`
	Config          Config  `optional:"true"`
}

type Scheduler struct {
	db              *gorm.DB
	log             *zap.Logger
	cfg             Config
	clock           clock.Clock
	genID           *snowflake.Node
	queue           *queue.Queue
	subscriptionSvc subscriptiondomain.Service
	relistSvc       relistdomain.Service
	marketplace     marketplace.Client
	vault           *credential.Vault
	backfillRepo    backfilldomain.Repository
	locker          *Locker
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.GenID == nil || p.Queue == nil || p.SubscriptionSvc == nil || p.RelistSvc == nil || p.Marketplace == nil || p.Vault == nil || p.BackfillRepo == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:              p.DB,
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		clock:           p.Clock,
		genID:           p.GenID,
		queue:           p.Queue,
		subscriptionSvc: p.SubscriptionSvc,
		relistSvc:       p.RelistSvc,
		marketplace:     p.Marketplace,
		vault:           p.Vault,
		backfillRepo:    p.BackfillRepo,
		locker:          p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	lockKey := "shelfsync:job:" + name
	token, owner, err := s.locker.TryLock(ctx, lockKey, s.cfg.LockTTL)
	if err != nil {
		s.log.Warn("job lock unavailable", zap.String("job", name), zap.Error(err))
		return nil
	}
	if !owner {
		return nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
			s.log.Warn("job lock release failed", zap.String("job", name), zap.Error(err))
		}
	}()

	workerMetrics := obsmetrics.Worker()
	workerMetrics.IncJobRun(name)

	err = fn(ctx)
	workerMetrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	// Deadline is a soft timeout: the job made partial progress and the next
	// tick resumes where it left off.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		workerMetrics.IncJobTimeout(name)
	}
	workerMetrics.IncJobError(name, err)
	if isTimeout {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"event_sweep", s.isJobEnabled("event_sweep"), func(ctx context.Context) error {
			return s.runJob(ctx, "event_sweep", s.cfg.JobTimeout, s.EventSweepJob)
		}},
		{"renew_subscriptions", s.isJobEnabled("renew_subscriptions"), func(ctx context.Context) error {
			return s.runJob(ctx, "renew_subscriptions", s.cfg.JobTimeout, s.RenewSubscriptionsJob)
		}},
		{"relist_tick", s.isJobEnabled("relist_tick"), func(ctx context.Context) error {
			return s.runJob(ctx, "relist_tick", s.cfg.JobTimeout, s.RelistTickJob)
		}},
		{"poll_fallback", s.isJobEnabled("poll_fallback"), func(ctx context.Context) error {
			return s.runJob(ctx, "poll_fallback", 2*s.cfg.JobTimeout, s.PollFallbackJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	workerMetrics := obsmetrics.Worker()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			workerMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs means every job runs (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) EventSweepJob(ctx context.Context) error {
	return s.queue.Sweep(ctx)
}

func (s *Scheduler) RenewSubscriptionsJob(ctx context.Context) error {
	renewed, err := s.subscriptionSvc.RenewExpiring(ctx, s.cfg.RenewHorizonDays)
	if renewed > 0 {
		s.log.Info("subscriptions renewed", zap.Int("count", renewed))
	}
	return err
}

func (s *Scheduler) RelistTickJob(ctx context.Context) error {
	ran, err := s.relistSvc.Tick(ctx)
	if ran > 0 {
		s.log.Info("relist rules ran", zap.Int("count", ran))
	}
	return err
}

// PollFallbackJob rescans recent orders for every connected user and feeds
// them through the same ingest path as webhooks. It catches sales whose push
// notification never arrived; the idempotency key collapses the overlap.
func (s *Scheduler) PollFallbackJob(ctx context.Context) error {
	users, err := s.vault.Users(ctx)
	if err != nil {
		return err
	}

	var jobErr error
	now := s.clock.Now()
	for _, userID := range users {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		if err := s.pollUser(ctx, userID, now); err != nil {
			jobErr = errors.Join(jobErr, err)
		}
	}
	return jobErr
}

func (s *Scheduler) pollUser(ctx context.Context, userID snowflake.ID, to time.Time) error {
	token, err := s.vault.AccessToken(ctx, userID)
	if err != nil {
		if errors.Is(err, credential.ErrReconnectRequired) || errors.Is(err, credential.ErrNotConnected) {
			return nil
		}
		return err
	}

	topic := string(eventdomain.TopicItemSold)
	cursor, err := s.backfillRepo.FindPollCursor(ctx, s.db, userID, topic)
	if err != nil {
		return err
	}
	// A user polled before resumes from their watermark, so a stalled poller
	// catches up instead of skipping the gap. First poll takes the lookback.
	from := to.Add(-s.cfg.PollLookback)
	if cursor != nil {
		from = cursor.LastPolledAt
	}

	page := 0
	for {
		result, err := s.marketplace.ListOrders(ctx, token, from, to, page)
		if err != nil {
			return err
		}
		for _, order := range result.Orders {
			_, _, err := s.queue.Ingest(ctx, queue.IngestRequest{
				UserID: userID,
				Topic:  eventdomain.TopicItemSold,
				Source: eventdomain.SourcePoll,
				// Stable per order so every rescan collapses onto the
				// first delivery.
				ExternalID: "order-" + order.OrderID,
				Payload: eventdomain.Payload{
					ListingID:  order.ListingID,
					Title:      order.Title,
					SKU:        order.SKU,
					CustomSKU:  order.CustomSKU,
					PriceCents: order.PriceCents,
					FeeCents:   order.FeeCents,
					Quantity:   order.Quantity,
					OrderID:    order.OrderID,
					OrderState: order.Status,
					OccurredAt: order.CreatedAt,
				},
			})
			if err != nil {
				return err
			}
		}
		if !result.HasMore {
			break
		}
		page = result.NextPage
	}

	// The watermark only advances once every page landed; a failed scan
	// repeats from the same spot and the idempotency key eats the overlap.
	now := s.clock.Now()
	next := &backfilldomain.PollCursor{
		UserID: userID, Topic: topic, LastPolledAt: to, UpdatedAt: now,
	}
	if cursor != nil {
		next.ID = cursor.ID
	} else {
		next.ID = s.genID.Generate()
	}
	return s.backfillRepo.UpsertPollCursor(ctx, s.db, next)
}
