package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shelfsync/shelfsync/internal/clock"
	"github.com/shelfsync/shelfsync/internal/config"
	"github.com/shelfsync/shelfsync/internal/event/domain"
	"github.com/shelfsync/shelfsync/internal/event/processor"
	"github.com/shelfsync/shelfsync/internal/observability/metrics"
	"github.com/shelfsync/shelfsync/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Outcome tells the ingress what happened to its delivery. Both outcomes must
// be acknowledged upstream; only transport-level failures are not.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeDuplicate Outcome = "duplicate"
)

type IngestRequest struct {
	UserID     snowflake.ID
	Topic      domain.Topic
	Source     domain.Source
	ExternalID string
	Payload    domain.Payload
	ReceivedAt time.Time
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Config    config.Config
	Repo      domain.Repository
	Processor *processor.Processor
	Metrics   *metrics.Metrics
	GenID     *snowflake.Node
}

// Queue persists every delivery, then hands it to a fixed pool of workers.
// The row is durable before the channel send, so a full buffer or a crash
// loses nothing: the sweep re-enqueues anything still marked received.
type Queue struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	cfg       config.QueueConfig
	repo      domain.Repository
	processor *processor.Processor
	metrics   *metrics.Metrics
	genID     *snowflake.Node

	ch   chan snowflake.ID
	wg   sync.WaitGroup
	stop context.CancelFunc
}

func New(lc fx.Lifecycle, p Params) *Queue {
	q := &Queue{
		db:        p.DB,
		log:       p.Log.Named("event.queue"),
		clock:     p.Clock,
		cfg:       p.Config.Queue,
		repo:      p.Repo,
		processor: p.Processor,
		metrics:   p.Metrics,
		genID:     p.GenID,
		ch:        make(chan snowflake.ID, p.Config.Queue.BufferSize),
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, cancel := context.WithCancel(context.Background())
			q.stop = cancel
			for i := 0; i < q.cfg.Workers; i++ {
				q.wg.Add(1)
				go q.worker(runCtx)
			}
			q.log.Info("event workers started", zap.Int("workers", q.cfg.Workers))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			q.stop()
			done := make(chan struct{})
			go func() {
				q.wg.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})

	return q
}

var Module = fx.Module("event.queue", fx.Provide(New))

// Ingest stores the delivery and schedules it for processing. Redeliveries
// collapse onto the first row with a bumped duplicate count.
func (q *Queue) Ingest(ctx context.Context, req IngestRequest) (Outcome, *domain.RawEvent, error) {
	if !req.Topic.Valid() {
		return "", nil, fmt.Errorf("%w: %s", processor.ErrUnknownTopic, req.Topic)
	}

	body, err := json.Marshal(req.Payload)
	if err != nil {
		return "", nil, err
	}
	receivedAt := req.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = q.clock.Now()
	}

	ev := &domain.RawEvent{
		ID:             q.genID.Generate(),
		UserID:         req.UserID,
		Topic:          req.Topic,
		Source:         req.Source,
		ExternalID:     req.ExternalID,
		IdempotencyKey: domain.IdempotencyKey(req.UserID, req.Source, req.Topic, req.ExternalID, body, receivedAt),
		Payload:        body,
		Status:         domain.StatusReceived,
		ReceivedAt:     receivedAt,
		UpdatedAt:      receivedAt,
	}

	if err := q.repo.Insert(ctx, q.db, ev); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return q.revive(ctx, req, ev.IdempotencyKey)
		}
		return "", nil, err
	}

	q.metrics.RecordEventReceived(ctx, string(req.Source), string(req.Topic))
	q.enqueue(ev.ID)
	return OutcomeAccepted, ev, nil
}

// revive resolves an insert conflict against the existing row. A redelivery of
// a failed event is a fresh chance, not a duplicate: the row goes back to
// received and is scheduled again. Anything else just bumps the counter.
func (q *Queue) revive(ctx context.Context, req IngestRequest, key string) (Outcome, *domain.RawEvent, error) {
	now := q.clock.Now()
	if derr := q.repo.IncrementDuplicate(ctx, q.db, key, now); derr != nil {
		return "", nil, derr
	}
	existing, ferr := q.repo.FindByIdempotencyKey(ctx, q.db, key)
	if ferr != nil {
		return "", nil, ferr
	}
	if existing != nil && existing.Status == domain.StatusFailed {
		replayed, rerr := q.repo.Replay(ctx, q.db, existing.UserID, existing.ID, now)
		if rerr != nil {
			return "", nil, rerr
		}
		if replayed {
			q.log.Info("redelivery revived failed event",
				zap.String("event_id", existing.ID.String()),
				zap.String("topic", string(existing.Topic)),
			)
			q.metrics.RecordEventReceived(ctx, string(req.Source), string(req.Topic))
			q.enqueue(existing.ID)
			existing.Status = domain.StatusReceived
			existing.FailureReason = ""
			existing.Attempts = 0
			return OutcomeAccepted, existing, nil
		}
	}
	q.metrics.RecordEventDuplicate(ctx, string(req.Source), string(req.Topic))
	return OutcomeDuplicate, existing, nil
}

// RecordMalformed stores an undecodable delivery as failed so it stays
// visible and replayable after a parser fix. The ingress still acks it.
func (q *Queue) RecordMalformed(ctx context.Context, userID snowflake.ID, source domain.Source, body []byte, reason string) error {
	now := q.clock.Now()
	ev := &domain.RawEvent{
		ID:             q.genID.Generate(),
		UserID:         userID,
		Topic:          "",
		Source:         source,
		IdempotencyKey: domain.IdempotencyKey(userID, source, "", "", body, now),
		Payload:        body,
		Status:         domain.StatusFailed,
		FailureReason:  reason,
		ReceivedAt:     now,
		UpdatedAt:      now,
	}
	if err := q.repo.Insert(ctx, q.db, ev); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return q.repo.IncrementDuplicate(ctx, q.db, ev.IdempotencyKey, now)
		}
		return err
	}
	return nil
}

// Enqueue schedules an already-persisted event, used by replay.
func (q *Queue) Enqueue(id snowflake.ID) {
	q.enqueue(id)
}

func (q *Queue) enqueue(id snowflake.ID) {
	select {
	case q.ch <- id:
		metrics.Worker().SetQueueDepth(len(q.ch))
	default:
		// Row is already durable; the sweep picks it up.
		q.log.Warn("event buffer full, deferring to sweep", zap.String("event_id", id.String()))
	}
}

// Sweep returns stuck processing rows to received and re-enqueues whatever is
// waiting. Run periodically; it is what makes delivery at-least-once across
// restarts and full buffers.
func (q *Queue) Sweep(ctx context.Context) error {
	now := q.clock.Now()
	reset, err := q.repo.ResetStuck(ctx, q.db, now.Add(-q.cfg.StuckTimeout), now)
	if err != nil {
		return err
	}
	if reset > 0 {
		q.log.Warn("reset stuck events", zap.Int64("count", reset))
	}

	pending, err := q.repo.ListByStatus(ctx, q.db, domain.StatusReceived, q.cfg.BufferSize)
	if err != nil {
		return err
	}
	for _, ev := range pending {
		q.enqueue(ev.ID)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.ch:
			metrics.Worker().SetQueueDepth(len(q.ch))
			q.handle(ctx, id)
		}
	}
}

func (q *Queue) handle(ctx context.Context, id snowflake.ID) {
	claimed, err := q.repo.Claim(ctx, q.db, id, q.clock.Now())
	if err != nil {
		q.log.Error("claim event", zap.String("event_id", id.String()), zap.Error(err))
		return
	}
	if !claimed {
		return
	}

	ev, err := q.repo.FindByID(ctx, q.db, id)
	if err != nil || ev == nil {
		q.log.Error("load claimed event", zap.String("event_id", id.String()), zap.Error(err))
		return
	}

	perr := q.processor.Process(ctx, ev)
	now := q.clock.Now()
	if perr == nil {
		if err := q.repo.MarkProcessed(ctx, q.db, id, now); err != nil {
			q.log.Error("mark processed", zap.String("event_id", id.String()), zap.Error(err))
		}
		return
	}

	to := domain.StatusReceived
	if ev.Attempts >= q.cfg.MaxRetries {
		to = domain.StatusFailed
	}
	q.log.Warn("event processing failed",
		zap.String("event_id", id.String()),
		zap.String("topic", string(ev.Topic)),
		zap.Int("attempts", ev.Attempts),
		zap.String("status", string(to)),
		zap.Error(perr),
	)
	// No immediate re-enqueue: the released row waits for the next sweep,
	// which spaces retries by the sweep interval instead of hot-looping a
	// failing event through the pool.
	if err := q.repo.Release(ctx, q.db, id, to, perr.Error(), now); err != nil {
		q.log.Error("release event", zap.String("event_id", id.String()), zap.Error(err))
	}
}
