package queue

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shelfsync/shelfsync/internal/clock"
	"github.com/shelfsync/shelfsync/internal/config"
	"github.com/shelfsync/shelfsync/internal/event/domain"
	"github.com/shelfsync/shelfsync/internal/event/processor"
	"github.com/shelfsync/shelfsync/internal/event/repository"
	inventorydomain "github.com/shelfsync/shelfsync/internal/inventory/domain"
	inventoryrepo "github.com/shelfsync/shelfsync/internal/inventory/repository"
	inventoryservice "github.com/shelfsync/shelfsync/internal/inventory/service"
	notifydomain "github.com/shelfsync/shelfsync/internal/notify/domain"
	notifyservice "github.com/shelfsync/shelfsync/internal/notify/service"
	saledomain "github.com/shelfsync/shelfsync/internal/sale/domain"
	"github.com/shelfsync/shelfsync/internal/sale/matcher"
	salerepo "github.com/shelfsync/shelfsync/internal/sale/repository"
	saleservice "github.com/shelfsync/shelfsync/internal/sale/service"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	q      *Queue
	db     *gorm.DB
	repo   domain.Repository
	clock  *clock.FakeClock
	node   *snowflake.Node
	userID snowflake.ID
}

func newFixture(t *testing.T, qcfg config.QueueConfig) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&domain.RawEvent{},
		&inventorydomain.Item{},
		&saledomain.Sale{},
		&notifydomain.Notification{},
	))

	node, _ := snowflake.NewNode(1)
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	invRepo := inventoryrepo.Provide()
	invSvc := inventoryservice.New(inventoryservice.Params{
		DB: db, Log: log, Repo: invRepo, GenID: node, Clock: fc,
	})
	saleSvc := saleservice.New(saleservice.Params{
		DB: db, Log: log, Repo: salerepo.Provide(), InventorySvc: invSvc,
		Matcher: matcher.New(matcher.Params{DB: db, Log: log, Repo: invRepo, Clock: fc}),
		GenID:   node, Clock: fc,
	})
	notifySvc := notifyservice.New(notifyservice.Params{DB: db, Log: log, GenID: node, Clock: fc})

	proc := processor.New(processor.Params{
		Log: log, InventorySvc: invSvc, SaleSvc: saleSvc, NotifySvc: notifySvc,
	})

	if qcfg.Workers == 0 {
		qcfg.Workers = 1
	}
	if qcfg.BufferSize == 0 {
		qcfg.BufferSize = 16
	}
	if qcfg.MaxRetries == 0 {
		qcfg.MaxRetries = 3
	}
	if qcfg.StuckTimeout == 0 {
		qcfg.StuckTimeout = 10 * time.Minute
	}

	repo := repository.Provide()
	// Workers are driven by hand in tests, so the queue is assembled without
	// a lifecycle.
	q := &Queue{
		db:        db,
		log:       log,
		clock:     fc,
		cfg:       qcfg,
		repo:      repo,
		processor: proc,
		genID:     node,
		ch:        make(chan snowflake.ID, qcfg.BufferSize),
	}

	return &fixture{q: q, db: db, repo: repo, clock: fc, node: node, userID: node.Generate()}
}

// drain processes everything currently buffered, like the workers would.
func (f *fixture) drain(t *testing.T) int {
	t.Helper()
	handled := 0
	for {
		select {
		case id := <-f.q.ch:
			f.q.handle(context.Background(), id)
			handled++
		default:
			return handled
		}
	}
}

func TestIngest_DuplicateCollapsesOntoFirstRow(t *testing.T) {
	f := newFixture(t, config.QueueConfig{})
	ctx := context.Background()

	req := IngestRequest{
		UserID:     f.userID,
		Topic:      domain.TopicItemListed,
		Source:     domain.SourcePushJSON,
		ExternalID: "evt-" + f.userID.String(),
		Payload:    domain.Payload{ListingID: "L-1", Title: "Widget", Quantity: 1},
	}

	outcome, ev, err := f.q.Ingest(ctx, req)
	assert.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)
	assert.Equal(t, domain.StatusReceived, ev.Status)

	outcome, dup, err := f.q.Ingest(ctx, req)
	assert.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, ev.ID, dup.ID)
	assert.Equal(t, 1, dup.DuplicateCount)

	var count int64
	assert.NoError(t, f.db.Model(&domain.RawEvent{}).Where("user_id = ?", f.userID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// Only the first delivery was enqueued.
	assert.Equal(t, 1, f.drain(t))
}

func TestIngest_SameExternalIDAcrossUsersIsTwoEvents(t *testing.T) {
	f := newFixture(t, config.QueueConfig{})
	ctx := context.Background()
	otherUser := f.node.Generate()

	// Order ids are only unique within a marketplace account, so the same
	// external id for two users must land as two independent rows.
	externalID := "order-1001-" + f.userID.String()
	for _, userID := range []snowflake.ID{f.userID, otherUser} {
		outcome, ev, err := f.q.Ingest(ctx, IngestRequest{
			UserID:     userID,
			Topic:      domain.TopicItemSold,
			Source:     domain.SourcePoll,
			ExternalID: externalID,
			Payload:    domain.Payload{ListingID: "L-1", OrderID: "1001", OrderState: "paid"},
		})
		assert.NoError(t, err)
		assert.Equal(t, OutcomeAccepted, outcome)
		assert.Equal(t, userID, ev.UserID)
	}

	var count int64
	assert.NoError(t, f.db.Model(&domain.RawEvent{}).
		Where("external_id = ?", externalID).Count(&count).Error)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 2, f.drain(t))
}

func TestIngest_RedeliveryRevivesFailedEvent(t *testing.T) {
	f := newFixture(t, config.QueueConfig{MaxRetries: 1})
	ctx := context.Background()

	// A sold event without an order id fails permanently on the first attempt.
	req := IngestRequest{
		UserID:     f.userID,
		Topic:      domain.TopicItemSold,
		Source:     domain.SourcePushJSON,
		ExternalID: "evt-revive-" + f.userID.String(),
		Payload:    domain.Payload{ListingID: "L-1", Title: "Widget"},
	}
	_, ev, err := f.q.Ingest(ctx, req)
	assert.NoError(t, err)
	assert.Equal(t, 1, f.drain(t))

	after, err := f.repo.FindByID(ctx, f.db, ev.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, after.Status)

	// The marketplace redelivers the event. That is a fresh chance for a row
	// that already failed, not a duplicate to swallow.
	outcome, revived, err := f.q.Ingest(ctx, req)
	assert.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)
	assert.Equal(t, ev.ID, revived.ID)
	assert.Equal(t, domain.StatusReceived, revived.Status)
	assert.Zero(t, revived.Attempts)
	assert.Equal(t, 1, f.drain(t))

	// A redelivery while the row is merely pending stays a duplicate.
	_, ev2, err := f.q.Ingest(ctx, IngestRequest{
		UserID:     f.userID,
		Topic:      domain.TopicItemListed,
		Source:     domain.SourcePushJSON,
		ExternalID: "evt-pending-" + f.userID.String(),
		Payload:    domain.Payload{ListingID: "L-2", Title: "Widget", Quantity: 1},
	})
	assert.NoError(t, err)
	outcome, dup, err := f.q.Ingest(ctx, IngestRequest{
		UserID:     f.userID,
		Topic:      domain.TopicItemListed,
		Source:     domain.SourcePushJSON,
		ExternalID: "evt-pending-" + f.userID.String(),
		Payload:    domain.Payload{ListingID: "L-2", Title: "Widget", Quantity: 1},
	})
	assert.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, ev2.ID, dup.ID)
}

func TestIngest_RejectsUnknownTopic(t *testing.T) {
	f := newFixture(t, config.QueueConfig{})
	_, _, err := f.q.Ingest(context.Background(), IngestRequest{
		UserID: f.userID, Topic: "item-exploded", Source: domain.SourcePushJSON,
	})
	assert.ErrorIs(t, err, processor.ErrUnknownTopic)
}

func TestHandle_ProcessesListedEvent(t *testing.T) {
	f := newFixture(t, config.QueueConfig{})
	ctx := context.Background()

	_, ev, err := f.q.Ingest(ctx, IngestRequest{
		UserID:     f.userID,
		Topic:      domain.TopicItemListed,
		Source:     domain.SourcePushJSON,
		ExternalID: "evt-" + f.userID.String(),
		Payload:    domain.Payload{ListingID: "L-1", Title: "Widget", PriceCents: 1000, Quantity: 2},
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, f.drain(t))

	after, err := f.repo.FindByID(ctx, f.db, ev.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusProcessed, after.Status)
	assert.NotNil(t, after.ProcessedAt)
	assert.Equal(t, 1, after.Attempts)

	var item inventorydomain.Item
	assert.NoError(t, f.db.Where("user_id = ? AND listing_id = ?", f.userID, "L-1").First(&item).Error)
	assert.Equal(t, "Widget", item.Title)
}

func TestHandle_RetriesThenFails(t *testing.T) {
	f := newFixture(t, config.QueueConfig{MaxRetries: 2})
	ctx := context.Background()

	// A sold event without an order id cannot be recorded and keeps failing.
	_, ev, err := f.q.Ingest(ctx, IngestRequest{
		UserID:     f.userID,
		Topic:      domain.TopicItemSold,
		Source:     domain.SourcePushJSON,
		ExternalID: "evt-" + f.userID.String(),
		Payload:    domain.Payload{ListingID: "L-1", Title: "Widget"},
	})
	assert.NoError(t, err)

	// First attempt: released back to received but not re-enqueued, so the
	// retry waits for the next sweep instead of hot-looping.
	assert.Equal(t, 1, f.drain(t))
	assert.Equal(t, 0, f.drain(t))
	after, err := f.repo.FindByID(ctx, f.db, ev.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusReceived, after.Status)
	assert.Equal(t, 1, after.Attempts)
	assert.NotEmpty(t, after.FailureReason)

	// The sweep schedules the second attempt, which exhausts the retry budget.
	assert.NoError(t, f.q.Sweep(ctx))
	assert.Equal(t, 1, f.drain(t))
	after, err = f.repo.FindByID(ctx, f.db, ev.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, after.Status)
	assert.Equal(t, 2, after.Attempts)

	// Nothing left in the buffer.
	assert.Equal(t, 0, f.drain(t))
}

func TestSweep_RecoversStuckAndPendingEvents(t *testing.T) {
	f := newFixture(t, config.QueueConfig{StuckTimeout: 10 * time.Minute})
	ctx := context.Background()

	_, ev, err := f.q.Ingest(ctx, IngestRequest{
		UserID:     f.userID,
		Topic:      domain.TopicItemListed,
		Source:     domain.SourcePushJSON,
		ExternalID: "evt-" + f.userID.String(),
		Payload:    domain.Payload{ListingID: "L-1", Title: "Widget", Quantity: 1},
	})
	assert.NoError(t, err)

	// Simulate a crash mid-processing: claimed but never finished, and the
	// buffered id lost with the process.
	claimed, err := f.repo.Claim(ctx, f.db, ev.ID, f.clock.Now())
	assert.NoError(t, err)
	assert.True(t, claimed)
	<-f.q.ch

	// Too fresh to reclaim.
	assert.NoError(t, f.q.Sweep(ctx))
	assert.Equal(t, 0, f.drain(t))

	f.clock.Advance(11 * time.Minute)
	assert.NoError(t, f.q.Sweep(ctx))
	assert.Equal(t, 1, f.drain(t))

	after, err := f.repo.FindByID(ctx, f.db, ev.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusProcessed, after.Status)
}

func TestRecordMalformed(t *testing.T) {
	f := newFixture(t, config.QueueConfig{})
	ctx := context.Background()
	body := []byte(`{"event_id":`)

	assert.NoError(t, f.q.RecordMalformed(ctx, f.userID, domain.SourcePushJSON, body, "unmarshal failed"))

	var ev domain.RawEvent
	assert.NoError(t, f.db.Where("user_id = ? AND status = ?", f.userID, domain.StatusFailed).First(&ev).Error)
	assert.Equal(t, "unmarshal failed", ev.FailureReason)
	assert.Empty(t, string(ev.Topic))

	// A retried malformed delivery inside the dedup bucket only bumps the
	// duplicate count.
	assert.NoError(t, f.q.RecordMalformed(ctx, f.userID, domain.SourcePushJSON, body, "unmarshal failed"))
	var count int64
	assert.NoError(t, f.db.Model(&domain.RawEvent{}).Where("user_id = ?", f.userID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
