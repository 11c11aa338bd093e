package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shelfsync/shelfsync/internal/clock"
	"github.com/shelfsync/shelfsync/internal/inventory/domain"
	"github.com/shelfsync/shelfsync/internal/inventory/repository"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB, *snowflake.Node, *clock.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&domain.Item{}))

	node, _ := snowflake.NewNode(1)
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Repo:  repository.Provide(),
		GenID: node,
		Clock: fc,
	})
	return svc, db, node, fc
}

func TestUpsertListed_CreateThenUpdate(t *testing.T) {
	svc, _, node, _ := newTestService(t)
	userID := node.Generate()
	ctx := context.Background()

	item, outcome, err := svc.UpsertListed(ctx, domain.ListedUpsert{
		UserID: userID, ListingID: "L-1", Title: "Widget", PriceCents: 1000, Quantity: 3,
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, outcome)
	assert.True(t, item.Active)
	assert.Equal(t, 3, item.Quantity)

	// Same listing again is an update, not a second row.
	again, outcome, err := svc.UpsertListed(ctx, domain.ListedUpsert{
		UserID: userID, ListingID: "L-1", Title: "Widget v2", PriceCents: 1100, Quantity: 5,
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.OutcomeUpdated, outcome)
	assert.Equal(t, item.ID, again.ID)
	assert.Equal(t, "Widget v2", again.Title)
	assert.Equal(t, int64(1100), again.PriceCents)
}

func TestUpsertListed_ReactivatesEndedItem(t *testing.T) {
	svc, _, node, _ := newTestService(t)
	userID := node.Generate()
	ctx := context.Background()

	item, _, err := svc.UpsertListed(ctx, domain.ListedUpsert{
		UserID: userID, ListingID: "L-1", Title: "Widget", Quantity: 1,
	})
	assert.NoError(t, err)
	assert.NoError(t, svc.End(ctx, userID, "L-1", domain.EndedUnsold))

	ended, err := svc.GetByListingID(ctx, userID, "L-1")
	assert.NoError(t, err)
	assert.False(t, ended.Active)
	assert.NotNil(t, ended.EndedAt)
	assert.Equal(t, domain.EndedUnsold, ended.EndedReason)

	// Ending twice is reported, the stored reason stays put.
	assert.ErrorIs(t, svc.End(ctx, userID, "L-1", domain.EndedSold), domain.ErrNotFound)
	ended, err = svc.GetByListingID(ctx, userID, "L-1")
	assert.NoError(t, err)
	assert.Equal(t, domain.EndedUnsold, ended.EndedReason)

	relisted, outcome, err := svc.UpsertListed(ctx, domain.ListedUpsert{
		UserID: userID, ListingID: "L-1", Title: "Widget", Quantity: 2,
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.OutcomeReactivated, outcome)
	assert.Equal(t, item.ID, relisted.ID)
	assert.True(t, relisted.Active)
	assert.Nil(t, relisted.EndedAt)
	assert.Empty(t, string(relisted.EndedReason))
}

func TestApplyRevision_OrphanAndEndedStayEnded(t *testing.T) {
	svc, _, node, _ := newTestService(t)
	userID := node.Generate()
	ctx := context.Background()

	// Revising an unknown listing is a recoverable gap, not a silent no-op.
	err := svc.ApplyRevision(ctx, domain.Revision{UserID: userID, ListingID: "L-404", Title: "x"})
	assert.ErrorIs(t, err, domain.ErrOrphanRevision)

	_, _, err = svc.UpsertListed(ctx, domain.ListedUpsert{
		UserID: userID, ListingID: "L-1", Title: "Widget", PriceCents: 1000, Quantity: 1,
	})
	assert.NoError(t, err)
	assert.NoError(t, svc.End(ctx, userID, "L-1", domain.EndedUnsold))

	// A stale revision arriving after the end updates fields but never
	// resurrects the listing.
	assert.NoError(t, svc.ApplyRevision(ctx, domain.Revision{
		UserID: userID, ListingID: "L-1", Title: "Widget revised", PriceCents: 900, Quantity: 1,
	}))
	item, err := svc.GetByListingID(ctx, userID, "L-1")
	assert.NoError(t, err)
	assert.False(t, item.Active)
	assert.Equal(t, "Widget revised", item.Title)
	assert.Equal(t, int64(900), item.PriceCents)
}

func TestDecrementForSale_DeactivatesAtZero(t *testing.T) {
	svc, _, node, _ := newTestService(t)
	userID := node.Generate()
	ctx := context.Background()

	item, _, err := svc.UpsertListed(ctx, domain.ListedUpsert{
		UserID: userID, ListingID: "L-1", Title: "Widget", Quantity: 2,
	})
	assert.NoError(t, err)

	after, err := svc.DecrementForSale(ctx, userID, item.ID, 1)
	assert.NoError(t, err)
	assert.Equal(t, 1, after.Quantity)
	assert.True(t, after.Active)

	after, err = svc.DecrementForSale(ctx, userID, item.ID, 1)
	assert.NoError(t, err)
	assert.Equal(t, 0, after.Quantity)
	assert.False(t, after.Active)
	assert.Equal(t, domain.EndedSold, after.EndedReason)

	// The closure cause survives in storage too.
	stored, err := svc.GetByListingID(ctx, userID, "L-1")
	assert.NoError(t, err)
	assert.Equal(t, domain.EndedSold, stored.EndedReason)

	// Redeliveries cannot drive the quantity negative.
	after, err = svc.DecrementForSale(ctx, userID, item.ID, 3)
	assert.NoError(t, err)
	assert.Equal(t, 0, after.Quantity)
}

func TestMarkOutOfStock_KeepsListingActive(t *testing.T) {
	svc, _, node, _ := newTestService(t)
	userID := node.Generate()
	ctx := context.Background()

	_, _, err := svc.UpsertListed(ctx, domain.ListedUpsert{
		UserID: userID, ListingID: "L-1", Title: "Widget", Quantity: 4,
	})
	assert.NoError(t, err)
	assert.NoError(t, svc.MarkOutOfStock(ctx, userID, "L-1"))

	item, err := svc.GetByListingID(ctx, userID, "L-1")
	assert.NoError(t, err)
	assert.Equal(t, 0, item.Quantity)
	assert.True(t, item.Active)

	assert.ErrorIs(t, svc.MarkOutOfStock(ctx, userID, "L-404"), domain.ErrNotFound)
}

func TestMarkRelisted_OnlyEndedItems(t *testing.T) {
	svc, _, node, _ := newTestService(t)
	userID := node.Generate()
	ctx := context.Background()

	item, _, err := svc.UpsertListed(ctx, domain.ListedUpsert{
		UserID: userID, ListingID: "L-1", Title: "Widget", PriceCents: 1000, Quantity: 1,
	})
	assert.NoError(t, err)

	// Still active: nothing to relist.
	_, err = svc.MarkRelisted(ctx, userID, item.ID, "L-2", 900)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.NoError(t, svc.End(ctx, userID, "L-1", domain.EndedUnsold))
	relisted, err := svc.MarkRelisted(ctx, userID, item.ID, "L-2", 900)
	assert.NoError(t, err)
	assert.True(t, relisted.Active)
	assert.Equal(t, "L-2", relisted.ListingID)
	assert.Equal(t, int64(900), relisted.PriceCents)
	assert.Nil(t, relisted.EndedAt)
	assert.Empty(t, string(relisted.EndedReason))
}
