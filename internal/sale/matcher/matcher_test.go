package matcher

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shelfsync/shelfsync/internal/clock"
	inventorydomain "github.com/shelfsync/shelfsync/internal/inventory/domain"
	inventoryrepo "github.com/shelfsync/shelfsync/internal/inventory/repository"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestMatcher(t *testing.T) (*Matcher, *gorm.DB, *snowflake.Node, *clock.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&inventorydomain.Item{}))

	node, _ := snowflake.NewNode(1)
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	m := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Repo:  inventoryrepo.Provide(),
		Clock: fc,
	})
	return m, db, node, fc
}

func seedItem(t *testing.T, db *gorm.DB, item *inventorydomain.Item) {
	t.Helper()
	if item.LastSyncedAt.IsZero() {
		item.LastSyncedAt = item.UpdatedAt
	}
	// The model's `default:true` tag makes gorm replace a zero-value Active
	// with the default on insert, so a seeded inactive item has to be
	// deactivated explicitly afterwards.
	active := item.Active
	assert.NoError(t, db.Create(item).Error)
	if !active {
		assert.NoError(t, db.Model(item).UpdateColumn("active", false).Error)
		item.Active = false
	}
}

func TestMatch_StrategyPriority(t *testing.T) {
	m, db, node, fc := newTestMatcher(t)
	userID := node.Generate()
	now := fc.Now()

	byListing := node.Generate()
	bySKU := node.Generate()
	seedItem(t, db, &inventorydomain.Item{
		ID: byListing, UserID: userID, ListingID: "L-1", SKU: "SKU-1",
		Title: "Red Widget", Active: true, CreatedAt: now, UpdatedAt: now,
	})
	seedItem(t, db, &inventorydomain.Item{
		ID: bySKU, UserID: userID, ListingID: "L-2", SKU: "SKU-2",
		Title: "Blue Widget", Active: true, CreatedAt: now, UpdatedAt: now,
	})

	// Listing id wins over everything else the candidate carries.
	match, err := m.Match(context.Background(), Candidate{
		UserID: userID, ListingID: "L-1", SKU: "SKU-2", Title: "Blue Widget",
	})
	assert.NoError(t, err)
	assert.NotNil(t, match)
	assert.Equal(t, byListing, match.ItemID)
	assert.Equal(t, StrategyListingID, match.Strategy)

	// Without a listing id the SKU decides.
	match, err = m.Match(context.Background(), Candidate{
		UserID: userID, SKU: "SKU-2", Title: "Red Widget",
	})
	assert.NoError(t, err)
	assert.NotNil(t, match)
	assert.Equal(t, bySKU, match.ItemID)
	assert.Equal(t, StrategySKU, match.Strategy)
}

func TestMatch_CustomSKUBeforeSKU(t *testing.T) {
	m, db, node, fc := newTestMatcher(t)
	userID := node.Generate()
	now := fc.Now()

	byCustom := node.Generate()
	byPlain := node.Generate()
	seedItem(t, db, &inventorydomain.Item{
		ID: byCustom, UserID: userID, ListingID: "L-1", CustomSKU: "CS-1",
		Title: "Alpha", Active: true, CreatedAt: now, UpdatedAt: now,
	})
	seedItem(t, db, &inventorydomain.Item{
		ID: byPlain, UserID: userID, ListingID: "L-2", SKU: "CS-1",
		Title: "Beta", Active: true, CreatedAt: now, UpdatedAt: now,
	})

	match, err := m.Match(context.Background(), Candidate{
		UserID: userID, CustomSKU: "CS-1", SKU: "CS-1",
	})
	assert.NoError(t, err)
	assert.NotNil(t, match)
	assert.Equal(t, byCustom, match.ItemID)
	assert.Equal(t, StrategyCustomSKU, match.Strategy)
}

func TestMatch_TitleExactIsCaseInsensitive(t *testing.T) {
	m, db, node, fc := newTestMatcher(t)
	userID := node.Generate()
	now := fc.Now()

	id := node.Generate()
	seedItem(t, db, &inventorydomain.Item{
		ID: id, UserID: userID, ListingID: "L-1",
		Title: "Vintage Camera Lens", Active: true, CreatedAt: now, UpdatedAt: now,
	})

	match, err := m.Match(context.Background(), Candidate{
		UserID: userID, Title: "VINTAGE camera LENS",
	})
	assert.NoError(t, err)
	assert.NotNil(t, match)
	assert.Equal(t, id, match.ItemID)
	assert.Equal(t, StrategyTitleExact, match.Strategy)
}

func TestMatch_FuzzyThresholdBoundary(t *testing.T) {
	m, db, node, fc := newTestMatcher(t)
	userID := node.Generate()
	now := fc.Now()

	id := node.Generate()
	seedItem(t, db, &inventorydomain.Item{
		ID: id, UserID: userID, ListingID: "L-1",
		Title: "abcdefghij", Active: true, CreatedAt: now, UpdatedAt: now,
	})

	// Two of ten characters differ: similarity exactly 0.80, which matches.
	match, err := m.Match(context.Background(), Candidate{UserID: userID, Title: "abcdefghxy"})
	assert.NoError(t, err)
	assert.NotNil(t, match)
	assert.Equal(t, StrategyTitleFuzzy, match.Strategy)

	// Three differing characters put it at 0.70, below the threshold.
	match, err = m.Match(context.Background(), Candidate{UserID: userID, Title: "abcdefgxyz"})
	assert.NoError(t, err)
	assert.Nil(t, match)
}

func TestMatch_FuzzyTieBreaksOnMostRecentlyUpdated(t *testing.T) {
	m, db, node, fc := newTestMatcher(t)
	userID := node.Generate()
	now := fc.Now()

	older := node.Generate()
	newer := node.Generate()
	seedItem(t, db, &inventorydomain.Item{
		ID: older, UserID: userID, ListingID: "L-1",
		Title: "abcdefghij", Active: true, CreatedAt: now.Add(-2 * time.Hour), UpdatedAt: now.Add(-2 * time.Hour),
	})
	seedItem(t, db, &inventorydomain.Item{
		ID: newer, UserID: userID, ListingID: "L-2",
		Title: "abcdefghij", Active: true, CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour),
	})

	// One character off both titles equally; the fresher item wins the tie.
	match, err := m.Match(context.Background(), Candidate{UserID: userID, Title: "abcdefghix"})
	assert.NoError(t, err)
	assert.NotNil(t, match)
	assert.Equal(t, newer, match.ItemID)
}

func TestMatch_FuzzySkipsLongEndedItems(t *testing.T) {
	m, db, node, fc := newTestMatcher(t)
	userID := node.Generate()
	now := fc.Now()

	recentEnd := now.Add(-30 * 24 * time.Hour)
	ancientEnd := now.Add(-200 * 24 * time.Hour)

	recent := node.Generate()
	seedItem(t, db, &inventorydomain.Item{
		ID: recent, UserID: userID, ListingID: "L-1",
		Title: "abcdefghij", Active: false, EndedAt: &recentEnd,
		CreatedAt: recentEnd, UpdatedAt: recentEnd,
	})
	ancient := node.Generate()
	seedItem(t, db, &inventorydomain.Item{
		ID: ancient, UserID: userID, ListingID: "L-2",
		Title: "qrstuvwxyz", Active: false, EndedAt: &ancientEnd,
		CreatedAt: ancientEnd, UpdatedAt: ancientEnd,
	})

	// Recently ended items remain matchable.
	match, err := m.Match(context.Background(), Candidate{UserID: userID, Title: "abcdefghix"})
	assert.NoError(t, err)
	assert.NotNil(t, match)
	assert.Equal(t, recent, match.ItemID)

	// Items ended outside the window are not.
	match, err = m.Match(context.Background(), Candidate{UserID: userID, Title: "qrstuvwxyx"})
	assert.NoError(t, err)
	assert.Nil(t, match)
}

func TestMatch_NoSignalReturnsNil(t *testing.T) {
	m, _, node, _ := newTestMatcher(t)

	match, err := m.Match(context.Background(), Candidate{UserID: node.Generate()})
	assert.NoError(t, err)
	assert.Nil(t, match)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("same", "same"))
	assert.Equal(t, 0.0, Similarity("", "anything"))
	assert.InDelta(t, 0.80, Similarity("abcdefghij", "abcdefghxy"), 1e-9)
	assert.InDelta(t, 0.70, Similarity("abcdefghij", "abcdefgxyz"), 1e-9)
}
