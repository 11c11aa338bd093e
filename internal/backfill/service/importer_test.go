package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shelfsync/shelfsync/internal/backfill/domain"
	"github.com/shelfsync/shelfsync/internal/backfill/repository"
	"github.com/shelfsync/shelfsync/internal/clock"
	"github.com/shelfsync/shelfsync/internal/config"
	"github.com/shelfsync/shelfsync/internal/credential"
	inventorydomain "github.com/shelfsync/shelfsync/internal/inventory/domain"
	inventoryrepo "github.com/shelfsync/shelfsync/internal/inventory/repository"
	inventoryservice "github.com/shelfsync/shelfsync/internal/inventory/service"
	"github.com/shelfsync/shelfsync/internal/marketplace"
	saledomain "github.com/shelfsync/shelfsync/internal/sale/domain"
	"github.com/shelfsync/shelfsync/internal/sale/matcher"
	salerepo "github.com/shelfsync/shelfsync/internal/sale/repository"
	saleservice "github.com/shelfsync/shelfsync/internal/sale/service"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fakeOrders serves orders from a fixed history: every window that overlaps
// [historyFrom, historyTo] yields ordersPerWindow fresh orders, everything
// older is empty.
type fakeOrders struct {
	historyFrom     time.Time
	historyTo       time.Time
	ordersPerWindow int
	seq             int
	listCalls       int
	listErr         error
}

func (f *fakeOrders) ListOrders(ctx context.Context, token string, from, to time.Time, page int) (marketplace.OrdersPage, error) {
	f.listCalls++
	if f.listErr != nil {
		return marketplace.OrdersPage{}, f.listErr
	}
	if to.Before(f.historyFrom) || from.After(f.historyTo) {
		return marketplace.OrdersPage{}, nil
	}
	orders := make([]marketplace.Order, 0, f.ordersPerWindow)
	for i := 0; i < f.ordersPerWindow; i++ {
		f.seq++
		orders = append(orders, marketplace.Order{
			OrderID:    fmt.Sprintf("ORD-%d", f.seq),
			ListingID:  fmt.Sprintf("L-%d", f.seq),
			Title:      fmt.Sprintf("Historic item %d", f.seq),
			PriceCents: 1000,
			Quantity:   1,
			Status:     "completed",
			CreatedAt:  to.Add(-time.Hour),
		})
	}
	return marketplace.OrdersPage{Orders: orders}, nil
}

func (f *fakeOrders) RefreshToken(ctx context.Context, refreshToken string) (marketplace.TokenResponse, error) {
	return marketplace.TokenResponse{}, errors.New("unexpected call")
}
func (f *fakeOrders) GetListing(ctx context.Context, token, listingID string) (marketplace.Listing, error) {
	return marketplace.Listing{}, errors.New("unexpected call")
}
func (f *fakeOrders) CreateSubscription(ctx context.Context, token string, req marketplace.SubscriptionRequest) (marketplace.SubscriptionResponse, error) {
	return marketplace.SubscriptionResponse{}, errors.New("unexpected call")
}
func (f *fakeOrders) DeleteSubscription(ctx context.Context, token, subscriptionID string) error {
	return errors.New("unexpected call")
}
func (f *fakeOrders) ReviseListing(ctx context.Context, token, listingID string, priceCents int64) error {
	return errors.New("unexpected call")
}
func (f *fakeOrders) RelistListing(ctx context.Context, token, listingID string, priceCents int64) (string, error) {
	return "", errors.New("unexpected call")
}
func (f *fakeOrders) SupportsRevise() bool { return false }

type fixture struct {
	imp    *importer
	market *fakeOrders
	db     *gorm.DB
	clock  *clock.FakeClock
	userID snowflake.ID
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&inventorydomain.Item{},
		&saledomain.Sale{},
		&domain.Watermark{},
	))
	assert.NoError(t, db.Exec(`CREATE TABLE IF NOT EXISTS marketplace_credentials (
		user_id INTEGER PRIMARY KEY, ciphertext BLOB, expires_at DATETIME, updated_at DATETIME)`).Error)

	node, _ := snowflake.NewNode(1)
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	market := &fakeOrders{}

	vault := credential.NewVault(credential.Params{
		DB: db, Log: log, Clock: fc,
		Cfg: config.Config{CredentialSecret: "test-secret"},
	})

	invRepo := inventoryrepo.Provide()
	invSvc := inventoryservice.New(inventoryservice.Params{
		DB: db, Log: log, Repo: invRepo, GenID: node, Clock: fc,
	})
	saleSvc := saleservice.New(saleservice.Params{
		DB: db, Log: log, Repo: salerepo.Provide(), InventorySvc: invSvc,
		Matcher: matcher.New(matcher.Params{DB: db, Log: log, Repo: invRepo, Clock: fc}),
		GenID:   node, Clock: fc,
	})

	imp := New(Params{
		DB: db, Log: log, Clock: fc, Repo: repository.Provide(),
		SaleSvc: saleSvc, Marketplace: market, Vault: vault, GenID: node,
	}).(*importer)
	imp.opts = opts.withDefaults()

	f := &fixture{imp: imp, market: market, db: db, clock: fc, userID: node.Generate()}
	assert.NoError(t, vault.Put(context.Background(), f.userID, credential.Token{
		AccessToken:  "tok",
		RefreshToken: "refresh",
		ExpiresAt:    fc.Now().Add(24 * time.Hour),
	}))
	return f
}

func TestRun_StopsAfterConsecutiveEmptyWindows(t *testing.T) {
	f := newFixture(t, Options{WindowDays: 30})
	now := f.clock.Now()
	// Two months of history, then silence.
	f.market.historyFrom = now.Add(-59 * 24 * time.Hour)
	f.market.historyTo = now
	f.market.ordersPerWindow = 3

	res, err := f.imp.Run(context.Background(), f.userID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusExhausted, res.Status)
	assert.Equal(t, 6, res.OrdersImported)
	// Two populated windows plus the two empties that ended the scan.
	assert.Equal(t, 4, res.Windows)

	wm, err := f.imp.Status(context.Background(), f.userID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusExhausted, wm.Status)
	assert.Equal(t, 2, wm.EmptyWindows)
}

func TestRun_StopsAtWindowCap(t *testing.T) {
	f := newFixture(t, Options{WindowDays: 30, MaxWindows: 3})
	now := f.clock.Now()
	f.market.historyFrom = now.Add(-365 * 24 * time.Hour)
	f.market.historyTo = now
	f.market.ordersPerWindow = 1

	res, err := f.imp.Run(context.Background(), f.userID)
	assert.NoError(t, err)
	// The cap stopped the scan with history still unscanned, which is not
	// the same as exhausting the account.
	assert.Equal(t, domain.StatusCapped, res.Status)
	assert.Equal(t, 3, res.Windows)
	assert.Equal(t, 3, res.OrdersImported)
}

func TestRun_StopsAtOrderCap(t *testing.T) {
	f := newFixture(t, Options{WindowDays: 30, MaxOrders: 5})
	now := f.clock.Now()
	f.market.historyFrom = now.Add(-365 * 24 * time.Hour)
	f.market.historyTo = now
	f.market.ordersPerWindow = 3

	res, err := f.imp.Run(context.Background(), f.userID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusCapped, res.Status)
	// The cap is checked between windows, so the scan finishes the window
	// that crossed it.
	assert.Equal(t, 6, res.OrdersImported)
	assert.Equal(t, 2, res.Windows)
}

func TestRun_CappedRunResumesFromWatermark(t *testing.T) {
	f := newFixture(t, Options{WindowDays: 30, MaxWindows: 2})
	now := f.clock.Now()
	f.market.historyFrom = now.Add(-365 * 24 * time.Hour)
	f.market.historyTo = now
	f.market.ordersPerWindow = 1

	res, err := f.imp.Run(context.Background(), f.userID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusCapped, res.Status)
	assert.Equal(t, 2, res.OrdersImported)

	wm, err := f.imp.Status(context.Background(), f.userID)
	assert.NoError(t, err)
	assert.True(t, wm.WindowEnd.Equal(now.Add(-60*24*time.Hour)))

	// The next run picks up below the watermark instead of rescanning from
	// the present, so deep history is eventually reached cap by cap.
	res, err = f.imp.Run(context.Background(), f.userID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusCapped, res.Status)
	assert.Equal(t, 2, res.OrdersImported)

	wm, err = f.imp.Status(context.Background(), f.userID)
	assert.NoError(t, err)
	assert.True(t, wm.WindowEnd.Equal(now.Add(-120*24*time.Hour)))

	var count int64
	assert.NoError(t, f.db.Model(&saledomain.Sale{}).Where("user_id = ?", f.userID).Count(&count).Error)
	assert.Equal(t, int64(4), count)
}

func TestRun_StopsAtHorizon(t *testing.T) {
	f := newFixture(t, Options{WindowDays: 100, HorizonYears: 1, MaxConsecutiveEmpty: 1000})
	now := f.clock.Now()
	f.market.historyFrom = now.AddDate(-30, 0, 0)
	f.market.historyTo = now
	f.market.ordersPerWindow = 1

	res, err := f.imp.Run(context.Background(), f.userID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusExhausted, res.Status)
	// 365 days of reach in 100-day windows: the fourth window is clipped at
	// the horizon and ends the scan.
	assert.Equal(t, 4, res.Windows)

	wm, err := f.imp.Status(context.Background(), f.userID)
	assert.NoError(t, err)
	assert.False(t, wm.WindowEnd.After(now.AddDate(-1, 0, 0)))
}

func TestRun_ImportIsIdempotentAcrossRescans(t *testing.T) {
	f := newFixture(t, Options{WindowDays: 30})
	now := f.clock.Now()
	// Two months of history, then silence, so the first run exhausts.
	f.market.historyFrom = now.Add(-59 * 24 * time.Hour)
	f.market.historyTo = now
	f.market.ordersPerWindow = 2

	res, err := f.imp.Run(context.Background(), f.userID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusExhausted, res.Status)
	assert.Equal(t, 4, res.OrdersImported)

	// An exhausted account rescans from the present and sees the same orders
	// again; order-id dedup keeps them from double-counting.
	f.market.seq = 0
	res, err = f.imp.Run(context.Background(), f.userID)
	assert.NoError(t, err)
	assert.Equal(t, 0, res.OrdersImported)

	var count int64
	assert.NoError(t, f.db.Model(&saledomain.Sale{}).Where("user_id = ?", f.userID).Count(&count).Error)
	assert.Equal(t, int64(4), count)
}

func TestRun_SecondCallWhileScanningRejected(t *testing.T) {
	f := newFixture(t, Options{})
	now := f.clock.Now()

	// Simulate a live run by planting a fresh scanning watermark.
	node, _ := snowflake.NewNode(2)
	assert.NoError(t, f.db.Create(&domain.Watermark{
		ID: node.Generate(), UserID: f.userID, Status: domain.StatusScanning,
		WindowEnd: now, UpdatedAt: now,
	}).Error)

	_, err := f.imp.Run(context.Background(), f.userID)
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)

	// A stale scanning watermark is reclaimable.
	assert.NoError(t, f.db.Model(&domain.Watermark{}).
		Where("user_id = ?", f.userID).
		Update("updated_at", now.Add(-time.Hour)).Error)
	res, err := f.imp.Run(context.Background(), f.userID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusExhausted, res.Status)
}

func TestAbort(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	assert.ErrorIs(t, f.imp.Abort(ctx, f.userID), domain.ErrNotRunning)

	now := f.clock.Now()
	node, _ := snowflake.NewNode(3)
	assert.NoError(t, f.db.Create(&domain.Watermark{
		ID: node.Generate(), UserID: f.userID, Status: domain.StatusScanning,
		WindowEnd: now, UpdatedAt: now,
	}).Error)
	assert.NoError(t, f.imp.Abort(ctx, f.userID))

	wm, err := f.imp.Status(ctx, f.userID)
	assert.NoError(t, err)
	assert.True(t, wm.AbortRequested)
}

func TestRun_MarketplaceErrorAborts(t *testing.T) {
	f := newFixture(t, Options{})
	f.market.listErr = marketplace.ErrRateLimited

	_, err := f.imp.Run(context.Background(), f.userID)
	assert.ErrorIs(t, err, marketplace.ErrRateLimited)

	wm, serr := f.imp.Status(context.Background(), f.userID)
	assert.NoError(t, serr)
	assert.Equal(t, domain.StatusAborted, wm.Status)
}
