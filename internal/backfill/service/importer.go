package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shelfsync/shelfsync/internal/backfill/domain"
	"github.com/shelfsync/shelfsync/internal/clock"
	"github.com/shelfsync/shelfsync/internal/credential"
	"github.com/shelfsync/shelfsync/internal/marketplace"
	"github.com/shelfsync/shelfsync/internal/observability/metrics"
	saledomain "github.com/shelfsync/shelfsync/internal/sale/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options tune the scan. Zero values take the defaults.
type Options struct {
	// WindowDays is the width of one scan window.
	WindowDays int
	// MaxWindows caps windows per run.
	MaxWindows int
	// MaxOrders caps imported orders per run.
	MaxOrders int
	// HorizonYears bounds how far back the scan ever reaches.
	HorizonYears int
	// CheckpointEvery persists the watermark every N windows.
	CheckpointEvery int
	// MaxConsecutiveEmpty stops the scan after this many empty windows in a
	// row, on the assumption the account history ended.
	MaxConsecutiveEmpty int
}

func (o Options) withDefaults() Options {
	if o.WindowDays <= 0 {
		o.WindowDays = 90
	}
	if o.MaxWindows <= 0 {
		o.MaxWindows = 80
	}
	if o.MaxOrders <= 0 {
		o.MaxOrders = 10000
	}
	if o.HorizonYears <= 0 {
		o.HorizonYears = 20
	}
	if o.CheckpointEvery <= 0 {
		o.CheckpointEvery = 4
	}
	if o.MaxConsecutiveEmpty <= 0 {
		o.MaxConsecutiveEmpty = 2
	}
	return o
}

// staleTakeover lets a new run reclaim a scanning watermark whose owner died
// without finishing.
const staleTakeover = 10 * time.Minute

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Repo        domain.Repository
	SaleSvc     saledomain.Service
	Marketplace marketplace.Client
	Vault       *credential.Vault
	Metrics     *metrics.Metrics
	GenID       *snowflake.Node
}

type importer struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	repo        domain.Repository
	saleSvc     saledomain.Service
	marketplace marketplace.Client
	vault       *credential.Vault
	metrics     *metrics.Metrics
	genID       *snowflake.Node
	opts        Options
}

func New(p Params) domain.Service {
	return &importer{
		db:          p.DB,
		log:         p.Log.Named("backfill"),
		clock:       p.Clock,
		repo:        p.Repo,
		saleSvc:     p.SaleSvc,
		marketplace: p.Marketplace,
		vault:       p.Vault,
		metrics:     p.Metrics,
		genID:       p.GenID,
		opts:        Options{}.withDefaults(),
	}
}

func (i *importer) Run(ctx context.Context, userID snowflake.ID) (domain.Result, error) {
	if userID == 0 {
		return domain.Result{}, domain.ErrInvalidID
	}
	opts := i.opts
	now := i.clock.Now()

	wm, err := i.repo.Find(ctx, i.db, userID)
	if err != nil {
		return domain.Result{}, err
	}
	if wm == nil {
		wm = &domain.Watermark{
			ID:        i.genID.Generate(),
			UserID:    userID,
			Status:    domain.StatusIdle,
			WindowEnd: now,
			UpdatedAt: now,
		}
		if err := i.repo.Insert(ctx, i.db, wm); err != nil {
			return domain.Result{}, err
		}
	}
	if wm.Status == domain.StatusScanning && now.Sub(wm.UpdatedAt) < staleTakeover {
		return domain.Result{}, domain.ErrAlreadyRunning
	}
	if wm.Status == domain.StatusExhausted || wm.WindowEnd.IsZero() {
		// History fully scanned last time: start over from the present. A
		// capped or aborted run instead resumes from its watermark so the
		// history below it is eventually reached.
		wm.WindowEnd = now
	}
	// Window and order caps apply per run.
	wm.Windows = 0
	wm.EmptyWindows = 0
	wm.OrdersImported = 0

	wm.Status = domain.StatusScanning
	wm.AbortRequested = false
	wm.StartedAt = &now
	wm.FinishedAt = nil
	if err := i.checkpoint(ctx, wm); err != nil {
		return domain.Result{}, err
	}

	horizon := now.AddDate(-opts.HorizonYears, 0, 0)
	window := time.Duration(opts.WindowDays) * 24 * time.Hour
	final := domain.StatusExhausted

	for {
		if wm.EmptyWindows >= opts.MaxConsecutiveEmpty || !wm.WindowEnd.After(horizon) {
			break
		}
		if wm.Windows >= opts.MaxWindows || wm.OrdersImported >= opts.MaxOrders {
			// Stopped by a per-run cap, not by running out of history. The
			// watermark stays where the scan got to.
			final = domain.StatusCapped
			break
		}
		if aborted, err := i.abortRequested(ctx, userID); err != nil {
			return i.finish(ctx, wm, domain.StatusAborted, err)
		} else if aborted {
			final = domain.StatusAborted
			break
		}

		from := wm.WindowEnd.Add(-window)
		if from.Before(horizon) {
			from = horizon
		}

		imported, err := i.scanWindow(ctx, userID, from, wm.WindowEnd)
		if err != nil {
			return i.finish(ctx, wm, domain.StatusAborted, err)
		}

		wm.Windows++
		wm.OrdersImported += imported
		if imported == 0 {
			wm.EmptyWindows++
		} else {
			wm.EmptyWindows = 0
		}
		wm.WindowEnd = from

		if wm.Windows%opts.CheckpointEvery == 0 {
			if err := i.checkpoint(ctx, wm); err != nil {
				return i.finish(ctx, wm, domain.StatusAborted, err)
			}
		}
	}

	return i.finish(ctx, wm, final, nil)
}

// scanWindow pages through one date range, recording every order. Import is
// idempotent per order id, so rescanning an overlapping range is harmless.
func (i *importer) scanWindow(ctx context.Context, userID snowflake.ID, from, to time.Time) (int, error) {
	token, err := i.vault.AccessToken(ctx, userID)
	if err != nil {
		return 0, err
	}

	imported := 0
	page := 0
	for {
		result, err := i.marketplace.ListOrders(ctx, token, from, to, page)
		if err != nil {
			return imported, err
		}
		for _, order := range result.Orders {
			outcome, err := i.saleSvc.RecordSale(ctx, saledomain.RecordSaleRequest{
				UserID:     userID,
				OrderID:    order.OrderID,
				ListingID:  order.ListingID,
				Title:      order.Title,
				SKU:        order.SKU,
				CustomSKU:  order.CustomSKU,
				PriceCents: order.PriceCents,
				FeeCents:   order.FeeCents,
				Quantity:   order.Quantity,
				Status:     orderStatus(order.Status),
				SoldAt:     order.CreatedAt,
			})
			if err != nil {
				return imported, err
			}
			if outcome.Created {
				imported++
			}
		}
		if !result.HasMore {
			break
		}
		page = result.NextPage
	}

	if imported > 0 {
		i.metrics.RecordBackfillOrders(ctx, int64(imported))
	}
	i.log.Debug("backfill window scanned",
		zap.String("user_id", userID.String()),
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("imported", imported),
	)
	return imported, nil
}

func (i *importer) abortRequested(ctx context.Context, userID snowflake.ID) (bool, error) {
	wm, err := i.repo.Find(ctx, i.db, userID)
	if err != nil {
		return false, err
	}
	return wm != nil && wm.AbortRequested, nil
}

func (i *importer) checkpoint(ctx context.Context, wm *domain.Watermark) error {
	wm.UpdatedAt = i.clock.Now()
	return i.repo.Save(ctx, i.db, wm)
}

func (i *importer) finish(ctx context.Context, wm *domain.Watermark, status domain.Status, cause error) (domain.Result, error) {
	now := i.clock.Now()
	wm.Status = status
	wm.AbortRequested = false
	wm.FinishedAt = &now
	if err := i.checkpoint(ctx, wm); err != nil && cause == nil {
		cause = err
	}
	result := domain.Result{
		Status:         status,
		Windows:        wm.Windows,
		OrdersImported: wm.OrdersImported,
	}
	if cause != nil {
		i.log.Warn("backfill stopped on error",
			zap.String("user_id", wm.UserID.String()), zap.Error(cause))
	}
	return result, cause
}

func (i *importer) Status(ctx context.Context, userID snowflake.ID) (*domain.Watermark, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidID
	}
	return i.repo.Find(ctx, i.db, userID)
}

func (i *importer) Abort(ctx context.Context, userID snowflake.ID) error {
	if userID == 0 {
		return domain.ErrInvalidID
	}
	flipped, err := i.repo.RequestAbort(ctx, i.db, userID)
	if err != nil {
		return err
	}
	if !flipped {
		return domain.ErrNotRunning
	}
	return nil
}

func orderStatus(state string) saledomain.SaleStatus {
	switch state {
	case "paid":
		return saledomain.SaleStatusPaid
	case "shipped":
		return saledomain.SaleStatusShipped
	case "completed":
		return saledomain.SaleStatusCompleted
	default:
		return saledomain.SaleStatusPending
	}
}
