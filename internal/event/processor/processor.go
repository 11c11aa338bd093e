package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shelfsync/shelfsync/internal/event/domain"
	inventorydomain "github.com/shelfsync/shelfsync/internal/inventory/domain"
	notifydomain "github.com/shelfsync/shelfsync/internal/notify/domain"
	"github.com/shelfsync/shelfsync/internal/observability/metrics"
	saledomain "github.com/shelfsync/shelfsync/internal/sale/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrUnknownTopic marks an event whose topic no handler claims. Such events
// fail permanently instead of being retried.
var ErrUnknownTopic = errors.New("event_unknown_topic")

type Params struct {
	fx.In

	Log          *zap.Logger
	Metrics      *metrics.Metrics
	InventorySvc inventorydomain.Service
	SaleSvc      saledomain.Service
	NotifySvc    notifydomain.Service
}

// Processor applies one normalized event to the local state. Every handler is
// idempotent so at-least-once delivery from the queue is safe.
type Processor struct {
	log          *zap.Logger
	metrics      *metrics.Metrics
	inventorySvc inventorydomain.Service
	saleSvc      saledomain.Service
	notifySvc    notifydomain.Service
}

func New(p Params) *Processor {
	return &Processor{
		log:          p.Log.Named("event.processor"),
		metrics:      p.Metrics,
		inventorySvc: p.InventorySvc,
		saleSvc:      p.SaleSvc,
		notifySvc:    p.NotifySvc,
	}
}

var Module = fx.Module("event.processor", fx.Provide(New))

func (p *Processor) Process(ctx context.Context, ev *domain.RawEvent) error {
	var payload domain.Payload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	var err error
	switch ev.Topic {
	case domain.TopicItemListed:
		err = p.handleListed(ctx, ev, payload)
	case domain.TopicItemRevised:
		err = p.handleRevised(ctx, ev, payload)
	case domain.TopicItemEnded:
		err = p.handleEnded(ctx, ev, payload)
	case domain.TopicItemSold:
		err = p.handleSold(ctx, ev, payload)
	case domain.TopicItemOutOfStock:
		err = p.handleOutOfStock(ctx, ev, payload)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownTopic, ev.Topic)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.metrics.RecordEventProcessed(ctx, string(ev.Topic), outcome)
	return err
}

func (p *Processor) handleListed(ctx context.Context, ev *domain.RawEvent, payload domain.Payload) error {
	item, outcome, err := p.inventorySvc.UpsertListed(ctx, inventorydomain.ListedUpsert{
		UserID:     ev.UserID,
		ListingID:  payload.ListingID,
		SKU:        payload.SKU,
		CustomSKU:  payload.CustomSKU,
		Title:      payload.Title,
		PriceCents: payload.PriceCents,
		Quantity:   payload.Quantity,
		Location:   payload.Location,
	})
	if err != nil {
		return err
	}
	if outcome == inventorydomain.OutcomeCreated {
		if nerr := p.notifySvc.Emit(ctx, ev.UserID, notifydomain.KindListingImported,
			"New listing imported", item.Title); nerr != nil {
			p.log.Warn("notify listing imported", zap.Error(nerr))
		}
	}
	return nil
}

// handleRevised applies the revision in place. A revision for a listing that
// was never imported is logged and dropped: a revision payload is too partial
// to seed an item from, and inventing one would mask the import gap. The
// listing still arrives whole through its own listed event or a poll.
func (p *Processor) handleRevised(ctx context.Context, ev *domain.RawEvent, payload domain.Payload) error {
	err := p.inventorySvc.ApplyRevision(ctx, inventorydomain.Revision{
		UserID:     ev.UserID,
		ListingID:  payload.ListingID,
		Title:      payload.Title,
		PriceCents: payload.PriceCents,
		Quantity:   payload.Quantity,
	})
	if errors.Is(err, inventorydomain.ErrOrphanRevision) {
		p.log.Warn("revision for unknown listing dropped",
			zap.String("listing_id", payload.ListingID),
			zap.String("user_id", ev.UserID.String()),
		)
		return nil
	}
	return err
}

// handleEnded deactivates the item, recording whether the listing closed off
// the back of a sale or died on the vine. The distinction drives relisting:
// only unsold stock is still on the shelf. An ended listing that already
// produced a sale was deactivated by the sale path; the end event then only
// confirms it, and an out-of-order stale revise can never resurrect it.
func (p *Processor) handleEnded(ctx context.Context, ev *domain.RawEvent, payload domain.Payload) error {
	sold, err := p.saleSvc.ExistsForListing(ctx, ev.UserID, payload.ListingID)
	if err != nil {
		return err
	}
	reason := inventorydomain.EndedUnsold
	if sold {
		reason = inventorydomain.EndedSold
	}
	err = p.inventorySvc.End(ctx, ev.UserID, payload.ListingID, reason)
	if errors.Is(err, inventorydomain.ErrNotFound) {
		// Ending a listing we never imported, or one already ended, is not
		// worth a retry.
		p.log.Info("end for unknown or already ended listing",
			zap.String("listing_id", payload.ListingID), zap.Bool("sold", sold))
		return nil
	}
	return err
}

func (p *Processor) handleSold(ctx context.Context, ev *domain.RawEvent, payload domain.Payload) error {
	quantity := payload.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	outcome, err := p.saleSvc.RecordSale(ctx, saledomain.RecordSaleRequest{
		UserID:     ev.UserID,
		OrderID:    payload.OrderID,
		ListingID:  payload.ListingID,
		Title:      payload.Title,
		SKU:        payload.SKU,
		CustomSKU:  payload.CustomSKU,
		PriceCents: payload.PriceCents,
		FeeCents:   payload.FeeCents,
		Quantity:   quantity,
		Status:     orderStateToStatus(payload.OrderState),
		SoldAt:     payload.OccurredAt,
	})
	if err != nil {
		return err
	}
	if outcome.Created {
		if outcome.Matched {
			p.metrics.RecordSaleMatch(ctx, outcome.Strategy)
		} else {
			p.metrics.RecordSaleMatch(ctx, "none")
		}
		if nerr := p.notifySvc.Emit(ctx, ev.UserID, notifydomain.KindItemSold,
			"Item sold", payload.Title); nerr != nil {
			p.log.Warn("notify item sold", zap.Error(nerr))
		}
	}
	return nil
}

func (p *Processor) handleOutOfStock(ctx context.Context, ev *domain.RawEvent, payload domain.Payload) error {
	err := p.inventorySvc.MarkOutOfStock(ctx, ev.UserID, payload.ListingID)
	if errors.Is(err, inventorydomain.ErrNotFound) {
		p.log.Info("out-of-stock for unknown listing", zap.String("listing_id", payload.ListingID))
		return nil
	}
	return err
}

func orderStateToStatus(state string) saledomain.SaleStatus {
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
