package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shelfsync/shelfsync/internal/clock"
	"github.com/shelfsync/shelfsync/internal/inventory/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  domain.Repository
	GenID *snowflake.Node
	Clock clock.Clock
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) domain.Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("inventory"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *service) UpsertListed(ctx context.Context, req domain.ListedUpsert) (*domain.Item, domain.UpsertOutcome, error) {
	listingID := strings.TrimSpace(req.ListingID)
	if req.UserID == 0 || listingID == "" {
		return nil, "", domain.ErrInvalidListing
	}

	now := s.clock.Now()
	existing, err := s.repo.FindByListingID(ctx, s.db, req.UserID, listingID)
	if err != nil {
		return nil, "", err
	}

	if existing == nil {
		item := &domain.Item{
			ID:           s.genID.Generate(),
			UserID:       req.UserID,
			ListingID:    listingID,
			SKU:          strings.TrimSpace(req.SKU),
			CustomSKU:    strings.TrimSpace(req.CustomSKU),
			Title:        req.Title,
			PriceCents:   req.PriceCents,
			Quantity:     req.Quantity,
			Active:       true,
			Location:     req.Location,
			LastSyncedAt: now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.repo.Insert(ctx, s.db, item); err != nil {
			return nil, "", err
		}
		return item, domain.OutcomeCreated, nil
	}

	outcome := domain.OutcomeUpdated
	if !existing.Active {
		outcome = domain.OutcomeReactivated
	}
	if _, err := s.repo.Reactivate(ctx, s.db, req.UserID, listingID, req.Title, req.PriceCents, req.Quantity, now); err != nil {
		return nil, "", err
	}

	item, err := s.repo.FindByListingID(ctx, s.db, req.UserID, listingID)
	if err != nil {
		return nil, "", err
	}
	return item, outcome, nil
}

func (s *service) ApplyRevision(ctx context.Context, rev domain.Revision) error {
	affected, err := s.repo.UpdateRevisableFields(ctx, s.db, rev.UserID, strings.TrimSpace(rev.ListingID), rev.Title, rev.PriceCents, rev.Quantity, s.clock.Now())
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrOrphanRevision
	}
	return nil
}

func (s *service) End(ctx context.Context, userID snowflake.ID, listingID string, reason domain.EndedReason) error {
	affected, err := s.repo.Deactivate(ctx, s.db, userID, strings.TrimSpace(listingID), reason, s.clock.Now())
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *service) MarkOutOfStock(ctx context.Context, userID snowflake.ID, listingID string) error {
	item, err := s.repo.FindByListingID(ctx, s.db, userID, strings.TrimSpace(listingID))
	if err != nil {
		return err
	}
	if item == nil {
		return domain.ErrNotFound
	}
	// Zero quantity, still listed: the listing stays active pending restock.
	return s.repo.SetQuantity(ctx, s.db, userID, item.ID, 0, s.clock.Now())
}

func (s *service) DecrementForSale(ctx context.Context, userID, itemID snowflake.ID, quantity int) (*domain.Item, error) {
	if quantity <= 0 {
		quantity = 1
	}
	item, err := s.repo.DecrementQuantity(ctx, s.db, userID, itemID, quantity, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	if item.Quantity == 0 && item.Active {
		// Stock sold through, so the closure is attributed to the sale.
		if _, err := s.repo.Deactivate(ctx, s.db, userID, item.ListingID, domain.EndedSold, s.clock.Now()); err != nil {
			return nil, err
		}
		item.Active = false
		item.EndedReason = domain.EndedSold
	}
	return item, nil
}

func (s *service) MarkRelisted(ctx context.Context, userID, itemID snowflake.ID, newListingID string, priceCents int64) (*domain.Item, error) {
	newListingID = strings.TrimSpace(newListingID)
	if newListingID == "" {
		return nil, domain.ErrInvalidListing
	}
	affected, err := s.repo.Relist(ctx, s.db, userID, itemID, newListingID, priceCents, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, domain.ErrNotFound
	}
	return s.GetByID(ctx, userID, itemID)
}

func (s *service) GetByID(ctx context.Context, userID, itemID snowflake.ID) (*domain.Item, error) {
	item, err := s.repo.FindByID(ctx, s.db, userID, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return item, nil
}

func (s *service) GetByListingID(ctx context.Context, userID snowflake.ID, listingID string) (*domain.Item, error) {
	item, err := s.repo.FindByListingID(ctx, s.db, userID, strings.TrimSpace(listingID))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return item, nil
}
