package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shelfsync/shelfsync/internal/clock"
	inventorydomain "github.com/shelfsync/shelfsync/internal/inventory/domain"
	"github.com/shelfsync/shelfsync/internal/sale/domain"
	"github.com/shelfsync/shelfsync/internal/sale/matcher"
	"github.com/shelfsync/shelfsync/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Repo         domain.Repository
	InventorySvc inventorydomain.Service
	Matcher      *matcher.Matcher
	GenID        *snowflake.Node
	Clock        clock.Clock
}

type service struct {
	db           *gorm.DB
	log          *zap.Logger
	repo         domain.Repository
	inventorySvc inventorydomain.Service
	matcher      *matcher.Matcher
	genID        *snowflake.Node
	clock        clock.Clock
}

func New(p Params) domain.Service {
	return &service{
		db:           p.DB,
		log:          p.Log.Named("sale"),
		repo:         p.Repo,
		inventorySvc: p.InventorySvc,
		matcher:      p.Matcher,
		genID:        p.GenID,
		clock:        p.Clock,
	}
}

// RecordSale creates the sale on first sight of an order id, binds it through
// the matcher, and decrements the matched item. Redeliveries of the same order
// are no-ops beyond a forward status transition.
func (s *service) RecordSale(ctx context.Context, req domain.RecordSaleRequest) (domain.RecordOutcome, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if req.UserID == 0 || orderID == "" {
		return domain.RecordOutcome{}, domain.ErrInvalidOrder
	}

	existing, err := s.repo.FindByOrderID(ctx, s.db, req.UserID, orderID)
	if err != nil {
		return domain.RecordOutcome{}, err
	}
	if existing != nil {
		if req.Status != "" && existing.Status.Advances(req.Status) {
			if err := s.repo.UpdateStatus(ctx, s.db, req.UserID, orderID, req.Status, s.clock.Now()); err != nil {
				return domain.RecordOutcome{}, err
			}
			existing.Status = req.Status
		}
		return domain.RecordOutcome{Sale: existing, Created: false, Matched: existing.ItemID != nil}, nil
	}

	match, err := s.matcher.Match(ctx, matcher.Candidate{
		UserID:    req.UserID,
		ListingID: req.ListingID,
		CustomSKU: req.CustomSKU,
		SKU:       req.SKU,
		Title:     req.Title,
	})
	if err != nil {
		return domain.RecordOutcome{}, err
	}

	now := s.clock.Now()
	status := req.Status
	if status == "" {
		status = domain.SaleStatusPending
	}
	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	sale := &domain.Sale{
		ID:         s.genID.Generate(),
		UserID:     req.UserID,
		OrderID:    orderID,
		ListingID:  strings.TrimSpace(req.ListingID),
		Title:      req.Title,
		SKU:        strings.TrimSpace(req.SKU),
		CustomSKU:  strings.TrimSpace(req.CustomSKU),
		PriceCents: req.PriceCents,
		Quantity:   quantity,
		Status:     status,
		SoldAt:     req.SoldAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.FeeCents != 0 {
		fees, err := json.Marshal(map[string]int64{"final_value_fee_cents": req.FeeCents})
		if err != nil {
			return domain.RecordOutcome{}, err
		}
		sale.Fees = fees
	}

	outcome := domain.RecordOutcome{Sale: sale, Created: true}
	if match != nil {
		sale.ItemID = &match.ItemID
		outcome.Matched = true
		outcome.Strategy = string(match.Strategy)
	}

	if err := s.repo.Insert(ctx, s.db, sale); err != nil {
		return domain.RecordOutcome{}, err
	}

	if match != nil {
		if _, err := s.inventorySvc.DecrementForSale(ctx, req.UserID, match.ItemID, quantity); err != nil {
			// The sale row is already durable; a decrement failure is
			// recoverable via re-sync and must not fail event processing.
			s.log.Warn("item decrement failed after sale",
				zap.String("order_id", orderID),
				zap.String("item_id", match.ItemID.String()),
				zap.Error(err),
			)
		}
	}

	return outcome, nil
}

func (s *service) UpdateStatus(ctx context.Context, userID snowflake.ID, orderID string, status domain.SaleStatus) error {
	orderID = strings.TrimSpace(orderID)
	if userID == 0 || orderID == "" {
		return domain.ErrInvalidOrder
	}
	existing, err := s.repo.FindByOrderID(ctx, s.db, userID, orderID)
	if err != nil {
		return err
	}
	if existing == nil {
		return domain.ErrNotFound
	}
	if !existing.Status.Advances(status) {
		return domain.ErrStaleTransition
	}
	return s.repo.UpdateStatus(ctx, s.db, userID, orderID, status, s.clock.Now())
}

func (s *service) ListOrphans(ctx context.Context, req domain.ListOrphansRequest) (domain.ListOrphansResponse, error) {
	if req.UserID == 0 {
		return domain.ListOrphansResponse{}, domain.ErrInvalidID
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 10
	}
	rows, err := s.repo.ListOrphans(ctx, s.db, req.UserID, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  int(pageSize),
	})
	if err != nil {
		return domain.ListOrphansResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(rows, pageSize, func(sale *domain.Sale) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: sale.ID.String()})
		return token
	})
	if len(rows) > int(pageSize) {
		rows = rows[:pageSize]
	}

	sales := make([]domain.Sale, 0, len(rows))
	for _, row := range rows {
		sales = append(sales, *row)
	}
	return domain.ListOrphansResponse{PageInfo: *pageInfo, Sales: sales}, nil
}

// Rematch re-runs the matching strategies for one sale. Idempotent: a sale
// bound to a still-existing item keeps its binding.
func (s *service) Rematch(ctx context.Context, userID, saleID snowflake.ID) (domain.RecordOutcome, error) {
	sale, err := s.repo.FindByID(ctx, s.db, userID, saleID)
	if err != nil {
		return domain.RecordOutcome{}, err
	}
	if sale == nil {
		return domain.RecordOutcome{}, domain.ErrNotFound
	}

	if sale.ItemID != nil {
		exists, err := s.repo.ItemExists(ctx, s.db, userID, *sale.ItemID)
		if err != nil {
			return domain.RecordOutcome{}, err
		}
		if exists {
			return domain.RecordOutcome{Sale: sale, Matched: true}, nil
		}
		// The bound item was deleted; clear the weak reference and fall
		// through to a fresh match.
		if err := s.repo.BindItem(ctx, s.db, userID, sale.ID, nil, s.clock.Now()); err != nil {
			return domain.RecordOutcome{}, err
		}
		sale.ItemID = nil
	}

	match, err := s.matcher.Match(ctx, matcher.Candidate{
		UserID:    userID,
		ListingID: sale.ListingID,
		CustomSKU: sale.CustomSKU,
		SKU:       sale.SKU,
		Title:     sale.Title,
	})
	if err != nil {
		return domain.RecordOutcome{}, err
	}
	if match == nil {
		return domain.RecordOutcome{Sale: sale, Matched: false}, nil
	}

	if err := s.repo.BindItem(ctx, s.db, userID, sale.ID, &match.ItemID, s.clock.Now()); err != nil {
		return domain.RecordOutcome{}, err
	}
	sale.ItemID = &match.ItemID
	return domain.RecordOutcome{Sale: sale, Matched: true, Strategy: string(match.Strategy)}, nil
}

func (s *service) RematchAll(ctx context.Context, userID snowflake.ID) (int, error) {
	matched := 0
	token := ""
	for {
		rows, err := s.repo.ListOrphans(ctx, s.db, userID, pagination.Pagination{PageToken: token, PageSize: 250})
		if err != nil {
			return matched, err
		}
		if len(rows) == 0 {
			return matched, nil
		}

		hasMore := len(rows) > 250
		if hasMore {
			rows = rows[:250]
		}
		for _, row := range rows {
			outcome, err := s.Rematch(ctx, userID, row.ID)
			if err != nil {
				// One bad sale must not block re-matching the rest.
				s.log.Warn("rematch failed", zap.String("sale_id", row.ID.String()), zap.Error(err))
				continue
			}
			if outcome.Matched {
				matched++
			}
		}
		if !hasMore {
			return matched, nil
		}
		last := rows[len(rows)-1]
		token, _ = pagination.EncodeCursor(pagination.Cursor{ID: last.ID.String()})
	}
}

func (s *service) ExistsForListing(ctx context.Context, userID snowflake.ID, listingID string) (bool, error) {
	return s.repo.ExistsForListing(ctx, s.db, userID, strings.TrimSpace(listingID))
}
