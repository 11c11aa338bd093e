package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shelfsync/shelfsync/internal/clock"
	"github.com/shelfsync/shelfsync/internal/credential"
	inventorydomain "github.com/shelfsync/shelfsync/internal/inventory/domain"
	"github.com/shelfsync/shelfsync/internal/marketplace"
	notifydomain "github.com/shelfsync/shelfsync/internal/notify/domain"
	"github.com/shelfsync/shelfsync/internal/observability/metrics"
	"github.com/shelfsync/shelfsync/internal/relist/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultCadenceDays = 7
	tickBatchSize      = 100
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Repo         domain.Repository
	InventorySvc inventorydomain.Service
	NotifySvc    notifydomain.Service
	Marketplace  marketplace.Client
	Vault        *credential.Vault
	Metrics      *metrics.Metrics
	GenID        *snowflake.Node
}

type service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	repo         domain.Repository
	inventorySvc inventorydomain.Service
	notifySvc    notifydomain.Service
	marketplace  marketplace.Client
	vault        *credential.Vault
	metrics      *metrics.Metrics
	genID        *snowflake.Node
}

func New(p Params) domain.Service {
	return &service{
		db:           p.DB,
		log:          p.Log.Named("relist"),
		clock:        p.Clock,
		repo:         p.Repo,
		inventorySvc: p.InventorySvc,
		notifySvc:    p.NotifySvc,
		marketplace:  p.Marketplace,
		vault:        p.Vault,
		metrics:      p.Metrics,
		genID:        p.GenID,
	}
}

func (s *service) UpsertRule(ctx context.Context, req domain.UpsertRuleRequest) (*domain.AutoRelistRule, error) {
	if req.UserID == 0 || req.ItemID == 0 {
		return nil, domain.ErrInvalidRule
	}
	if !req.DecayType.Valid() {
		return nil, domain.ErrInvalidRule
	}
	if req.DecayAmount < 0 || req.FloorPriceCents < 0 {
		return nil, domain.ErrInvalidRule
	}
	if req.DecayType == domain.DecayPercent && req.DecayAmount > 100 {
		return nil, domain.ErrInvalidRule
	}
	if _, err := s.inventorySvc.GetByID(ctx, req.UserID, req.ItemID); err != nil {
		return nil, err
	}

	cadence := req.CadenceDays
	if cadence <= 0 {
		cadence = defaultCadenceDays
	}
	now := s.clock.Now()
	next := now.Add(time.Duration(cadence) * 24 * time.Hour)
	if req.RunImmediately {
		next = now
	}

	rule := &domain.AutoRelistRule{
		ID:              s.genID.Generate(),
		UserID:          req.UserID,
		ItemID:          req.ItemID,
		Enabled:         req.Enabled,
		CadenceDays:     cadence,
		RunImmediately:  req.RunImmediately,
		DecayType:       req.DecayType,
		DecayAmount:     req.DecayAmount,
		FloorPriceCents: req.FloorPriceCents,
		NextRunAt:       &next,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Upsert(ctx, s.db, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *service) ListRules(ctx context.Context, userID snowflake.ID) ([]domain.AutoRelistRule, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidRule
	}
	rows, err := s.repo.ListByUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	rules := make([]domain.AutoRelistRule, 0, len(rows))
	for _, row := range rows {
		rules = append(rules, *row)
	}
	return rules, nil
}

func (s *service) DeleteRule(ctx context.Context, userID, ruleID snowflake.ID) error {
	deleted, err := s.repo.Delete(ctx, s.db, userID, ruleID)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrNotFound
	}
	return nil
}

func (s *service) History(ctx context.Context, userID, ruleID snowflake.ID, limit int) ([]domain.RelistHistory, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.repo.ListHistory(ctx, s.db, userID, ruleID, limit)
	if err != nil {
		return nil, err
	}
	history := make([]domain.RelistHistory, 0, len(rows))
	for _, row := range rows {
		history = append(history, *row)
	}
	return history, nil
}

func (s *service) Tick(ctx context.Context) (int, error) {
	now := s.clock.Now()
	due, err := s.repo.ListDue(ctx, s.db, now, tickBatchSize)
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, rule := range due {
		s.runRule(ctx, rule)
		ran++

		// Next run lands strictly after now even when the attempt failed,
		// so a broken rule cannot spin the tick.
		next := s.clock.Now().Add(time.Duration(rule.CadenceDays) * 24 * time.Hour)
		if err := s.repo.SetNextRun(ctx, s.db, rule.ID, next, s.clock.Now()); err != nil {
			s.log.Error("schedule next relist run",
				zap.String("rule_id", rule.ID.String()), zap.Error(err))
		}
	}
	return ran, nil
}

func (s *service) runRule(ctx context.Context, rule *domain.AutoRelistRule) {
	item, err := s.inventorySvc.GetByID(ctx, rule.UserID, rule.ItemID)
	if err != nil {
		s.recordFailure(ctx, rule, nil, 0, err)
		return
	}
	if item.EndedReason == inventorydomain.EndedSold {
		// The stock is gone; repricing a sold-through listing would relist
		// something the seller no longer has.
		return
	}

	newPrice := domain.NextPrice(item.PriceCents, rule.DecayType, rule.DecayAmount, rule.FloorPriceCents)

	token, err := s.vault.AccessToken(ctx, rule.UserID)
	if err != nil {
		s.recordFailure(ctx, rule, item, newPrice, err)
		return
	}

	if item.Active {
		s.reviseActive(ctx, rule, item, token, newPrice)
		return
	}

	newListingID, err := s.marketplace.RelistListing(ctx, token, item.ListingID, newPrice)
	if err != nil {
		s.recordFailure(ctx, rule, item, newPrice, err)
		return
	}
	if _, err := s.inventorySvc.MarkRelisted(ctx, rule.UserID, rule.ItemID, newListingID, newPrice); err != nil {
		s.recordFailure(ctx, rule, item, newPrice, err)
		return
	}
	s.recordSuccess(ctx, rule, item, newListingID, newPrice)
}

// reviseActive drops the price of a listing that is still live. A marketplace
// that supports revising takes the new price in place; the rest can only end
// the listing and recreate it under a new id.
func (s *service) reviseActive(ctx context.Context, rule *domain.AutoRelistRule, item *inventorydomain.Item, token string, newPrice int64) {
	if s.marketplace.SupportsRevise() {
		if err := s.marketplace.ReviseListing(ctx, token, item.ListingID, newPrice); err != nil {
			s.recordFailure(ctx, rule, item, newPrice, err)
			return
		}
		if err := s.inventorySvc.ApplyRevision(ctx, inventorydomain.Revision{
			UserID:     rule.UserID,
			ListingID:  item.ListingID,
			Title:      item.Title,
			PriceCents: newPrice,
			Quantity:   item.Quantity,
		}); err != nil {
			s.recordFailure(ctx, rule, item, newPrice, err)
			return
		}
		s.recordSuccess(ctx, rule, item, item.ListingID, newPrice)
		return
	}

	newListingID, err := s.marketplace.RelistListing(ctx, token, item.ListingID, newPrice)
	if err != nil {
		s.recordFailure(ctx, rule, item, newPrice, err)
		return
	}
	if err := s.inventorySvc.End(ctx, rule.UserID, item.ListingID, inventorydomain.EndedUnsold); err != nil {
		s.recordFailure(ctx, rule, item, newPrice, err)
		return
	}
	if _, err := s.inventorySvc.MarkRelisted(ctx, rule.UserID, rule.ItemID, newListingID, newPrice); err != nil {
		s.recordFailure(ctx, rule, item, newPrice, err)
		return
	}
	s.recordSuccess(ctx, rule, item, newListingID, newPrice)
}

func (s *service) recordSuccess(ctx context.Context, rule *domain.AutoRelistRule, item *inventorydomain.Item, newListingID string, newPrice int64) {
	s.metrics.RecordRelistRun(ctx, "ok")
	if err := s.repo.InsertHistory(ctx, s.db, &domain.RelistHistory{
		ID:            s.genID.Generate(),
		RuleID:        rule.ID,
		UserID:        rule.UserID,
		ItemID:        rule.ItemID,
		OldListingID:  item.ListingID,
		NewListingID:  newListingID,
		OldPriceCents: item.PriceCents,
		NewPriceCents: newPrice,
		Outcome:       "ok",
		RanAt:         s.clock.Now(),
	}); err != nil {
		s.log.Error("record relist history", zap.Error(err))
	}
}

func (s *service) recordFailure(ctx context.Context, rule *domain.AutoRelistRule, item *inventorydomain.Item, newPrice int64, cause error) {
	s.metrics.RecordRelistRun(ctx, "error")

	h := &domain.RelistHistory{
		ID:            s.genID.Generate(),
		RuleID:        rule.ID,
		UserID:        rule.UserID,
		ItemID:        rule.ItemID,
		NewPriceCents: newPrice,
		Outcome:       "error",
		FailureReason: cause.Error(),
		RanAt:         s.clock.Now(),
	}
	title := ""
	if item != nil {
		h.OldListingID = item.ListingID
		h.OldPriceCents = item.PriceCents
		title = item.Title
	}
	if err := s.repo.InsertHistory(ctx, s.db, h); err != nil {
		s.log.Error("record relist history", zap.Error(err))
	}

	if errors.Is(cause, credential.ErrReconnectRequired) {
		if err := s.notifySvc.Emit(ctx, rule.UserID, notifydomain.KindReconnect,
			"Marketplace connection expired", "Reconnect to keep auto-relist running"); err != nil {
			s.log.Warn("notify reconnect", zap.Error(err))
		}
	} else {
		if err := s.notifySvc.Emit(ctx, rule.UserID, notifydomain.KindRelistFailed,
			"Auto-relist failed", title); err != nil {
			s.log.Warn("notify relist failure", zap.Error(err))
		}
	}

	s.log.Warn("relist attempt failed",
		zap.String("rule_id", rule.ID.String()),
		zap.String("item_id", rule.ItemID.String()),
		zap.Error(cause),
	)
}
