package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shelfsync/shelfsync/internal/clock"
	"github.com/shelfsync/shelfsync/internal/config"
	"github.com/shelfsync/shelfsync/internal/credential"
	eventdomain "github.com/shelfsync/shelfsync/internal/event/domain"
	"github.com/shelfsync/shelfsync/internal/marketplace"
	"github.com/shelfsync/shelfsync/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// teardownAttempts bounds remote deletes so a flapping marketplace cannot
// hold a disconnect open forever.
const teardownAttempts = 3

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Config      config.Config
	Repo        domain.Repository
	Marketplace marketplace.Client
	Vault       *credential.Vault
	GenID       *snowflake.Node
}

type service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	cfg         config.MarketplaceConfig
	repo        domain.Repository
	marketplace marketplace.Client
	vault       *credential.Vault
	genID       *snowflake.Node
}

func New(p Params) domain.Service {
	return &service{
		db:          p.DB,
		log:         p.Log.Named("subscription"),
		clock:       p.Clock,
		cfg:         p.Config.Marketplace,
		repo:        p.Repo,
		marketplace: p.Marketplace,
		vault:       p.Vault,
		genID:       p.GenID,
	}
}

// destination picks the ingress for a topic. Order notifications ride the
// platform protocol when a platform hook is configured; everything else is
// plain JSON.
func (s *service) destination(topic eventdomain.Topic) (url, protocol string) {
	if topic == eventdomain.TopicItemSold && s.cfg.PlatformHookURL != "" {
		return s.cfg.PlatformHookURL, "platform"
	}
	return s.cfg.WebhookURL, "json"
}

func (s *service) EnsureSubscriptions(ctx context.Context, userID snowflake.ID) error {
	if userID == 0 {
		return domain.ErrInvalidID
	}
	token, err := s.vault.AccessToken(ctx, userID)
	if err != nil {
		return err
	}

	existing, err := s.repo.ListByUser(ctx, s.db, userID)
	if err != nil {
		return err
	}
	active := make(map[eventdomain.Topic]bool, len(existing))
	for _, sub := range existing {
		if sub.Status == domain.StatusActive {
			active[sub.Topic] = true
		}
	}

	var firstErr error
	for _, topic := range domain.RequiredTopics {
		if active[topic] {
			continue
		}
		if err := s.register(ctx, token, userID, topic); err != nil {
			s.log.Warn("subscription register failed",
				zap.String("topic", string(topic)), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *service) register(ctx context.Context, token string, userID snowflake.ID, topic eventdomain.Topic) error {
	url, protocol := s.destination(topic)
	resp, err := s.marketplace.CreateSubscription(ctx, token, marketplace.SubscriptionRequest{
		Topic:          string(topic),
		DestinationURL: url,
		Protocol:       protocol,
	})
	if err != nil {
		return fmt.Errorf("create subscription %s: %w", topic, err)
	}

	now := s.clock.Now()
	return s.repo.Upsert(ctx, s.db, &domain.Subscription{
		ID:             s.genID.Generate(),
		UserID:         userID,
		Topic:          topic,
		ExternalID:     resp.SubscriptionID,
		DestinationURL: url,
		Protocol:       protocol,
		Status:         domain.StatusActive,
		ExpiresAt:      resp.ExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}

func (s *service) RenewExpiring(ctx context.Context, horizonDays int) (int, error) {
	if horizonDays <= 0 {
		horizonDays = 7
	}
	cutoff := s.clock.Now().Add(time.Duration(horizonDays) * 24 * time.Hour)
	expiring, err := s.repo.ListExpiring(ctx, s.db, cutoff)
	if err != nil {
		return 0, err
	}

	renewed := 0
	for _, sub := range expiring {
		if err := s.renew(ctx, sub); err != nil {
			s.log.Warn("subscription renewal failed",
				zap.String("user_id", sub.UserID.String()),
				zap.String("topic", string(sub.Topic)),
				zap.Error(err),
			)
			continue
		}
		renewed++
	}
	return renewed, nil
}

func (s *service) renew(ctx context.Context, sub *domain.Subscription) error {
	token, err := s.vault.AccessToken(ctx, sub.UserID)
	if err != nil {
		if errors.Is(err, credential.ErrReconnectRequired) || errors.Is(err, credential.ErrNotConnected) {
			// Nothing to renew for a disconnected user; mark it so the
			// batch stops retrying.
			return s.repo.UpdateStatus(ctx, s.db, sub.ID, domain.StatusExpired, s.clock.Now())
		}
		return err
	}

	// Delete-then-recreate. A handle the marketplace already dropped is fine.
	if err := s.marketplace.DeleteSubscription(ctx, token, sub.ExternalID); err != nil && !errors.Is(err, marketplace.ErrNotFound) {
		return err
	}
	resp, err := s.marketplace.CreateSubscription(ctx, token, marketplace.SubscriptionRequest{
		Topic:          string(sub.Topic),
		DestinationURL: sub.DestinationURL,
		Protocol:       sub.Protocol,
	})
	if err != nil {
		if uerr := s.repo.UpdateStatus(ctx, s.db, sub.ID, domain.StatusFailed, s.clock.Now()); uerr != nil {
			s.log.Error("mark subscription failed", zap.Error(uerr))
		}
		return err
	}
	return s.repo.Renewed(ctx, s.db, sub.ID, resp.SubscriptionID, resp.ExpiresAt, s.clock.Now())
}

func (s *service) Teardown(ctx context.Context, userID snowflake.ID) error {
	if userID == 0 {
		return domain.ErrInvalidID
	}
	subs, err := s.repo.ListByUser(ctx, s.db, userID)
	if err != nil {
		return err
	}

	token, tokenErr := s.vault.AccessToken(ctx, userID)
	for _, sub := range subs {
		if sub.Status == domain.StatusDeleted {
			continue
		}
		if tokenErr == nil {
			s.remoteDelete(ctx, token, sub.ExternalID)
		}
		if err := s.repo.UpdateStatus(ctx, s.db, sub.ID, domain.StatusDeleted, s.clock.Now()); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) remoteDelete(ctx context.Context, token, externalID string) {
	var err error
	for attempt := 0; attempt < teardownAttempts; attempt++ {
		err = s.marketplace.DeleteSubscription(ctx, token, externalID)
		if err == nil || errors.Is(err, marketplace.ErrNotFound) {
			return
		}
	}
	// Local state wins: the registration expires remotely on its own.
	s.log.Warn("remote subscription delete exhausted",
		zap.String("subscription_id", externalID), zap.Error(err))
}

func (s *service) List(ctx context.Context, userID snowflake.ID) ([]domain.Subscription, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidID
	}
	rows, err := s.repo.ListByUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	subs := make([]domain.Subscription, 0, len(rows))
	for _, row := range rows {
		subs = append(subs, *row)
	}
	return subs, nil
}
