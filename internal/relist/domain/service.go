package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type UpsertRuleRequest struct {
	UserID          snowflake.ID
	ItemID          snowflake.ID
	Enabled         bool
	CadenceDays     int
	RunImmediately  bool
	DecayType       DecayType
	DecayAmount     int64
	FloorPriceCents int64
}

type Service interface {
	UpsertRule(ctx context.Context, req UpsertRuleRequest) (*AutoRelistRule, error)
	ListRules(ctx context.Context, userID snowflake.ID) ([]AutoRelistRule, error)
	DeleteRule(ctx context.Context, userID, ruleID snowflake.ID) error
	History(ctx context.Context, userID, ruleID snowflake.ID, limit int) ([]RelistHistory, error)
	// Tick runs every due rule once. Each rule's next run always lands
	// strictly after now, so a failing rule cannot spin.
	Tick(ctx context.Context) (ran int, err error)
}

var (
	ErrNotFound     = errors.New("relist_rule_not_found")
	ErrInvalidRule  = errors.New("relist_invalid_rule")
	ErrItemNotEnded = errors.New("relist_item_not_ended")
)
