package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// DecayType selects how the asking price drops between relists.
type DecayType string

const (
	DecayNone    DecayType = "none"
	DecayFixed   DecayType = "fixed"
	DecayPercent DecayType = "percentage"
)

func (d DecayType) Valid() bool {
	switch d {
	case DecayNone, DecayFixed, DecayPercent:
		return true
	}
	return false
}

// AutoRelistRule re-lists one ended item on a cadence, optionally walking the
// price down to a floor.
type AutoRelistRule struct {
	ID      snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID  snowflake.ID `json:"user_id" gorm:"index:idx_relist_rules_user"`
	ItemID  snowflake.ID `json:"item_id" gorm:"uniqueIndex:idx_relist_rules_item"`
	Enabled bool         `json:"enabled"`
	// CadenceDays spaces the attempts. The immediate flag only affects the
	// first one.
	CadenceDays    int       `json:"cadence_days"`
	RunImmediately bool      `json:"run_immediately"`
	DecayType      DecayType `json:"decay_type"`
	// DecayAmount is cents for fixed decay, whole percent for percentage.
	DecayAmount     int64      `json:"decay_amount"`
	FloorPriceCents int64      `json:"floor_price_cents"`
	NextRunAt       *time.Time `json:"next_run_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (AutoRelistRule) TableName() string {
	return "auto_relist_rules"
}

// RelistHistory records one attempt, success or not.
type RelistHistory struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	RuleID        snowflake.ID `json:"rule_id" gorm:"index:idx_relist_history_rule"`
	UserID        snowflake.ID `json:"user_id"`
	ItemID        snowflake.ID `json:"item_id"`
	OldListingID  string       `json:"old_listing_id"`
	NewListingID  string       `json:"new_listing_id"`
	OldPriceCents int64        `json:"old_price_cents"`
	NewPriceCents int64        `json:"new_price_cents"`
	Outcome       string       `json:"outcome"`
	FailureReason string       `json:"failure_reason"`
	RanAt         time.Time    `json:"ran_at"`
}

func (RelistHistory) TableName() string {
	return "relist_history"
}
