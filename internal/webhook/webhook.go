package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/shelfsync/shelfsync/internal/event/domain"
)

var (
	ErrMalformed    = errors.New("webhook_malformed")
	ErrUnknownTopic = errors.New("webhook_unknown_topic")
	ErrMissingUser  = errors.New("webhook_missing_user")
)

// Notification is one delivery normalized off its transport, ready for the
// event queue.
type Notification struct {
	UserID     snowflake.ID
	Topic      eventdomain.Topic
	ExternalID string
	Payload    eventdomain.Payload
}

// jsonEnvelope is the vendor's JSON push format.
type jsonEnvelope struct {
	EventID   string    `json:"event_id"`
	Topic     string    `json:"topic"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      struct {
		ListingID  string `json:"listing_id"`
		Title      string `json:"title"`
		SKU        string `json:"sku"`
		CustomSKU  string `json:"custom_sku"`
		PriceCents int64  `json:"price_cents"`
		FeeCents   int64  `json:"fee_cents"`
		Quantity   int    `json:"quantity"`
		Location   string `json:"location"`
		OrderID    string `json:"order_id"`
		OrderState string `json:"order_state"`
	} `json:"data"`
}

// ParseJSON normalizes one JSON push delivery.
func ParseJSON(body []byte) (Notification, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	userID, err := parseUserID(env.UserID)
	if err != nil {
		return Notification{}, err
	}
	topic := eventdomain.Topic(env.Topic)
	if !topic.Valid() {
		return Notification{}, fmt.Errorf("%w: %q", ErrUnknownTopic, env.Topic)
	}

	return Notification{
		UserID:     userID,
		Topic:      topic,
		ExternalID: env.EventID,
		Payload: eventdomain.Payload{
			ListingID:  env.Data.ListingID,
			Title:      env.Data.Title,
			SKU:        env.Data.SKU,
			CustomSKU:  env.Data.CustomSKU,
			PriceCents: env.Data.PriceCents,
			FeeCents:   env.Data.FeeCents,
			Quantity:   env.Data.Quantity,
			Location:   env.Data.Location,
			OrderID:    env.Data.OrderID,
			OrderState: env.Data.OrderState,
			OccurredAt: env.Timestamp,
		},
	}, nil
}

func parseUserID(raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrMissingUser
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %q", ErrMissingUser, raw)
	}
	return snowflake.ID(n), nil
}
