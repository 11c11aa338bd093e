package marketplace

import (
	"errors"
	"time"
)

// Order is a normalized marketplace order record.
type Order struct {
	OrderID    string    `json:"order_id"`
	ListingID  string    `json:"listing_id"`
	Title      string    `json:"title"`
	SKU        string    `json:"sku,omitempty"`
	CustomSKU  string    `json:"custom_sku,omitempty"`
	PriceCents int64     `json:"price_cents"`
	FeeCents   int64     `json:"fee_cents,omitempty"`
	Quantity   int       `json:"quantity"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// OrdersPage is one page of a date-ranged order listing.
type OrdersPage struct {
	Orders   []Order `json:"orders"`
	HasMore  bool    `json:"has_more"`
	NextPage int     `json:"next_page,omitempty"`
}

// Listing is a normalized marketplace listing record.
type Listing struct {
	ListingID  string `json:"listing_id"`
	Title      string `json:"title"`
	SKU        string `json:"sku,omitempty"`
	CustomSKU  string `json:"custom_sku,omitempty"`
	PriceCents int64  `json:"price_cents"`
	Quantity   int    `json:"quantity"`
	Active     bool   `json:"active"`
}

// TokenResponse is the result of a token refresh.
type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SubscriptionRequest registers one push-notification topic.
type SubscriptionRequest struct {
	Topic          string `json:"topic"`
	DestinationURL string `json:"destination_url"`
	// Protocol selects the handshake: "json" verifies the destination once at
	// creation time, "platform" validates per call via the credential.
	Protocol string `json:"protocol"`
}

// SubscriptionResponse describes one registered push subscription.
type SubscriptionResponse struct {
	SubscriptionID string    `json:"subscription_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}

var (
	ErrNotFound     = errors.New("marketplace_not_found")
	ErrUnauthorized = errors.New("marketplace_unauthorized")
	ErrRateLimited  = errors.New("marketplace_rate_limited")
	ErrRejected     = errors.New("marketplace_rejected")
)
