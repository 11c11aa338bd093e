package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shelfsync/shelfsync/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Client abstracts all marketplace-specific outbound calls. Every method takes
// a decrypted bearer token; tokens never originate anywhere but the vault.
type Client interface {
	RefreshToken(ctx context.Context, refreshToken string) (TokenResponse, error)
	ListOrders(ctx context.Context, token string, from, to time.Time, page int) (OrdersPage, error)
	GetListing(ctx context.Context, token, listingID string) (Listing, error)
	CreateSubscription(ctx context.Context, token string, req SubscriptionRequest) (SubscriptionResponse, error)
	DeleteSubscription(ctx context.Context, token, subscriptionID string) error
	ReviseListing(ctx context.Context, token, listingID string, priceCents int64) error
	RelistListing(ctx context.Context, token, listingID string, priceCents int64) (string, error)
	SupportsRevise() bool
}

type httpClient struct {
	baseURL        string
	clientID       string
	clientSecret   string
	client         *http.Client
	log            *zap.Logger
	supportsRevise bool
}

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

func NewClient(p Params) Client {
	return &httpClient{
		baseURL:      p.Cfg.Marketplace.BaseURL,
		clientID:     p.Cfg.Marketplace.ClientID,
		clientSecret: p.Cfg.Marketplace.ClientSecret,
		client: &http.Client{
			Timeout: p.Cfg.Marketplace.RequestTimeout,
		},
		log:            p.Log.Named("marketplace.client"),
		supportsRevise: p.Cfg.Marketplace.SupportsRevise,
	}
}

var Module = fx.Module("marketplace", fx.Provide(NewClient))

func (c *httpClient) SupportsRevise() bool {
	return c.supportsRevise
}

func (c *httpClient) RefreshToken(ctx context.Context, refreshToken string) (TokenResponse, error) {
	body := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
	}
	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := c.do(ctx, http.MethodPost, "/oauth/token", "", body, &out); err != nil {
		return TokenResponse{}, err
	}
	resp := TokenResponse{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(out.ExpiresIn) * time.Second),
	}
	if resp.RefreshToken == "" {
		resp.RefreshToken = refreshToken
	}
	return resp, nil
}

func (c *httpClient) ListOrders(ctx context.Context, token string, from, to time.Time, page int) (OrdersPage, error) {
	query := url.Values{}
	query.Set("created_from", from.UTC().Format(time.RFC3339))
	query.Set("created_to", to.UTC().Format(time.RFC3339))
	query.Set("page", strconv.Itoa(page))

	var out OrdersPage
	if err := c.do(ctx, http.MethodGet, "/api/orders?"+query.Encode(), token, nil, &out); err != nil {
		return OrdersPage{}, err
	}
	return out, nil
}

func (c *httpClient) GetListing(ctx context.Context, token, listingID string) (Listing, error) {
	var out Listing
	if err := c.do(ctx, http.MethodGet, "/api/listings/"+url.PathEscape(listingID), token, nil, &out); err != nil {
		return Listing{}, err
	}
	return out, nil
}

func (c *httpClient) CreateSubscription(ctx context.Context, token string, req SubscriptionRequest) (SubscriptionResponse, error) {
	var out SubscriptionResponse
	if err := c.do(ctx, http.MethodPost, "/api/subscriptions", token, req, &out); err != nil {
		return SubscriptionResponse{}, err
	}
	return out, nil
}

func (c *httpClient) DeleteSubscription(ctx context.Context, token, subscriptionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/subscriptions/"+url.PathEscape(subscriptionID), token, nil, nil)
}

func (c *httpClient) ReviseListing(ctx context.Context, token, listingID string, priceCents int64) error {
	body := map[string]int64{"price_cents": priceCents}
	return c.do(ctx, http.MethodPut, "/api/listings/"+url.PathEscape(listingID)+"/price", token, body, nil)
}

func (c *httpClient) RelistListing(ctx context.Context, token, listingID string, priceCents int64) (string, error) {
	body := map[string]int64{"price_cents": priceCents}
	var out struct {
		ListingID string `json:"listing_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/listings/"+url.PathEscape(listingID)+"/relist", token, body, &out); err != nil {
		return "", err
	}
	return out.ListingID, nil
}

func (c *httpClient) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("marketplace server error: status %d", resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
