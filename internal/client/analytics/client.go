// Package analytics fetches seller/ownership history for marketplace items
// from the price-history provider.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// The provider timestamps history events as minutes since its own epoch.
// Converting to wall time: unixMillis = (epochOffsetMinutes + minutes) * 60000.
const epochOffsetMinutes = 21564000

// EventTime converts a provider minute offset to UTC wall time.
func EventTime(providerMinutes int64) time.Time {
	return time.UnixMilli((epochOffsetMinutes + providerMinutes) * 60000).UTC()
}

type Client struct {
	host       string
	apiKey     string
	domain     int
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host, apiKey string, domain int) *Client {
	if host == "" {
		host = "https://api.keepa.com"
	}
	host = strings.TrimRight(host, "/")
	if domain <= 0 {
		domain = 1
	}
	return &Client{
		host:       host,
		apiKey:     apiKey,
		domain:     domain,
		httpClient: httpClient,
	}
}

// ItemStats is one item's history payload. OwnershipHistory is the raw
// change-event series as alternating (providerMinutes, ownerID) pairs; it
// records changes only, not one entry per day. SellerCounts is the provider's
// last-90-day offer-count aggregate series.
type ItemStats struct {
	ItemID           string
	OwnershipHistory []float64
	SellerCounts     []float64
}

type productPayload struct {
	ItemID           string    `json:"itemId"`
	OwnershipHistory []float64 `json:"buyBoxSellerHistory"`
	Stats            struct {
		SellerCounts []float64 `json:"sellerCountHistory"`
	} `json:"stats"`
}

type productResponse struct {
	Products []productPayload `json:"products"`
}

// GetItemStats fetches a 365-day history record plus last-90-day aggregate
// stats for one item. An empty payload is an error so callers leave the item
// unscored for a future run.
func (c *Client) GetItemStats(ctx context.Context, itemID string) (*ItemStats, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, fmt.Errorf("item id is required")
	}
	query := url.Values{}
	query.Set("key", c.apiKey)
	query.Set("domain", fmt.Sprintf("%d", c.domain))
	query.Set("item", itemID)
	query.Set("days", "365")
	query.Set("stats", "90")

	fullURL := c.host + "/product?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	var parsed productResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Products) == 0 {
		return nil, fmt.Errorf("empty payload for item %s", itemID)
	}

	product := parsed.Products[0]
	return &ItemStats{
		ItemID:           itemID,
		OwnershipHistory: product.OwnershipHistory,
		SellerCounts:     product.Stats.SellerCounts,
	}, nil
}
