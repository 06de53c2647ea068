package analytics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestEventTime(t *testing.T) {
	// Offset zero lands exactly on the provider epoch.
	epoch := EventTime(0)
	if got := epoch.UnixMilli(); got != epochOffsetMinutes*60000 {
		t.Fatalf("epoch millis = %d", got)
	}
	// One provider minute is one wall-clock minute.
	if diff := EventTime(1).Sub(epoch); diff != time.Minute {
		t.Fatalf("minute diff = %s", diff)
	}
	if loc := EventTime(42).Location(); loc != time.UTC {
		t.Fatalf("location = %v, want UTC", loc)
	}
}

func TestGetItemStats(t *testing.T) {
	var gotURL string
	httpClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		gotURL = r.URL.String()
		body := `{"products":[{"itemId":"B0ABCDEFGH","buyBoxSellerHistory":[100,7,200,9],"stats":{"sellerCountHistory":[1,2,3]}}]}`
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body))}, nil
	})}
	client := NewClient(httpClient, "https://history.example.com", "secret", 1)

	stats, err := client.GetItemStats(context.Background(), "B0ABCDEFGH")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(stats.OwnershipHistory) != 4 || stats.OwnershipHistory[3] != 9 {
		t.Fatalf("ownership history = %v", stats.OwnershipHistory)
	}
	if len(stats.SellerCounts) != 3 {
		t.Fatalf("seller counts = %v", stats.SellerCounts)
	}
	for _, part := range []string{"item=B0ABCDEFGH", "days=365", "stats=90", "domain=1"} {
		if !strings.Contains(gotURL, part) {
			t.Fatalf("url %q missing %q", gotURL, part)
		}
	}
}

func TestGetItemStatsEmptyPayload(t *testing.T) {
	httpClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(`{"products":[]}`))}, nil
	})}
	client := NewClient(httpClient, "", "k", 1)

	if _, err := client.GetItemStats(context.Background(), "B0ABCDEFGH"); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestGetItemStatsHTTPError(t *testing.T) {
	httpClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusBadGateway, Body: io.NopCloser(strings.NewReader("upstream down"))}, nil
	})}
	client := NewClient(httpClient, "", "k", 1)

	_, err := client.GetItemStats(context.Background(), "B0ABCDEFGH")
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Status != http.StatusBadGateway {
		t.Fatalf("err = %v", err)
	}
}
