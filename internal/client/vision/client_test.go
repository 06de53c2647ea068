package vision

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestParseIndexArray(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []int
	}{
		{"fenced with tag", "```json\n[1,3]\n```", []int{1, 3}},
		{"fenced without tag", "```\n[2]\n```", []int{2}},
		{"bare array", "[1, 2, 3]", []int{1, 2, 3}},
		{"empty array", "[]", nil},
		{"garbage", "not json", nil},
		{"empty", "", nil},
		{"prose around it", "The matches are [1,3], hope that helps!", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseIndexArray(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("parseIndexArray(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("parseIndexArray(%q) = %v, want %v", tt.in, got, tt.want)
				}
			}
		})
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func oracleReply(content string) *http.Response {
	body := `{"choices":[{"message":{"content":` + jsonString(content) + `}}]}`
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func jsonString(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw)
}

func TestResolveMatchesRequestShape(t *testing.T) {
	var captured chatRequest
	httpClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &captured); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Fatalf("missing auth header")
		}
		return oracleReply("```json\n[2]\n```"), nil
	})}
	client := NewClient(httpClient, "https://oracle.example.com", "test-key", "gpt-4o", 300)

	got, err := client.ResolveMatches(context.Background(), "https://img/ref.jpg", []string{
		"https://img/c1.jpg", "https://img/c2.jpg", "https://img/c3.jpg",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("got %v, want [2]", got)
	}

	if len(captured.Messages) != 1 {
		t.Fatalf("messages = %d", len(captured.Messages))
	}
	content := captured.Messages[0].Content
	// instruction, reference, then candidates in order
	if len(content) != 5 {
		t.Fatalf("content parts = %d, want 5", len(content))
	}
	if content[0].Type != "text" || content[0].Text == "" {
		t.Fatalf("first part should be the instruction, got %+v", content[0])
	}
	if content[1].ImageURL == nil || content[1].ImageURL.URL != "https://img/ref.jpg" {
		t.Fatalf("second part should be the reference image, got %+v", content[1])
	}
	if content[4].ImageURL == nil || content[4].ImageURL.URL != "https://img/c3.jpg" {
		t.Fatalf("last part should be candidate 3, got %+v", content[4])
	}
}

func TestResolveMatchesGarbledReply(t *testing.T) {
	httpClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return oracleReply("I could not find any matching products."), nil
	})}
	client := NewClient(httpClient, "", "k", "", 0)

	got, err := client.ResolveMatches(context.Background(), "https://img/ref.jpg", []string{"https://img/c1.jpg"})
	if err != nil {
		t.Fatalf("garbled reply must not error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %v, want empty", got)
	}
}

func TestResolveMatchesHTTPError(t *testing.T) {
	httpClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusTooManyRequests,
			Body:       io.NopCloser(strings.NewReader("rate limited")),
		}, nil
	})}
	client := NewClient(httpClient, "", "k", "", 0)

	_, err := client.ResolveMatches(context.Background(), "https://img/ref.jpg", []string{"https://img/c1.jpg"})
	if err == nil {
		t.Fatalf("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Status != http.StatusTooManyRequests {
		t.Fatalf("err = %v", err)
	}
}

func TestResolveMatchesNoInputs(t *testing.T) {
	client := NewClient(http.DefaultClient, "", "k", "", 0)
	got, err := client.ResolveMatches(context.Background(), "", []string{"x"})
	if err != nil || got != nil {
		t.Fatalf("got %v, %v", got, err)
	}
	got, err = client.ResolveMatches(context.Background(), "ref", nil)
	if err != nil || got != nil {
		t.Fatalf("got %v, %v", got, err)
	}
}
