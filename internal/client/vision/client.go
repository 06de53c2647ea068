// Package vision is the match-oracle client. It asks a vision-capable chat
// model which candidate images depict the same physical product as a
// reference image and parses the freeform reply into candidate indices.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const matchInstruction = "In the first image I have a product. Check if the product is present " +
	"in any of the other images; make sure it is the same product with the same colors and details. " +
	"Return just an array and nothing else with the list of integer indexes of images that match the first image."

type Client struct {
	host       string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host, apiKey, model string, maxTokens int) *Client {
	if host == "" {
		host = "https://api.openai.com/v1"
	}
	host = strings.TrimRight(host, "/")
	if model == "" {
		model = "gpt-4o"
	}
	if maxTokens <= 0 {
		maxTokens = 300
	}
	return &Client{
		host:       host,
		apiKey:     apiKey,
		model:      model,
		maxTokens:  maxTokens,
		httpClient: httpClient,
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ResolveMatches sends the reference image followed by all candidate images,
// in order, and returns the 1-based indices of candidates the oracle accepts.
// A garbled or empty reply resolves to no matches, not an error; only
// transport failures propagate.
func (c *Client) ResolveMatches(ctx context.Context, referenceImageURL string, candidateImageURLs []string) ([]int, error) {
	if referenceImageURL == "" || len(candidateImageURLs) == 0 {
		return nil, nil
	}

	content := make([]contentPart, 0, len(candidateImageURLs)+2)
	content = append(content,
		contentPart{Type: "text", Text: matchInstruction},
		contentPart{Type: "image_url", ImageURL: &imageRef{URL: referenceImageURL}},
	)
	for _, u := range candidateImageURLs {
		content = append(content, contentPart{Type: "image_url", ImageURL: &imageRef{URL: u}})
	}

	payload := chatRequest{
		Model:     c.model,
		Messages:  []chatMessage{{Role: "user", Content: content}},
		MaxTokens: c.maxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(raw)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, nil
	}
	if len(parsed.Choices) == 0 {
		return nil, nil
	}
	return parseIndexArray(parsed.Choices[0].Message.Content), nil
}

// parseIndexArray normalizes the oracle's freeform reply into indices.
// Models wrap JSON in markdown fences and sometimes tag the language, so a
// single pair of triple-backtick fences and a leading "json" tag are
// stripped before parsing. Anything unparseable means no matches.
func parseIndexArray(content string) []int {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") && strings.HasSuffix(content, "```") && len(content) >= 6 {
		content = strings.TrimSpace(content[3 : len(content)-3])
	}
	if strings.HasPrefix(content, "json") {
		content = strings.TrimSpace(content[4:])
	}
	if content == "" {
		return nil
	}
	var indices []int
	if err := json.Unmarshal([]byte(content), &indices); err != nil {
		return nil
	}
	return indices
}
