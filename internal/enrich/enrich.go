package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pb-watcher/internal/models"
)

// Analysis is the refined summary returned by the analysis endpoint.
type Analysis struct {
	Comment  string `json:"comment"`
	Judgment string `json:"judgment,omitempty"`
}

// Client calls an external AI analysis endpoint with a product snapshot and
// returns a refined summary. It is strictly optional enrichment: callers
// must treat any error as "enrichment declined" and proceed with the raw
// snapshot.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// New builds a Client for the given endpoint. apiKey may be empty.
func New(endpoint, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{endpoint: endpoint, apiKey: apiKey, http: httpClient}
}

type request struct {
	Title       string `json:"title"`
	Price       string `json:"price"`
	Available   bool   `json:"available"`
	StatusText  string `json:"statusText"`
	MaxQuantity int    `json:"maxQuantity"`
	URL         string `json:"url"`
}

// Analyze posts the snapshot and parses the JSON reply. The endpoint may
// wrap its JSON in markdown code fences; those are stripped before parsing.
func (c *Client) Analyze(ctx context.Context, snap models.ProductSnapshot) (*Analysis, error) {
	body, err := json.Marshal(request{
		Title:       snap.Title,
		Price:       snap.PriceDisplay,
		Available:   snap.Available,
		StatusText:  snap.StatusText,
		MaxQuantity: snap.MaxQuantity,
		URL:         snap.SourceURL,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building analysis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling analysis endpoint: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading analysis response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analysis endpoint returned status %d", resp.StatusCode)
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(stripCodeFence(string(respBody))), &analysis); err != nil {
		return nil, fmt.Errorf("parsing analysis response: %w", err)
	}
	return &analysis, nil
}

// stripCodeFence removes a surrounding ```...``` block, with or without a
// language tag.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.Index(s, "\n"); idx != -1 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
