package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/palmoil/agent/internal/secret"
)

// HTTPProvider implements Provider via an HTTPS POST to a configured
// endpoint with a bearer token.
type HTTPProvider struct {
	Endpoint string
	Token    secret.String
	Client   *http.Client
}

// NewHTTPProvider constructs an HTTPProvider with a bounded-timeout client.
func NewHTTPProvider(endpoint string, token secret.String) *HTTPProvider {
	return &HTTPProvider{
		Endpoint: endpoint,
		Token:    token,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type sentimentRequest struct {
	Query string `json:"query"`
}

type sentimentResponse struct {
	Score int `json:"score"`
}

// Fetch posts the query and parses a signed integer score in [-100, 100]. A
// 429 response is surfaced as *RateLimitedError so Cache can fail over; other
// 4xx responses are logged by the caller and treated as "no update".
func (p *HTTPProvider) Fetch(ctx context.Context, query string) (int, error) {
	body, err := json.Marshal(sentimentRequest{Query: query})
	if err != nil {
		return 0, fmt.Errorf("marshalling sentiment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("building sentiment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.Token.Reveal())

	resp, err := p.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sentiment request for %q: %w", query, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return 0, &RateLimitedError{Query: query}
	}
	if resp.StatusCode/100 == 4 {
		return 0, fmt.Errorf("sentiment provider returned %d for %q", resp.StatusCode, query)
	}
	if resp.StatusCode/100 != 2 {
		return 0, fmt.Errorf("sentiment provider returned %d for %q", resp.StatusCode, query)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("reading sentiment response: %w", err)
	}
	var parsed sentimentResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return 0, fmt.Errorf("parsing sentiment response: %w", err)
	}
	if parsed.Score < -100 || parsed.Score > 100 {
		return 0, fmt.Errorf("sentiment score %d out of bounds [-100,100]", parsed.Score)
	}
	return parsed.Score, nil
}
