package contestclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/kshah22/codeclash/go/internal/gateway"
)

// FetchContestState fetches the contest snapshot over REST. Broadcasts are
// fire-and-forget, so a client that reconnects calls this to resync instead
// of expecting a replay.
func (c *Client) FetchContestState(ctx context.Context, contestID uuid.UUID) (*gateway.ContestStateResponse, error) {
	if c.config.APIBaseURL == "" {
		return nil, fmt.Errorf("no API base URL configured")
	}

	url := fmt.Sprintf("%s/api/v1/contests/%s/state", c.config.APIBaseURL, contestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build state request: %w", err)
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	client := &http.Client{Timeout: c.config.HTTPTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch contest state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("state endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var state gateway.ContestStateResponse
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("decode contest state: %w", err)
	}
	return &state, nil
}
