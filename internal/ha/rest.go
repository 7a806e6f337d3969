package ha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// restPublisher writes entity states through POST /api/states/<entity_id>.
// The WebSocket API has no command for setting an arbitrary entity state.
type restPublisher struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newRESTPublisher(baseURL, token string, httpClient *http.Client) *restPublisher {
	return &restPublisher{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
	}
}

// publish creates or replaces the state of entityID
func (p *restPublisher) publish(ctx context.Context, entityID string, body PublishRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal state for %s: %w", entityID, err)
	}

	endpoint := p.baseURL + "/api/states/" + url.PathEscape(entityID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("publish %s: %w", entityID, err)
	}
	defer resp.Body.Close()

	// 200 when the entity existed, 201 when it was created
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("publish %s: API error %d: %s", entityID, resp.StatusCode, string(respBody))
	}

	return nil
}
