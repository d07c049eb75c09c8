// Package sessions reads live agent sessions from the external gateway.
package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fleet-dashboard/internal/models"
)

const maxBody = 4 << 20

var errMissingSessions = errors.New("decode sessions: reply carries no sessions list")

// Client fetches snapshots over HTTP. It holds no state between calls.
type Client struct {
	url          string
	activeWindow time.Duration
	httpClient   *http.Client
}

func NewClient(rawURL string, activeWindow time.Duration, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		url:          rawURL,
		activeWindow: activeWindow,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

type wireSession struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Status    string `json:"status"`
}

// FetchSessions returns the sessions active within the configured window.
func (c *Client) FetchSessions(ctx context.Context) ([]models.SessionSnapshot, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("parse sessions url: %w", err)
	}
	if c.activeWindow > 0 {
		q := u.Query()
		q.Set("active_minutes", strconv.Itoa(int(c.activeWindow/time.Minute)))
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sessions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("fetch sessions: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read sessions: %w", err)
	}
	wire, err := decode(body)
	if err != nil {
		return nil, err
	}

	out := make([]models.SessionSnapshot, 0, len(wire))
	for _, w := range wire {
		id := strings.TrimSpace(w.AgentID)
		if id == "" {
			continue
		}
		status := models.SessionIdle
		if strings.EqualFold(strings.TrimSpace(w.Status), string(models.SessionActive)) {
			status = models.SessionActive
		}
		out = append(out, models.SessionSnapshot{AgentID: id, AgentName: w.AgentName, Status: status})
	}
	return out, nil
}

// decode accepts either a bare array or {"sessions": [...]}. Anything else, including
// null or a wrapper without a sessions list, is an error rather than an empty fleet.
func decode(body []byte) ([]wireSession, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []wireSession
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode sessions: %w", err)
		}
		return list, nil
	}
	var wrapped struct {
		Sessions *[]wireSession `json:"sessions"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	if wrapped.Sessions == nil {
		return nil, errMissingSessions
	}
	return *wrapped.Sessions, nil
}
