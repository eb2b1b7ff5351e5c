// Package clients manages HTTP connections to remote downstream agents:
// card discovery, health checks, and message delivery with exponential
// backoff on connection setup.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mthangit/Multi-Agents-sub000/pkg/a2a"
	"github.com/mthangit/Multi-Agents-sub000/pkg/httpclient"
)

// AgentCard is the descriptor a remote agent serves at
// /.well-known/agent.json.
type AgentCard struct {
	Name         string           `json:"name"`
	Description  string           `json:"description,omitempty"`
	Version      string           `json:"version,omitempty"`
	URL          string           `json:"url,omitempty"`
	Capabilities []a2a.Capability `json:"capabilities,omitempty"`
}

// AgentClient talks to one remote agent over HTTP.
type AgentClient struct {
	name    string
	baseURL string
	http    *httpclient.Client
}

// NewAgentClient builds a client for the agent at baseURL.
func NewAgentClient(name, baseURL string, opts ...httpclient.Option) *AgentClient {
	return &AgentClient{
		name:    name,
		baseURL: baseURL,
		http:    httpclient.New(opts...),
	}
}

// Name returns the configured agent name.
func (c *AgentClient) Name() string {
	return c.name
}

// BaseURL returns the agent's base URL.
func (c *AgentClient) BaseURL() string {
	return c.baseURL
}

// FetchCard retrieves the agent's descriptor.
func (c *AgentClient) FetchCard(ctx context.Context) (*AgentCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+a2a.WellKnownPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build card request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch agent card from %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent card request returned HTTP %d", resp.StatusCode)
	}

	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("failed to decode agent card: %w", err)
	}
	return &card, nil
}

// HealthCheck verifies the agent is reachable by fetching its card.
func (c *AgentClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := c.FetchCard(ctx); err != nil {
		return fmt.Errorf("agent %s unhealthy: %w", c.name, err)
	}
	return nil
}

// Send delivers msg to the agent's receive endpoint and decodes the
// response envelope.
func (c *AgentClient) Send(ctx context.Context, msg *a2a.Message) (*a2a.Response, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+a2a.ReceivePath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send message to %s: %w", c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", c.name, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("agent %s returned HTTP %d: %s", c.name, resp.StatusCode, string(body))
	}

	var envelope a2a.Response
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", c.name, err)
	}
	return &envelope, nil
}
