package clients

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mthangit/Multi-Agents-sub000/pkg/a2a"
	"github.com/mthangit/Multi-Agents-sub000/pkg/registry"
)

// managedClient pairs a client with its last known health.
type managedClient struct {
	client  *AgentClient
	card    *AgentCard
	healthy bool
	lastErr error
}

// Manager owns the pool of remote agent clients. Initialization is
// lazy and non-fatal: an agent that is down at startup is marked
// unhealthy and retried on the next use or health sweep.
type Manager struct {
	clients    *registry.Table[*managedClient]
	maxRetries uint64
	logger     *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMaxConnectRetries bounds the backoff attempts when connecting to
// an agent.
func WithMaxConnectRetries(n uint64) ManagerOption {
	return func(m *Manager) {
		m.maxRetries = n
	}
}

// WithManagerLogger sets the manager logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager builds a Manager over the name -> base URL map of remote
// agents.
func NewManager(agents map[string]string, opts ...ManagerOption) *Manager {
	m := &Manager{
		clients:    registry.NewTable[*managedClient](),
		maxRetries: 4,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	for name, url := range agents {
		m.clients.Put(name, &managedClient{client: NewAgentClient(name, url)})
	}
	return m
}

// Connect probes every configured agent with exponential backoff.
// Failures are logged and recorded but never abort startup.
func (m *Manager) Connect(ctx context.Context) {
	for _, name := range m.clients.Names() {
		mc, _ := m.clients.Get(name)
		if err := m.connect(ctx, mc); err != nil {
			m.logger.Warn("remote agent unavailable", "agent", name, "error", err)
			continue
		}
		m.logger.Info("remote agent connected", "agent", name, "url", mc.client.BaseURL())
	}
}

func (m *Manager) connect(ctx context.Context, mc *managedClient) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), m.maxRetries), ctx)

	err := backoff.Retry(func() error {
		card, err := mc.client.FetchCard(ctx)
		if err != nil {
			return err
		}
		mc.card = card
		return nil
	}, policy)

	mc.healthy = err == nil
	mc.lastErr = err
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", mc.client.Name(), err)
	}
	return nil
}

// Send routes msg to the named remote agent. An unhealthy agent gets
// one reconnect attempt before the send is refused.
func (m *Manager) Send(ctx context.Context, name string, msg *a2a.Message) (*a2a.Response, error) {
	mc, ok := m.clients.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown agent: %s", name)
	}
	if !mc.healthy {
		if err := m.connect(ctx, mc); err != nil {
			return nil, fmt.Errorf("agent %s unavailable: %w", name, err)
		}
	}

	resp, err := mc.client.Send(ctx, msg)
	if err != nil {
		mc.healthy = false
		mc.lastErr = err
		return nil, err
	}
	return resp, nil
}

// Card returns the cached descriptor for the named agent.
func (m *Manager) Card(name string) (*AgentCard, bool) {
	mc, ok := m.clients.Get(name)
	if !ok || mc.card == nil {
		return nil, false
	}
	return mc.card, true
}

// Health reports per-agent reachability, probing each one.
func (m *Manager) Health(ctx context.Context) map[string]error {
	out := make(map[string]error)
	for _, name := range m.clients.Names() {
		mc, _ := m.clients.Get(name)
		err := mc.client.HealthCheck(ctx)
		mc.healthy = err == nil
		mc.lastErr = err
		out[name] = err
	}
	return out
}

// RunHealthChecks probes all agents on a fixed period until ctx is
// cancelled.
func (m *Manager) RunHealthChecks(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, err := range m.Health(ctx) {
				if err != nil {
					m.logger.Warn("health check failed", "agent", name, "error", err)
				}
			}
		}
	}
}

// Names lists the configured agent names.
func (m *Manager) Names() []string {
	return m.clients.Names()
}
