// Package registry implements the shared agent registry: a durable catalog
// of agent descriptors held in the key-value store, with secondary indices
// by agent type and by capability, and heartbeat-driven liveness.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mthangit/Multi-Agents-sub000/pkg/a2a"
	"github.com/mthangit/Multi-Agents-sub000/pkg/transport"
)

// Key layout shared by every process.
const (
	agentKeyPrefix  = "agent:"
	typeKeyPrefix   = "agents-by-type:"
	capKeyPrefix    = "agents-by-capability:"
	allAgentsKey    = "all-agents"
	agentKeyPattern = "agent:*"
)

// Defaults for liveness tracking. An agent missing two heartbeats is no
// longer live.
const (
	DefaultLivenessTimeout   = 60 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
)

// ErrAgentNotFound is returned when no descriptor exists for an agent id.
var ErrAgentNotFound = errors.New("registry: agent not found")

// Filter constrains a Discover call. Zero fields are not applied.
type Filter struct {
	Type       a2a.AgentType   `json:"agent_type,omitempty"`
	Capability string          `json:"capability,omitempty"`
	Status     a2a.AgentStatus `json:"status,omitempty"`
}

// Heartbeat carries the periodic liveness update from an adapter.
type Heartbeat struct {
	Status            a2a.AgentStatus `json:"status"`
	Load              float64         `json:"load"`
	ActiveConnections int             `json:"active_connections"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
}

// Registry is the shared agent catalog. All processes point at the same
// store; each adapter writes only its own descriptor, so no cross-process
// locking is needed.
type Registry struct {
	store           transport.Store
	livenessTimeout time.Duration
	logger          *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLivenessTimeout overrides the default liveness timeout.
func WithLivenessTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.livenessTimeout = d
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// New creates a Registry on the given store.
func New(store transport.Store, opts ...Option) *Registry {
	r := &Registry{
		store:           store,
		livenessTimeout: DefaultLivenessTimeout,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LivenessTimeout returns the configured liveness window.
func (r *Registry) LivenessTimeout() time.Duration {
	return r.livenessTimeout
}

func agentKey(agentID string) string {
	return agentKeyPrefix + agentID
}

func typeKey(t a2a.AgentType) string {
	return typeKeyPrefix + string(t)
}

func capabilityKey(name string) string {
	return capKeyPrefix + name
}

// Register writes the descriptor and updates every secondary index.
// Re-registration replaces the existing record: stale index entries from a
// previous incarnation are purged first so capability changes don't leave
// dangling references.
func (r *Registry) Register(ctx context.Context, info *a2a.AgentInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}

	if prev, err := r.Lookup(ctx, info.ID); err == nil {
		if err := r.purgeIndices(ctx, prev); err != nil {
			return fmt.Errorf("purge stale indices for %s: %w", info.ID, err)
		}
	} else if !errors.Is(err, ErrAgentNotFound) {
		return err
	}

	info.Status = a2a.AgentStatusActive
	info.LastHeartbeat = time.Now()

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal descriptor for %s: %w", info.ID, err)
	}

	if err := r.store.Set(ctx, agentKey(info.ID), string(data), 0); err != nil {
		return fmt.Errorf("write descriptor for %s: %w", info.ID, err)
	}
	if err := r.store.SAdd(ctx, allAgentsKey, info.ID); err != nil {
		return fmt.Errorf("index %s in all-agents: %w", info.ID, err)
	}
	if err := r.store.SAdd(ctx, typeKey(info.Type), info.ID); err != nil {
		return fmt.Errorf("index %s by type: %w", info.ID, err)
	}
	for _, c := range info.Capabilities {
		if err := r.store.SAdd(ctx, capabilityKey(c.Name), info.ID); err != nil {
			return fmt.Errorf("index %s by capability %s: %w", info.ID, c.Name, err)
		}
	}

	r.logger.Info("agent registered",
		"agent_id", info.ID, "name", info.Name, "type", info.Type,
		"capabilities", len(info.Capabilities))
	return nil
}

// Unregister purges the agent from every index, then deletes the primary
// record. Discovery may transiently list the id but filters it out on the
// descriptor fetch.
func (r *Registry) Unregister(ctx context.Context, agentID string) error {
	info, err := r.Lookup(ctx, agentID)
	if err != nil {
		return err
	}

	if err := r.purgeIndices(ctx, info); err != nil {
		return fmt.Errorf("purge indices for %s: %w", agentID, err)
	}
	if err := r.store.Delete(ctx, agentKey(agentID)); err != nil {
		return fmt.Errorf("delete descriptor for %s: %w", agentID, err)
	}

	r.logger.Info("agent unregistered", "agent_id", agentID)
	return nil
}

func (r *Registry) purgeIndices(ctx context.Context, info *a2a.AgentInfo) error {
	if err := r.store.SRem(ctx, allAgentsKey, info.ID); err != nil {
		return err
	}
	if err := r.store.SRem(ctx, typeKey(info.Type), info.ID); err != nil {
		return err
	}
	for _, c := range info.Capabilities {
		if err := r.store.SRem(ctx, capabilityKey(c.Name), info.ID); err != nil {
			return err
		}
	}
	return nil
}

// Lookup fetches a descriptor by agent id.
func (r *Registry) Lookup(ctx context.Context, agentID string) (*a2a.AgentInfo, error) {
	data, err := r.store.Get(ctx, agentKey(agentID))
	if errors.Is(err, transport.ErrNotFound) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch descriptor for %s: %w", agentID, err)
	}

	var info a2a.AgentInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return nil, fmt.Errorf("decode descriptor for %s: %w", agentID, err)
	}
	return &info, nil
}

// Discover returns descriptors matching the filter, ordered by name.
// Agents whose last heartbeat is older than the liveness timeout are
// silently skipped and marked inactive in the background.
func (r *Registry) Discover(ctx context.Context, filter Filter) ([]*a2a.AgentInfo, error) {
	ids, err := r.candidateIDs(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = agentKey(id)
	}
	records, err := r.store.MGet(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("fetch descriptors: %w", err)
	}

	now := time.Now()
	var stale []*a2a.AgentInfo
	var matched []*a2a.AgentInfo
	for _, key := range keys {
		data, ok := records[key]
		if !ok {
			// Index entry without a record: unregister in flight, or a
			// crashed registration. The sweep restores consistency.
			continue
		}
		var info a2a.AgentInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			r.logger.Warn("skipping undecodable descriptor", "key", key, "error", err)
			continue
		}

		live := info.Live(now, r.livenessTimeout)
		if !live && info.Status == a2a.AgentStatusActive {
			stale = append(stale, &info)
		}
		if filter.Status != "" {
			if filter.Status == a2a.AgentStatusActive && !live {
				continue
			}
			if info.Status != filter.Status {
				continue
			}
		} else if !live {
			continue
		}
		if filter.Capability != "" && !info.HasCapability(filter.Capability) {
			continue
		}
		matched = append(matched, &info)
	}

	if len(stale) > 0 {
		go r.markInactive(context.WithoutCancel(ctx), stale)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	return matched, nil
}

func (r *Registry) candidateIDs(ctx context.Context, filter Filter) ([]string, error) {
	switch {
	case filter.Capability != "":
		return r.store.SMembers(ctx, capabilityKey(filter.Capability))
	case filter.Type != "":
		return r.store.SMembers(ctx, typeKey(filter.Type))
	default:
		return r.store.SMembers(ctx, allAgentsKey)
	}
}

func (r *Registry) markInactive(ctx context.Context, agents []*a2a.AgentInfo) {
	for _, info := range agents {
		info.Status = a2a.AgentStatusInactive
		data, err := json.Marshal(info)
		if err != nil {
			continue
		}
		if err := r.store.Set(ctx, agentKey(info.ID), string(data), 0); err != nil {
			r.logger.Warn("failed to mark agent inactive", "agent_id", info.ID, "error", err)
			continue
		}
		r.logger.Info("agent marked inactive", "agent_id", info.ID,
			"last_heartbeat", info.LastHeartbeat)
	}
}

// UpdateHeartbeat records a liveness update for a registered agent. It
// fails if the descriptor is absent.
func (r *Registry) UpdateHeartbeat(ctx context.Context, agentID string, hb Heartbeat) error {
	info, err := r.Lookup(ctx, agentID)
	if err != nil {
		return err
	}

	info.LastHeartbeat = time.Now()
	if hb.Status != "" {
		info.Status = hb.Status
	} else {
		info.Status = a2a.AgentStatusActive
	}
	if info.Metadata == nil {
		info.Metadata = make(map[string]any)
	}
	info.Metadata["load"] = hb.Load
	info.Metadata["active_connections"] = hb.ActiveConnections
	for k, v := range hb.Metadata {
		info.Metadata[k] = v
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal descriptor for %s: %w", agentID, err)
	}
	if err := r.store.Set(ctx, agentKey(agentID), string(data), 0); err != nil {
		return fmt.Errorf("write heartbeat for %s: %w", agentID, err)
	}
	return nil
}

// Sweep walks every descriptor and marks agents whose last heartbeat is
// older than the liveness timeout as inactive. It returns the number of
// agents transitioned. Partial index damage from crashed registrations is
// also repaired here: records missing from all-agents are re-indexed.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	now := time.Now()
	marked := 0
	var seen []string

	err := r.store.Scan(ctx, agentKeyPattern, func(keys []string) error {
		records, err := r.store.MGet(ctx, keys)
		if err != nil {
			return err
		}
		for key, data := range records {
			var info a2a.AgentInfo
			if err := json.Unmarshal([]byte(data), &info); err != nil {
				r.logger.Warn("sweep skipping undecodable descriptor", "key", key, "error", err)
				continue
			}
			seen = append(seen, info.ID)
			if info.Status == a2a.AgentStatusActive && !info.Live(now, r.livenessTimeout) {
				info.Status = a2a.AgentStatusInactive
				updated, err := json.Marshal(&info)
				if err != nil {
					continue
				}
				if err := r.store.Set(ctx, key, string(updated), 0); err != nil {
					return fmt.Errorf("mark %s inactive: %w", info.ID, err)
				}
				marked++
				r.logger.Info("sweep marked agent inactive",
					"agent_id", info.ID, "last_heartbeat", info.LastHeartbeat)
			}
		}
		return nil
	})
	if err != nil {
		return marked, err
	}

	indexed, err := r.store.SMembers(ctx, allAgentsKey)
	if err != nil {
		return marked, fmt.Errorf("read all-agents index: %w", err)
	}
	known := make(map[string]bool, len(indexed))
	for _, id := range indexed {
		known[id] = true
	}
	var missing []string
	for _, id := range seen {
		if !known[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		if err := r.store.SAdd(ctx, allAgentsKey, missing...); err != nil {
			return marked, fmt.Errorf("repair all-agents index: %w", err)
		}
		r.logger.Info("sweep re-indexed agents", "agent_ids", missing)
	}
	return marked, nil
}

// Count returns the number of registered agents.
func (r *Registry) Count(ctx context.Context) (int, error) {
	ids, err := r.store.SMembers(ctx, allAgentsKey)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// RunSweeper marks stale agents inactive on a fixed period until ctx is
// cancelled.
func (r *Registry) RunSweeper(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = r.livenessTimeout
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Warn("registry sweep failed", "error", err)
			}
		}
	}
}
