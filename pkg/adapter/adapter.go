// Package adapter turns a capability implementation into a registered,
// heartbeating agent. An adapter owns two background loops: a jittered
// heartbeat keeping the registry record live, and a queue listener
// feeding inbound messages to the broker.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/mthangit/Multi-Agents-sub000/pkg/a2a"
	"github.com/mthangit/Multi-Agents-sub000/pkg/broker"
	"github.com/mthangit/Multi-Agents-sub000/pkg/registry"
	"github.com/mthangit/Multi-Agents-sub000/pkg/transport"
)

// State tracks the adapter lifecycle.
type State int

const (
	StateUnregistered State = iota
	StateRegistering
	StateActive
	StateUnhealthy
)

func (s State) String() string {
	switch s {
	case StateRegistering:
		return "registering"
	case StateActive:
		return "active"
	case StateUnhealthy:
		return "unhealthy"
	default:
		return "unregistered"
	}
}

// blpopTimeout bounds each queue poll so shutdown is responsive.
const blpopTimeout = 2 * time.Second

// Agent is the coordination-side view of one in-process agent.
type Agent struct {
	info     a2a.AgentInfo
	handlers map[string]broker.Handler

	store    transport.Store
	registry *registry.Registry
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures an Agent.
type Option func(*Agent)

// WithHeartbeatInterval overrides the heartbeat period.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(a *Agent) {
		a.interval = d
	}
}

// WithLogger sets the adapter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// New builds an adapter for info. Handlers map capability names to
// their implementations; the adapter installs them on the default
// broker at registration time.
func New(info a2a.AgentInfo, handlers map[string]broker.Handler, store transport.Store, reg *registry.Registry, opts ...Option) *Agent {
	a := &Agent{
		info:     info,
		handlers: handlers,
		store:    store,
		registry: reg,
		interval: registry.DefaultHeartbeatInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Info returns the agent descriptor.
func (a *Agent) Info() a2a.AgentInfo {
	return a.info
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Register writes the descriptor to the registry, installs the
// capability handlers, and starts the heartbeat and listener loops.
func (a *Agent) Register(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateActive || a.state == StateRegistering {
		return fmt.Errorf("agent %s already registered", a.info.ID)
	}
	a.state = StateRegistering

	b := broker.Default()
	if b == nil {
		a.state = StateUnregistered
		return errors.New("no default broker configured")
	}

	if a.info.Endpoint == "" {
		a.info.Endpoint = a2a.QueueEndpoint(a.info.ID)
	}
	if err := a.registry.Register(ctx, &a.info); err != nil {
		a.state = StateUnregistered
		return fmt.Errorf("failed to register agent %s: %w", a.info.ID, err)
	}

	for name, fn := range a.handlers {
		if err := b.RegisterHandler(name, fn); err != nil {
			return fmt.Errorf("failed to install handler %q: %w", name, err)
		}
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.wg.Add(2)
	go a.heartbeatLoop(loopCtx)
	go a.listenLoop(loopCtx)

	a.state = StateActive
	a.logger.Info("agent registered", "agent", a.info.ID, "type", a.info.Type,
		"capabilities", len(a.handlers))
	return nil
}

// Unregister stops both loops, removes the handlers, and deletes the
// registry record. Safe to call more than once.
func (a *Agent) Unregister(ctx context.Context) error {
	a.mu.Lock()
	if a.state == StateUnregistered {
		a.mu.Unlock()
		return nil
	}
	cancel := a.cancel
	a.cancel = nil
	a.state = StateUnregistered
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.wg.Wait()

	if b := broker.Default(); b != nil {
		for name := range a.handlers {
			b.UnregisterHandler(name)
		}
	}
	if err := a.registry.Unregister(ctx, a.info.ID); err != nil {
		return fmt.Errorf("failed to unregister agent %s: %w", a.info.ID, err)
	}
	a.logger.Info("agent unregistered", "agent", a.info.ID)
	return nil
}

// heartbeatLoop refreshes the registry record on a jittered interval so
// a fleet of agents does not thunder in lockstep.
func (a *Agent) heartbeatLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.jitteredInterval()):
		}

		hb := registry.Heartbeat{Status: a2a.AgentStatusActive}
		if err := a.registry.UpdateHeartbeat(ctx, a.info.ID, hb); err != nil {
			if ctx.Err() != nil {
				return
			}
			a.setState(StateUnhealthy)
			a.logger.Warn("heartbeat failed", "agent", a.info.ID, "error", err)
			continue
		}
		a.setState(StateActive)
	}
}

// listenLoop pulls inbound messages off this agent's queue and hands
// them to the broker. Errors are logged and the loop resumes after a
// short pause; a failed message never kills the listener.
func (a *Agent) listenLoop(ctx context.Context) {
	defer a.wg.Done()
	key := a2a.QueueKey(a.info.ID)
	for {
		if ctx.Err() != nil {
			return
		}
		raw, err := a.store.BLPop(ctx, blpopTimeout, key)
		if err != nil {
			if errors.Is(err, transport.ErrNotFound) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("queue read failed", "agent", a.info.ID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		b := broker.Default()
		if b == nil {
			continue
		}
		if err := b.ProcessReceived(ctx, []byte(raw)); err != nil {
			a.logger.Error("failed to process inbound message",
				"agent", a.info.ID, "error", err)
		}
	}
}

func (a *Agent) jitteredInterval() time.Duration {
	jitter := 0.9 + 0.2*rand.Float64()
	return time.Duration(float64(a.interval) * jitter)
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}
