package a2a

import "strings"

// Endpoint schemes. Agents reachable inside the cluster declare a queue
// endpoint; remote agents declare an http(s) endpoint and receive messages
// at <endpoint>/a2a/receive.
const (
	QueueScheme = "queue://"

	// ReceivePath is the HTTP path remote agents listen on.
	ReceivePath = "/a2a/receive"

	// WellKnownPath serves the agent descriptor for discovery and health
	// checks.
	WellKnownPath = "/.well-known/agent.json"
)

// QueueEndpoint returns the queue endpoint URI for an agent id.
func QueueEndpoint(agentID string) string {
	return QueueScheme + agentID
}

// IsQueueEndpoint reports whether the endpoint uses in-cluster queue
// delivery.
func IsQueueEndpoint(endpoint string) bool {
	return strings.HasPrefix(endpoint, QueueScheme)
}

// QueueAgentID extracts the agent id from a queue endpoint.
func QueueAgentID(endpoint string) (string, bool) {
	if !IsQueueEndpoint(endpoint) {
		return "", false
	}
	id := strings.TrimPrefix(endpoint, QueueScheme)
	if id == "" {
		return "", false
	}
	return id, true
}

// QueueKey is the store key holding an agent's inbound FIFO queue.
func QueueKey(agentID string) string {
	return "agent-queue:" + agentID
}
