package orchestrator

import (
	"fmt"
	"regexp"
	"strings"
)

// Order intent markers the routing model prefixes onto message_to_agent
// so the order agent knows whether to open a new order or edit one.
const (
	MarkerNewOrder  = "[NEW_ORDER]"
	MarkerEditOrder = "[EDIT_ORDER]"
)

// productIDPattern matches "ID: <token>" references in agent replies.
var productIDPattern = regexp.MustCompile(`ID:\s*([A-Za-z0-9_-]+)`)

// ExtractProductIDs pulls product IDs referenced in text, deduplicated
// in first-seen order.
func ExtractProductIDs(text string) []string {
	matches := productIDPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

const routingSystemPrompt = `You are the routing coordinator of an eyewear shop assistant.
You receive the customer's message plus recent conversation context and decide
which specialist agent should handle it, or answer simple messages yourself.

Agents:
- "Advisor Agent": eyewear advice, face shape and style recommendations, lens guidance.
- "Search Agent": product search and lookup in the catalog, image-based search.
- "Order Agent": placing, editing, and checking orders; cart operations.

Rules:
- Resolve pronouns and elliptical references ("cái đó", "mẫu này", "it", "that one")
  against the conversation context before routing; put the resolved text in
  clarified_message and message_to_agent.
- Messages about buying, ordering, "đặt hàng", "mua", "thêm vào giỏ" go to the
  Order Agent. Messages asking to find or show products, "tìm", "có mẫu nào" go
  to the Search Agent. Style and suitability questions, "hợp với", "tư vấn", go
  to the Advisor Agent.
- Carry product references forward: when the context names products as
  "ID: <token>", copy those tokens into extracted_product_ids.
- When the customer expresses a NEW order intent ("đặt hàng", "mua", "mua luôn",
  "thêm vào giỏ", "chốt đơn"), start message_to_agent with [NEW_ORDER] and fill
  extracted_product_ids with every product ID recovered from the context.
- When the customer wants to change an EXISTING order ("sửa đơn", "hủy đơn",
  "đổi đơn hàng", "cập nhật đơn", "thay đổi đơn"), start message_to_agent with
  [EDIT_ORDER] instead. Never use both markers.
- Greetings, thanks, and small talk get a short friendly direct_response with no
  selected_agent. Never mention the agent names to the customer.
- Respond with a single JSON object:
  {"analysis": "...", "clarified_message": "...", "selected_agent": "...",
   "message_to_agent": "...", "direct_response": "...",
   "extracted_product_ids": ["..."]}
  Use selected_agent + message_to_agent when dispatching, direct_response when
  answering yourself, never both.`

// BuildRoutingPrompt renders the user prompt fed to the routing model.
func BuildRoutingPrompt(message, contextSummary string, fileNames []string) string {
	var b strings.Builder
	if contextSummary != "" {
		b.WriteString("Conversation so far:\n")
		b.WriteString(contextSummary)
		b.WriteString("\n\n")
	}
	if len(fileNames) > 0 {
		fmt.Fprintf(&b, "The customer attached %d image(s): %s\n\n",
			len(fileNames), strings.Join(fileNames, ", "))
	}
	b.WriteString("Customer message:\n")
	b.WriteString(message)
	return b.String()
}

// RoutingSystemPrompt returns the system instruction for the routing
// model.
func RoutingSystemPrompt() string {
	return routingSystemPrompt
}
