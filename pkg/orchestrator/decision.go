package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonschema"
)

// Agent names the router can select.
const (
	AdvisorAgent = "Advisor Agent"
	SearchAgent  = "Search Agent"
	OrderAgent   = "Order Agent"
)

// RoutingDecision is the structured output of the routing model.
type RoutingDecision struct {
	Analysis            string   `json:"analysis"`
	ClarifiedMessage    string   `json:"clarified_message"`
	SelectedAgent       string   `json:"selected_agent,omitempty"`
	MessageToAgent      string   `json:"message_to_agent,omitempty"`
	DirectResponse      string   `json:"direct_response,omitempty"`
	ExtractedProductIDs []string `json:"extracted_product_ids,omitempty"`
}

// IsDirect reports whether the host should answer without dispatching.
func (d *RoutingDecision) IsDirect() bool {
	return d.SelectedAgent == "" || d.DirectResponse != ""
}

const routingDecisionSchema = `{
  "type": "object",
  "properties": {
    "analysis": {"type": "string"},
    "clarified_message": {"type": "string"},
    "selected_agent": {
      "type": "string",
      "enum": ["Advisor Agent", "Search Agent", "Order Agent", ""]
    },
    "message_to_agent": {"type": "string"},
    "direct_response": {"type": "string"},
    "extracted_product_ids": {
      "type": "array",
      "items": {"type": "string"}
    }
  },
  "required": ["analysis", "clarified_message"],
  "additionalProperties": true
}`

var decisionSchema = mustCompileSchema(routingDecisionSchema)

func mustCompileSchema(raw string) *jsonschema.Schema {
	schema, err := jsonschema.NewCompiler().Compile([]byte(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid routing decision schema: %v", err))
	}
	return schema
}

// ParseDecision extracts a RoutingDecision from raw model output. It
// strips code fences, falls back to the outermost JSON object, and
// validates the result against the decision schema.
func ParseDecision(raw string) (*RoutingDecision, error) {
	text := extractJSON(raw)
	if text == "" {
		return nil, fmt.Errorf("no JSON object in model output")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("failed to decode routing decision: %w", err)
	}
	if result := decisionSchema.Validate(payload); !result.IsValid() {
		return nil, fmt.Errorf("routing decision failed validation: %s", result.Error())
	}

	var decision RoutingDecision
	if err := json.Unmarshal([]byte(text), &decision); err != nil {
		return nil, fmt.Errorf("failed to decode routing decision: %w", err)
	}
	if decision.SelectedAgent != "" {
		switch decision.SelectedAgent {
		case AdvisorAgent, SearchAgent, OrderAgent:
		default:
			return nil, fmt.Errorf("unknown agent in routing decision: %s", decision.SelectedAgent)
		}
	}
	return &decision, nil
}

// extractJSON returns the JSON object embedded in text: fenced blocks
// are unwrapped, and otherwise the span from the first { to the last }
// is taken.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.Index(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
		return text
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
