package orchestrator

import (
	"context"
	"log/slog"

	"github.com/mthangit/Multi-Agents-sub000/pkg/memory"
)

// enrichProducts loads catalog records for the referenced product IDs
// and merges them with whatever product data the agent already
// returned. Agent-provided fields win when both are present and the
// agent's value is non-empty.
func (o *Orchestrator) enrichProducts(ctx context.Context, productIDs []string, agentProducts []map[string]any) []map[string]any {
	if o.catalog == nil || len(productIDs) == 0 {
		return agentProducts
	}

	records, err := o.catalog.GetByIDs(ctx, productIDs)
	if err != nil {
		o.logger.Warn("product enrichment failed", "error", err)
		return agentProducts
	}
	if len(records) == 0 {
		return agentProducts
	}

	agentByID := make(map[string]map[string]any, len(agentProducts))
	for _, p := range agentProducts {
		if id, ok := p["product_id"].(string); ok {
			agentByID[id] = p
		}
	}

	out := make([]map[string]any, 0, len(records))
	merged := make(map[string]bool, len(records))
	for _, rec := range records {
		fields := rec.Fields()
		if agent, ok := agentByID[rec.ProductID]; ok {
			fields = mergeProduct(fields, agent)
			merged[rec.ProductID] = true
		}
		for k, v := range fields {
			fields[k] = memory.NormalizeValue(v)
		}
		out = append(out, fields)
	}

	// Keep agent products the catalog does not know about.
	for _, p := range agentProducts {
		id, _ := p["product_id"].(string)
		if id == "" || !merged[id] {
			out = append(out, p)
		}
	}
	return out
}

// mergeProduct overlays agent fields onto catalog fields, keeping the
// catalog value when the agent's is empty.
func mergeProduct(base, agent map[string]any) map[string]any {
	for k, v := range agent {
		if isEmptyValue(v) {
			continue
		}
		base[k] = v
	}
	return base
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

// productMaps coerces the agent's raw products payload into a slice of
// maps, tolerating the loose shapes that come back over JSON.
func productMaps(v any, logger *slog.Logger) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		if m, ok := v.(map[string]any); ok {
			return []map[string]any{m}
		}
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		} else {
			logger.Debug("skipping non-object product entry")
		}
	}
	return out
}
