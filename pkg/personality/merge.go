package personality

import (
	"context"

	"niabot/pkg/logger"
	"niabot/pkg/store"
)

// Merger applies a reply's proposed profile deltas field by field.
type Merger struct {
	store Store
}

func NewMerger(s Store) *Merger {
	return &Merger{store: s}
}

// Apply merges each non-empty update mapping into the stored field:
// field-wise union, reply values winning on key collision, exactly one
// write per changed field. A failing field is logged and skipped; the rest
// still merge. Returns the outward-facing names of the fields that changed,
// in the canonical field order.
func (m *Merger) Apply(ctx context.Context, uid string, reply *Reply) []string {
	changed := []string{}
	if reply == nil || len(reply.Updates) == 0 {
		return changed
	}

	for _, field := range store.ProfileFields() {
		update, ok := reply.Updates[field]
		if !ok || len(update) == 0 {
			continue
		}

		current, err := m.store.GetField(ctx, uid, field)
		if err != nil {
			logger.ErrorCF("personality", "Skipping field update, read failed", map[string]interface{}{
				"uid":   uid,
				"field": string(field),
				"error": err.Error(),
			})
			continue
		}

		merged := make(map[string]string, len(current)+len(update))
		for k, v := range current {
			merged[k] = v
		}
		for k, v := range update {
			merged[k] = v
		}

		if err := m.store.SetField(ctx, uid, field, merged); err != nil {
			logger.ErrorCF("personality", "Skipping field update, write failed", map[string]interface{}{
				"uid":   uid,
				"field": string(field),
				"error": err.Error(),
			})
			continue
		}

		changed = append(changed, DisplayName(field))
	}

	return changed
}
