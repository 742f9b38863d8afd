package rum

import (
	"log/slog"
	"sort"

	"rumspool/internal/logging"
)

const MaxAttributesPerGroup = 128

var reservedAttributes = map[string]struct{}{
	"host":          {},
	"message":       {},
	"status":        {},
	"service":       {},
	"source":        {},
	"ddtags":        {},
	"error.kind":    {},
	"error.message": {},
	"error.stack":   {},
}

// DataConstraints is the default AttributeValidator. It drops reserved keys
// and keeps at most MaxAttributes entries per group, in key order.
type DataConstraints struct {
	MaxAttributes int
	logger        *slog.Logger
}

func NewDataConstraints(logger *slog.Logger) *DataConstraints {
	return &DataConstraints{
		MaxAttributes: MaxAttributesPerGroup,
		logger:        logging.OrDiscard(logger).With(logging.Component("data_constraints")),
	}
}

func (c *DataConstraints) ValidateAttributes(attrs map[string]any, prefix, group string) map[string]any {
	if attrs == nil {
		return nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		if _, reserved := reservedAttributes[k]; reserved {
			c.logger.Warn("dropping reserved attribute", "group", group, "key", prefix+"."+k)
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if limit := c.MaxAttributes; limit > 0 && len(keys) > limit {
		c.logger.Warn("too many attributes, discarding the rest",
			"group", group, "limit", limit, "discarded", len(keys)-limit)
		keys = keys[:limit]
	}

	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[k] = attrs[k]
	}
	return out
}

var _ AttributeValidator = (*DataConstraints)(nil)
