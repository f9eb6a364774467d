package shared

import "context"

// StaticCatalog is the broker catalog configured through BROKER_IDS.
// An empty catalog accepts every broker.
type StaticCatalog struct{ ids map[string]struct{} }

func NewStaticCatalog(ids []string) *StaticCatalog {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return &StaticCatalog{ids: m}
}

func (c *StaticCatalog) Exists(_ context.Context, id string) (bool, error) {
	if len(c.ids) == 0 {
		return true, nil
	}
	_, ok := c.ids[id]
	return ok, nil
}

func (c *StaticCatalog) IDs() []string {
	out := make([]string, 0, len(c.ids))
	for id := range c.ids {
		out = append(out, id)
	}
	return out
}
