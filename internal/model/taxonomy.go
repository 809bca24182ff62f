package model

import (
	"maps"
	"slices"
	"strings"
)

// Taxonomy maps label names to short descriptions. It only ever grows:
// entries are added, never edited or removed.
type Taxonomy map[string]string

// Label is one persisted taxonomy entry.
type Label struct {
	ID          int64  `json:"id"`
	Key         string `json:"label_key"`
	Description string `json:"label_value"`
}

func (t Taxonomy) Clone() Taxonomy {
	out := make(Taxonomy, len(t))
	maps.Copy(out, t)
	return out
}

// Merge adds the entries whose keys are not present yet and returns the added keys, sorted.
// Existing keys keep their description. Blank keys or descriptions are ignored.
func (t Taxonomy) Merge(entries map[string]string) []string {
	var added []string
	for k, v := range entries {
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		if _, exists := t[k]; exists {
			continue
		}
		t[k] = v
		added = append(added, k)
	}
	slices.Sort(added)
	return added
}

// Keys returns the label names in sorted order.
func (t Taxonomy) Keys() []string {
	return slices.Sorted(maps.Keys(t))
}
