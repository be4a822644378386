package catalog

import (
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrUnknownItem is returned when an item id is not in the catalog
var ErrUnknownItem = errors.New("unknown catalog item")

// Scarcity marks a catalog entry as a numbered limited edition
type Scarcity struct {
	TotalSupply int        `yaml:"total_supply" json:"total_supply"`
	WindowStart time.Time  `yaml:"window_start" json:"window_start"`
	WindowEnd   *time.Time `yaml:"window_end,omitempty" json:"window_end,omitempty"`
}

// Entry is the reference data for one redeemable item
type Entry struct {
	ItemID      string    `yaml:"item_id" json:"item_id"`
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	PointValue  int       `yaml:"point_value" json:"point_value"`
	Active      *bool     `yaml:"active,omitempty" json:"active,omitempty"`
	Scarcity    *Scarcity `yaml:"scarcity,omitempty" json:"scarcity,omitempty"`
}

// IsActive reports whether the entry accepts redemptions. Entries are active
// unless explicitly disabled.
func (e Entry) IsActive() bool {
	return e.Active == nil || *e.Active
}

// IsScarce reports whether the entry declares a limited supply
func (e Entry) IsScarce() bool {
	return e.Scarcity != nil
}

// clone copies the pointer fields so callers cannot mutate the catalog
func (e Entry) clone() Entry {
	if e.Active != nil {
		active := *e.Active
		e.Active = &active
	}
	if e.Scarcity != nil {
		s := *e.Scarcity
		if s.WindowEnd != nil {
			end := *s.WindowEnd
			s.WindowEnd = &end
		}
		e.Scarcity = &s
	}
	return e
}

// Lookup resolves catalog entries by id
type Lookup interface {
	Get(itemID string) (Entry, error)
}

type file struct {
	Items []Entry `yaml:"items"`
}

// Catalog is an immutable in-memory item catalog
type Catalog struct {
	entries map[string]Entry
}

// New builds a catalog from entries
func New(entries []Entry) (*Catalog, error) {
	c := &Catalog{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		if e.ItemID == "" {
			return nil, errors.New("catalog entry without item_id")
		}
		if _, exists := c.entries[e.ItemID]; exists {
			return nil, errors.Errorf("duplicate catalog entry %q", e.ItemID)
		}
		if e.PointValue < 0 {
			return nil, errors.Errorf("catalog entry %q has negative point_value", e.ItemID)
		}
		if s := e.Scarcity; s != nil {
			if s.TotalSupply <= 0 {
				return nil, errors.Errorf("catalog entry %q needs a positive total_supply", e.ItemID)
			}
			if s.WindowEnd != nil && !s.WindowEnd.After(s.WindowStart) {
				return nil, errors.Errorf("catalog entry %q window_end must be after window_start", e.ItemID)
			}
		}
		c.entries[e.ItemID] = e.clone()
	}
	return c, nil
}

// Load reads a YAML catalog file
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read catalog %s", path)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog document
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "failed to parse catalog")
	}
	return New(f.Items)
}

// Get returns the entry for itemID
func (c *Catalog) Get(itemID string) (Entry, error) {
	e, ok := c.entries[itemID]
	if !ok {
		return Entry{}, ErrUnknownItem
	}
	return e.clone(), nil
}

// Entries returns all entries ordered by item id
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

// Scarce returns the entries that declare a limited supply
func (c *Catalog) Scarce() []Entry {
	var out []Entry
	for _, e := range c.Entries() {
		if e.IsScarce() {
			out = append(out, e)
		}
	}
	return out
}
