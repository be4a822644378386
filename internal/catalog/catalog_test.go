package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `
items:
  - item_id: sticker-blue
    name: Blue Sticker
    point_value: 5
  - item_id: cap-gold
    name: Golden Cap
    point_value: 100
    scarcity:
      total_supply: 250
      window_start: 2026-01-01T00:00:00Z
      window_end: 2026-02-01T00:00:00Z
  - item_id: retired-pin
    name: Retired Pin
    point_value: 10
    active: false
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)

	sticker, err := c.Get("sticker-blue")
	require.NoError(t, err)
	assert.Equal(t, "Blue Sticker", sticker.Name)
	assert.True(t, sticker.IsActive())
	assert.False(t, sticker.IsScarce())

	goldCap, err := c.Get("cap-gold")
	require.NoError(t, err)
	require.True(t, goldCap.IsScarce())
	assert.Equal(t, 250, goldCap.Scarcity.TotalSupply)
	require.NotNil(t, goldCap.Scarcity.WindowEnd)
	assert.Equal(t, 2026, goldCap.Scarcity.WindowStart.Year())

	pin, err := c.Get("retired-pin")
	require.NoError(t, err)
	assert.False(t, pin.IsActive())

	_, err = c.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownItem)

	ids := []string{}
	for _, e := range c.Entries() {
		ids = append(ids, e.ItemID)
	}
	assert.Equal(t, []string{"cap-gold", "retired-pin", "sticker-blue"}, ids)
	assert.Len(t, c.Scarce(), 1)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing id":   "items:\n  - name: x\n",
		"duplicate":    "items:\n  - item_id: a\n  - item_id: a\n",
		"zero supply":  "items:\n  - item_id: a\n    scarcity:\n      total_supply: 0\n",
		"bad window":   "items:\n  - item_id: a\n    scarcity:\n      total_supply: 1\n      window_start: 2026-02-01T00:00:00Z\n      window_end: 2026-01-01T00:00:00Z\n",
		"not yaml":     "items: [",
		"negative pts": "items:\n  - item_id: a\n    point_value: -1\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestGet_ReturnsCopies(t *testing.T) {
	c, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)

	gold, err := c.Get("cap-gold")
	require.NoError(t, err)
	gold.Scarcity.TotalSupply = 1
	*gold.Scarcity.WindowEnd = gold.Scarcity.WindowStart

	pin, err := c.Get("retired-pin")
	require.NoError(t, err)
	*pin.Active = true

	for _, e := range c.Entries() {
		if e.ItemID == "cap-gold" {
			e.Scarcity.TotalSupply = 2
		}
	}

	gold, err = c.Get("cap-gold")
	require.NoError(t, err)
	assert.Equal(t, 250, gold.Scarcity.TotalSupply)
	assert.True(t, gold.Scarcity.WindowEnd.After(gold.Scarcity.WindowStart))

	pin, err = c.Get("retired-pin")
	require.NoError(t, err)
	assert.False(t, pin.IsActive())
}
