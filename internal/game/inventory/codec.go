package inventory

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cory-johannsen/grove/internal/game/item"
)

// MarshalJSON encodes the full SlotCount-entry slot array.
func (inv *Inventory) MarshalJSON() ([]byte, error) {
	return json.Marshal(inv.Slots())
}

// storedEntry accepts both the full slot form {index, item} and the compact
// legacy form {itemId, quantity}.
type storedEntry struct {
	Index    *int           `json:"index"`
	Item     *ItemInstance  `json:"item"`
	ItemID   string         `json:"itemId"`
	Quantity int            `json:"quantity"`
	Metadata map[string]any `json:"metadata"`
}

// Restore rebuilds an inventory from stored data. Three shapes are accepted:
// empty (no bytes, null, [] or {}), the full slot array written by
// MarshalJSON, and a compact list of {itemId, quantity} entries which is
// replayed through AddItem in order. Legacy berry names in either form are
// mapped to their catalog ids.
//
// Postcondition: returns an inventory or an error describing the first
// entry that could not be placed.
func Restore(catalog *item.Catalog, data []byte) (*Inventory, error) {
	inv := New(catalog)
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return inv, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, fmt.Errorf("decoding inventory: %w", err)
	}
	for n, raw := range entries {
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			continue
		}
		var e storedEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decoding inventory entry %d: %w", n, err)
		}
		switch {
		case e.Index != nil:
			if err := inv.place(*e.Index, e.Item); err != nil {
				return nil, err
			}
		case e.ItemID != "":
			e.ItemID = canonicalID(e.ItemID)
			if res := inv.AddItem(e.ItemID, e.Quantity, e.Metadata); !res.Success {
				return nil, fmt.Errorf("replaying inventory entry %d (%s x%d): %s", n, e.ItemID, e.Quantity, res.Error)
			}
		default:
			return nil, fmt.Errorf("inventory entry %d has neither index nor itemId", n)
		}
	}
	return inv, nil
}

func (inv *Inventory) place(index int, it *ItemInstance) error {
	if !validIndex(index) {
		return fmt.Errorf("%w: %d", ErrSlotOutOfRange, index)
	}
	if it == nil {
		inv.slots[index].Item = nil
		return nil
	}
	c := it.clone()
	c.ItemID = canonicalID(c.ItemID)
	inv.slots[index].Item = c
	return nil
}

// canonicalID maps a legacy berry name to its catalog id and returns any
// other id unchanged.
func canonicalID(id string) string {
	if canonical, ok := item.CanonicalBerryItem(id); ok {
		return canonical
	}
	return id
}
