// Package inventory implements the fixed 28-slot inventory engine: add,
// remove, move, and consume with deterministic stacking over the item catalog.
package inventory

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/google/uuid"

	"github.com/cory-johannsen/grove/internal/game/item"
)

// SlotCount is the fixed number of slots in every inventory.
const SlotCount = 28

// Result error messages.
const (
	ErrMsgInventoryFull   = "Inventory full"
	ErrMsgNotEnoughItems  = "Not enough items"
	ErrMsgInvalidSlot     = "Invalid slot index"
	ErrMsgEmptySource     = "Source slot is empty"
	ErrMsgNotConsumable   = "Item is not consumable"
	ErrMsgItemNotOwned    = "Item not in inventory"
	ErrMsgInvalidQuantity = "Quantity must be positive"
)

// ErrSlotOutOfRange is returned when a slot index is outside [0, SlotCount).
var ErrSlotOutOfRange = errors.New("inventory: slot index out of range")

// ItemInstance is a concrete stack of one item.
//
// Invariant: 1 <= Quantity <= definition.MaxStack.
type ItemInstance struct {
	ItemID     string         `json:"itemId"`
	Quantity   int            `json:"quantity"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	InstanceID string         `json:"instanceId"`
}

func (i *ItemInstance) clone() *ItemInstance {
	if i == nil {
		return nil
	}
	out := *i
	if i.Metadata != nil {
		out.Metadata = make(map[string]any, len(i.Metadata))
		for k, v := range i.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// Slot is one addressable inventory position.
//
// Invariant: Item is nil or a valid ItemInstance.
type Slot struct {
	Index int           `json:"index"`
	Item  *ItemInstance `json:"item"`
}

// AddResult is the outcome of AddItem.
type AddResult struct {
	Success           bool   `json:"success"`
	RemainingQuantity int    `json:"remainingQuantity"`
	SlotsUsed         []int  `json:"slotsUsed"`
	Error             string `json:"error,omitempty"`
}

// RemoveResult is the outcome of RemoveItem.
type RemoveResult struct {
	Success         bool   `json:"success"`
	RemovedQuantity int    `json:"removedQuantity"`
	SlotsModified   []int  `json:"slotsModified"`
	Error           string `json:"error,omitempty"`
}

// MoveResult is the outcome of MoveItem.
type MoveResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ConsumeResult is the outcome of ConsumeItem.
type ConsumeResult struct {
	Success        bool   `json:"success"`
	HealthRestored int    `json:"healthRestored"`
	NewHealth      int    `json:"newHealth"`
	Error          string `json:"error,omitempty"`
}

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}

// Inventory is a fixed array of SlotCount slots. It is not safe for
// concurrent use; each inventory belongs to exactly one player record.
type Inventory struct {
	catalog *item.Catalog
	slots   [SlotCount]Slot
}

// New returns an empty inventory resolving items through catalog.
//
// Precondition: catalog must be non-nil.
// Postcondition: all SlotCount slots are empty.
func New(catalog *item.Catalog) *Inventory {
	inv := &Inventory{catalog: catalog}
	for i := range inv.slots {
		inv.slots[i].Index = i
	}
	return inv
}

// AddItem deposits quantity units of itemID. Stackable items first top up
// compatible stacks in index order, then fill empty slots in index order with
// new stacks of at most MaxStack each.
//
// Postcondition: Success iff RemainingQuantity == 0. Partial deposits are kept.
func (inv *Inventory) AddItem(itemID string, quantity int, metadata map[string]any) AddResult {
	def, ok := inv.catalog.Definition(itemID)
	if !ok {
		return AddResult{RemainingQuantity: quantity, SlotsUsed: []int{}, Error: fmt.Sprintf("Unknown item: %s", itemID)}
	}
	if quantity <= 0 {
		return AddResult{RemainingQuantity: quantity, SlotsUsed: []int{}, Error: ErrMsgInvalidQuantity}
	}

	remaining := quantity
	used := []int{}

	if def.Stackable {
		for i := range inv.slots {
			if remaining == 0 {
				break
			}
			it := inv.slots[i].Item
			if it == nil || !compatible(it, itemID, metadata) || it.Quantity >= def.MaxStack {
				continue
			}
			take := min(def.MaxStack-it.Quantity, remaining)
			it.Quantity += take
			remaining -= take
			used = append(used, i)
		}
	}

	for i := range inv.slots {
		if remaining == 0 {
			break
		}
		if inv.slots[i].Item != nil {
			continue
		}
		take := min(def.MaxStack, remaining)
		inv.slots[i].Item = &ItemInstance{
			ItemID:     itemID,
			Quantity:   take,
			Metadata:   copyMetadata(metadata),
			InstanceID: uuid.NewString(),
		}
		remaining -= take
		used = append(used, i)
	}

	res := AddResult{Success: remaining == 0, RemainingQuantity: remaining, SlotsUsed: used}
	if remaining > 0 {
		res.Error = ErrMsgInventoryFull
	}
	return res
}

// RemoveItem removes quantity units of itemID, draining matching stacks in
// index order regardless of metadata.
//
// Postcondition: Success iff RemovedQuantity == quantity. When fewer units
// are held, every held unit is still removed and Error is "Not enough items".
func (inv *Inventory) RemoveItem(itemID string, quantity int) RemoveResult {
	if quantity <= 0 {
		return RemoveResult{SlotsModified: []int{}, Error: ErrMsgInvalidQuantity}
	}
	remaining := quantity
	modified := []int{}
	for i := range inv.slots {
		if remaining == 0 {
			break
		}
		it := inv.slots[i].Item
		if it == nil || it.ItemID != itemID {
			continue
		}
		take := min(it.Quantity, remaining)
		it.Quantity -= take
		remaining -= take
		if it.Quantity == 0 {
			inv.slots[i].Item = nil
		}
		modified = append(modified, i)
	}
	res := RemoveResult{
		Success:         remaining == 0,
		RemovedQuantity: quantity - remaining,
		SlotsModified:   modified,
	}
	if remaining > 0 {
		res.Error = ErrMsgNotEnoughItems
	}
	return res
}

// MoveItem moves the contents of slot from onto slot to. An empty target
// receives the item; a compatible stackable target absorbs as much as fits,
// leaving any overflow in the source; any other target swaps with the source.
//
// Postcondition: MoveItem(i, i) never changes state.
func (inv *Inventory) MoveItem(from, to int) MoveResult {
	if !validIndex(from) || !validIndex(to) {
		return MoveResult{Error: ErrMsgInvalidSlot}
	}
	if from == to {
		return MoveResult{Success: true}
	}
	src := inv.slots[from].Item
	if src == nil {
		return MoveResult{Error: ErrMsgEmptySource}
	}
	dst := inv.slots[to].Item
	switch {
	case dst == nil:
		inv.slots[to].Item, inv.slots[from].Item = src, nil
	case compatible(dst, src.ItemID, src.Metadata) && inv.stackable(src.ItemID):
		def, ok := inv.catalog.Definition(src.ItemID)
		if !ok {
			return MoveResult{Error: fmt.Sprintf("Unknown item: %s", src.ItemID)}
		}
		take := min(max(def.MaxStack-dst.Quantity, 0), src.Quantity)
		dst.Quantity += take
		src.Quantity -= take
		if src.Quantity == 0 {
			inv.slots[from].Item = nil
		}
	default:
		inv.slots[to].Item, inv.slots[from].Item = src, dst
	}
	return MoveResult{Success: true}
}

// stackable reports whether itemID is a known stackable item.
func (inv *Inventory) stackable(itemID string) bool {
	def, ok := inv.catalog.Definition(itemID)
	return ok && def.Stackable
}

// ItemCount returns the total quantity of itemID across all slots.
func (inv *Inventory) ItemCount(itemID string) int {
	total := 0
	for _, s := range inv.slots {
		if s.Item != nil && s.Item.ItemID == itemID {
			total += s.Item.Quantity
		}
	}
	return total
}

// HasItem reports whether at least quantity units of itemID are held.
func (inv *Inventory) HasItem(itemID string, quantity int) bool {
	return inv.ItemCount(itemID) >= quantity
}

// ConsumeItem removes one unit of a consumable item and applies its health
// restore, capped so the result never exceeds maxHealth.
//
// Postcondition: on Success one unit is removed even when HealthRestored is 0.
func (inv *Inventory) ConsumeItem(itemID string, currentHealth, maxHealth int) ConsumeResult {
	def, ok := inv.catalog.Definition(itemID)
	if !ok {
		return ConsumeResult{NewHealth: currentHealth, Error: fmt.Sprintf("Unknown item: %s", itemID)}
	}
	if !def.Consumable || def.ConsumeEffect == nil {
		return ConsumeResult{NewHealth: currentHealth, Error: ErrMsgNotConsumable}
	}
	if !inv.HasItem(itemID, 1) {
		return ConsumeResult{NewHealth: currentHealth, Error: ErrMsgItemNotOwned}
	}
	if rm := inv.RemoveItem(itemID, 1); !rm.Success {
		return ConsumeResult{NewHealth: currentHealth, Error: rm.Error}
	}
	restored := min(def.ConsumeEffect.HealthRestore, max(maxHealth-currentHealth, 0))
	return ConsumeResult{
		Success:        true,
		HealthRestored: restored,
		NewHealth:      currentHealth + restored,
	}
}

// Validate checks every occupied slot against the catalog.
//
// Postcondition: IsValid iff Errors is empty.
func (inv *Inventory) Validate() ValidationResult {
	errs := []string{}
	for i, s := range inv.slots {
		it := s.Item
		if it == nil {
			continue
		}
		def, ok := inv.catalog.Definition(it.ItemID)
		if !ok {
			errs = append(errs, fmt.Sprintf("slot %d: unknown item %q", i, it.ItemID))
			continue
		}
		if it.Quantity <= 0 {
			errs = append(errs, fmt.Sprintf("slot %d: quantity %d must be positive", i, it.Quantity))
		}
		if it.Quantity > def.MaxStack {
			errs = append(errs, fmt.Sprintf("slot %d: quantity %d exceeds max stack %d", i, it.Quantity, def.MaxStack))
		}
		if !def.Stackable && it.Quantity != 1 {
			errs = append(errs, fmt.Sprintf("slot %d: non-stackable %q has quantity %d", i, it.ItemID, it.Quantity))
		}
	}
	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

// Slot returns a copy of the slot at index.
func (inv *Inventory) Slot(index int) (Slot, error) {
	if !validIndex(index) {
		return Slot{}, fmt.Errorf("%w: %d", ErrSlotOutOfRange, index)
	}
	s := inv.slots[index]
	return Slot{Index: s.Index, Item: s.Item.clone()}, nil
}

// Slots returns a deep copy of all SlotCount slots.
func (inv *Inventory) Slots() []Slot {
	out := make([]Slot, SlotCount)
	for i, s := range inv.slots {
		out[i] = Slot{Index: i, Item: s.Item.clone()}
	}
	return out
}

// OccupiedSlots returns deep copies of the non-empty slots in index order.
func (inv *Inventory) OccupiedSlots() []Slot {
	var out []Slot
	for i, s := range inv.slots {
		if s.Item != nil {
			out = append(out, Slot{Index: i, Item: s.Item.clone()})
		}
	}
	return out
}

// IsEmpty reports whether every slot is empty.
func (inv *Inventory) IsEmpty() bool {
	for _, s := range inv.slots {
		if s.Item != nil {
			return false
		}
	}
	return true
}

// Clear empties every slot.
func (inv *Inventory) Clear() {
	for i := range inv.slots {
		inv.slots[i].Item = nil
	}
}

func validIndex(i int) bool {
	return i >= 0 && i < SlotCount
}

// compatible reports whether it may stack with an item of itemID carrying
// metadata: same id and deep-equal metadata, with nil and empty treated alike.
func compatible(it *ItemInstance, itemID string, metadata map[string]any) bool {
	if it.ItemID != itemID {
		return false
	}
	if len(it.Metadata) == 0 && len(metadata) == 0 {
		return true
	}
	return reflect.DeepEqual(it.Metadata, metadata)
}

func copyMetadata(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
