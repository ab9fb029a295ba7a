package inventory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/grove/internal/game/inventory"
	"github.com/cory-johannsen/grove/internal/game/item"
)

func catalog(t testing.TB) *item.Catalog {
	t.Helper()
	c, err := item.DefaultCatalog()
	require.NoError(t, err)
	return c
}

func newInventory(t testing.TB) *inventory.Inventory {
	return inventory.New(catalog(t))
}

func TestNew_IsEmpty(t *testing.T) {
	inv := newInventory(t)
	assert.True(t, inv.IsEmpty())
	slots := inv.Slots()
	require.Len(t, slots, inventory.SlotCount)
	for i, s := range slots {
		assert.Equal(t, i, s.Index)
		assert.Nil(t, s.Item)
	}
}

func TestAddItem_StacksIntoExistingSlot(t *testing.T) {
	inv := newInventory(t)
	r1 := inv.AddItem("berry_blueberry", 10, nil)
	require.True(t, r1.Success)
	assert.Equal(t, []int{0}, r1.SlotsUsed)

	r2 := inv.AddItem("berry_blueberry", 5, nil)
	require.True(t, r2.Success)
	assert.Equal(t, []int{0}, r2.SlotsUsed)
	assert.Equal(t, 15, inv.ItemCount("berry_blueberry"))
	assert.Len(t, inv.OccupiedSlots(), 1)
}

func TestAddItem_SplitsAcrossStacks(t *testing.T) {
	inv := newInventory(t)
	res := inv.AddItem("berry_blueberry", 250, nil)
	require.True(t, res.Success)
	assert.Equal(t, []int{0, 1, 2}, res.SlotsUsed)
	occ := inv.OccupiedSlots()
	require.Len(t, occ, 3)
	assert.Equal(t, 99, occ[0].Item.Quantity)
	assert.Equal(t, 99, occ[1].Item.Quantity)
	assert.Equal(t, 52, occ[2].Item.Quantity)
}

func TestAddItem_TopsUpBeforeFillingEmptySlots(t *testing.T) {
	inv := newInventory(t)
	inv.AddItem("stone", 1, nil)
	inv.AddItem("berry_blueberry", 98, nil)
	inv.AddItem("berry_blueberry", 99, nil)

	res := inv.AddItem("berry_blueberry", 3, nil)
	require.True(t, res.Success)
	assert.Equal(t, []int{2, 3}, res.SlotsUsed)
}

func TestAddItem_MetadataSeparatesStacks(t *testing.T) {
	inv := newInventory(t)
	inv.AddItem("stick", 2, map[string]any{"quality": "fine"})
	inv.AddItem("stick", 3, map[string]any{"quality": "poor"})
	inv.AddItem("stick", 1, map[string]any{"quality": "fine"})
	inv.AddItem("stick", 1, map[string]any{})
	inv.AddItem("stick", 1, nil)

	occ := inv.OccupiedSlots()
	require.Len(t, occ, 3)
	assert.Equal(t, 3, occ[0].Item.Quantity)
	assert.Equal(t, 3, occ[1].Item.Quantity)
	assert.Equal(t, 2, occ[2].Item.Quantity, "nil and empty metadata stack together")
	assert.Equal(t, 8, inv.ItemCount("stick"))
}

func TestAddItem_NonStackableUsesOneSlotEach(t *testing.T) {
	inv := newInventory(t)
	res := inv.AddItem("wooden_sword", 3, nil)
	require.True(t, res.Success)
	assert.Equal(t, []int{0, 1, 2}, res.SlotsUsed)
	for _, s := range inv.OccupiedSlots() {
		assert.Equal(t, 1, s.Item.Quantity)
		assert.NotEmpty(t, s.Item.InstanceID)
	}
}

func TestAddItem_UnknownItem(t *testing.T) {
	inv := newInventory(t)
	res := inv.AddItem("nope", 1, nil)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.RemainingQuantity)
	assert.True(t, inv.IsEmpty())
}

func TestAddItem_InventoryFull(t *testing.T) {
	inv := newInventory(t)
	res := inv.AddItem("wooden_sword", inventory.SlotCount+2, nil)
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.RemainingQuantity)
	assert.Equal(t, inventory.ErrMsgInventoryFull, res.Error)
	assert.Equal(t, inventory.SlotCount, inv.ItemCount("wooden_sword"))
}

func TestRemoveItem_AcrossStacks(t *testing.T) {
	inv := newInventory(t)
	inv.AddItem("berry_blueberry", 150, nil)
	res := inv.RemoveItem("berry_blueberry", 120)
	require.True(t, res.Success)
	assert.Equal(t, 120, res.RemovedQuantity)
	assert.Equal(t, []int{0, 1}, res.SlotsModified)
	assert.Equal(t, 30, inv.ItemCount("berry_blueberry"))
	s0, err := inv.Slot(0)
	require.NoError(t, err)
	assert.Nil(t, s0.Item)
}

func TestRemoveItem_PartialRemovalStillReportsFailure(t *testing.T) {
	inv := newInventory(t)
	inv.AddItem("stone", 4, nil)
	res := inv.RemoveItem("stone", 10)
	assert.False(t, res.Success)
	assert.Equal(t, 4, res.RemovedQuantity)
	assert.Equal(t, inventory.ErrMsgNotEnoughItems, res.Error)
	assert.Zero(t, inv.ItemCount("stone"), "available units are consumed even on failure")
}

func TestMoveItem_ToEmptySlot(t *testing.T) {
	inv := newInventory(t)
	inv.AddItem("stone", 5, nil)
	res := inv.MoveItem(0, 10)
	require.True(t, res.Success)
	s0, _ := inv.Slot(0)
	s10, _ := inv.Slot(10)
	assert.Nil(t, s0.Item)
	require.NotNil(t, s10.Item)
	assert.Equal(t, 5, s10.Item.Quantity)
}

func TestMoveItem_MergeWithOverflow(t *testing.T) {
	inv := newInventory(t)
	inv.AddItem("berry_blueberry", 99+60, nil)
	require.True(t, inv.MoveItem(0, 1).Success)
	// Slot 1 absorbs 39; slot 0 keeps the rest.
	s0, _ := inv.Slot(0)
	s1, _ := inv.Slot(1)
	assert.Equal(t, 60, s0.Item.Quantity)
	assert.Equal(t, 99, s1.Item.Quantity)
}

func TestMoveItem_MergeEmptiesSource(t *testing.T) {
	inv := newInventory(t)
	inv.AddItem("stone", 5, nil)
	require.True(t, inv.MoveItem(0, 4).Success)
	inv.AddItem("stick", 1, nil)
	// Tops slot 4 up to 50 and puts the other 5 into slot 1.
	inv.AddItem("stone", 50, nil)
	require.True(t, inv.MoveItem(4, 1).Success)
	s1, _ := inv.Slot(1)
	s4, _ := inv.Slot(4)
	assert.Equal(t, 50, s1.Item.Quantity)
	assert.Equal(t, 5, s4.Item.Quantity)

	require.True(t, inv.MoveItem(4, 2).Success)
	inv.RemoveItem("stone", 45)
	require.True(t, inv.MoveItem(2, 1).Success)
	s1, _ = inv.Slot(1)
	s2, _ := inv.Slot(2)
	assert.Equal(t, 10, s1.Item.Quantity)
	assert.Nil(t, s2.Item, "fully merged source is emptied")
}

func TestMoveItem_SwapsNonStackableTwins(t *testing.T) {
	inv := newInventory(t)
	require.True(t, inv.AddItem("wooden_sword", 2, nil).Success)
	before0, _ := inv.Slot(0)
	before1, _ := inv.Slot(1)
	id0, id1 := before0.Item.InstanceID, before1.Item.InstanceID

	require.True(t, inv.MoveItem(0, 1).Success)
	s0, _ := inv.Slot(0)
	s1, _ := inv.Slot(1)
	require.NotNil(t, s0.Item)
	require.NotNil(t, s1.Item)
	assert.Equal(t, id1, s0.Item.InstanceID)
	assert.Equal(t, id0, s1.Item.InstanceID)
	assert.Equal(t, 1, s0.Item.Quantity)
	assert.Equal(t, 1, s1.Item.Quantity)
}

func TestMoveItem_SwapsIncompatible(t *testing.T) {
	inv := newInventory(t)
	inv.AddItem("stone", 5, nil)
	inv.AddItem("stick", 2, nil)
	require.True(t, inv.MoveItem(0, 1).Success)
	s0, _ := inv.Slot(0)
	s1, _ := inv.Slot(1)
	assert.Equal(t, "stick", s0.Item.ItemID)
	assert.Equal(t, "stone", s1.Item.ItemID)
}

func TestMoveItem_InvalidIndex(t *testing.T) {
	inv := newInventory(t)
	for _, pair := range [][2]int{{-1, 0}, {0, inventory.SlotCount}, {100, 3}} {
		res := inv.MoveItem(pair[0], pair[1])
		assert.False(t, res.Success)
		assert.Equal(t, inventory.ErrMsgInvalidSlot, res.Error)
	}
	_, err := inv.Slot(inventory.SlotCount)
	assert.ErrorIs(t, err, inventory.ErrSlotOutOfRange)
}

func TestMoveItem_EmptySource(t *testing.T) {
	inv := newInventory(t)
	res := inv.MoveItem(3, 4)
	assert.False(t, res.Success)
	assert.Equal(t, inventory.ErrMsgEmptySource, res.Error)
}

func TestConsumeItem_AtFullHealth(t *testing.T) {
	inv := newInventory(t)
	inv.AddItem("berry_blueberry", 2, nil)
	res := inv.ConsumeItem("berry_blueberry", 100, 100)
	require.True(t, res.Success)
	assert.Equal(t, 0, res.HealthRestored)
	assert.Equal(t, 100, res.NewHealth)
	assert.Equal(t, 1, inv.ItemCount("berry_blueberry"), "item is still removed")
}

func TestConsumeItem_BelowMax(t *testing.T) {
	inv := newInventory(t)
	inv.AddItem("berry_blueberry", 1, nil)
	res := inv.ConsumeItem("berry_blueberry", 90, 100)
	require.True(t, res.Success)
	assert.Equal(t, 5, res.HealthRestored)
	assert.Equal(t, 95, res.NewHealth)
	assert.Zero(t, inv.ItemCount("berry_blueberry"))
}

func TestConsumeItem_CapsAtMax(t *testing.T) {
	inv := newInventory(t)
	inv.AddItem("berry_goldberry", 1, nil)
	res := inv.ConsumeItem("berry_goldberry", 25, 30)
	require.True(t, res.Success)
	assert.Equal(t, 5, res.HealthRestored)
	assert.Equal(t, 30, res.NewHealth)
}

func TestConsumeItem_Failures(t *testing.T) {
	inv := newInventory(t)
	inv.AddItem("stone", 1, nil)

	res := inv.ConsumeItem("stone", 10, 30)
	assert.False(t, res.Success)
	assert.Equal(t, inventory.ErrMsgNotConsumable, res.Error)

	res = inv.ConsumeItem("berry_strawberry", 10, 30)
	assert.False(t, res.Success)
	assert.Equal(t, inventory.ErrMsgItemNotOwned, res.Error)
	assert.Equal(t, 10, res.NewHealth)
}

func TestValidate_DetectsCorruption(t *testing.T) {
	c := catalog(t)
	inv, err := inventory.Restore(c, []byte(`[
		{"index": 0, "item": {"itemId": "ghost", "quantity": 1}},
		{"index": 1, "item": {"itemId": "berry_blueberry", "quantity": 120}},
		{"index": 2, "item": {"itemId": "wooden_sword", "quantity": 2}},
		{"index": 3, "item": {"itemId": "stone", "quantity": 0}},
		{"index": 4, "item": {"itemId": "stick", "quantity": 3}}
	]`))
	require.NoError(t, err)
	res := inv.Validate()
	assert.False(t, res.IsValid)
	assert.Len(t, res.Errors, 5, "ghost, overstack, two for the sword, zero quantity")
}

func TestValidate_Clean(t *testing.T) {
	inv := newInventory(t)
	inv.AddItem("berry_blueberry", 200, nil)
	inv.AddItem("wooden_sword", 1, nil)
	res := inv.Validate()
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Errors)
}

func TestClear(t *testing.T) {
	inv := newInventory(t)
	inv.AddItem("stone", 3, nil)
	inv.Clear()
	assert.True(t, inv.IsEmpty())
}

func TestSlots_AreCopies(t *testing.T) {
	inv := newInventory(t)
	inv.AddItem("stone", 3, nil)
	slots := inv.Slots()
	slots[0].Item.Quantity = 50
	assert.Equal(t, 3, inv.ItemCount("stone"))
}

// Property-based tests

func TestPropertyStackingPreservesCount(t *testing.T) {
	c := catalog(t)
	rapid.Check(t, func(rt *rapid.T) {
		inv := inventory.New(c)
		total := 0
		limit := inventory.SlotCount * 99
		adds := rapid.SliceOfN(rapid.IntRange(1, 300), 1, 30).Draw(rt, "adds")
		for _, q := range adds {
			if total+q > limit {
				break
			}
			res := inv.AddItem("berry_blueberry", q, nil)
			if !res.Success {
				rt.Fatalf("add of %d failed with %d held", q, total)
			}
			total += q
		}
		if got := inv.ItemCount("berry_blueberry"); got != total {
			rt.Fatalf("count %d, want %d", got, total)
		}
		for _, s := range inv.OccupiedSlots() {
			if s.Item.Quantity > 99 {
				rt.Fatalf("slot %d holds %d > max stack", s.Index, s.Item.Quantity)
			}
		}
	})
}

func TestPropertyOverflowReportsRemainder(t *testing.T) {
	c := catalog(t)
	rapid.Check(t, func(rt *rapid.T) {
		inv := inventory.New(c)
		prefill := rapid.IntRange(0, inventory.SlotCount).Draw(rt, "prefill")
		if prefill > 0 {
			inv.AddItem("wooden_sword", prefill, nil)
		}
		capacity := (inventory.SlotCount - prefill) * 99
		requested := capacity + rapid.IntRange(1, 500).Draw(rt, "excess")

		res := inv.AddItem("berry_blueberry", requested, nil)
		placed := inv.ItemCount("berry_blueberry")
		if res.Success {
			rt.Fatal("overflowing add reported success")
		}
		if res.RemainingQuantity != requested-placed {
			rt.Fatalf("remaining %d, want %d", res.RemainingQuantity, requested-placed)
		}
	})
}

func TestPropertyMoveSameSlotIsNoop(t *testing.T) {
	c := catalog(t)
	rapid.Check(t, func(rt *rapid.T) {
		inv := inventory.New(c)
		inv.AddItem("berry_blueberry", rapid.IntRange(1, 500).Draw(rt, "berries"), nil)
		inv.AddItem("wooden_sword", rapid.IntRange(0, 3).Draw(rt, "swords"), nil)
		before := inv.Slots()
		i := rapid.IntRange(0, inventory.SlotCount-1).Draw(rt, "slot")

		res := inv.MoveItem(i, i)
		if !res.Success {
			rt.Fatalf("same-slot move failed: %s", res.Error)
		}
		assert.Equal(rt, before, inv.Slots())
	})
}

func TestPropertyMoveSwapsIncompatible(t *testing.T) {
	c := catalog(t)
	rapid.Check(t, func(rt *rapid.T) {
		inv := inventory.New(c)
		inv.AddItem("stone", rapid.IntRange(1, 50).Draw(rt, "stones"), nil)
		inv.AddItem("stick", rapid.IntRange(1, 50).Draw(rt, "sticks"), nil)
		i := rapid.IntRange(2, inventory.SlotCount-1).Draw(rt, "i")
		j := rapid.IntRange(2, inventory.SlotCount-1).Filter(func(v int) bool { return v != i }).Draw(rt, "j")
		require.True(rt, inv.MoveItem(0, i).Success)
		require.True(rt, inv.MoveItem(1, j).Success)

		a, _ := inv.Slot(i)
		b, _ := inv.Slot(j)
		require.True(rt, inv.MoveItem(i, j).Success)
		a2, _ := inv.Slot(j)
		b2, _ := inv.Slot(i)
		assert.Equal(rt, a.Item, a2.Item)
		assert.Equal(rt, b.Item, b2.Item)
	})
}
