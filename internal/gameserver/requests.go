package gameserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/cory-johannsen/grove/internal/game/inventory"
	"github.com/cory-johannsen/grove/internal/game/item"
	"github.com/cory-johannsen/grove/internal/game/session"
)

// Inbound action names.
const (
	ActionConnect           = "connectToChatRoom"
	ActionSendUpdate        = "sendUpdate"
	ActionStartHarvest      = "startHarvest"
	ActionCompleteHarvest   = "completeHarvest"
	ActionCancelHarvest     = "cancelHarvest"
	ActionConsumeBerry      = "consumeBerry"
	ActionDropItem          = "dropItem"
	ActionPickupItem        = "pickupItem"
	ActionMoveItem          = "moveItem"
	ActionValidateInventory = "validateInventory"
	ActionRequestInventory  = "requestInventorySync"
	ActionValidateGameState = "validateGameState"
)

// Metric labels for messages that never reach a handler.
const (
	actionLabelMalformed = "malformed"
	actionLabelUnknown   = "unknown"
)

// errMalformed wraps every decode or validation failure.
var errMalformed = errors.New("malformed request")

type envelope struct {
	Action string `json:"action"`
}

type roomRequest struct {
	ChatRoomID string `json:"chatRoomId" validate:"required,max=128"`
}

type updateMessage struct {
	Position        *session.Vector3 `json:"position" validate:"required"`
	Rotation        *session.Vector3 `json:"rotation"`
	AttackingPlayer string           `json:"attackingPlayer" validate:"max=128"`
}

type sendUpdateRequest struct {
	ChatRoomID  string          `json:"chatRoomId" validate:"required,max=128"`
	Message     json.RawMessage `json:"message" validate:"required"`
	Connections []string        `json:"connections" validate:"dive,required,max=128"`
}

type startHarvestRequest struct {
	ChatRoomID string `json:"chatRoomId" validate:"required,max=128"`
	TreeID     string `json:"treeId" validate:"required,max=128"`
	BerryType  string `json:"berryType" validate:"required,berry"`
}

type harvestRequest struct {
	ChatRoomID string `json:"chatRoomId" validate:"required,max=128"`
	TreeID     string `json:"treeId" validate:"required,max=128"`
}

type consumeBerryRequest struct {
	ChatRoomID string `json:"chatRoomId" validate:"required,max=128"`
	BerryType  string `json:"berryType" validate:"required,berry"`
}

type dropItemRequest struct {
	ChatRoomID string `json:"chatRoomId" validate:"required,max=128"`
	ItemID     string `json:"itemId" validate:"required,max=128"`
	Quantity   int    `json:"quantity" validate:"min=1,max=10000"`
}

type pickupItemRequest struct {
	ChatRoomID   string `json:"chatRoomId" validate:"required,max=128"`
	GroundItemID string `json:"groundItemId" validate:"required,max=128"`
}

type moveItemRequest struct {
	ChatRoomID string `json:"chatRoomId" validate:"required,max=128"`
	FromSlot   *int   `json:"fromSlot" validate:"required,min=0"`
	ToSlot     *int   `json:"toSlot" validate:"required,min=0"`
}

// newValidator builds the request validator with the "berry" tag, which
// accepts legacy berry names and canonical berry item ids.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("berry", func(fl validator.FieldLevel) bool {
		_, ok := item.CanonicalBerryItem(fl.Field().String())
		return ok
	})
	return v
}

// decode unmarshals raw into req and validates it.
//
// Postcondition: any failure wraps errMalformed.
func decode(v *validator.Validate, raw []byte, req any) error {
	if err := json.Unmarshal(raw, req); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if err := v.Struct(req); err != nil {
		return fmt.Errorf("%w: %s", errMalformed, describeValidation(err))
	}
	return nil
}

// describeValidation flattens validator errors into "field:tag" pairs so
// struct names never reach a log line or a client.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, e := range verrs {
		parts = append(parts, strings.ToLower(e.Field())+":"+e.Tag())
	}
	return strings.Join(parts, ",")
}

func validSlot(i int) bool {
	return i >= 0 && i < inventory.SlotCount
}
