// Package event defines the outbound messages pushed to clients. Every
// message carries a "type" tag naming it.
package event

import (
	"encoding/json"

	"github.com/cory-johannsen/grove/internal/game/floor"
	"github.com/cory-johannsen/grove/internal/game/session"
)

// Message type tags.
const (
	TypeConnected           = "connected"
	TypePlayerLeft          = "playerLeft"
	TypeUpdate              = "update"
	TypePositionCorrection  = "positionCorrection"
	TypePlayerDeath         = "playerDeath"
	TypePlayerRespawn       = "playerRespawn"
	TypeGroundItemCreated   = "groundItemCreated"
	TypeGroundItemUpdated   = "groundItemUpdated"
	TypeGroundItemRemoved   = "groundItemRemoved"
	TypeGroundItemsSync     = "groundItemsSync"
	TypeHarvestStarted      = "harvestStarted"
	TypeHarvestCompleted    = "harvestCompleted"
	TypeHarvestCancelled    = "harvestCancelled"
	TypeBerryConsumed       = "berryConsumed"
	TypeHealthUpdate        = "healthUpdate"
	TypeInventorySync       = "inventorySync"
	TypeInventoryValidation = "inventoryValidation"
	TypeGameStateValidation = "gameStateValidation"
	TypeActionError         = "actionError"
)

// Connected answers connectToChatRoom.
type Connected struct {
	Type         string   `json:"type"`
	ConnectionID string   `json:"connectionId"`
	RoomID       string   `json:"roomId"`
	Connections  []string `json:"connections"`
}

// PlayerLeft tells a room a connection has gone.
type PlayerLeft struct {
	Type     string `json:"type"`
	PlayerID string `json:"playerId"`
}

// DamageGiven is the attack outcome merged into an update broadcast.
type DamageGiven struct {
	TargetID          string `json:"targetId"`
	Damage            int    `json:"damage"`
	AttackAllowed     bool   `json:"attackAllowed"`
	CooldownRemaining int64  `json:"cooldownRemaining,omitempty"`
	NewHealth         *int   `json:"newHealth,omitempty"`
	Died              bool   `json:"died,omitempty"`
}

// Update relays one player's validated state to the others.
type Update struct {
	Type         string          `json:"type"`
	ConnectionID string          `json:"connectionId"`
	Message      json.RawMessage `json:"message"`
	DamageGiven  *DamageGiven    `json:"damageGiven,omitempty"`
}

// PositionCorrection tells the sender where the server placed it.
type PositionCorrection struct {
	Type             string          `json:"type"`
	Position         session.Vector3 `json:"position"`
	Reason           string          `json:"reason"`
	BanTimeRemaining int64           `json:"banTimeRemaining,omitempty"`
}

// PlayerDeath announces a death and what was dropped.
type PlayerDeath struct {
	Type            string             `json:"type"`
	PlayerID        string             `json:"playerId"`
	KillerID        string             `json:"killerId,omitempty"`
	RespawnPosition session.Vector3    `json:"respawnPosition"`
	DroppedItems    []floor.GroundItem `json:"droppedItems"`
}

// PlayerRespawn announces a respawned player's fresh state.
type PlayerRespawn struct {
	Type     string          `json:"type"`
	PlayerID string          `json:"playerId"`
	Health   int             `json:"health"`
	Position session.Vector3 `json:"position"`
}

// GroundItemCreated announces a new ground item.
type GroundItemCreated struct {
	Type       string           `json:"type"`
	GroundItem floor.GroundItem `json:"groundItem"`
}

// GroundItemUpdated announces a ground item whose quantity changed.
type GroundItemUpdated struct {
	Type       string           `json:"type"`
	GroundItem floor.GroundItem `json:"groundItem"`
}

// GroundItemRemoved announces a ground item was picked up.
type GroundItemRemoved struct {
	Type         string `json:"type"`
	GroundItemID string `json:"groundItemId"`
	PickedUpBy   string `json:"pickedUpBy"`
}

// GroundItemsSync lists a room's ground items to a joining player.
type GroundItemsSync struct {
	Type        string             `json:"type"`
	GroundItems []floor.GroundItem `json:"groundItems"`
}

// HarvestStarted announces a harvest in progress.
type HarvestStarted struct {
	Type      string `json:"type"`
	TreeID    string `json:"treeId"`
	PlayerID  string `json:"playerId"`
	BerryType string `json:"berryType"`
	StartTime int64  `json:"startTime"`
	Duration  int64  `json:"duration"`
}

// HarvestCompleted announces a finished harvest.
type HarvestCompleted struct {
	Type      string `json:"type"`
	TreeID    string `json:"treeId"`
	PlayerID  string `json:"playerId"`
	BerryType string `json:"berryType"`
	ItemID    string `json:"itemId"`
	Added     bool   `json:"added"`
}

// HarvestCancelled announces a cancelled harvest.
type HarvestCancelled struct {
	Type     string `json:"type"`
	TreeID   string `json:"treeId"`
	PlayerID string `json:"playerId"`
}

// BerryConsumed answers consumeBerry to the eater.
type BerryConsumed struct {
	Type           string          `json:"type"`
	ItemID         string          `json:"itemId"`
	HealthRestored int             `json:"healthRestored"`
	Health         int             `json:"health"`
	Inventory      json.RawMessage `json:"inventory"`
}

// HealthUpdate tells others a player's health changed.
type HealthUpdate struct {
	Type     string `json:"type"`
	PlayerID string `json:"playerId"`
	Health   int    `json:"health"`
}

// InventorySync sends a player its inventory and health.
type InventorySync struct {
	Type      string          `json:"type"`
	Inventory json.RawMessage `json:"inventory"`
	Health    int             `json:"health"`
	MaxHealth int             `json:"maxHealth"`
}

// InventoryValidation answers validateInventory.
type InventoryValidation struct {
	Type      string          `json:"type"`
	IsValid   bool            `json:"isValid"`
	Errors    []string        `json:"errors"`
	Inventory json.RawMessage `json:"inventory"`
}

// GameStateValidation answers validateGameState.
type GameStateValidation struct {
	Type      string          `json:"type"`
	Health    int             `json:"health"`
	MaxHealth int             `json:"maxHealth"`
	Position  session.Vector3 `json:"position"`
	Inventory json.RawMessage `json:"inventory"`
	Banned    bool            `json:"banned"`
}

// ActionError tells the sender an action was rejected.
type ActionError struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Error  string `json:"error"`
}
