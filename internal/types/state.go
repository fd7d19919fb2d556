package types

import "time"

// StateValueKind discriminates a StateEntry's value shape: a bare number
// (gold, level) or a nested inventory map.
type StateValueKind string

const (
	StateValueNumber    StateValueKind = "number"
	StateValueInventory StateValueKind = "inventory"
)

// StateEntry is a (user_id, key) -> value mapping. For any (user, key) at
// most one StateEntry exists.
type StateEntry struct {
	UserID string         `json:"user_id"`
	Key    string         `json:"key"`
	Kind   StateValueKind `json:"kind"`
	Number float64        `json:"number,omitempty"`
	Map    map[string]float64 `json:"map,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// AuditRecord is written for every State Ledger write: (timestamp, actor,
// channel, reason).
type AuditRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	UserID    string    `json:"user_id"`
	Key       string    `json:"key"`
	ChannelID string    `json:"channel_id,omitempty"`
	Reason    string    `json:"reason"`
	Delta     float64   `json:"delta,omitempty"`
}

// ItemType classifies a TrackedItem.
type ItemType string

const (
	ItemCurrency   ItemType = "currency"
	ItemMisc       ItemType = "misc"
	ItemWeapon     ItemType = "weapon"
	ItemConsumable ItemType = "consumable"
)

// TrackedItem is a model-normalized item name, owner id, quantity, and
// arbitrary property map. The canonical key is the normalized name.
type TrackedItem struct {
	OwnerID    string            `json:"owner_id"`
	Name       string            `json:"name"`
	Quantity   float64           `json:"quantity"`
	Type       ItemType          `json:"item_type"`
	Properties map[string]string `json:"properties,omitempty"`
}
