// Package items implements C10, the Item Tracker: model-assisted item
// name normalization and type classification layered over the State
// Ledger's inventory map.
package items

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/raglab/ragserver/internal/cache"
	"github.com/raglab/ragserver/internal/models/chat"
	"github.com/raglab/ragserver/internal/state"
	"github.com/raglab/ragserver/internal/types"
)

const inventoryKey = "inventory"

// Tracker is C10's entry point.
type Tracker struct {
	ledger *state.Ledger
	chat   chat.Client
	cache  *cache.LRU
}

func New(ledger *state.Ledger, chatClient chat.Client, normalizationCache *cache.LRU) *Tracker {
	return &Tracker{ledger: ledger, chat: chatClient, cache: normalizationCache}
}

type normalization struct {
	CanonicalName string         `json:"canonical_name"`
	ItemType      types.ItemType `json:"item_type"`
}

const normalizePrompt = `Normalize the item name to its canonical singular form and classify
its type. Respond with JSON only: {"canonical_name": string, "item_type":
"currency|misc|weapon|consumable"}. Examples: "gold coins"/"gp"/"coins" ->
{"canonical_name":"gold","item_type":"currency"}.`

// Normalize resolves raw (plural/typo/slang) item text to its canonical
// name and type, consulting and populating a per-input cache.
func (t *Tracker) Normalize(ctx context.Context, raw string) (normalization, error) {
	key := cache.SanitizedQueryKey("item:" + strings.ToLower(strings.TrimSpace(raw)))
	if t.cache != nil {
		if cached, ok := t.cache.Get(key); ok {
			if n, ok := cached.(normalization); ok {
				return n, nil
			}
		}
	}

	n, err := t.normalizeViaModel(ctx, raw)
	if err != nil {
		n = ruleNormalize(raw)
	}
	if t.cache != nil {
		t.cache.Set(key, n)
	}
	return n, nil
}

func (t *Tracker) normalizeViaModel(ctx context.Context, raw string) (normalization, error) {
	if t.chat == nil {
		return normalization{}, types.NewError(types.ErrBackendUnavailable, "no chat client configured")
	}
	resp, err := t.chat.Chat(ctx, []chat.Message{
		{Role: "system", Content: normalizePrompt},
		{Role: "user", Content: raw},
	}, &chat.ChatOptions{Temperature: 0.1, MaxTokens: 60})
	if err != nil {
		return normalization{}, err
	}
	var n normalization
	candidate := strings.TrimSpace(resp.Content)
	if start := strings.Index(candidate, "{"); start >= 0 {
		if end := strings.LastIndex(candidate, "}"); end > start {
			candidate = candidate[start : end+1]
		}
	}
	if err := json.Unmarshal([]byte(candidate), &n); err != nil || n.CanonicalName == "" {
		return normalization{}, types.NewError(types.ErrParseFailure, "item normalization response did not parse")
	}
	return n, nil
}

// ruleNormalize is the deterministic fallback: lowercase, strip a
// trailing plural "s", default to misc.
func ruleNormalize(raw string) normalization {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = strings.TrimSuffix(name, "s")
	itemType := types.ItemMisc
	switch name {
	case "gold", "gp", "coin", "silver", "copper":
		itemType = types.ItemCurrency
		if name == "gp" || name == "coin" {
			name = "gold"
		}
	}
	if name == "" {
		name = "item"
	}
	return normalization{CanonicalName: name, ItemType: itemType}
}

// AddToInventory normalizes itemText then credits qty to owner's
// inventory, returning the canonical name used.
func (t *Tracker) AddToInventory(ctx context.Context, ownerID, itemText string, qty float64, actor, channelID, reason string) (string, error) {
	n, err := t.Normalize(ctx, itemText)
	if err != nil {
		return "", err
	}
	if err := t.ledger.AddToInventory(ctx, ownerID, inventoryKey, n.CanonicalName, qty, actor, channelID, reason); err != nil {
		return "", err
	}
	return n.CanonicalName, nil
}

// Quantity returns the current quantity of a normalized item for owner.
func (t *Tracker) Quantity(ctx context.Context, ownerID, itemText string) (string, float64, error) {
	n, err := t.Normalize(ctx, itemText)
	if err != nil {
		return "", 0, err
	}
	entries, err := t.ledger.GetAll(ctx, ownerID)
	if err != nil {
		return n.CanonicalName, 0, err
	}
	for _, e := range entries {
		if e.Key == inventoryKey && e.Kind == types.StateValueInventory {
			return n.CanonicalName, e.Map[n.CanonicalName], nil
		}
	}
	return n.CanonicalName, 0, nil
}

// TransferItem checks the source owner has at least qty of the
// normalized item, then moves it, returning the canonical name used.
func (t *Tracker) TransferItem(ctx context.Context, fromID, toID, itemText string, qty float64, actor, channelID, reason string) (string, error) {
	name, have, err := t.Quantity(ctx, fromID, itemText)
	if err != nil {
		return "", err
	}
	if have < qty {
		return name, types.ErrSourceInsufficient
	}
	if err := t.ledger.AddToInventory(ctx, fromID, inventoryKey, name, -qty, actor, channelID, reason); err != nil {
		return name, err
	}
	if err := t.ledger.AddToInventory(ctx, toID, inventoryKey, name, qty, actor, channelID, reason); err != nil {
		// Roll back the source decrement.
		_ = t.ledger.AddToInventory(ctx, fromID, inventoryKey, name, qty, actor, channelID, fmt.Sprintf("rollback: %s", reason))
		return name, err
	}
	return name, nil
}
