// Package statehandler implements C12, the State-Query and State-Set
// handlers: template-matched fast paths over the State Ledger (C9) and
// Item Tracker (C10) that short-circuit the orchestrator before
// retrieval runs.
package statehandler

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/raglab/ragserver/internal/state"
	"github.com/raglab/ragserver/internal/state/items"
	"github.com/raglab/ragserver/internal/types"
)

const goldKey = "gold"

var (
	queryTemplateRe = regexp.MustCompile(`(?i)\bhow (?:many|much)\b\s*(.*?)\s*\b(?:does|do|did)\b\s*(.*?)\s*\bhave\b(?:\s+(.*))?|` +
		`\bwhat(?:'s| is)\b\s*(.*?)'?s?\s+inventory\b`)
	possessiveRe   = regexp.MustCompile(`(?i)(.+?)'s\s+(.+)`)
	mentionDigitRe = regexp.MustCompile(`<@!?(\d+)>`)
	mentionNameRe  = regexp.MustCompile(`@([A-Za-z0-9_][A-Za-z0-9_-]{1,31})`)
	selfRe         = regexp.MustCompile(`(?i)\b(i|me|my)\b`)
	stateKeywordRe = regexp.MustCompile(`(?i)\b(gold|coins?|inventory|items?|have|own)\b`)

	setGoldRe = regexp.MustCompile(`(?i)\bi have\s+(\d+(?:\.\d+)?)\s+gold\b`)
	setKeepRe = regexp.MustCompile(`(?i)\bkeep track of me having\s+(\d+(?:\.\d+)?)\s+([a-z][a-z\s]{0,30})\b`)
)

// Handler is C12's entry point.
type Handler struct {
	ledger  *state.Ledger
	tracker *items.Tracker
}

func New(ledger *state.Ledger, tracker *items.Tracker) *Handler {
	return &Handler{ledger: ledger, tracker: tracker}
}

// QueryResult is non-nil when the query handler fired.
type QueryResult struct {
	Answer string
}

// SetResult is non-nil when the set handler fired.
type SetResult struct {
	Answer string
}

// TryQuery attempts to match utterance as a state question. Returns nil
// when it doesn't fire, letting the orchestrator fall through.
func (h *Handler) TryQuery(ctx context.Context, utterance, askingUserID, mentionedUserID string) (*QueryResult, error) {
	if !stateKeywordRe.MatchString(utterance) {
		return nil, nil
	}

	target := h.resolveTargetUser(utterance, askingUserID, mentionedUserID)
	if target == "" {
		return nil, nil
	}

	lower := strings.ToLower(utterance)
	if strings.Contains(lower, "gold") || strings.Contains(lower, "coin") {
		amount, err := h.ledger.Get(ctx, target, goldKey, 0)
		if err != nil {
			return nil, err
		}
		return &QueryResult{Answer: formatQuantity(amount, "gold", target == askingUserID)}, nil
	}

	if strings.Contains(lower, "inventory") {
		entries, err := h.ledger.GetAll(ctx, target)
		if err != nil {
			return nil, err
		}
		return &QueryResult{Answer: formatInventory(entries, target == askingUserID)}, nil
	}

	item := extractItemPhrase(utterance)
	if item == "" || h.tracker == nil {
		return nil, nil
	}
	name, qty, err := h.tracker.Quantity(ctx, target, item)
	if err != nil {
		return nil, err
	}
	return &QueryResult{Answer: formatQuantity(qty, name, target == askingUserID)}, nil
}

// TrySet attempts to match utterance as a state-setting statement ("I
// have 50 gold"). Returns nil when it doesn't fire.
func (h *Handler) TrySet(ctx context.Context, utterance, askingUserID, channelID string) (*SetResult, error) {
	if m := setGoldRe.FindStringSubmatch(utterance); m != nil {
		amount, _ := strconv.ParseFloat(m[1], 64)
		if err := h.ledger.Set(ctx, askingUserID, goldKey, amount, "state_set", channelID, "user-reported balance"); err != nil {
			return nil, err
		}
		return &SetResult{Answer: fmt.Sprintf("Got it, you now have %s gold.", trimNumber(amount))}, nil
	}

	if m := setKeepRe.FindStringSubmatch(utterance); m != nil {
		amount, _ := strconv.ParseFloat(m[1], 64)
		itemText := strings.TrimSpace(m[2])
		if h.tracker == nil {
			return nil, nil
		}
		name, err := h.tracker.AddToInventory(ctx, askingUserID, itemText, amount, "state_set", channelID, "user-reported inventory")
		if err != nil {
			return nil, err
		}
		return &SetResult{Answer: fmt.Sprintf("Noted, you have %s %s.", trimNumber(amount), name)}, nil
	}

	return nil, nil
}

func (h *Handler) resolveTargetUser(utterance, askingUserID, mentionedUserID string) string {
	if selfRe.MatchString(utterance) {
		return askingUserID
	}
	if mentionedUserID != "" {
		return mentionedUserID
	}
	if m := mentionDigitRe.FindStringSubmatch(utterance); m != nil {
		return m[1]
	}
	if m := mentionNameRe.FindStringSubmatch(utterance); m != nil {
		return m[1]
	}
	return askingUserID
}

func extractItemPhrase(utterance string) string {
	m := queryTemplateRe.FindStringSubmatch(utterance)
	if m == nil || len(m) < 4 {
		return ""
	}
	phrase := m[1]
	if strings.TrimSpace(phrase) == "" {
		phrase = m[3]
	}
	phrase = mentionNameRe.ReplaceAllString(phrase, "")
	phrase = mentionDigitRe.ReplaceAllString(phrase, "")
	return strings.TrimSpace(phrase)
}

func formatQuantity(amount float64, noun string, isSelf bool) string {
	who := "You have"
	if !isSelf {
		who = "They have"
	}
	unit := pluralize(noun, amount)
	return fmt.Sprintf("%s %s %s.", who, trimNumber(amount), unit)
}

func formatInventory(entries []types.StateEntry, isSelf bool) string {
	who := "You have"
	if !isSelf {
		who = "They have"
	}
	parts := make([]string, 0)
	for _, e := range entries {
		if e.Kind != types.StateValueInventory {
			continue
		}
		for item, qty := range e.Map {
			if qty == 0 {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s %s", trimNumber(qty), pluralize(item, qty)))
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s nothing tracked yet.", who)
	}
	return fmt.Sprintf("%s: %s.", who, strings.Join(parts, ", "))
}

func pluralize(noun string, qty float64) string {
	if qty == 1 || noun == goldKey {
		return noun
	}
	if strings.HasSuffix(noun, "s") {
		return noun
	}
	return noun + "s"
}

func trimNumber(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	return s
}
