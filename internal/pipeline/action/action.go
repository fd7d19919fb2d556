// Package action implements C11, the Action Parser: distinguishes
// action utterances ("give bob 5 gold") from information-seeking
// queries and extracts a structured action with a confidence score.
package action

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind enumerates the recognized action verbs.
type Kind string

const (
	ActionGive     Kind = "give"
	ActionTake     Kind = "take"
	ActionTransfer Kind = "transfer"
	ActionSet      Kind = "set"
	ActionAdd      Kind = "add"
	ActionRemove   Kind = "remove"
	ActionSend     Kind = "send"
	ActionQuery    Kind = "query"
	ActionUnknown  Kind = "unknown"
)

// MinConfidence is the threshold spec.md §4.11 requires before an
// orchestrator executes a parsed action.
const MinConfidence = 0.6

// Executable actions are those the ledger/tracker can carry out.
var executable = map[Kind]bool{
	ActionGive: true, ActionTake: true, ActionTransfer: true,
	ActionSet: true, ActionAdd: true, ActionRemove: true, ActionSend: true,
}

// Parsed is C11's output shape.
type Parsed struct {
	Action       Kind
	ItemName     string
	Quantity     float64
	SourceUserID string
	DestUserID   string
	ItemType     string
	Properties   map[string]string
	Confidence   float64
	OriginalText string
}

// Executable reports whether the orchestrator may act on this parse.
func (p Parsed) Executable() bool {
	return p.Confidence >= MinConfidence && executable[p.Action]
}

var (
	infoQuestionRe = regexp.MustCompile(`(?i)\b(how (many|much))\b.*\b(have|own|did|has)\b`)
	mentionDigitRe = regexp.MustCompile(`<@!?(\d+)>`)
	mentionNameRe  = regexp.MustCompile(`@([A-Za-z0-9_][A-Za-z0-9_-]{1,31})`)
	quantityRe     = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\b`)

	giveVerbRe     = regexp.MustCompile(`(?i)\bgive\b`)
	takeVerbRe     = regexp.MustCompile(`(?i)\btake\b`)
	transferVerbRe = regexp.MustCompile(`(?i)\b(transfer|trade)\b`)
	setVerbRe      = regexp.MustCompile(`(?i)\bset\b`)
	addVerbRe      = regexp.MustCompile(`(?i)\badd\b`)
	removeVerbRe   = regexp.MustCompile(`(?i)\bremove\b`)
	sendVerbRe     = regexp.MustCompile(`(?i)\bsend\b`)

	itemAfterQuantityRe = regexp.MustCompile(`(?i)\d+(?:\.\d+)?\s+([a-z]+)`)
)

// IsInformationQuestion reports whether the utterance matches an
// information-seeking pattern ("how many/much ... have/own/did"). The
// orchestrator skips C11 entirely when this is true.
func IsInformationQuestion(utterance string) bool {
	return infoQuestionRe.MatchString(utterance)
}

// Parse extracts a structured action from utterance. mentionedUserID, if
// non-empty, is preferred over any name mention found in the text.
func Parse(utterance, askingUserID, channelID, mentionedUserID string) Parsed {
	p := Parsed{Action: ActionUnknown, Quantity: 1, OriginalText: utterance, Properties: map[string]string{}}

	verb, verbConf := classifyVerb(utterance)
	p.Action = verb

	if m := quantityRe.FindString(utterance); m != "" {
		if q, err := strconv.ParseFloat(m, 64); err == nil {
			p.Quantity = q
		}
	}

	p.ItemName = extractItem(utterance)

	destID := resolveDest(utterance, mentionedUserID)
	switch verb {
	case ActionGive, ActionSend, ActionTransfer:
		p.SourceUserID = askingUserID
		p.DestUserID = destID
	case ActionTake:
		p.SourceUserID = destID
		p.DestUserID = askingUserID
	case ActionSet, ActionAdd, ActionRemove:
		p.DestUserID = askingUserID
		if destID != "" {
			p.DestUserID = destID
		}
	}

	conf := verbConf
	if p.ItemName == "" {
		conf -= 0.2
	}
	if verb != ActionSet && (p.SourceUserID == "" && p.DestUserID == "") {
		conf -= 0.2
	}
	if conf < 0 {
		conf = 0
	}
	p.Confidence = conf
	return p
}

func classifyVerb(utterance string) (Kind, float64) {
	switch {
	case transferVerbRe.MatchString(utterance):
		return ActionTransfer, 0.85
	case giveVerbRe.MatchString(utterance):
		return ActionGive, 0.85
	case sendVerbRe.MatchString(utterance):
		return ActionSend, 0.8
	case takeVerbRe.MatchString(utterance):
		return ActionTake, 0.8
	case removeVerbRe.MatchString(utterance):
		return ActionRemove, 0.75
	case addVerbRe.MatchString(utterance):
		return ActionAdd, 0.75
	case setVerbRe.MatchString(utterance):
		return ActionSet, 0.75
	default:
		return ActionUnknown, 0.2
	}
}

var itemStopWords = map[string]bool{"to": true, "from": true, "the": true, "a": true, "an": true}

func extractItem(utterance string) string {
	if m := itemAfterQuantityRe.FindStringSubmatch(utterance); m != nil {
		word := strings.ToLower(m[1])
		if !itemStopWords[word] {
			return word
		}
	}
	return ""
}

// resolveDest prefers an upstream mentionedUserID over a mention found
// in the text: a <@digits> mention yields its digits and an @name mention
// yields the bare name. An @name is not resolved to a numeric id.
func resolveDest(utterance, mentionedUserID string) string {
	if mentionedUserID != "" {
		return mentionedUserID
	}
	if m := mentionDigitRe.FindStringSubmatch(utterance); m != nil {
		return m[1]
	}
	if m := mentionNameRe.FindStringSubmatch(utterance); m != nil {
		return m[1]
	}
	return ""
}
