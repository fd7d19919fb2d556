package state

import (
	"context"
	"regexp"
	"strings"

	"github.com/raglab/ragserver/internal/store"
)

var mentionRe = regexp.MustCompile(`(?i)\bas\s+([a-z][a-z0-9_-]{1,31})\b|\bplaying\s+([a-z][a-z0-9_-]{1,31})\b`)

// IdentifyPersona consults prior persona mentions in-channel (via the
// graph backend's PersonaTies) and returns the best-matching persona
// id for userID, or "" if ambiguous or the user has no registered
// personas.
func IdentifyPersona(ctx context.Context, graph store.GraphBackend, userID, message, channelID, username string) (string, error) {
	if graph == nil {
		return "", nil
	}
	ties, err := graph.PersonaTies(ctx, userID)
	if err != nil || len(ties) == 0 {
		return "", err
	}
	if len(ties) == 1 {
		return ties[0].PersonaID, nil
	}

	lower := strings.ToLower(message)
	if m := mentionRe.FindStringSubmatch(lower); m != nil {
		named := m[1]
		if named == "" {
			named = m[2]
		}
		for _, p := range ties {
			if strings.EqualFold(p.Name, named) {
				return p.PersonaID, nil
			}
		}
	}

	if channelID != "" {
		for _, p := range ties {
			if p.ChannelID == channelID {
				return p.PersonaID, nil
			}
		}
	}

	// More than one persona and no disambiguating signal: unambiguous-to-user.
	return "", nil
}
