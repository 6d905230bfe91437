package ai

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/nhle/localclaw/internal/model"
)

// maxFacts bounds how many memory facts are placed in the system prompt.
const maxFacts = 10

// SystemPrompt builds the persona prompt from the identity and the most
// recently updated memory facts.
func SystemPrompt(id model.Identity, memory map[string]model.MemoryFact) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s, a personal AI assistant owned by %s.\n", id.Name, id.Owner)
	if id.Tone != "" {
		fmt.Fprintf(&sb, "Tone: %s.\n", id.Tone)
	}
	if id.SignOff != "" {
		fmt.Fprintf(&sb, "Sign every reply with: %s\n", id.SignOff)
	}

	if len(memory) > 0 {
		keys := slices.Collect(maps.Keys(memory))
		slices.SortFunc(keys, func(a, b string) int {
			if c := memory[b].UpdatedAt.Compare(memory[a].UpdatedAt); c != 0 {
				return c
			}
			return cmp.Compare(a, b)
		})
		if len(keys) > maxFacts {
			keys = keys[:maxFacts]
		}

		sb.WriteString("\nThings you remember:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "  - %s: %s\n", k, memory[k].Value)
		}
	}

	sb.WriteString("\nRead incoming messages carefully and write clear, helpful, professional replies.\n")
	sb.WriteString("Keep replies concise and relevant. Never mention that you are an AI unless asked.")
	return sb.String()
}
