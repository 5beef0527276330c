package storage

import "github.com/oriolane/oriole/pkg/models"

// RepairTranscript drops the two inconsistencies that break LLM transcript
// replay: tool results whose call was never issued (orphans) and tool calls
// that never received a result (dangling, typically from a crashed turn).
// Messages left with no content after repair are removed.
func RepairTranscript(msgs []models.Message) []models.Message {
	issued := make(map[string]bool)
	answered := make(map[string]bool)
	for _, m := range msgs {
		for _, c := range m.ToolCalls {
			issued[c.ID] = true
		}
		for _, r := range m.ToolResults {
			answered[r.ToolCallID] = true
		}
	}

	out := msgs[:0]
	for _, m := range msgs {
		if len(m.ToolCalls) > 0 {
			kept := m.ToolCalls[:0]
			for _, c := range m.ToolCalls {
				if answered[c.ID] {
					kept = append(kept, c)
				}
			}
			m.ToolCalls = kept
		}
		if len(m.ToolResults) > 0 {
			kept := m.ToolResults[:0]
			for _, r := range m.ToolResults {
				if issued[r.ToolCallID] {
					kept = append(kept, r)
				}
			}
			m.ToolResults = kept
		}
		if m.Content == "" && len(m.ToolCalls) == 0 && len(m.ToolResults) == 0 {
			continue
		}
		out = append(out, m)
	}
	return out
}
