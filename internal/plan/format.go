package plan

import (
	"fmt"
	"strings"

	"github.com/oriolane/oriole/pkg/models"
)

// Formatting knobs for the progressively disclosed prompt block.
const (
	// keepRecentCompleted is how many trailing completed steps stay
	// expanded; older ones collapse into one summary line.
	keepRecentCompleted = 3

	// keepUpcoming is how many future steps show before the rest fold into
	// an "N more" line.
	keepUpcoming = 2
)

// fileKeywords trigger the one-time file-safety notice.
var fileKeywords = []string{"delete", "remove", "overwrite", "rename", "move file", "rm ", "truncate"}

// Format renders the plan as the concise block injected into the final user
// message. Completed steps older than the last three collapse, future steps
// beyond the next two summarize, a failed step appends reflection guidance,
// and file-modifying language appends a safety notice once.
func Format(p *models.Plan) string {
	if p == nil || len(p.Todos) == 0 {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Current plan: %s\n", p.Name)
	if p.Overview != "" {
		sb.WriteString(p.Overview)
		sb.WriteString("\n")
	}

	completed, failed := 0, false
	for _, t := range p.Todos {
		if t.Status == models.TodoCompleted {
			completed++
		}
		if t.Status == models.TodoFailed {
			failed = true
		}
	}
	fmt.Fprintf(&sb, "Progress: %d/%d steps completed\n\n", completed, len(p.Todos))

	// Partition: a leading run of completed steps collapses; the active
	// window expands; the upcoming tail folds.
	firstOpen := len(p.Todos)
	for i, t := range p.Todos {
		if t.Status != models.TodoCompleted {
			firstOpen = i
			break
		}
	}
	collapseBefore := firstOpen - keepRecentCompleted
	if collapseBefore > 0 {
		fmt.Fprintf(&sb, "- [x] (%d earlier steps completed)\n", collapseBefore)
	} else {
		collapseBefore = 0
	}

	// Upcoming steps past the active one fold beyond keepUpcoming.
	shownUpcoming := 0
	hiddenUpcoming := 0
	for i := collapseBefore; i < len(p.Todos); i++ {
		t := p.Todos[i]
		switch t.Status {
		case models.TodoCompleted:
			fmt.Fprintf(&sb, "- [x] %s\n", t.Title)
		case models.TodoInProgress:
			fmt.Fprintf(&sb, "- [>] %s (in progress)\n", t.Title)
		case models.TodoFailed:
			line := fmt.Sprintf("- [!] %s (failed)", t.Title)
			if t.Result != "" {
				line += ": " + t.Result
			}
			sb.WriteString(line + "\n")
		default:
			if shownUpcoming < keepUpcoming {
				fmt.Fprintf(&sb, "- [ ] %s\n", t.Title)
				shownUpcoming++
			} else {
				hiddenUpcoming++
			}
		}
	}
	if hiddenUpcoming > 0 {
		fmt.Fprintf(&sb, "- … %d more\n", hiddenUpcoming)
	}

	if failed {
		sb.WriteString("\nA step has failed. Before continuing, reflect on why it failed and " +
			"either try a different approach, skip it, or ask the user how to proceed. " +
			"Do not repeat the same failing action.\n")
	}

	if mentionsFileChanges(p) {
		sb.WriteString("\nNote: this plan involves modifying files. Confirm destructive " +
			"operations before running them and prefer reversible changes.\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}

func mentionsFileChanges(p *models.Plan) bool {
	var texts []string
	texts = append(texts, p.Name, p.Overview, p.Detail)
	for _, t := range p.Todos {
		texts = append(texts, t.Title, t.Content)
	}
	joined := strings.ToLower(strings.Join(texts, " "))
	for _, kw := range fileKeywords {
		if strings.Contains(joined, kw) {
			return true
		}
	}
	return false
}
