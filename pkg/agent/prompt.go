package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/scoutwatch/scoutd/pkg/llmprovider"
	"github.com/scoutwatch/scoutd/pkg/models"
)

const maxRecentFindingsInPrompt = 5

// BuildSystemPrompt assembles the system message for a scout run from the
// scout's configuration and its recent successful findings, so the model
// can downgrade to not_found when it is about to repeat itself.
func BuildSystemPrompt(scout models.Scout, recent []models.RecentFinding, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a research agent monitoring the web on behalf of a user. ")
	fmt.Fprintf(&b, "Scout title: %q. Goal: %s.\n", scout.Title, scout.Goal)
	if scout.Description != "" {
		fmt.Fprintf(&b, "Additional context: %s\n", scout.Description)
	}

	b.WriteString("\nInstructions:\n")
	b.WriteString("1. Use the configured search queries first before trying variations.\n")
	b.WriteString("2. Scrape 2-3 of the most promising results to verify what you found before reporting it.\n")
	b.WriteString("3. Do not repeat a search you have already run this session.\n")
	b.WriteString("4. Reach a conclusion within about 7 steps total.\n")
	b.WriteString("5. When you are done, respond with ONLY a JSON object, no other text, no markdown fences, shaped as:\n")
	b.WriteString(`{"taskCompleted": bool, "taskStatus": "completed"|"partial"|"not_found"|"insufficient_data", "response": "markdown summary, no em-dashes"}` + "\n")

	b.WriteString("\nConfigured queries:\n")
	for i, q := range scout.Queries {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}

	if n := len(recent); n > 0 {
		if n > maxRecentFindingsInPrompt {
			recent = recent[:maxRecentFindingsInPrompt]
		}
		b.WriteString("\nRecent findings for this scout, most recent first. If what you find substantially duplicates one of these, set taskStatus to \"not_found\":\n")
		for _, f := range recent {
			fmt.Fprintf(&b, "- %s: %s\n", RelativeDay(f.CompletedAt, now), f.SummaryText)
		}
	}

	return b.String()
}

// RelativeDay renders "found today" / "found yesterday" / "found N days
// ago" style phrasing for a recent finding relative to now. Shared with
// the executor's duplicate-finding annotation so both surfaces describe
// prior findings the same way.
func RelativeDay(t, now time.Time) string {
	days := int(now.Sub(t).Hours() / 24)
	switch {
	case days <= 0:
		return "found today"
	case days == 1:
		return "found yesterday"
	default:
		return fmt.Sprintf("found %d days ago", days)
	}
}

// reminderMessage is injected every ReminderEvery loops to keep the model
// aware of its remaining step budget.
func reminderMessage(loopCount int) llmprovider.Message {
	return llmprovider.Message{
		Role:    llmprovider.RoleUser,
		Content: fmt.Sprintf("Reminder: you have used %d of %d loop iterations. Wrap up soon.", loopCount, MaxLoops),
	}
}
