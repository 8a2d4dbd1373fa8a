package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/agentloop/agentloop/pkg/models"
)

var outcomeEmoji = map[models.CronOutcome]string{
	models.OutcomeFailure:            ":x:",
	models.OutcomeTimeout:            ":hourglass:",
	models.OutcomeSkippedCBOpen:      ":electric_plug:",
	models.OutcomeSkippedOverBudget:  ":no_entry_sign:",
	models.OutcomeSkippedStillActive: ":repeat:",
}

// BuildDegradedMessage builds Block Kit blocks for a cron entry that was
// skipped or failed instead of spawning a task.
func BuildDegradedMessage(entry *models.CronEntry, outcome models.CronOutcome, cause string) []goslack.Block {
	emoji := outcomeEmoji[outcome]
	if emoji == "" {
		emoji = ":warning:"
	}

	text := fmt.Sprintf("%s *Cron entry %q degraded*\nOutcome: `%s`\nTarget agent: `%s`",
		emoji, entry.Name, outcome, entry.TargetAgent)
	if cause != "" {
		text += fmt.Sprintf("\n%s", cause)
	}

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}
