package slack

import (
	"testing"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop/agentloop/pkg/models"
)

func TestBuildDegradedMessage_CBOpen(t *testing.T) {
	entry := &models.CronEntry{ID: "c1", Name: "nightly-report", TargetAgent: "triage"}
	blocks := BuildDegradedMessage(entry, models.OutcomeSkippedCBOpen, "all candidate models breaker-open")

	require.Len(t, blocks, 1)
	section, ok := blocks[0].(*goslack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, section.Text.Text, ":electric_plug:")
	assert.Contains(t, section.Text.Text, "nightly-report")
	assert.Contains(t, section.Text.Text, "skipped_cb_open")
	assert.Contains(t, section.Text.Text, "triage")
	assert.Contains(t, section.Text.Text, "all candidate models breaker-open")
}

func TestBuildDegradedMessage_UnknownOutcomeFallsBackToWarning(t *testing.T) {
	entry := &models.CronEntry{ID: "c2", Name: "weekly-digest", TargetAgent: "summarizer"}
	blocks := BuildDegradedMessage(entry, models.OutcomeSuccess, "")

	section := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, section.Text.Text, ":warning:")
}

func TestBuildDegradedMessage_NoCauseOmitsTrailingLine(t *testing.T) {
	entry := &models.CronEntry{ID: "c3", Name: "hourly-sync", TargetAgent: "sync-agent"}
	blocks := BuildDegradedMessage(entry, models.OutcomeSkippedStillActive, "")

	section := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, section.Text.Text, ":repeat:")
	assert.NotContains(t, section.Text.Text, "\n\n")
}
