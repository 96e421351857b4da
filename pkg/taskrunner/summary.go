package taskrunner

import (
	"fmt"
	"strings"
	"time"

	"github.com/tyemirov/cix/internal/workflow"
)

const (
	summaryPrefixConstant           = "Summary:"
	summaryDurationRoundingConstant = 10 * time.Millisecond
)

// RenderSummaryLine returns the one-line summary printed after a run.
func RenderSummaryLine(report workflow.RunReport) string {
	if len(report.TaskResults) == 0 {
		return ""
	}

	succeededCount, failedCount := report.Counts()

	parts := []string{
		summaryPrefixConstant,
		fmt.Sprintf("tasks=%d", len(report.TaskResults)),
		fmt.Sprintf("succeeded=%d", succeededCount),
		fmt.Sprintf("failed=%d", failedCount),
	}

	if report.PublishResult != nil {
		parts = append(parts, fmt.Sprintf("publish=%s", report.PublishResult.Outcome))
	}

	parts = append(parts, fmt.Sprintf("duration_human=%s", report.Duration.Round(summaryDurationRoundingConstant)))
	parts = append(parts, fmt.Sprintf("duration_ms=%d", report.Duration.Milliseconds()))

	return strings.Join(parts, " ")
}
