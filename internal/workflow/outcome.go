package workflow

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// StepOutcome is the tri-state result of one step evaluation.
type StepOutcome string

// Supported step outcomes.
const (
	StepOutcomeSucceeded StepOutcome = "succeeded"
	StepOutcomeFailed    StepOutcome = "failed"
	StepOutcomeSkipped   StepOutcome = "skipped"
)

// TaskState tracks the lifecycle of a task instance during a run.
type TaskState string

// Task lifecycle states. A task never required by the requested target
// stays pending and is never run.
const (
	TaskStatePending   TaskState = "pending"
	TaskStateRunning   TaskState = "running"
	TaskStateSucceeded TaskState = "succeeded"
	TaskStateFailed    TaskState = "failed"
)

// StepResult captures the observable result of one step.
type StepResult struct {
	StepName string
	Outcome  StepOutcome
	Policy   FailurePolicy
	ExitCode int
	Output   string
	Duration time.Duration
}

// TaskResult aggregates the step results of one task. A task failed iff any
// fail-fast step failed or a prerequisite failure propagated into it.
type TaskResult struct {
	TaskName       string
	State          TaskState
	Steps          []StepResult
	PropagatedFrom string
	Duration       time.Duration
}

// Failed reports whether the task reached the failed state.
func (result TaskResult) Failed() bool {
	return result.State == TaskStateFailed
}

// FirstFailingStep returns the first failed step result, if any.
func (result TaskResult) FirstFailingStep() (StepResult, bool) {
	for stepIndex := range result.Steps {
		if result.Steps[stepIndex].Outcome == StepOutcomeFailed {
			return result.Steps[stepIndex], true
		}
	}
	return StepResult{}, false
}

// RunReport lists every attempted task with its terminal state.
type RunReport struct {
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
	TaskResults   []TaskResult
	PublishResult *StepResult
}

// Succeeded reports whether every attempted task succeeded and publish, if
// attempted, did not fail.
func (report RunReport) Succeeded() bool {
	for resultIndex := range report.TaskResults {
		if report.TaskResults[resultIndex].Failed() {
			return false
		}
	}
	if report.PublishResult != nil && report.PublishResult.Outcome == StepOutcomeFailed {
		return false
	}
	return true
}

// Counts tallies terminal task states for summary reporting.
func (report RunReport) Counts() (succeededCount int, failedCount int) {
	for resultIndex := range report.TaskResults {
		if report.TaskResults[resultIndex].Failed() {
			failedCount++
			continue
		}
		succeededCount++
	}
	return succeededCount, failedCount
}

const (
	reportTaskLineTemplateConstant        = "%-12s %s\n"
	reportPropagatedLineTemplateConstant  = "%-12s %s (prerequisite %s failed)\n"
	reportFailureHeaderTemplateConstant   = "  first failing step: %s (exit %d)\n"
	reportFailureOutputIndentConstant     = "    "
	reportPublishLineTemplateConstant     = "%-12s %s\n"
	reportPublishStepNameConstant         = "publish"
)

// Render writes the user-facing run report to the provided writer.
func (report RunReport) Render(writer io.Writer) {
	if writer == nil {
		return
	}

	for resultIndex := range report.TaskResults {
		taskResult := report.TaskResults[resultIndex]
		if len(taskResult.PropagatedFrom) > 0 {
			fmt.Fprintf(writer, reportPropagatedLineTemplateConstant, taskResult.TaskName, taskResult.State, taskResult.PropagatedFrom)
			continue
		}
		fmt.Fprintf(writer, reportTaskLineTemplateConstant, taskResult.TaskName, taskResult.State)

		if !taskResult.Failed() {
			continue
		}
		failingStep, failingStepAvailable := taskResult.FirstFailingStep()
		if !failingStepAvailable {
			continue
		}
		fmt.Fprintf(writer, reportFailureHeaderTemplateConstant, failingStep.StepName, failingStep.ExitCode)
		for _, outputLine := range strings.Split(strings.TrimSpace(failingStep.Output), "\n") {
			trimmedLine := strings.TrimSpace(outputLine)
			if len(trimmedLine) == 0 {
				continue
			}
			fmt.Fprintf(writer, "%s%s\n", reportFailureOutputIndentConstant, trimmedLine)
		}
	}

	if report.PublishResult != nil {
		fmt.Fprintf(writer, reportPublishLineTemplateConstant, reportPublishStepNameConstant, report.PublishResult.Outcome)
	}
}
