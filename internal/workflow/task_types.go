package workflow

import "time"

// FailurePolicy controls how a step failure affects the rest of its task.
type FailurePolicy string

// Supported step failure policies.
const (
	FailurePolicyFailFast        FailurePolicy = "fail-fast"
	FailurePolicyContinueOnError FailurePolicy = "continue-on-error"
)

// KnownFailurePolicy reports whether the provided policy is supported.
func KnownFailurePolicy(policy FailurePolicy) bool {
	switch policy {
	case FailurePolicyFailFast, FailurePolicyContinueOnError:
		return true
	default:
		return false
	}
}

// StepDefinition describes one external command invocation within a task.
// A nil Condition means the step always runs.
type StepDefinition struct {
	Name                 string
	Command              []string
	WorkingDirectory     string
	EnvironmentVariables map[string]string
	Policy               FailurePolicy
	Timeout              time.Duration
	Condition            Gate
}

// ArtifactStaging names a produced artifact tree and its staging location.
type ArtifactStaging struct {
	SourcePath      string
	DestinationPath string
}

// TaskDefinition is a named unit of work composed of ordered steps and
// prerequisite tasks. Definitions are read-only configuration owned by the
// registry for the lifetime of a run.
type TaskDefinition struct {
	Name          string
	Prerequisites []string
	BestEffort    bool
	Services      []string
	Steps         []StepDefinition
	Artifacts     []ArtifactStaging
}

// PublishDefinition describes the terminal, gated publish step of a
// pipeline. A nil Condition means publish always runs.
type PublishDefinition struct {
	SourcePath     string
	Target         string
	Command        []string
	CredentialName string
	Condition      Gate
}
