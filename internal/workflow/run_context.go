package workflow

import (
	"os"
	"strings"
)

// EventKind identifies the trigger that started a pipeline run.
type EventKind string

// Supported trigger event kinds.
const (
	EventKindPush        EventKind = "push"
	EventKindPullRequest EventKind = "pull_request"
)

// KnownEventKind reports whether the provided kind is a supported trigger.
func KnownEventKind(kind EventKind) bool {
	switch kind {
	case EventKindPush, EventKindPullRequest:
		return true
	default:
		return false
	}
}

// EnvironmentLookup resolves an ambient environment variable by name.
type EnvironmentLookup func(name string) (string, bool)

// RunContext carries the immutable per-run metadata consulted by gates and
// publish steps. It is constructed once at invocation start and never
// mutated afterwards.
type RunContext struct {
	Event       EventKind
	BranchName  string
	flags       map[string]bool
	environment EnvironmentLookup
}

// NewRunContext constructs a RunContext for the provided trigger details.
// A nil environment lookup falls back to the process environment.
func NewRunContext(event EventKind, branchName string, flags map[string]bool, environment EnvironmentLookup) RunContext {
	copiedFlags := make(map[string]bool, len(flags))
	for flagName, flagValue := range flags {
		copiedFlags[strings.TrimSpace(flagName)] = flagValue
	}
	if environment == nil {
		environment = os.LookupEnv
	}
	return RunContext{
		Event:       event,
		BranchName:  strings.TrimSpace(branchName),
		flags:       copiedFlags,
		environment: environment,
	}
}

// Flag reports whether the named custom flag was set for this run.
func (runContext RunContext) Flag(flagName string) bool {
	return runContext.flags[strings.TrimSpace(flagName)]
}

// Credential resolves a named credential from the ambient environment.
func (runContext RunContext) Credential(credentialName string) (string, bool) {
	if runContext.environment == nil {
		return "", false
	}
	credentialValue, credentialAvailable := runContext.environment(credentialName)
	if !credentialAvailable || len(strings.TrimSpace(credentialValue)) == 0 {
		return "", false
	}
	return credentialValue, true
}
