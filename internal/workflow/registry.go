package workflow

import (
	"fmt"
	"strings"
)

const (
	duplicateTaskErrorTemplateConstant  = "task %q defined multiple times"
	unknownTaskErrorTemplateConstant    = "task %q is not registered"
	cyclicDependencyTemplateConstant    = "task dependency cycle detected through %s"
	selfDependencyErrorTemplateConstant = "task %q cannot depend on itself"
	taskNameMissingMessageConstant      = "task definition missing name"
)

// DuplicateTaskError reports a task name registered more than once.
type DuplicateTaskError struct {
	TaskName string
}

// Error implements the error interface.
func (duplicateError DuplicateTaskError) Error() string {
	return fmt.Sprintf(duplicateTaskErrorTemplateConstant, duplicateError.TaskName)
}

// UnknownTaskError reports resolution of an unregistered task name.
type UnknownTaskError struct {
	TaskName string
}

// Error implements the error interface.
func (unknownError UnknownTaskError) Error() string {
	return fmt.Sprintf(unknownTaskErrorTemplateConstant, unknownError.TaskName)
}

// CyclicDependencyError reports a prerequisite cycle discovered during
// resolution.
type CyclicDependencyError struct {
	TaskNames []string
}

// Error implements the error interface.
func (cycleError CyclicDependencyError) Error() string {
	return fmt.Sprintf(cyclicDependencyTemplateConstant, strings.Join(cycleError.TaskNames, " -> "))
}

// PlanStage groups tasks whose prerequisites are satisfied by earlier
// stages; tasks within one stage share no dependency relationship and may
// run concurrently.
type PlanStage struct {
	Tasks []TaskDefinition
}

// ExecutionPlan is a linear stage order where every prerequisite of a task
// precedes it.
type ExecutionPlan struct {
	Stages []PlanStage
}

// TaskNames lists the planned task names in stage order.
func (plan ExecutionPlan) TaskNames() []string {
	names := make([]string, 0)
	for stageIndex := range plan.Stages {
		for taskIndex := range plan.Stages[stageIndex].Tasks {
			names = append(names, plan.Stages[stageIndex].Tasks[taskIndex].Name)
		}
	}
	return names
}

// Registry holds named task definitions and their declared prerequisites.
type Registry struct {
	definitions       map[string]TaskDefinition
	registrationOrder []string
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{definitions: map[string]TaskDefinition{}}
}

// Register adds a task definition, rejecting duplicate names.
func (registry *Registry) Register(definition TaskDefinition) error {
	taskName := strings.TrimSpace(definition.Name)
	if len(taskName) == 0 {
		return InvalidConfigurationError{Detail: taskNameMissingMessageConstant}
	}
	if _, exists := registry.definitions[taskName]; exists {
		return DuplicateTaskError{TaskName: taskName}
	}

	definition.Name = taskName
	registry.definitions[taskName] = definition
	registry.registrationOrder = append(registry.registrationOrder, taskName)
	return nil
}

// Lookup returns the definition registered under the provided name.
func (registry *Registry) Lookup(taskName string) (TaskDefinition, bool) {
	definition, exists := registry.definitions[strings.TrimSpace(taskName)]
	return definition, exists
}

// Resolve expands the requested tasks' prerequisite closure into a staged
// execution plan. Only the requested closure is planned; unrelated
// registered tasks stay untouched. Ties within a stage follow registration
// order so plans are deterministic.
func (registry *Registry) Resolve(taskNames ...string) (ExecutionPlan, error) {
	closure := map[string]struct{}{}
	expansionStack := make([]string, 0)
	onStack := map[string]struct{}{}

	var expand func(taskName string) error
	expand = func(taskName string) error {
		if _, alreadyIncluded := closure[taskName]; alreadyIncluded {
			return nil
		}
		if _, revisited := onStack[taskName]; revisited {
			cyclePath := append(append([]string{}, expansionStack...), taskName)
			return CyclicDependencyError{TaskNames: cyclePath}
		}

		definition, exists := registry.definitions[taskName]
		if !exists {
			return UnknownTaskError{TaskName: taskName}
		}

		expansionStack = append(expansionStack, taskName)
		onStack[taskName] = struct{}{}
		for _, prerequisiteName := range definition.Prerequisites {
			trimmedPrerequisite := strings.TrimSpace(prerequisiteName)
			if len(trimmedPrerequisite) == 0 {
				continue
			}
			if trimmedPrerequisite == taskName {
				return InvalidConfigurationError{Detail: fmt.Sprintf(selfDependencyErrorTemplateConstant, taskName)}
			}
			if expandError := expand(trimmedPrerequisite); expandError != nil {
				return expandError
			}
		}
		expansionStack = expansionStack[:len(expansionStack)-1]
		delete(onStack, taskName)

		closure[taskName] = struct{}{}
		return nil
	}

	for _, requestedName := range taskNames {
		trimmedName := strings.TrimSpace(requestedName)
		if len(trimmedName) == 0 {
			continue
		}
		if expandError := expand(trimmedName); expandError != nil {
			return ExecutionPlan{}, expandError
		}
	}

	return registry.stageClosure(closure), nil
}

func (registry *Registry) stageClosure(closure map[string]struct{}) ExecutionPlan {
	inDegree := make(map[string]int, len(closure))
	dependents := make(map[string][]string, len(closure))

	for taskName := range closure {
		definition := registry.definitions[taskName]
		for _, prerequisiteName := range definition.Prerequisites {
			trimmedPrerequisite := strings.TrimSpace(prerequisiteName)
			if _, included := closure[trimmedPrerequisite]; !included {
				continue
			}
			inDegree[taskName]++
			dependents[trimmedPrerequisite] = append(dependents[trimmedPrerequisite], taskName)
		}
	}

	ready := make([]string, 0)
	for _, taskName := range registry.registrationOrder {
		if _, included := closure[taskName]; !included {
			continue
		}
		if inDegree[taskName] == 0 {
			ready = append(ready, taskName)
		}
	}

	plan := ExecutionPlan{}
	for len(ready) > 0 {
		stageNames := ready
		ready = nil

		stage := PlanStage{Tasks: make([]TaskDefinition, 0, len(stageNames))}
		nextReadySet := map[string]struct{}{}
		for _, taskName := range stageNames {
			stage.Tasks = append(stage.Tasks, registry.definitions[taskName])
			for _, dependentName := range dependents[taskName] {
				inDegree[dependentName]--
				if inDegree[dependentName] == 0 {
					nextReadySet[dependentName] = struct{}{}
				}
			}
		}
		plan.Stages = append(plan.Stages, stage)

		for _, taskName := range registry.registrationOrder {
			if _, available := nextReadySet[taskName]; available {
				ready = append(ready, taskName)
			}
		}
	}

	return plan
}
