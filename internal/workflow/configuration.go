package workflow

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tyemirov/cix/internal/services"
)

const (
	configurationLoadErrorTemplateConstant      = "failed to load pipeline configuration: %w"
	configurationParseErrorTemplateConstant     = "failed to parse pipeline configuration: %w"
	configurationPathRequiredMessageConstant    = "pipeline configuration path must be provided"
	configurationEmptyTasksMessageConstant      = "pipeline configuration must define at least one task"
	configurationStepCommandMessageTemplate     = "task %q step %d missing run command"
	configurationPolicyMessageTemplate          = "task %q step %d has unsupported policy %q"
	configurationTimeoutMessageTemplate         = "task %q step %d has invalid timeout: %v"
	configurationServiceNameMessageConstant     = "service definition missing name"
	configurationServiceProbeMessageTemplate    = "service %q missing readiness command"
	configurationServiceUnknownMessageTemplate  = "task %q references unknown service %q"
	configurationDuplicateServiceTemplate       = "service %q defined multiple times"
	configurationPublishCommandMessageConstant  = "publish block missing run command"
	configurationPublishSourceMessageConstant   = "publish block missing source path"
	configurationArtifactPathsMessageTemplate   = "task %q artifact staging requires from and to paths"
	invalidConfigurationErrorTemplateConstant   = "invalid pipeline configuration: %s"
	configurationStepNameTemplateConstant       = "%s/step-%d"
)

// InvalidConfigurationError reports a pipeline definition rejected during
// eager validation, before any external command runs.
type InvalidConfigurationError struct {
	Detail string
}

// Error implements the error interface.
func (configurationError InvalidConfigurationError) Error() string {
	return fmt.Sprintf(invalidConfigurationErrorTemplateConstant, configurationError.Detail)
}

// Configuration is the fully validated pipeline definition.
type Configuration struct {
	Tasks    []TaskDefinition
	Services []services.ServiceDefinition
	Publish  *PublishDefinition
}

// ServiceDefinition returns the named service from the catalog.
func (configuration Configuration) ServiceDefinition(serviceName string) (services.ServiceDefinition, bool) {
	for definitionIndex := range configuration.Services {
		if configuration.Services[definitionIndex].Name == serviceName {
			return configuration.Services[definitionIndex], true
		}
	}
	return services.ServiceDefinition{}, false
}

type pipelineFile struct {
	Tasks    []taskWrapper    `yaml:"tasks"`
	Services []serviceWrapper `yaml:"services"`
	Publish  *publishSection  `yaml:"publish"`
}

type taskWrapper struct {
	Task taskSection `yaml:"task"`
}

type taskSection struct {
	Name       string            `yaml:"name"`
	Needs      []string          `yaml:"needs"`
	BestEffort bool              `yaml:"best_effort"`
	Services   []string          `yaml:"services"`
	Steps      []stepSection     `yaml:"steps"`
	Artifacts  []artifactSection `yaml:"artifacts"`
}

type stepSection struct {
	Name    string            `yaml:"name"`
	Run     []string          `yaml:"run"`
	Dir     string            `yaml:"dir"`
	Env     map[string]string `yaml:"env"`
	Policy  string            `yaml:"policy"`
	Timeout string            `yaml:"timeout"`
	When    any               `yaml:"when"`
}

type artifactSection struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type serviceWrapper struct {
	Service serviceSection `yaml:"service"`
}

type serviceSection struct {
	Name  string   `yaml:"name"`
	Start []string `yaml:"start"`
	Ready []string `yaml:"ready"`
}

type publishSection struct {
	Source     string   `yaml:"source"`
	Target     string   `yaml:"target"`
	Run        []string `yaml:"run"`
	Credential string   `yaml:"credential"`
	When       any      `yaml:"when"`
}

// LoadConfiguration reads a pipeline definition from disk and validates it
// eagerly. Every configuration error surfaces here, before execution.
func LoadConfiguration(filePath string) (Configuration, error) {
	trimmedPath := strings.TrimSpace(filePath)
	if len(trimmedPath) == 0 {
		return Configuration{}, errors.New(configurationPathRequiredMessageConstant)
	}

	contentBytes, readError := os.ReadFile(trimmedPath)
	if readError != nil {
		return Configuration{}, fmt.Errorf(configurationLoadErrorTemplateConstant, readError)
	}

	return ParseConfiguration(contentBytes)
}

// ParseConfiguration decodes and validates a pipeline definition document.
func ParseConfiguration(contentBytes []byte) (Configuration, error) {
	var parsedFile pipelineFile
	if unmarshalError := yaml.Unmarshal(contentBytes, &parsedFile); unmarshalError != nil {
		return Configuration{}, fmt.Errorf(configurationParseErrorTemplateConstant, unmarshalError)
	}

	if len(parsedFile.Tasks) == 0 {
		return Configuration{}, InvalidConfigurationError{Detail: configurationEmptyTasksMessageConstant}
	}

	configuration := Configuration{}

	serviceNames := map[string]struct{}{}
	for serviceIndex := range parsedFile.Services {
		serviceDefinition, serviceError := buildServiceDefinition(parsedFile.Services[serviceIndex].Service)
		if serviceError != nil {
			return Configuration{}, serviceError
		}
		if _, exists := serviceNames[serviceDefinition.Name]; exists {
			return Configuration{}, InvalidConfigurationError{Detail: fmt.Sprintf(configurationDuplicateServiceTemplate, serviceDefinition.Name)}
		}
		serviceNames[serviceDefinition.Name] = struct{}{}
		configuration.Services = append(configuration.Services, serviceDefinition)
	}

	for taskIndex := range parsedFile.Tasks {
		taskDefinition, taskError := buildTaskDefinition(parsedFile.Tasks[taskIndex].Task, serviceNames)
		if taskError != nil {
			return Configuration{}, taskError
		}
		configuration.Tasks = append(configuration.Tasks, taskDefinition)
	}

	if parsedFile.Publish != nil {
		publishDefinition, publishError := buildPublishDefinition(*parsedFile.Publish)
		if publishError != nil {
			return Configuration{}, publishError
		}
		configuration.Publish = &publishDefinition
	}

	return configuration, nil
}

// BuildRegistry registers every configured task into a fresh registry.
func (configuration Configuration) BuildRegistry() (*Registry, error) {
	registry := NewRegistry()
	for taskIndex := range configuration.Tasks {
		if registerError := registry.Register(configuration.Tasks[taskIndex]); registerError != nil {
			return nil, registerError
		}
	}
	return registry, nil
}

func buildTaskDefinition(section taskSection, serviceNames map[string]struct{}) (TaskDefinition, error) {
	taskName := strings.TrimSpace(section.Name)
	if len(taskName) == 0 {
		return TaskDefinition{}, InvalidConfigurationError{Detail: taskNameMissingMessageConstant}
	}

	for _, referencedService := range section.Services {
		if _, exists := serviceNames[strings.TrimSpace(referencedService)]; !exists {
			return TaskDefinition{}, InvalidConfigurationError{Detail: fmt.Sprintf(configurationServiceUnknownMessageTemplate, taskName, referencedService)}
		}
	}

	definition := TaskDefinition{
		Name:          taskName,
		Prerequisites: trimAll(section.Needs),
		BestEffort:    section.BestEffort,
		Services:      trimAll(section.Services),
	}

	for stepIndex := range section.Steps {
		stepDefinition, stepError := buildStepDefinition(taskName, stepIndex, section.Steps[stepIndex])
		if stepError != nil {
			return TaskDefinition{}, stepError
		}
		definition.Steps = append(definition.Steps, stepDefinition)
	}

	for artifactIndex := range section.Artifacts {
		fromPath := strings.TrimSpace(section.Artifacts[artifactIndex].From)
		toPath := strings.TrimSpace(section.Artifacts[artifactIndex].To)
		if len(fromPath) == 0 || len(toPath) == 0 {
			return TaskDefinition{}, InvalidConfigurationError{Detail: fmt.Sprintf(configurationArtifactPathsMessageTemplate, taskName)}
		}
		definition.Artifacts = append(definition.Artifacts, ArtifactStaging{SourcePath: fromPath, DestinationPath: toPath})
	}

	return definition, nil
}

func buildStepDefinition(taskName string, stepIndex int, section stepSection) (StepDefinition, error) {
	if len(section.Run) == 0 || len(strings.TrimSpace(section.Run[0])) == 0 {
		return StepDefinition{}, InvalidConfigurationError{Detail: fmt.Sprintf(configurationStepCommandMessageTemplate, taskName, stepIndex)}
	}

	stepName := strings.TrimSpace(section.Name)
	if len(stepName) == 0 {
		stepName = fmt.Sprintf(configurationStepNameTemplateConstant, taskName, stepIndex)
	}

	policy := FailurePolicy(strings.TrimSpace(section.Policy))
	if len(policy) == 0 {
		policy = FailurePolicyFailFast
	}
	if !KnownFailurePolicy(policy) {
		return StepDefinition{}, InvalidConfigurationError{Detail: fmt.Sprintf(configurationPolicyMessageTemplate, taskName, stepIndex, section.Policy)}
	}

	var stepTimeout time.Duration
	if len(strings.TrimSpace(section.Timeout)) > 0 {
		parsedTimeout, timeoutError := time.ParseDuration(strings.TrimSpace(section.Timeout))
		if timeoutError != nil {
			return StepDefinition{}, InvalidConfigurationError{Detail: fmt.Sprintf(configurationTimeoutMessageTemplate, taskName, stepIndex, timeoutError)}
		}
		stepTimeout = parsedTimeout
	}

	var stepCondition Gate
	if section.When != nil {
		parsedCondition, conditionError := ParseGateDefinition(section.When)
		if conditionError != nil {
			return StepDefinition{}, conditionError
		}
		stepCondition = parsedCondition
	}

	return StepDefinition{
		Name:                 stepName,
		Command:              section.Run,
		WorkingDirectory:     strings.TrimSpace(section.Dir),
		EnvironmentVariables: section.Env,
		Policy:               policy,
		Timeout:              stepTimeout,
		Condition:            stepCondition,
	}, nil
}

func buildServiceDefinition(section serviceSection) (services.ServiceDefinition, error) {
	serviceName := strings.TrimSpace(section.Name)
	if len(serviceName) == 0 {
		return services.ServiceDefinition{}, InvalidConfigurationError{Detail: configurationServiceNameMessageConstant}
	}
	if len(section.Ready) == 0 {
		return services.ServiceDefinition{}, InvalidConfigurationError{Detail: fmt.Sprintf(configurationServiceProbeMessageTemplate, serviceName)}
	}
	return services.ServiceDefinition{
		Name:             serviceName,
		StartCommand:     section.Start,
		ReadinessCommand: section.Ready,
	}, nil
}

func buildPublishDefinition(section publishSection) (PublishDefinition, error) {
	if len(section.Run) == 0 {
		return PublishDefinition{}, InvalidConfigurationError{Detail: configurationPublishCommandMessageConstant}
	}
	sourcePath := strings.TrimSpace(section.Source)
	if len(sourcePath) == 0 {
		return PublishDefinition{}, InvalidConfigurationError{Detail: configurationPublishSourceMessageConstant}
	}

	var publishCondition Gate
	if section.When != nil {
		parsedCondition, conditionError := ParseGateDefinition(section.When)
		if conditionError != nil {
			return PublishDefinition{}, conditionError
		}
		publishCondition = parsedCondition
	}

	return PublishDefinition{
		SourcePath:     sourcePath,
		Target:         strings.TrimSpace(section.Target),
		Command:        section.Run,
		CredentialName: strings.TrimSpace(section.Credential),
		Condition:      publishCondition,
	}, nil
}

func trimAll(values []string) []string {
	trimmed := make([]string, 0, len(values))
	for _, value := range values {
		trimmedValue := strings.TrimSpace(value)
		if len(trimmedValue) == 0 {
			continue
		}
		trimmed = append(trimmed, trimmedValue)
	}
	return trimmed
}
