package workflow_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/cix/internal/workflow"
)

const testPipelineDocumentConstant = `tasks:
  - task:
      name: build
      steps:
        - name: compile
          run: [make, build]

  - task:
      name: test
      needs: [build]
      services: [database]
      steps:
        - name: unit-tests
          run: [make, test]
          env:
            VERBOSE: "1"
          timeout: 5m
        - run: [make, coverage]
          policy: continue-on-error

  - task:
      name: doc
      needs: [build]
      best_effort: true
      steps:
        - name: render
          run: [make, doc]
          when:
            event-is: push
      artifacts:
        - from: build/doc
          to: site/doc

services:
  - service:
      name: database
      start: [docker, compose, up, --detach]
      ready: [docker, compose, ps, --quiet]

publish:
  source: site
  target: gh-pages
  run: [publish-tool, site]
  credential: PUBLISH_TOKEN
  when:
    and:
      - branch-equals: main
      - event-is: push
`

func TestLoadConfiguration(testInstance *testing.T) {
	pipelinePath := filepath.Join(testInstance.TempDir(), "pipeline.yaml")
	require.NoError(testInstance, os.WriteFile(pipelinePath, []byte(testPipelineDocumentConstant), 0o644))

	configuration, loadError := workflow.LoadConfiguration(pipelinePath)
	require.NoError(testInstance, loadError)

	require.Len(testInstance, configuration.Tasks, 3)
	require.Equal(testInstance, "build", configuration.Tasks[0].Name)

	testTask := configuration.Tasks[1]
	require.Equal(testInstance, []string{"build"}, testTask.Prerequisites)
	require.Equal(testInstance, []string{"database"}, testTask.Services)
	require.Len(testInstance, testTask.Steps, 2)
	require.Equal(testInstance, "unit-tests", testTask.Steps[0].Name)
	require.Equal(testInstance, workflow.FailurePolicyFailFast, testTask.Steps[0].Policy)
	require.Equal(testInstance, 5*time.Minute, testTask.Steps[0].Timeout)
	require.Equal(testInstance, map[string]string{"VERBOSE": "1"}, testTask.Steps[0].EnvironmentVariables)
	require.Equal(testInstance, "test/step-1", testTask.Steps[1].Name)
	require.Equal(testInstance, workflow.FailurePolicyContinueOnError, testTask.Steps[1].Policy)

	documentationTask := configuration.Tasks[2]
	require.True(testInstance, documentationTask.BestEffort)
	require.NotNil(testInstance, documentationTask.Steps[0].Condition)
	require.Equal(testInstance, []workflow.ArtifactStaging{{SourcePath: "build/doc", DestinationPath: "site/doc"}}, documentationTask.Artifacts)

	databaseService, serviceFound := configuration.ServiceDefinition("database")
	require.True(testInstance, serviceFound)
	require.Equal(testInstance, []string{"docker", "compose", "up", "--detach"}, databaseService.StartCommand)

	require.NotNil(testInstance, configuration.Publish)
	require.Equal(testInstance, "site", configuration.Publish.SourcePath)
	require.Equal(testInstance, "PUBLISH_TOKEN", configuration.Publish.CredentialName)
	require.NotNil(testInstance, configuration.Publish.Condition)

	registry, registryError := configuration.BuildRegistry()
	require.NoError(testInstance, registryError)
	plan, planError := registry.Resolve("test")
	require.NoError(testInstance, planError)
	require.Equal(testInstance, []string{"build", "test"}, plan.TaskNames())
}

func TestLoadConfigurationMissingFile(testInstance *testing.T) {
	_, loadError := workflow.LoadConfiguration(filepath.Join(testInstance.TempDir(), "absent.yaml"))
	require.Error(testInstance, loadError)
}

func TestParseConfigurationRejectsInvalidDocuments(testInstance *testing.T) {
	testCases := []struct {
		name     string
		document string
	}{
		{
			name:     "empty_tasks",
			document: "tasks: []\n",
		},
		{
			name: "step_missing_run_command",
			document: `tasks:
  - task:
      name: build
      steps:
        - name: compile
`,
		},
		{
			name: "unsupported_policy",
			document: `tasks:
  - task:
      name: build
      steps:
        - run: [make, build]
          policy: retry-forever
`,
		},
		{
			name: "invalid_timeout",
			document: `tasks:
  - task:
      name: build
      steps:
        - run: [make, build]
          timeout: soon
`,
		},
		{
			name: "invalid_step_gate",
			document: `tasks:
  - task:
      name: build
      steps:
        - run: [make, build]
          when:
            branch-matches: main
`,
		},
		{
			name: "unknown_service_reference",
			document: `tasks:
  - task:
      name: test
      services: [database]
      steps:
        - run: [make, test]
`,
		},
		{
			name: "duplicate_service",
			document: `tasks:
  - task:
      name: build
      steps:
        - run: [make, build]
services:
  - service:
      name: database
      ready: [probe]
  - service:
      name: database
      ready: [probe]
`,
		},
		{
			name: "service_missing_readiness_command",
			document: `tasks:
  - task:
      name: build
      steps:
        - run: [make, build]
services:
  - service:
      name: database
      start: [docker, compose, up]
`,
		},
		{
			name: "artifact_missing_destination",
			document: `tasks:
  - task:
      name: doc
      steps:
        - run: [make, doc]
      artifacts:
        - from: build/doc
`,
		},
		{
			name: "publish_missing_run_command",
			document: `tasks:
  - task:
      name: build
      steps:
        - run: [make, build]
publish:
  source: site
`,
		},
		{
			name: "publish_missing_source",
			document: `tasks:
  - task:
      name: build
      steps:
        - run: [make, build]
publish:
  run: [publish-tool, site]
`,
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(testSubtestTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			_, parseError := workflow.ParseConfiguration([]byte(testCase.document))
			require.Error(testInstance, parseError)
		})
	}
}
