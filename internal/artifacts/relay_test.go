package artifacts_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tyemirov/cix/internal/artifacts"
	"github.com/tyemirov/cix/internal/execshell"
)

const (
	testCredentialNameConstant  = "PUBLISH_TOKEN"
	testCredentialValueConstant = "token-value"
)

type recordingPublishExecutor struct {
	recordedCommand execshell.ShellCommand
	executionResult execshell.ExecutionResult
	executionError  error
}

func (executor *recordingPublishExecutor) Execute(_ context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error) {
	executor.recordedCommand = command
	return executor.executionResult, executor.executionError
}

func buildTestRelay(testInstance *testing.T, executor artifacts.CommandExecutor) *artifacts.Relay {
	testInstance.Helper()
	relay, constructionError := artifacts.NewRelay(zap.NewNop(), executor)
	require.NoError(testInstance, constructionError)
	return relay
}

func TestNewRelayValidation(testInstance *testing.T) {
	_, missingLoggerError := artifacts.NewRelay(nil, &recordingPublishExecutor{})
	require.Error(testInstance, missingLoggerError)

	_, missingExecutorError := artifacts.NewRelay(zap.NewNop(), nil)
	require.Error(testInstance, missingExecutorError)
}

func TestStageCopiesDirectoryTree(testInstance *testing.T) {
	relay := buildTestRelay(testInstance, &recordingPublishExecutor{})

	sourceRoot := testInstance.TempDir()
	require.NoError(testInstance, os.MkdirAll(filepath.Join(sourceRoot, "nested"), 0o755))
	require.NoError(testInstance, os.WriteFile(filepath.Join(sourceRoot, "index.html"), []byte("<html>root</html>"), 0o644))
	require.NoError(testInstance, os.WriteFile(filepath.Join(sourceRoot, "nested", "page.html"), []byte("<html>nested</html>"), 0o644))

	destinationRoot := filepath.Join(testInstance.TempDir(), "site", "doc")
	require.NoError(testInstance, relay.Stage(sourceRoot, destinationRoot))

	rootContent, rootReadError := os.ReadFile(filepath.Join(destinationRoot, "index.html"))
	require.NoError(testInstance, rootReadError)
	require.Equal(testInstance, "<html>root</html>", string(rootContent))

	nestedContent, nestedReadError := os.ReadFile(filepath.Join(destinationRoot, "nested", "page.html"))
	require.NoError(testInstance, nestedReadError)
	require.Equal(testInstance, "<html>nested</html>", string(nestedContent))
}

func TestStageCopiesSingleFile(testInstance *testing.T) {
	relay := buildTestRelay(testInstance, &recordingPublishExecutor{})

	sourcePath := filepath.Join(testInstance.TempDir(), "report.xml")
	require.NoError(testInstance, os.WriteFile(sourcePath, []byte("<report/>"), 0o600))

	destinationPath := filepath.Join(testInstance.TempDir(), "staged", "report.xml")
	require.NoError(testInstance, relay.Stage(sourcePath, destinationPath))

	stagedInfo, statError := os.Stat(destinationPath)
	require.NoError(testInstance, statError)
	require.Equal(testInstance, os.FileMode(0o600), stagedInfo.Mode().Perm())

	stagedContent, readError := os.ReadFile(destinationPath)
	require.NoError(testInstance, readError)
	require.Equal(testInstance, "<report/>", string(stagedContent))
}

func TestStageRejectsMissingSource(testInstance *testing.T) {
	relay := buildTestRelay(testInstance, &recordingPublishExecutor{})

	missingSource := filepath.Join(testInstance.TempDir(), "absent")
	stageError := relay.Stage(missingSource, filepath.Join(testInstance.TempDir(), "dest"))
	require.Error(testInstance, stageError)

	var missingError artifacts.ArtifactMissingError
	require.ErrorAs(testInstance, stageError, &missingError)
	require.Equal(testInstance, missingSource, missingError.Path)
}

func TestPublishPassesCredentialThroughEnvironment(testInstance *testing.T) {
	executor := &recordingPublishExecutor{executionResult: execshell.ExecutionResult{StandardOutput: "published"}}
	relay := buildTestRelay(testInstance, executor)

	stagedRoot := testInstance.TempDir()
	result, publishError := relay.Publish(context.Background(), artifacts.PublishRequest{
		SourcePath:     stagedRoot,
		Target:         "gh-pages",
		Command:        []string{"publish-tool", "--push", stagedRoot},
		CredentialName: testCredentialNameConstant,
		Credentials: func(credentialName string) (string, bool) {
			require.Equal(testInstance, testCredentialNameConstant, credentialName)
			return testCredentialValueConstant, true
		},
	})
	require.NoError(testInstance, publishError)
	require.Equal(testInstance, "published", result.StandardOutput)

	require.Equal(testInstance, "publish-tool", executor.recordedCommand.Executable)
	require.Equal(testInstance, []string{"--push", stagedRoot}, executor.recordedCommand.Details.Arguments)
	require.Equal(testInstance, map[string]string{testCredentialNameConstant: testCredentialValueConstant}, executor.recordedCommand.Details.EnvironmentVariables)
}

func TestPublishRejectsMissingCredential(testInstance *testing.T) {
	executor := &recordingPublishExecutor{}
	relay := buildTestRelay(testInstance, executor)

	_, publishError := relay.Publish(context.Background(), artifacts.PublishRequest{
		SourcePath:     testInstance.TempDir(),
		Command:        []string{"publish-tool"},
		CredentialName: testCredentialNameConstant,
		Credentials: func(string) (string, bool) {
			return "", false
		},
	})
	require.Error(testInstance, publishError)

	var credentialError artifacts.MissingCredentialError
	require.ErrorAs(testInstance, publishError, &credentialError)
	require.Equal(testInstance, testCredentialNameConstant, credentialError.CredentialName)
	require.Empty(testInstance, executor.recordedCommand.Executable)
}

func TestPublishRejectsMissingSource(testInstance *testing.T) {
	relay := buildTestRelay(testInstance, &recordingPublishExecutor{})

	_, publishError := relay.Publish(context.Background(), artifacts.PublishRequest{
		SourcePath: filepath.Join(testInstance.TempDir(), "absent"),
		Command:    []string{"publish-tool"},
	})
	require.Error(testInstance, publishError)

	var missingError artifacts.ArtifactMissingError
	require.ErrorAs(testInstance, publishError, &missingError)
}
