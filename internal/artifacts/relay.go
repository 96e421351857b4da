// Package artifacts stages generated artifact trees and hands them to a
// gated publishing command. The relay never regenerates artifacts; a prior
// step must have produced them.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/tyemirov/cix/internal/execshell"
)

const (
	relayLoggerMissingMessageConstant   = "artifact relay logger not configured"
	relayExecutorMissingMessageConstant = "artifact relay executor not configured"
	publishCommandMissingMessage        = "publish command not configured"
	stagingMessageConstant              = "staging artifacts"
	publishingMessageConstant           = "publishing artifacts"
	sourceFieldConstant                 = "source"
	destinationFieldConstant            = "destination"
	targetFieldConstant                 = "target"

	artifactMissingErrorTemplateConstant   = "artifact path %s does not exist"
	missingCredentialErrorTemplateConstant = "publish credential %s not present in environment"
	stageCopyErrorTemplateConstant         = "unable to stage %s into %s: %w"

	directoryPermissionsConstant = 0o755
)

// ArtifactMissingError reports a staging source that does not exist.
type ArtifactMissingError struct {
	Path string
}

// Error implements the error interface.
func (missingError ArtifactMissingError) Error() string {
	return fmt.Sprintf(artifactMissingErrorTemplateConstant, missingError.Path)
}

// MissingCredentialError reports an absent publish credential.
type MissingCredentialError struct {
	CredentialName string
}

// Error implements the error interface.
func (credentialError MissingCredentialError) Error() string {
	return fmt.Sprintf(missingCredentialErrorTemplateConstant, credentialError.CredentialName)
}

// CredentialLookup resolves a named credential from the ambient environment.
type CredentialLookup func(credentialName string) (string, bool)

// PublishRequest describes a gated publish invocation.
type PublishRequest struct {
	SourcePath     string
	Target         string
	Command        []string
	CredentialName string
	Credentials    CredentialLookup
}

// CommandExecutor runs the external publish command.
type CommandExecutor interface {
	Execute(executionContext context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error)
}

// Relay copies artifact trees to staging locations and publishes them.
type Relay struct {
	logger   *zap.Logger
	executor CommandExecutor
}

// NewRelay constructs a Relay instance.
func NewRelay(logger *zap.Logger, executor CommandExecutor) (*Relay, error) {
	if logger == nil {
		return nil, errors.New(relayLoggerMissingMessageConstant)
	}
	if executor == nil {
		return nil, errors.New(relayExecutorMissingMessageConstant)
	}
	return &Relay{logger: logger, executor: executor}, nil
}

// Stage copies the source tree to the destination, creating missing
// intermediate directories. The source must already exist.
func (relay *Relay) Stage(sourcePath string, destinationPath string) error {
	sourceInfo, statError := os.Stat(sourcePath)
	if statError != nil {
		return ArtifactMissingError{Path: sourcePath}
	}

	relay.logger.Info(stagingMessageConstant,
		zap.String(sourceFieldConstant, sourcePath),
		zap.String(destinationFieldConstant, destinationPath),
	)

	if !sourceInfo.IsDir() {
		if copyError := copyFile(sourcePath, destinationPath, sourceInfo.Mode()); copyError != nil {
			return fmt.Errorf(stageCopyErrorTemplateConstant, sourcePath, destinationPath, copyError)
		}
		return nil
	}

	walkError := filepath.WalkDir(sourcePath, func(currentPath string, entry fs.DirEntry, entryError error) error {
		if entryError != nil {
			return entryError
		}

		relativePath, relativeError := filepath.Rel(sourcePath, currentPath)
		if relativeError != nil {
			return relativeError
		}
		targetPath := filepath.Join(destinationPath, relativePath)

		if entry.IsDir() {
			return os.MkdirAll(targetPath, directoryPermissionsConstant)
		}

		entryInfo, infoError := entry.Info()
		if infoError != nil {
			return infoError
		}
		return copyFile(currentPath, targetPath, entryInfo.Mode())
	})
	if walkError != nil {
		return fmt.Errorf(stageCopyErrorTemplateConstant, sourcePath, destinationPath, walkError)
	}
	return nil
}

// Publish hands the staged artifact root to the external publishing command.
// The caller is responsible for gate evaluation; Publish assumes the gate
// already evaluated true.
func (relay *Relay) Publish(executionContext context.Context, request PublishRequest) (execshell.ExecutionResult, error) {
	if len(request.Command) == 0 {
		return execshell.ExecutionResult{}, errors.New(publishCommandMissingMessage)
	}

	environmentOverlay := map[string]string{}
	if len(request.CredentialName) > 0 {
		if request.Credentials == nil {
			return execshell.ExecutionResult{}, MissingCredentialError{CredentialName: request.CredentialName}
		}
		credentialValue, credentialAvailable := request.Credentials(request.CredentialName)
		if !credentialAvailable {
			return execshell.ExecutionResult{}, MissingCredentialError{CredentialName: request.CredentialName}
		}
		environmentOverlay[request.CredentialName] = credentialValue
	}

	if _, statError := os.Stat(request.SourcePath); statError != nil {
		return execshell.ExecutionResult{}, ArtifactMissingError{Path: request.SourcePath}
	}

	relay.logger.Info(publishingMessageConstant,
		zap.String(sourceFieldConstant, request.SourcePath),
		zap.String(targetFieldConstant, request.Target),
	)

	publishCommand := execshell.ShellCommand{
		Executable: request.Command[0],
		Details: execshell.CommandDetails{
			Arguments:            request.Command[1:],
			EnvironmentVariables: environmentOverlay,
		},
	}
	return relay.executor.Execute(executionContext, publishCommand)
}

func copyFile(sourcePath string, destinationPath string, fileMode fs.FileMode) error {
	if directoryError := os.MkdirAll(filepath.Dir(destinationPath), directoryPermissionsConstant); directoryError != nil {
		return directoryError
	}

	sourceFile, openError := os.Open(sourcePath)
	if openError != nil {
		return openError
	}
	defer sourceFile.Close()

	destinationFile, createError := os.OpenFile(destinationPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fileMode)
	if createError != nil {
		return createError
	}

	if _, copyError := io.Copy(destinationFile, sourceFile); copyError != nil {
		destinationFile.Close()
		return copyError
	}
	return destinationFile.Close()
}
