package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pitabwire/util"

	"github.com/aircode610/ShipSure/internal/models"
)

// installFailureExitCode marks a dependency-install failure so it can be
// told apart from a failing test suite.
const installFailureExitCode = 125

// languageConfig contains the execution setup for one language.
type languageConfig struct {
	Image          string
	InstallCommand string
	TestCommand    string
	WorkDir        string
	Env            []string
}

var nodeJSConfig = languageConfig{
	Image:          "node:20-slim",
	InstallCommand: "npm install --no-audit --no-fund",
	TestCommand:    "npm test",
	WorkDir:        "/workspace",
	Env:            []string{"CI=true"},
}

var defaultLanguageConfigs = map[string]languageConfig{
	"go": {
		Image:          "golang:1.25-alpine",
		InstallCommand: "go mod download",
		TestCommand:    "go test ./...",
		WorkDir:        "/workspace",
		Env:            []string{"CGO_ENABLED=0"},
	},
	"python": {
		Image:          "python:3.12-slim",
		InstallCommand: "if [ -f requirements.txt ]; then pip install -q -r requirements.txt; fi",
		TestCommand:    "python -m pytest -v --tb=short",
		WorkDir:        "/workspace",
		Env:            []string{"PYTHONDONTWRITEBYTECODE=1"},
	},
	"node":       nodeJSConfig,
	"javascript": nodeJSConfig,
	"typescript": nodeJSConfig,
	"ruby": {
		Image:          "ruby:3.3-slim",
		InstallCommand: "bundle install --quiet",
		TestCommand:    "bundle exec rspec",
		WorkDir:        "/workspace",
		Env:            []string{"RAILS_ENV=test"},
	},
}

// containerAPI is the slice of the Docker client the runner uses. Narrow
// so tests can substitute a fake and observe the teardown sequence.
type containerAPI interface {
	ContainerCreate(
		ctx context.Context,
		config *container.Config,
		hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig,
		platform *ocispec.Platform,
		containerName string,
	) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(
		ctx context.Context,
		containerID string,
		condition container.WaitCondition,
	) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
}

// Config holds the sandbox runner settings.
type Config struct {
	// ImageOverride replaces the per-language image when set.
	ImageOverride string

	// WorkspaceBasePath is where per-run workspaces are created.
	WorkspaceBasePath string

	// MemoryLimitMB bounds container memory.
	MemoryLimitMB int

	// CPULimit bounds container CPU (1.0 = one CPU).
	CPULimit float64

	// NetworkEnabled allows outbound network from the sandbox.
	NetworkEnabled bool

	// OutputCapBytes bounds the captured combined output.
	OutputCapBytes int
}

// DockerRunner runs test suites in Docker containers.
type DockerRunner struct {
	cfg Config
	api containerAPI
}

// NewDockerRunner creates a Docker-backed sandbox runner.
func NewDockerRunner(cfg Config) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerRunner{cfg: cfg, api: cli}, nil
}

// newDockerRunnerWithAPI wires a custom container API, used by tests.
func newDockerRunnerWithAPI(cfg Config, api containerAPI) *DockerRunner {
	return &DockerRunner{cfg: cfg, api: api}
}

// Execute runs the request's test bundle. Provisioning and install
// failures yield status "error", an expired timeout yields "timeout" with
// no exit code; neither is a Go error. The container and workspace are
// torn down on every exit path.
func (r *DockerRunner) Execute(ctx context.Context, req *Request) (*models.TestRunResult, error) {
	log := util.Log(ctx)
	startTime := time.Now()

	// Log capture and teardown must survive caller cancellation, or a
	// cancelled job leaks its container and loses its output.
	runCtx := context.WithoutCancel(ctx)

	langConfig := r.languageConfig(req.Language)

	workspacePath, err := r.prepareWorkspace(req)
	if err != nil {
		return errorResult(fmt.Sprintf("prepare workspace: %v", err), startTime), nil
	}
	defer os.RemoveAll(workspacePath)

	log.Info("starting sandbox execution",
		"task_id", req.TaskID,
		"language", req.Language,
		"image", langConfig.Image,
		"workspace", workspacePath,
	)

	containerID, err := r.createContainer(ctx, req, langConfig, workspacePath)
	if err != nil {
		return errorResult(fmt.Sprintf("provision sandbox: %v", err), startTime), nil
	}

	// Teardown runs exactly once, on every exit path including timeout.
	defer r.teardown(runCtx, containerID)

	if startErr := r.api.ContainerStart(ctx, containerID, container.StartOptions{}); startErr != nil {
		return errorResult(fmt.Sprintf("start sandbox: %v", startErr), startTime), nil
	}

	// The wait is detached from the caller's cancellation: a cancelled job
	// lets the run reach its own timeout instead of hard-killing it.
	waitCtx, cancel := context.WithTimeout(runCtx, req.Timeout)
	defer cancel()

	statusCh, errCh := r.api.ContainerWait(waitCtx, containerID, container.WaitConditionNotRunning)

	var exitCode int
	select {
	case waitErr := <-errCh:
		if waitErr != nil {
			log.Warn("sandbox wait error, killing container", "error", waitErr)
			_ = r.api.ContainerKill(runCtx, containerID, "KILL")
			return errorResult(fmt.Sprintf("sandbox wait: %v", waitErr), startTime), nil
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	case <-waitCtx.Done():
		log.Warn("sandbox execution timed out, killing container", "task_id", req.TaskID)
		_ = r.api.ContainerKill(runCtx, containerID, "KILL")
		return &models.TestRunResult{
			Status:     models.TestRunTimeout,
			Output:     "Execution timed out after " + req.Timeout.String(),
			DurationMS: time.Since(startTime).Milliseconds(),
		}, nil
	}

	output, logsErr := r.containerOutput(runCtx, containerID)
	if logsErr != nil {
		log.WithError(logsErr).Warn("failed to get sandbox logs")
		output = "Failed to retrieve test output"
	}

	result := &models.TestRunResult{
		Output:     truncateOutput(output, r.cfg.OutputCapBytes),
		DurationMS: time.Since(startTime).Milliseconds(),
	}

	switch {
	case exitCode == 0:
		result.Status = models.TestRunPassed
		result.ExitCode = &exitCode
	case exitCode == installFailureExitCode:
		result.Status = models.TestRunError
	default:
		result.Status = models.TestRunFailed
		result.ExitCode = &exitCode
	}

	log.Info("sandbox execution completed",
		"task_id", req.TaskID,
		"status", result.Status,
		"exit_code", exitCode,
		"duration_ms", result.DurationMS,
	)

	return result, nil
}

// prepareWorkspace materialises the code and test bundles on disk.
func (r *DockerRunner) prepareWorkspace(req *Request) (string, error) {
	base := r.cfg.WorkspaceBasePath
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", err
	}

	workspacePath, err := os.MkdirTemp(base, "shipsure-"+req.TaskID+"-")
	if err != nil {
		return "", err
	}

	for _, f := range append(append([]File{}, req.CodeFiles...), req.TestFiles...) {
		dest := filepath.Join(workspacePath, filepath.Clean(f.Path))
		if !strings.HasPrefix(dest, workspacePath) {
			continue
		}
		if mkErr := os.MkdirAll(filepath.Dir(dest), 0o755); mkErr != nil {
			return "", mkErr
		}
		if writeErr := os.WriteFile(dest, []byte(f.Content), 0o644); writeErr != nil {
			return "", writeErr
		}
	}

	return workspacePath, nil
}

func (r *DockerRunner) createContainer(
	ctx context.Context,
	req *Request,
	langConfig languageConfig,
	workspacePath string,
) (string, error) {
	config := &container.Config{
		Image:      langConfig.Image,
		Cmd:        []string{"sh", "-c", buildRunCommand(langConfig)},
		WorkingDir: langConfig.WorkDir,
		Env:        langConfig.Env,
		Tty:        false,
		Labels: map[string]string{
			"shipsure.task.id": req.TaskID,
			"shipsure.managed": "true",
		},
	}

	memoryLimit := int64(r.cfg.MemoryLimitMB) * 1024 * 1024
	cpuQuota := int64(r.cfg.CPULimit * 100000)

	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: workspacePath,
				Target: langConfig.WorkDir,
			},
		},
		Resources: container.Resources{
			Memory:   memoryLimit,
			CPUQuota: cpuQuota,
		},
		AutoRemove: false,
	}

	if !r.cfg.NetworkEnabled {
		hostConfig.NetworkMode = "none"
	}

	containerName := fmt.Sprintf("shipsure-test-%s", shortID(req.TaskID))
	resp, err := r.api.ContainerCreate(ctx, config, hostConfig, nil, nil, containerName)
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}
	return resp.ID, nil
}

// buildRunCommand chains the install and test steps, marking install
// failures with a sentinel exit code.
func buildRunCommand(langConfig languageConfig) string {
	if langConfig.InstallCommand == "" {
		return langConfig.TestCommand
	}
	return fmt.Sprintf(
		"if ! { %s; }; then echo 'dependency install failed'; exit %d; fi; %s",
		langConfig.InstallCommand, installFailureExitCode, langConfig.TestCommand,
	)
}

func (r *DockerRunner) containerOutput(ctx context.Context, containerID string) (string, error) {
	options := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "all",
	}

	reader, err := r.api.ContainerLogs(ctx, containerID, options)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err = io.Copy(&buf, reader); err != nil {
		return "", err
	}

	return stripDockerLogHeaders(buf.Bytes()), nil
}

// stripDockerLogHeaders removes the 8-byte multiplexing header from each
// log frame of a non-TTY container stream.
func stripDockerLogHeaders(data []byte) string {
	var result bytes.Buffer
	for len(data) >= 8 {
		frameSize := int(data[4])<<24 | int(data[5])<<16 | int(data[6])<<8 | int(data[7])

		data = data[8:]
		if frameSize > len(data) {
			frameSize = len(data)
		}

		result.Write(data[:frameSize])
		data = data[frameSize:]
	}

	if len(data) > 0 {
		result.Write(data)
	}

	return result.String()
}

// teardown stops and removes a container.
func (r *DockerRunner) teardown(ctx context.Context, containerID string) {
	log := util.Log(ctx)

	stopTimeout := 5
	_ = r.api.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &stopTimeout})

	err := r.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil {
		log.WithError(err).Warn("failed to remove sandbox container", "container_id", containerID)
	} else {
		log.Debug("sandbox container removed", "container_id", containerID)
	}
}

func (r *DockerRunner) languageConfig(language string) languageConfig {
	lang := strings.ToLower(language)

	config, ok := defaultLanguageConfigs[lang]
	if !ok {
		config = defaultLanguageConfigs["python"]
	}
	if r.cfg.ImageOverride != "" {
		config.Image = r.cfg.ImageOverride
	}
	return config
}

func errorResult(message string, startTime time.Time) *models.TestRunResult {
	return &models.TestRunResult{
		Status:     models.TestRunError,
		Output:     message,
		DurationMS: time.Since(startTime).Milliseconds(),
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
