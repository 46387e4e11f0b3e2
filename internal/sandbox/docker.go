package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
)

// DockerRunner runs commands in isolated Docker containers.
type DockerRunner struct {
	client *client.Client
	config Config
}

// NewDockerRunner creates a new Docker-based runner.
func NewDockerRunner(ctx context.Context, config Config) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("docker daemon not accessible: %w", err)
	}

	if config.DockerImage == "" {
		config.DockerImage = DefaultImage
	}
	return &DockerRunner{client: cli, config: config}, nil
}

// Run executes cmd in a throwaway container. The working directory and every configured
// mount appear at their host paths, so absolute paths in arguments stay valid.
func (r *DockerRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	timeout := r.config.timeout(cmd.Timeout)

	if err := r.ensureImage(ctx, r.config.DockerImage); err != nil {
		return Result{}, fmt.Errorf("failed to ensure image %s: %w", r.config.DockerImage, err)
	}

	workDir, err := filepath.Abs(cmd.Dir)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get absolute path: %w", err)
	}
	mounts, err := bindMounts(workDir, r.config.Mounts)
	if err != nil {
		return Result{}, err
	}

	memory, err := parseMemory(r.config.Memory)
	if err != nil {
		return Result{}, err
	}

	containerConfig := &container.Config{
		Image:           r.config.DockerImage,
		Cmd:             append([]string{cmd.Name}, cmd.Args...),
		WorkingDir:      workDir,
		User:            "1000:1000",
		Env:             append([]string{"HOME=/tmp"}, cmd.Env...),
		NetworkDisabled: true,
	}

	hostConfig := &container.HostConfig{
		Mounts: mounts,
		Resources: container.Resources{
			Memory:   memory,
			NanoCPUs: parseCPU(r.config.CPU),
			Ulimits: []*units.Ulimit{
				{Name: "nofile", Soft: 1024, Hard: 1024},
			},
		},
		SecurityOpt:    []string{"no-new-privileges"},
		CapDrop:        []string{"ALL"},
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=100m",
		},
	}

	createResp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create container: %w", err)
	}
	containerID := createResp.ID

	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.client.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true})
	}()

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := r.client.ContainerStart(execCtx, containerID, container.StartOptions{}); err != nil {
		return Result{}, fmt.Errorf("failed to start container: %w", err)
	}

	statusCh, errCh := r.client.ContainerWait(execCtx, containerID, container.WaitConditionNotRunning)

	var exitCode int64
	select {
	case <-execCtx.Done():
		killCtx, killCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer killCancel()
		_ = r.client.ContainerKill(killCtx, containerID, "SIGKILL")
		return Result{
			Code:     -1,
			TimedOut: execCtx.Err() == context.DeadlineExceeded,
			Stderr:   "command execution was interrupted",
			Duration: time.Since(start),
		}, execCtx.Err()
	case err := <-errCh:
		if err != nil {
			return Result{}, fmt.Errorf("container wait error: %w", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	logs, err := r.client.ContainerLogs(context.Background(), containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return Result{}, fmt.Errorf("failed to demultiplex container logs: %w", err)
	}

	return Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Code:     int(exitCode),
		Duration: time.Since(start),
	}, nil
}

// ensureImage checks if the image exists locally, and pulls it if not.
func (r *DockerRunner) ensureImage(ctx context.Context, imageName string) error {
	if _, _, err := r.client.ImageInspectWithRaw(ctx, imageName); err == nil {
		return nil
	}

	reader, err := r.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	// Drain the pull output (required for pull to complete)
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

// bindMounts mounts workDir and extra at their own paths, skipping duplicates.
func bindMounts(workDir string, extra []string) ([]mount.Mount, error) {
	seen := map[string]bool{}
	var mounts []mount.Mount
	for _, p := range append([]string{workDir}, extra...) {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("mount %s: %w", p, err)
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: abs, Target: abs})
	}
	return mounts, nil
}

// parseMemory parses a memory limit such as "1g" or "512m". Empty means 1 GiB.
func parseMemory(memStr string) (int64, error) {
	memStr = strings.TrimSpace(memStr)
	if memStr == "" {
		return 1 << 30, nil
	}
	n, err := units.RAMInBytes(memStr)
	if err != nil {
		return 0, fmt.Errorf("invalid memory limit %q: %w", memStr, err)
	}
	return n, nil
}

// parseCPU converts a CPU count such as "2" or "1.5" to NanoCPUs. Invalid values mean 2.
func parseCPU(cpuStr string) int64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(cpuStr), 64)
	if err != nil || value <= 0 {
		value = 2
	}
	return int64(value * 1e9)
}
