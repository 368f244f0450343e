// Package sandboxpool manages a fixed-size set of code-sandbox
// containers: idle, leased, or condemned, handed out under a bounded
// blocking queue that provides backpressure to callers.
package sandboxpool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"

	"github.com/arcline-labs/backdrop/internal/models"
)

// containerShape is the fixed resource envelope every sandbox worker
// runs under, per the external sandbox worker contract: 256MiB memory,
// read-only rootfs, a 64MiB noexec/nosuid tmpfs at /tmp, no network,
// and the per-worker scratch directory bind-mounted read-only at
// the configured host-tmpfs path.
type containerShape struct {
	image         string
	hostTmpfsBind string
}

// newScratchDir creates a fresh, empty scratch directory for one
// worker, mirroring the original pool's tmpfs-directory-per-container
// allocation.
func newScratchDir(baseDir string) (string, error) {
	dir, err := os.MkdirTemp(baseDir, "sandbox_")
	if err != nil {
		return "", fmt.Errorf("creating scratch dir: %w", err)
	}
	if err := os.Chmod(dir, 0o755); err != nil {
		return "", fmt.Errorf("chmod scratch dir: %w", err)
	}
	return dir, nil
}

// buildContainerRequest constructs the testcontainers request for one
// sandbox worker bound to its own scratch directory.
func (s containerShape) buildContainerRequest(scratchDir string) testcontainers.ContainerRequest {
	return testcontainers.ContainerRequest{
		Image: s.image,
		// The worker is long-lived: /app/execute is invoked per task via
		// Pool.Exec (docker exec), not as the container's entrypoint, so
		// the container just idles between leases.
		Cmd: []string{"sleep", "infinity"},
		Mounts: testcontainers.ContainerMounts{
			{
				Source: testcontainers.GenericBindMountSource{HostPath: scratchDir},
				Target:   testcontainers.ContainerMountTarget(s.hostTmpfsBind),
				ReadOnly: true,
			},
		},
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=64m",
		},
		NetworkMode: "none",
		Privileged:  false,
		HostConfigModifier: func(hc *dockercontainer.HostConfig) {
			hc.Memory = 256 * 1024 * 1024
			hc.ReadonlyRootfs = true
		},
	}
}

// newWorker starts one container-backed SandboxWorker.
func newWorker(ctx context.Context, shape containerShape, baseScratchDir string) (*models.SandboxWorker, testcontainers.Container, error) {
	scratchDir, err := newScratchDir(baseScratchDir)
	if err != nil {
		return nil, nil, err
	}

	req := shape.buildContainerRequest(scratchDir)
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("starting sandbox container: %w", err)
	}

	worker := &models.SandboxWorker{
		ID:         uuid.New().String(),
		State:      models.WorkerIdle,
		ScratchDir: scratchDir,
	}
	return worker, container, nil
}

func defaultBaseScratchDir() string {
	return filepath.Join(os.TempDir(), "backdrop-scratch")
}
