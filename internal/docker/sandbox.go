// Package docker runs scanner tools inside locked-down containers instead of
// as local processes.
package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"

	"forgescan/scan-engine/internal/sandbox"
	"forgescan/scan-engine/internal/scanners"
)

// cleanupTimeout bounds the daemon calls made after ctx has ended.
const cleanupTimeout = 30 * time.Second

var ErrNoImage = errors.New("tool has no container image")

var _ sandbox.Runner = (*ContainerRunner)(nil)

// ContainerRunner is a sandbox.Runner backed by the Docker daemon.
type ContainerRunner struct {
	api    engine
	logger *slog.Logger
}

// NewContainerRunner connects to the local daemon.
func NewContainerRunner(logger *slog.Logger) (*ContainerRunner, error) {
	cli, err := New()
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return newContainerRunner(apiEngine{cli: cli}, logger), nil
}

func newContainerRunner(api engine, logger *slog.Logger) *ContainerRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContainerRunner{api: api, logger: logger}
}

func (r *ContainerRunner) Close() error { return r.api.Close() }

// Run creates a container for c.Image with c.Args as its command, waits for
// it and returns its demultiplexed logs. When ctx ends the container is
// stopped with c.Grace before the daemon kills it.
func (r *ContainerRunner) Run(ctx context.Context, c sandbox.Command) (sandbox.Outcome, error) {
	if c.Image == "" {
		return sandbox.Outcome{ExitCode: -1}, fmt.Errorf("%w: %s", ErrNoImage, c.Tool)
	}

	host := SandboxLimits()
	id, err := r.api.Create(ctx, &container.Config{
		Image:      c.Image,
		Cmd:        c.Args,
		User:       SandboxUser,
		WorkingDir: "/tmp",
		Env:        []string{"LANG=C.UTF-8"},
		Labels:     map[string]string{"forgescan.tool": c.Tool},
	}, &host)
	if err != nil {
		return sandbox.Outcome{ExitCode: -1}, err
	}
	log := r.logger.With("tool", c.Tool, "container", shortID(id))

	cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout+c.Grace)
	defer cancel()
	defer func() {
		if err := r.api.Remove(cleanup, id); err != nil {
			log.Warn("remove container", "error", err)
		}
	}()

	if err := r.api.Start(ctx, id); err != nil {
		return sandbox.Outcome{ExitCode: -1}, err
	}

	out := sandbox.Outcome{ExitCode: -1}
	waitCh, errCh := r.api.Wait(cleanup, id)
	select {
	case resp := <-waitCh:
		out.ExitCode = int(resp.StatusCode)
	case err := <-errCh:
		return out, err
	case <-ctx.Done():
		out.ExitCode = -1
		log.Debug("stopping container", "grace", c.Grace)
		if err := r.api.Stop(cleanup, id, c.Grace); err != nil {
			log.Warn("stop container", "error", err)
		}
	}

	stdout := sandbox.NewLimitedBuffer(c.MaxOutput)
	stderr := sandbox.NewLimitedBuffer(c.MaxOutput)
	if err := r.api.Logs(cleanup, id, stdout, stderr); err != nil {
		log.Warn("read container logs", "error", err)
	}
	out.Stdout = stdout.String()
	out.Stderr = stderr.String()
	out.Truncated = stdout.Truncated() || stderr.Truncated()

	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	return out, nil
}

// Probe marks every catalog tool with an image available when the daemon
// answers, and every tool unavailable otherwise. Versions are the image tags.
func (r *ContainerRunner) Probe(ctx context.Context, reg *scanners.Registry) error {
	pingErr := r.api.Ping(ctx)
	now := time.Now()
	for _, name := range reg.Names() {
		tool, _ := reg.Tool(name)
		st := scanners.Status{Checked: true, CheckedAt: now, Version: "unknown"}
		switch {
		case pingErr != nil:
			st.Error = pingErr.Error()
		case tool.Image == "":
			st.Error = ErrNoImage.Error()
		default:
			st.Available = true
			st.Path = tool.Image
			st.Version = imageTag(tool.Image)
		}
		reg.SetStatus(name, st)
	}
	if pingErr != nil {
		return fmt.Errorf("docker daemon: %w", pingErr)
	}
	return nil
}

func imageTag(image string) string {
	if i := strings.LastIndex(image, ":"); i >= 0 && !strings.Contains(image[i:], "/") {
		return image[i+1:]
	}
	return "latest"
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
