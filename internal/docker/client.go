package docker

import (
	"context"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// engine is the slice of the Docker API the runner drives.
type engine interface {
	Ping(ctx context.Context) error
	Create(ctx context.Context, cfg *container.Config, host *container.HostConfig) (string, error)
	Start(ctx context.Context, id string) error
	Wait(ctx context.Context, id string) (<-chan container.WaitResponse, <-chan error)
	Logs(ctx context.Context, id string, stdout, stderr io.Writer) error
	Stop(ctx context.Context, id string, grace time.Duration) error
	Remove(ctx context.Context, id string) error
	Close() error
}

// New connects to the daemon described by the DOCKER_* environment.
func New() (*client.Client, error) {
	return client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
}

type apiEngine struct {
	cli *client.Client
}

func (e apiEngine) Ping(ctx context.Context) error {
	_, err := e.cli.Ping(ctx)
	return err
}

func (e apiEngine) Create(ctx context.Context, cfg *container.Config, host *container.HostConfig) (string, error) {
	resp, err := e.cli.ContainerCreate(ctx, cfg, host, nil, nil, "")
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (e apiEngine) Start(ctx context.Context, id string) error {
	return e.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (e apiEngine) Wait(ctx context.Context, id string) (<-chan container.WaitResponse, <-chan error) {
	return e.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
}

func (e apiEngine) Logs(ctx context.Context, id string, stdout, stderr io.Writer) error {
	rc, err := e.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return err
	}
	defer rc.Close()

	_, err = stdcopy.StdCopy(stdout, stderr, rc)
	return err
}

func (e apiEngine) Stop(ctx context.Context, id string, grace time.Duration) error {
	secs := int(grace.Seconds())
	if secs < 1 {
		secs = 1
	}
	return e.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs})
}

func (e apiEngine) Remove(ctx context.Context, id string) error {
	return e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (e apiEngine) Close() error {
	return e.cli.Close()
}
