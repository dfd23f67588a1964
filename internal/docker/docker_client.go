package docker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

const (
	defaultAPITimeout = 5 * time.Second
	// restartGrace is how long the daemon waits for a clean stop before
	// killing the container during a restart.
	restartGrace = 10
)

// APIClient implements Client using the official Docker Go SDK.
type APIClient struct {
	api     *client.Client
	timeout time.Duration
}

// NewAPIClient initializes a Docker client for the given API host. An empty
// host uses the SDK's environment defaults.
func NewAPIClient(host string, timeout time.Duration) (*APIClient, error) {
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}

	httpClient := &http.Client{Timeout: timeout}

	opts := []client.Opt{
		client.WithAPIVersionNegotiation(),
		client.WithHTTPClient(httpClient),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	api, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, err
	}

	return &APIClient{
		api:     api,
		timeout: timeout,
	}, nil
}

// Ping validates connectivity to the Docker daemon.
func (c *APIClient) Ping(ctx context.Context) error {
	if c == nil || c.api == nil {
		return errors.New("docker client is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.api.Ping(ctx)
	return err
}

// ContainerState implements Client.
func (c *APIClient) ContainerState(ctx context.Context, name string) (State, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	inspect, err := c.api.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return State{}, nil
		}
		return State{}, err
	}

	state := State{Exists: true}
	if inspect.State != nil {
		state.Running = inspect.State.Running
		state.Status = inspect.State.Status
	}
	return state, nil
}

// StartContainer implements Client. The daemon treats starting a running
// container as a no-op, which matches the idempotent start contract.
func (c *APIClient) StartContainer(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return c.api.ContainerStart(ctx, name, container.StartOptions{})
}

// RestartContainer implements Client.
func (c *APIClient) RestartContainer(ctx context.Context, name string) error {
	grace := restartGrace
	// restart can legitimately take longer than an inspect call
	ctx, cancel := context.WithTimeout(ctx, c.timeout+time.Duration(grace)*time.Second)
	defer cancel()

	return c.api.ContainerRestart(ctx, name, container.StopOptions{Timeout: &grace})
}
