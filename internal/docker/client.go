package docker

import (
	"context"
)

// State is the observed liveness of one container.
type State struct {
	Exists  bool
	Running bool
	// Status is the raw container status (running, exited, restarting, ...).
	Status string
}

// Client is the subset of container operations the prober and executor need.
type Client interface {
	// Ping validates connectivity to the daemon.
	Ping(ctx context.Context) error
	// ContainerState inspects a container by name. A missing container is a
	// State with Exists false, not an error.
	ContainerState(ctx context.Context, name string) (State, error)
	// StartContainer starts a container. Starting a running container is a
	// no-op success.
	StartContainer(ctx context.Context, name string) error
	// RestartContainer stops the container if running, then starts it.
	RestartContainer(ctx context.Context, name string) error
}
