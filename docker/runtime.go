// Package docker binds the topology's container-runtime capability set to
// the Docker Engine API.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/neo4j-contrib/boltkit/topology"
)

// Runtime implements topology.ContainerRuntime over a Docker client
// configured from the environment.
type Runtime struct {
	cli *client.Client
}

func NewRuntime() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connect to docker: %w", err)
	}
	return &Runtime{cli: cli}, nil
}

func (r *Runtime) CreateContainer(ctx context.Context, opts topology.ContainerCreateOptions) (topology.ContainerHandle, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for portSpec, hostPort := range opts.PortBindings {
		port := nat.Port(portSpec)
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostPort: strconv.Itoa(hostPort)}}
	}
	env := make([]string, 0, len(opts.Env))
	for key, value := range opts.Env {
		env = append(env, key+"="+value)
	}

	resp, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        opts.Image,
			Env:          env,
			Hostname:     opts.Hostname,
			ExposedPorts: exposed,
		},
		&container.HostConfig{
			PortBindings: bindings,
		},
		&network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				opts.Network: {},
			},
		},
		nil,
		opts.Name,
	)
	if errdefs.IsNotFound(err) {
		return nil, fmt.Errorf("%s: %w", opts.Image, topology.ErrImageNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &handle{cli: r.cli, id: resp.ID}, nil
}

func (r *Runtime) Container(id string) topology.ContainerHandle {
	return &handle{cli: r.cli, id: id}
}

func (r *Runtime) PullImage(ctx context.Context, image string) error {
	reader, err := r.cli.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	// The pull completes only once the progress stream is drained.
	_, err = io.Copy(io.Discard, reader)
	return err
}

func (r *Runtime) CreateNetwork(ctx context.Context, name string) (string, error) {
	resp, err := r.cli.NetworkCreate(ctx, name, types.NetworkCreate{CheckDuplicate: true})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (r *Runtime) RemoveNetwork(ctx context.Context, id string) error {
	return r.cli.NetworkRemove(ctx, id)
}

func (r *Runtime) ListContainers(ctx context.Context, all bool) ([]topology.ContainerSummary, error) {
	containers, err := r.cli.ContainerList(ctx, types.ContainerListOptions{All: all})
	if err != nil {
		return nil, err
	}
	summaries := make([]topology.ContainerSummary, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		summaries = append(summaries, topology.ContainerSummary{ID: c.ID, Name: name})
	}
	return summaries, nil
}

// handle implements topology.ContainerHandle for one Docker container.
type handle struct {
	cli *client.Client
	id  string
}

func (h *handle) ID() string {
	return h.id
}

func (h *handle) Start(ctx context.Context) error {
	return h.cli.ContainerStart(ctx, h.id, types.ContainerStartOptions{})
}

func (h *handle) Inspect(ctx context.Context) (topology.ContainerState, error) {
	info, err := h.cli.ContainerInspect(ctx, h.id)
	if err != nil {
		return topology.ContainerState{}, err
	}
	state := topology.ContainerState{
		IPAddresses: map[string]string{},
	}
	if info.State != nil {
		state.Status = info.State.Status
		state.ExitCode = info.State.ExitCode
	}
	if info.NetworkSettings != nil {
		for name, endpoint := range info.NetworkSettings.Networks {
			state.IPAddresses[name] = endpoint.IPAddress
		}
	}
	return state, nil
}

func (h *handle) Stop(ctx context.Context) error {
	return h.cli.ContainerStop(ctx, h.id, container.StopOptions{})
}

func (h *handle) Remove(ctx context.Context, force bool) error {
	return h.cli.ContainerRemove(ctx, h.id, types.ContainerRemoveOptions{Force: force})
}

func (h *handle) Logs(ctx context.Context) ([]byte, error) {
	reader, err := h.cli.ContainerLogs(ctx, h.id, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	// Non-TTY container streams are multiplexed; demux into one buffer.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
