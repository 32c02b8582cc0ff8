package topology

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/neo4j-contrib/boltkit/telemetry"
)

// Readiness is the outcome of a machine's await-started probe.
type Readiness int

const (
	ReadinessUnknown Readiness = 0
	Ready            Readiness = 1
	Failed           Readiness = -1
)

func (r Readiness) String() string {
	switch r {
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// settleDelay gives the process inside a fresh container a moment to
// initialize before the first status check. Shortened in tests.
var settleDelay = time.Second

// Machine binds one spec to a container instance and owns its lifecycle:
// Start, AwaitStarted, Stop. Each machine touches only its own container,
// so topology fan-outs need no cross-machine locking.
type Machine struct {
	Spec  *MachineSpec
	Image string
	Auth  Auth

	runtime   ContainerRuntime
	driver    Driver
	container ContainerHandle

	IPAddress string
	Readiness Readiness
}

// NewMachine binds a spec to a runtime and driver. The container itself is
// created by Start.
func NewMachine(spec *MachineSpec, image string, auth Auth, runtime ContainerRuntime, driver Driver) *Machine {
	return &Machine{
		Spec:    spec,
		Image:   image,
		Auth:    auth,
		runtime: runtime,
		driver:  driver,
	}
}

// ContainerID returns the bound container's identifier, or "" before Start.
func (m *Machine) ContainerID() string {
	if m.container == nil {
		return ""
	}
	return m.container.ID()
}

// Start creates the machine's container on the cluster network and starts
// it, recording the assigned IP address. If the image is absent locally it
// is pulled once and creation retried exactly once.
func (m *Machine) Start(ctx context.Context) error {
	log.Info().
		Str("machine", m.Spec.FQName()).
		Stringer("address", m.Spec.BoltAddress()).
		Msg("Starting machine")

	opts := ContainerCreateOptions{
		Image:    m.Image,
		Env:      m.environment(),
		Hostname: m.Spec.FQName(),
		Name:     m.Spec.FQName(),
		Network:  m.Spec.ClusterName,
		PortBindings: map[string]int{
			"7687/tcp": m.Spec.BoltPort,
			"7474/tcp": m.Spec.HTTPPort,
		},
	}

	container, err := m.runtime.CreateContainer(ctx, opts)
	if errors.Is(err, ErrImageNotFound) {
		log.Info().Str("image", m.Image).Msg("Downloading image")
		if err := m.runtime.PullImage(ctx, m.Image); err != nil {
			return fmt.Errorf("pull image %q: %w", m.Image, err)
		}
		container, err = m.runtime.CreateContainer(ctx, opts)
	}
	if err != nil {
		return fmt.Errorf("create container %q: %w", m.Spec.FQName(), err)
	}
	m.container = container

	if err := m.container.Start(ctx); err != nil {
		return fmt.Errorf("start container %q: %w", m.Spec.FQName(), err)
	}
	state, err := m.container.Inspect(ctx)
	if err != nil {
		return fmt.Errorf("inspect container %q: %w", m.Spec.FQName(), err)
	}
	m.IPAddress = state.IPAddresses[m.Spec.ClusterName]
	telemetry.MachineStartsTotal.Inc()
	return nil
}

// Ping opens and immediately closes a bolt connection to the machine. A
// zero timeout fails fast if the machine is not already connectable.
func (m *Machine) Ping(ctx context.Context, timeout time.Duration) error {
	return m.driver.Ping(ctx, m.Spec.BoltAddress(), m.Auth, timeout)
}

// AwaitStarted polls the container and probes liveness, settling the
// machine's readiness. Failure diagnostics (exit code, logs) are captured
// into the log stream.
func (m *Machine) AwaitStarted(ctx context.Context, timeout time.Duration) {
	select {
	case <-time.After(settleDelay):
	case <-ctx.Done():
		m.setReadiness(Failed)
		return
	}

	state, err := m.container.Inspect(ctx)
	if err != nil {
		log.Error().Err(err).Str("machine", m.Spec.FQName()).Msg("Machine status unavailable")
		m.setReadiness(Failed)
		return
	}
	if state.Status != "running" {
		log.Error().
			Str("machine", m.Spec.FQName()).
			Str("status", state.Status).
			Msg("Machine is not running")
		m.dumpLogs(ctx)
		m.setReadiness(Failed)
		return
	}

	if err := m.Ping(ctx, timeout); err != nil {
		state, inspectErr := m.container.Inspect(ctx)
		if inspectErr == nil && state.Status == "exited" {
			log.Error().
				Str("machine", m.Spec.FQName()).
				Int("exit_code", state.ExitCode).
				Msg("Machine exited")
			m.dumpLogs(ctx)
		} else {
			log.Error().
				Str("machine", m.Spec.FQName()).
				Dur("timeout", timeout).
				Msg("Machine did not become available within timeout")
		}
		m.setReadiness(Failed)
		return
	}
	m.setReadiness(Ready)
}

// Stop stops and force-removes the machine's container, regardless of
// readiness.
func (m *Machine) Stop(ctx context.Context) error {
	log.Info().Str("machine", m.Spec.FQName()).Msg("Stopping machine")
	if m.container == nil {
		return nil
	}
	if err := m.container.Stop(ctx); err != nil {
		return fmt.Errorf("stop container %q: %w", m.Spec.FQName(), err)
	}
	if err := m.container.Remove(ctx, true); err != nil {
		return fmt.Errorf("remove container %q: %w", m.Spec.FQName(), err)
	}
	if m.Readiness == Ready {
		telemetry.MachinesRunning.Dec()
	}
	return nil
}

// Logs returns the machine's container output.
func (m *Machine) Logs(ctx context.Context) ([]byte, error) {
	if m.container == nil {
		return nil, fmt.Errorf("machine %q has no container", m.Spec.FQName())
	}
	return m.container.Logs(ctx)
}

func (m *Machine) setReadiness(r Readiness) {
	m.Readiness = r
	switch r {
	case Ready:
		telemetry.MachinesRunning.Inc()
	case Failed:
		telemetry.MachineFailuresTotal.Inc()
	}
}

func (m *Machine) dumpLogs(ctx context.Context) {
	output, err := m.container.Logs(ctx)
	if err != nil {
		log.Error().Err(err).Str("machine", m.Spec.FQName()).Msg("Machine logs unavailable")
		return
	}
	for _, line := range strings.Split(strings.TrimRight(string(output), "\n"), "\n") {
		log.Error().Str("machine", m.Spec.FQName()).Msgf("> %s", line)
	}
}

// environment renders the spec's config as NEO4J_-prefixed variables:
// underscores doubled, dots become single underscores. Credentials and,
// for enterprise images, license acceptance ride along.
func (m *Machine) environment() map[string]string {
	env := make(map[string]string, len(m.Spec.Config)+2)
	if m.Auth.User != "" {
		env["NEO4J_AUTH"] = m.Auth.User + "/" + m.Auth.Password
	}
	if strings.Contains(m.Image, "enterprise") {
		env["NEO4J_ACCEPT_LICENSE_AGREEMENT"] = "yes"
	}
	for _, key := range m.Spec.ConfigKeys() {
		name := "NEO4J_" + strings.ReplaceAll(strings.ReplaceAll(key, "_", "__"), ".", "_")
		env[name] = m.Spec.Config[key]
	}
	return env
}
