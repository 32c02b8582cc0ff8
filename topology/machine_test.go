package topology

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	settleDelay = time.Millisecond
	os.Exit(m.Run())
}

func newTestMachine(runtime *fakeRuntime, driver *fakeDriver) *Machine {
	spec := NewMachineSpec("a", "c1", 17601, 17401, RoleCore, nil, 3)
	return NewMachine(spec, "neo4j:enterprise", Auth{User: "neo4j", Password: "pw"}, runtime, driver)
}

func TestMachineStart(t *testing.T) {
	runtime := newFakeRuntime()
	m := newTestMachine(runtime, newFakeDriver())

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, "10.0.0.2", m.IPAddress)
	assert.Equal(t, "cid-a.c1", m.ContainerID())
	assert.Equal(t, ReadinessUnknown, m.Readiness)

	handle := runtime.containers["cid-a.c1"]
	assert.Equal(t, "a.c1", handle.opts.Hostname)
	assert.Equal(t, "c1", handle.opts.Network)
	assert.Equal(t, 17601, handle.opts.PortBindings["7687/tcp"])
	assert.Equal(t, 17401, handle.opts.PortBindings["7474/tcp"])
}

func TestMachineStartPullsMissingImageOnce(t *testing.T) {
	runtime := newFakeRuntime()
	runtime.missingImages["neo4j:enterprise"] = true
	m := newTestMachine(runtime, newFakeDriver())

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, []string{"neo4j:enterprise"}, runtime.pulls)
	assert.Equal(t, 2, runtime.createCalls, "create is retried exactly once after the pull")
}

func TestMachineStartPropagatesCreateFailure(t *testing.T) {
	runtime := newFakeRuntime()
	runtime.createErr = errors.New("daemon unavailable")
	m := newTestMachine(runtime, newFakeDriver())

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Empty(t, runtime.pulls, "only a missing image triggers a pull")
}

func TestMachineEnvironment(t *testing.T) {
	spec := NewMachineSpec("a", "c1", 17601, 17401, RoleCore,
		map[string]string{"dbms.memory.heap.max_size": "1g"}, 3)
	m := NewMachine(spec, "neo4j:enterprise", Auth{User: "neo4j", Password: "pw"}, newFakeRuntime(), newFakeDriver())

	env := m.environment()
	assert.Equal(t, "neo4j/pw", env["NEO4J_AUTH"])
	assert.Equal(t, "yes", env["NEO4J_ACCEPT_LICENSE_AGREEMENT"])
	assert.Equal(t, "1g", env["NEO4J_dbms_memory_heap_max__size"])
	assert.Equal(t, "CORE", env["NEO4J_dbms_mode"])
	assert.Equal(t, "localhost:17601", env["NEO4J_dbms_connector_bolt_advertised__address"])
}

func TestMachineEnvironmentCommunityImage(t *testing.T) {
	spec := NewMachineSpec("a", "c1", 7687, 7474, RoleStandalone, nil, 0)
	m := NewMachine(spec, "neo4j:latest", Auth{}, newFakeRuntime(), newFakeDriver())

	env := m.environment()
	_, hasAuth := env["NEO4J_AUTH"]
	assert.False(t, hasAuth)
	_, hasLicense := env["NEO4J_ACCEPT_LICENSE_AGREEMENT"]
	assert.False(t, hasLicense)
}

func TestMachineAwaitStartedReady(t *testing.T) {
	runtime := newFakeRuntime()
	m := newTestMachine(runtime, newFakeDriver())
	require.NoError(t, m.Start(context.Background()))

	m.AwaitStarted(context.Background(), 5*time.Second)
	assert.Equal(t, Ready, m.Readiness)
}

func TestMachineAwaitStartedProbeTimeout(t *testing.T) {
	runtime := newFakeRuntime()
	driver := newFakeDriver()
	m := newTestMachine(runtime, driver)
	require.NoError(t, m.Start(context.Background()))
	driver.failPing(m.Spec.BoltAddress(), errors.New("connection refused"))

	m.AwaitStarted(context.Background(), time.Second)
	assert.Equal(t, Failed, m.Readiness)
}

func TestMachineAwaitStartedExited(t *testing.T) {
	runtime := newFakeRuntime()
	driver := newFakeDriver()
	m := newTestMachine(runtime, driver)
	require.NoError(t, m.Start(context.Background()))

	// Probe fails and the container has died in the meantime.
	driver.failPing(m.Spec.BoltAddress(), errors.New("connection refused"))
	handle := runtime.containers[m.ContainerID()]
	handle.logs = []byte("out of memory\n")

	go func() {
		time.Sleep(time.Millisecond / 2)
		handle.markExited(137)
	}()
	m.AwaitStarted(context.Background(), time.Second)
	assert.Equal(t, Failed, m.Readiness)
}

func TestMachineAwaitStartedNotRunning(t *testing.T) {
	runtime := newFakeRuntime()
	m := newTestMachine(runtime, newFakeDriver())
	require.NoError(t, m.Start(context.Background()))
	runtime.containers[m.ContainerID()].markExited(1)

	m.AwaitStarted(context.Background(), time.Second)
	assert.Equal(t, Failed, m.Readiness)
}

func TestMachineStop(t *testing.T) {
	runtime := newFakeRuntime()
	m := newTestMachine(runtime, newFakeDriver())
	require.NoError(t, m.Start(context.Background()))

	require.NoError(t, m.Stop(context.Background()))
	handle := runtime.containers[m.ContainerID()]
	assert.Equal(t, "exited", handle.status)
	assert.True(t, handle.removed)
}

func TestMachineStopWithoutContainer(t *testing.T) {
	m := newTestMachine(newFakeRuntime(), newFakeDriver())
	assert.NoError(t, m.Stop(context.Background()))
}
