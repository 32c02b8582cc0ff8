package console

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neo4j-contrib/boltkit/addressing"
	"github.com/neo4j-contrib/boltkit/topology"
)

// stubRuntime is the minimal container runtime a console test needs.
type stubRuntime struct{}

type stubHandle struct{ id string }

func (h *stubHandle) ID() string                        { return h.id }
func (h *stubHandle) Start(ctx context.Context) error   { return nil }
func (h *stubHandle) Stop(ctx context.Context) error    { return nil }
func (h *stubHandle) Remove(ctx context.Context, force bool) error { return nil }
func (h *stubHandle) Logs(ctx context.Context) ([]byte, error)     { return []byte("log line"), nil }
func (h *stubHandle) Inspect(ctx context.Context) (topology.ContainerState, error) {
	return topology.ContainerState{Status: "running", IPAddresses: map[string]string{}}, nil
}

func (r *stubRuntime) CreateContainer(ctx context.Context, opts topology.ContainerCreateOptions) (topology.ContainerHandle, error) {
	return &stubHandle{id: "cid-" + opts.Name}, nil
}
func (r *stubRuntime) Container(id string) topology.ContainerHandle { return &stubHandle{id: id} }
func (r *stubRuntime) PullImage(ctx context.Context, image string) error { return nil }
func (r *stubRuntime) CreateNetwork(ctx context.Context, name string) (string, error) {
	return "net-" + name, nil
}
func (r *stubRuntime) RemoveNetwork(ctx context.Context, id string) error { return nil }
func (r *stubRuntime) ListContainers(ctx context.Context, all bool) ([]topology.ContainerSummary, error) {
	return nil, nil
}

// stubDriver answers every ping and serves a scripted routing table.
type stubDriver struct {
	table    topology.RoutingTable
	tableErr error
}

func (d *stubDriver) Ping(ctx context.Context, addr addressing.Address, auth topology.Auth, timeout time.Duration) error {
	return nil
}
func (d *stubDriver) GetRoutingTable(ctx context.Context, addrs addressing.List, auth topology.Auth) (topology.RoutingTable, error) {
	return d.table, d.tableErr
}

type recorder struct {
	lines []string
}

func (r *recorder) write(line string) {
	r.lines = append(r.lines, line)
}

func (r *recorder) output() string {
	return strings.Join(r.lines, "\n")
}

func newTestConsole(t *testing.T, cores int, driver *stubDriver) (*Console, *recorder, *topology.Topology) {
	t.Helper()
	topo, err := topology.New(topology.Options{
		Name:    "c1",
		Auth:    topology.Auth{User: "neo4j", Password: "pw"},
		Cores:   cores,
		Runtime: &stubRuntime{},
		Driver:  driver,
	})
	require.NoError(t, err)
	out := &recorder{}
	return New(topo, out.write), out, topo
}

func TestDispatchUnknownCommand(t *testing.T) {
	c, out, _ := newTestConsole(t, 3, &stubDriver{})

	exit := c.Dispatch(context.Background(), "frobnicate")
	assert.False(t, exit, "unknown commands must not terminate the loop")
	assert.Equal(t, []string{"ERROR!"}, out.lines)
}

func TestDispatchEmptyLine(t *testing.T) {
	c, out, _ := newTestConsole(t, 3, &stubDriver{})

	assert.False(t, c.Dispatch(context.Background(), "   "))
	assert.Empty(t, out.lines)
}

func TestDispatchExit(t *testing.T) {
	c, _, _ := newTestConsole(t, 3, &stubDriver{})
	assert.True(t, c.Dispatch(context.Background(), "exit"))
}

func TestEnvCommand(t *testing.T) {
	c, out, _ := newTestConsole(t, 3, &stubDriver{})

	c.Dispatch(context.Background(), "env")
	require.Len(t, out.lines, 2)
	assert.Contains(t, out.lines[0], "BOLT_SERVER_ADDR=")
	assert.Equal(t, `NEO4J_AUTH="neo4j:pw"`, out.lines[1])
}

func TestListCommandBeforeRouting(t *testing.T) {
	c, out, _ := newTestConsole(t, 3, &stubDriver{})

	c.Dispatch(context.Background(), "ls")
	require.Len(t, out.lines, 4, "header plus one row per machine")
	assert.Contains(t, out.lines[0], "NAME")
	for _, row := range out.lines[1:] {
		assert.Contains(t, row, "?", "roles are unknown until routing is resolved")
		assert.Contains(t, row, "CORE")
	}
}

func TestPingCommandDefaultsToA(t *testing.T) {
	c, out, _ := newTestConsole(t, 3, &stubDriver{})

	c.Dispatch(context.Background(), "ping")
	require.Len(t, out.lines, 1)
	assert.Equal(t, "Machine a.c1 is available", out.lines[0])
}

func TestPingCommandUnknownMachine(t *testing.T) {
	c, out, _ := newTestConsole(t, 3, &stubDriver{})

	c.Dispatch(context.Background(), "ping z")
	assert.Equal(t, []string{"Machine z not found"}, out.lines)
}

func TestRoutingCommand(t *testing.T) {
	driver := &stubDriver{
		table: topology.RoutingTable{
			TTL:     300 * time.Second,
			Routers: addressing.List{addressing.Local(topology.DefaultClusterBoltPort)},
			Readers: addressing.List{addressing.Local(topology.DefaultClusterBoltPort + 1)},
			Writers: addressing.List{addressing.Local(topology.DefaultClusterBoltPort)},
		},
	}
	c, out, _ := newTestConsole(t, 3, driver)

	c.Dispatch(context.Background(), "rt")
	require.Len(t, out.lines, 4)
	assert.Contains(t, out.lines[1], "localhost:17602")
	assert.Contains(t, out.lines[2], "localhost:17601")
	assert.Contains(t, out.lines[3], "TTL")
}

func TestRoutingCommandFailure(t *testing.T) {
	driver := &stubDriver{tableErr: topology.ErrNoRoutingInfo}
	c, out, _ := newTestConsole(t, 3, driver)

	c.Dispatch(context.Background(), "rt")
	assert.Equal(t, []string{"Cannot obtain routing information"}, out.lines)
}

func TestHelpCommand(t *testing.T) {
	c, out, _ := newTestConsole(t, 3, &stubDriver{})

	c.Dispatch(context.Background(), "help")
	output := out.output()
	for _, name := range []string{"env", "exit", "help", "logs", "ls", "ping", "rt", "add-core", "add-replica", "rm"} {
		assert.Contains(t, output, name)
	}
	assert.Equal(t, "Commands:", out.lines[0])
}

func TestClusterCommandsAbsentOnStandalone(t *testing.T) {
	c, out, _ := newTestConsole(t, 0, &stubDriver{})

	c.Dispatch(context.Background(), "add-core")
	assert.Equal(t, []string{"ERROR!"}, out.lines)

	out.lines = nil
	c.Dispatch(context.Background(), "help")
	assert.NotContains(t, out.output(), "add-core")
}

func TestAddCoreCommand(t *testing.T) {
	c, out, topo := newTestConsole(t, 3, &stubDriver{})

	c.Dispatch(context.Background(), "add-core")
	require.Len(t, out.lines, 1)
	assert.Equal(t, `Added core machine "d.c1"`, out.lines[0])
	assert.Len(t, topo.Cores(), 4)
}

func TestAddCoreCommandCapacity(t *testing.T) {
	c, out, topo := newTestConsole(t, 7, &stubDriver{})

	c.Dispatch(context.Background(), "add-core")
	require.Len(t, out.lines, 1)
	assert.Equal(t, fmt.Sprintf("a maximum of %d CORE machines is permitted", topology.MaxCores), out.lines[0])
	assert.Len(t, topo.Cores(), 7)
}

func TestRemoveCommand(t *testing.T) {
	c, out, topo := newTestConsole(t, 3, &stubDriver{})

	c.Dispatch(context.Background(), "rm b")
	assert.Empty(t, out.lines)
	assert.Len(t, topo.Cores(), 2)

	c.Dispatch(context.Background(), "rm nope")
	assert.Equal(t, []string{"Machine nope not found"}, out.lines)
}

func TestRemoveCommandUsage(t *testing.T) {
	c, out, _ := newTestConsole(t, 3, &stubDriver{})

	c.Dispatch(context.Background(), "rm")
	assert.Equal(t, []string{"Usage: rm <name|r|w>"}, out.lines)
}

func TestLogsCommand(t *testing.T) {
	c, out, topo := newTestConsole(t, 3, &stubDriver{})
	require.NoError(t, topo.Start(context.Background(), 0))

	c.Dispatch(context.Background(), "logs b")
	assert.Equal(t, []string{"log line"}, out.lines)
}
