package topology

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neo4j-contrib/boltkit/addressing"
)

// fakeRuntime is an in-memory ContainerRuntime with configurable failures
// and call tracking.
type fakeRuntime struct {
	mu sync.Mutex

	containers map[string]*fakeHandle
	networks   map[string]string

	// missingImages marks images that are absent until pulled.
	missingImages map[string]bool
	pulls         []string
	createCalls   int

	createErr error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		containers:    make(map[string]*fakeHandle),
		networks:      make(map[string]string),
		missingImages: make(map[string]bool),
	}
}

func (r *fakeRuntime) CreateContainer(ctx context.Context, opts ContainerCreateOptions) (ContainerHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	if r.createErr != nil {
		return nil, r.createErr
	}
	if r.missingImages[opts.Image] {
		return nil, fmt.Errorf("%s: %w", opts.Image, ErrImageNotFound)
	}
	handle := &fakeHandle{
		id:     "cid-" + opts.Name,
		name:   opts.Name,
		opts:   opts,
		status: "created",
		ip:     "10.0.0.2",
	}
	r.containers[handle.id] = handle
	return handle, nil
}

func (r *fakeRuntime) Container(id string) ContainerHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if handle, ok := r.containers[id]; ok {
		return handle
	}
	handle := &fakeHandle{id: id, status: "running"}
	r.containers[id] = handle
	return handle
}

func (r *fakeRuntime) PullImage(ctx context.Context, image string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pulls = append(r.pulls, image)
	delete(r.missingImages, image)
	return nil
}

func (r *fakeRuntime) CreateNetwork(ctx context.Context, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := "net-" + name
	r.networks[name] = id
	return id, nil
}

func (r *fakeRuntime) RemoveNetwork(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, netID := range r.networks {
		if netID == id || name == id {
			delete(r.networks, name)
			return nil
		}
	}
	return errors.New("network not found")
}

func (r *fakeRuntime) ListContainers(ctx context.Context, all bool) ([]ContainerSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var summaries []ContainerSummary
	for _, handle := range r.containers {
		if !all && handle.status != "running" {
			continue
		}
		summaries = append(summaries, ContainerSummary{ID: handle.id, Name: handle.name})
	}
	return summaries, nil
}

// fakeHandle is a fakeRuntime container.
type fakeHandle struct {
	mu sync.Mutex

	id   string
	name string
	opts ContainerCreateOptions

	status   string
	exitCode int
	ip       string
	logs     []byte
	removed  bool

	startErr error
	// exitOnStart makes the container die right after starting.
	exitOnStart     bool
	exitCodeOnStart int
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.startErr != nil {
		return h.startErr
	}
	if h.exitOnStart {
		h.status = "exited"
		h.exitCode = h.exitCodeOnStart
	} else {
		h.status = "running"
	}
	return nil
}

func (h *fakeHandle) Inspect(ctx context.Context) (ContainerState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return ContainerState{
		Status:      h.status,
		ExitCode:    h.exitCode,
		IPAddresses: map[string]string{h.opts.Network: h.ip},
	}, nil
}

func (h *fakeHandle) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = "exited"
	return nil
}

func (h *fakeHandle) Remove(ctx context.Context, force bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = true
	return nil
}

func (h *fakeHandle) Logs(ctx context.Context) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.logs, nil
}

// markExited flips a running fake container to exited, as if the process
// inside died.
func (h *fakeHandle) markExited(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = "exited"
	h.exitCode = code
}

// fakeDriver is an in-memory Driver with per-address ping outcomes and a
// scripted routing table.
type fakeDriver struct {
	mu sync.Mutex

	pingErrs map[string]error
	pings    []string

	table    RoutingTable
	tableErr error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{pingErrs: make(map[string]error)}
}

func (d *fakeDriver) failPing(addr addressing.Address, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pingErrs[addr.String()] = err
}

func (d *fakeDriver) Ping(ctx context.Context, addr addressing.Address, auth Auth, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pings = append(d.pings, addr.String())
	return d.pingErrs[addr.String()]
}

func (d *fakeDriver) GetRoutingTable(ctx context.Context, addrs addressing.List, auth Auth) (RoutingTable, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tableErr != nil {
		return RoutingTable{}, d.tableErr
	}
	return d.table, nil
}

// newTestTopology builds a cluster topology against fakes.
func newTestTopology(cores, replicas int) (*Topology, *fakeRuntime, *fakeDriver, error) {
	runtime := newFakeRuntime()
	driver := newFakeDriver()
	topo, err := New(Options{
		Name:     "t1",
		Auth:     Auth{User: "neo4j", Password: "pw"},
		Cores:    cores,
		Replicas: replicas,
		Runtime:  runtime,
		Driver:   driver,
	})
	return topo, runtime, driver, err
}
