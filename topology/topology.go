package topology

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/neo4j-contrib/boltkit/addressing"
	"github.com/neo4j-contrib/boltkit/telemetry"
)

// Default host ports. Cluster ports live well away from the standalone
// defaults so a standalone instance and a cluster can coexist.
const (
	DefaultBoltPort        = 7687
	DefaultHTTPPort        = 7474
	DefaultClusterBoltPort = 17601
	DefaultClusterHTTPPort = 17401
)

// Default images by shape.
const (
	DefaultImage        = "neo4j:latest"
	DefaultClusterImage = "neo4j:enterprise"
)

// addTimeout bounds the readiness wait for a machine added to a running
// cluster.
const addTimeout = 300 * time.Second

// slot is one entry of the ordered spec-to-machine table. A nil machine
// means the spec is reserved but not yet provisioned.
type slot struct {
	spec    *MachineSpec
	machine *Machine
}

// Topology owns the spec-to-machine table for one named cluster and
// orchestrates the concurrent start/await/stop protocol over it. The
// machine table must not be mutated (add/remove) while a whole-topology
// fan-out is in flight; that discipline is the caller's.
type Topology struct {
	Name  string
	Image string
	Auth  Auth

	runtime ContainerRuntime
	driver  Driver

	clustered bool
	pool      *SpecPool
	networkID string

	slots []*slot

	routers  []*Machine
	readers  []*Machine
	writers  []*Machine
	ttl      time.Duration
	resolved bool
}

// Options is the requested shape of a topology. Cores > 0 selects the
// cluster variant; zero selects standalone.
type Options struct {
	Name     string
	Image    string
	Auth     Auth
	Cores    int
	Replicas int
	BoltPort int
	HTTPPort int
	Config   map[string]string

	Runtime ContainerRuntime
	Driver  Driver
}

// GenerateName produces a short random cluster name.
func GenerateName() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return hex[len(hex)-7:]
}

// GenerateAuth produces default credentials with a random password.
func GenerateAuth() Auth {
	return Auth{User: "neo4j", Password: GenerateName()}
}

// New builds a standalone or cluster topology from the requested shape.
// Machines are bound but no containers exist until Start.
func New(opts Options) (*Topology, error) {
	if opts.Name == "" {
		opts.Name = GenerateName()
	}
	if opts.Auth == (Auth{}) {
		opts.Auth = GenerateAuth()
	}
	if opts.Auth.User != "neo4j" {
		return nil, fmt.Errorf("auth user must be 'neo4j' or empty, got %q", opts.Auth.User)
	}

	t := &Topology{
		Name:      opts.Name,
		Auth:      opts.Auth,
		runtime:   opts.Runtime,
		driver:    opts.Driver,
		clustered: opts.Cores > 0,
	}

	if !t.clustered {
		t.Image = opts.Image
		if t.Image == "" {
			t.Image = DefaultImage
		}
		spec := NewMachineSpec(
			"a",
			t.Name,
			portOr(opts.BoltPort, DefaultBoltPort),
			portOr(opts.HTTPPort, DefaultHTTPPort),
			RoleStandalone,
			opts.Config,
			0,
		)
		t.slots = append(t.slots, &slot{
			spec:    spec,
			machine: NewMachine(spec, t.Image, t.Auth, t.runtime, t.driver),
		})
		return t, nil
	}

	t.Image = opts.Image
	if t.Image == "" {
		t.Image = DefaultClusterImage
	}
	cores := opts.Cores
	replicas := opts.Replicas
	if cores < MinCores || cores > MaxCores {
		return nil, &ShapeError{Role: RoleCore, Count: cores, Min: MinCores, Max: MaxCores}
	}
	if replicas < MinReplicas || replicas > MaxReplicas {
		return nil, &ShapeError{Role: RoleReplica, Count: replicas, Min: MinReplicas, Max: MaxReplicas}
	}

	t.pool = NewSpecPool(
		t.Name,
		portOr(opts.BoltPort, DefaultClusterBoltPort),
		portOr(opts.HTTPPort, DefaultClusterHTTPPort),
		opts.Config,
		cores,
	)
	for i := 0; i < cores; i++ {
		spec, err := t.pool.TakeCore()
		if err != nil {
			return nil, err
		}
		t.slots = append(t.slots, &slot{spec: spec})
	}
	for i := 0; i < replicas; i++ {
		spec, err := t.pool.TakeReplica()
		if err != nil {
			return nil, err
		}
		t.slots = append(t.slots, &slot{spec: spec})
	}
	t.bootMachines()
	return t, nil
}

func portOr(port, fallback int) int {
	if port != 0 {
		return port
	}
	return fallback
}

// bootMachines stamps the current core discovery-member list into every
// not-yet-provisioned spec and binds a machine to it. Already-running
// cores keep their original member list; that staleness window is
// deliberate, matching the cluster's observed formation behavior.
func (t *Topology) bootMachines() {
	var discovery []string
	for _, s := range t.slots {
		if s.spec.Role == RoleCore {
			discovery = append(discovery, s.spec.DiscoveryAddress())
		}
	}
	members := strings.Join(discovery, ",")
	for _, s := range t.slots {
		if s.machine != nil {
			continue
		}
		if t.clustered {
			s.spec.Config["causal_clustering.initial_discovery_members"] = members
		}
		s.machine = NewMachine(s.spec, t.Image, t.Auth, t.runtime, t.driver)
	}
}

// Machines returns the bound machines in slot order.
func (t *Topology) Machines() []*Machine {
	machines := make([]*Machine, 0, len(t.slots))
	for _, s := range t.slots {
		if s.machine != nil {
			machines = append(machines, s.machine)
		}
	}
	return machines
}

// Specs returns the active specs in slot order.
func (t *Topology) Specs() []*MachineSpec {
	specs := make([]*MachineSpec, 0, len(t.slots))
	for _, s := range t.slots {
		specs = append(specs, s.spec)
	}
	return specs
}

// Clustered reports whether this topology is the cluster variant.
func (t *Topology) Clustered() bool { return t.clustered }

// Pool exposes the free spec pools, nil for standalone topologies.
func (t *Topology) Pool() *SpecPool { return t.pool }

// Cores returns the machines bound to core specs.
func (t *Topology) Cores() []*Machine {
	return t.byRole(RoleCore)
}

// Replicas returns the machines bound to replica specs.
func (t *Topology) Replicas() []*Machine {
	return t.byRole(RoleReplica)
}

func (t *Topology) byRole(role Role) []*Machine {
	var machines []*Machine
	for _, s := range t.slots {
		if s.spec.Role == role && s.machine != nil {
			machines = append(machines, s.machine)
		}
	}
	return machines
}

// Routers returns the machines that can serve routing queries: the cores
// of a cluster, or every machine of a standalone topology.
func (t *Topology) Routers() []*Machine {
	if t.clustered {
		return t.Cores()
	}
	if t.resolved {
		return append([]*Machine(nil), t.routers...)
	}
	return t.Machines()
}

// Readers returns the cached reader machines, nil until routing has been
// resolved.
func (t *Topology) Readers() []*Machine {
	if !t.resolved {
		return nil
	}
	return append([]*Machine(nil), t.readers...)
}

// Writers returns the cached writer machines, nil until routing has been
// resolved.
func (t *Topology) Writers() []*Machine {
	if !t.resolved {
		return nil
	}
	return append([]*Machine(nil), t.writers...)
}

// TTL returns the cached routing time-to-live.
func (t *Topology) TTL() time.Duration { return t.ttl }

// Resolved reports whether routing information has ever been resolved.
func (t *Topology) Resolved() bool { return t.resolved }

// Addresses returns the bolt addresses of all routers.
func (t *Topology) Addresses() addressing.List {
	var list addressing.List
	for _, m := range t.Routers() {
		list = append(list, m.Spec.BoltAddress())
	}
	return list
}

// Env lists the environment variables this topology makes available to
// clients.
func (t *Topology) Env() map[string]string {
	return map[string]string{
		"BOLT_SERVER_ADDR": t.Addresses().String(),
		"NEO4J_AUTH":       t.Auth.User + ":" + t.Auth.Password,
	}
}

// forEachMachine fans one unit of work per machine out concurrently and
// joins before returning. Each unit touches only its own machine.
func (t *Topology) forEachMachine(f func(*Machine)) {
	var wg sync.WaitGroup
	for _, m := range t.Machines() {
		wg.Add(1)
		go func(m *Machine) {
			defer wg.Done()
			f(m)
		}(m)
	}
	wg.Wait()
}

// Start creates the cluster network, starts every machine concurrently
// and, when a timeout is given, awaits readiness of the whole topology.
// On readiness failure the already-started machines are left running for
// inspection.
func (t *Topology) Start(ctx context.Context, timeout time.Duration) error {
	log.Info().Str("cluster", t.Name).Str("image", t.Image).Msg("Starting cluster")
	networkID, err := t.runtime.CreateNetwork(ctx, t.Name)
	if err != nil {
		return fmt.Errorf("create network %q: %w", t.Name, err)
	}
	t.networkID = networkID

	var mu sync.Mutex
	var startErrs []error
	t.forEachMachine(func(m *Machine) {
		if err := m.Start(ctx); err != nil {
			log.Error().Err(err).Str("machine", m.Spec.FQName()).Msg("Machine failed to start")
			m.Readiness = Failed
			mu.Lock()
			startErrs = append(startErrs, err)
			mu.Unlock()
		}
	})

	if timeout > 0 {
		return t.AwaitStarted(ctx, timeout)
	}
	return errors.Join(startErrs...)
}

// AwaitStarted polls every machine for readiness concurrently and fails
// the start as a whole unless all machines become ready.
func (t *Topology) AwaitStarted(ctx context.Context, timeout time.Duration) error {
	t.forEachMachine(func(m *Machine) {
		if m.Readiness != Failed {
			m.AwaitStarted(ctx, timeout)
		}
	})

	readiness := make(map[string]Readiness, len(t.slots))
	allReady := true
	for _, m := range t.Machines() {
		readiness[m.Spec.FQName()] = m.Readiness
		if m.Readiness != Ready {
			allReady = false
		}
	}
	if !allReady {
		log.Error().Str("cluster", t.Name).Msg("Cluster unavailable - some machines failed")
		return &NotReadyError{Cluster: t.Name, Readiness: readiness}
	}
	log.Info().Str("cluster", t.Name).Msg("Cluster available")
	return nil
}

// Stop stops every machine concurrently, best-effort, then removes the
// cluster network.
func (t *Topology) Stop(ctx context.Context) error {
	log.Info().Str("cluster", t.Name).Msg("Stopping cluster")
	t.forEachMachine(func(m *Machine) {
		if err := m.Stop(ctx); err != nil {
			log.Error().Err(err).Str("machine", m.Spec.FQName()).Msg("Machine failed to stop")
		}
	})
	if t.networkID == "" {
		return nil
	}
	if err := t.runtime.RemoveNetwork(ctx, t.networkID); err != nil {
		return fmt.Errorf("remove network %q: %w", t.Name, err)
	}
	t.networkID = ""
	return nil
}

// AddCore allocates the next free core spec, boots a machine for it and
// awaits its readiness. Only not-yet-provisioned specs see the updated
// discovery-member list.
func (t *Topology) AddCore(ctx context.Context) (*MachineSpec, error) {
	return t.add(ctx, t.pool.TakeCore)
}

// AddReplica allocates the next free replica spec, boots a machine for it
// and awaits its readiness.
func (t *Topology) AddReplica(ctx context.Context) (*MachineSpec, error) {
	return t.add(ctx, t.pool.TakeReplica)
}

func (t *Topology) add(ctx context.Context, take func() (*MachineSpec, error)) (*MachineSpec, error) {
	if !t.clustered {
		return nil, errors.New("machines can only be added to a cluster")
	}
	spec, err := take()
	if err != nil {
		return nil, err
	}
	s := &slot{spec: spec}
	t.slots = append(t.slots, s)
	t.bootMachines()
	if err := s.machine.Start(ctx); err != nil {
		return spec, err
	}
	s.machine.AwaitStarted(ctx, addTimeout)
	return spec, nil
}

// Remove stops the machine bound to spec, drops it from the table and
// returns the spec to its free pool so its name and ports are reusable.
func (t *Topology) Remove(ctx context.Context, spec *MachineSpec) error {
	for i, s := range t.slots {
		if s.spec != spec {
			continue
		}
		t.slots = append(t.slots[:i], t.slots[i+1:]...)
		if s.machine != nil {
			if err := s.machine.Stop(ctx); err != nil {
				return err
			}
		}
		if t.pool != nil {
			t.pool.Return(spec)
		}
		return nil
	}
	return fmt.Errorf("machine %q not found", spec.FQName())
}

// RemoveByName removes every machine matching name: a short name, a fully
// qualified name, or the role shorthands "r" (readers) and "w" (writers).
// Role shorthands match nothing until routing has been resolved. The
// number of machines removed is returned.
func (t *Topology) RemoveByName(ctx context.Context, name string) (int, error) {
	removed := 0
	for _, s := range append([]*slot(nil), t.slots...) {
		match := false
		switch name {
		case "r":
			match = t.resolved && containsMachine(t.readers, s.machine)
		case "w":
			match = t.resolved && containsMachine(t.writers, s.machine)
		default:
			match = name == s.spec.Name || name == s.spec.FQName()
		}
		if !match {
			continue
		}
		if err := t.Remove(ctx, s.spec); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func containsMachine(machines []*Machine, m *Machine) bool {
	if m == nil {
		return false
	}
	for _, candidate := range machines {
		if candidate == m {
			return true
		}
	}
	return false
}

// FindByAddress resolves a bolt address to the tracked machine listening
// on it, or nil when the address belongs to no tracked machine.
func (t *Topology) FindByAddress(addr addressing.Address) *Machine {
	for _, s := range t.slots {
		if s.spec.BoltAddress().Equal(addr) {
			return s.machine
		}
	}
	return nil
}

// ResolveRouting queries a router for the cluster routing table and caches
// the role lists resolved back onto tracked machines. Addresses this
// process does not track are dropped. On any failure the previous cache is
// left untouched.
func (t *Topology) ResolveRouting(ctx context.Context) error {
	table, err := t.driver.GetRoutingTable(ctx, t.Addresses(), t.Auth)
	if err != nil {
		telemetry.RoutingRefreshTotal.With("failed").Inc()
		return err
	}
	t.routers = t.resolveAddresses(table.Routers)
	t.readers = t.resolveAddresses(table.Readers)
	t.writers = t.resolveAddresses(table.Writers)
	t.ttl = table.TTL
	t.resolved = true
	telemetry.RoutingRefreshTotal.With("success").Inc()
	return nil
}

func (t *Topology) resolveAddresses(addrs addressing.List) []*Machine {
	var machines []*Machine
	for _, addr := range addrs {
		if m := t.FindByAddress(addr); m != nil {
			machines = append(machines, m)
		}
	}
	return machines
}

// FindAndStop sweeps the runtime for containers belonging to the named
// cluster, stops and removes them, then removes the cluster network.
// Useful for cleaning up a cluster whose owning process is gone.
func FindAndStop(ctx context.Context, runtime ContainerRuntime, clusterName string) error {
	containers, err := runtime.ListContainers(ctx, true)
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}
	suffix := "." + clusterName
	for _, c := range containers {
		if !strings.HasSuffix(c.Name, suffix) {
			continue
		}
		handle := runtime.Container(c.ID)
		if err := handle.Stop(ctx); err != nil {
			log.Error().Err(err).Str("container", c.Name).Msg("Container failed to stop")
		}
		if err := handle.Remove(ctx, true); err != nil {
			return fmt.Errorf("remove container %q: %w", c.Name, err)
		}
	}
	return runtime.RemoveNetwork(ctx, clusterName)
}
