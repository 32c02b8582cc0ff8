package topology

import (
	"context"
	"time"

	"github.com/neo4j-contrib/boltkit/addressing"
)

// Auth is the credential pair passed to every machine and probe.
type Auth struct {
	User     string
	Password string
}

// ContainerCreateOptions carries everything the runtime needs to create
// one machine's container.
type ContainerCreateOptions struct {
	Image    string
	Env      map[string]string
	Hostname string
	Name     string
	Network  string
	// PortBindings maps container ports ("7687/tcp") to host ports.
	PortBindings map[string]int
}

// ContainerState is a point-in-time view of a container.
type ContainerState struct {
	Status   string
	ExitCode int
	// IPAddresses maps network name to the container's address on it.
	IPAddresses map[string]string
}

// ContainerSummary identifies one container in a runtime listing.
type ContainerSummary struct {
	ID   string
	Name string
}

// ContainerHandle is the per-container surface a Machine operates on.
type ContainerHandle interface {
	ID() string
	Start(ctx context.Context) error
	Inspect(ctx context.Context) (ContainerState, error)
	Stop(ctx context.Context) error
	Remove(ctx context.Context, force bool) error
	Logs(ctx context.Context) ([]byte, error)
}

// ContainerRuntime is the capability set consumed from the container
// engine. CreateContainer returns ErrImageNotFound (wrapped) when the
// image is absent locally.
type ContainerRuntime interface {
	CreateContainer(ctx context.Context, opts ContainerCreateOptions) (ContainerHandle, error)
	// Container rebinds an existing container by ID, e.g. one found via
	// ListContainers.
	Container(id string) ContainerHandle
	PullImage(ctx context.Context, image string) error
	CreateNetwork(ctx context.Context, name string) (string, error)
	RemoveNetwork(ctx context.Context, id string) error
	ListContainers(ctx context.Context, all bool) ([]ContainerSummary, error)
}

// RoutingTable is the parsed result of the cluster routing query.
type RoutingTable struct {
	TTL     time.Duration
	Routers addressing.List
	Readers addressing.List
	Writers addressing.List
}

// Driver is the capability set consumed from the database client: a
// liveness probe and the routing-table query.
type Driver interface {
	// Ping opens and immediately closes a connection. A zero timeout means
	// fail fast if not already connectable.
	Ping(ctx context.Context, addr addressing.Address, auth Auth, timeout time.Duration) error
	// GetRoutingTable runs the routing query against the first reachable
	// address. It returns ErrNoRoutingInfo (wrapped) when the query yields
	// no records.
	GetRoutingTable(ctx context.Context, addrs addressing.List, auth Auth) (RoutingTable, error)
}
