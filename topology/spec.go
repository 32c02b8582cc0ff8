package topology

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/neo4j-contrib/boltkit/addressing"
)

// Role determines how a machine participates in the cluster.
type Role int

const (
	RoleStandalone Role = iota
	RoleCore
	RoleReplica
)

func (r Role) String() string {
	switch r {
	case RoleCore:
		return "CORE"
	case RoleReplica:
		return "READ_REPLICA"
	default:
		return "SINGLE"
	}
}

// discoveryPort is the fixed port core members advertise for cluster formation.
const discoveryPort = 5000

// MachineSpec describes one node's identity, network config and role.
// Specs are immutable after construction and are the keys of a topology's
// machine table.
type MachineSpec struct {
	Name        string
	ClusterName string
	BoltPort    int
	HTTPPort    int
	Role        Role
	Config      map[string]string
}

// NewMachineSpec assembles a spec, merging the base config with caller
// overrides and forcing the role-derived settings.
func NewMachineSpec(name, clusterName string, boltPort, httpPort int, role Role, overrides map[string]string, formationSize int) *MachineSpec {
	return &MachineSpec{
		Name:        name,
		ClusterName: clusterName,
		BoltPort:    boltPort,
		HTTPPort:    httpPort,
		Role:        role,
		Config:      deriveConfig(role, boltPort, overrides, formationSize),
	}
}

// FQName is the globally unique machine identifier, also used as the
// container name and hostname.
func (s *MachineSpec) FQName() string {
	return s.Name + "." + s.ClusterName
}

// DiscoveryAddress is advertised to peers for cluster formation. Only
// meaningful for core members.
func (s *MachineSpec) DiscoveryAddress() string {
	return fmt.Sprintf("%s:%d", s.FQName(), discoveryPort)
}

// BoltAddress is where the machine's bolt connector is reachable from the
// host.
func (s *MachineSpec) BoltAddress() addressing.Address {
	return addressing.Local(s.BoltPort)
}

// HTTPURI is the browser-facing endpoint on the host.
func (s *MachineSpec) HTTPURI() string {
	return "http://localhost:" + strconv.Itoa(s.HTTPPort)
}

// Mode reports the operating mode recorded in the spec's config.
func (s *MachineSpec) Mode() string {
	if mode, ok := s.Config["dbms.mode"]; ok {
		return mode
	}
	return "SINGLE"
}

// ConfigKeys returns the spec's config keys in sorted order.
func (s *MachineSpec) ConfigKeys() []string {
	keys := make([]string, 0, len(s.Config))
	for key := range s.Config {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// deriveConfig builds a spec's settings: base defaults, then caller
// overrides, then the settings the topology must control regardless of
// overrides (advertised address, mode, formation sizes).
func deriveConfig(role Role, boltPort int, overrides map[string]string, formationSize int) map[string]string {
	config := map[string]string{
		"dbms.backup.enabled":                     "false",
		"dbms.memory.heap.initial_size":           "300m",
		"dbms.memory.heap.max_size":               "500m",
		"dbms.memory.pagecache.size":              "50m",
		"dbms.transaction.bookmark_ready_timeout": "5s",
	}
	for key, value := range overrides {
		config[key] = value
	}
	config["dbms.connector.bolt.advertised_address"] = fmt.Sprintf("localhost:%d", boltPort)
	switch role {
	case RoleCore:
		config["dbms.mode"] = "CORE"
		config["causal_clustering.minimum_core_cluster_size_at_formation"] = strconv.Itoa(formationSize)
		config["causal_clustering.minimum_core_cluster_size_at_runtime"] = strconv.Itoa(MinCores)
	case RoleReplica:
		config["dbms.mode"] = "READ_REPLICA"
	}
	return config
}
