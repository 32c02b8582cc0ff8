package topology

// Cluster shape bounds. A causal cluster needs at least three voting
// members; the ceilings bound the precomputed port ranges.
const (
	MinCores    = 3
	MaxCores    = 7
	MinReplicas = 0
	MaxReplicas = 10
)

// SpecPool holds the machine specs a cluster may ever use. All specs are
// generated once, with ports and names assigned by slot index, so that
// later additions reuse a deterministic, collision-free scheme.
type SpecPool struct {
	freeCores    []*MachineSpec
	freeReplicas []*MachineSpec
}

// NewSpecPool precomputes every core and replica spec for a cluster.
//
// Core ports occupy [boltBase, boltBase+MaxCores). Replica ports start at
// the next multiple of 10 at or above the end of the core range, so the two
// ranges never overlap even when cores are added after replicas.
func NewSpecPool(clusterName string, boltBase, httpBase int, overrides map[string]string, formationSize int) *SpecPool {
	pool := &SpecPool{}
	for i := 0; i < MaxCores; i++ {
		pool.freeCores = append(pool.freeCores, NewMachineSpec(
			string(rune('a'+i)),
			clusterName,
			boltBase+i,
			httpBase+i,
			RoleCore,
			overrides,
			formationSize,
		))
	}
	replicaBoltBase := nextMultipleOfTen(boltBase + MaxCores)
	replicaHTTPBase := nextMultipleOfTen(httpBase + MaxCores)
	for i := 0; i < MaxReplicas; i++ {
		pool.freeReplicas = append(pool.freeReplicas, NewMachineSpec(
			string(rune('0'+i)),
			clusterName,
			replicaBoltBase+i,
			replicaHTTPBase+i,
			RoleReplica,
			overrides,
			0,
		))
	}
	return pool
}

func nextMultipleOfTen(n int) int {
	return ((n + 9) / 10) * 10
}

// TakeCore removes and returns the next free core spec.
func (p *SpecPool) TakeCore() (*MachineSpec, error) {
	if len(p.freeCores) == 0 {
		return nil, &CapacityError{Role: RoleCore, Limit: MaxCores}
	}
	spec := p.freeCores[0]
	p.freeCores = p.freeCores[1:]
	return spec, nil
}

// TakeReplica removes and returns the next free replica spec.
func (p *SpecPool) TakeReplica() (*MachineSpec, error) {
	if len(p.freeReplicas) == 0 {
		return nil, &CapacityError{Role: RoleReplica, Limit: MaxReplicas}
	}
	spec := p.freeReplicas[0]
	p.freeReplicas = p.freeReplicas[1:]
	return spec, nil
}

// Return puts a spec back into its role's free list so its name and ports
// become reusable.
func (p *SpecPool) Return(spec *MachineSpec) {
	switch spec.Role {
	case RoleCore:
		p.freeCores = append(p.freeCores, spec)
	case RoleReplica:
		p.freeReplicas = append(p.freeReplicas, spec)
	}
}

// FreeCores reports how many core specs remain unallocated.
func (p *SpecPool) FreeCores() int { return len(p.freeCores) }

// FreeReplicas reports how many replica specs remain unallocated.
func (p *SpecPool) FreeReplicas() int { return len(p.freeReplicas) }
