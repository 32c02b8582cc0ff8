package topology

import (
	"errors"
	"fmt"
)

// ErrImageNotFound is returned by a ContainerRuntime when the requested
// image is not present locally. The machine pulls it once and retries.
var ErrImageNotFound = errors.New("image not found")

// ErrNoRoutingInfo indicates the routing query returned no records. Cached
// routing state is left unchanged when this occurs.
var ErrNoRoutingInfo = errors.New("unable to obtain routing information")

// CapacityError is returned when a spec pool has no free slots left.
type CapacityError struct {
	Role  Role
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("a maximum of %d %s machines is permitted", e.Limit, e.Role)
}

// NotReadyError aggregates per-machine readiness after a failed start.
// Machines are left running for post-mortem inspection.
type NotReadyError struct {
	Cluster   string
	Readiness map[string]Readiness
}

func (e *NotReadyError) Error() string {
	failed := 0
	for _, r := range e.Readiness {
		if r != Ready {
			failed++
		}
	}
	return fmt.Sprintf("cluster %q unavailable: %d of %d machines failed to become ready",
		e.Cluster, failed, len(e.Readiness))
}

// ShapeError reports a requested core or replica count outside the
// permitted bounds.
type ShapeError struct {
	Role     Role
	Count    int
	Min, Max int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("a cluster must have between %d and %d %s machines, got %d",
		e.Min, e.Max, e.Role, e.Count)
}
