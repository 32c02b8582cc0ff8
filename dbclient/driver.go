// Package dbclient binds the topology's database-client capability set to
// the official bolt driver. It is only used to probe liveness and to run
// the cluster routing query.
package dbclient

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
	"github.com/rs/zerolog/log"

	"github.com/neo4j-contrib/boltkit/addressing"
	"github.com/neo4j-contrib/boltkit/topology"
)

// routingQuery asks a cluster member for the current routing table.
const routingQuery = "CALL dbms.cluster.routing.getRoutingTable($context)"

// fastProbeTimeout bounds a zero-timeout ping: fail fast when the machine
// is not already connectable.
const fastProbeTimeout = time.Second

// Driver implements topology.Driver. Connections are opened per call and
// closed immediately; this client never holds sessions across operations.
type Driver struct{}

func NewDriver() *Driver {
	return &Driver{}
}

func (d *Driver) open(addr addressing.Address, auth topology.Auth, timeout time.Duration) (neo4j.DriverWithContext, error) {
	if timeout <= 0 {
		timeout = fastProbeTimeout
	}
	uri := "bolt://" + addr.String()
	return neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(auth.User, auth.Password, ""),
		func(c *config.Config) {
			c.SocketConnectTimeout = timeout
			c.MaxConnectionPoolSize = 1
		})
}

// Ping opens a connection to addr and immediately closes it.
func (d *Driver) Ping(ctx context.Context, addr addressing.Address, auth topology.Auth, timeout time.Duration) error {
	driver, err := d.open(addr, auth, timeout)
	if err != nil {
		return fmt.Errorf("ping %s: %w", addr, err)
	}
	defer driver.Close(ctx)
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", addr, err)
	}
	return nil
}

// GetRoutingTable runs the routing query against the first address that
// accepts a connection. An empty result set is reported as
// topology.ErrNoRoutingInfo, distinct from transport failures.
func (d *Driver) GetRoutingTable(ctx context.Context, addrs addressing.List, auth topology.Auth) (topology.RoutingTable, error) {
	var lastErr error
	for _, addr := range addrs {
		table, err := d.routingTableFrom(ctx, addr, auth)
		if err == nil {
			return table, nil
		}
		lastErr = err
		log.Debug().Err(err).Stringer("address", addr).Msg("Routing query failed, trying next router")
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no router addresses available")
	}
	return topology.RoutingTable{}, lastErr
}

func (d *Driver) routingTableFrom(ctx context.Context, addr addressing.Address, auth topology.Auth) (topology.RoutingTable, error) {
	driver, err := d.open(addr, auth, 0)
	if err != nil {
		return topology.RoutingTable{}, err
	}
	defer driver.Close(ctx)

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, routingQuery, map[string]any{"context": map[string]any{}})
	if err != nil {
		return topology.RoutingTable{}, err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return topology.RoutingTable{}, err
	}
	if len(records) == 0 {
		return topology.RoutingTable{}, topology.ErrNoRoutingInfo
	}
	record := make(map[string]any, len(records[0].Keys))
	for i, key := range records[0].Keys {
		record[key] = records[0].Values[i]
	}
	return parseRoutingRecord(record)
}

// parseRoutingRecord decodes the single routing-table record: a ttl in
// seconds and one server list per role. Unparseable addresses are skipped.
func parseRoutingRecord(record map[string]any) (topology.RoutingTable, error) {
	table := topology.RoutingTable{}
	if ttl, ok := record["ttl"].(int64); ok {
		table.TTL = time.Duration(ttl) * time.Second
	}
	servers, _ := record["servers"].([]any)
	for _, entry := range servers {
		server, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		role, _ := server["role"].(string)
		rawAddrs, _ := server["addresses"].([]any)
		var list addressing.List
		for _, raw := range rawAddrs {
			s, ok := raw.(string)
			if !ok {
				continue
			}
			addr, err := addressing.Parse(s)
			if err != nil {
				log.Warn().Str("address", s).Msg("Skipping unparseable routing address")
				continue
			}
			list = append(list, addr)
		}
		switch role {
		case "ROUTE":
			table.Routers = list
		case "READ":
			table.Readers = list
		case "WRITE":
			table.Writers = list
		}
	}
	return table, nil
}
