// Package console maps textual commands onto topology operations. The
// read/write transport is supplied by the caller; this package only
// dispatches and formats.
package console

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j-contrib/boltkit/telemetry"
	"github.com/neo4j-contrib/boltkit/topology"
)

// WriteFunc emits one line of console output.
type WriteFunc func(line string)

type command struct {
	description string
	run         func(ctx context.Context) bool
}

// Console dispatches commands against one topology.
type Console struct {
	topo     *topology.Topology
	write    WriteFunc
	args     []string
	commands map[string]command
}

func New(topo *topology.Topology, write WriteFunc) *Console {
	c := &Console{
		topo:  topo,
		write: write,
	}
	c.commands = map[string]command{
		"env": {
			description: "List the environment variables made available by this cluster.",
			run:         c.runEnv,
		},
		"exit": {
			description: "Shut down all machines and exit the console.",
			run:         func(ctx context.Context) bool { return true },
		},
		"help": {
			description: "Show descriptions of all available console commands.",
			run:         c.runHelp,
		},
		"logs": {
			description: "Display logs for a named machine. Defaults to 'a'.",
			run:         c.runLogs,
		},
		"ls": {
			description: "Show a detailed list of the machines in this cluster, with their ports, modes, routing roles and containers.",
			run:         c.runList,
		},
		"ping": {
			description: "Ping a machine by name to check it is available. Defaults to 'a'.",
			run:         c.runPing,
		},
		"rt": {
			description: "Fetch an updated routing table and display the contents. The result is cached so that 'ls' can show role information.",
			run:         c.runRouting,
		},
	}
	if topo.Clustered() {
		c.commands["add-core"] = command{
			description: "Add a new core machine.",
			run:         c.runAddCore,
		}
		c.commands["add-replica"] = command{
			description: "Add a new replica machine.",
			run:         c.runAddReplica,
		}
		c.commands["rm"] = command{
			description: "Remove machines by name (e.g. 'a', 'a.fbe340d') or by routing role ('r' or 'w').",
			run:         c.runRemove,
		}
	}
	return c
}

// Dispatch runs one command line and reports whether the console should
// exit. Unknown commands are reported inline and never terminate the loop.
func (c *Console) Dispatch(ctx context.Context, line string) bool {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false
	}
	cmd, ok := c.commands[args[0]]
	if !ok {
		c.write("ERROR!")
		return false
	}
	c.args = args
	telemetry.ConsoleCommandsTotal.With(args[0]).Inc()
	return cmd.run(ctx)
}

// PrintEnv writes the cluster's environment exports; also shown on entry.
func (c *Console) PrintEnv() {
	env := c.topo.Env()
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		c.write(fmt.Sprintf("%s=%q", key, env[key]))
	}
}

func (c *Console) runEnv(ctx context.Context) bool {
	c.PrintEnv()
	return false
}

func (c *Console) runHelp(ctx context.Context) bool {
	c.write("Commands:")
	names := make([]string, 0, len(c.commands))
	width := 0
	for name := range c.commands {
		names = append(names, name)
		if len(name) > width {
			width = len(name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		c.write(fmt.Sprintf("  %-*s   %s", width, name, c.commands[name].description))
	}
	return false
}

func (c *Console) runList(ctx context.Context) bool {
	c.write("NAME        BOLT PORT   HTTP PORT   MODE           ROLES   CONTAINER")
	readers := c.topo.Readers()
	writers := c.topo.Writers()
	for _, m := range c.topo.Machines() {
		roles := "?"
		if c.topo.Resolved() {
			roles = ""
			if machineIn(readers, m) {
				roles += "r"
			}
			if machineIn(writers, m) {
				roles += "w"
			}
		}
		c.write(fmt.Sprintf("%-12s%-12d%-12d%-15s%-8s%s",
			m.Spec.FQName(),
			m.Spec.BoltPort,
			m.Spec.HTTPPort,
			m.Spec.Mode(),
			roles,
			shortID(m.ContainerID()),
		))
	}
	return false
}

func machineIn(machines []*topology.Machine, m *topology.Machine) bool {
	for _, candidate := range machines {
		if candidate == m {
			return true
		}
	}
	return false
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func (c *Console) targetName() string {
	if len(c.args) > 1 {
		return c.args[1]
	}
	return "a"
}

func (c *Console) runPing(ctx context.Context) bool {
	name := c.targetName()
	found := 0
	for _, m := range c.topo.Machines() {
		if name != m.Spec.Name && name != m.Spec.FQName() {
			continue
		}
		found++
		if err := m.Ping(ctx, 0); err != nil {
			c.write(fmt.Sprintf("Machine %s is not available: %v", m.Spec.FQName(), err))
		} else {
			c.write(fmt.Sprintf("Machine %s is available", m.Spec.FQName()))
		}
	}
	if found == 0 {
		c.write(fmt.Sprintf("Machine %s not found", name))
	}
	return false
}

func (c *Console) runLogs(ctx context.Context) bool {
	name := c.targetName()
	found := 0
	for _, m := range c.topo.Machines() {
		if name != m.Spec.Name && name != m.Spec.FQName() {
			continue
		}
		found++
		output, err := m.Logs(ctx)
		if err != nil {
			c.write(fmt.Sprintf("Cannot read logs for %s: %v", m.Spec.FQName(), err))
			continue
		}
		c.write(string(output))
	}
	if found == 0 {
		c.write(fmt.Sprintf("Machine %s not found", name))
	}
	return false
}

func (c *Console) runRouting(ctx context.Context) bool {
	if err := c.topo.ResolveRouting(ctx); err != nil {
		c.write("Cannot obtain routing information")
		return false
	}
	c.write(fmt.Sprintf("Routers: «%s»", machineAddresses(c.topo.Routers())))
	c.write(fmt.Sprintf("Readers: «%s»", machineAddresses(c.topo.Readers())))
	c.write(fmt.Sprintf("Writers: «%s»", machineAddresses(c.topo.Writers())))
	c.write(fmt.Sprintf("(TTL: %s)", c.topo.TTL()))
	return false
}

func machineAddresses(machines []*topology.Machine) string {
	parts := make([]string, len(machines))
	for i, m := range machines {
		parts[i] = m.Spec.BoltAddress().String()
	}
	return strings.Join(parts, " ")
}

func (c *Console) runAddCore(ctx context.Context) bool {
	spec, err := c.topo.AddCore(ctx)
	if err != nil {
		c.reportAddError(err)
		return false
	}
	c.write(fmt.Sprintf("Added core machine %q", spec.FQName()))
	return false
}

func (c *Console) runAddReplica(ctx context.Context) bool {
	spec, err := c.topo.AddReplica(ctx)
	if err != nil {
		c.reportAddError(err)
		return false
	}
	c.write(fmt.Sprintf("Added replica machine %q", spec.FQName()))
	return false
}

func (c *Console) reportAddError(err error) {
	var capacity *topology.CapacityError
	if errors.As(err, &capacity) {
		c.write(capacity.Error())
		return
	}
	c.write(fmt.Sprintf("Cannot add machine: %v", err))
}

func (c *Console) runRemove(ctx context.Context) bool {
	if len(c.args) < 2 {
		c.write("Usage: rm <name|r|w>")
		return false
	}
	name := c.args[1]
	removed, err := c.topo.RemoveByName(ctx, name)
	if err != nil {
		c.write(fmt.Sprintf("Cannot remove machine: %v", err))
		return false
	}
	if removed == 0 {
		c.write(fmt.Sprintf("Machine %s not found", name))
	}
	return false
}
