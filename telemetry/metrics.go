package telemetry

// Machine lifecycle metrics
var (
	// MachineStartsTotal counts containers created and started
	MachineStartsTotal Counter = NoopStat{}

	// MachineFailuresTotal counts machines that failed to become ready
	MachineFailuresTotal Counter = NoopStat{}

	// MachinesRunning tracks machines currently ready
	MachinesRunning Gauge = NoopStat{}
)

// Routing metrics
var (
	// RoutingRefreshTotal counts routing-table refreshes by result (success, failed)
	RoutingRefreshTotal CounterVec = noopCounterVec{}
)

// Console metrics
var (
	// ConsoleCommandsTotal counts dispatched console commands by name
	ConsoleCommandsTotal CounterVec = noopCounterVec{}
)

func initializeMetrics() {
	MachineStartsTotal = NewCounter(
		"machine_starts_total",
		"Total machine containers created and started",
	)
	MachineFailuresTotal = NewCounter(
		"machine_failures_total",
		"Total machines that failed to become ready",
	)
	MachinesRunning = NewGauge(
		"machines_running",
		"Number of machines currently ready",
	)
	RoutingRefreshTotal = NewCounterVec(
		"routing_refresh_total",
		"Routing table refreshes by result",
		[]string{"result"},
	)
	ConsoleCommandsTotal = NewCounterVec(
		"console_commands_total",
		"Console commands dispatched by name",
		[]string{"command"},
	)
}
