package cfg

import (
	"flag"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

// ClusterConfiguration is the requested topology shape. Zero cores selects
// a standalone machine.
type ClusterConfiguration struct {
	Cores    int `toml:"cores"`
	Replicas int `toml:"replicas"`
}

// PortConfiguration sets the base host ports. Zero means the shape's
// default (7687/7474 standalone, 17601/17401 cluster).
type PortConfiguration struct {
	Bolt int `toml:"bolt"`
	HTTP int `toml:"http"`
}

// AuthConfiguration holds the credentials every machine is provisioned
// with. An empty password is generated at startup.
type AuthConfiguration struct {
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// AdminConfiguration controls the HTTP admin/metrics listener.
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// Configuration is the main configuration structure
type Configuration struct {
	Name                  string            `toml:"name"`
	Image                 string            `toml:"image"`
	StartupTimeoutSeconds int               `toml:"startup_timeout_seconds"`
	Settings              map[string]string `toml:"settings"` // per-node config overrides

	Cluster ClusterConfiguration `toml:"cluster"`
	Ports   PortConfiguration    `toml:"ports"`
	Auth    AuthConfiguration    `toml:"auth"`
	Logging LoggingConfiguration `toml:"logging"`
	Admin   AdminConfiguration   `toml:"admin"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "", "Path to configuration file")
	NameFlag       = flag.String("name", "", "Cluster name (overrides config, empty=random)")
	ImageFlag      = flag.String("image", "", "Image reference (overrides config)")
	CoresFlag      = flag.Int("cores", 0, "Number of core machines (overrides config, 0=standalone)")
	ReplicasFlag   = flag.Int("replicas", 0, "Number of replica machines (overrides config)")
	BoltPortFlag   = flag.Int("bolt-port", 0, "Base bolt port (overrides config)")
	HTTPPortFlag   = flag.Int("http-port", 0, "Base http port (overrides config)")
	VerboseFlag    = flag.Bool("verbose", false, "Enable debug logging")
	StopFlag       = flag.String("stop", "", "Stop and remove the named cluster, then exit")
)

// Default configuration
var Config = &Configuration{
	StartupTimeoutSeconds: 300,

	Cluster: ClusterConfiguration{
		Cores:    0,
		Replicas: 0,
	},

	Auth: AuthConfiguration{
		User: "neo4j",
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Admin: AdminConfiguration{
		Enabled: false,
		Address: "127.0.0.1",
		Port:    2693,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *NameFlag != "" {
		Config.Name = *NameFlag
	}
	if *ImageFlag != "" {
		Config.Image = *ImageFlag
	}
	if *CoresFlag != 0 {
		Config.Cluster.Cores = *CoresFlag
	}
	if *ReplicasFlag != 0 {
		Config.Cluster.Replicas = *ReplicasFlag
	}
	if *BoltPortFlag != 0 {
		Config.Ports.Bolt = *BoltPortFlag
	}
	if *HTTPPortFlag != 0 {
		Config.Ports.HTTP = *HTTPPortFlag
	}
	if *VerboseFlag {
		Config.Logging.Verbose = true
	}

	return nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Auth.User != "" && Config.Auth.User != "neo4j" {
		return fmt.Errorf("auth user must be 'neo4j' or empty, got %q", Config.Auth.User)
	}

	if Config.Cluster.Cores < 0 || Config.Cluster.Replicas < 0 {
		return fmt.Errorf("cluster shape must not be negative")
	}

	if Config.Cluster.Cores == 0 && Config.Cluster.Replicas > 0 {
		return fmt.Errorf("replicas require a core cluster")
	}

	if Config.Ports.Bolt < 0 || Config.Ports.Bolt > 65535 {
		return fmt.Errorf("invalid bolt port: %d", Config.Ports.Bolt)
	}

	if Config.Ports.HTTP < 0 || Config.Ports.HTTP > 65535 {
		return fmt.Errorf("invalid http port: %d", Config.Ports.HTTP)
	}

	if Config.StartupTimeoutSeconds < 0 {
		return fmt.Errorf("startup timeout must be >= 0")
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %q", Config.Logging.Format)
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	return nil
}
