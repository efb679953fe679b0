package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that yaml-decodes from Go duration strings
// ("250ms", "1m"). Bare numbers are taken as milliseconds.
type Duration time.Duration

// Std returns the standard library form.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalYAML encodes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML decodes a duration string or a millisecond count.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var ms int64
	if err := value.Decode(&ms); err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// Config is the top-level simulation configuration.
type Config struct {
	Cluster  ClusterConfig  `yaml:"cluster"`
	Topology TopologyConfig `yaml:"topology"`
	Node     NodeConfig     `yaml:"node"`
	Events   EventsConfig   `yaml:"events"`
	LogFile  string         `yaml:"log_file"`
}

// ClusterConfig configures the cluster resource manager collaborator.
type ClusterConfig struct {
	Strategy         string   `yaml:"strategy"` // fair, capacity
	HTTPPort         int      `yaml:"http_port"`
	HeartbeatTimeout Duration `yaml:"heartbeat_timeout"`
	MonitorInterval  Duration `yaml:"monitor_interval"`
}

// TopologyConfig describes the simulated fleet shape.
type TopologyConfig struct {
	Racks        int `yaml:"racks"`
	NodesPerRack int `yaml:"nodes_per_rack"`
}

// NodeConfig configures each simulated node.
type NodeConfig struct {
	Capacity             Resource `yaml:"capacity"`
	HeartbeatInterval    Duration `yaml:"heartbeat_interval"`
	RegistrationDelay    Duration `yaml:"registration_delay"`
	RegistrationDeadline Duration `yaml:"registration_deadline"`
	UtilizationFactor    float32  `yaml:"utilization_factor"`
}

// EventsConfig configures the optional Kafka event sink.
type EventsConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// GetDefaultConfig returns the default simulation configuration.
func GetDefaultConfig() *Config {
	return &Config{
		Cluster: ClusterConfig{
			Strategy:         "fair",
			HTTPPort:         getEnvIntOrDefault("FLEETSIM_HTTP_PORT", 8088),
			HeartbeatTimeout: Duration(30 * time.Second),
			MonitorInterval:  Duration(5 * time.Second),
		},
		Topology: TopologyConfig{
			Racks:        1,
			NodesPerRack: 10,
		},
		Node: NodeConfig{
			Capacity:             Resource{Memory: 10240, VCores: 10},
			HeartbeatInterval:    Duration(1 * time.Second),
			RegistrationDelay:    0,
			RegistrationDeadline: Duration(60 * time.Second),
			UtilizationFactor:    -1,
		},
		Events: EventsConfig{
			Topic: "fleetsim-events",
		},
	}
}

// LoadConfig reads a yaml config file, overlaying the defaults.
func LoadConfig(path string) (*Config, error) {
	config := GetDefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects configurations a simulation cannot run with.
func (c *Config) Validate() error {
	if err := ValidateResource(c.Node.Capacity); err != nil {
		return err
	}
	if c.Topology.Racks <= 0 {
		return NewValidationError("topology.racks", "must be greater than 0", c.Topology.Racks)
	}
	if c.Topology.NodesPerRack <= 0 {
		return NewValidationError("topology.nodes_per_rack", "must be greater than 0", c.Topology.NodesPerRack)
	}
	if c.Node.HeartbeatInterval <= 0 {
		return NewValidationError("node.heartbeat_interval", "must be greater than 0", c.Node.HeartbeatInterval)
	}
	return nil
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
