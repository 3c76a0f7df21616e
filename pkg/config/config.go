package config

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/common/model"
	"gopkg.in/yaml.v3"
)

// Config represents the AntHocNet node configuration
type Config struct {
	Framework FrameworkConfig `yaml:"framework"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
}

// FrameworkConfig contains general settings
type FrameworkConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// Seed for the per-engine RNG. Tests and simulations set this to get
	// reproducible stochastic forwarding decisions.
	Seed int64 `yaml:"seed"`
}

// ProtocolConfig contains the AntHocNet protocol parameters. The defaults
// follow the reference parameterisation of the protocol.
type ProtocolConfig struct {
	// BetaForward is the exponent applied to pheromone values when routing
	// forward ants. Must be >= 1.
	BetaForward int `yaml:"beta_forward"`
	// BetaStochastic is the exponent applied to pheromone values when
	// routing data packets. Must be >= 1.
	BetaStochastic int `yaml:"beta_stochastic"`
	// Alpha is the smoothing factor of the running MAC send-time average.
	// Must be in [0, 1].
	Alpha float64 `yaml:"alpha"`
	// Gamma is the pheromone smoothing factor. Must be in [0, 1].
	Gamma float64 `yaml:"gamma"`
	// THop is the time one hop takes under unloaded conditions.
	THop model.Duration `yaml:"t_hop"`

	// RestartPathSetup is how long the reactive path setup waits for a
	// backward ant before broadcasting another forward ant.
	RestartPathSetup model.Duration `yaml:"restart_path_setup"`
	// MaxTriesPathSetup is the number of setup timer expiries after which
	// the buffered packets are discarded.
	MaxTriesPathSetup int `yaml:"max_tries_path_setup"`

	// AcceptanceFactorA1 is the tight acceptance factor for forward ants,
	// in (0, 1].
	AcceptanceFactorA1 float64 `yaml:"acceptance_factor_a1"`
	// AcceptanceFactorA2 is the loose acceptance factor for forward ants
	// with a unique first hop. Must be >= 1.
	AcceptanceFactorA2 float64 `yaml:"acceptance_factor_a2"`

	// PFASendingRate is the number of data packets to one destination
	// within PFATimeThreshold that triggers a proactive forward ant.
	PFASendingRate int `yaml:"pfa_sending_rate"`
	// PFATimeThreshold is the window in which packets to the same
	// destination count as one data session.
	PFATimeThreshold model.Duration `yaml:"pfa_time_threshold"`
	// PFABroadcastProbability is the probability that a proactive forward
	// ant is broadcast instead of following the pheromone gradient.
	PFABroadcastProbability float64 `yaml:"pfa_broadcast_probability"`
	// MaxBroadcastsPFA is the number of broadcasts after which a proactive
	// forward ant is killed.
	MaxBroadcastsPFA int `yaml:"max_broadcasts_pfa"`

	// HelloInterval is the period of the hello beacon, and also the length
	// of the per-neighbour hello-loss timer.
	HelloInterval model.Duration `yaml:"hello_interval"`
	// AllowedHelloLoss is the number of missed hellos tolerated before a
	// neighbour is declared lost.
	AllowedHelloLoss int `yaml:"allowed_hello_loss"`

	// MaxBroadcastsPathRepair caps the broadcasts of a path repair ant.
	MaxBroadcastsPathRepair int `yaml:"max_broadcasts_path_repair"`
	// RepairWaitFactor is multiplied with the pheromone value of the failed
	// (neighbour, destination) entry to obtain the time, in seconds, to
	// wait for a backward repair ant.
	RepairWaitFactor float64 `yaml:"repair_wait_factor"`

	// MaxHops is the hop limit for forward and path repair ants.
	MaxHops int `yaml:"max_hops"`
	// SendBufferCap bounds the reactive path setup send buffer. The oldest
	// packet is dropped on overflow.
	SendBufferCap int `yaml:"send_buffer_cap"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Framework: FrameworkConfig{
			LogLevel:  "info",
			LogFormat: "text",
			Seed:      1,
		},
		Protocol: ProtocolConfig{
			BetaForward:             1,
			BetaStochastic:          2,
			Alpha:                   0.7,
			Gamma:                   0.7,
			THop:                    model.Duration(3 * time.Millisecond),
			RestartPathSetup:        model.Duration(2 * time.Second),
			MaxTriesPathSetup:       3,
			AcceptanceFactorA1:      0.9,
			AcceptanceFactorA2:      2,
			PFASendingRate:          5,
			PFATimeThreshold:        model.Duration(500 * time.Millisecond),
			PFABroadcastProbability: 0.1,
			MaxBroadcastsPFA:        2,
			HelloInterval:           model.Duration(1 * time.Second),
			AllowedHelloLoss:        2,
			MaxBroadcastsPathRepair: 2,
			RepairWaitFactor:        5,
			MaxHops:                 100,
			SendBufferCap:           64,
		},
	}
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	if path == "" {
		path = "config.yaml"
	}

	// Return default config if file doesn't exist
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes configuration to a YAML file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	p := &c.Protocol

	if p.BetaForward < 1 {
		return fmt.Errorf("protocol.beta_forward must be at least 1")
	}
	if p.BetaStochastic < 1 {
		return fmt.Errorf("protocol.beta_stochastic must be at least 1")
	}
	if p.Alpha < 0 || p.Alpha > 1 {
		return fmt.Errorf("protocol.alpha must be in [0, 1]")
	}
	if p.Gamma < 0 || p.Gamma > 1 {
		return fmt.Errorf("protocol.gamma must be in [0, 1]")
	}
	if p.THop <= 0 {
		return fmt.Errorf("protocol.t_hop must be positive")
	}
	if p.AcceptanceFactorA1 <= 0 || p.AcceptanceFactorA1 > 1 {
		return fmt.Errorf("protocol.acceptance_factor_a1 must be in (0, 1]")
	}
	if p.AcceptanceFactorA2 < 1 {
		return fmt.Errorf("protocol.acceptance_factor_a2 must be at least 1")
	}
	if p.PFABroadcastProbability < 0 || p.PFABroadcastProbability > 1 {
		return fmt.Errorf("protocol.pfa_broadcast_probability must be in [0, 1]")
	}
	if p.HelloInterval <= 0 {
		return fmt.Errorf("protocol.hello_interval must be positive")
	}
	if p.RestartPathSetup <= 0 {
		return fmt.Errorf("protocol.restart_path_setup must be positive")
	}
	if p.MaxTriesPathSetup < 1 {
		return fmt.Errorf("protocol.max_tries_path_setup must be at least 1")
	}
	if p.MaxHops < 1 {
		return fmt.Errorf("protocol.max_hops must be at least 1")
	}
	if p.SendBufferCap < 1 {
		return fmt.Errorf("protocol.send_buffer_cap must be at least 1")
	}

	return nil
}
