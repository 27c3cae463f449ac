package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// AWSConfig holds provider connection parameters.
type AWSConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// DefaultsConfig holds fallback provisioning parameters applied to
// manifest entries that leave them unset.
type DefaultsConfig struct {
	User         string `yaml:"user"`
	ImageID      string `yaml:"image_id"`
	InstanceType string `yaml:"instance_type"`
	KeyName      string `yaml:"key_name"`
}

// PollConfig tunes the state poller.
type PollConfig struct {
	MaxAttempts  int `yaml:"max_attempts"`
	BaseDelaySec int `yaml:"base_delay_seconds"`
	MaxDelaySec  int `yaml:"max_delay_seconds"`
}

// BaseDelay returns the base backoff as a duration.
func (p PollConfig) BaseDelay() time.Duration {
	return time.Duration(p.BaseDelaySec) * time.Second
}

// MaxDelay returns the backoff cap as a duration.
func (p PollConfig) MaxDelay() time.Duration {
	return time.Duration(p.MaxDelaySec) * time.Second
}

// JournalConfig selects where reconciliation results are recorded.
type JournalConfig struct {
	Backend       string   `yaml:"backend"` // "file" or "etcd"
	Path          string   `yaml:"path"`
	EtcdEndpoints []string `yaml:"etcd_endpoints"`
}

// OutputConfig selects the artifact sinks.
type OutputConfig struct {
	InventoryPath      string `yaml:"inventory_path"`
	ConnectionInfoPath string `yaml:"connection_info_path"`
}

// Config contains application configuration
type Config struct {
	AWS      AWSConfig      `yaml:"aws"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Poll     PollConfig     `yaml:"poll"`
	Journal  JournalConfig  `yaml:"journal"`
	Output   OutputConfig   `yaml:"output"`

	// ManifestPath is the default fleet manifest, overridable per
	// command invocation.
	ManifestPath string `yaml:"manifest"`

	// MaxParallel bounds how many instances reconcile at once.
	MaxParallel int `yaml:"max_parallel"`
}

// Load loads configuration from YAML file, with environment variables
// taking precedence for credentials.
func Load() (*Config, error) {
	config := &Config{
		Defaults: DefaultsConfig{
			User:         "ubuntu",
			InstanceType: "t3.micro",
		},
		Poll: PollConfig{
			MaxAttempts:  60,
			BaseDelaySec: 2,
			MaxDelaySec:  30,
		},
		Journal: JournalConfig{
			Backend: "file",
			Path:    "cloudherd-journal.json",
		},
		Output: OutputConfig{
			InventoryPath:      "ec2-inventory.ini",
			ConnectionInfoPath: "instance-info.txt",
		},
		ManifestPath: "fleet.yaml",
		MaxParallel:  5,
	}

	configPath := os.Getenv("CLOUDHERD_CONFIG")
	if configPath == "" {
		configPath = "cloudherd.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %v", err)
		}
	}

	// Expand environment variables in string fields
	config.AWS.Region = os.ExpandEnv(config.AWS.Region)
	config.AWS.AccessKey = os.ExpandEnv(config.AWS.AccessKey)
	config.AWS.SecretKey = os.ExpandEnv(config.AWS.SecretKey)
	config.Defaults.ImageID = os.ExpandEnv(config.Defaults.ImageID)
	config.Defaults.KeyName = os.ExpandEnv(config.Defaults.KeyName)
	config.ManifestPath = os.ExpandEnv(config.ManifestPath)

	// Environment variables win over file values for credentials
	if region := os.Getenv("AWS_REGION"); region != "" {
		config.AWS.Region = region
	}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		config.AWS.AccessKey = key
	}
	if secret := os.Getenv("AWS_SECRET_ACCESS_KEY"); secret != "" {
		config.AWS.SecretKey = secret
	}

	if config.AWS.Region == "" {
		return nil, fmt.Errorf("AWS region is required (set aws.region in config file or AWS_REGION environment variable)")
	}
	if config.Poll.MaxAttempts <= 0 {
		return nil, fmt.Errorf("poll.max_attempts must be positive")
	}
	if config.Journal.Backend != "file" && config.Journal.Backend != "etcd" {
		return nil, fmt.Errorf("journal.backend must be \"file\" or \"etcd\", got %q", config.Journal.Backend)
	}
	if config.Journal.Backend == "etcd" && len(config.Journal.EtcdEndpoints) == 0 {
		return nil, fmt.Errorf("journal.etcd_endpoints is required for the etcd backend")
	}

	return config, nil
}
