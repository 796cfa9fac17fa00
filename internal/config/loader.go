package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the TOML configuration file structure
type TOMLConfig struct {
	Mode    string            `toml:"mode"`
	Demo    TOMLDemoConfig    `toml:"demo"`
	HTTP    TOMLHTTPConfig    `toml:"http"`
	Hub     TOMLHubConfig     `toml:"hub"`
	Server  TOMLServerConfig  `toml:"server"`
	Queue   TOMLQueueConfig   `toml:"queue"`
	Auth    TOMLAuthConfig    `toml:"auth"`
	Secrets TOMLSecretsConfig `toml:"secrets"`
	DevMode bool              `toml:"dev_mode"`
}

// TOMLDemoConfig represents demo generator configuration in TOML
type TOMLDemoConfig struct {
	Count         int     `toml:"count"`
	RatePerSecond float64 `toml:"rate_per_second"`
}

// TOMLHTTPConfig represents HTTP configuration in TOML
type TOMLHTTPConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// TOMLHubConfig represents timing-wheel configuration in TOML
type TOMLHubConfig struct {
	SpokeDurationMs uint64 `toml:"spoke_duration_ms"`
}

// TOMLServerConfig represents the admission protocol configuration in TOML
type TOMLServerConfig struct {
	Addr string `toml:"addr"`
}

// TOMLQueueConfig represents queue configuration in TOML
type TOMLQueueConfig struct {
	Type string         `toml:"type"`
	NATS TOMLNATSConfig `toml:"nats"`
	SQS  TOMLSQSConfig  `toml:"sqs"`
}

// TOMLNATSConfig represents NATS configuration in TOML
type TOMLNATSConfig struct {
	URL     string `toml:"url"`
	DataDir string `toml:"data_dir"`
}

// TOMLSQSConfig represents SQS configuration in TOML
type TOMLSQSConfig struct {
	QueueURL          string `toml:"queue_url"`
	Region            string `toml:"region"`
	WaitTimeSeconds   int    `toml:"wait_time_seconds"`
	VisibilityTimeout int    `toml:"visibility_timeout"`
}

// TOMLAuthConfig represents auth configuration in TOML
type TOMLAuthConfig struct {
	JWT TOMLJWTConfig `toml:"jwt"`
}

// TOMLJWTConfig represents JWT configuration in TOML
type TOMLJWTConfig struct {
	Issuer           string `toml:"issuer"`
	PrivateKeyPath   string `toml:"private_key_path"`
	PublicKeyPath    string `toml:"public_key_path"`
	OperatorTokenTTL string `toml:"operator_token_ttl"`
}

// TOMLSecretsConfig represents secrets provider configuration in TOML
type TOMLSecretsConfig struct {
	Provider      string `toml:"provider"`
	EncryptionKey string `toml:"encryption_key"`
	DataDir       string `toml:"data_dir"`

	// AWS
	AWSRegion   string `toml:"aws_region"`
	AWSPrefix   string `toml:"aws_prefix"`
	AWSEndpoint string `toml:"aws_endpoint"`

	// Vault
	VaultAddr      string `toml:"vault_addr"`
	VaultPath      string `toml:"vault_path"`
	VaultNamespace string `toml:"vault_namespace"`

	// GCP
	GCPProject string `toml:"gcp_project"`
	GCPPrefix  string `toml:"gcp_prefix"`
}

// ConfigDir is where per-mode config files are looked up, as
// config/<RUN_MODE>.toml.
var ConfigDir = "config"

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	var tomlCfg TOMLConfig

	if _, err := toml.DecodeFile(path, &tomlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return tomlConfigToConfig(&tomlCfg)
}

// LoadWithFile loads configuration from environment variables, then looks
// for config/<RUN_MODE>.toml (RUN_MODE defaults to "demo") and merges the
// two with mergeConfigs: the file supplies every value except the fields
// mergeConfigs takes from non-default environment values.
func LoadWithFile() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(ConfigDir, cfg.Mode+".toml")
	if _, err := os.Stat(configPath); err != nil {
		// No file for this mode: env-derived config stands alone.
		return cfg, nil
	}

	fileCfg, err := LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	return mergeConfigs(fileCfg, cfg), nil
}

// tomlConfigToConfig converts TOML config to the internal Config struct
func tomlConfigToConfig(tc *TOMLConfig) (*Config, error) {
	cfg := &Config{
		Mode: tc.Mode,
		Demo: DemoConfig{
			Count:         tc.Demo.Count,
			RatePerSecond: tc.Demo.RatePerSecond,
		},
		HTTP: HTTPConfig{
			Port:        tc.HTTP.Port,
			CORSOrigins: tc.HTTP.CORSOrigins,
		},
		Hub: HubConfig{
			SpokeDurationMs: tc.Hub.SpokeDurationMs,
		},
		Server: ServerConfig{
			Addr: tc.Server.Addr,
		},
		Queue: QueueConfig{
			Type: tc.Queue.Type,
			NATS: NATSConfig{
				URL:     tc.Queue.NATS.URL,
				DataDir: tc.Queue.NATS.DataDir,
			},
			SQS: SQSConfig{
				QueueURL:          tc.Queue.SQS.QueueURL,
				Region:            tc.Queue.SQS.Region,
				WaitTimeSeconds:   tc.Queue.SQS.WaitTimeSeconds,
				VisibilityTimeout: tc.Queue.SQS.VisibilityTimeout,
			},
		},
		Auth: AuthConfig{
			JWT: JWTConfig{
				Issuer:         tc.Auth.JWT.Issuer,
				PrivateKeyPath: tc.Auth.JWT.PrivateKeyPath,
				PublicKeyPath:  tc.Auth.JWT.PublicKeyPath,
			},
		},
		Secrets: SecretsConfig{
			Provider:      tc.Secrets.Provider,
			EncryptionKey: tc.Secrets.EncryptionKey,
			DataDir:       tc.Secrets.DataDir,
			AWSRegion:     tc.Secrets.AWSRegion,
			AWSPrefix:     tc.Secrets.AWSPrefix,
			AWSEndpoint:   tc.Secrets.AWSEndpoint,
			VaultAddr:     tc.Secrets.VaultAddr,
			VaultPath:     tc.Secrets.VaultPath,
			VaultNamespace: tc.Secrets.VaultNamespace,
			GCPProject:    tc.Secrets.GCPProject,
			GCPPrefix:     tc.Secrets.GCPPrefix,
		},
		DevMode: tc.DevMode,
	}

	if tc.Auth.JWT.OperatorTokenTTL != "" {
		if d, err := time.ParseDuration(tc.Auth.JWT.OperatorTokenTTL); err == nil {
			cfg.Auth.JWT.OperatorTokenTTL = d
		}
	}

	return cfg, nil
}

// mergeConfigs merges two configs, with override taking precedence for
// non-default values. base comes from the mode's TOML file, override comes
// from the environment (which already carries package defaults). Only the
// fields checked below are taken from override; JWT key paths and token
// TTL, SQS wait/visibility settings and every secrets field other than
// Provider always come from base.
func mergeConfigs(base, override *Config) *Config {
	result := *base

	if override.Mode != "" && override.Mode != "demo" {
		result.Mode = override.Mode
	}

	if override.Demo.Count != 0 {
		result.Demo.Count = override.Demo.Count
	}
	if override.Demo.RatePerSecond != 0 && override.Demo.RatePerSecond != 50 {
		result.Demo.RatePerSecond = override.Demo.RatePerSecond
	}

	if override.HTTP.Port != 0 && override.HTTP.Port != 8080 {
		result.HTTP.Port = override.HTTP.Port
	}
	if len(override.HTTP.CORSOrigins) > 0 &&
		!(len(override.HTTP.CORSOrigins) == 1 && override.HTTP.CORSOrigins[0] == "http://localhost:4200") {
		result.HTTP.CORSOrigins = override.HTTP.CORSOrigins
	}

	if override.Hub.SpokeDurationMs != 0 && override.Hub.SpokeDurationMs != 10 {
		result.Hub.SpokeDurationMs = override.Hub.SpokeDurationMs
	}

	if override.Server.Addr != "" && override.Server.Addr != ":11300" {
		result.Server.Addr = override.Server.Addr
	}

	if override.Queue.Type != "" && override.Queue.Type != "embedded" {
		result.Queue.Type = override.Queue.Type
	}
	if override.Queue.NATS.URL != "" && override.Queue.NATS.URL != "nats://localhost:4222" {
		result.Queue.NATS.URL = override.Queue.NATS.URL
	}
	if override.Queue.NATS.DataDir != "" && override.Queue.NATS.DataDir != "./data/nats" {
		result.Queue.NATS.DataDir = override.Queue.NATS.DataDir
	}
	if override.Queue.SQS.QueueURL != "" {
		result.Queue.SQS.QueueURL = override.Queue.SQS.QueueURL
	}
	if override.Queue.SQS.Region != "" && override.Queue.SQS.Region != "us-east-1" {
		result.Queue.SQS.Region = override.Queue.SQS.Region
	}

	if override.Auth.JWT.Issuer != "" && override.Auth.JWT.Issuer != "chronowheel" {
		result.Auth.JWT.Issuer = override.Auth.JWT.Issuer
	}

	if override.Secrets.Provider != "" && override.Secrets.Provider != "env" {
		result.Secrets.Provider = override.Secrets.Provider
	}

	if override.DevMode {
		result.DevMode = true
	}

	return &result
}

// WriteExampleConfig writes an example configuration file, set to demo
// mode, to path.
func WriteExampleConfig(path string) error {
	example := `# Chronowheel configuration
# Environment variables override these settings; RUN_MODE selects which
# file under config/ is loaded (config/<RUN_MODE>.toml).

mode = "demo"
dev_mode = false

[demo]
count = 0
rate_per_second = 50

[http]
port = 8080
cors_origins = ["http://localhost:4200"]

[hub]
spoke_duration_ms = 10

[server]
addr = ":11300"

[queue]
type = "embedded"  # embedded, nats, or sqs

[queue.nats]
url = "nats://localhost:4222"
data_dir = "./data/nats"

[queue.sqs]
queue_url = ""
region = "us-east-1"
wait_time_seconds = 20
visibility_timeout = 120

[auth.jwt]
issuer = "chronowheel"
private_key_path = ""
public_key_path = ""
operator_token_ttl = "1h"

[secrets]
provider = "env"  # env, encrypted, aws-sm, vault, gcp-sm
encryption_key = ""
data_dir = "./data/secrets"

aws_region = ""
aws_prefix = "/chronowheel/"
aws_endpoint = ""

vault_addr = ""
vault_path = "secret/data/chronowheel"
vault_namespace = ""

gcp_project = ""
gcp_prefix = "chronowheel-"
`

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	return os.WriteFile(path, []byte(example), 0644)
}
