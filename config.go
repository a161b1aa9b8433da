package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// CopyConfig holds the full TOML-driven copy configuration.
type CopyConfig struct {
	Source EndpointConfig `toml:"source"`
	Target EndpointConfig `toml:"target"`

	Tables       []string `toml:"tables"`
	KeepDump     bool     `toml:"keep_dump"`
	DataOnly     bool     `toml:"data_only"`
	DataOnlySafe bool     `toml:"data_only_safe"`
	KeepTempCols bool     `toml:"keep_temp_cols"`
	Verbose      bool     `toml:"verbose"`

	StagingDir             string `toml:"staging_dir"`
	TunnelReadyTimeoutSecs int    `toml:"tunnel_ready_timeout_secs"`

	Hooks HooksConfig `toml:"hooks"`

	// configDir is the directory containing the TOML file, used to resolve
	// relative hook SQL paths.
	configDir string
}

// EndpointConfig identifies one database plus an optional SSH hop in front
// of it.
type EndpointConfig struct {
	Host     string     `toml:"host"`
	Port     int        `toml:"port"`
	User     string     `toml:"user"`
	Password string     `toml:"password"`
	Database string     `toml:"database"`
	SSH      *SSHConfig `toml:"ssh"`
}

// SSHConfig describes the bastion used to reach an endpoint. User may be
// empty to fall back to the operator's ssh config.
type SSHConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	User           string `toml:"user"`
	Password       string `toml:"password"`
	PrivateKeyPath string `toml:"private_key_path"`
}

type HooksConfig struct {
	BeforeRestore []string `toml:"before_restore"`
	AfterRestore  []string `toml:"after_restore"`
}

// loadConfig reads a TOML config file and returns a CopyConfig with defaults
// applied.
func loadConfig(path string) (*CopyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := CopyConfig{
		TunnelReadyTimeoutSecs: 10,
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if unknown := md.Undecoded(); len(unknown) > 0 {
		keys := make([]string, len(unknown))
		for i, k := range unknown {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg.configDir = filepath.Dir(absPath)

	if cfg.StagingDir == "" {
		cfg.StagingDir = os.TempDir()
	}
	if cfg.TunnelReadyTimeoutSecs <= 0 {
		return nil, fmt.Errorf("tunnel_ready_timeout_secs must be positive")
	}

	if err := cfg.Source.validate("source"); err != nil {
		return nil, err
	}
	if err := cfg.Target.validate("target"); err != nil {
		return nil, err
	}
	if err := cfg.validateRunFlags(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateRunFlags checks run-option consistency. Called again after CLI
// flags are layered over the file.
func (c *CopyConfig) validateRunFlags() error {
	if c.DataOnly && c.DataOnlySafe {
		return fmt.Errorf("data_only and data_only_safe are mutually exclusive")
	}
	if c.KeepTempCols && !c.DataOnlySafe {
		return fmt.Errorf("keep_temp_cols requires data_only_safe")
	}
	return nil
}

func (e *EndpointConfig) validate(side string) error {
	if e.Host == "" {
		return fmt.Errorf("%s.host is required", side)
	}
	if e.User == "" {
		return fmt.Errorf("%s.user is required", side)
	}
	if e.Database == "" {
		return fmt.Errorf("%s.database is required", side)
	}
	if e.Port == 0 {
		e.Port = 3306
	}
	if e.SSH != nil {
		if e.SSH.Host == "" {
			return fmt.Errorf("%s.ssh.host is required", side)
		}
		if e.SSH.Port == 0 {
			e.SSH.Port = 22
		}
		if e.SSH.PrivateKeyPath != "" {
			p, err := expandHome(e.SSH.PrivateKeyPath)
			if err != nil {
				return fmt.Errorf("%s.ssh.private_key_path: %w", side, err)
			}
			e.SSH.PrivateKeyPath = p
		}
	}
	return nil
}

// endpoint converts the configured endpoint into its run-time model.
func (e *EndpointConfig) endpoint() Endpoint {
	return Endpoint{
		Host:     e.Host,
		Port:     e.Port,
		User:     e.User,
		Password: e.Password,
		Database: e.Database,
	}
}

// tunnelSpec returns the SSH forward description for this endpoint, or nil
// when the endpoint is reached directly. LocalPort is filled in by the
// orchestrator once a port is allocated.
func (e *EndpointConfig) tunnelSpec() *TunnelSpec {
	if e.SSH == nil {
		return nil
	}
	return &TunnelSpec{
		RemoteHost:     e.Host,
		RemotePort:     e.Port,
		SSHHost:        e.SSH.Host,
		SSHPort:        e.SSH.Port,
		SSHUser:        e.SSH.User,
		SSHPassword:    e.SSH.Password,
		PrivateKeyPath: e.SSH.PrivateKeyPath,
	}
}

// resolvePath resolves a path relative to the config file directory.
func (c *CopyConfig) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.configDir, p)
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, p[1:]), nil
}

// sampleConfig is printed by --sample-config. It must itself pass loadConfig.
const sampleConfig = `# dbcopy configuration

# tables = ["users", "orders"]  # restrict the copy; omit to copy everything
# keep_dump = true              # keep the staging SQL file after the run
# data_only = true              # no schema; target schema must already exist
# data_only_safe = true         # data only, with schema reconciliation
# keep_temp_cols = true         # safe mode: keep the added columns afterwards
# verbose = true

# staging_dir = "/tmp"
# tunnel_ready_timeout_secs = 10

[source]
host = "source-db.example.com"
port = 3306
user = "username"
password = "password"
database = "source_db"

# Reach the source through an SSH bastion.
[source.ssh]
host = "source-bastion.example.com"
port = 22
user = "ssh_user"
private_key_path = "~/.ssh/id_rsa"

[target]
host = "target-db.example.com"
port = 3306
user = "username"
password = "password"
database = "target_db"

# [target.ssh]
# host = "target-bastion.example.com"
# port = 22
# user = "ssh_user"
# password = "ssh_password"

[hooks]
# SQL files run against the target, before and after the restore stage.
# {{database}} expands to the target database name.
# before_restore = ["pre.sql"]
# after_restore = ["post.sql"]
`
