// Package config loads the worker configuration from a TOML file plus .env
// overrides for the dispatcher endpoint and key.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

type SandboxConfig struct {
	RootFS       string            `toml:"rootfs"`
	User         string            `toml:"user"`
	Hostname     string            `toml:"hostname"`
	Environments map[string]string `toml:"environments"`
	// Path of the isolation primitive binary.
	Executable string `toml:"executable"`
}

type CPUAffinity struct {
	Compiler    []int `toml:"compiler"`
	UserProgram []int `toml:"userProgram"`
	Interactor  []int `toml:"interactor"`
	Checker     []int `toml:"checker"`
}

// SQSMirror optionally mirrors progress snapshots to an SQS queue for audit.
type SQSMirror struct {
	QueueURL string `toml:"queueUrl"`
	Region   string `toml:"region"`
}

type Config struct {
	ServerURL string `toml:"serverUrl"`
	Key       string `toml:"key"`

	DataStore          string `toml:"dataStore"`
	BinaryCacheStore   string `toml:"binaryCacheStore"`
	BinaryCacheMaxSize int64  `toml:"binaryCacheMaxSize"`

	TaskConsumingThreads   int `toml:"taskConsumingThreads"`
	MaxConcurrentDownloads int `toml:"maxConcurrentDownloads"`
	MaxConcurrentTasks     int `toml:"maxConcurrentTasks"`

	TaskWorkingDirectories []string `toml:"taskWorkingDirectories"`

	// Milliseconds.
	RPCTimeout      int64 `toml:"rpcTimeout"`
	DownloadTimeout int64 `toml:"downloadTimeout"`
	DownloadRetry   int   `toml:"downloadRetry"`

	Sandbox     SandboxConfig `toml:"sandbox"`
	CPUAffinity CPUAffinity   `toml:"cpuAffinity"`

	// Path of the language registry TOML; built-in defaults when empty.
	Languages string `toml:"languages"`

	SQSMirror *SQSMirror `toml:"sqsMirror"`
}

func (c *Config) RPCTimeoutDuration() time.Duration {
	return time.Duration(c.RPCTimeout) * time.Millisecond
}

func (c *Config) DownloadTimeoutDuration() time.Duration {
	return time.Duration(c.DownloadTimeout) * time.Millisecond
}

// Load reads the TOML file at path, applies .env / environment overrides and
// fills defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if v := os.Getenv("JUDGE_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("JUDGE_KEY"); v != "" {
		cfg.Key = v
	}

	cfg.fillDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) fillDefaults() {
	if c.TaskConsumingThreads == 0 {
		c.TaskConsumingThreads = 2
	}
	if c.MaxConcurrentDownloads == 0 {
		c.MaxConcurrentDownloads = 10
	}
	if c.MaxConcurrentTasks == 0 {
		c.MaxConcurrentTasks = 2
	}
	if c.BinaryCacheMaxSize == 0 {
		c.BinaryCacheMaxSize = 512 * 1024 * 1024
	}
	if c.RPCTimeout == 0 {
		c.RPCTimeout = 10000
	}
	if c.DownloadTimeout == 0 {
		c.DownloadTimeout = 60000
	}
	if c.DownloadRetry == 0 {
		c.DownloadRetry = 3
	}
	if c.Sandbox.Executable == "" {
		c.Sandbox.Executable = "/usr/local/bin/simple-sandbox"
	}
	if c.Sandbox.User == "" {
		c.Sandbox.User = "nobody"
	}
	if c.Sandbox.Hostname == "" {
		c.Sandbox.Hostname = "judge"
	}
}

func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("serverUrl is not configured")
	}
	if c.DataStore == "" {
		return fmt.Errorf("dataStore is not configured")
	}
	if c.BinaryCacheStore == "" {
		return fmt.Errorf("binaryCacheStore is not configured")
	}
	if len(c.TaskWorkingDirectories) == 0 {
		return fmt.Errorf("taskWorkingDirectories is empty")
	}
	if c.Sandbox.RootFS == "" {
		return fmt.Errorf("sandbox.rootfs is not configured")
	}
	return nil
}
