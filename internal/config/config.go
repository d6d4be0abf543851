package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// envPrefix namespaces all environment variables, e.g. LICENSEGATE_SERVER_PORT.
const envPrefix = "LICENSEGATE"

// Config represents the complete application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" envconfig:"SERVER"`
	License LicenseConfig `yaml:"license" envconfig:"LICENSE"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains the local HTTP API server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// LicenseConfig contains the validation engine configuration. ServerURL is
// fixed at startup: there is no runtime-mutable test-mode endpoint switch.
type LicenseConfig struct {
	ServerURL         string        `yaml:"server_url" envconfig:"SERVER_URL" default:"https://license.example.com/api" validate:"required,url"`
	ValidationTimeout time.Duration `yaml:"validation_timeout" envconfig:"VALIDATION_TIMEOUT" default:"10s" validate:"gt=0"`
	FilePath          string        `yaml:"file_path" envconfig:"FILE_PATH" default:"license.dat"`
	AppName           string        `yaml:"app_name" envconfig:"APP_NAME" default:"licensegate"`
	AppVersion        string        `yaml:"app_version" envconfig:"APP_VERSION" default:"1.0.0"`
	SoftwareVersion   string        `yaml:"software_version" envconfig:"SOFTWARE_VERSION" default:""`
	InstallID         string        `yaml:"install_id" envconfig:"INSTALL_ID" default:""`
	ActivationRPS     float64       `yaml:"activation_rps" envconfig:"ACTIVATION_RPS" default:"1" validate:"gt=0"`
	ActivationBurst   int           `yaml:"activation_burst" envconfig:"ACTIVATION_BURST" default:"5" validate:"gt=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/licensegate.log"`
}

// Load loads configuration from environment variables layered over an
// optional YAML file (licensegate.yaml next to the executable or in the
// working directory). Precedence: explicitly set environment variables, then
// the file, then struct-tag defaults.
func Load() (*Config, error) {
	var envCfg Config
	if err := envconfig.Process(envPrefix, &envCfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg := envCfg
	if configFile := findConfigFile(); configFile != "" {
		fileCfg, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileCfg, envCfg)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// mergeConfigs merges file config with env config. envconfig fills struct-tag
// defaults for every unset variable, so a simple overlay would clobber the
// file; a file value wins unless its environment variable was explicitly set.
func mergeConfigs(fileCfg, envCfg Config) Config {
	merged := envCfg

	mergeInt(&merged.Server.Port, fileCfg.Server.Port, "SERVER_PORT")
	mergeDuration(&merged.Server.ReadTimeout, fileCfg.Server.ReadTimeout, "SERVER_READ_TIMEOUT")
	mergeDuration(&merged.Server.WriteTimeout, fileCfg.Server.WriteTimeout, "SERVER_WRITE_TIMEOUT")
	mergeDuration(&merged.Server.IdleTimeout, fileCfg.Server.IdleTimeout, "SERVER_IDLE_TIMEOUT")
	mergeDuration(&merged.Server.ShutdownTimeout, fileCfg.Server.ShutdownTimeout, "SERVER_SHUTDOWN_TIMEOUT")

	mergeString(&merged.License.ServerURL, fileCfg.License.ServerURL, "LICENSE_SERVER_URL")
	mergeDuration(&merged.License.ValidationTimeout, fileCfg.License.ValidationTimeout, "LICENSE_VALIDATION_TIMEOUT")
	mergeString(&merged.License.FilePath, fileCfg.License.FilePath, "LICENSE_FILE_PATH")
	mergeString(&merged.License.AppName, fileCfg.License.AppName, "LICENSE_APP_NAME")
	mergeString(&merged.License.AppVersion, fileCfg.License.AppVersion, "LICENSE_APP_VERSION")
	mergeString(&merged.License.SoftwareVersion, fileCfg.License.SoftwareVersion, "LICENSE_SOFTWARE_VERSION")
	mergeString(&merged.License.InstallID, fileCfg.License.InstallID, "LICENSE_INSTALL_ID")
	mergeFloat(&merged.License.ActivationRPS, fileCfg.License.ActivationRPS, "LICENSE_ACTIVATION_RPS")
	mergeInt(&merged.License.ActivationBurst, fileCfg.License.ActivationBurst, "LICENSE_ACTIVATION_BURST")

	mergeString(&merged.Logging.Level, fileCfg.Logging.Level, "LOGGING_LEVEL")
	mergeString(&merged.Logging.Output, fileCfg.Logging.Output, "LOGGING_OUTPUT")
	mergeString(&merged.Logging.FilePath, fileCfg.Logging.FilePath, "LOGGING_FILE_PATH")

	return merged
}

func mergeString(dst *string, fileVal, envVar string) {
	if fileVal != "" && !envIsSet(envVar) {
		*dst = fileVal
	}
}

func mergeInt(dst *int, fileVal int, envVar string) {
	if fileVal != 0 && !envIsSet(envVar) {
		*dst = fileVal
	}
}

func mergeFloat(dst *float64, fileVal float64, envVar string) {
	if fileVal != 0 && !envIsSet(envVar) {
		*dst = fileVal
	}
}

func mergeDuration(dst *time.Duration, fileVal time.Duration, envVar string) {
	if fileVal != 0 && !envIsSet(envVar) {
		*dst = fileVal
	}
}

// envIsSet reports whether the prefixed environment variable is present.
func envIsSet(name string) bool {
	_, ok := os.LookupEnv(envPrefix + "_" + name)
	return ok
}

// Validate checks the structural constraints of the configuration.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// findConfigFile locates the optional YAML config file.
func findConfigFile() string {
	names := []string{"licensegate.yaml", "licensegate.yml"}

	candidates := append([]string{}, names...)
	if execPath, err := os.Executable(); err == nil {
		dir := filepath.Dir(execPath)
		for _, name := range names {
			candidates = append(candidates, filepath.Join(dir, name))
		}
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// resolvePaths makes relative file paths absolute against the executable
// directory so the binary behaves the same regardless of working directory.
func (c *Config) resolvePaths() error {
	if filepath.IsAbs(c.License.FilePath) {
		return nil
	}

	execPath, err := os.Executable()
	if err != nil {
		// Fall back to the working directory.
		abs, absErr := filepath.Abs(c.License.FilePath)
		if absErr != nil {
			return absErr
		}
		c.License.FilePath = abs
		return nil
	}

	c.License.FilePath = filepath.Join(filepath.Dir(execPath), c.License.FilePath)
	return nil
}

// FileExists reports whether a path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
