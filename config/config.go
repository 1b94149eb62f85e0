package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config represents the configuration of a planning run
type Config struct {
	// Project layout
	ProjectRoot string `json:"project_root"` // Base for every relative path below
	InputFile   string `json:"input_file"`   // Input workbook (.xlsx)
	OutputDir   string `json:"output_dir"`   // Results root; years go to <output_dir>/<scenario>/<year>
	Scenario    string `json:"scenario"`     // Scenario name

	// Settings overrides from the UI, applied over the Main_Settings table
	Overrides map[string]string `json:"overrides"`

	// Solver settings
	SolveTimeout time.Duration `json:"solve_timeout"` // Upper bound for one year's solve (0 = none)

	// Persistence
	PostgresConnString string `json:"postgres_conn_string"` // PostgreSQL connection string (empty = disabled)
	ResultsTablePrefix string `json:"results_table_prefix"` // Prefix of the results tables

	// Progress server
	ServerPort     int           `json:"server_port"`     // Port for the progress server (0 = disabled)
	StatusInterval time.Duration `json:"status_interval"` // How often status is pushed to websocket clients

	// Logging settings
	LogLevel string `json:"log_level"` // Log level: debug, info, warn, error
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		ProjectRoot:        ".",
		InputFile:          "input.xlsx",
		OutputDir:          "results",
		Scenario:           "default",
		Overrides:          map[string]string{},
		SolveTimeout:       0,
		ResultsTablePrefix: "planner",
		ServerPort:         0,
		StatusInterval:     2 * time.Second,
		LogLevel:           "info",
	}
}

// LoadConfig loads configuration from a JSON file
func LoadConfig(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return LoadConfigFromReader(file)
}

// LoadConfigFromReader loads configuration from an io.Reader
func LoadConfigFromReader(reader io.Reader) (*Config, error) {
	config := DefaultConfig()

	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config JSON: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// SaveConfigToWriter saves the configuration to an io.Writer
func (c *Config) SaveConfigToWriter(writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config JSON: %w", err)
	}

	return nil
}

// Validate checks if the configuration values are valid
func (c *Config) Validate() error {
	if c.InputFile == "" {
		return fmt.Errorf("input_file cannot be empty")
	}

	if c.OutputDir == "" {
		return fmt.Errorf("output_dir cannot be empty")
	}

	if c.Scenario == "" {
		return fmt.Errorf("scenario cannot be empty")
	}

	if filepath.Base(c.Scenario) != c.Scenario {
		return fmt.Errorf("scenario must be a plain name, got: %s", c.Scenario)
	}

	if c.SolveTimeout < 0 {
		return fmt.Errorf("solve_timeout must be non-negative, got: %s", c.SolveTimeout)
	}

	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("server_port must be between 0 and 65535, got: %d", c.ServerPort)
	}

	if c.ServerPort > 0 && c.StatusInterval <= 0 {
		return fmt.Errorf("status_interval must be greater than 0, got: %s", c.StatusInterval)
	}

	if c.PostgresConnString != "" && c.ResultsTablePrefix == "" {
		return fmt.Errorf("results_table_prefix cannot be empty when postgres_conn_string is set")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level: %s, must be one of: debug, info, warn, error", c.LogLevel)
	}

	return nil
}

// ResolvePath joins a relative path onto the project root. Absolute paths
// are returned unchanged.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	root := c.ProjectRoot
	if root == "" {
		root = "."
	}
	return filepath.Join(root, p)
}

// InputPath returns the resolved input workbook path.
func (c *Config) InputPath() string { return c.ResolvePath(c.InputFile) }

// ScenarioDir returns the resolved results directory of the scenario.
func (c *Config) ScenarioDir() string {
	return filepath.Join(c.ResolvePath(c.OutputDir), c.Scenario)
}

// MarshalJSON implements custom JSON marshaling to handle durations
func (c *Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	return json.Marshal(&struct {
		*Alias
		SolveTimeout   string `json:"solve_timeout"`
		StatusInterval string `json:"status_interval"`
	}{
		Alias:          (*Alias)(c),
		SolveTimeout:   c.SolveTimeout.String(),
		StatusInterval: c.StatusInterval.String(),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling to handle durations
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		*Alias
		SolveTimeout   string `json:"solve_timeout"`
		StatusInterval string `json:"status_interval"`
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if aux.SolveTimeout != "" {
		if c.SolveTimeout, err = time.ParseDuration(aux.SolveTimeout); err != nil {
			return fmt.Errorf("invalid solve_timeout: %w", err)
		}
	}

	if aux.StatusInterval != "" {
		if c.StatusInterval, err = time.ParseDuration(aux.StatusInterval); err != nil {
			return fmt.Errorf("invalid status_interval: %w", err)
		}
	}

	return nil
}

// String returns a string representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
