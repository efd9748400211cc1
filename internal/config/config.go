package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sleepywoodpecker/motion-windows/internal/experiment"
	"sleepywoodpecker/motion-windows/internal/processing"
)

// Config holds the acquisition and processing parameters shared by the
// commands. Durations are strings such as "500ms" so the file stays readable.
type Config struct {
	// Sensor source
	SensorHost   string   `json:"sensor_host"`
	TimeChannel  string   `json:"time_channel"`
	Channels     []string `json:"channels"`
	FetchTimeout string   `json:"fetch_timeout"`

	// Serial IMU source, used instead of the phyphox host when set
	SerialPort string `json:"serial_port,omitempty"`
	BaudRate   int    `json:"baud_rate"`

	// MaxSampleRate paces polling and sizes the buffers, in Hz.
	MaxSampleRate float64 `json:"max_sample_rate"`

	// Resampling and windows
	OutputRate    float64 `json:"output_rate"`
	WindowSeconds float64 `json:"window_seconds"`
	MarginSeconds float64 `json:"margin_seconds"`

	// Online analysis
	UpdateInterval      string  `json:"update_interval"`
	OnlineBufferSeconds float64 `json:"online_buffer_seconds"`
	TelegrafAddr        string  `json:"telegraf_addr,omitempty"`

	Experiment ExperimentConfig `json:"experiment"`

	LogFile   string `json:"log_file"`
	OutputDir string `json:"output_dir"`
}

type ExperimentConfig struct {
	Conditions         []experiment.Condition `json:"conditions"`
	TrialsPerCondition int                    `json:"trials_per_condition"`
	WindowsPerTrial    int                    `json:"windows_per_trial"`
	LeadIn             string                 `json:"lead_in"`
	Fixation           string                 `json:"fixation"`
	Preparation        string                 `json:"preparation"`
	Rest               string                 `json:"rest"`
	// Seed for the trial shuffle; 0 picks a random order every run.
	Seed uint64 `json:"seed"`
}

func DefaultConfig() *Config {
	return &Config{
		SensorHost:          "192.168.0.7:8080",
		TimeChannel:         "acc_time",
		Channels:            []string{"accX", "accY", "accZ", "gyroX", "gyroY", "gyroZ"},
		FetchTimeout:        "500ms",
		BaudRate:            460800,
		MaxSampleRate:       5000,
		OutputRate:          20,
		WindowSeconds:       0.5,
		MarginSeconds:       0.25,
		UpdateInterval:      "250ms",
		OnlineBufferSeconds: 5,
		Experiment: ExperimentConfig{
			Conditions:         experiment.DefaultConditions(),
			TrialsPerCondition: 2,
			WindowsPerTrial:    30,
			LeadIn:             "2s",
			Fixation:           "2s",
			Preparation:        "1s",
			Rest:               "1s",
		},
		LogFile:   "motion.logs",
		OutputDir: ".",
	}
}

// LoadConfig reads a JSON config file. Fields omitted from the file keep
// their default values.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Load returns the defaults when path is empty and LoadConfig(path) otherwise.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := DefaultConfig()
		return cfg, cfg.Validate()
	}
	return LoadConfig(path)
}

func (c *Config) Validate() error {
	var errs []error

	if c.SerialPort == "" && c.SensorHost == "" {
		errs = append(errs, errors.New("one of sensor_host or serial_port is required"))
	}
	if c.SerialPort == "" {
		if c.TimeChannel == "" {
			errs = append(errs, errors.New("time_channel is required"))
		}
		if len(c.Channels) == 0 {
			errs = append(errs, errors.New("channels must not be empty"))
		}
	}
	if c.SerialPort != "" && c.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("baud_rate must be positive, got %d", c.BaudRate))
	}
	if c.MaxSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("max_sample_rate must be positive, got %v", c.MaxSampleRate))
	}
	if c.OutputRate <= 0 {
		errs = append(errs, fmt.Errorf("output_rate must be positive, got %v", c.OutputRate))
	}
	if c.WindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("window_seconds must be positive, got %v", c.WindowSeconds))
	}
	if c.MarginSeconds < 0 {
		errs = append(errs, fmt.Errorf("margin_seconds must not be negative, got %v", c.MarginSeconds))
	}
	if c.OnlineBufferSeconds < c.WindowSeconds+c.MarginSeconds {
		errs = append(errs, fmt.Errorf("online_buffer_seconds (%v) must cover window_seconds plus margin_seconds", c.OnlineBufferSeconds))
	}

	for name, value := range map[string]string{
		"fetch_timeout":          c.FetchTimeout,
		"update_interval":        c.UpdateInterval,
		"experiment.lead_in":     c.Experiment.LeadIn,
		"experiment.fixation":    c.Experiment.Fixation,
		"experiment.preparation": c.Experiment.Preparation,
		"experiment.rest":        c.Experiment.Rest,
	} {
		if d, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		} else if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", name, value))
		}
	}

	if len(c.Experiment.Conditions) == 0 {
		errs = append(errs, errors.New("experiment.conditions must not be empty"))
	}
	if c.Experiment.TrialsPerCondition <= 0 {
		errs = append(errs, fmt.Errorf("experiment.trials_per_condition must be positive, got %d", c.Experiment.TrialsPerCondition))
	}
	if c.Experiment.WindowsPerTrial <= 0 {
		errs = append(errs, fmt.Errorf("experiment.windows_per_trial must be positive, got %d", c.Experiment.WindowsPerTrial))
	}

	return errors.Join(errs...)
}

func (c *Config) GetFetchTimeout() time.Duration   { return mustDuration(c.FetchTimeout) }
func (c *Config) GetUpdateInterval() time.Duration { return mustDuration(c.UpdateInterval) }

// GetPollInterval returns the delay between polls, 1/MaxSampleRate.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.MaxSampleRate)
}

// GetOnlineBufferCapacity returns the circular buffer size for online mode.
func (c *Config) GetOnlineBufferCapacity() int {
	return int(c.MaxSampleRate * c.OnlineBufferSeconds)
}

// ChannelNames returns the data channels each sample carries, in order.
// The serial IMU always sends accelerometer then gyroscope axes.
func (c *Config) ChannelNames() []string {
	if c.SerialPort != "" {
		return append([]string(nil), processing.ImuChannelNames[:]...)
	}
	return append([]string(nil), c.Channels...)
}

// Protocol converts the experiment section into a session protocol.
func (c *Config) Protocol() experiment.Protocol {
	return experiment.Protocol{
		Conditions:         c.Experiment.Conditions,
		TrialsPerCondition: c.Experiment.TrialsPerCondition,
		WindowsPerTrial:    c.Experiment.WindowsPerTrial,
		LeadIn:             mustDuration(c.Experiment.LeadIn),
		Fixation:           mustDuration(c.Experiment.Fixation),
		Preparation:        mustDuration(c.Experiment.Preparation),
		Window:             time.Duration(c.WindowSeconds * float64(time.Second)),
		Rest:               mustDuration(c.Experiment.Rest),
	}
}

// mustDuration parses a duration that Validate has already checked.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
