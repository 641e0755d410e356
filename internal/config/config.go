package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models u22.yml. Every connection string and token must be present
// before the worker starts; Validate enforces that.
type Config struct {
	Dashboard struct {
		URL    string `yaml:"url"`
		APIKey string `yaml:"api_key"`
	} `yaml:"dashboard"`
	Process struct {
		Name        string `yaml:"name"`
		ReviewStep  string `yaml:"review_step"`
		ConsentStep string `yaml:"consent_step"`
		JournalStep string `yaml:"journal_step"`
	} `yaml:"process"`
	ATS struct {
		URL       string `yaml:"url"`
		Token     string `yaml:"token"`
		Namespace string `yaml:"namespace"`
	} `yaml:"ats"`
	Queues struct {
		Bookings string `yaml:"bookings"`
		Forms    string `yaml:"forms"`
		Final    string `yaml:"final"`
	} `yaml:"queues"`
	Appointments struct {
		Driver      string `yaml:"driver"`
		DSN         string `yaml:"dsn"`
		BookingType string `yaml:"booking_type"`
	} `yaml:"appointments"`
	Forms struct {
		Driver string   `yaml:"driver"`
		DSN    string   `yaml:"dsn"`
		Types  []string `yaml:"types"`
	} `yaml:"forms"`
	Worker struct {
		Interval             Duration `yaml:"interval"`
		Backoff              Duration `yaml:"backoff"`
		ReconcileFailedItems bool     `yaml:"reconcile_failed_items"`
	} `yaml:"worker"`
	Server struct {
		Enabled   bool   `yaml:"enabled"`
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Logging struct {
		File string `yaml:"file"`
	} `yaml:"logging"`
}

// Duration parses "5m"/"30s" style values from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the config with every business constant filled in.
// Endpoints, tokens and connection strings stay empty and must come from the
// environment or a config file.
func Default() *Config {
	var cfg Config
	cfg.Process.Name = "Udskrivning 22 år"
	cfg.Process.ReviewStep = "Faglig vurdering"
	cfg.Process.ConsentStep = "Samtykke"
	cfg.Process.JournalStep = "Journalmateriale sendt og journaliseret"
	cfg.ATS.Namespace = "tan.udskrivning22"
	cfg.Queues.Bookings = "faglig_vurdering_udfoert"
	cfg.Queues.Forms = "formular_indsendt"
	cfg.Queues.Final = "journal_og_roentgen_afleveret"
	cfg.Appointments.Driver = "sqlite"
	cfg.Appointments.BookingType = "Z - 22 år - Borger fyldt 22 år"
	cfg.Forms.Driver = "sqlite"
	cfg.Forms.Types = []string{
		"udskrivning_22_aar_tandpleje_for",
		"udskrivning_22_aar_privat_tandkl",
	}
	cfg.Worker.Interval = Duration(5 * time.Minute)
	cfg.Worker.Backoff = Duration(30 * time.Second)
	cfg.Server.Addr = "127.0.0.1:8022"
	cfg.Server.BasePath = "/v0"
	cfg.Logging.File = "u22.log"
	return &cfg
}

// Validate ensures every external system is reachable on paper before the
// loop starts. Missing configuration is the only error allowed to terminate
// the process.
func (c *Config) Validate() error {
	if c.Dashboard.URL == "" {
		return fmt.Errorf("config.dashboard.url is required")
	}
	if c.Dashboard.APIKey == "" {
		return fmt.Errorf("config.dashboard.api_key is required")
	}
	if c.ATS.URL == "" {
		return fmt.Errorf("config.ats.url is required")
	}
	if c.ATS.Token == "" {
		return fmt.Errorf("config.ats.token is required")
	}
	if c.ATS.Namespace == "" {
		return fmt.Errorf("config.ats.namespace is required")
	}
	if c.Appointments.DSN == "" {
		return fmt.Errorf("config.appointments.dsn is required")
	}
	if c.Forms.DSN == "" {
		return fmt.Errorf("config.forms.dsn is required")
	}
	if len(c.Forms.Types) == 0 {
		return fmt.Errorf("config.forms.types is required")
	}
	if c.Process.Name == "" {
		return fmt.Errorf("config.process.name is required")
	}
	for name, v := range map[string]string{
		"review_step":  c.Process.ReviewStep,
		"consent_step": c.Process.ConsentStep,
		"journal_step": c.Process.JournalStep,
	} {
		if v == "" {
			return fmt.Errorf("config.process.%s is required", name)
		}
	}
	for name, v := range map[string]string{
		"bookings": c.Queues.Bookings,
		"forms":    c.Queues.Forms,
		"final":    c.Queues.Final,
	} {
		if v == "" {
			return fmt.Errorf("config.queues.%s is required", name)
		}
	}
	if c.Worker.Interval.Std() <= 0 {
		return fmt.Errorf("config.worker.interval must be positive")
	}
	if c.Worker.Backoff.Std() <= 0 {
		return fmt.Errorf("config.worker.backoff must be positive")
	}
	if c.Worker.Backoff.Std() >= c.Worker.Interval.Std() {
		return fmt.Errorf("config.worker.backoff must be shorter than the interval")
	}
	if c.Server.Enabled && c.Server.JWTSecret == "" {
		return fmt.Errorf("config.server.jwt_secret is required when the status API is enabled")
	}
	return nil
}

// Parse reads raw YAML bytes over the defaults without validating, so the
// caller can overlay environment values first.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	return cfg, nil
}

// FromYAML parses and validates config from raw YAML bytes, layered over the
// defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}
