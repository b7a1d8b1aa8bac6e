package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	DefaultHost           = "visonic.tycomonitor.com"
	DefaultUpdateInterval = 60
	envPrefix             = "VISONIC2MQTT_"
)

type Config struct {
	MQTT          MQTTConfig          `yaml:"mqtt"          envPrefix:"MQTT_"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant" envPrefix:"HA_"`
	Visonic       VisonicConfig       `yaml:"visonic"       envPrefix:"VISONIC_"`
	Metrics       MetricsConfig       `yaml:"metrics"       envPrefix:"METRICS_"`
	Log           string              `yaml:"log"           env:"LOG"`
	EntriesFile   string              `yaml:"entries_file"  env:"ENTRIES_FILE"`
}

type MQTTConfig struct {
	ClientID  string `yaml:"client_id" env:"CLIENT_ID"`
	Host      string `yaml:"host"      env:"HOST"`
	Port      int    `yaml:"port"      env:"PORT"`
	Keepalive int    `yaml:"keepalive" env:"KEEPALIVE"`
	Username  string `yaml:"username"  env:"USERNAME"`
	Password  string `yaml:"password"  env:"PASSWORD"`
	QOS       int    `yaml:"qos"       env:"QOS"`
	Retain    bool   `yaml:"retain"    env:"RETAIN"`
	Prefix    string `yaml:"prefix"    env:"PREFIX"`
	Clean     bool   `yaml:"clean"     env:"CLEAN"`
}

type HomeAssistantConfig struct {
	Discovery bool   `yaml:"discovery" env:"DISCOVERY"`
	Prefix    string `yaml:"prefix"    env:"PREFIX"`
}

// VisonicConfig holds settings shared by every configured panel.
type VisonicConfig struct {
	Workers        int           `yaml:"workers"         env:"WORKERS"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	RetryInterval  time.Duration `yaml:"retry_interval"  env:"RETRY_INTERVAL"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen" env:"LISTEN"`
}

// EntryConfig is one configured panel, as created by the config flow and
// persisted by the entry store.
type EntryConfig struct {
	ID             string `yaml:"id"`
	Title          string `yaml:"title"`
	Host           string `yaml:"host"`
	Email          string `yaml:"email"`
	Password       string `yaml:"password"`
	PanelID        string `yaml:"panel_id"`
	MasterCode     string `yaml:"master_code"`
	CodelessArm    bool   `yaml:"codeless_arm"`
	CodelessDisarm bool   `yaml:"codeless_disarm"`
	UpdateInterval int    `yaml:"update_interval"`
	UUID           string `yaml:"uuid"`
}

// NewEntryConfig returns an entry populated with the form defaults.
func NewEntryConfig() EntryConfig {
	return EntryConfig{
		Host:           DefaultHost,
		CodelessArm:    true,
		CodelessDisarm: false,
		UpdateInterval: DefaultUpdateInterval,
	}
}

// UnmarshalYAML starts from the form defaults, so keys missing from a
// hand-edited entry keep their default rather than the zero value.
func (e *EntryConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain EntryConfig
	*e = NewEntryConfig()
	return unmarshal((*plain)(e))
}

// Interval is the configured polling period.
func (e EntryConfig) Interval() time.Duration {
	return time.Duration(e.UpdateInterval) * time.Second
}

func (e EntryConfig) Validate() error {
	var errs []error
	if e.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if e.Email == "" {
		errs = append(errs, errors.New("email is required"))
	}
	if e.Password == "" {
		errs = append(errs, errors.New("password is required"))
	}
	if e.PanelID == "" {
		errs = append(errs, errors.New("panel_id is required"))
	}
	if e.MasterCode == "" {
		errs = append(errs, errors.New("master_code is required"))
	}
	if e.UpdateInterval <= 0 {
		errs = append(errs, fmt.Errorf("update_interval must be positive, got %d", e.UpdateInterval))
	}
	return errors.Join(errs...)
}

func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Bridge status is retained unless the config says otherwise.
	config := Config{MQTT: MQTTConfig{Retain: true}}
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := applyEnv(&config); err != nil {
		return nil, err
	}

	setDefaults(&config)
	return &config, nil
}

// applyEnv overlays VISONIC2MQTT_* variables, reading a .env file first if
// one is present in the working directory.
func applyEnv(config *Config) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error loading .env: %w", err)
	}
	if err := env.ParseWithOptions(config, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("error parsing environment: %w", err)
	}
	return nil
}

func setDefaults(config *Config) {
	if config.MQTT.ClientID == "" {
		config.MQTT.ClientID = "visonic2mqtt"
	}
	if config.MQTT.Host == "" {
		config.MQTT.Host = "localhost"
	}
	if config.MQTT.Port == 0 {
		config.MQTT.Port = 1883
	}
	if config.MQTT.Keepalive == 0 {
		config.MQTT.Keepalive = 60
	}
	if config.MQTT.Prefix == "" {
		config.MQTT.Prefix = "visonic2mqtt"
	}
	if config.HomeAssistant.Prefix == "" {
		config.HomeAssistant.Prefix = "homeassistant"
	}
	if config.Visonic.Workers == 0 {
		config.Visonic.Workers = 4
	}
	if config.Visonic.RequestTimeout == 0 {
		config.Visonic.RequestTimeout = 30 * time.Second
	}
	if config.Visonic.RetryInterval == 0 {
		config.Visonic.RetryInterval = time.Minute
	}
	if config.Log == "" {
		config.Log = "info"
	}
	if config.EntriesFile == "" {
		config.EntriesFile = "entries.yml"
	}
}
