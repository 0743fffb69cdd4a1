package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting of the bridge, read from one YAML file.
type Config struct {
	Bridge   BridgeConfig   `yaml:"bridge"`
	SignalK  SignalKConfig  `yaml:"signalk"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Venus    VenusConfig    `yaml:"venus"`
	History  HistoryConfig  `yaml:"history"`
	Identity IdentityConfig `yaml:"identity"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BridgeConfig contains bridge identity and the device classes it translates.
type BridgeConfig struct {
	// ID uniquely identifies this bridge instance in logs and MQTT client IDs.
	ID string `yaml:"id"`

	// Batteries, Tanks, Switches and Environment enable each device class.
	Batteries   bool `yaml:"batteries"`
	Tanks       bool `yaml:"tanks"`
	Switches    bool `yaml:"switches"`
	Environment bool `yaml:"environment"`

	// ChargeSourcePaths are the two Signal K current readings (e.g. solar and
	// alternator) used for the battery net-load calculation.
	ChargeSourcePaths []string `yaml:"charge_source_paths"`
}

// SignalKConfig contains Signal K topic settings on the MQTT broker.
type SignalKConfig struct {
	// TopicPrefix is prepended to every Signal K topic (may be empty).
	TopicPrefix string `yaml:"topic_prefix"`

	// SelfContext is the vessel context accepted from deltas.
	// Default: "vessels.self"
	SelfContext string `yaml:"self_context"`

	// PutTopic receives PUT requests for writes coming back from Venus.
	// Default: "signalk/put"
	PutTopic string `yaml:"put_topic"`
}

// MQTTConfig is the broker the Signal K server publishes to.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig locates the broker.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig holds optional broker credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds paho's reconnect backoff, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// VenusConfig contains the Venus OS D-Bus side settings.
type VenusConfig struct {
	// Address is the D-Bus address. "system" selects the system bus,
	// anything else is passed to the dialer (e.g. "tcp:host=venus.local,port=78").
	Address string `yaml:"address"`

	// Namespace is the service name prefix.
	// Default: "com.victronenergy"
	Namespace string `yaml:"namespace"`

	// SettingsService is the well-known name of the settings registrar.
	// Default: "com.victronenergy.settings"
	SettingsService string `yaml:"settings_service"`

	// ProcessName is published under /Mgmt/ProcessName.
	ProcessName string `yaml:"process_name"`

	// ProductName, when set, replaces the per-class /ProductName.
	ProductName string `yaml:"product_name"`

	// Health monitor cadences.
	HeartbeatInterval         time.Duration `yaml:"heartbeat_interval"`
	HealthInterval            time.Duration `yaml:"health_interval"`
	RegistrationCheckInterval time.Duration `yaml:"registration_check_interval"`

	// CallTimeout bounds every request/response call on the bus.
	CallTimeout time.Duration `yaml:"call_timeout"`

	Reconnect VenusReconnectConfig `yaml:"reconnect"`

	// CreationWait bounds how long an update waits for a device that another
	// update is still creating.
	CreationWait time.Duration `yaml:"creation_wait"`
}

// VenusReconnectConfig contains the per-device reconnect backoff.
type VenusReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// HistoryConfig contains battery history persistence settings.
type HistoryConfig struct {
	Path            string        `yaml:"path"`
	SaveInterval    time.Duration `yaml:"save_interval"`
	MinSaveInterval time.Duration `yaml:"min_save_interval"`
}

// IdentityConfig selects how device local indexes are derived.
type IdentityConfig struct {
	// Scheme is "hash" (stateless) or "sqlite" (persisted in the database).
	Scheme string `yaml:"scheme"`
}

// DatabaseConfig locates the SQLite identity database.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig enables optional telemetry export.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig selects level, format and output stream.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Identity schemes.
const (
	IdentitySchemeHash   = "hash"
	IdentitySchemeSQLite = "sqlite"
)

// Load reads path over the defaults, then applies environment overrides,
// then validates the result.
//
// Environment variables follow the pattern: VENUSBRIDGE_SECTION_KEY
// For example: VENUSBRIDGE_MQTT_HOST, VENUSBRIDGE_HISTORY_PATH
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig matches a stock Venus OS install.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:          "venusbridge",
			Batteries:   true,
			Tanks:       true,
			Switches:    true,
			Environment: true,
		},
		SignalK: SignalKConfig{
			SelfContext: "vessels.self",
			PutTopic:    "signalk/put",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "venusbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Venus: VenusConfig{
			Address:                   "system",
			Namespace:                 "com.victronenergy",
			SettingsService:           "com.victronenergy.settings",
			ProcessName:               "venusbridge",
			HeartbeatInterval:         30 * time.Second,
			HealthInterval:            60 * time.Second,
			RegistrationCheckInterval: 120 * time.Second,
			CallTimeout:               5 * time.Second,
			Reconnect: VenusReconnectConfig{
				InitialDelay: time.Second,
				MaxDelay:     30 * time.Second,
				MaxAttempts:  10,
			},
			CreationWait: 5 * time.Second,
		},
		History: HistoryConfig{
			Path:            "./data/history.json",
			SaveInterval:    60 * time.Second,
			MinSaveInterval: time.Second,
		},
		Identity: IdentityConfig{
			Scheme: IdentitySchemeHash,
		},
		Database: DatabaseConfig{
			Path:        "./data/venusbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies the VENUSBRIDGE_* variables over the file
// values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VENUSBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("VENUSBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("VENUSBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("VENUSBRIDGE_DBUS_ADDRESS"); v != "" {
		cfg.Venus.Address = v
	}

	if v := os.Getenv("VENUSBRIDGE_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}

	if v := os.Getenv("VENUSBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("VENUSBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if n := len(c.Bridge.ChargeSourcePaths); n != 0 && n != 2 {
		errs = append(errs, "bridge.charge_source_paths must list exactly two paths")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	if c.Venus.Namespace == "" {
		errs = append(errs, "venus.namespace is required")
	}
	if c.Venus.SettingsService == "" {
		errs = append(errs, "venus.settings_service is required")
	}
	if c.Venus.HeartbeatInterval <= 0 || c.Venus.HealthInterval <= 0 || c.Venus.RegistrationCheckInterval <= 0 {
		errs = append(errs, "venus health intervals must be positive")
	}
	if c.Venus.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "venus.reconnect.max_attempts must not be negative")
	}

	if c.History.Path == "" {
		errs = append(errs, "history.path is required")
	}

	switch c.Identity.Scheme {
	case IdentitySchemeHash:
	case IdentitySchemeSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite identity scheme")
		}
	default:
		errs = append(errs, fmt.Sprintf("identity.scheme %q must be hash or sqlite", c.Identity.Scheme))
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Prefix returns the Signal K topic prefix with a trailing slash, or "".
func (c SignalKConfig) Prefix() string {
	p := strings.Trim(c.TopicPrefix, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
