// Package config builds the control plane's Config using the teacher's
// three-layer model: defaults, then environment variables, then functional
// options (highest priority), validated once at the end (spec.md §6
// Configuration).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting named in spec.md §6.
type Config struct {
	Port int `env:"LISTEN_PORT" default:"8080"`

	Fleet     []string          `env:"DELIVERY_ROBOT_LIST"`
	UIIDTable map[string]string `env:"ID_TABLE"`

	WorldModelEndpoint string        `env:"ORION_ENDPOINT"`
	WorldModelToken    string        `env:"ORION_BEARER_TOKEN"`
	WorldModelTimeout  time.Duration `env:"ORION_TIMEOUT" default:"10s"`

	Service     string `env:"FIWARE_SERVICE"`
	ServicePath string `env:"FIWARE_SERVICEPATH"`

	DeliveryRobotType string `env:"DELIVERY_ROBOT_TYPE" default:"delivery_robot"`
	PlaceType         string `env:"PLACE_TYPE" default:"place"`
	RoutePlanType     string `env:"ROUTE_PLAN_TYPE" default:"route_plan"`
	TokenType         string `env:"TOKEN_TYPE" default:"token"`
	RobotUIType       string `env:"ROBOT_UI_TYPE" default:"robot_ui"`

	ThrottleInterval time.Duration `env:"THROTTLE_INTERVAL" default:"500ms"`
	PollInterval     time.Duration `env:"POLL_INTERVAL" default:"200ms"`
	MaxPollAttempts  int           `env:"MAX_POLL" default:"25"`

	TimeZone string `env:"TZ" default:"UTC"`

	CORSOrigins []string `env:"CORS_ORIGINS"`

	OrderingCalls []string `env:"ORDERING_LIST" default:"ordering"`

	RedisURL string `env:"REDIS_URL"`

	LogLevel string `env:"LOG_LEVEL" default:"info"`

	FleetConfigFile string `env:"FLEET_CONFIG_FILE"`

	location *time.Location
}

// Location returns the parsed time.Location for TimeZone, loaded once.
func (c *Config) Location() *time.Location {
	return c.location
}

// Option is a functional option, applied after environment loading (highest
// priority per the three-layer model).
type Option func(*Config) error

// WithPort overrides the listen port.
func WithPort(port int) Option {
	return func(c *Config) error {
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid port: %d", port)
		}
		c.Port = port
		return nil
	}
}

// WithFleet overrides the fleet robot id list.
func WithFleet(fleet []string) Option {
	return func(c *Config) error {
		c.Fleet = fleet
		return nil
	}
}

// WithUIIDTable overrides the robot_id -> ui_id mapping.
func WithUIIDTable(table map[string]string) Option {
	return func(c *Config) error {
		c.UIIDTable = table
		return nil
	}
}

// WithWorldModelEndpoint overrides the world-model store endpoint.
func WithWorldModelEndpoint(endpoint string) Option {
	return func(c *Config) error {
		c.WorldModelEndpoint = endpoint
		return nil
	}
}

// WithCORS overrides the allowed CORS origins.
func WithCORS(origins []string) Option {
	return func(c *Config) error {
		c.CORSOrigins = origins
		return nil
	}
}

// WithLogLevel overrides the log level.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.LogLevel = level
		return nil
	}
}

func defaultConfig() *Config {
	return &Config{
		Port:              8080,
		WorldModelTimeout: 10 * time.Second,
		DeliveryRobotType: "delivery_robot",
		PlaceType:         "place",
		RoutePlanType:     "route_plan",
		TokenType:         "token",
		RobotUIType:       "robot_ui",
		ThrottleInterval:  500 * time.Millisecond,
		PollInterval:      200 * time.Millisecond,
		MaxPollAttempts:   25,
		TimeZone:          "UTC",
		OrderingCalls:     []string{"ordering"},
		LogLevel:          "info",
	}
}

func parseStringList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseIDTable parses "r1=ui1,r2=ui2" into a map.
func parseIDTable(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range parseStringList(s) {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			return nil, fmt.Errorf("malformed ID_TABLE entry %q, want robot_id=ui_id", pair)
		}
		out[kv[0]] = kv[1]
	}
	return out, nil
}

// fleetFile is the optional YAML fallback shape for FLEET_CONFIG_FILE
// (SPEC_FULL.md §11: declarative fleet bootstrap data authored as YAML),
// used only when DELIVERY_ROBOT_LIST/ID_TABLE are both absent from the
// environment.
type fleetFile struct {
	Fleet     []string          `yaml:"fleet"`
	UIIDTable map[string]string `yaml:"ui_id_table"`
}

func (c *Config) loadFromEnv() error {
	if v := os.Getenv("LISTEN_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid LISTEN_PORT: %w", err)
		}
		c.Port = port
	}
	if v := os.Getenv("DELIVERY_ROBOT_LIST"); v != "" {
		c.Fleet = parseStringList(v)
	}
	if v := os.Getenv("ID_TABLE"); v != "" {
		table, err := parseIDTable(v)
		if err != nil {
			return err
		}
		c.UIIDTable = table
	}

	if len(c.Fleet) == 0 && len(c.UIIDTable) == 0 {
		if path := os.Getenv("FLEET_CONFIG_FILE"); path != "" {
			if err := c.loadFleetFile(path); err != nil {
				return err
			}
		}
	}

	if v := os.Getenv("ORION_ENDPOINT"); v != "" {
		c.WorldModelEndpoint = v
	}
	if v := os.Getenv("ORION_BEARER_TOKEN"); v != "" {
		c.WorldModelToken = v
	}
	if v := os.Getenv("ORION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid ORION_TIMEOUT: %w", err)
		}
		c.WorldModelTimeout = d
	}

	if v := os.Getenv("FIWARE_SERVICE"); v != "" {
		c.Service = v
	}
	if v := os.Getenv("FIWARE_SERVICEPATH"); v != "" {
		c.ServicePath = v
	}

	if v := os.Getenv("DELIVERY_ROBOT_TYPE"); v != "" {
		c.DeliveryRobotType = v
	}
	if v := os.Getenv("PLACE_TYPE"); v != "" {
		c.PlaceType = v
	}
	if v := os.Getenv("ROUTE_PLAN_TYPE"); v != "" {
		c.RoutePlanType = v
	}
	if v := os.Getenv("TOKEN_TYPE"); v != "" {
		c.TokenType = v
	}
	if v := os.Getenv("ROBOT_UI_TYPE"); v != "" {
		c.RobotUIType = v
	}

	if v := os.Getenv("THROTTLE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid THROTTLE_INTERVAL: %w", err)
		}
		c.ThrottleInterval = d
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid POLL_INTERVAL: %w", err)
		}
		c.PollInterval = d
	}
	if v := os.Getenv("MAX_POLL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_POLL: %w", err)
		}
		c.MaxPollAttempts = n
	}

	if v := os.Getenv("TZ"); v != "" {
		c.TimeZone = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = parseStringList(v)
	}
	if v := os.Getenv("ORDERING_LIST"); v != "" {
		c.OrderingCalls = parseStringList(v)
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	return nil
}

func (c *Config) loadFleetFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read fleet config file %s: %w", path, err)
	}
	var parsed fleetFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse fleet config file %s: %w", path, err)
	}
	c.Fleet = parsed.Fleet
	c.UIIDTable = parsed.UIIDTable
	return nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if len(c.Fleet) == 0 {
		return fmt.Errorf("fleet list must not be empty (set DELIVERY_ROBOT_LIST or FLEET_CONFIG_FILE)")
	}
	if c.WorldModelEndpoint == "" {
		return fmt.Errorf("ORION_ENDPOINT is required")
	}
	if c.Service == "" || c.ServicePath == "" {
		return fmt.Errorf("FIWARE_SERVICE and FIWARE_SERVICEPATH are required")
	}
	return nil
}

// ReverseUIIDTable derives ui_id -> robot_id from UIIDTable.
func (c *Config) ReverseUIIDTable() map[string]string {
	out := make(map[string]string, len(c.UIIDTable))
	for robotID, uiID := range c.UIIDTable {
		out[uiID] = robotID
	}
	return out
}

// New builds a validated Config from defaults, environment variables, then
// opts, in that priority order (spec.md §6; teacher's core/config.go
// three-layer model).
func New(opts ...Option) (*Config, error) {
	cfg := defaultConfig()

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid TZ %q: %w", cfg.TimeZone, err)
	}
	cfg.location = loc

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
