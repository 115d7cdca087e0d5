package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/example/mobility-matching/internal/logging"
)

// EnvPrefix marks environment variables that override file settings.
// MOBILITY_HTTP__ADDR maps to http.addr.
const EnvPrefix = "MOBILITY_"

// Config captures all tunable parameters for the API and consumer processes.
// Every field has a default so the binary can run locally without a file.
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Log       LogConfig       `json:"log"`
	Matching  MatchingConfig  `json:"matching"`
	Providers ProvidersConfig `json:"providers"`
	Redis     RedisConfig     `json:"redis"`
	Kafka     KafkaConfig     `json:"kafka"`
	Postgres  PostgresConfig  `json:"postgres"`
	Auth      AuthConfig      `json:"auth"`
	RDW       RDWConfig       `json:"rdw"`
}

type HTTPConfig struct {
	Addr            string        `json:"addr"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Distance modes for the range filter.
const (
	DistanceFixed     = "fixed"
	DistanceHaversine = "haversine"
)

type MatchingConfig struct {
	// ProviderTimeout bounds each provider call; a timeout counts as a failure.
	ProviderTimeout time.Duration `json:"provider_timeout"`

	// MaxConcurrentProviders bounds the search fan-out; 0 queries all at once.
	MaxConcurrentProviders int     `json:"max_concurrent_providers"`
	DistanceMode           string  `json:"distance_mode"`
	FixedDistanceKm        float64 `json:"fixed_distance_km"`
}

type ProvidersConfig struct {
	Internal     ToggleConfig    `json:"internal"`
	Placeholders ToggleConfig    `json:"placeholders"`
	Municipal    MunicipalConfig `json:"municipal"`
	National     NationalConfig  `json:"national"`
}

type ToggleConfig struct {
	Enabled bool `json:"enabled"`
}

type MunicipalConfig struct {
	Enabled bool          `json:"enabled"`
	URL     string        `json:"url"`
	Source  string        `json:"source"`
	Timeout time.Duration `json:"timeout"`
}

type NationalConfig struct {
	Enabled   bool          `json:"enabled"`
	URL       string        `json:"url"`
	UserAgent string        `json:"user_agent"`
	CacheTTL  time.Duration `json:"cache_ttl"`
	Timeout   time.Duration `json:"timeout"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	GeoKey   string `json:"geo_key"`
}

type KafkaConfig struct {
	// Brokers is a comma separated list; empty disables event publishing.
	Brokers string `json:"brokers"`
	Topic   string `json:"topic"`
	Group   string `json:"group"`
}

// BrokerList splits Brokers into trimmed, non-empty addresses.
func (k KafkaConfig) BrokerList() []string { return splitAndTrim(k.Brokers) }

type PostgresConfig struct {
	DSN     string `json:"dsn"`
	Migrate bool   `json:"migrate"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
}

type RDWConfig struct {
	SpecsURL    string        `json:"specs_url"`
	ParkingURL  string        `json:"parking_url"`
	CapacityURL string        `json:"capacity_url"`
	SpecsTTL    time.Duration `json:"specs_ttl"`
	ParkingTTL  time.Duration `json:"parking_ttl"`
	Timeout     time.Duration `json:"timeout"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Matching: MatchingConfig{
			ProviderTimeout: 5 * time.Second,
			DistanceMode:    DistanceFixed,
			FixedDistanceKm: 50,
		},
		Providers: ProvidersConfig{
			Internal:     ToggleConfig{Enabled: true},
			Placeholders: ToggleConfig{Enabled: true},
			Municipal: MunicipalConfig{
				Enabled: true,
				URL:     "https://data.eindhoven.nl/api/records/1.0/search/?dataset=locaties-deelautos&q=&rows=1000",
				Source:  "eindhoven",
				Timeout: 10 * time.Second,
			},
			National: NationalConfig{
				Enabled:   true,
				URL:       "https://api.datadeelmobiliteit.nl/vehicles",
				UserAgent: "mobility-matching/1.0",
				CacheTTL:  60 * time.Second,
				Timeout:   10 * time.Second,
			},
		},
		Redis: RedisConfig{GeoKey: "charging_points_geo"},
		Kafka: KafkaConfig{Topic: "booking-events", Group: "booking-projection"},
		Auth:  AuthConfig{JWTSecret: "super-secret-key-change-in-prod"},
		RDW: RDWConfig{
			SpecsURL:    "https://opendata.rdw.nl/resource/m9d7-ebf2.json",
			ParkingURL:  "https://opendata.rdw.nl/resource/t5pc-eb34.json",
			CapacityURL: "https://opendata.rdw.nl/resource/b3us-f26s.json",
			SpecsTTL:    time.Hour,
			ParkingTTL:  5 * time.Minute,
			Timeout:     10 * time.Second,
		},
	}
}

// Load reads defaults, then the optional file at path, then MOBILITY_*
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		var parser koanf.Parser
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if !logging.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Errorf("unknown log.level %q", c.Log.Level))
	}
	if f := strings.ToLower(c.Log.Format); f != "" && f != "json" && f != "console" {
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	if c.Matching.ProviderTimeout <= 0 {
		errs = append(errs, errors.New("matching.provider_timeout must be > 0"))
	}
	switch c.Matching.DistanceMode {
	case DistanceFixed, DistanceHaversine:
	default:
		errs = append(errs, fmt.Errorf("unknown matching.distance_mode %q", c.Matching.DistanceMode))
	}
	if c.Matching.MaxConcurrentProviders < 0 {
		errs = append(errs, errors.New("matching.max_concurrent_providers must be >= 0"))
	}
	if c.Matching.FixedDistanceKm <= 0 {
		errs = append(errs, errors.New("matching.fixed_distance_km must be > 0"))
	}
	if c.Providers.Municipal.Enabled && c.Providers.Municipal.URL == "" {
		errs = append(errs, errors.New("providers.municipal.url is required when enabled"))
	}
	if c.Providers.National.Enabled {
		if c.Providers.National.URL == "" {
			errs = append(errs, errors.New("providers.national.url is required when enabled"))
		}
		if c.Providers.National.CacheTTL <= 0 {
			errs = append(errs, errors.New("providers.national.cache_ttl must be > 0"))
		}
	}
	if c.Kafka.Brokers != "" && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	return errors.Join(errs...)
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
