// Package settings is the typed view of the resolved configuration.
//
// Values come from an overlay.Facade: each top-level setting is taken whole
// from the highest-priority source that defines it. Settings no source
// defines keep the defaults below.
package settings

import (
	"fmt"
	"slices"

	"github.com/eugenenazirov/peerconf/internal/overlay"
)

// Database engines understood by the seed store.
const (
	EngineMemory = "memory"
	EngineSQLite = "sqlite"
)

// Settings holds the application settings consumed by peerconf.
type Settings struct {
	AllowedHosts        []string   `mapstructure:"ALLOWED_HOSTS" json:"ALLOWED_HOSTS"`
	Debug               bool       `mapstructure:"DEBUG" json:"DEBUG"`
	SecretKey           string     `mapstructure:"SECRET_KEY" json:"-"`
	TimeZone            string     `mapstructure:"TIME_ZONE" json:"TIME_ZONE"`
	LoginRequired       bool       `mapstructure:"LOGIN_REQUIRED" json:"LOGIN_REQUIRED"`
	LoginPersistence    bool       `mapstructure:"LOGIN_PERSISTENCE" json:"LOGIN_PERSISTENCE"`
	LoginTimeout        int        `mapstructure:"LOGIN_TIMEOUT" json:"LOGIN_TIMEOUT"`
	BannerLogin         string     `mapstructure:"BANNER_LOGIN" json:"BANNER_LOGIN"`
	Admins              [][]string `mapstructure:"ADMINS" json:"ADMINS"`
	InternalIPs         []string   `mapstructure:"INTERNAL_IPS" json:"INTERNAL_IPS"`
	CORSOriginAllowAll  bool       `mapstructure:"CORS_ORIGIN_ALLOW_ALL" json:"CORS_ORIGIN_ALLOW_ALL"`
	CORSOriginWhitelist []string   `mapstructure:"CORS_ORIGIN_WHITELIST" json:"CORS_ORIGIN_WHITELIST"`
	MetricsEnabled      bool       `mapstructure:"METRICS_ENABLED" json:"METRICS_ENABLED"`
	PaginateCount       int        `mapstructure:"PAGINATE_COUNT" json:"PAGINATE_COUNT"`
	MaxPageSize         int        `mapstructure:"MAX_PAGE_SIZE" json:"MAX_PAGE_SIZE"`
	ChangelogRetention  int        `mapstructure:"CHANGELOG_RETENTION" json:"CHANGELOG_RETENTION"`
	JobRetention        int        `mapstructure:"JOB_RETENTION" json:"JOB_RETENTION"`
	Database            Database   `mapstructure:"DATABASE" json:"DATABASE"`
	Redis               Redis      `mapstructure:"REDIS" json:"REDIS"`

	// Extra keeps settings peerconf does not model, for introspection.
	Extra map[string]any `mapstructure:",remain" json:"-"`
}

// Database describes the relational store. ENGINE selects where startup
// scripts write seeded records.
type Database struct {
	Engine                   string            `mapstructure:"ENGINE" json:"ENGINE"`
	Name                     string            `mapstructure:"NAME" json:"NAME"`
	User                     string            `mapstructure:"USER" json:"USER"`
	Password                 string            `mapstructure:"PASSWORD" json:"-"`
	Host                     string            `mapstructure:"HOST" json:"HOST"`
	Port                     string            `mapstructure:"PORT" json:"PORT"`
	Options                  map[string]string `mapstructure:"OPTIONS" json:"OPTIONS"`
	ConnMaxAge               int               `mapstructure:"CONN_MAX_AGE" json:"CONN_MAX_AGE"`
	DisableServerSideCursors bool              `mapstructure:"DISABLE_SERVER_SIDE_CURSORS" json:"DISABLE_SERVER_SIDE_CURSORS"`
}

// Defaults mirrors the values used when a setting is not configured at all.
func Defaults() Settings {
	return Settings{
		AllowedHosts:        []string{"*"},
		TimeZone:            "UTC",
		LoginRequired:       true,
		LoginTimeout:        1209600,
		InternalIPs:         []string{"127.0.0.1", "::1"},
		CORSOriginWhitelist: []string{"https://localhost"},
		PaginateCount:       50,
		MaxPageSize:         1000,
		ChangelogRetention:  90,
		JobRetention:        90,
		Database: Database{
			Engine:     EngineMemory,
			Name:       "peering_manager",
			Host:       "localhost",
			Options:    map[string]string{"sslmode": "prefer"},
			ConnMaxAge: 300,
		},
		Redis: Redis{
			Tasks:   RedisConn{Host: "localhost", Port: 6379, SentinelService: "default", SentinelTimeout: 10},
			Caching: RedisConn{Host: "localhost", Port: 6379, SentinelService: "default", SentinelTimeout: 10, Database: 1},
		},
	}
}

// Load decodes the facade over Defaults.
func Load(f *overlay.Facade) (*Settings, error) {
	s := Defaults()
	// a configured mapping replaces the default one wholesale
	if _, ok := f.Lookup("DATABASE"); ok {
		s.Database = Database{Engine: EngineMemory}
	}
	if _, ok := f.Lookup("REDIS"); ok {
		s.Redis = Redis{}
	}
	if err := f.Decode(&s); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	s.AllowedHosts = withHealthCheckHost(s.AllowedHosts)
	return &s, nil
}

// withHealthCheckHost keeps "*" or "localhost" allowed so local health checks
// always reach the server.
func withHealthCheckHost(hosts []string) []string {
	if slices.Contains(hosts, "*") || slices.Contains(hosts, "localhost") {
		return hosts
	}
	return append(slices.Clone(hosts), "localhost")
}
