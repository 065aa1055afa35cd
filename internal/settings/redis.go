package settings

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis holds one connection per Redis role.
type Redis struct {
	Tasks   RedisConn `mapstructure:"tasks" json:"tasks"`
	Caching RedisConn `mapstructure:"caching" json:"caching"`
}

// RedisConn describes a Redis server, directly or through Sentinels.
type RedisConn struct {
	Host                  string     `mapstructure:"HOST" json:"HOST"`
	Port                  int        `mapstructure:"PORT" json:"PORT"`
	Sentinels             []Sentinel `mapstructure:"SENTINELS" json:"SENTINELS"`
	SentinelService       string     `mapstructure:"SENTINEL_SERVICE" json:"SENTINEL_SERVICE"`
	SentinelTimeout       int        `mapstructure:"SENTINEL_TIMEOUT" json:"SENTINEL_TIMEOUT"`
	Username              string     `mapstructure:"USERNAME" json:"USERNAME"`
	Password              string     `mapstructure:"PASSWORD" json:"-"`
	Database              int        `mapstructure:"DATABASE" json:"DATABASE"`
	SSL                   bool       `mapstructure:"SSL" json:"SSL"`
	InsecureSkipTLSVerify bool       `mapstructure:"INSECURE_SKIP_TLS_VERIFY" json:"INSECURE_SKIP_TLS_VERIFY"`
}

// Sentinel is a "host:port" Sentinel address.
type Sentinel struct {
	Host string `mapstructure:"HOST" json:"HOST"`
	Port int    `mapstructure:"PORT" json:"PORT"`
}

// UnmarshalText parses "host:port".
func (s *Sentinel) UnmarshalText(text []byte) error {
	host, port, err := net.SplitHostPort(string(text))
	if err != nil {
		return fmt.Errorf("sentinel %q: %w", text, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("sentinel %q: invalid port: %w", text, err)
	}
	s.Host, s.Port = host, n
	return nil
}

func (s Sentinel) String() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Addr returns the direct server address.
func (c RedisConn) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// UniversalOptions builds go-redis options. Sentinels, when present, take
// precedence over the direct address.
func (c RedisConn) UniversalOptions() *redis.UniversalOptions {
	opts := &redis.UniversalOptions{
		Username: c.Username,
		Password: c.Password,
		DB:       c.Database,
	}
	if len(c.Sentinels) > 0 {
		for _, s := range c.Sentinels {
			opts.Addrs = append(opts.Addrs, s.String())
		}
		opts.MasterName = c.SentinelService
		if c.SentinelTimeout > 0 {
			opts.DialTimeout = time.Duration(c.SentinelTimeout) * time.Second
		}
	} else {
		opts.Addrs = []string{c.Addr()}
	}
	if c.SSL {
		opts.TLSConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: c.InsecureSkipTLSVerify, //nolint:gosec // operator opt-in
		}
	}
	return opts
}

// Ping connects to the server and sends PING.
func (c RedisConn) Ping(ctx context.Context) error {
	client := redis.NewUniversalClient(c.UniversalOptions())
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis %s: %w", c.describe(), err)
	}
	return nil
}

func (c RedisConn) describe() string {
	if len(c.Sentinels) > 0 {
		return fmt.Sprintf("sentinel service %q", c.SentinelService)
	}
	return c.Addr()
}
