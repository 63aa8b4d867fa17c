// Package config handles the parsing and validation of application configuration
// from command-line arguments and environment variables.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/craftboard/craftboard/internal/logger"
	"github.com/craftboard/craftboard/internal/vars"
	"github.com/jessevdk/go-flags"
)

// Config represents the complete application flags configuration.
type Config struct {
	Gateway   Gateway       `group:"Gateway Options" env-namespace:"CRAFTBOARD"`
	Storage   Storage       `group:"Storage Options" namespace:"db" env-namespace:"CRAFTBOARD_DB"`
	RCON      RCON          `group:"RCON Options" namespace:"rcon" env-namespace:"CRAFTBOARD_RCON"`
	Poller    Poller        `group:"Poller Options" namespace:"poll" env-namespace:"CRAFTBOARD_POLL"`
	GeoIP     GeoIP         `group:"GeoIP Options" namespace:"geoip" env-namespace:"CRAFTBOARD_GEOIP"`
	RateLimit RateLimit     `group:"Rate Limit Options" namespace:"rate-limit" env-namespace:"CRAFTBOARD_RATE_LIMIT"`
	Logger    logger.Config `group:"Logger Options" namespace:"log" env-namespace:"CRAFTBOARD_LOG"`

	Version bool `short:"v" long:"version" description:"Print version and build info"`
}

// Gateway holds the viewer-facing WebSocket gateway configuration.
type Gateway struct {
	Address      string        `short:"l" long:"address" env:"LISTEN_ADDRESS" description:"Gateway listen address" default:":8080"`
	PushInterval time.Duration `long:"push-interval" env:"PUSH_INTERVAL" description:"Interval between leaderboard pushes to subscribed viewers" default:"5s"`
	PageSize     int           `long:"page-size" env:"PAGE_SIZE" description:"Default leaderboard page size when a viewer omits one" default:"10"`
	TrustProxy   bool          `long:"trust-proxy" env:"TRUST_PROXY" description:"Trust X-Forwarded-For headers"`
}

// Storage holds database configuration and one-shot maintenance flags.
type Storage struct {
	Path          string `short:"d" long:"path" env:"PATH" description:"Path to SQLite database" default:"craftboard.db"`
	PruneServer   string `long:"prune-server" description:"Delete all records of a decommissioned server and exit"`
	PollOnce      bool   `long:"poll-once" description:"Run a single poll cycle for every configured server and exit"`
	GenerateCount int    `long:"gen-fake-data" hidden:"true"`
}

// RCON holds remote console client configuration.
type RCON struct {
	Servers     []string      `short:"s" long:"server" env:"SERVERS" env-delim:";" description:"Game server spec 'name,host:port,password'"`
	Timeout     time.Duration `long:"timeout" env:"TIMEOUT" description:"Connect and command timeout" default:"5s"`
	CommandRate float64       `long:"command-rate" env:"COMMAND_RATE" description:"Max console commands per second per server" default:"20"`
	RetryDelay  time.Duration `long:"retry-delay" env:"RETRY_DELAY" description:"Delay before re-establishing a dropped console session" default:"15s"`
}

// Poller holds leaderboard polling configuration.
type Poller struct {
	Interval    time.Duration `long:"interval" env:"INTERVAL" description:"Background poll interval per server" default:"10s"`
	CacheWindow time.Duration `long:"cache-window" env:"CACHE_WINDOW" description:"Snapshot age within which polls are short-circuited" default:"30s"`
}

// GeoIP holds MaxMind GeoIP configuration. An empty path disables lookups.
type GeoIP struct {
	Path     string        `short:"g" long:"path" env:"PATH" description:"Path to MMDB file (empty disables viewer country detection)"`
	URL      string        `long:"url" env:"URL" description:"URL to download MMDB" default:"https://git.io/GeoLite2-Country.mmdb"`
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Update interval check" default:"24h"`
}

// RateLimit holds the hard per-IP limit for the gateway upgrade endpoint.
type RateLimit struct {
	HardLimitCount int           `long:"hard-count" env:"HARD_COUNT" description:"Hard IP limit: requests count" default:"8"`
	HardLimitWin   time.Duration `long:"hard-window" env:"HARD_WINDOW" description:"Hard IP limit: window duration" default:"1m"`
}

// ServerSpec identifies one game server console. Immutable after load.
type ServerSpec struct {
	Name     string
	Host     string
	Port     int
	Password string
	Timeout  time.Duration
}

// Addr returns the host:port dial address of the console.
func (s ServerSpec) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ServerSpecs parses the raw --server flags into ServerSpec values.
// Each entry has the form "name,host:port,password".
func (c *Config) ServerSpecs() ([]ServerSpec, error) {
	specs := make([]ServerSpec, 0, len(c.RCON.Servers))
	seen := make(map[string]struct{}, len(c.RCON.Servers))

	for _, raw := range c.RCON.Servers {
		parts := strings.SplitN(raw, ",", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid server spec %q, want 'name,host:port,password'", raw)
		}

		name := strings.TrimSpace(parts[0])
		if name == "" {
			return nil, fmt.Errorf("invalid server spec %q, empty name", raw)
		}
		if _, dup := seen[strings.ToLower(name)]; dup {
			return nil, fmt.Errorf("duplicate server name %q", name)
		}
		seen[strings.ToLower(name)] = struct{}{}

		host, portStr, err := net.SplitHostPort(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid server address in %q: %w", raw, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid server port in %q", raw)
		}

		specs = append(specs, ServerSpec{
			Name:     name,
			Host:     host,
			Port:     port,
			Password: parts[2],
			Timeout:  c.RCON.Timeout,
		})
	}

	return specs, nil
}

// Parse reads the configuration from flags and environment variables.
// It terminates the application if the configuration is invalid or if the help flag is invoked.
func Parse() *Config {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	parser.NamespaceDelimiter = "-"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}

	if cfg.Version {
		vars.Print()
		os.Exit(0)
	}

	if len(cfg.RCON.Servers) == 0 && cfg.Storage.PruneServer == "" {
		fmt.Fprintln(os.Stderr,
			"Required flag `-s, --server' or environment variable `CRAFTBOARD_RCON_SERVERS` was not specified!")
		os.Exit(1)
	}

	return &cfg
}
