package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"gossipstore/internal/membership"
)

// Gossip transports.
const (
	TransportGRPC = "grpc"
	TransportHTTP = "http"
)

// EnvPrefix is prepended to every environment variable read by FromEnv.
const EnvPrefix = "GOSSIPSTORE_"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the node configuration.
type Config struct {
	NodeID         string
	ListenAddr     string
	HTTPAddr       string
	Peers          []membership.Peer
	GossipInterval time.Duration
	PushTimeout    time.Duration
	Transport      string
	LogLevel       string
	LogFormat      string
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		ListenAddr:     "127.0.0.1:50051",
		GossipInterval: 2 * time.Second,
		PushTimeout:    time.Second,
		Transport:      TransportGRPC,
		LogLevel:       "info",
		LogFormat:      "console",
	}
}

// ParsePeers parses a comma-separated list of peers. Each item is either
// "id=addr" or a bare "addr":
// "n1=127.0.0.1:50051,127.0.0.1:50052"
func ParsePeers(peersStr string) ([]membership.Peer, error) {
	if strings.TrimSpace(peersStr) == "" {
		return []membership.Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]membership.Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		var id, addr string
		if kv := strings.SplitN(part, "=", 2); len(kv) == 2 {
			id = strings.TrimSpace(kv[0])
			addr = strings.TrimSpace(kv[1])
			if id == "" || addr == "" {
				return nil, fmt.Errorf("peer ID and address cannot be empty: %s", part)
			}
		} else {
			addr = part
		}

		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, fmt.Errorf("invalid peer address %q: %w", addr, err)
		}
		peers = append(peers, membership.Peer{ID: id, Addr: addr})
	}

	return peers, nil
}

// FormatPeers is the inverse of ParsePeers.
func FormatPeers(peers []membership.Peer) string {
	parts := make([]string, 0, len(peers))
	for _, p := range peers {
		if p.ID == "" {
			parts = append(parts, p.Addr)
		} else {
			parts = append(parts, p.ID+"="+p.Addr)
		}
	}
	return strings.Join(parts, ",")
}

// GossipAddr returns the address peers push to, which depends on the
// transport.
func (c Config) GossipAddr() string {
	if c.Transport == TransportHTTP {
		return c.HTTPAddr
	}
	return c.ListenAddr
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("%w: node id is required", ErrInvalidConfig)
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("%w: listen address %q: %v", ErrInvalidConfig, c.ListenAddr, err)
	}
	if c.HTTPAddr != "" {
		if _, _, err := net.SplitHostPort(c.HTTPAddr); err != nil {
			return fmt.Errorf("%w: http address %q: %v", ErrInvalidConfig, c.HTTPAddr, err)
		}
	}
	if c.GossipInterval <= 0 {
		return fmt.Errorf("%w: gossip interval must be positive, got %s", ErrInvalidConfig, c.GossipInterval)
	}
	if c.PushTimeout <= 0 || c.PushTimeout > c.GossipInterval {
		return fmt.Errorf("%w: push timeout %s must be positive and at most the interval %s",
			ErrInvalidConfig, c.PushTimeout, c.GossipInterval)
	}
	switch c.Transport {
	case TransportGRPC:
	case TransportHTTP:
		if c.HTTPAddr == "" {
			return fmt.Errorf("%w: http transport requires an http address", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}

// LoadDotEnv loads path into the process environment. A missing file is not
// an error. Variables already set are left alone.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// FromEnv overrides cfg with GOSSIPSTORE_* variables found by lookup.
func FromEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}

	str("NODE_ID", &cfg.NodeID)
	str("LISTEN_ADDR", &cfg.ListenAddr)
	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("TRANSPORT", &cfg.Transport)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	if err := dur("GOSSIP_INTERVAL", &cfg.GossipInterval); err != nil {
		return err
	}
	if err := dur("PUSH_TIMEOUT", &cfg.PushTimeout); err != nil {
		return err
	}
	if v, ok := lookup(EnvPrefix + "PEERS"); ok {
		peers, err := ParsePeers(v)
		if err != nil {
			return fmt.Errorf("%sPEERS: %w", EnvPrefix, err)
		}
		cfg.Peers = peers
	}
	return nil
}

// ParseFlags registers the node flags on flags, using cfg's current values as
// defaults, and parses args into cfg.
func ParseFlags(cfg *Config, flags *flag.FlagSet, args []string) error {
	peers := FormatPeers(cfg.Peers)

	flags.StringVar(&cfg.NodeID, "node-id", cfg.NodeID, "Node ID (e.g., n1)")
	flags.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "gRPC listen address (host:port)")
	flags.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "HTTP listen address (host:port); empty disables HTTP")
	flags.StringVar(&peers, "peers", peers, "Comma-separated list of peers: id=addr or addr")
	flags.DurationVar(&cfg.GossipInterval, "gossip-interval", cfg.GossipInterval, "Time between push rounds")
	flags.DurationVar(&cfg.PushTimeout, "push-timeout", cfg.PushTimeout, "Deadline for a single push")
	flags.StringVar(&cfg.Transport, "transport", cfg.Transport, "Gossip transport: grpc or http")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: json or console")

	if err := flags.Parse(args); err != nil {
		return err
	}

	parsed, err := ParsePeers(peers)
	if err != nil {
		return fmt.Errorf("-peers: %w", err)
	}
	cfg.Peers = parsed
	return nil
}

// Load builds a validated Config from defaults, ./.env, the environment and
// the command line, in increasing precedence.
func Load(name string, args []string) (Config, error) {
	cfg := Default()

	if err := LoadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	if err := FromEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := ParseFlags(&cfg, flag.NewFlagSet(name, flag.ContinueOnError), args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
