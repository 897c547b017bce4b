// Package config loads the runtime configuration from command line flags
// and NETDEVPBX_* environment variables.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/netdevpbx/netdevpbx/internal/media"
)

// Config holds all runtime configuration for the netdevpbx server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir     string
	HTTPPort    int
	SIPPort     int
	RTPPortMin  int
	RTPPortMax  int
	ExternalIP  string // address advertised in SDP answers
	LogLevel    string
	LogFormat   string // "text" or "json"
	DatabaseURL string // PostgreSQL DSN; empty selects SQLite in DataDir
	APIToken    string // bearer token for the HTTP API; empty disables auth
	APIRate     float64

	DialplanFile  string // JSON dialplan; empty uses the built-in one
	PromptDir     string
	RecordingDir  string
	WelcomePrompt string
	RecordMaxSecs int
	RecordMaxDays int // retention for recordings, 0 keeps them forever

	// Recordings end after RecordSilenceSecs below RecordSilenceLevel;
	// 0 in either disables silence detection.
	RecordSilenceLevel int
	RecordSilenceSecs  int

	CodecNegotiation string // greedy, generous or evil
	InbandDTMF       bool
	SIPTrace         string // off, headers or full
	SIPAuthUser      string
	SIPAuthPassword  string
	InviteRate       float64 // INVITEs per second per source IP, 0 disables
}

const (
	defaultDataDir          = "./data"
	defaultHTTPPort         = 8080
	defaultSIPPort          = 5060
	defaultRTPPortMin       = 16384
	defaultRTPPortMax       = 16484
	defaultLogLevel         = "info"
	defaultLogFormat        = "text"
	defaultPromptDir        = "./sounds"
	defaultRecordMaxSecs    = 240
	defaultSilenceLevel     = 500
	defaultSilenceSecs      = 3
	defaultCodecNegotiation = "greedy"
	defaultSIPTrace         = "off"
	defaultInviteRate       = 5
	defaultAPIRate          = 20
)

// envPrefix is the prefix for all netdevpbx environment variables.
const envPrefix = "NETDEVPBX_"

// Load parses configuration from args (without the program name) and the
// environment.
func Load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("netdevpbx", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the database and recordings")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP API listen port")
	fs.IntVar(&cfg.SIPPort, "sip-port", defaultSIPPort, "SIP UDP/TCP listen port")
	fs.IntVar(&cfg.RTPPortMin, "rtp-port-min", defaultRTPPortMin, "lowest UDP port for RTP")
	fs.IntVar(&cfg.RTPPortMax, "rtp-port-max", defaultRTPPortMax, "highest UDP port for RTP")
	fs.StringVar(&cfg.ExternalIP, "external-ip", "", "IP address advertised in SDP (auto-detected if empty)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "PostgreSQL connection string (SQLite in data-dir if empty)")
	fs.StringVar(&cfg.APIToken, "api-token", "", "bearer token required by the HTTP API (no auth if empty)")
	fs.Float64Var(&cfg.APIRate, "api-rate", defaultAPIRate, "HTTP API requests per second allowed per client IP (0 disables)")
	fs.StringVar(&cfg.DialplanFile, "dialplan-file", "", "JSON dialplan file (built-in dialplan if empty)")
	fs.StringVar(&cfg.PromptDir, "prompt-dir", defaultPromptDir, "directory of G.711 WAV prompts")
	fs.StringVar(&cfg.RecordingDir, "recording-dir", "", "directory for call recordings (data-dir/recordings if empty)")
	fs.StringVar(&cfg.WelcomePrompt, "welcome-prompt", "", "prompt played by net_dev_record after answering")
	fs.IntVar(&cfg.RecordMaxSecs, "record-max-secs", defaultRecordMaxSecs, "maximum recording length in seconds")
	fs.IntVar(&cfg.RecordMaxDays, "record-max-days", 0, "delete recordings older than this many days (0 keeps them)")
	fs.IntVar(&cfg.RecordSilenceLevel, "record-silence-level", defaultSilenceLevel, "mean sample level below which recorded audio counts as silence (0 disables)")
	fs.IntVar(&cfg.RecordSilenceSecs, "record-silence-secs", defaultSilenceSecs, "seconds of silence that end a recording (0 disables)")
	fs.StringVar(&cfg.CodecNegotiation, "codec-negotiation", defaultCodecNegotiation, "codec negotiation policy (greedy, generous, evil)")
	fs.BoolVar(&cfg.InbandDTMF, "inband-dtmf", false, "detect DTMF tones in received audio")
	fs.StringVar(&cfg.SIPTrace, "sip-trace", defaultSIPTrace, "SIP message tracing (off, headers, full)")
	fs.StringVar(&cfg.SIPAuthUser, "sip-auth-user", "", "username required to place calls (auth disabled if empty)")
	fs.StringVar(&cfg.SIPAuthPassword, "sip-auth-password", "", "password for sip-auth-user")
	fs.Float64Var(&cfg.InviteRate, "invite-rate", defaultInviteRate, "INVITEs per second allowed per source IP (0 disables)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	if err := applyEnvOverrides(fs); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides sets every flag that was not given on the command line
// from its environment variable, e.g. sip-port from NETDEVPBX_SIP_PORT.
func applyEnvOverrides(fs *flag.FlagSet) error {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	var errs []error
	fs.VisitAll(func(f *flag.Flag) {
		if set[f.Name] {
			return
		}
		env := EnvName(f.Name)
		val, ok := os.LookupEnv(env)
		if !ok || val == "" {
			return
		}
		if err := fs.Set(f.Name, val); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", env, err))
		}
	})
	return errors.Join(errs...)
}

// EnvName returns the environment variable that overrides a flag.
func EnvName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.SIPPort < 1 || c.SIPPort > 65535 {
		return fmt.Errorf("sip-port must be between 1 and 65535, got %d", c.SIPPort)
	}
	if c.RTPPortMin < 1024 || c.RTPPortMin > 65534 {
		return fmt.Errorf("rtp-port-min must be between 1024 and 65534, got %d", c.RTPPortMin)
	}
	if c.RTPPortMax < c.RTPPortMin+2 || c.RTPPortMax > 65535 {
		return fmt.Errorf("rtp-port-max must be between rtp-port-min+2 and 65535, got %d", c.RTPPortMax)
	}
	// RTP takes the even port, RTCP the next odd one.
	if c.RTPPortMin%2 != 0 {
		return fmt.Errorf("rtp-port-min must be even, got %d", c.RTPPortMin)
	}

	switch c.LogLevel = strings.ToLower(c.LogLevel); c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	switch c.LogFormat = strings.ToLower(c.LogFormat); c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	switch c.SIPTrace = strings.ToLower(c.SIPTrace); c.SIPTrace {
	case "off", "headers", "full":
	default:
		return fmt.Errorf("sip-trace must be one of off, headers, full; got %q", c.SIPTrace)
	}

	policy, err := media.ParsePolicy(c.CodecNegotiation)
	if err != nil {
		return err
	}
	c.CodecNegotiation = string(policy)

	if c.RecordMaxSecs < 1 {
		return fmt.Errorf("record-max-secs must be positive, got %d", c.RecordMaxSecs)
	}
	if c.RecordSilenceLevel < 0 {
		return fmt.Errorf("record-silence-level must not be negative, got %d", c.RecordSilenceLevel)
	}
	if c.RecordSilenceSecs < 0 {
		return fmt.Errorf("record-silence-secs must not be negative, got %d", c.RecordSilenceSecs)
	}
	if c.RecordMaxDays < 0 {
		return fmt.Errorf("record-max-days must not be negative, got %d", c.RecordMaxDays)
	}
	if c.InviteRate < 0 {
		return fmt.Errorf("invite-rate must not be negative, got %g", c.InviteRate)
	}
	if c.APIRate < 0 {
		return fmt.Errorf("api-rate must not be negative, got %g", c.APIRate)
	}
	if c.SIPAuthUser != "" && c.SIPAuthPassword == "" {
		return errors.New("sip-auth-password is required when sip-auth-user is set")
	}
	if c.ExternalIP != "" && net.ParseIP(c.ExternalIP) == nil {
		return fmt.Errorf("external-ip must be an IP address, got %q", c.ExternalIP)
	}

	return nil
}

// RecordingPath returns the directory recordings are written to.
func (c *Config) RecordingPath() string {
	if c.RecordingDir != "" {
		return c.RecordingDir
	}
	return filepath.Join(c.DataDir, "recordings")
}

// RecordMax returns the recording length limit.
func (c *Config) RecordMax() time.Duration {
	return time.Duration(c.RecordMaxSecs) * time.Second
}

// RecordSilence returns how much silence ends a recording, 0 when disabled.
func (c *Config) RecordSilence() time.Duration {
	return time.Duration(c.RecordSilenceSecs) * time.Second
}

// RecordRetention returns how long recordings are kept, or 0 to keep them.
func (c *Config) RecordRetention() time.Duration {
	return time.Duration(c.RecordMaxDays) * 24 * time.Hour
}

// Negotiation returns the validated codec negotiation policy.
func (c *Config) Negotiation() media.NegotiationPolicy {
	return media.NegotiationPolicy(c.CodecNegotiation)
}

// AuthEnabled reports whether INVITEs must carry digest credentials.
func (c *Config) AuthEnabled() bool {
	return c.SIPAuthUser != ""
}

// SIPHost returns the hostname used in the SIP User-Agent.
func (c *Config) SIPHost() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return hostname
}

// MediaIP returns the IP address advertised in SDP answers. Without
// external-ip it picks the first non-loopback IPv4 address, falling back
// to 127.0.0.1.
func (c *Config) MediaIP() string {
	if c.ExternalIP != "" {
		return c.ExternalIP
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
	}
	return "127.0.0.1"
}

// SlogHandler returns a slog.Handler with the configured format and level.
func (c *Config) SlogHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level for the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
