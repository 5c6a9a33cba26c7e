package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the relay listens on.
	DefaultAddr = ":3001"
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 64 << 10
	// DefaultMaxClients bounds concurrent WebSocket connections. Zero disables the limit.
	DefaultMaxClients = 64

	// DefaultTickHz is the number of simulation steps per second for every session.
	DefaultTickHz = 60.0
	// DefaultControllerMinInterval is the minimum spacing accepted between controller frames.
	DefaultControllerMinInterval = 5 * time.Millisecond
	// DefaultEnergyPolicy ends the game once energy is exhausted.
	DefaultEnergyPolicy = EnergyPolicyGameOver

	// DefaultReplayDumpWindow bounds how frequently replay dump triggers may be requested.
	DefaultReplayDumpWindow = time.Minute
	// DefaultReplayDumpBurst sets how many replay dump requests may be made per window.
	DefaultReplayDumpBurst = 1
	// DefaultReplayMaxFlights caps how many recorded flights stay on disk.
	DefaultReplayMaxFlights = 50
	// DefaultReplayMaxAge drops recordings older than a week.
	DefaultReplayMaxAge = 7 * 24 * time.Hour

	// DefaultLogLevel controls verbosity for broker logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "drone-broker.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// EnergyPolicy decides what an empty energy bar means for a session.
type EnergyPolicy string

const (
	// EnergyPolicyGameOver flips the session to gameover when energy reaches zero.
	EnergyPolicyGameOver EnergyPolicy = "gameover"
	// EnergyPolicyCosmetic keeps energy as a display-only value.
	EnergyPolicyCosmetic EnergyPolicy = "cosmetic"
)

// GRPCAuthMode selects how telemetry clients authenticate.
type GRPCAuthMode string

const (
	// GRPCAuthModeNone accepts every telemetry client.
	GRPCAuthModeNone GRPCAuthMode = "none"
	// GRPCAuthModeSharedSecret requires the shared secret in request metadata.
	GRPCAuthModeSharedSecret GRPCAuthMode = "shared_secret"
	// GRPCAuthModeMTLS requires client certificates signed by the configured CA.
	GRPCAuthModeMTLS GRPCAuthMode = "mtls"
)

// ErrInvalidEnergyPolicy reports an unsupported DRONE_ENERGY_POLICY value.
var ErrInvalidEnergyPolicy = errors.New("invalid energy policy")

// ParseEnergyPolicy normalises a raw policy name.
func ParseEnergyPolicy(raw string) (EnergyPolicy, error) {
	switch EnergyPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", EnergyPolicyGameOver:
		return EnergyPolicyGameOver, nil
	case EnergyPolicyCosmetic:
		return EnergyPolicyCosmetic, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEnergyPolicy, raw)
	}
}

// Config captures all runtime tunables for the drone broker.
type Config struct {
	Address               string
	AllowedOrigins        []string
	MaxPayloadBytes       int64
	PingInterval          time.Duration
	MaxClients            int
	TLSCertPath           string
	TLSKeyPath            string
	AdminToken            string
	PairingSecret         string
	TickHz                float64
	ControllerMinInterval time.Duration
	EnergyPolicy          EnergyPolicy
	GRPCAddress           string
	GRPCSharedSecret      string
	GRPCAuthMode          GRPCAuthMode
	GRPCServerCertPath    string
	GRPCServerKeyPath     string
	GRPCClientCAPath      string
	ReplayDirectory       string
	ReplayDumpWindow      time.Duration
	ReplayDumpBurst       int
	ReplayMaxFlights      int
	ReplayMaxAge          time.Duration
	// ForestDensity is the frequency of the forest clearing mask. Zero plants the stock forest.
	ForestDensity float64
	Logging       LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the broker configuration from environment variables, applying sane defaults
// and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:               getString("DRONE_ADDR", DefaultAddr),
		AllowedOrigins:        parseList(os.Getenv("DRONE_ALLOWED_ORIGINS")),
		MaxPayloadBytes:       DefaultMaxPayloadBytes,
		PingInterval:          DefaultPingInterval,
		MaxClients:            DefaultMaxClients,
		TLSCertPath:           strings.TrimSpace(os.Getenv("DRONE_TLS_CERT")),
		TLSKeyPath:            strings.TrimSpace(os.Getenv("DRONE_TLS_KEY")),
		AdminToken:            strings.TrimSpace(os.Getenv("DRONE_ADMIN_TOKEN")),
		PairingSecret:         strings.TrimSpace(os.Getenv("DRONE_PAIRING_SECRET")),
		TickHz:                DefaultTickHz,
		ControllerMinInterval: DefaultControllerMinInterval,
		EnergyPolicy:          DefaultEnergyPolicy,
		GRPCAddress:           strings.TrimSpace(os.Getenv("DRONE_GRPC_ADDR")),
		GRPCSharedSecret:      strings.TrimSpace(os.Getenv("DRONE_GRPC_SHARED_SECRET")),
		GRPCServerCertPath:    strings.TrimSpace(os.Getenv("DRONE_GRPC_TLS_CERT")),
		GRPCServerKeyPath:     strings.TrimSpace(os.Getenv("DRONE_GRPC_TLS_KEY")),
		GRPCClientCAPath:      strings.TrimSpace(os.Getenv("DRONE_GRPC_CLIENT_CA")),
		ReplayDirectory:       strings.TrimSpace(os.Getenv("DRONE_REPLAY_DIR")),
		ReplayDumpWindow:      DefaultReplayDumpWindow,
		ReplayDumpBurst:       DefaultReplayDumpBurst,
		ReplayMaxFlights:      DefaultReplayMaxFlights,
		ReplayMaxAge:          DefaultReplayMaxAge,
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("DRONE_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("DRONE_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("DRONE_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("DRONE_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DRONE_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("DRONE_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DRONE_MAX_CLIENTS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("DRONE_MAX_CLIENTS must be a non-negative integer, got %q", raw))
		} else {
			cfg.MaxClients = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DRONE_TICK_HZ")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value <= 0 || value > 1000 {
			problems = append(problems, fmt.Sprintf("DRONE_TICK_HZ must be a number in (0, 1000], got %q", raw))
		} else {
			cfg.TickHz = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DRONE_CONTROLLER_MIN_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration < 0 {
			problems = append(problems, fmt.Sprintf("DRONE_CONTROLLER_MIN_INTERVAL must be a non-negative duration, got %q", raw))
		} else {
			cfg.ControllerMinInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DRONE_ENERGY_POLICY")); raw != "" {
		policy, err := ParseEnergyPolicy(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("DRONE_ENERGY_POLICY must be %q or %q, got %q", EnergyPolicyGameOver, EnergyPolicyCosmetic, raw))
		} else {
			cfg.EnergyPolicy = policy
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DRONE_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("DRONE_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DRONE_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("DRONE_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DRONE_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("DRONE_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DRONE_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("DRONE_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DRONE_REPLAY_DUMP_WINDOW")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("DRONE_REPLAY_DUMP_WINDOW must be a positive duration, got %q", raw))
		} else {
			cfg.ReplayDumpWindow = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DRONE_REPLAY_DUMP_BURST")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("DRONE_REPLAY_DUMP_BURST must be a positive integer, got %q", raw))
		} else {
			cfg.ReplayDumpBurst = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DRONE_REPLAY_MAX_FLIGHTS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("DRONE_REPLAY_MAX_FLIGHTS must be a non-negative integer, got %q", raw))
		} else {
			cfg.ReplayMaxFlights = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DRONE_REPLAY_MAX_AGE")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration < 0 {
			problems = append(problems, fmt.Sprintf("DRONE_REPLAY_MAX_AGE must be a non-negative duration, got %q", raw))
		} else {
			cfg.ReplayMaxAge = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DRONE_FOREST_DENSITY")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
			problems = append(problems, fmt.Sprintf("DRONE_FOREST_DENSITY must be a non-negative number, got %q", raw))
		} else {
			cfg.ForestDensity = value
		}
	}

	//1.- The auth mode defaults to the shared secret whenever one is configured.
	switch mode := GRPCAuthMode(strings.ToLower(strings.TrimSpace(os.Getenv("DRONE_GRPC_AUTH_MODE")))); mode {
	case "":
		cfg.GRPCAuthMode = GRPCAuthModeNone
		if cfg.GRPCSharedSecret != "" {
			cfg.GRPCAuthMode = GRPCAuthModeSharedSecret
		}
	case GRPCAuthModeNone:
		cfg.GRPCAuthMode = mode
	case GRPCAuthModeSharedSecret:
		cfg.GRPCAuthMode = mode
		if cfg.GRPCSharedSecret == "" {
			problems = append(problems, "DRONE_GRPC_SHARED_SECRET is required when DRONE_GRPC_AUTH_MODE is shared_secret")
		}
	case GRPCAuthModeMTLS:
		cfg.GRPCAuthMode = mode
		if cfg.GRPCServerCertPath == "" || cfg.GRPCServerKeyPath == "" || cfg.GRPCClientCAPath == "" {
			problems = append(problems, "DRONE_GRPC_TLS_CERT, DRONE_GRPC_TLS_KEY and DRONE_GRPC_CLIENT_CA are required when DRONE_GRPC_AUTH_MODE is mtls")
		}
	default:
		problems = append(problems, fmt.Sprintf("DRONE_GRPC_AUTH_MODE must be none, shared_secret or mtls, got %q", mode))
	}

	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		problems = append(problems, "DRONE_TLS_CERT and DRONE_TLS_KEY must be provided together")
	}

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
