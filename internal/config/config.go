package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/subhroacharjee/replaycast/internal/logger"
	"github.com/subhroacharjee/replaycast/internal/p2p"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "REPLAYCAST_"

const handShakeTimeout = 5 * time.Second

type (
	SourceType    string
	CodecType     string
	HandShakeAlgo string
)

const (
	// SourceType
	TCP      SourceType = "tcp"
	NATS     SourceType = "nats"
	REDIS    SourceType = "redis"
	POSTGRES SourceType = "postgres"

	// CodecType
	LINE_CODEC    CodecType = "line"
	MSGPACK_CODEC CodecType = "msgpack"

	// HandShakeAlgo
	DEFAULT_HANDSHAKE HandShakeAlgo = "default"
	ID_HANDSHAKE      HandShakeAlgo = "id"
)

var (
	ErrInvalidCapacity    = errors.New("config: replay capacity must be -1 (unbounded) or >= 0")
	ErrUnknownSource      = errors.New("config: unknown source type")
	ErrInvalidCodec       = errors.New("config: unknown codec")
	ErrInvalidHandShake   = errors.New("config: unknown handshake algorithm")
	ErrMissingSetting     = errors.New("config: missing required setting")
	ErrUnsupportedFormat  = errors.New("config: unsupported config file format")
	ErrInvalidLogSettings = errors.New("config: invalid log settings")
)

type Config struct {
	Name             string     `json:"name" yaml:"name" env:"NAME"`
	ReplayCapacity   int        `json:"replayCapacity" yaml:"replayCapacity" env:"CAPACITY"`
	DisconnectOnIdle bool       `json:"disconnectOnIdle" yaml:"disconnectOnIdle" env:"DISCONNECT_ON_IDLE"`
	Source           SourceType `json:"source" yaml:"source" env:"SOURCE"`

	// tcp
	PeerID        string        `json:"peerId" yaml:"peerId" env:"PEER_ID"`
	ListenAddr    string        `json:"listenAddr" yaml:"listenAddr" env:"LISTEN_ADDR"`
	Codec         CodecType     `json:"codec" yaml:"codec" env:"CODEC"`
	HandShakeAlgo HandShakeAlgo `json:"handshakeAlgo" yaml:"handshakeAlgo" env:"HANDSHAKE"`
	PeerAddrs     []string      `json:"peerAddrs" yaml:"peerAddrs" env:"PEER_ADDRS" envSeparator:","`

	// nats
	NATSURL     string `json:"natsUrl" yaml:"natsUrl" env:"NATS_URL"`
	NATSSubject string `json:"natsSubject" yaml:"natsSubject" env:"NATS_SUBJECT"`
	NATSQueue   string `json:"natsQueue" yaml:"natsQueue" env:"NATS_QUEUE"`

	// redis
	RedisURL      string   `json:"redisUrl" yaml:"redisUrl" env:"REDIS_URL"`
	RedisChannels []string `json:"redisChannels" yaml:"redisChannels" env:"REDIS_CHANNELS" envSeparator:","`

	// postgres
	PostgresDSN     string `json:"postgresDsn" yaml:"postgresDsn" env:"POSTGRES_DSN"`
	PostgresChannel string `json:"postgresChannel" yaml:"postgresChannel" env:"POSTGRES_CHANNEL"`

	MetricsAddr   string `json:"metricsAddr" yaml:"metricsAddr" env:"METRICS_ADDR"`
	MetricsPrefix string `json:"metricsPrefix" yaml:"metricsPrefix" env:"METRICS_PREFIX"`

	LogLevel  string        `json:"logLevel" yaml:"logLevel" env:"LOG_LEVEL"`
	LogFormat logger.Format `json:"logFormat" yaml:"logFormat" env:"LOG_FORMAT"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Name:           "replaycast",
		ReplayCapacity: 128,
		Source:         TCP,

		PeerID:        uuid.NewString(),
		ListenAddr:    ":4000",
		Codec:         LINE_CODEC,
		HandShakeAlgo: DEFAULT_HANDSHAKE,
		PeerAddrs:     make([]string, 0),

		MetricsAddr:   ":9090",
		MetricsPrefix: "replaycast",

		LogLevel:  "info",
		LogFormat: logger.TEXT,
	}
}

// Load builds a config from the defaults, an optional .env file and the
// REPLAYCAST_* environment. A missing envFile is not an error.
func Load(envFile string) (*Config, error) {
	if err := LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg := GetDefaultConfig()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig reads a JSON or YAML file on top of the defaults, chosen by
// extension. Environment variables override file values.
func ParseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := GetDefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv exports the variables in a dotenv file without overriding ones
// already set. A missing file is ignored.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// Validate checks the settings the selected source needs.
func (c *Config) Validate() error {
	var errs []error
	if c.ReplayCapacity < -1 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidCapacity, c.ReplayCapacity))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("%w: level %q", ErrInvalidLogSettings, c.LogLevel))
	}
	if c.LogFormat != logger.TEXT && c.LogFormat != logger.JSON {
		errs = append(errs, fmt.Errorf("%w: format %q", ErrInvalidLogSettings, c.LogFormat))
	}

	require := func(value, name string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%w: %s%s", ErrMissingSetting, EnvPrefix, name))
		}
	}
	switch c.Source {
	case TCP:
		require(c.ListenAddr, "LISTEN_ADDR")
		require(c.PeerID, "PEER_ID")
		if _, err := c.codec(); err != nil {
			errs = append(errs, err)
		}
		if _, err := c.handshake(); err != nil {
			errs = append(errs, err)
		}
	case NATS:
		require(c.NATSURL, "NATS_URL")
		require(c.NATSSubject, "NATS_SUBJECT")
	case REDIS:
		require(c.RedisURL, "REDIS_URL")
		if len(c.RedisChannels) == 0 {
			require("", "REDIS_CHANNELS")
		}
	case POSTGRES:
		require(c.PostgresDSN, "POSTGRES_DSN")
		require(c.PostgresChannel, "POSTGRES_CHANNEL")
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownSource, c.Source))
	}
	return errors.Join(errs...)
}

// LoggerOptions maps the log settings onto logger.Options.
func (c *Config) LoggerOptions() logger.Options {
	return logger.Options{Level: c.LogLevel, Format: c.LogFormat}
}

func (c *Config) GetTransportOpts(log *slog.Logger) (*p2p.TCPTransportOpts, error) {
	codec, err := c.codec()
	if err != nil {
		return nil, err
	}
	hs, err := c.handshake()
	if err != nil {
		return nil, err
	}
	return &p2p.TCPTransportOpts{
		PeerID:        c.PeerID,
		ListenerAddr:  c.ListenAddr,
		Codec:         codec,
		HandShakeFunc: hs,
		Logger:        log,
	}, nil
}

func (c *Config) codec() (p2p.Codec, error) {
	switch c.Codec {
	case LINE_CODEC, "":
		return p2p.LineCodec{}, nil
	case MSGPACK_CODEC:
		return p2p.MsgpCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidCodec, c.Codec)
	}
}

func (c *Config) handshake() (p2p.HandShakeFunc, error) {
	switch c.HandShakeAlgo {
	case DEFAULT_HANDSHAKE, "":
		return p2p.DefaultHandShake, nil
	case ID_HANDSHAKE:
		return p2p.IDHandShake(c.PeerID, handShakeTimeout), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidHandShake, c.HandShakeAlgo)
	}
}
