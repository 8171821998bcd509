package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	// Folder receives one <peerId>.log file per peer.
	Folder string `yaml:"folder"`
	// MaxOpenFiles bounds the peer log files held open at once.
	MaxOpenFiles int    `yaml:"max_open_files"`
	KeyFile      string `yaml:"key_file"`
	Listen       string `yaml:"listen"`
	QueryListen  string `yaml:"query_listen"`
}

type ElasticsearchConfig struct {
	// Addresses enables the Elasticsearch mirror when non-empty.
	Addresses     []string      `yaml:"addresses"`
	QueueSize     int           `yaml:"queue_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type OtlpConfig struct {
	// Endpoint enables the OTLP log forwarder when non-empty.
	Endpoint      string        `yaml:"endpoint"`
	ServiceName   string        `yaml:"service_name"`
	QueueSize     int           `yaml:"queue_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type RenderConfig struct {
	Enabled   bool     `yaml:"enabled"`
	OutputDir string   `yaml:"output_dir"`
	Command   string   `yaml:"command"`
	ExtraArgs []string `yaml:"extra_args"`
}

type CacheConfig struct {
	MaxEntries int64 `yaml:"max_entries"`
	Window     int   `yaml:"window"`
}

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Otlp          OtlpConfig          `yaml:"otlp"`
	Render        RenderConfig        `yaml:"render"`
	Cache         CacheConfig         `yaml:"cache"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Folder:       "logs",
			MaxOpenFiles: 256,
			KeyFile:      "tracer-server-key.json",
			Listen:       ":8080",
			QueryListen:  ":8081",
		},
		Elasticsearch: ElasticsearchConfig{
			QueueSize:     100,
			FlushInterval: 5 * time.Second,
		},
		Otlp: OtlpConfig{
			ServiceName:   "swarmtrace",
			QueueSize:     100,
			FlushInterval: 5 * time.Second,
		},
		Render: RenderConfig{
			OutputDir: "frames",
			Command:   "mmdc",
		},
		Cache: CacheConfig{
			MaxEntries: 100_000,
			Window:     200,
		},
	}
}

// Load reads a YAML config over the defaults. An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Folder == "" {
		return fmt.Errorf("%w: server.folder", ErrMissingValue)
	}
	if c.Server.MaxOpenFiles <= 0 {
		return fmt.Errorf("%w: server.max_open_files", ErrMissingValue)
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("%w: server.listen", ErrMissingValue)
	}
	if len(c.Elasticsearch.Addresses) > 0 && c.Elasticsearch.QueueSize <= 0 {
		return fmt.Errorf("%w: elasticsearch.queue_size", ErrMissingValue)
	}
	if c.Otlp.Endpoint != "" && c.Otlp.QueueSize <= 0 {
		return fmt.Errorf("%w: otlp.queue_size", ErrMissingValue)
	}
	if c.Render.Enabled && c.Render.Command == "" {
		return fmt.Errorf("%w: render.command", ErrMissingValue)
	}
	return nil
}

var ErrMissingValue = errors.New("missing required config value")
