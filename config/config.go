package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Model    ModelConfig    `mapstructure:"model"`
	Session  SessionConfig  `mapstructure:"session"`
	Sentry   SentryConfig   `mapstructure:"sentry"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

// PipelineConfig 抠图流程的固定参数，不对终端用户开放
type PipelineConfig struct {
	MaxDimension  int           `mapstructure:"max_dimension"`
	MaskThreshold float64       `mapstructure:"mask_threshold"`
	RemoteTimeout time.Duration `mapstructure:"remote_timeout"`
	ExportSuffix  string        `mapstructure:"export_suffix"`
}

type RemoteConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	Size     string `mapstructure:"size"`
}

type ModelConfig struct {
	Backend      string        `mapstructure:"backend"` // grabcut 或 dnn
	Path         string        `mapstructure:"path"`
	InputSize    int           `mapstructure:"input_size"`
	QueueTimeout time.Duration `mapstructure:"queue_timeout"`
	LoadTimeout  time.Duration `mapstructure:"load_timeout"`
	Iterations   int           `mapstructure:"iterations"`
	BorderSize   int           `mapstructure:"border_size"`
	KeepLargest  bool          `mapstructure:"keep_largest"`
	FaceCascade  string        `mapstructure:"face_cascade"` // Haar 级联 xml，可选
}

type SessionConfig struct {
	TTL       time.Duration `mapstructure:"ttl"`
	SweepSpec string        `mapstructure:"sweep_spec"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

const (
	BackendGrabCut = "grabcut"
	BackendDNN     = "dnn"
)

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("BGKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// 文件不存在时只使用默认值和环境变量
	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath 未设置 BGKIT_CONFIG 时读取的配置文件
const DefaultPath = "config.yaml"

// New 加载 BGKIT_CONFIG 指定的配置文件
func New() (*Config, error) {
	path := os.Getenv("BGKIT_CONFIG")
	if path == "" {
		path = DefaultPath
	}
	return Load(path)
}

// Validate 检查流程依赖的取值范围
func (c *Config) Validate() error {
	if c.Upload.MaxSize <= 0 {
		return fmt.Errorf("upload.max_size must be positive")
	}
	if len(c.Upload.AllowedTypes) == 0 {
		return fmt.Errorf("upload.allowed_types cannot be empty")
	}
	if c.Pipeline.MaxDimension <= 0 {
		return fmt.Errorf("pipeline.max_dimension must be positive")
	}
	if c.Pipeline.MaskThreshold <= 0 || c.Pipeline.MaskThreshold > 1 {
		return fmt.Errorf("pipeline.mask_threshold must be in (0, 1]")
	}
	if c.Pipeline.RemoteTimeout <= 0 {
		return fmt.Errorf("pipeline.remote_timeout must be positive")
	}
	switch c.Model.Backend {
	case BackendGrabCut:
	case BackendDNN:
		if c.Model.Path == "" {
			return fmt.Errorf("model.path is required for the dnn backend")
		}
	default:
		return fmt.Errorf("unknown model.backend %q", c.Model.Backend)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("upload.max_size", 10*1024*1024)
	v.SetDefault("upload.allowed_types", []string{"image/jpeg", "image/png", "image/webp", "image/gif"})

	v.SetDefault("pipeline.max_dimension", 800)
	v.SetDefault("pipeline.mask_threshold", 0.5)
	v.SetDefault("pipeline.remote_timeout", 30*time.Second)
	v.SetDefault("pipeline.export_suffix", "-nobg")

	v.SetDefault("remote.enabled", true)
	v.SetDefault("remote.endpoint", "https://api.remove.bg/v1.0/removebg")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.size", "auto")

	v.SetDefault("model.backend", BackendGrabCut)
	v.SetDefault("model.path", "")
	v.SetDefault("model.input_size", 320)
	v.SetDefault("model.queue_timeout", 30*time.Second)
	v.SetDefault("model.load_timeout", 2*time.Minute)
	v.SetDefault("model.iterations", 5)
	v.SetDefault("model.border_size", 10)
	v.SetDefault("model.keep_largest", false)
	v.SetDefault("model.face_cascade", "")

	v.SetDefault("session.ttl", 30*time.Minute)
	v.SetDefault("session.sweep_spec", "@every 1m")

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "development")
}
